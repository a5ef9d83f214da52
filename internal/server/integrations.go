package server

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/salestack/dealsense/internal/runtime"
)

// IntegrationsHandler holds placeholder endpoints for CRM and Slack
// connectors. The real connectors live outside this service; these routes
// keep the API surface stable for clients that already call them.
type IntegrationsHandler struct{}

func (h *IntegrationsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/crm/sync", h.crmSync)
	g.POST("/slack/alert", h.slackAlert)
}

func (h *IntegrationsHandler) crmSync(c echo.Context) error {
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "sync_initiated",
		"message": "CRM sync started in background. This is a placeholder endpoint.",
	})
}

func (h *IntegrationsHandler) slackAlert(c echo.Context) error {
	var req SlackAlertRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.DealID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "deal_id required")
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":  "alert_sent",
		"deal_id": req.DealID,
		"message": "This is a placeholder. Wire a Slack connector to deliver alerts.",
	})
}
