package server

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/runtime"
)

// MemoryHandler exposes semantic memory queries and store statistics.
type MemoryHandler struct {
	Memory        *memory.Memory
	MinConfidence float64
}

func (h *MemoryHandler) Register(api *echo.Group, secret []byte) {
	g := api.Group("")
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.GET("/patterns", h.patterns)
	g.GET("/patterns/:key", h.pattern)
	g.GET("/memory/stats", h.stats)
}

func (h *MemoryHandler) patterns(c echo.Context) error {
	minConfidence := h.MinConfidence
	if raw := c.QueryParam("min_confidence"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f < 0 || f > 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid min_confidence")
		}
		minConfidence = f
	}

	ctx := c.Request().Context()
	contextFilter := c.QueryParam("context")
	var (
		patterns interface{}
		count    int
	)
	if contextFilter != "" {
		found, err := h.Memory.BestStrategiesFor(ctx, contextFilter, minConfidence, 0, 50)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		patterns, count = found, len(found)
	} else {
		found, err := h.Memory.Patterns(ctx, minConfidence, "success_rate", 50)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		patterns, count = found, len(found)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"patterns":       patterns,
		"count":          count,
		"context_filter": contextFilter,
	})
}

func (h *MemoryHandler) pattern(c echo.Context) error {
	p, ok, err := h.Memory.Pattern(c.Request().Context(), c.Param("key"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "pattern not found")
	}
	return c.JSON(http.StatusOK, p)
}

func (h *MemoryHandler) stats(c echo.Context) error {
	stats, err := h.Memory.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, stats)
}
