package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/salestack/dealsense/internal/analyst"
	"github.com/salestack/dealsense/internal/memory"
	"github.com/salestack/dealsense/internal/runtime"
	"github.com/salestack/dealsense/internal/store"
	"github.com/salestack/dealsense/models"
)

// Analyzer runs one full analysis cycle for a deal snapshot.
type Analyzer interface {
	AnalyzeDeal(ctx context.Context, snapshot models.DealSnapshot) (*analyst.AnalysisResult, error)
}

// DealsHandler exposes analysis and recall endpoints.
type DealsHandler struct {
	Loop         Analyzer
	Memory       *memory.Memory
	Store        *store.Store
	HistoryLimit int
	SimilarLimit int
	DefaultCron  string
}

func (h *DealsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("/analyze", h.analyze)
	g.GET("/:id/history", h.history)
	g.GET("/:id/similar", h.similar)
	g.POST("/:id/watch", h.watch)
	g.DELETE("/:id/watch", h.unwatch)
}

func (h *DealsHandler) analyze(c echo.Context) error {
	var req DealAnalysisRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	snapshot := req.toSnapshot()
	if snapshot.LastUpdatedAt.IsZero() {
		snapshot.LastUpdatedAt = time.Now()
	}
	if err := snapshot.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.Loop.AnalyzeDeal(c.Request().Context(), snapshot)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed: "+err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

func (h *DealsHandler) history(c echo.Context) error {
	dealID := c.Param("id")
	limit := h.HistoryLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}

	history, err := h.Memory.RecallDealHistory(c.Request().Context(), dealID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, DealHistoryResponse{DealID: dealID, Interactions: history, Count: len(history)})
}

func (h *DealsHandler) similar(c echo.Context) error {
	query := c.QueryParam("context")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "context query parameter required")
	}
	k := h.SimilarLimit
	if raw := c.QueryParam("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid k")
		}
		k = n
	}

	similar, err := h.Memory.RecallSimilarExperiences(c.Request().Context(), query, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, SimilarDealsResponse{QueryContext: query, SimilarExperiences: similar, Count: len(similar)})
}

func (h *DealsHandler) watch(c echo.Context) error {
	var req WatchDealRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Snapshot.ID = c.Param("id")
	if err := req.Snapshot.Validate(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cron := req.Cron
	if cron == "" {
		cron = h.DefaultCron
	}
	raw, err := json.Marshal(req.Snapshot)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.Store.UpsertWatch(c.Request().Context(), req.Snapshot.ID, raw, cron); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusCreated)
}

func (h *DealsHandler) unwatch(c echo.Context) error {
	if err := h.Store.DeleteWatch(c.Request().Context(), c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusOK)
}

func (h *DealsHandler) watchlist(c echo.Context) error {
	watches, err := h.Store.ListWatches(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]WatchlistEntryResponse, 0, len(watches))
	for _, w := range watches {
		entry := WatchlistEntryResponse{DealID: w.DealID, Cron: w.CronExpr, CreatedAt: w.CreatedAt, LastAnalyzedAt: w.LastAnalyzedAt}
		if err := json.Unmarshal(w.Snapshot, &entry.Snapshot); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		out = append(out, entry)
	}
	return c.JSON(http.StatusOK, WatchlistResponse{Watches: out, Count: len(out)})
}
