package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"RegScanner/internal/domain"
	"RegScanner/internal/rollup"
	"RegScanner/internal/usecase"
)

const (
	defaultRecentDays     = 7
	maxRecentDays         = 365
	defaultChangelogHours = 24
	maxListLimit          = 500
)

type handler struct {
	store    ItemReader
	pipeline Runner
	logger   *slog.Logger
	runCtx   context.Context
}

func (h *handler) GetHealth(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) GetStatus(c *gin.Context) {
	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("error fetching stats", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	res := StatusResponse{State: h.pipeline.State(), Stats: stats}
	if last, ok := h.pipeline.LastRun(); ok {
		res.LastRun = toRunResponse(last)
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) ListItems(c *gin.Context) {
	filter := domain.ItemFilter{Limit: getQueryInt(c, "limit", 0)}
	if filter.Limit < 0 || filter.Limit > maxListLimit {
		filter.Limit = maxListLimit
	}

	for _, v := range queryList(c, "source") {
		filter.Sources = append(filter.Sources, domain.Source(v))
	}
	for _, v := range queryList(c, "impact") {
		tier, ok := domain.ParseTier(v)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid impact " + strconv.Quote(v)})
			return
		}
		filter.Tiers = append(filter.Tiers, tier)
	}
	for _, v := range queryList(c, "area") {
		filter.Areas = append(filter.Areas, domain.NormalizeBusinessArea(v))
	}

	items, err := h.store.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("error listing items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, toItemList(items))
}

func (h *handler) GetHighImpact(c *gin.Context) {
	items, err := h.store.SelectHighImpact(c.Request.Context())
	if err != nil {
		h.logger.Error("error fetching high impact items", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, toItemList(items))
}

func (h *handler) GetRecent(c *gin.Context) {
	days := clamp(getQueryInt(c, "days", defaultRecentDays), 1, maxRecentDays)

	items, err := h.store.SelectRecent(c.Request.Context(), time.Duration(days)*24*time.Hour)
	if err != nil {
		h.logger.Error("error fetching recent items", "error", err, "days", days)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}
	c.JSON(http.StatusOK, toItemList(items))
}

func (h *handler) GetItem(c *gin.Context) {
	raw := c.Param("id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid item id"})
		return
	}

	item, err := h.store.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
	case err != nil:
		h.logger.Error("error fetching item", "error", err, "item_id", id)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
	default:
		c.JSON(http.StatusOK, toItemResponse(item))
	}
}

func (h *handler) GetDigest(c *gin.Context) {
	report, ok := h.report(c, usecase.ReportOptions{DigestLimit: getQueryInt(c, "limit", 0)})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report.Digest)
}

func (h *handler) GetBacklog(c *gin.Context) {
	report, ok := h.report(c, usecase.ReportOptions{})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report.Backlog)
}

func (h *handler) GetChangelog(c *gin.Context) {
	hours := getQueryInt(c, "hours", defaultChangelogHours)
	if hours < 1 {
		hours = defaultChangelogHours
	}
	report, ok := h.report(c, usecase.ReportOptions{ChangelogWindow: time.Duration(hours) * time.Hour})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, report.Changelog)
}

type startRunRequest struct {
	Limit       int  `json:"limit"`
	RetryFailed bool `json:"retry_failed"`
}

func (h *handler) StartRun(c *gin.Context) {
	var req startRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid run request"})
			return
		}
	}

	runID, err := h.pipeline.Start(h.runCtx, usecase.RunOptions{AnalysisLimit: req.Limit, RetryFailed: req.RetryFailed})
	if errors.Is(err, usecase.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "Run already in progress", "state": h.pipeline.State()})
		return
	}
	if err != nil {
		h.logger.Error("error starting run", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Could not start run"})
		return
	}

	h.logger.Info("run accepted", "run_id", runID)
	c.JSON(http.StatusAccepted, gin.H{"run_id": runID})
}

func (h *handler) report(c *gin.Context, opts usecase.ReportOptions) (rollup.Report, bool) {
	report, err := h.pipeline.Report(c.Request.Context(), opts)
	if err != nil {
		h.logger.Error("error building rollups", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return rollup.Report{}, false
	}
	return report, true
}

func getQueryInt(c *gin.Context, name string, defaultValue int) int {
	raw := c.Query(name)
	if raw == "" {
		return defaultValue
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid query parameter, using default", "param", name, "value", raw, "error", err)
		return defaultValue
	}
	return parsed
}

// queryList accepts both repeated parameters and comma separated values.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	switch {
	case v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}
