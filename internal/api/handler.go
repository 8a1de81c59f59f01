package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"showledger/internal/models"
	"showledger/internal/reconcile"
	"showledger/internal/service"
	"showledger/internal/store"
	"showledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Reconciler is the reconciliation flow the HTTP layer exposes
type Reconciler interface {
	StartReview(ctx context.Context, sessionID int64, csvText string, opts service.StartOptions) (*service.ReviewView, error)
	GetReview(ctx context.Context, sessionID int64) (*service.ReviewView, error)
	Shift(ctx context.Context, sessionID int64, dir reconcile.Direction, confirm bool) (*service.ReviewView, error)
	Assign(ctx context.Context, sessionID int64, slotNumber, csvRowNumber int) (*service.ReviewView, error)
	Clear(ctx context.Context, sessionID int64, slotNumber int) (*service.ReviewView, error)
	MarkUnsold(ctx context.Context, sessionID int64, slotNumber int) (*service.ReviewView, error)
	SwitchMode(ctx context.Context, sessionID int64, mode string, confirm bool) (*service.ReviewView, error)
	Commit(ctx context.Context, sessionID int64, idempotencyKey string) (*reconcile.CommitResult, error)
	Export(ctx context.Context, sessionID int64, w io.Writer) error
}

// CompRefresher is the comp engine the HTTP layer exposes
type CompRefresher interface {
	RefreshItem(ctx context.Context, itemID int64) (*service.RefreshOutcome, error)
	RequestBulkRefresh(ctx context.Context, itemIDs []int64) (string, error)
	History(ctx context.Context, itemID int64, limit int) ([]models.CompHistoryRecord, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	reconciler Reconciler
	comps      CompRefresher
	readiness  map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(reconciler Reconciler, comps CompRefresher, readiness map[string]Pinger) *Handler {
	return &Handler{
		reconciler: reconciler,
		comps:      comps,
		readiness:  readiness,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		rec := v1.Group("/sessions/:id/reconciliation")
		rec.POST("", h.startReview)
		rec.GET("", h.getReview)
		rec.POST("/shift", h.shift)
		rec.POST("/assign", h.assign)
		rec.POST("/clear", h.clear)
		rec.POST("/unsold", h.markUnsold)
		rec.POST("/mode", h.switchMode)
		rec.POST("/commit", h.commit)
		rec.GET("/export.csv", h.export)

		v1.POST("/items/:id/comps/refresh", h.refreshItem)
		v1.GET("/items/:id/comps/history", h.compHistory)
		v1.POST("/comps/refresh", h.bulkRefresh)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, ping := range h.readiness {
		if err := ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid ID",
		})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto status codes
func writeError(c *gin.Context, msg string, err error) {
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, service.ErrReviewNotFound),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, reconcile.ErrSlotNotFound),
		errors.Is(err, reconcile.ErrRowNotFound):
		status = http.StatusNotFound

	case errors.Is(err, reconcile.ErrUnsavedManualEdits),
		errors.Is(err, reconcile.ErrSlotAlreadySold),
		errors.Is(err, service.ErrCommitInProgress),
		errors.Is(err, service.ErrReviewChanged):
		status = http.StatusConflict

	case errors.Is(err, reconcile.ErrNoRows),
		errors.Is(err, reconcile.ErrRowCancelled),
		errors.Is(err, reconcile.ErrInvalidDirection),
		errors.Is(err, reconcile.ErrInvalidMode),
		errors.Is(err, service.ErrEmptyQuery):
		status = http.StatusUnprocessableEntity

	default:
		switch service.KindOf(err) {
		case service.FailureAuth:
			status = http.StatusBadGateway
		case service.FailureSearch:
			status = http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{
		"error":   msg,
		"details": err.Error(),
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}

// requestLogger logs one structured line per request
func requestLogger() gin.HandlerFunc {
	logger := util.ComponentLogger("http")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		logger.Info("Request handled",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
