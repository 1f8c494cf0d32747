package handlers

import (
	"net/http"
	"runtime"

	"example.com/backstage/services/sentiment/internal/metrics"
	"example.com/backstage/services/sentiment/internal/services"
	"example.com/backstage/services/sentiment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// MetricsHandler handles operational metrics and health endpoints
type MetricsHandler struct {
	metrics      *metrics.Metrics
	queryService *services.QueryService
	tracer       tracing.Tracer
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(collector *metrics.Metrics, queryService *services.QueryService, tracer tracing.Tracer) *MetricsHandler {
	return &MetricsHandler{
		metrics:      collector,
		queryService: queryService,
		tracer:       tracer,
	}
}

// HandleGetMetrics returns all operational metrics
func (h *MetricsHandler) HandleGetMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-get-metrics")
	defer h.tracer.EndTransaction(txn)

	// Add some real-time system metrics
	h.metrics.SetGauge("goroutines", int64(runtime.NumGoroutine()))

	if backlog, err := h.queryService.UnclaimedCount(c); err == nil {
		h.metrics.SetGauge("events_unclaimed", backlog)
	} else {
		log.Warn().Err(err).Msg("Failed to read unclaimed backlog")
	}

	c.JSON(http.StatusOK, h.metrics.GetAllMetrics())
}

// HandleGetHealthCheck returns a simplified health status
func (h *MetricsHandler) HandleGetHealthCheck(c *gin.Context) {
	healthChecks := h.metrics.GetHealthChecks()

	// Calculate overall health
	healthy := true
	for _, status := range healthChecks {
		if !status {
			healthy = false
			break
		}
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":  healthy,
		"details": healthChecks,
	})
}

// RegisterRoutes registers the handler's routes
func (h *MetricsHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/metrics", h.HandleGetMetrics)
	router.GET("/health", h.HandleGetHealthCheck)
}
