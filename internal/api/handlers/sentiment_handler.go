package handlers

import (
	"net/http"
	"time"

	"example.com/backstage/services/sentiment/internal/models"
	"example.com/backstage/services/sentiment/internal/services"
	"example.com/backstage/services/sentiment/internal/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// SentimentHandler serves the read-side endpoints: processed results,
// aggregated metric buckets and the dead-letter ledger
type SentimentHandler struct {
	queryService *services.QueryService
	tracer       tracing.Tracer
}

// NewSentimentHandler creates a new sentiment handler
func NewSentimentHandler(queryService *services.QueryService, tracer tracing.Tracer) *SentimentHandler {
	return &SentimentHandler{
		queryService: queryService,
		tracer:       tracer,
	}
}

// MetricBucketResponse is one hourly aggregate with its derived average
type MetricBucketResponse struct {
	ID           uuid.UUID `json:"id"`
	BucketStart  time.Time `json:"bucket_start"`
	Source       string    `json:"source"`
	SourceUID    string    `json:"source_uid"`
	Label        string    `json:"sentiment_label"`
	ModelVersion string    `json:"model_version"`
	EventCount   int64     `json:"event_count"`
	ScoreSum     float64   `json:"score_sum"`
	AverageScore float64   `json:"average_score"`
}

// PageResponse is the envelope for all paged listings. NextCursor is only
// set when the page was full, i.e. there may be more rows.
type PageResponse struct {
	Items      interface{} `json:"items"`
	NextCursor string      `json:"next_cursor,omitempty"`
}

// HandleListResults returns a page of sentiment results, newest first
func (h *SentimentHandler) HandleListResults(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-results")
	defer h.tracer.EndTransaction(txn)

	before, beforeID, err := decodeCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := parseLimit(c.Query("limit"))

	results, err := h.queryService.ListResults(c, before, beforeID, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sentiment results")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list results"})
		return
	}

	response := PageResponse{Items: results}
	if len(results) == limit {
		last := results[len(results)-1]
		response.NextCursor = encodeCursor(last.ProcessedAt, last.ID)
	}

	c.JSON(http.StatusOK, response)
}

// HandleListMetrics returns a page of hourly metric buckets, newest first.
// The running sum and count are stored; the average is derived here.
func (h *SentimentHandler) HandleListMetrics(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-metrics")
	defer h.tracer.EndTransaction(txn)

	before, beforeID, err := decodeCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := parseLimit(c.Query("limit"))

	buckets, err := h.queryService.ListMetrics(c, before, beforeID, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list sentiment metrics")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list metrics"})
		return
	}

	items := make([]MetricBucketResponse, 0, len(buckets))
	for _, b := range buckets {
		items = append(items, toMetricBucketResponse(b))
	}

	response := PageResponse{Items: items}
	if len(buckets) == limit {
		last := buckets[len(buckets)-1]
		response.NextCursor = encodeCursor(last.BucketStart, last.ID)
	}

	c.JSON(http.StatusOK, response)
}

// HandleListDeadLetters returns a page of dead-letter records, newest first
func (h *SentimentHandler) HandleListDeadLetters(c *gin.Context) {
	txn := h.tracer.StartTransaction("api-list-dead-letters")
	defer h.tracer.EndTransaction(txn)

	before, beforeID, err := decodeCursor(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := parseLimit(c.Query("limit"))

	records, err := h.queryService.ListDeadLetters(c, before, beforeID, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list dead letter events")
		h.tracer.RecordError(txn, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list dead letters"})
		return
	}

	response := PageResponse{Items: records}
	if len(records) == limit {
		last := records[len(records)-1]
		response.NextCursor = encodeCursor(last.FailedAt, last.ID)
	}

	c.JSON(http.StatusOK, response)
}

func toMetricBucketResponse(b models.SentimentMetric) MetricBucketResponse {
	return MetricBucketResponse{
		ID:           b.ID,
		BucketStart:  b.BucketStart,
		Source:       b.Source,
		SourceUID:    b.SourceUID,
		Label:        b.Label,
		ModelVersion: b.ModelVersion,
		EventCount:   b.EventCount,
		ScoreSum:     b.ScoreSum,
		AverageScore: b.AverageScore(),
	}
}

// RegisterRoutes registers the handler's routes
func (h *SentimentHandler) RegisterRoutes(router *gin.Engine) {
	router.GET("/results", h.HandleListResults)
	router.GET("/metrics/sentiment", h.HandleListMetrics)
	router.GET("/deadletters", h.HandleListDeadLetters)
}
