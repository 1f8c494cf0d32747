package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"example.com/backstage/services/sentiment/internal/classify"
	"example.com/backstage/services/sentiment/internal/messaging"
	"example.com/backstage/services/sentiment/internal/metrics"
	"example.com/backstage/services/sentiment/internal/models"
	"example.com/backstage/services/sentiment/internal/repositories"
	"example.com/backstage/services/sentiment/internal/search"
	"example.com/backstage/services/sentiment/internal/text"
	"example.com/backstage/services/sentiment/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Pipeline stages recorded on dead-letter rows
const (
	StageValidation     = "validation"
	StageClassification = "classification"
	StageResultSaving   = "result_saving"
)

// EventClaimer claims batches of unprocessed raw events
type EventClaimer interface {
	ClaimBatch(ctx context.Context, limit int) ([]models.RawEvent, error)
}

// ResultStore persists sentiment results
type ResultStore interface {
	Create(ctx context.Context, result *models.SentimentResult) error
}

// MetricStore maintains the aggregated sentiment metrics
type MetricStore interface {
	Increment(ctx context.Context, bucket time.Time, source, sourceUID, label, modelVersion string, score float64) error
}

// DeadLetterStore persists failure records
type DeadLetterStore interface {
	Create(ctx context.Context, event *models.DeadLetterEvent) error
}

// EventOutcome is the terminal state an event reached in one run
type EventOutcome int

const (
	// OutcomeProcessed means a result row exists and metrics were attempted
	OutcomeProcessed EventOutcome = iota
	// OutcomeSkipped means the event was not in the target language
	OutcomeSkipped
	// OutcomeFailed means the event was routed to the dead-letter store
	OutcomeFailed
)

// PipelineService drives the claim -> clean -> classify -> persist pipeline.
// It owns its repositories and capability dependencies; there is no ambient
// global state. Multiple instances may run against the same database - the
// claim query's skip-locked semantics keep their batches disjoint.
type PipelineService struct {
	eventRepo  EventClaimer
	resultRepo ResultStore
	metricRepo MetricStore
	dlqRepo    DeadLetterStore

	cleaner    *text.Cleaner
	classifier classify.Classifier

	elasticClient *search.ElasticClient
	bus           messaging.ServiceBusClient
	collector     *metrics.Metrics
	tracer        tracing.Tracer

	batchSize int
}

// NewPipelineService creates a new pipeline service
func NewPipelineService(
	db *gorm.DB,
	readOnlyDB *gorm.DB,
	cleaner *text.Cleaner,
	classifier classify.Classifier,
	elasticClient *search.ElasticClient,
	bus messaging.ServiceBusClient,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
	batchSize int,
) *PipelineService {
	return &PipelineService{
		eventRepo:     repositories.NewEventRepository(db, readOnlyDB),
		resultRepo:    repositories.NewResultRepository(db, readOnlyDB),
		metricRepo:    repositories.NewMetricRepository(db, readOnlyDB),
		dlqRepo:       repositories.NewDeadLetterRepository(db, readOnlyDB),
		cleaner:       cleaner,
		classifier:    classifier,
		elasticClient: elasticClient,
		bus:           bus,
		collector:     collector,
		tracer:        tracer,
		batchSize:     batchSize,
	}
}

// RunOnce claims one batch and processes every claimed event concurrently,
// waiting for all of them to reach a terminal state. It returns the number
// of events attempted; per-event success and failure are logged and counted
// separately. An empty claim is a no-op cycle.
func (s *PipelineService) RunOnce(ctx context.Context) (int, error) {
	txn := s.tracer.StartTransaction("pipeline-run-once")
	defer s.tracer.EndTransaction(txn)

	start := time.Now()

	span := s.tracer.StartSpan("claim-batch", txn)
	events, err := s.eventRepo.ClaimBatch(ctx, s.batchSize)
	span.End()

	if err != nil {
		// Nothing was claimed; the whole cycle is abandoned and retried on
		// the next interval.
		s.tracer.RecordError(txn, err)
		return 0, errors.Wrap(err, "failed to claim batch")
	}

	if len(events) == 0 {
		return 0, nil
	}

	s.collector.IncrementCounterBy(metrics.CounterClaimed, int64(len(events)))

	log.Info().Int("batch_size", len(events)).Msg("Processing claimed batch")

	var (
		mu        sync.Mutex
		processed int
		skipped   int
		failed    int
	)

	var wg sync.WaitGroup
	for i := range events {
		event := events[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				// A panic in one event must not take down the batch. The
				// event stays claimed and unrecorded, which is the same
				// contract as a process crash mid-flight.
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Int64("event_id", event.ID).
						Msg("Panic while processing event")
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}()

			outcome := s.ProcessEvent(ctx, &event)

			mu.Lock()
			switch outcome {
			case OutcomeProcessed:
				processed++
			case OutcomeSkipped:
				skipped++
			case OutcomeFailed:
				failed++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	s.collector.IncrementCounterBy(metrics.CounterProcessed, int64(processed))
	s.collector.IncrementCounterBy(metrics.CounterSkipped, int64(skipped))
	s.collector.IncrementCounterBy(metrics.CounterFailed, int64(failed))
	s.collector.IncrementCounter(metrics.CounterCycles)
	s.collector.RecordTimer("pipeline_cycle", time.Since(start))

	log.Info().
		Int("attempted", len(events)).
		Int("processed", processed).
		Int("skipped", skipped).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("Batch complete")

	return len(events), nil
}

// ProcessEvent runs a single claimed event to exactly one terminal state:
// a saved result, an intentional language skip, or a dead-letter record.
func (s *PipelineService) ProcessEvent(ctx context.Context, event *models.RawEvent) EventOutcome {
	txn := s.tracer.StartTransaction("process-event")
	defer s.tracer.EndTransaction(txn)
	s.tracer.AddAttribute(txn, "event_id", event.ID)
	s.tracer.AddAttribute(txn, "source", event.Source)

	// Step 1: validate the payload before trusting it downstream
	rawText, err := extractText(event)
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.moveToDeadLetter(ctx, event, StageValidation, err)
		return OutcomeFailed
	}

	// Step 2: clean and gate on language
	cleaned := s.cleaner.Clean(rawText)
	if !cleaned.IsTarget {
		log.Debug().
			Int64("event_id", event.ID).
			Str("language", cleaned.Language).
			Msg("Skipping event outside target language")
		return OutcomeSkipped
	}

	// Step 3: classify; any capability error is terminal
	span := s.tracer.StartSpan("classify", txn)
	classifyStart := time.Now()
	classification, err := s.classifier.Classify(ctx, cleaned.Cleaned)
	s.collector.RecordTimer("classify", time.Since(classifyStart))
	span.End()

	if err != nil {
		s.tracer.RecordError(txn, err)
		s.moveToDeadLetter(ctx, event, StageClassification, err)
		return OutcomeFailed
	}

	// Step 4: persist the result in its own transaction
	result, err := s.saveResult(ctx, event, rawText, cleaned.Cleaned, classification)
	if err != nil {
		s.tracer.RecordError(txn, err)
		s.moveToDeadLetter(ctx, event, StageResultSaving, err)
		return OutcomeFailed
	}

	// Step 5: metrics and search indexing. The authoritative result already
	// exists, so failures here downgrade to warnings and the event still
	// counts as processed.
	if err := s.updateMetrics(ctx, result); err != nil {
		log.Warn().
			Err(err).
			Str("result_id", result.ID.String()).
			Msg("Result saved but metrics update failed")
	}

	if s.elasticClient != nil && s.elasticClient.Enabled() {
		if err := s.elasticClient.IndexResult(ctx, result); err != nil {
			log.Warn().
				Err(err).
				Str("result_id", result.ID.String()).
				Msg("Result saved but search indexing failed")
		}
	}

	log.Info().
		Int64("event_id", event.ID).
		Str("result_id", result.ID.String()).
		Str("label", result.Label).
		Float64("score", result.Score).
		Msg("Event processed successfully")

	return OutcomeProcessed
}

// saveResult inserts one sentiment result row for the event
func (s *PipelineService) saveResult(
	ctx context.Context,
	event *models.RawEvent,
	rawText string,
	cleanText string,
	classification *classify.Classification,
) (*models.SentimentResult, error) {
	scores, err := json.Marshal(classification.Scores)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal score distribution")
	}

	result := &models.SentimentResult{
		ID:           uuid.New(),
		EventID:      event.ID,
		OccurredAt:   event.OccurredAt,
		Source:       event.Source,
		SourceUID:    event.SourceUID,
		RawText:      rawText,
		CleanText:    cleanText,
		Label:        classification.Label,
		Score:        classification.Confidence,
		Scores:       datatypes.JSON(scores),
		ModelVersion: classification.ModelVersion,
		ProcessedAt:  time.Now().UTC(),
	}

	if err := s.resultRepo.Create(ctx, result); err != nil {
		return nil, err
	}

	return result, nil
}

// updateMetrics upserts the hourly bucket for the result. The bucket key is
// the processing timestamp truncated to the hour.
func (s *PipelineService) updateMetrics(ctx context.Context, result *models.SentimentResult) error {
	bucket := result.ProcessedAt.Truncate(time.Hour)
	return s.metricRepo.Increment(
		ctx,
		bucket,
		result.Source,
		result.SourceUID,
		result.Label,
		result.ModelVersion,
		result.Score,
	)
}

// moveToDeadLetter records a terminal failure. If the insert itself fails
// the event is lost from this pipeline's perspective; that is surfaced in
// the log and nowhere else, since there is no secondary sink.
func (s *PipelineService) moveToDeadLetter(ctx context.Context, event *models.RawEvent, stage string, cause error) {
	record := &models.DeadLetterEvent{
		FailedAt:    time.Now().UTC(),
		ID:          uuid.New(),
		EventID:     event.ID,
		OccurredAt:  event.OccurredAt,
		Source:      event.Source,
		SourceUID:   event.SourceUID,
		Payload:     event.Payload,
		FailedStage: stage,
		ErrorMsg:    cause.Error(),
	}

	if err := s.dlqRepo.Create(ctx, record); err != nil {
		log.Error().
			Err(err).
			Int64("event_id", event.ID).
			Str("stage", stage).
			Str("original_error", cause.Error()).
			Msg("Dead-letter insert failed, event is lost")
		return
	}

	s.collector.IncrementCounter(metrics.CounterDeadLettered)

	log.Warn().
		Int64("event_id", event.ID).
		Str("stage", stage).
		Err(cause).
		Msg("Event moved to dead letter store")

	// Operator notification is best-effort
	if s.bus != nil {
		if err := s.bus.SendMessage(ctx, record); err != nil {
			log.Warn().
				Err(err).
				Str("dead_letter_id", record.ID.String()).
				Msg("Failed to publish dead-letter notification")
		}
	}
}

// extractText validates the raw payload and pulls the text field out of it.
// A missing payload, a payload that is not a JSON object, or a missing or
// empty text field are all validation failures.
func extractText(event *models.RawEvent) (string, error) {
	if len(event.Payload) == 0 {
		return "", errors.New("event payload is empty")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		return "", errors.Wrap(err, "event payload is not a JSON object")
	}

	raw, ok := payload["text"]
	if !ok {
		return "", errors.New("event payload has no text field")
	}

	textValue, ok := raw.(string)
	if !ok {
		return "", errors.New("event text field is not a string")
	}

	if textValue == "" {
		return "", errors.New("event text is empty")
	}

	// Whitespace-only text is deliberately allowed through: the cleaner
	// reduces it to an empty string and the classifier returns its neutral
	// default.
	return textValue, nil
}
