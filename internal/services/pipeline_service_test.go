package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"example.com/backstage/services/sentiment/config"
	"example.com/backstage/services/sentiment/internal/classify"
	"example.com/backstage/services/sentiment/internal/metrics"
	"example.com/backstage/services/sentiment/internal/models"
	"example.com/backstage/services/sentiment/internal/text"
	"example.com/backstage/services/sentiment/internal/tracing"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

type mockEventClaimer struct {
	mock.Mock
}

func (m *mockEventClaimer) ClaimBatch(ctx context.Context, limit int) ([]models.RawEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawEvent), args.Error(1)
}

type mockResultStore struct {
	mock.Mock
}

func (m *mockResultStore) Create(ctx context.Context, result *models.SentimentResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

type mockMetricStore struct {
	mock.Mock
}

func (m *mockMetricStore) Increment(ctx context.Context, bucket time.Time, source, sourceUID, label, modelVersion string, score float64) error {
	args := m.Called(ctx, bucket, source, sourceUID, label, modelVersion, score)
	return args.Error(0)
}

type mockDeadLetterStore struct {
	mock.Mock
}

func (m *mockDeadLetterStore) Create(ctx context.Context, event *models.DeadLetterEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(ctx context.Context, input string) (*classify.Classification, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*classify.Classification), args.Error(1)
}

func newTestService(
	claimer *mockEventClaimer,
	results *mockResultStore,
	metricStore *mockMetricStore,
	dlq *mockDeadLetterStore,
	classifier *mockClassifier,
) *PipelineService {
	tracer, _ := tracing.NewTracer(config.TracingConfig{})
	return &PipelineService{
		eventRepo:  claimer,
		resultRepo: results,
		metricRepo: metricStore,
		dlqRepo:    dlq,
		cleaner:    text.NewCleaner("en"),
		classifier: classifier,
		collector:  metrics.NewMetrics(),
		tracer:     tracer,
		batchSize:  10,
	}
}

func makeEvent(id int64, body string) models.RawEvent {
	payload, _ := json.Marshal(map[string]string{"text": body})
	return models.RawEvent{
		ID:         id,
		OccurredAt: time.Date(2026, 8, 20, 14, 30, 0, 0, time.UTC),
		Source:     "twitter",
		SourceUID:  "account-42",
		Payload:    datatypes.JSON(payload),
		IngestedAt: time.Date(2026, 8, 20, 14, 31, 0, 0, time.UTC),
	}
}

func positiveClassification() *classify.Classification {
	return &classify.Classification{
		Label:      classify.LabelPositive,
		Confidence: 0.85,
		Scores: map[string]float64{
			classify.LabelPositive: 0.85,
			classify.LabelNegative: 0.05,
			classify.LabelNeutral:  0.10,
		},
		ModelVersion: "test-model-v1",
	}
}

func TestProcessEvent_Success(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(1, "this is a good day and the launch was a great success")

	classifier.On("Classify", mock.Anything, mock.AnythingOfType("string")).
		Return(positiveClassification(), nil)

	var saved *models.SentimentResult
	results.On("Create", mock.Anything, mock.AnythingOfType("*models.SentimentResult")).
		Run(func(args mock.Arguments) {
			saved = args.Get(1).(*models.SentimentResult)
		}).
		Return(nil)

	metricStore.On("Increment",
		mock.Anything,
		mock.AnythingOfType("time.Time"),
		"twitter",
		"account-42",
		classify.LabelPositive,
		"test-model-v1",
		0.85,
	).Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeProcessed, outcome)
	require.NotNil(t, saved)
	require.Equal(t, int64(1), saved.EventID)
	require.Equal(t, event.OccurredAt, saved.OccurredAt)
	require.Equal(t, classify.LabelPositive, saved.Label)
	require.Equal(t, 0.85, saved.Score)
	require.Equal(t, "test-model-v1", saved.ModelVersion)
	require.NotEqual(t, uuid.Nil, saved.ID)
	require.False(t, saved.ProcessedAt.IsZero())

	classifier.AssertExpectations(t)
	results.AssertExpectations(t)
	metricStore.AssertExpectations(t)
	dlq.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessEvent_MetricBucketIsHourly(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(7, "it is a good and wonderful day")

	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(positiveClassification(), nil)
	results.On("Create", mock.Anything, mock.Anything).Return(nil)

	var bucket time.Time
	metricStore.On("Increment",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything,
	).Run(func(args mock.Arguments) {
		bucket = args.Get(1).(time.Time)
	}).Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeProcessed, outcome)
	require.Equal(t, 0, bucket.Minute())
	require.Equal(t, 0, bucket.Second())
	require.Equal(t, bucket, bucket.Truncate(time.Hour))
}

func TestProcessEvent_EmptyPayloadGoesToValidationStage(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := models.RawEvent{
		ID:         2,
		OccurredAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
		Source:     "reddit",
		SourceUID:  "thread-9",
	}

	var record *models.DeadLetterEvent
	dlq.On("Create", mock.Anything, mock.AnythingOfType("*models.DeadLetterEvent")).
		Run(func(args mock.Arguments) {
			record = args.Get(1).(*models.DeadLetterEvent)
		}).
		Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeFailed, outcome)
	require.NotNil(t, record)
	require.Equal(t, StageValidation, record.FailedStage)
	require.Equal(t, int64(2), record.EventID)
	require.NotEmpty(t, record.ErrorMsg)
	require.False(t, record.FailedAt.IsZero())

	classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	results.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessEvent_MissingTextFieldFailsValidation(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	payload, _ := json.Marshal(map[string]string{"body": "no text key here"})
	event := models.RawEvent{
		ID:         3,
		OccurredAt: time.Now().UTC(),
		Source:     "rss",
		SourceUID:  "feed-1",
		Payload:    datatypes.JSON(payload),
	}

	dlq.On("Create", mock.Anything, mock.MatchedBy(func(r *models.DeadLetterEvent) bool {
		return r.FailedStage == StageValidation
	})).Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeFailed, outcome)
	dlq.AssertExpectations(t)
}

func TestProcessEvent_ClassifierErrorPreservedInDeadLetter(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(4, "this is the text that was sent to the model")

	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(nil, errors.New("model server timeout after 10s"))

	var record *models.DeadLetterEvent
	dlq.On("Create", mock.Anything, mock.AnythingOfType("*models.DeadLetterEvent")).
		Run(func(args mock.Arguments) {
			record = args.Get(1).(*models.DeadLetterEvent)
		}).
		Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeFailed, outcome)
	require.NotNil(t, record)
	require.Equal(t, StageClassification, record.FailedStage)
	require.Contains(t, record.ErrorMsg, "timeout")
	require.Equal(t, event.Payload, record.Payload)

	results.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	metricStore.AssertNotCalled(t, "Increment",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEvent_SaveFailureGoesToResultSavingStage(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(5, "it was a good launch and we are happy with it")

	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(positiveClassification(), nil)
	results.On("Create", mock.Anything, mock.Anything).
		Return(errors.New("connection refused"))

	dlq.On("Create", mock.Anything, mock.MatchedBy(func(r *models.DeadLetterEvent) bool {
		return r.FailedStage == StageResultSaving
	})).Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeFailed, outcome)
	dlq.AssertExpectations(t)
	metricStore.AssertNotCalled(t, "Increment",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessEvent_MetricFailureStillCountsAsProcessed(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(6, "the release was good and it is a strong step for us")

	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(positiveClassification(), nil)
	results.On("Create", mock.Anything, mock.Anything).Return(nil)
	metricStore.On("Increment",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything,
	).Return(errors.New("deadlock detected"))

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	// The authoritative result exists, so a metric failure must not demote
	// the event to failed.
	require.Equal(t, OutcomeProcessed, outcome)
	dlq.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessEvent_NonTargetLanguageIsSkipped(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := makeEvent(8, "el lanzamiento es una buena noticia para los usuarios y no es un problema")

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	outcome := svc.ProcessEvent(context.Background(), &event)

	require.Equal(t, OutcomeSkipped, outcome)
	classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
	results.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	dlq.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestProcessEvent_DeadLetterInsertFailureIsSwallowed(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	event := models.RawEvent{ID: 9, OccurredAt: time.Now().UTC(), Source: "rss", SourceUID: "feed-2"}

	dlq.On("Create", mock.Anything, mock.Anything).
		Return(errors.New("dead letter table unavailable"))

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	// The failure to record the failure must not panic or change the outcome
	outcome := svc.ProcessEvent(context.Background(), &event)
	require.Equal(t, OutcomeFailed, outcome)
}

func TestRunOnce_EmptyClaimIsNoop(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	claimer.On("ClaimBatch", mock.Anything, 10).Return([]models.RawEvent{}, nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	attempted, err := svc.RunOnce(context.Background())

	require.NoError(t, err)
	require.Equal(t, 0, attempted)
	classifier.AssertNotCalled(t, "Classify", mock.Anything, mock.Anything)
}

func TestRunOnce_ClaimErrorAbandonsCycle(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	claimer.On("ClaimBatch", mock.Anything, 10).
		Return(nil, errors.New("connection reset by peer"))

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	attempted, err := svc.RunOnce(context.Background())

	require.Error(t, err)
	require.Equal(t, 0, attempted)
	require.Contains(t, err.Error(), "failed to claim batch")
}

func TestRunOnce_EveryEventReachesATerminalState(t *testing.T) {
	claimer := new(mockEventClaimer)
	results := new(mockResultStore)
	metricStore := new(mockMetricStore)
	dlq := new(mockDeadLetterStore)
	classifier := new(mockClassifier)

	batch := []models.RawEvent{
		makeEvent(10, "the release is good and we are happy"),
		// no payload at all: validation failure
		{ID: 11, OccurredAt: time.Now().UTC(), Source: "rss", SourceUID: "feed-3"},
		// Spanish: language skip
		makeEvent(12, "la noticia es buena para los usuarios y no es un problema"),
	}

	claimer.On("ClaimBatch", mock.Anything, 10).Return(batch, nil)
	classifier.On("Classify", mock.Anything, mock.Anything).
		Return(positiveClassification(), nil)
	results.On("Create", mock.Anything, mock.Anything).Return(nil)
	metricStore.On("Increment",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything,
	).Return(nil)
	dlq.On("Create", mock.Anything, mock.MatchedBy(func(r *models.DeadLetterEvent) bool {
		return r.FailedStage == StageValidation && r.EventID == 11
	})).Return(nil)

	svc := newTestService(claimer, results, metricStore, dlq, classifier)

	attempted, err := svc.RunOnce(context.Background())

	require.NoError(t, err)
	require.Equal(t, 3, attempted)

	require.Equal(t, int64(3), svc.collector.GetCounter(metrics.CounterClaimed))
	require.Equal(t, int64(1), svc.collector.GetCounter(metrics.CounterProcessed))
	require.Equal(t, int64(1), svc.collector.GetCounter(metrics.CounterSkipped))
	require.Equal(t, int64(1), svc.collector.GetCounter(metrics.CounterFailed))
	require.Equal(t, int64(1), svc.collector.GetCounter(metrics.CounterDeadLettered))

	claimer.AssertExpectations(t)
	results.AssertNumberOfCalls(t, "Create", 1)
	dlq.AssertExpectations(t)
}
