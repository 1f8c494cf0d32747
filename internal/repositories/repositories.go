package repositories

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/backstage/services/sentiment/internal/models"
)

// EventRepository provides access to the shared raw-event table
type EventRepository struct {
	db         *gorm.DB // Write database
	readOnlyDB *gorm.DB // Read-only database
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *gorm.DB, readOnlyDB *gorm.DB) *EventRepository {
	return &EventRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// claimQuery selects the oldest unclaimed rows with SKIP LOCKED so that
// rows locked by a concurrent claimer are excluded rather than waited on,
// marks them claimed and returns them in one statement.
const claimQuery = `
	UPDATE raw_events
	SET claimed = TRUE, claimed_at = NOW()
	WHERE (id, occurred_at) IN (
		SELECT id, occurred_at
		FROM raw_events
		WHERE claimed = FALSE
		ORDER BY occurred_at ASC
		LIMIT ?
		FOR UPDATE SKIP LOCKED
	)
	RETURNING id, occurred_at, source, source_uid, payload, ingested_at, claimed, claimed_at`

// ClaimBatch atomically claims up to limit unclaimed events, oldest first,
// and returns them. Two concurrent callers never receive overlapping events.
// The update and the select commit together; on any error nothing is
// claimed. Claiming is not reversible: a claimed event that never reaches a
// terminal outcome is not reconsidered by this query.
func (r *EventRepository) ClaimBatch(ctx context.Context, limit int) ([]models.RawEvent, error) {
	if limit <= 0 {
		return nil, nil
	}

	var events []models.RawEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Raw(claimQuery, limit).Scan(&events).Error
	})

	if err != nil {
		return nil, errors.Wrap(ErrClaimFailed, err.Error())
	}

	return events, nil
}

// CountUnclaimed returns the number of events still waiting to be claimed
func (r *EventRepository) CountUnclaimed(ctx context.Context) (int64, error) {
	var count int64
	err := r.readOnlyDB.WithContext(ctx).
		Model(&models.RawEvent{}).
		Where("claimed = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, errors.Wrap(err, "failed to count unclaimed events")
	}
	return count, nil
}

// ResultRepository provides access to sentiment results
type ResultRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewResultRepository creates a new result repository
func NewResultRepository(db *gorm.DB, readOnlyDB *gorm.DB) *ResultRepository {
	return &ResultRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts one sentiment result in its own transaction
func (r *ResultRepository) Create(ctx context.Context, result *models.SentimentResult) error {
	if err := r.db.WithContext(ctx).Create(result).Error; err != nil {
		return mapCreateError(err, "sentiment result")
	}
	return nil
}

// ListBefore returns a page of results strictly older than the cursor
// position, ordered by processed_at descending then id descending. A zero
// before time means "from the newest row".
func (r *ResultRepository) ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentResult, error) {
	query := r.readOnlyDB.WithContext(ctx).
		Order("processed_at DESC, id DESC").
		Limit(limit)

	if !before.IsZero() {
		query = query.Where(
			"(processed_at < ?) OR (processed_at = ? AND id < ?)",
			before, before, beforeID,
		)
	}

	var results []models.SentimentResult
	if err := query.Find(&results).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list sentiment results")
	}
	return results, nil
}

// MetricRepository provides access to aggregated sentiment metrics
type MetricRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewMetricRepository creates a new metric repository
func NewMetricRepository(db *gorm.DB, readOnlyDB *gorm.DB) *MetricRepository {
	return &MetricRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Increment upserts the metric bucket for the given key, adding one event
// and the event's score to the running sum. The increment form keeps the
// statement commutative, so concurrent completions in any order converge to
// the same count and sum.
func (r *MetricRepository) Increment(ctx context.Context, bucket time.Time, source, sourceUID, label, modelVersion string, score float64) error {
	metric := models.SentimentMetric{
		ID:           uuid.New(),
		BucketStart:  bucket,
		Source:       source,
		SourceUID:    sourceUID,
		Label:        label,
		ModelVersion: modelVersion,
		EventCount:   1,
		ScoreSum:     score,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "bucket_start"},
			{Name: "source"},
			{Name: "source_uid"},
			{Name: "sentiment_label"},
			{Name: "model_version"},
		},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"event_count": gorm.Expr("sentiment_metrics.event_count + 1"),
			"score_sum":   gorm.Expr("sentiment_metrics.score_sum + EXCLUDED.score_sum"),
		}),
	}).Create(&metric).Error

	if err != nil {
		return errors.Wrap(ErrUpsertFailed, err.Error())
	}
	return nil
}

// ListBefore returns a page of metric buckets strictly older than the cursor
// position, ordered by bucket_start descending then id descending.
func (r *MetricRepository) ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentMetric, error) {
	query := r.readOnlyDB.WithContext(ctx).
		Order("bucket_start DESC, id DESC").
		Limit(limit)

	if !before.IsZero() {
		query = query.Where(
			"(bucket_start < ?) OR (bucket_start = ? AND id < ?)",
			before, before, beforeID,
		)
	}

	var metrics []models.SentimentMetric
	if err := query.Find(&metrics).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list sentiment metrics")
	}
	return metrics, nil
}

// DeadLetterRepository provides access to the failure ledger
type DeadLetterRepository struct {
	db         *gorm.DB
	readOnlyDB *gorm.DB
}

// NewDeadLetterRepository creates a new dead-letter repository
func NewDeadLetterRepository(db *gorm.DB, readOnlyDB *gorm.DB) *DeadLetterRepository {
	return &DeadLetterRepository{
		db:         db,
		readOnlyDB: readOnlyDB,
	}
}

// Create inserts one dead-letter record in its own transaction
func (r *DeadLetterRepository) Create(ctx context.Context, event *models.DeadLetterEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return mapCreateError(err, "dead letter event")
	}
	return nil
}

// ListBefore returns a page of dead-letter records strictly older than the
// cursor position, ordered by failed_at descending then id descending.
func (r *DeadLetterRepository) ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.DeadLetterEvent, error) {
	query := r.readOnlyDB.WithContext(ctx).
		Order("failed_at DESC, id DESC").
		Limit(limit)

	if !before.IsZero() {
		query = query.Where(
			"(failed_at < ?) OR (failed_at = ? AND id < ?)",
			before, before, beforeID,
		)
	}

	var events []models.DeadLetterEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, errors.Wrap(err, "failed to list dead letter events")
	}
	return events, nil
}

// mapCreateError converts a gorm insert error into one of the package
// sentinels so callers can branch without inspecting driver strings.
// Requires the connection to be opened with TranslateError.
func mapCreateError(err error, entity string) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return errors.Wrapf(ErrDuplicateKey, "%s: %v", entity, err)
	}
	return errors.Wrapf(ErrCreateFailed, "%s: %v", entity, err)
}
