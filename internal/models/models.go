package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RawEvent is a row in the shared raw-event table. The scraper writes these;
// this service only reads them and flips the claim fields. The table may be
// time-partitioned on occurred_at, hence the composite primary key.
type RawEvent struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	OccurredAt time.Time      `gorm:"primaryKey;index:idx_raw_events_identity,unique,priority:3" json:"occurred_at"`
	Source     string         `gorm:"not null;index:idx_raw_events_identity,unique,priority:1" json:"source"`
	SourceUID  string         `gorm:"not null;index:idx_raw_events_identity,unique,priority:2" json:"source_uid"`
	Payload    datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	IngestedAt time.Time      `gorm:"autoCreateTime" json:"ingested_at"`
	Claimed    bool           `gorm:"not null;default:false;index:idx_raw_events_unclaimed" json:"claimed"`
	ClaimedAt  *time.Time     `json:"claimed_at"`
}

// TableName overrides the table name for RawEvent
func (RawEvent) TableName() string {
	return "raw_events"
}

// SentimentResult is one classification outcome for a raw event. There is no
// foreign key to raw_events: the originating partition may already have been
// rotated out. A reprocessed event (new model version) produces a new row.
type SentimentResult struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventID      int64          `gorm:"not null;index:idx_results_attempt,unique,priority:1" json:"event_id"`
	OccurredAt   time.Time      `gorm:"not null;index:idx_results_attempt,unique,priority:2" json:"occurred_at"`
	Source       string         `gorm:"not null" json:"source"`
	SourceUID    string         `gorm:"not null" json:"source_uid"`
	RawText      string         `json:"raw_text"`
	CleanText    string         `json:"clean_text"`
	Label        string         `gorm:"column:sentiment_label;not null" json:"sentiment_label"`
	Score        float64        `gorm:"column:sentiment_score;not null" json:"sentiment_score"`
	Scores       datatypes.JSON `gorm:"type:jsonb" json:"scores"`
	ModelVersion string         `gorm:"not null" json:"model_version"`
	ProcessedAt  time.Time      `gorm:"not null;index:idx_results_attempt,unique,priority:3;index:idx_results_page,priority:1,sort:desc" json:"processed_at"`
}

// TableName overrides the table name for SentimentResult
func (SentimentResult) TableName() string {
	return "sentiment_results"
}

// SentimentMetric is an hourly aggregate bucket. Count and score sum are
// maintained with a commutative upsert; the average is derived at read time.
type SentimentMetric struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	BucketStart  time.Time `gorm:"not null;uniqueIndex:idx_metrics_bucket,priority:1" json:"bucket_start"`
	Source       string    `gorm:"not null;uniqueIndex:idx_metrics_bucket,priority:2" json:"source"`
	SourceUID    string    `gorm:"not null;uniqueIndex:idx_metrics_bucket,priority:3" json:"source_uid"`
	Label        string    `gorm:"column:sentiment_label;not null;uniqueIndex:idx_metrics_bucket,priority:4" json:"sentiment_label"`
	ModelVersion string    `gorm:"not null;uniqueIndex:idx_metrics_bucket,priority:5" json:"model_version"`
	EventCount   int64     `gorm:"not null;default:0" json:"event_count"`
	ScoreSum     float64   `gorm:"not null;default:0" json:"score_sum"`
}

// TableName overrides the table name for SentimentMetric
func (SentimentMetric) TableName() string {
	return "sentiment_metrics"
}

// AverageScore returns the derived mean confidence for the bucket
func (m *SentimentMetric) AverageScore() float64 {
	if m.EventCount == 0 {
		return 0
	}
	return m.ScoreSum / float64(m.EventCount)
}

// DeadLetterEvent records an event that failed terminal processing. The
// composite (failed_at, id) key keeps inserts cheap under failure bursts.
// Rows are never retried automatically; operators replay them by hand.
type DeadLetterEvent struct {
	FailedAt    time.Time      `gorm:"primaryKey" json:"failed_at"`
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	EventID     int64          `gorm:"not null" json:"event_id"`
	OccurredAt  time.Time      `gorm:"not null" json:"occurred_at"`
	Source      string         `gorm:"not null" json:"source"`
	SourceUID   string         `gorm:"not null" json:"source_uid"`
	Payload     datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	FailedStage string         `gorm:"not null" json:"failed_stage"`
	ErrorMsg    string         `gorm:"not null" json:"error_msg"`
}

// TableName overrides the table name for DeadLetterEvent
func (DeadLetterEvent) TableName() string {
	return "dead_letter_events"
}

// SetupModels configures GORM models and runs migrations. The raw_events
// table is included for local development; in production the scraper owns it.
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&RawEvent{},
		&SentimentResult{},
		&SentimentMetric{},
		&DeadLetterEvent{},
	)

	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}

	return nil
}
