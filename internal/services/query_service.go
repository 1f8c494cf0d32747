package services

import (
	"context"
	"time"

	"example.com/backstage/services/sentiment/internal/cache"
	"example.com/backstage/services/sentiment/internal/models"
	"example.com/backstage/services/sentiment/internal/repositories"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const firstPageCacheTTL = 30 * time.Second

// ResultLister reads pages of sentiment results
type ResultLister interface {
	ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentResult, error)
}

// MetricLister reads pages of aggregated metric buckets
type MetricLister interface {
	ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentMetric, error)
}

// DeadLetterLister reads pages of dead-letter records
type DeadLetterLister interface {
	ListBefore(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.DeadLetterEvent, error)
}

// UnclaimedCounter reports queue depth on the shared raw-event table
type UnclaimedCounter interface {
	CountUnclaimed(ctx context.Context) (int64, error)
}

// QueryService serves the read side: paged listings of results, metric
// buckets and dead letters. The first page of each listing is the hot one
// (dashboards poll it), so it is served through Redis when available.
type QueryService struct {
	resultRepo ResultLister
	metricRepo MetricLister
	dlqRepo    DeadLetterLister
	eventRepo  UnclaimedCounter
	cache      *cache.RedisCache
}

// NewQueryService creates a new query service
func NewQueryService(db *gorm.DB, readOnlyDB *gorm.DB, redisCache *cache.RedisCache) *QueryService {
	return &QueryService{
		resultRepo: repositories.NewResultRepository(db, readOnlyDB),
		metricRepo: repositories.NewMetricRepository(db, readOnlyDB),
		dlqRepo:    repositories.NewDeadLetterRepository(db, readOnlyDB),
		eventRepo:  repositories.NewEventRepository(db, readOnlyDB),
		cache:      redisCache,
	}
}

// ListResults returns one page of sentiment results older than the cursor
// position. A zero before time means the newest page.
func (s *QueryService) ListResults(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentResult, error) {
	firstPage := before.IsZero()

	if firstPage && s.cacheEnabled() {
		var cached []models.SentimentResult
		key := cache.GetResultPageCacheKey(limit)
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	results, err := s.resultRepo.ListBefore(ctx, before, beforeID, limit)
	if err != nil {
		return nil, err
	}

	if firstPage && s.cacheEnabled() {
		key := cache.GetResultPageCacheKey(limit)
		if err := s.cache.Set(ctx, key, results, firstPageCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache result page")
		}
	}

	return results, nil
}

// ListMetrics returns one page of hourly metric buckets older than the
// cursor position.
func (s *QueryService) ListMetrics(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.SentimentMetric, error) {
	firstPage := before.IsZero()

	if firstPage && s.cacheEnabled() {
		var cached []models.SentimentMetric
		key := cache.GetMetricPageCacheKey(limit)
		if err := s.cache.Get(ctx, key, &cached); err == nil {
			return cached, nil
		}
	}

	buckets, err := s.metricRepo.ListBefore(ctx, before, beforeID, limit)
	if err != nil {
		return nil, err
	}

	if firstPage && s.cacheEnabled() {
		key := cache.GetMetricPageCacheKey(limit)
		if err := s.cache.Set(ctx, key, buckets, firstPageCacheTTL); err != nil {
			log.Warn().Err(err).Msg("Failed to cache metric page")
		}
	}

	return buckets, nil
}

// ListDeadLetters returns one page of dead-letter records older than the
// cursor position. Never cached: operators read this while debugging and
// want the live view.
func (s *QueryService) ListDeadLetters(ctx context.Context, before time.Time, beforeID uuid.UUID, limit int) ([]models.DeadLetterEvent, error) {
	return s.dlqRepo.ListBefore(ctx, before, beforeID, limit)
}

// UnclaimedCount returns the current processing backlog
func (s *QueryService) UnclaimedCount(ctx context.Context) (int64, error) {
	return s.eventRepo.CountUnclaimed(ctx)
}

func (s *QueryService) cacheEnabled() bool {
	return s.cache != nil && s.cache.Enabled()
}
