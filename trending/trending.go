package trending

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/util"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("trending")

const (
	DefaultWindow   = 7 * 24 * time.Hour
	DefaultSchedule = "@every 60m"
	refreshBatch    = 500
)

type Service struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db *gorm.DB, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:     db,
		logger: logger.With("component", "trending"),
		now:    time.Now,
	}
}

// Refresh recomputes scores for live clips created within window and
// returns how many clips were updated. Older clips keep their last scores.
func (s *Service) Refresh(ctx context.Context, window time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "Refresh")
	defer span.End()

	if window <= 0 {
		window = DefaultWindow
	}
	start := time.Now()
	now := s.now()
	since := now.Add(-window)

	var batch []models.Clip
	updated := 0
	err := s.db.WithContext(ctx).
		Select("id", "view_count", "vote_score", "comment_count", "favorite_count", "created_at").
		Where("created_at >= ? AND is_removed = ?", since, false).
		FindInBatches(&batch, refreshBatch, func(tx *gorm.DB, _ int) error {
			return s.db.WithContext(ctx).Transaction(func(wtx *gorm.DB) error {
				for i := range batch {
					c := &batch[i]
					engagement, score, hot := Scores(c, now)
					err := wtx.Model(&models.Clip{}).Where("id = ?", c.ID).UpdateColumns(map[string]any{
						"engagement_count": engagement,
						"trending_score":   score,
						"hot_score":        hot,
					}).Error
					if err != nil {
						return fmt.Errorf("updating clip %s: %w", c.ID, err)
					}
				}
				updated += len(batch)
				return nil
			})
		}).Error
	refreshDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		refreshErrors.Inc()
		return updated, err
	}

	span.SetAttributes(attribute.Int("updated", updated))
	clipsRefreshed.Add(float64(updated))
	lastRefresh.SetToCurrentTime()
	s.logger.Info("trending scores refreshed", "clips", updated, "window", window, "duration", time.Since(start))
	return updated, nil
}

// TopTrending returns live, visible clips by trending score.
func (s *Service) TopTrending(ctx context.Context, limit, offset int) ([]models.Clip, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	var clips []models.Clip
	err := s.db.WithContext(ctx).
		Where("is_removed = ? AND is_hidden = ?", false, false).
		Order("trending_score DESC").Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&clips).Error
	return clips, err
}

type SchedulerConfig struct {
	// cron spec, eg "@every 60m" or "0 * * * *"
	Schedule string
	Window   time.Duration
}

// RunScheduler refreshes once immediately and then on the configured
// schedule, until ctx is done.
func (s *Service) RunScheduler(ctx context.Context, cfg SchedulerConfig) error {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	refresh := func() {
		if _, err := s.Refresh(ctx, cfg.Window); err != nil && ctx.Err() == nil {
			s.logger.Error("trending refresh failed", "err", err)
		}
	}

	c := util.NewCron(s.logger)
	if _, err := c.AddFunc(cfg.Schedule, refresh); err != nil {
		return fmt.Errorf("invalid trending schedule %q: %w", cfg.Schedule, err)
	}
	s.logger.Info("trending scheduler started", "schedule", cfg.Schedule)

	refresh()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("trending scheduler stopped")
	return nil
}
