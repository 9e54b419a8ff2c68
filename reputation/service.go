package reputation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrClipNotFound       = errors.New("clip not found")
	ErrCommentNotFound    = errors.New("comment not found")
	ErrSelfVote           = errors.New("cannot vote on your own content")
	ErrInvalidVote        = errors.New("vote must be -1, 0 or 1")
	ErrInvalidBadge       = errors.New("invalid badge id")
	ErrUnknownActivity    = errors.New("unknown activity type")
	ErrUnknownLeaderboard = errors.New("unknown leaderboard type")
)

const (
	ActivityComment    = "comment"
	ActivityVote       = "vote"
	ActivitySubmission = "submission"
)

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 100

	defaultCacheTTL = time.Minute
)

type Config struct {
	DB *gorm.DB
	// shared leaderboard cache; a process-local cache is used when nil
	Cache    *cache.Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type Service struct {
	db       *gorm.DB
	cache    *cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger

	now func() time.Time
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	c := cfg.Cache
	if c == nil {
		c = cache.New(&cache.Options{
			LocalCache: cache.NewTinyLFU(1_000, cfg.CacheTTL),
		})
	}
	return &Service{
		db:       cfg.DB,
		cache:    c,
		cacheTTL: cfg.CacheTTL,
		logger:   logger.With("component", "reputation"),
		now:      time.Now,
	}
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > MaxPageLimit {
		return DefaultPageLimit
	}
	return limit
}

func (s *Service) getUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return &u, nil
}

// nil when the user has no recorded activity
func (s *Service) getStats(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	var st models.UserStats
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading user stats: %w", err)
	}
	return &st, nil
}

type UserReputation struct {
	UserID          uuid.UUID         `json:"user_id"`
	Username        string            `json:"username"`
	DisplayName     string            `json:"display_name"`
	AvatarURL       *string           `json:"avatar_url,omitempty"`
	KarmaPoints     int               `json:"karma_points"`
	Rank            string            `json:"rank"`
	TrustScore      int               `json:"trust_score"`
	Trust           TrustBreakdown    `json:"trust_breakdown"`
	EngagementScore int               `json:"engagement_score"`
	Badges          []AwardedBadge    `json:"badges"`
	Stats           *models.UserStats `json:"stats,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

func (s *Service) GetUserReputation(ctx context.Context, userID uuid.UUID) (*UserReputation, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.getStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	awarded, err := s.UserBadges(ctx, userID)
	if err != nil {
		return nil, err
	}
	trust := ComputeTrust(u, stats, s.now())
	return &UserReputation{
		UserID:          u.ID,
		Username:        u.Username,
		DisplayName:     u.DisplayName,
		AvatarURL:       u.AvatarURL,
		KarmaPoints:     u.KarmaPoints,
		Rank:            RankFor(u.KarmaPoints),
		TrustScore:      trust.TotalScore,
		Trust:           trust,
		EngagementScore: EngagementScore(stats),
		Badges:          awarded,
		Stats:           stats,
		CreatedAt:       u.CreatedAt,
	}, nil
}

func (s *Service) TrustBreakdown(ctx context.Context, userID uuid.UUID) (*TrustBreakdown, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := s.getStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	b := ComputeTrust(u, stats, s.now())
	return &b, nil
}

// RefreshScores recomputes and stores the trust and engagement scores that
// the trust leaderboard is ordered by.
func (s *Service) RefreshScores(ctx context.Context, userID uuid.UUID) (*models.UserStats, error) {
	u, err := s.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var stats *models.UserStats
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		st, err := ensureStats(tx, userID)
		if err != nil {
			return err
		}
		st.TrustScore = ComputeTrust(u, st, s.now()).TotalScore
		st.EngagementScore = EngagementScore(st)
		stats = st
		return tx.Model(&models.UserStats{}).Where("user_id = ?", userID).UpdateColumns(map[string]any{
			"trust_score":      st.TrustScore,
			"engagement_score": st.EngagementScore,
			"updated_at":       s.now(),
		}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing scores: %w", err)
	}
	return stats, nil
}

func ensureStats(tx *gorm.DB, userID uuid.UUID) (*models.UserStats, error) {
	var st models.UserStats
	err := tx.Where("user_id = ?", userID).Take(&st).Error
	if err == nil {
		return &st, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	st = models.UserStats{UserID: userID}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&st)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// created concurrently
		if err := tx.Where("user_id = ?", userID).Take(&st).Error; err != nil {
			return nil, err
		}
	}
	return &st, nil
}

// IncrementUserActivity adds count to the user's comment, vote or submission
// total and marks the user active today.
func (s *Service) IncrementUserActivity(ctx context.Context, userID uuid.UUID, activity string, count int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return incrementActivity(tx, userID, activity, count, s.now())
	})
}

func incrementActivity(tx *gorm.DB, userID uuid.UUID, activity string, count int, now time.Time) error {
	var column string
	switch activity {
	case ActivityComment:
		column = "total_comments"
	case ActivityVote:
		column = "total_votes_cast"
	case ActivitySubmission:
		column = "total_clips_submitted"
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActivity, activity)
	}

	st, err := ensureStats(tx, userID)
	if err != nil {
		return fmt.Errorf("ensuring user stats: %w", err)
	}
	updates := map[string]any{
		column:       gorm.Expr(column+" + ?", count),
		"updated_at": now,
	}
	today := now.UTC().Truncate(24 * time.Hour)
	if st.LastActiveDate == nil || st.LastActiveDate.UTC().Before(today) {
		updates["days_active"] = gorm.Expr("days_active + 1")
		updates["last_active_date"] = today
	}
	return tx.Model(&models.UserStats{}).Where("user_id = ?", userID).UpdateColumns(updates).Error
}

func (s *Service) KarmaHistory(ctx context.Context, userID uuid.UUID, limit int) ([]models.KarmaHistory, error) {
	var out []models.KarmaHistory
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	return out, err
}

type KarmaBreakdown struct {
	ClipKarma    int `json:"clip_karma"`
	CommentKarma int `json:"comment_karma"`
	OtherKarma   int `json:"other_karma"`
	TotalKarma   int `json:"total_karma"`
}

func (s *Service) KarmaBreakdown(ctx context.Context, userID uuid.UUID) (*KarmaBreakdown, error) {
	var rows []struct {
		Source string
		Total  int
	}
	err := s.db.WithContext(ctx).Model(&models.KarmaHistory{}).
		Select("source, COALESCE(SUM(amount), 0) AS total").
		Where("user_id = ?", userID).
		Group("source").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("summing karma: %w", err)
	}
	var kb KarmaBreakdown
	for _, r := range rows {
		switch r.Source {
		case models.KarmaSourceClipVote:
			kb.ClipKarma += r.Total
		case models.KarmaSourceCommentVote:
			kb.CommentKarma += r.Total
		default:
			kb.OtherKarma += r.Total
		}
		kb.TotalKarma += r.Total
	}
	return &kb, nil
}

// AdjustKarma applies a manual karma change, recorded as an admin adjustment.
func (s *Service) AdjustKarma(ctx context.Context, userID uuid.UUID, amount int) error {
	if _, err := s.getUser(ctx, userID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return addKarma(tx, userID, amount, models.KarmaSourceAdmin, nil, s.now())
	})
}

func addKarma(tx *gorm.DB, userID uuid.UUID, amount int, source string, sourceID *uuid.UUID, now time.Time) error {
	if amount == 0 {
		return nil
	}
	err := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("karma_points", gorm.Expr("karma_points + ?", amount)).Error
	if err != nil {
		return fmt.Errorf("updating karma: %w", err)
	}
	err = tx.Create(&models.KarmaHistory{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Source:    source,
		SourceID:  sourceID,
		CreatedAt: now,
	}).Error
	if err != nil {
		return fmt.Errorf("recording karma: %w", err)
	}
	karmaChanges.WithLabelValues(source).Inc()
	return nil
}
