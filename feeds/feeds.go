package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-redis/cache/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound           = errors.New("feed not found")
	ErrForbidden          = errors.New("feed belongs to another user")
	ErrInvalidName        = errors.New("feed name must be 1 to 100 characters")
	ErrInvalidDescription = errors.New("feed description must be at most 500 characters")
	ErrClipNotFound       = errors.New("clip not found")
	ErrDuplicateClip      = errors.New("clip already in feed")
	ErrClipNotInFeed      = errors.New("clip not in feed")
	ErrInvalidOrder       = errors.New("reorder must list every clip in the feed exactly once")
	ErrSelfFollow         = errors.New("cannot follow your own feed")
	ErrPrivateFeed        = errors.New("cannot follow a private feed")
)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 500

	DefaultDiscoverLimit = 20
	MaxDiscoverLimit     = 100

	defaultCacheTTL = 2 * time.Minute
)

type Config struct {
	DB *gorm.DB
	// shared cache for discovery pages; process-local when nil
	Cache    *cache.Cache
	CacheTTL time.Duration
	Logger   *slog.Logger
}

type Service struct {
	db       *gorm.DB
	cache    *cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	now      func() time.Time
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
		logger:   logger.With("component", "feeds"),
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

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || utf8.RuneCountInString(name) > MaxNameLength {
		return "", ErrInvalidName
	}
	return name, nil
}

func validateDescription(desc *string) error {
	if desc != nil && utf8.RuneCountInString(*desc) > MaxDescriptionLength {
		return ErrInvalidDescription
	}
	return nil
}

type CreateFeedRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

// CreateFeed creates a feed owned by ownerID. Feeds are public unless the
// request says otherwise.
func (s *Service) CreateFeed(ctx context.Context, ownerID uuid.UUID, req CreateFeedRequest) (*models.Feed, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return nil, err
	}
	if err := validateDescription(req.Description); err != nil {
		return nil, err
	}
	public := true
	if req.IsPublic != nil {
		public = *req.IsPublic
	}
	now := s.now()
	feed := &models.Feed{
		ID:          uuid.New(),
		UserID:      ownerID,
		Name:        name,
		Description: req.Description,
		IsPublic:    public,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.WithContext(ctx).Create(feed).Error; err != nil {
		return nil, fmt.Errorf("creating feed: %w", err)
	}
	feedsCreated.Inc()
	return feed, nil
}

func (s *Service) getFeed(ctx context.Context, feedID uuid.UUID) (*models.Feed, error) {
	var f models.Feed
	err := s.db.WithContext(ctx).Where("id = ?", feedID).Take(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func (s *Service) ownedFeed(ctx context.Context, feedID, ownerID uuid.UUID) (*models.Feed, error) {
	f, err := s.getFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if f.UserID != ownerID {
		return nil, ErrForbidden
	}
	return f, nil
}

// GetFeed loads a feed. Private feeds are reported as not found to anyone but
// their owner; viewer is nil for anonymous requests.
func (s *Service) GetFeed(ctx context.Context, feedID uuid.UUID, viewer *uuid.UUID) (*models.Feed, error) {
	f, err := s.getFeed(ctx, feedID)
	if err != nil {
		return nil, err
	}
	if !f.IsPublic && (viewer == nil || *viewer != f.UserID) {
		return nil, ErrNotFound
	}
	return f, nil
}

// ListUserFeeds lists a user's feeds, including private ones only when the
// owner is asking.
func (s *Service) ListUserFeeds(ctx context.Context, ownerID uuid.UUID, viewer *uuid.UUID) ([]models.Feed, error) {
	q := s.db.WithContext(ctx).Where("user_id = ?", ownerID)
	if viewer == nil || *viewer != ownerID {
		q = q.Where("is_public = ?", true)
	}
	feeds := []models.Feed{}
	err := q.Order("created_at DESC").Find(&feeds).Error
	return feeds, err
}

type UpdateFeedRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	IsPublic    *bool   `json:"is_public,omitempty"`
}

func (s *Service) UpdateFeed(ctx context.Context, feedID, ownerID uuid.UUID, req UpdateFeedRequest) (*models.Feed, error) {
	f, err := s.ownedFeed(ctx, feedID, ownerID)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name, err := validateName(*req.Name)
		if err != nil {
			return nil, err
		}
		f.Name = name
	}
	if req.Description != nil {
		if err := validateDescription(req.Description); err != nil {
			return nil, err
		}
		f.Description = req.Description
	}
	if req.IsPublic != nil {
		f.IsPublic = *req.IsPublic
	}
	f.UpdatedAt = s.now()
	err = s.db.WithContext(ctx).Model(&models.Feed{}).Where("id = ?", f.ID).
		Select("name", "description", "is_public", "updated_at").
		Updates(f).Error
	if err != nil {
		return nil, fmt.Errorf("updating feed: %w", err)
	}
	return f, nil
}

// DeleteFeed removes a feed along with its items and follows.
func (s *Service) DeleteFeed(ctx context.Context, feedID, ownerID uuid.UUID) error {
	if _, err := s.ownedFeed(ctx, feedID, ownerID); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("feed_id = ?", feedID).Delete(&models.FeedItem{}).Error; err != nil {
			return err
		}
		if err := tx.Where("feed_id = ?", feedID).Delete(&models.FeedFollow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", feedID).Delete(&models.Feed{}).Error
	})
}
