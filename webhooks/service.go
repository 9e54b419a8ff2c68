package webhooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"github.com/subculture-collective/clipper/util/ssrf"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("webhooks")

var (
	ErrNotFound         = errors.New("webhook not found")
	ErrForbidden        = errors.New("webhook belongs to another user")
	ErrInvalidEvents    = errors.New("invalid webhook events")
	ErrInvalidURL       = errors.New("invalid webhook url")
	ErrReplayFailed     = errors.New("dead letter replay failed")
	ErrSubscriptionGone = errors.New("subscription no longer exists")
)

const (
	DefaultMaxAttempts   = 5
	MaxEventsPerWebhook  = 10
	deliveryTimeout      = 30 * time.Second
	claimLease           = 2 * deliveryTimeout
	maxResponseBodyBytes = 10 * 1024
)

type Config struct {
	DB *gorm.DB
	// defaults to a client that refuses to connect to non-public addresses
	HTTPClient *http.Client
	// concurrent deliveries per batch
	Concurrency int
	MaxAttempts int
	// skips the public address check on subscription URLs, for tests and
	// local development
	AllowPrivateURLs bool
	Logger           *slog.Logger
}

type Service struct {
	db           *gorm.DB
	client       *http.Client
	concurrency  int
	maxAttempts  int
	allowPrivate bool
	logger       *slog.Logger

	// overridden in tests
	now func() time.Time
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: otelhttp.NewTransport(ssrf.PublicOnlyTransport()),
			Timeout:   deliveryTimeout,
		}
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Service{
		db:           cfg.DB,
		client:       client,
		concurrency:  cfg.Concurrency,
		maxAttempts:  cfg.MaxAttempts,
		allowPrivate: cfg.AllowPrivateURLs,
		logger:       logger.With("component", "webhooks"),
		now:          time.Now,
	}
}

func (s *Service) validateURL(ctx context.Context, raw string) error {
	if s.allowPrivate {
		return nil
	}
	if err := ssrf.ValidateURL(ctx, raw); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	return nil
}

func validateEvents(events []string) error {
	if len(events) == 0 {
		return fmt.Errorf("%w: at least one event is required", ErrInvalidEvents)
	}
	if len(events) > MaxEventsPerWebhook {
		return fmt.Errorf("%w: at most %d events", ErrInvalidEvents, MaxEventsPerWebhook)
	}
	supported := make(map[string]bool)
	for _, e := range models.SupportedWebhookEvents() {
		supported[e] = true
	}
	for _, e := range events {
		if !supported[e] {
			return fmt.Errorf("%w: unsupported event %q", ErrInvalidEvents, e)
		}
	}
	return nil
}

type CreateSubscriptionRequest struct {
	URL         string   `json:"url"`
	Events      []string `json:"events"`
	Description *string  `json:"description,omitempty"`
}

// CreateSubscription registers a webhook. The returned subscription is the
// only time its secret is readable by the caller.
func (s *Service) CreateSubscription(ctx context.Context, userID uuid.UUID, req CreateSubscriptionRequest) (*models.WebhookSubscription, error) {
	if err := s.validateURL(ctx, req.URL); err != nil {
		return nil, err
	}
	if err := validateEvents(req.Events); err != nil {
		return nil, err
	}
	secret, err := generateSecret()
	if err != nil {
		return nil, fmt.Errorf("generating secret: %w", err)
	}

	sub := &models.WebhookSubscription{
		ID:          uuid.New(),
		UserID:      userID,
		URL:         req.URL,
		Secret:      secret,
		Events:      req.Events,
		IsActive:    true,
		Description: req.Description,
	}
	if err := s.db.WithContext(ctx).Create(sub).Error; err != nil {
		return nil, fmt.Errorf("creating subscription: %w", err)
	}
	s.refreshActiveGauge(ctx)
	return sub, nil
}

// GetSubscription loads a subscription owned by userID.
func (s *Service) GetSubscription(ctx context.Context, id, userID uuid.UUID) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if sub.UserID != userID {
		return nil, ErrForbidden
	}
	return &sub, nil
}

func (s *Service) ListSubscriptions(ctx context.Context, userID uuid.UUID) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

type UpdateSubscriptionRequest struct {
	URL         *string  `json:"url,omitempty"`
	Events      []string `json:"events,omitempty"`
	Description *string  `json:"description,omitempty"`
	IsActive    *bool    `json:"is_active,omitempty"`
}

// UpdateSubscription applies the non-nil fields of req. A non-nil but empty
// event list is rejected rather than treated as "no change".
func (s *Service) UpdateSubscription(ctx context.Context, id, userID uuid.UUID, req UpdateSubscriptionRequest) (*models.WebhookSubscription, error) {
	sub, err := s.GetSubscription(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	var cols []string
	if req.URL != nil {
		if err := s.validateURL(ctx, *req.URL); err != nil {
			return nil, err
		}
		sub.URL = *req.URL
		cols = append(cols, "url")
	}
	if req.Events != nil {
		if err := validateEvents(req.Events); err != nil {
			return nil, err
		}
		sub.Events = req.Events
		cols = append(cols, "events")
	}
	if req.Description != nil {
		sub.Description = req.Description
		cols = append(cols, "description")
	}
	if req.IsActive != nil {
		sub.IsActive = *req.IsActive
		cols = append(cols, "is_active")
	}
	if len(cols) == 0 {
		return sub, nil
	}

	// struct updates so the events column goes through its serializer
	if err := s.db.WithContext(ctx).Model(sub).Select(cols).Updates(sub).Error; err != nil {
		return nil, fmt.Errorf("updating subscription: %w", err)
	}
	s.refreshActiveGauge(ctx)
	return sub, nil
}

func (s *Service) DeleteSubscription(ctx context.Context, id, userID uuid.UUID) error {
	sub, err := s.GetSubscription(ctx, id, userID)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ? AND status IN ?", sub.ID,
			[]string{models.DeliveryStatusPending, models.DeliveryStatusProcessing, models.DeliveryStatusFailed}).
			Delete(&models.WebhookDelivery{}).Error; err != nil {
			return err
		}
		return tx.Delete(sub).Error
	})
	if err != nil {
		return fmt.Errorf("deleting subscription: %w", err)
	}
	s.refreshActiveGauge(ctx)
	return nil
}

func (s *Service) RegenerateSecret(ctx context.Context, id, userID uuid.UUID) (string, error) {
	sub, err := s.GetSubscription(ctx, id, userID)
	if err != nil {
		return "", err
	}
	secret, err := generateSecret()
	if err != nil {
		return "", fmt.Errorf("generating secret: %w", err)
	}
	if err := s.db.WithContext(ctx).Model(sub).Update("secret", secret).Error; err != nil {
		return "", err
	}
	return secret, nil
}

func (s *Service) refreshActiveGauge(ctx context.Context) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.WebhookSubscription{}).Where("is_active = ?", true).Count(&n).Error; err != nil {
		s.logger.Warn("failed to count active subscriptions", "err", err)
		return
	}
	activeSubscriptions.Set(float64(n))
}

type DeliveryStats struct {
	Pending    int64 `json:"pending"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	DeadLetter int64 `json:"dead_letter"`
	Total      int64 `json:"total"`
}

// Stats counts a subscription's deliveries by status.
func (s *Service) Stats(ctx context.Context, id, userID uuid.UUID) (*DeliveryStats, error) {
	if _, err := s.GetSubscription(ctx, id, userID); err != nil {
		return nil, err
	}
	var rows []struct {
		Status string
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
		Select("status, COUNT(*) AS n").
		Where("subscription_id = ?", id).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	var st DeliveryStats
	for _, r := range rows {
		switch r.Status {
		case models.DeliveryStatusPending, models.DeliveryStatusProcessing:
			st.Pending += r.N
		case models.DeliveryStatusDelivered:
			st.Delivered = r.N
		case models.DeliveryStatusFailed:
			st.Failed = r.N
		case models.DeliveryStatusDeadLetter:
			st.DeadLetter = r.N
		}
		st.Total += r.N
	}
	return &st, nil
}

// ListDeliveries pages through a subscription's deliveries, newest first.
func (s *Service) ListDeliveries(ctx context.Context, id, userID uuid.UUID, page, limit int) ([]models.WebhookDelivery, int64, error) {
	if _, err := s.GetSubscription(ctx, id, userID); err != nil {
		return nil, 0, err
	}
	page, limit = normalizePage(page, limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).Where("subscription_id = ?", id).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.WebhookDelivery
	err := s.db.WithContext(ctx).Where("subscription_id = ?", id).Order("created_at DESC").Limit(limit).Offset((page - 1) * limit).Find(&out).Error
	return out, total, err
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}
