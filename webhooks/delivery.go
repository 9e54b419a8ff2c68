package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/subculture-collective/clipper/models"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

// TriggerEvent queues a delivery of the event for every active subscription
// listening to it, and returns how many were queued.
func (s *Service) TriggerEvent(ctx context.Context, eventType string, data map[string]any) (int, error) {
	if err := validateEvents([]string{eventType}); err != nil {
		return 0, err
	}

	payload, err := json.Marshal(models.WebhookEventPayload{
		Event:     eventType,
		Timestamp: s.now().UTC(),
		Data:      data,
	})
	if err != nil {
		return 0, fmt.Errorf("encoding payload: %w", err)
	}

	var subs []models.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("is_active = ?", true).Find(&subs).Error; err != nil {
		return 0, err
	}

	eventID := uuid.New()
	var deliveries []models.WebhookDelivery
	for _, sub := range subs {
		if !sub.Listens(eventType) {
			continue
		}
		deliveries = append(deliveries, models.WebhookDelivery{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			EventType:      eventType,
			EventID:        eventID,
			Payload:        string(payload),
			Status:         models.DeliveryStatusPending,
			MaxAttempts:    s.maxAttempts,
		})
	}
	if len(deliveries) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).Create(&deliveries).Error; err != nil {
		return 0, fmt.Errorf("queueing deliveries: %w", err)
	}
	s.logger.Info("webhook event queued", "event", eventType, "event_id", eventID, "deliveries", len(deliveries))
	return len(deliveries), nil
}

// ProcessPendingDeliveries sends up to batchSize due deliveries, oldest
// first, and returns how many were attempted. Individual delivery failures
// are recorded on the delivery, not returned.
func (s *Service) ProcessPendingDeliveries(ctx context.Context, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	now := s.now()

	var due []models.WebhookDelivery
	err := s.db.WithContext(ctx).
		Scopes(dueAt(now)).
		Order("created_at ASC").
		Limit(batchSize).
		Find(&due).Error
	if err != nil {
		return 0, fmt.Errorf("loading due deliveries: %w", err)
	}
	due, err = s.claim(ctx, due, now)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	subs, err := s.loadSubscriptions(ctx, due)
	if err != nil {
		return 0, err
	}

	var eg errgroup.Group
	eg.SetLimit(s.concurrency)
	for i := range due {
		d := &due[i]
		eg.Go(func() error {
			if err := s.processDelivery(ctx, d, subs[d.SubscriptionID]); err != nil {
				s.logger.Error("failed to record webhook delivery outcome", "delivery", d.ID, "err", err)
			}
			return nil
		})
	}
	eg.Wait()
	return len(due), nil
}

// dueAt matches deliveries that should be sent at now: new ones, failed ones
// whose retry time has come, and claimed ones whose lease ran out.
func dueAt(now time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("(status = ? OR (status IN ? AND next_attempt_at <= ?))",
			models.DeliveryStatusPending,
			[]string{models.DeliveryStatusFailed, models.DeliveryStatusProcessing},
			now)
	}
}

// claim marks each due delivery as processing, leased until now+claimLease,
// and keeps only the ones this call won. A delivery claimed by a concurrent
// batch no longer matches dueAt and is skipped.
func (s *Service) claim(ctx context.Context, due []models.WebhookDelivery, now time.Time) ([]models.WebhookDelivery, error) {
	claimed := due[:0]
	for _, d := range due {
		res := s.db.WithContext(ctx).Model(&models.WebhookDelivery{}).
			Where("id = ?", d.ID).
			Scopes(dueAt(now)).
			Updates(map[string]any{
				"status":          models.DeliveryStatusProcessing,
				"next_attempt_at": now.Add(claimLease),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("claiming delivery %s: %w", d.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			claimed = append(claimed, d)
		}
	}
	return claimed, nil
}

func (s *Service) loadSubscriptions(ctx context.Context, deliveries []models.WebhookDelivery) (map[uuid.UUID]*models.WebhookSubscription, error) {
	ids := make([]uuid.UUID, 0, len(deliveries))
	seen := make(map[uuid.UUID]bool)
	for _, d := range deliveries {
		if !seen[d.SubscriptionID] {
			seen[d.SubscriptionID] = true
			ids = append(ids, d.SubscriptionID)
		}
	}
	var subs []models.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("loading subscriptions: %w", err)
	}
	out := make(map[uuid.UUID]*models.WebhookSubscription, len(subs))
	for i := range subs {
		out[subs[i].ID] = &subs[i]
	}
	return out, nil
}

type attemptResult struct {
	statusCode int
	body       string
	err        error
	duration   time.Duration
}

func (r *attemptResult) ok() bool {
	return r.err == nil && r.statusCode >= 200 && r.statusCode < 300
}

func (r *attemptResult) errorMessage() string {
	if r.err != nil {
		return "network error: " + r.err.Error()
	}
	return fmt.Sprintf("HTTP %d: %s", r.statusCode, r.body)
}

// dlqReason classifies why a delivery exhausted its attempts.
func (r *attemptResult) dlqReason() string {
	switch {
	case r.err != nil:
		return "max_retries_network_error"
	case r.statusCode >= 400 && r.statusCode < 500:
		return "max_retries_client_error"
	case r.statusCode >= 500:
		return "max_retries_server_error"
	default:
		return "max_retries_http_error"
	}
}

// send POSTs a signed payload. Transport errors are reported in the result,
// not as an error return.
func (s *Service) send(ctx context.Context, sub *models.WebhookSubscription, deliveryID uuid.UUID, eventType, payload string, replay bool) *attemptResult {
	ctx, span := tracer.Start(ctx, "send")
	defer span.End()
	span.SetAttributes(
		attribute.String("event", eventType),
		attribute.String("delivery", deliveryID.String()),
		attribute.Bool("replay", replay),
	)

	start := time.Now()
	res := &attemptResult{}
	defer func() {
		res.duration = time.Since(start)
		if res.err != nil {
			span.SetStatus(codes.Error, res.err.Error())
		}
		span.SetAttributes(attribute.Int("status_code", res.statusCode))
	}()

	ctx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	body := []byte(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		res.err = err
		return res
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(SignatureHeader, Sign(body, sub.Secret))
	req.Header.Set(EventHeader, eventType)
	req.Header.Set(DeliveryIDHeader, deliveryID.String())
	if replay {
		req.Header.Set(ReplayHeader, "true")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		res.err = err
		return res
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	res.statusCode = resp.StatusCode
	res.body = string(respBody)
	deliveryStatusCodes.WithLabelValues(eventType, strconv.Itoa(resp.StatusCode)).Inc()
	return res
}

func (s *Service) processDelivery(ctx context.Context, d *models.WebhookDelivery, sub *models.WebhookSubscription) error {
	if sub == nil || !sub.IsActive {
		// parked: failed with no next attempt is never picked up again
		msg := "subscription inactive or deleted"
		return s.db.WithContext(ctx).Model(d).Updates(map[string]any{
			"status":          models.DeliveryStatusFailed,
			"error_message":   msg,
			"next_attempt_at": nil,
		}).Error
	}

	res := s.send(ctx, sub, d.ID, d.EventType, d.Payload, false)
	now := s.now()
	attempts := d.AttemptCount + 1

	if res.ok() {
		deliveriesTotal.WithLabelValues(d.EventType, "success").Inc()
		deliveryDuration.WithLabelValues(d.EventType, "success").Observe(res.duration.Seconds())
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Model(d).Updates(map[string]any{
				"status":           models.DeliveryStatusDelivered,
				"attempt_count":    attempts,
				"http_status_code": res.statusCode,
				"response_body":    res.body,
				"error_message":    nil,
				"next_attempt_at":  nil,
				"delivered_at":     now,
			}).Error
			if err != nil {
				return err
			}
			// subscriptions are shared between concurrent deliveries
			return tx.Model(&models.WebhookSubscription{}).Where("id = ?", sub.ID).Update("last_delivery_at", now).Error
		})
	}

	msg := res.errorMessage()
	var statusCode *int
	var respBody *string
	if res.err == nil {
		statusCode = &res.statusCode
		respBody = &res.body
	}

	if attempts < d.MaxAttempts {
		next := now.Add(RetryDelay(attempts))
		deliveriesTotal.WithLabelValues(d.EventType, "retry").Inc()
		deliveryDuration.WithLabelValues(d.EventType, "retry").Observe(res.duration.Seconds())
		retriesScheduled.WithLabelValues(d.EventType).Inc()
		s.logger.Warn("webhook delivery failed, will retry", "delivery", d.ID, "attempt", attempts, "next_attempt_at", next, "err", msg)
		return s.db.WithContext(ctx).Model(d).Updates(map[string]any{
			"status":           models.DeliveryStatusFailed,
			"attempt_count":    attempts,
			"http_status_code": statusCode,
			"response_body":    respBody,
			"error_message":    msg,
			"next_attempt_at":  next,
		}).Error
	}

	reason := res.dlqReason()
	deliveriesTotal.WithLabelValues(d.EventType, "failed").Inc()
	deliveryDuration.WithLabelValues(d.EventType, "failed").Observe(res.duration.Seconds())
	dlqMovements.WithLabelValues(d.EventType, reason).Inc()
	s.logger.Error("webhook delivery exhausted retries", "delivery", d.ID, "attempts", attempts, "reason", reason, "err", msg)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(d).Updates(map[string]any{
			"status":           models.DeliveryStatusDeadLetter,
			"attempt_count":    attempts,
			"http_status_code": statusCode,
			"response_body":    respBody,
			"error_message":    msg,
			"next_attempt_at":  nil,
		}).Error
		if err != nil {
			return err
		}
		return tx.Create(&models.WebhookDeadLetter{
			ID:                 uuid.New(),
			SubscriptionID:     d.SubscriptionID,
			DeliveryID:         d.ID,
			EventType:          d.EventType,
			EventID:            d.EventID,
			Payload:            d.Payload,
			FailureReason:      reason,
			LastErrorMessage:   &msg,
			LastHTTPStatusCode: statusCode,
			LastResponseBody:   respBody,
			AttemptCount:       attempts,
			OriginalCreatedAt:  d.CreatedAt,
			MovedToDLQAt:       now,
		}).Error
	})
}

// ListDeadLetters pages through the DLQ, newest first. A nil userID lists
// every user's entries.
func (s *Service) ListDeadLetters(ctx context.Context, userID *uuid.UUID, page, limit int) ([]models.WebhookDeadLetter, int64, error) {
	page, limit = normalizePage(page, limit)

	scope := func(db *gorm.DB) *gorm.DB {
		if userID == nil {
			return db
		}
		return db.Where("subscription_id IN (?)",
			s.db.Model(&models.WebhookSubscription{}).Select("id").Where("user_id = ?", *userID))
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.WebhookDeadLetter{}).Scopes(scope).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var out []models.WebhookDeadLetter
	err := s.db.WithContext(ctx).Scopes(scope).
		Order("moved_to_dlq_at DESC").
		Limit(limit).Offset((page - 1) * limit).
		Find(&out).Error
	return out, total, err
}

// ReplayDeadLetter sends a dead letter once more, outside the retry
// schedule. The replay outcome is recorded on the entry either way; a
// non-2xx or network failure also returns ErrReplayFailed.
func (s *Service) ReplayDeadLetter(ctx context.Context, id uuid.UUID) (*models.WebhookDeadLetter, error) {
	var dl models.WebhookDeadLetter
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&dl).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var sub models.WebhookSubscription
	if err := s.db.WithContext(ctx).Where("id = ?", dl.SubscriptionID).First(&sub).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSubscriptionGone
		}
		return nil, err
	}

	res := s.send(ctx, &sub, dl.DeliveryID, dl.EventType, dl.Payload, true)
	ok := res.ok()
	now := s.now()
	dl.ReplayCount++
	dl.LastReplayAt = &now
	dl.ReplaySuccessful = &ok
	if !ok {
		msg := res.errorMessage()
		dl.LastErrorMessage = &msg
	}
	err := s.db.WithContext(ctx).Model(&dl).Updates(map[string]any{
		"replay_count":       dl.ReplayCount,
		"last_replay_at":     now,
		"replay_successful":  ok,
		"last_error_message": dl.LastErrorMessage,
	}).Error
	if err != nil {
		return nil, err
	}
	dlqReplays.WithLabelValues(strconv.FormatBool(ok)).Inc()
	if !ok {
		return &dl, fmt.Errorf("%w: %s", ErrReplayFailed, res.errorMessage())
	}
	return &dl, nil
}

func (s *Service) DeleteDeadLetter(ctx context.Context, id uuid.UUID) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.WebhookDeadLetter{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
