package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/subculture-collective/clipper/internal/testutil"
	"github.com/subculture-collective/clipper/models"
	"gorm.io/gorm"
)

type receiver struct {
	mu       sync.Mutex
	status   int
	delay    time.Duration
	requests []*http.Request
	bodies   [][]byte
	calls    atomic.Int32
}

func (rc *receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rc.mu.Lock()
	rc.requests = append(rc.requests, r)
	rc.bodies = append(rc.bodies, body)
	status, delay := rc.status, rc.delay
	rc.mu.Unlock()
	rc.calls.Add(1)
	time.Sleep(delay)
	w.WriteHeader(status)
	w.Write([]byte("ack"))
}

func (rc *receiver) setStatus(code int) {
	rc.mu.Lock()
	rc.status = code
	rc.mu.Unlock()
}

func testService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	s := NewService(Config{
		DB:               db,
		HTTPClient:       http.DefaultClient,
		AllowPrivateURLs: true,
		Concurrency:      4,
	})
	return s, db
}

func TestSignature(t *testing.T) {
	assert := assert.New(t)

	payload := []byte(`{"event":"clip.submitted"}`)
	sig := Sign(payload, "s3cret")
	assert.Len(sig, 64)
	assert.True(VerifySignature(payload, "s3cret", sig))
	assert.False(VerifySignature(payload, "other", sig))
	assert.False(VerifySignature([]byte(`{}`), "s3cret", sig))
	assert.False(VerifySignature(payload, "s3cret", "not-hex"))
}

func TestRetryDelay(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(30*time.Second, RetryDelay(0))
	assert.Equal(60*time.Second, RetryDelay(1))
	assert.Equal(4*time.Minute, RetryDelay(3))
	assert.Equal(time.Hour, RetryDelay(7))
	assert.Equal(time.Hour, RetryDelay(40))
}

func TestSubscriptionLifecycle(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)
	owner := testutil.CreateUser(t, db, "owner", 0)
	other := testutil.CreateUser(t, db, "other", 0)

	_, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{URL: "https://example.com/hook"})
	assert.ErrorIs(err, ErrInvalidEvents)

	_, err = s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{"clip.deleted"},
	})
	assert.ErrorIs(err, ErrInvalidEvents)

	sub, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    "https://example.com/hook",
		Events: []string{models.WebhookEventClipSubmitted},
	})
	require.NoError(t, err)
	assert.Len(sub.Secret, 64)
	assert.True(sub.IsActive)

	got, err := s.GetSubscription(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal([]string{models.WebhookEventClipSubmitted}, got.Events)

	_, err = s.GetSubscription(ctx, sub.ID, other.ID)
	assert.ErrorIs(err, ErrForbidden)
	_, err = s.GetSubscription(ctx, uuid.New(), owner.ID)
	assert.ErrorIs(err, ErrNotFound)

	_, err = s.UpdateSubscription(ctx, sub.ID, owner.ID, UpdateSubscriptionRequest{Events: []string{}})
	assert.ErrorIs(err, ErrInvalidEvents)

	inactive := false
	updated, err := s.UpdateSubscription(ctx, sub.ID, owner.ID, UpdateSubscriptionRequest{
		Events:   []string{models.WebhookEventClipApproved, models.WebhookEventClipRejected},
		IsActive: &inactive,
	})
	require.NoError(t, err)
	assert.False(updated.IsActive)

	got, err = s.GetSubscription(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal([]string{models.WebhookEventClipApproved, models.WebhookEventClipRejected}, got.Events)
	assert.False(got.IsActive)

	secret, err := s.RegenerateSecret(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.NotEqual(sub.Secret, secret)
	_, err = s.RegenerateSecret(ctx, sub.ID, other.ID)
	assert.ErrorIs(err, ErrForbidden)

	subs, err := s.ListSubscriptions(ctx, owner.ID)
	require.NoError(t, err)
	assert.Len(subs, 1)

	assert.ErrorIs(s.DeleteSubscription(ctx, sub.ID, other.ID), ErrForbidden)
	require.NoError(t, s.DeleteSubscription(ctx, sub.ID, owner.ID))
	subs, err = s.ListSubscriptions(ctx, owner.ID)
	require.NoError(t, err)
	assert.Empty(subs)
}

func TestSubscriptionURLValidation(t *testing.T) {
	db := testutil.TestDB(t)
	s := NewService(Config{DB: db})
	owner := testutil.CreateUser(t, db, "owner", 0)

	for _, u := range []string{"ftp://example.com/x", "http://127.0.0.1/hook", "http://10.0.0.5/hook", "not a url"} {
		_, err := s.CreateSubscription(context.Background(), owner.ID, CreateSubscriptionRequest{
			URL:    u,
			Events: []string{models.WebhookEventClipSubmitted},
		})
		assert.ErrorIs(t, err, ErrInvalidURL, u)
	}
}

func TestDeliverySuccess(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)
	owner := testutil.CreateUser(t, db, "owner", 0)

	rc := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	sub, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{models.WebhookEventClipSubmitted},
	})
	require.NoError(t, err)
	_, err = s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{models.WebhookEventClipRejected},
	})
	require.NoError(t, err)

	n, err := s.TriggerEvent(ctx, models.WebhookEventClipSubmitted, map[string]any{"clip_id": "abc"})
	require.NoError(t, err)
	assert.Equal(1, n)

	_, err = s.TriggerEvent(ctx, "user.deleted", nil)
	assert.ErrorIs(err, ErrInvalidEvents)

	processed, err := s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(1, processed)
	require.Len(t, rc.requests, 1)

	req := rc.requests[0]
	body := rc.bodies[0]
	assert.Equal("application/json", req.Header.Get("Content-Type"))
	assert.Equal(UserAgent, req.Header.Get("User-Agent"))
	assert.Equal(models.WebhookEventClipSubmitted, req.Header.Get(EventHeader))
	assert.True(VerifySignature(body, sub.Secret, req.Header.Get(SignatureHeader)))
	assert.Empty(req.Header.Get(ReplayHeader))

	var payload models.WebhookEventPayload
	require.NoError(t, json.Unmarshal(body, &payload))
	assert.Equal(models.WebhookEventClipSubmitted, payload.Event)
	assert.Equal("abc", payload.Data["clip_id"])

	var d models.WebhookDelivery
	require.NoError(t, db.First(&d, "subscription_id = ?", sub.ID).Error)
	assert.Equal(d.ID.String(), req.Header.Get(DeliveryIDHeader))
	assert.Equal(models.DeliveryStatusDelivered, d.Status)
	assert.Equal(1, d.AttemptCount)
	assert.NotNil(d.DeliveredAt)

	got, err := s.GetSubscription(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.NotNil(got.LastDeliveryAt)

	// nothing left to do
	processed, err = s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(0, processed)

	stats, err := s.Stats(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(int64(1), stats.Delivered)
	assert.Equal(int64(1), stats.Total)
}

func TestDeliveryRetryAndDeadLetter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)
	owner := testutil.CreateUser(t, db, "owner", 0)

	rc := &receiver{status: http.StatusServiceUnavailable}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	clock := time.Now()
	s.now = func() time.Time { return clock }

	sub, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{models.WebhookEventClipApproved},
	})
	require.NoError(t, err)
	_, err = s.TriggerEvent(ctx, models.WebhookEventClipApproved, map[string]any{"clip_id": "xyz"})
	require.NoError(t, err)

	for attempt := 1; attempt <= DefaultMaxAttempts; attempt++ {
		processed, err := s.ProcessPendingDeliveries(ctx, 10)
		require.NoError(t, err)
		require.Equal(t, 1, processed, "attempt %d", attempt)

		var d models.WebhookDelivery
		require.NoError(t, db.First(&d, "subscription_id = ?", sub.ID).Error)
		assert.Equal(attempt, d.AttemptCount)
		require.NotNil(t, d.HTTPStatusCode)
		assert.Equal(http.StatusServiceUnavailable, *d.HTTPStatusCode)

		if attempt < DefaultMaxAttempts {
			assert.Equal(models.DeliveryStatusFailed, d.Status)
			require.NotNil(t, d.NextAttemptAt)
			assert.WithinDuration(clock.Add(RetryDelay(attempt)), *d.NextAttemptAt, time.Second)

			// not due yet
			processed, err = s.ProcessPendingDeliveries(ctx, 10)
			require.NoError(t, err)
			assert.Equal(0, processed)

			clock = clock.Add(RetryDelay(attempt) + time.Second)
		} else {
			assert.Equal(models.DeliveryStatusDeadLetter, d.Status)
			assert.Nil(d.NextAttemptAt)
		}
	}
	assert.Equal(int32(DefaultMaxAttempts), rc.calls.Load())

	dls, total, err := s.ListDeadLetters(ctx, &owner.ID, 1, 10)
	require.NoError(t, err)
	assert.Equal(int64(1), total)
	require.Len(t, dls, 1)
	dl := dls[0]
	assert.Equal("max_retries_server_error", dl.FailureReason)
	assert.Equal(DefaultMaxAttempts, dl.AttemptCount)
	require.NotNil(t, dl.LastHTTPStatusCode)
	assert.Equal(http.StatusServiceUnavailable, *dl.LastHTTPStatusCode)

	stranger := uuid.New()
	_, total, err = s.ListDeadLetters(ctx, &stranger, 1, 10)
	require.NoError(t, err)
	assert.Equal(int64(0), total)

	// replay fails while the receiver is still down
	replayed, err := s.ReplayDeadLetter(ctx, dl.ID)
	assert.ErrorIs(err, ErrReplayFailed)
	require.NotNil(t, replayed)
	assert.Equal(1, replayed.ReplayCount)
	assert.False(*replayed.ReplaySuccessful)

	rc.setStatus(http.StatusNoContent)
	replayed, err = s.ReplayDeadLetter(ctx, dl.ID)
	require.NoError(t, err)
	assert.Equal(2, replayed.ReplayCount)
	assert.True(*replayed.ReplaySuccessful)
	last := rc.requests[len(rc.requests)-1]
	assert.Equal("true", last.Header.Get(ReplayHeader))

	stats, err := s.Stats(ctx, sub.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(int64(1), stats.DeadLetter)

	require.NoError(t, s.DeleteDeadLetter(ctx, dl.ID))
	assert.ErrorIs(s.DeleteDeadLetter(ctx, dl.ID), ErrNotFound)
	_, err = s.ReplayDeadLetter(ctx, dl.ID)
	assert.ErrorIs(err, ErrNotFound)
}

func TestNetworkFailureDeadLetter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	db := testutil.TestDB(t)
	s := NewService(Config{
		DB:               db,
		HTTPClient:       http.DefaultClient,
		AllowPrivateURLs: true,
		MaxAttempts:      1,
	})
	owner := testutil.CreateUser(t, db, "owner", 0)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    url,
		Events: []string{models.WebhookEventClipRejected},
	})
	require.NoError(t, err)
	_, err = s.TriggerEvent(ctx, models.WebhookEventClipRejected, nil)
	require.NoError(t, err)

	_, err = s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)

	dls, _, err := s.ListDeadLetters(ctx, nil, 1, 10)
	require.NoError(t, err)
	require.Len(t, dls, 1)
	assert.Equal("max_retries_network_error", dls[0].FailureReason)
	assert.Nil(dls[0].LastHTTPStatusCode)
	require.NotNil(t, dls[0].LastErrorMessage)
	assert.Contains(*dls[0].LastErrorMessage, "network error")
}

func TestInactiveSubscriptionParksDelivery(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)
	owner := testutil.CreateUser(t, db, "owner", 0)

	rc := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(rc)
	defer srv.Close()

	sub, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    srv.URL,
		Events: []string{models.WebhookEventClipSubmitted},
	})
	require.NoError(t, err)
	_, err = s.TriggerEvent(ctx, models.WebhookEventClipSubmitted, nil)
	require.NoError(t, err)

	inactive := false
	_, err = s.UpdateSubscription(ctx, sub.ID, owner.ID, UpdateSubscriptionRequest{IsActive: &inactive})
	require.NoError(t, err)

	processed, err := s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(1, processed)
	assert.Equal(int32(0), rc.calls.Load())

	processed, err = s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(0, processed)
}

func queueOneDelivery(t *testing.T, s *Service, db *gorm.DB, url string) *models.WebhookSubscription {
	t.Helper()
	ctx := context.Background()
	owner := testutil.CreateUser(t, db, "owner", 0)
	sub, err := s.CreateSubscription(ctx, owner.ID, CreateSubscriptionRequest{
		URL:    url,
		Events: []string{models.WebhookEventClipSubmitted},
	})
	require.NoError(t, err)
	n, err := s.TriggerEvent(ctx, models.WebhookEventClipSubmitted, map[string]any{"clip_id": "abc"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return sub
}

func TestConcurrentBatchesSendOnce(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)

	rc := &receiver{status: http.StatusOK, delay: 500 * time.Millisecond}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	sub := queueOneDelivery(t, s, db, srv.URL)

	var wg sync.WaitGroup
	var processed atomic.Int32
	for range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := s.ProcessPendingDeliveries(ctx, 10)
			assert.NoError(err)
			processed.Add(int32(n))
		}()
	}
	wg.Wait()

	assert.Equal(int32(1), processed.Load())
	assert.Equal(int32(1), rc.calls.Load())

	var d models.WebhookDelivery
	require.NoError(t, db.First(&d, "subscription_id = ?", sub.ID).Error)
	assert.Equal(models.DeliveryStatusDelivered, d.Status)
	assert.Equal(1, d.AttemptCount)
}

func TestExpiredClaimIsRetried(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s, db := testService(t)

	rc := &receiver{status: http.StatusOK}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	sub := queueOneDelivery(t, s, db, srv.URL)

	// a worker claimed the delivery and died before recording the outcome
	clock := time.Now()
	s.now = func() time.Time { return clock }
	require.NoError(t, db.Model(&models.WebhookDelivery{}).Where("subscription_id = ?", sub.ID).Updates(map[string]any{
		"status":          models.DeliveryStatusProcessing,
		"next_attempt_at": clock.Add(claimLease),
	}).Error)

	processed, err := s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(0, processed)

	stats, err := s.Stats(ctx, sub.ID, sub.UserID)
	require.NoError(t, err)
	assert.Equal(int64(1), stats.Pending)

	clock = clock.Add(claimLease + time.Second)
	processed, err = s.ProcessPendingDeliveries(ctx, 10)
	require.NoError(t, err)
	assert.Equal(1, processed)
	assert.Equal(int32(1), rc.calls.Load())
}

func TestWorkerSendsSlowDeliveryOnce(t *testing.T) {
	assert := assert.New(t)
	s, db := testService(t)

	// slower than the worker interval, so scheduled ticks overlap the send
	rc := &receiver{status: http.StatusOK, delay: 1500 * time.Millisecond}
	srv := httptest.NewServer(rc)
	defer srv.Close()
	sub := queueOneDelivery(t, s, db, srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.RunWorker(ctx, WorkerConfig{Interval: time.Second})
	}()

	assert.Eventually(func() bool {
		var d models.WebhookDelivery
		if err := db.First(&d, "subscription_id = ?", sub.ID).Error; err != nil {
			return false
		}
		return d.Status == models.DeliveryStatusDelivered
	}, 10*time.Second, 50*time.Millisecond)

	// give the scheduler a couple more ticks
	time.Sleep(2500 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(int32(1), rc.calls.Load())
}
