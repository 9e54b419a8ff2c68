package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/RussellLuo/slidingwindow"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type Decision struct {
	Allowed bool
	Limit   int64
	// -1 when unknown, which happens on the fallback path
	Remaining  int64
	Reset      time.Time
	RetryAfter time.Duration
	// set when the counter backend failed and the in-process limiter decided
	Fallback bool
}

// Limiter approximates a sliding window from two fixed buckets: the current
// bucket's count plus the previous bucket's count weighted by how much of it
// still overlaps the window.
type Limiter struct {
	counter  Counter
	limit    int64
	window   time.Duration
	fallback *expirable.LRU[string, *slidingwindow.Limiter]
	logger   *slog.Logger

	now func() time.Time
}

func NewLimiter(counter Counter, limit int64, window time.Duration, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	if window < time.Second {
		window = time.Second
	}
	return &Limiter{
		counter:  counter,
		limit:    limit,
		window:   window,
		fallback: expirable.NewLRU[string, *slidingwindow.Limiter](50_000, nil, 2*window),
		logger:   logger.With("component", "ratelimit"),
		now:      time.Now,
	}
}

// WithLimit returns a limiter with its own limit and window that shares this
// one's counter backend.
func (l *Limiter) WithLimit(limit int64, window time.Duration) *Limiter {
	nl := NewLimiter(l.counter, limit, window, nil)
	nl.logger = l.logger
	nl.now = l.now
	return nl
}

func (l *Limiter) Limit() int64 {
	return l.limit
}

func (l *Limiter) Allow(ctx context.Context, key string) Decision {
	now := l.now()
	ws := int64(l.window / time.Second)
	bucket := now.Unix() / ws
	elapsed := now.Unix() % ws

	currentKey := fmt.Sprintf("%s:%d", key, bucket)
	previousKey := fmt.Sprintf("%s:%d", key, bucket-1)
	counts, err := l.counter.Get(ctx, currentKey, previousKey)
	if err != nil {
		l.logger.Warn("rate limit counter unavailable, using in-process limiter", "err", err)
		return l.allowFallback(key, now)
	}

	weight := float64(ws-elapsed) / float64(ws)
	weighted := int64(float64(counts[1])*weight) + counts[0]
	if weighted >= l.limit {
		retry := time.Duration(ws-elapsed) * time.Second
		decisions.WithLabelValues("rejected").Inc()
		return Decision{
			Limit:      l.limit,
			Remaining:  0,
			Reset:      now.Add(retry),
			RetryAfter: retry,
		}
	}

	if err := l.counter.Incr(ctx, currentKey, 2*l.window); err != nil {
		l.logger.Warn("rate limit counter unavailable, using in-process limiter", "err", err)
		return l.allowFallback(key, now)
	}
	decisions.WithLabelValues("allowed").Inc()
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: max(l.limit-weighted-1, 0),
		Reset:     time.Unix((bucket+1)*ws, 0),
	}
}

func (l *Limiter) allowFallback(key string, now time.Time) Decision {
	lim, ok := l.fallback.Get(key)
	if !ok {
		lim, _ = slidingwindow.NewLimiter(l.window, l.limit, func() (slidingwindow.Window, slidingwindow.StopFunc) {
			return slidingwindow.NewLocalWindow()
		})
		l.fallback.Add(key, lim)
	}
	d := Decision{
		Limit:     l.limit,
		Remaining: -1,
		Fallback:  true,
	}
	if lim.AllowN(now, 1) {
		d.Allowed = true
		decisions.WithLabelValues("fallback_allowed").Inc()
		return d
	}
	d.Remaining = 0
	d.RetryAfter = l.window
	d.Reset = now.Add(l.window)
	decisions.WithLabelValues("fallback_rejected").Inc()
	return d
}
