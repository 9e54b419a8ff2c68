package webhooks

import (
	"context"
	"fmt"
	"time"

	"github.com/subculture-collective/clipper/util"
)

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
}

// RunWorker drains due deliveries once, then on a fixed schedule until ctx
// is done. Deliveries are claimed before sending, so several workers may
// share a database.
func (s *Service) RunWorker(ctx context.Context, cfg WorkerConfig) error {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	tick := func() {
		// keep draining while full batches come back
		for ctx.Err() == nil {
			n, err := s.ProcessPendingDeliveries(ctx, cfg.BatchSize)
			if err != nil {
				s.logger.Error("webhook worker batch failed", "err", err)
				return
			}
			if n > 0 {
				s.logger.Debug("webhook worker processed batch", "deliveries", n)
			}
			if n < cfg.BatchSize {
				return
			}
		}
	}

	c := util.NewCron(s.logger)
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.Interval), tick); err != nil {
		return fmt.Errorf("scheduling webhook worker: %w", err)
	}
	s.refreshActiveGauge(ctx)
	s.logger.Info("webhook worker started", "interval", cfg.Interval, "batch", cfg.BatchSize)

	tick()
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("webhook worker stopped")
	return nil
}
