// Package retention schedules registry wide expiry sweeps.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/liangmulu/open-chat/pkg/config"
	"github.com/liangmulu/open-chat/pkg/logger"
)

// Start starts the retention scheduler if enabled. Returns a cancel func.
func Start(ctx context.Context, cfg config.RetentionConfig, s *Sweeper) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}
	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = config.DefaultCron
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "path", s.opts.Dir, "workers", s.opts.Workers, "paused", cfg.Paused)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, s, cronExpr, cfg.Paused)
	return cancel, nil
}

// runScheduler uses gronx to compute the next tick for the configured cron
// expression and sleeps until that time.
func runScheduler(ctx context.Context, s *Sweeper, cronExpr string, paused bool) {
	for {
		next, err := gronx.NextTickAfter(cronExpr, s.now().UTC(), false)
		wait := 30 * time.Second
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
		} else {
			wait = time.Until(next)
		}

		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		case <-time.After(wait):
		}
		if err != nil {
			continue
		}
		if paused {
			logger.Debug("retention_paused_skip", "tick", next.Format(time.RFC3339))
			continue
		}
		if _, err := s.RunOnce(ctx); err != nil {
			if errors.Is(err, ErrLeaseHeld) {
				logger.Info("retention_run_skipped", "reason", err.Error())
				continue
			}
			logger.Error("retention_run_error", "error", err)
		}
	}
}
