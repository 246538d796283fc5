// Package scheduler drives the time-based transitions of the credit ledger.
// The ledger exposes idempotent primitives; the scheduler supplies the clock.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"rwacredit/core"
	"rwacredit/native/credit"
)

const (
	defaultInterval = time.Minute
	defaultPageSize = 100
)

// Config tunes the tick loop.
type Config struct {
	Interval time.Duration
	// PageSize bounds how many plans or positions one tick inspects.
	PageSize int
	// DistributionBatchSize is handed to Distribute; zero uses the ledger
	// default.
	DistributionBatchSize int
	// AutoLiquidate moves defaulted positions into liquidation.
	AutoLiquidate bool
	// AutoDistribute advances pending settlement distributions.
	AutoDistribute bool
}

// TickResult summarises one pass over the ledger.
type TickResult struct {
	Missed       int
	Liquidated   int
	Distributed  int
	Failures     int
	PendingBatch int
}

// Scheduler periodically marks missed payments, liquidates defaulted
// positions and advances distributions.
type Scheduler struct {
	ledger *core.Ledger
	cfg    Config
	logger *slog.Logger
}

func New(ledger *core.Ledger, cfg Config, logger *slog.Logger) (*Scheduler, error) {
	if ledger == nil {
		return nil, errors.New("scheduler: ledger required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{ledger: ledger, cfg: cfg, logger: logger.With("component", "scheduler")}, nil
}

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		if _, err := s.Tick(ctx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("scheduler tick failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Tick performs a single pass. Per-item failures are logged and counted; only
// listing failures abort the pass.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var result TickResult
	due, err := s.ledger.DuePlans(ctx, s.cfg.PageSize)
	if err != nil {
		return result, err
	}
	for _, plan := range due {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := s.ledger.MarkMissedPayment(ctx, plan.PositionID); err != nil {
			if skippable(err) {
				continue
			}
			result.Failures++
			s.logger.Warn("mark missed payment failed", "positionId", plan.PositionID, "error", err)
			continue
		}
		result.Missed++
	}

	if s.cfg.AutoLiquidate {
		ids, err := s.ledger.DefaultedPositions(ctx, s.cfg.PageSize)
		if err != nil {
			return result, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			if _, err := s.ledger.LiquidatePosition(ctx, id); err != nil {
				result.Failures++
				s.logger.Warn("liquidate position failed", "positionId", id, "error", err)
				continue
			}
			result.Liquidated++
		}
	}

	if s.cfg.AutoDistribute {
		pending, err := s.ledger.PendingDistributions(ctx)
		if err != nil {
			return result, err
		}
		for _, id := range pending {
			if err := ctx.Err(); err != nil {
				return result, err
			}
			processed, done, _, err := s.ledger.Distribute(ctx, id, s.cfg.DistributionBatchSize)
			if err != nil {
				result.Failures++
				s.logger.Warn("distribute settlement failed", "settlementId", id, "error", err)
				continue
			}
			result.Distributed += processed
			if !done {
				result.PendingBatch++
			}
		}
	}
	if result.Missed+result.Liquidated+result.Distributed+result.Failures > 0 {
		s.logger.Info("scheduler tick",
			"missed", result.Missed,
			"liquidated", result.Liquidated,
			"distributed", result.Distributed,
			"failures", result.Failures)
	}
	return result, nil
}

// skippable reports errors a concurrent caller can cause between listing and
// marking.
func skippable(err error) bool {
	return errors.Is(err, credit.ErrPaymentNotDue) || errors.Is(err, credit.ErrPlanNotActive)
}
