package boost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/domain"
)

const driverLockKey = "boost:driver"

// TickResult summarises one pass of the driver.
type TickResult struct {
	Due     int `json:"due"`
	Fired   int `json:"fired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Driver fires every due schedule on a fixed tick. Fires for different
// listings run in parallel up to the configured limit.
type Driver struct {
	scheduler   *Scheduler
	schedules   domain.BoostStore
	clock       clock.Clock
	interval    time.Duration
	batchSize   int
	parallelism int
	lock        domain.LockManager
	lockTTL     time.Duration
	logger      *slog.Logger
}

// NewDriver creates a Driver. Zero or negative settings fall back to
// one-minute ticks, batches of 100 and 8 concurrent fires.
func NewDriver(
	scheduler *Scheduler,
	schedules domain.BoostStore,
	clk clock.Clock,
	interval time.Duration,
	batchSize int,
	parallelism int,
	logger *slog.Logger,
) *Driver {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if parallelism <= 0 {
		parallelism = 8
	}
	return &Driver{
		scheduler:   scheduler,
		schedules:   schedules,
		clock:       clk,
		interval:    interval,
		batchSize:   batchSize,
		parallelism: parallelism,
		logger:      logger.With(slog.String("component", "boost_driver")),
	}
}

// WithLock makes each tick take a distributed lock so only one worker
// process fires boosts at a time.
func (d *Driver) WithLock(lm domain.LockManager, ttl time.Duration) *Driver {
	d.lock = lm
	d.lockTTL = ttl
	return d
}

// Run ticks until ctx is cancelled. A tick already in progress finishes its
// in-flight fires before Run returns.
func (d *Driver) Run(ctx context.Context) error {
	d.logger.InfoContext(ctx, "boost driver started", slog.Duration("interval", d.interval))
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.InfoContext(ctx, "boost driver stopped")
			return nil
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil {
				d.logger.ErrorContext(ctx, "boost tick failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce fires every schedule due at the current time.
func (d *Driver) RunOnce(ctx context.Context) (TickResult, error) {
	if d.lock != nil {
		unlock, err := d.lock.Acquire(ctx, driverLockKey, d.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			d.logger.DebugContext(ctx, "boost tick skipped, lock held elsewhere")
			return TickResult{}, nil
		}
		if err != nil {
			return TickResult{}, fmt.Errorf("boost: driver lock: %w", err)
		}
		defer unlock()
	}

	now := d.clock.Now()
	due, err := d.schedules.ListDue(ctx, now, d.batchSize)
	if err != nil {
		return TickResult{}, fmt.Errorf("boost: list due: %w", err)
	}

	var fired, skipped, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(d.parallelism)

	for _, sched := range due {
		if ctx.Err() != nil {
			// Shutting down: issue nothing new.
			break
		}
		listingID := sched.ListingID
		g.Go(func() error {
			// In-flight fires complete even when shutdown begins.
			_, err := d.scheduler.FireDue(context.WithoutCancel(ctx), listingID, now)
			switch {
			case err == nil:
				fired.Add(1)
			case skippable(err):
				skipped.Add(1)
				d.logger.DebugContext(ctx, "boost skipped",
					slog.String("listing_id", listingID),
					slog.String("reason", err.Error()),
				)
			default:
				failed.Add(1)
				d.logger.ErrorContext(ctx, "boost fire failed",
					slog.String("listing_id", listingID),
					slog.String("error", err.Error()),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	res := TickResult{
		Due:     len(due),
		Fired:   int(fired.Load()),
		Skipped: int(skipped.Load()),
		Failed:  int(failed.Load()),
	}
	if res.Due > 0 {
		d.logger.InfoContext(ctx, "boost tick complete",
			slog.Int("due", res.Due),
			slog.Int("fired", res.Fired),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
		)
	}
	return res, nil
}

// skippable reports fire errors that mean the schedule changed under the
// tick rather than that the fire broke.
func skippable(err error) bool {
	return errors.Is(err, ErrNotDue) ||
		errors.Is(err, domain.ErrScheduleExhausted) ||
		errors.Is(err, domain.ErrNotAssigned) ||
		errors.Is(err, domain.ErrInvalidTransition) ||
		errors.Is(err, domain.ErrConcurrencyConflict)
}
