// Package sweeper expires overdue listings on a fixed tick and reclaims
// slots left behind by listings that are no longer active.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
)

const sweepLockKey = "sweeper"

// Lifecycle is the part of the lifecycle service the sweeper drives.
type Lifecycle interface {
	Expire(ctx context.Context, id string) (domain.Listing, error)
	ReclaimSlot(ctx context.Context, id string) (bool, error)
}

// Result summarises one sweep.
type Result struct {
	Overdue   int `json:"overdue"`
	Expired   int `json:"expired"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Reclaimed int `json:"reclaimed"`
}

// Sweeper finds overdue listings and expires them through the lifecycle
// service.
type Sweeper struct {
	listings  domain.ListingStore
	slots     domain.SlotStore
	lifecycle Lifecycle
	clock     clock.Clock
	recorder  *events.Recorder
	interval  time.Duration
	batchSize int
	lock      domain.LockManager
	lockTTL   time.Duration
	logger    *slog.Logger
}

// New creates a Sweeper. Zero or negative settings fall back to a
// one-minute interval and batches of 500.
func New(
	listings domain.ListingStore,
	slots domain.SlotStore,
	lifecycle Lifecycle,
	clk clock.Clock,
	recorder *events.Recorder,
	interval time.Duration,
	batchSize int,
	logger *slog.Logger,
) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Sweeper{
		listings:  listings,
		slots:     slots,
		lifecycle: lifecycle,
		clock:     clk,
		recorder:  recorder,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger.With(slog.String("component", "sweeper")),
	}
}

// WithLock makes each sweep take a distributed lock so only one worker
// process sweeps at a time.
func (s *Sweeper) WithLock(lm domain.LockManager, ttl time.Duration) *Sweeper {
	s.lock = lm
	s.lockTTL = ttl
	return s
}

// Run sweeps on every tick until ctx is cancelled. A sweep in progress
// finishes the listing it is working on and then stops.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "sweeper started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "sweeper stopped")
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.ErrorContext(ctx, "sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Sweep expires every listing that is active and past its expiry, then
// reclaims orphaned slots. Running it twice in a row is safe: the second run
// finds nothing to do.
func (s *Sweeper) Sweep(ctx context.Context) (Result, error) {
	if s.lock != nil {
		unlock, err := s.lock.Acquire(ctx, sweepLockKey, s.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			s.logger.DebugContext(ctx, "sweep skipped, lock held elsewhere")
			return Result{}, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("sweeper: lock: %w", err)
		}
		defer unlock()
	}

	now := s.clock.Now()
	overdue, err := s.listings.ListOverdue(ctx, now, s.batchSize)
	if err != nil {
		return Result{}, fmt.Errorf("sweeper: list overdue: %w", err)
	}

	res := Result{Overdue: len(overdue)}
	for _, l := range overdue {
		if ctx.Err() != nil {
			break
		}
		// Let an expiry that has started finish during shutdown.
		_, err := s.lifecycle.Expire(context.WithoutCancel(ctx), l.ID)
		switch {
		case err == nil:
			res.Expired++
		case errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrConcurrencyConflict),
			errors.Is(err, domain.ErrNotFound):
			res.Skipped++
			s.logger.InfoContext(ctx, "listing changed before expiry, skipped",
				slog.String("listing_id", l.ID),
				slog.String("reason", err.Error()),
			)
		default:
			res.Failed++
			s.logger.ErrorContext(ctx, "expire failed",
				slog.String("listing_id", l.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if ctx.Err() == nil {
		reclaimed, err := s.reclaim(ctx)
		if err != nil {
			s.logger.ErrorContext(ctx, "slot reclaim failed", slog.String("error", err.Error()))
		}
		res.Reclaimed = reclaimed
	}

	if res.Expired > 0 || res.Reclaimed > 0 || res.Failed > 0 {
		s.logger.InfoContext(ctx, "sweep complete",
			slog.Int("overdue", res.Overdue),
			slog.Int("expired", res.Expired),
			slog.Int("skipped", res.Skipped),
			slog.Int("failed", res.Failed),
			slog.Int("reclaimed", res.Reclaimed),
		)
		s.recorder.Record(ctx, domain.ListingEvent{
			Event: domain.EventSweepCompleted,
			Detail: map[string]any{
				"expired":   res.Expired,
				"skipped":   res.Skipped,
				"failed":    res.Failed,
				"reclaimed": res.Reclaimed,
			},
			At: now,
		})
	}
	return res, nil
}

// reclaim releases slot rows whose listing is no longer active.
func (s *Sweeper) reclaim(ctx context.Context) (int, error) {
	rows, err := s.slots.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list slots: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ListingID
	}
	listings, err := s.listings.GetMany(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("sweeper: load slot holders: %w", err)
	}
	live := make(map[string]bool, len(listings))
	for _, l := range listings {
		if l.Status == domain.StatusActive || l.Status == domain.StatusPending {
			live[l.ID] = true
		}
	}

	reclaimed := 0
	for _, id := range ids {
		if live[id] {
			continue
		}
		ok, err := s.lifecycle.ReclaimSlot(context.WithoutCancel(ctx), id)
		if err != nil {
			s.logger.WarnContext(ctx, "reclaim failed", slog.String("listing_id", id), slog.String("error", err.Error()))
			continue
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}
