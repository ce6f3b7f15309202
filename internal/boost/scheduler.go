// Package boost owns per-listing boost schedules: a prepaid number of
// credits, each of which moves the listing to the front of its tier once per
// interval.
package boost

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
	"github.com/alanyoungcy/adboard/internal/keylock"
)

// ErrNotDue is returned by FireDue when the schedule was fired or moved
// after the caller read it as due.
var ErrNotDue = errors.New("boost: schedule not due")

// disableAttempts bounds the re-read loop when another process keeps
// writing the schedule.
const disableAttempts = 3

// Placement is the slice of the allocator the scheduler needs.
type Placement interface {
	Reorder(ctx context.Context, listingID string) (domain.SlotAssignment, error)
}

// Scheduler applies boost credits. Fire shares the per-listing lock map with
// the lifecycle service so a boost never interleaves with Close or Expire.
type Scheduler struct {
	listings  domain.ListingStore
	schedules domain.BoostStore
	placement Placement
	locks     *keylock.Map
	clock     clock.Clock
	recorder  *events.Recorder
	tx        domain.TxRunner
	logger    *slog.Logger
}

type inlineTx struct{}

func (inlineTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// NewScheduler creates a Scheduler.
func NewScheduler(
	listings domain.ListingStore,
	schedules domain.BoostStore,
	placement Placement,
	locks *keylock.Map,
	clk clock.Clock,
	recorder *events.Recorder,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		listings:  listings,
		schedules: schedules,
		placement: placement,
		locks:     locks,
		clock:     clk,
		recorder:  recorder,
		tx:        inlineTx{},
		logger:    logger.With(slog.String("component", "boost")),
	}
}

// WithTx makes a fire charge the credit and move the listing in one
// storage transaction.
func (s *Scheduler) WithTx(tx domain.TxRunner) *Scheduler {
	s.tx = tx
	return s
}

// Create stores a disabled schedule for a listing bought with boost credits.
// It becomes live when Activate runs at approval.
func (s *Scheduler) Create(ctx context.Context, listingID string, intervalDays, credits int) (domain.BoostSchedule, error) {
	if intervalDays <= 0 || credits <= 0 {
		return domain.BoostSchedule{}, fmt.Errorf("boost: interval %d days, %d credits: %w",
			intervalDays, credits, domain.ErrInvalidConfig)
	}
	sched := domain.BoostSchedule{
		ID:               uuid.NewString(),
		ListingID:        listingID,
		IntervalDays:     intervalDays,
		TotalCredits:     credits,
		RemainingCredits: credits,
		UpdatedAt:        s.clock.Now(),
	}
	if err := s.schedules.Create(ctx, sched); err != nil {
		return domain.BoostSchedule{}, fmt.Errorf("boost: create schedule for %s: %w", listingID, err)
	}
	return sched, nil
}

// Get returns the listing's schedule.
func (s *Scheduler) Get(ctx context.Context, listingID string) (domain.BoostSchedule, error) {
	sched, err := s.schedules.Get(ctx, listingID)
	if err != nil {
		return domain.BoostSchedule{}, fmt.Errorf("boost: get schedule for %s: %w", listingID, err)
	}
	return sched, nil
}

// Activate enables the schedule with its first boost due immediately. The
// caller must hold the listing's lock.
func (s *Scheduler) Activate(ctx context.Context, listingID string) (domain.BoostSchedule, error) {
	sched, err := s.Get(ctx, listingID)
	if err != nil {
		return domain.BoostSchedule{}, err
	}
	if sched.RemainingCredits <= 0 {
		return sched, nil
	}
	now := s.clock.Now()
	sched.Enabled = true
	sched.NextBoostAt = now
	sched.UpdatedAt = now
	saved, err := s.schedules.CompareAndSwap(ctx, sched)
	if err != nil {
		return domain.BoostSchedule{}, fmt.Errorf("boost: activate %s: %w", listingID, err)
	}
	return saved, nil
}

// Disable turns the schedule off for good. A missing or already disabled
// schedule is not an error. The caller must hold the listing's lock.
func (s *Scheduler) Disable(ctx context.Context, listingID string) error {
	var err error
	for attempt := 0; attempt < disableAttempts; attempt++ {
		if err = s.disable(ctx, listingID); !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		s.logger.DebugContext(ctx, "boost disable raced another writer",
			slog.String("listing_id", listingID),
			slog.Int("attempt", attempt+1),
		)
	}
	return err
}

func (s *Scheduler) disable(ctx context.Context, listingID string) error {
	sched, err := s.schedules.Get(ctx, listingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("boost: disable %s: %w", listingID, err)
	}
	if !sched.Enabled {
		return nil
	}
	sched.Enabled = false
	sched.UpdatedAt = s.clock.Now()
	if _, err := s.schedules.CompareAndSwap(ctx, sched); err != nil {
		return fmt.Errorf("boost: disable %s: %w", listingID, err)
	}
	s.recorder.Record(ctx, domain.ListingEvent{
		Event:     domain.EventBoostDisabled,
		ListingID: listingID,
		Detail:    map[string]any{"remaining_credits": sched.RemainingCredits},
		At:        sched.UpdatedAt,
	})
	return nil
}

// Fire spends one credit and moves the listing to the front of its tier
// whether or not the schedule is due. Admin boosts use it.
func (s *Scheduler) Fire(ctx context.Context, listingID string) (domain.BoostSchedule, error) {
	unlock := s.locks.Lock(listingID)
	defer unlock()
	return s.fire(ctx, listingID, time.Time{})
}

// FireDue is Fire for the driver. The schedule is re-read under the lock
// and left alone with ErrNotDue unless it is still due at now.
func (s *Scheduler) FireDue(ctx context.Context, listingID string, now time.Time) (domain.BoostSchedule, error) {
	unlock := s.locks.Lock(listingID)
	defer unlock()
	return s.fire(ctx, listingID, now)
}

// FireLocked is Fire for callers already holding the listing's lock.
func (s *Scheduler) FireLocked(ctx context.Context, listingID string) (domain.BoostSchedule, error) {
	return s.fire(ctx, listingID, time.Time{})
}

// fire checks due-ness against dueAt unless it is zero.
func (s *Scheduler) fire(ctx context.Context, listingID string, dueAt time.Time) (domain.BoostSchedule, error) {
	sched, err := s.Get(ctx, listingID)
	if err != nil {
		return domain.BoostSchedule{}, err
	}
	if !sched.Enabled || sched.Exhausted() {
		return sched, fmt.Errorf("boost: fire %s: %d of %d credits left, enabled=%t: %w",
			listingID, sched.RemainingCredits, sched.TotalCredits, sched.Enabled, domain.ErrScheduleExhausted)
	}
	if !dueAt.IsZero() && !sched.Due(dueAt) {
		return sched, fmt.Errorf("boost: fire %s: next boost at %s: %w",
			listingID, sched.NextBoostAt.Format(time.RFC3339), ErrNotDue)
	}

	listing, err := s.listings.Get(ctx, listingID)
	if err != nil {
		return domain.BoostSchedule{}, fmt.Errorf("boost: fire %s: %w", listingID, err)
	}
	if listing.Status != domain.StatusActive {
		// Stale schedule left behind by expiry or close.
		if err := s.Disable(ctx, listingID); err != nil {
			return domain.BoostSchedule{}, err
		}
		s.logger.InfoContext(ctx, "boost schedule disabled for inactive listing",
			slog.String("listing_id", listingID),
			slog.String("status", string(listing.Status)),
		)
		cur, err := s.Get(ctx, listingID)
		if err != nil {
			return domain.BoostSchedule{}, err
		}
		return cur, fmt.Errorf("boost: fire %s: listing is %s, schedule disabled: %w",
			listingID, listing.Status, domain.ErrInvalidTransition)
	}

	// Charge and reorder commit together. A charge that outlives a failed
	// reorder (including NotAssigned) or commit is refunded, so the listing is
	// never moved for free and never charged without moving.
	now := s.clock.Now()
	next := sched
	next.RemainingCredits--
	next.NextBoostAt = sched.NextBoostAt.Add(domain.Days(sched.IntervalDays))
	next.LastBoostAt = &now
	next.UpdatedAt = now
	if next.RemainingCredits == 0 {
		next.Enabled = false
	}

	var (
		charged domain.BoostSchedule
		slot    domain.SlotAssignment
		spent   bool
	)
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if charged, err = s.schedules.CompareAndSwap(ctx, next); err != nil {
			return fmt.Errorf("boost: charge credit for %s: %w", listingID, err)
		}
		spent = true
		if slot, err = s.placement.Reorder(ctx, listingID); err != nil {
			return fmt.Errorf("boost: fire %s: %w", listingID, err)
		}
		return nil
	})
	if err != nil {
		if spent {
			s.refund(ctx, sched, charged)
		}
		return sched, err
	}

	s.recorder.Record(ctx, domain.ListingEvent{
		Event:     domain.EventBoostFired,
		ListingID: listingID,
		Status:    listing.Status,
		TierID:    slot.TierID,
		Detail: map[string]any{
			"remaining_credits": charged.RemainingCredits,
			"next_boost_at":     charged.NextBoostAt.Format(time.RFC3339),
		},
		At: now,
	})
	s.logger.DebugContext(ctx, "boost fired",
		slog.String("listing_id", listingID),
		slog.Int("remaining", charged.RemainingCredits),
	)
	return charged, nil
}

// refund restores prev over the charge. A conflict means the charge never
// committed.
func (s *Scheduler) refund(ctx context.Context, prev, charged domain.BoostSchedule) {
	back := prev
	back.Version = charged.Version
	_, err := s.schedules.CompareAndSwap(ctx, back)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrConcurrencyConflict):
		s.logger.DebugContext(ctx, "boost charge rolled back with its transaction",
			slog.String("listing_id", prev.ListingID),
		)
	default:
		s.logger.ErrorContext(ctx, "boost credit refund failed",
			slog.String("listing_id", prev.ListingID),
			slog.String("error", err.Error()),
		)
	}
}
