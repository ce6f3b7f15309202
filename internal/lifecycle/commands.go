package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/adboard/internal/domain"
)

func invalidTransition(op string, l domain.Listing) error {
	return fmt.Errorf("lifecycle: %s %s: listing is %s: %w", op, l.ID, l.Status, domain.ErrInvalidTransition)
}

func (s *Service) load(ctx context.Context, op, id string) (domain.Listing, error) {
	l, err := s.listings.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("lifecycle: %s %s: %w", op, id, err)
	}
	return l, nil
}

// Approve places a pending listing in its tier and activates it. A full tier
// fails the whole command and the listing stays pending.
func (s *Service) Approve(ctx context.Context, id string) (domain.Listing, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, "approve", id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.StatusPending {
		return l, invalidTransition("approve", l)
	}

	dur, err := s.catalog.Duration(l.RequestedTier, l.PurchasedPeriods)
	if err != nil {
		return l, fmt.Errorf("lifecycle: approve %s: %w", id, err)
	}

	slot, err := s.alloc.Assign(ctx, id, l.RequestedTier)
	if err != nil {
		if errors.Is(err, domain.ErrCapacityExceeded) {
			s.record(ctx, domain.EventApprovalBlocked, l, map[string]any{"tier_id": string(l.RequestedTier)})
		}
		return l, fmt.Errorf("lifecycle: approve %s: %w", id, err)
	}

	now := s.clock.Now()
	expires := now.Add(dur)
	next := l
	next.Status = domain.StatusActive
	next.TierID = l.RequestedTier
	next.ApprovedAt = &now
	next.ExpiresAt = &expires
	next.UpdatedAt = now

	saved, err := s.listings.CompareAndSwap(ctx, next)
	if err != nil {
		if rerr := s.alloc.Release(ctx, id); rerr != nil {
			s.logger.ErrorContext(ctx, "approve rollback release failed",
				slog.String("listing_id", id),
				slog.String("error", rerr.Error()),
			)
		}
		return l, fmt.Errorf("lifecycle: approve %s: %w", id, err)
	}

	s.record(ctx, domain.EventListingApproved, saved, map[string]any{
		"slot_index": slot.SlotIndex,
		"expires_at": expires,
	})
	s.logger.InfoContext(ctx, "listing approved",
		slog.String("listing_id", id),
		slog.String("tier", string(saved.TierID)),
		slog.Int("slot", slot.SlotIndex),
	)

	if saved.BoostScheduleID != "" {
		s.startBoosts(ctx, id)
	}
	return saved, nil
}

// startBoosts enables the schedule and spends the first credit right away.
// The listing is already active, so failures only delay the first boost.
func (s *Service) startBoosts(ctx context.Context, id string) {
	if _, err := s.boosts.Activate(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "boost activation failed",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
		return
	}
	if _, err := s.boosts.FireLocked(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "initial boost failed, driver will retry",
			slog.String("listing_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// Reject closes out a pending listing without placing it.
func (s *Service) Reject(ctx context.Context, id, reason string) (domain.Listing, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, "reject", id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.StatusPending {
		return l, invalidTransition("reject", l)
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = domain.DefaultRejectionReason
	}
	next := l
	next.Status = domain.StatusRejected
	next.RejectionReason = reason
	next.UpdatedAt = s.clock.Now()

	saved, err := s.listings.CompareAndSwap(ctx, next)
	if err != nil {
		return l, fmt.Errorf("lifecycle: reject %s: %w", id, err)
	}
	s.record(ctx, domain.EventListingRejected, saved, map[string]any{"reason": reason})
	return saved, nil
}

// Extend buys more periods for an active or expired listing. The new expiry
// counts from the later of now and the old expiry. An expired listing must
// win its slot back, otherwise nothing changes.
func (s *Service) Extend(ctx context.Context, id string, periods int) (domain.Listing, error) {
	if periods <= 0 {
		return domain.Listing{}, fmt.Errorf("lifecycle: extend %s: periods %d must be > 0: %w",
			id, periods, domain.ErrInvalidConfig)
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, "extend", id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.StatusActive && l.Status != domain.StatusExpired {
		return l, invalidTransition("extend", l)
	}

	tier := l.TierID
	if tier == "" {
		tier = l.RequestedTier
	}
	dur, err := s.catalog.Duration(tier, periods)
	if err != nil {
		return l, fmt.Errorf("lifecycle: extend %s: %w", id, err)
	}

	now := s.clock.Now()
	base := now
	if l.ExpiresAt != nil && l.ExpiresAt.After(base) {
		base = *l.ExpiresAt
	}
	expires := base.Add(dur)

	revived := l.Status == domain.StatusExpired
	if revived {
		if _, err := s.alloc.Assign(ctx, id, tier); err != nil {
			return l, fmt.Errorf("lifecycle: extend %s: %w", id, err)
		}
	}

	next := l
	next.Status = domain.StatusActive
	next.TierID = tier
	next.ExpiresAt = &expires
	next.PurchasedPeriods += periods
	next.UpdatedAt = now

	saved, err := s.listings.CompareAndSwap(ctx, next)
	if err != nil {
		if revived {
			if rerr := s.alloc.Release(ctx, id); rerr != nil {
				s.logger.ErrorContext(ctx, "extend rollback release failed",
					slog.String("listing_id", id),
					slog.String("error", rerr.Error()),
				)
			}
		}
		return l, fmt.Errorf("lifecycle: extend %s: %w", id, err)
	}

	s.record(ctx, domain.EventListingExtended, saved, map[string]any{
		"periods":    periods,
		"expires_at": expires,
		"revived":    revived,
	})
	return saved, nil
}

// Close ends an active listing at the owner's request.
func (s *Service) Close(ctx context.Context, id string) (domain.Listing, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, "close", id)
	if err != nil {
		return domain.Listing{}, err
	}
	if l.Status != domain.StatusActive {
		return l, invalidTransition("close", l)
	}

	next := l
	next.Status = domain.StatusClosed
	next.UpdatedAt = s.clock.Now()
	saved, err := s.listings.CompareAndSwap(ctx, next)
	if err != nil {
		return l, fmt.Errorf("lifecycle: close %s: %w", id, err)
	}

	s.releaseAfterCommit(ctx, id)
	s.record(ctx, domain.EventListingClosed, saved, nil)
	return saved, nil
}

// Expire moves an overdue active listing to expired. Only the sweeper calls
// it.
func (s *Service) Expire(ctx context.Context, id string) (domain.Listing, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.load(ctx, "expire", id)
	if err != nil {
		return domain.Listing{}, err
	}
	now := s.clock.Now()
	if !l.Overdue(now) {
		return l, invalidTransition("expire", l)
	}

	next := l
	next.Status = domain.StatusExpired
	next.UpdatedAt = now
	saved, err := s.listings.CompareAndSwap(ctx, next)
	if err != nil {
		return l, fmt.Errorf("lifecycle: expire %s: %w", id, err)
	}

	s.releaseAfterCommit(ctx, id)
	s.record(ctx, domain.EventListingExpired, saved, nil)
	return saved, nil
}

// ReclaimSlot frees a slot still held by a listing that is expired, closed,
// rejected or gone. Pending listings are left alone since Approve holds
// their slot before committing. It reports whether a slot was freed.
func (s *Service) ReclaimSlot(ctx context.Context, id string) (bool, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	l, err := s.listings.Get(ctx, id)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("lifecycle: reclaim %s: %w", id, err)
	case l.Status == domain.StatusActive || l.Status == domain.StatusPending:
		return false, nil
	}

	if err := s.alloc.Release(ctx, id); err != nil {
		return false, fmt.Errorf("lifecycle: reclaim %s: %w", id, err)
	}
	s.recorder.Record(ctx, domain.ListingEvent{
		Event:     domain.EventSlotReclaimed,
		ListingID: id,
		Status:    l.Status,
		At:        s.clock.Now(),
	})
	return true, nil
}
