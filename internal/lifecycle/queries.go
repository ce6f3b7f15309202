package lifecycle

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/adboard/internal/domain"
)

const defaultPendingLimit = 50

// RankedListing is an active listing with its place in the tier.
type RankedListing struct {
	domain.Listing
	SlotIndex int `json:"slot_index"`
	Position  int `json:"position"`
}

func (s *Service) Get(ctx context.Context, id string) (domain.Listing, error) {
	l, err := s.listings.Get(ctx, id)
	if err != nil {
		return domain.Listing{}, fmt.Errorf("lifecycle: get %s: %w", id, err)
	}
	return l, nil
}

// ListPending returns the approval queue, oldest first.
func (s *Service) ListPending(ctx context.Context, limit int) ([]domain.Listing, error) {
	if limit <= 0 {
		limit = defaultPendingLimit
	}
	out, err := s.listings.ListByStatus(ctx, domain.StatusPending, domain.ListOpts{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list pending: %w", err)
	}
	return out, nil
}

// ListActiveByTier returns the tier's active listings in display order.
func (s *Service) ListActiveByTier(ctx context.Context, tier domain.TierID) ([]RankedListing, error) {
	ranking, err := s.alloc.Ranking(ctx, tier)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list tier %s: %w", tier, err)
	}
	if len(ranking) == 0 {
		return []RankedListing{}, nil
	}

	ids := make([]string, len(ranking))
	for i, r := range ranking {
		ids[i] = r.ListingID
	}
	listings, err := s.listings.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list tier %s: %w", tier, err)
	}
	byID := make(map[string]domain.Listing, len(listings))
	for _, l := range listings {
		byID[l.ID] = l
	}

	out := make([]RankedListing, 0, len(ranking))
	for _, r := range ranking {
		l, ok := byID[r.ListingID]
		if !ok || l.Status != domain.StatusActive {
			continue
		}
		out = append(out, RankedListing{Listing: l, SlotIndex: r.SlotIndex, Position: len(out) + 1})
	}
	return out, nil
}

func (s *Service) ListMine(ctx context.Context, ownerID string) ([]domain.Listing, error) {
	out, err := s.listings.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list owner %s: %w", ownerID, err)
	}
	return out, nil
}

func (s *Service) GetStats(ctx context.Context, ownerID string) (domain.OwnerStats, error) {
	st, err := s.listings.Stats(ctx, ownerID)
	if err != nil {
		return domain.OwnerStats{}, fmt.Errorf("lifecycle: stats %s: %w", ownerID, err)
	}
	return st, nil
}

func (s *Service) GetBoostSchedule(ctx context.Context, id string) (domain.BoostSchedule, error) {
	return s.boosts.Get(ctx, id)
}

// Occupancy reports slot usage for every tier in display order.
func (s *Service) Occupancy() ([]domain.Occupancy, error) {
	tiers := s.catalog.Tiers()
	out := make([]domain.Occupancy, 0, len(tiers))
	for _, t := range tiers {
		occ, err := s.alloc.Occupancy(t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, occ)
	}
	return out, nil
}

// Boost fires the listing's boost schedule on demand.
func (s *Service) Boost(ctx context.Context, id string) (domain.BoostSchedule, error) {
	return s.boosts.Fire(ctx, id)
}
