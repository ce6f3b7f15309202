package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/adboard/internal/domain"
)

type slotKey struct {
	tier  domain.TierID
	index int
}

// SlotStore implements domain.SlotStore with the same uniqueness rules as
// the slot_assignments table.
type SlotStore struct {
	mu        sync.Mutex
	bySlot    map[slotKey]string
	byListing map[string]domain.SlotAssignment
}

// NewSlotStore returns an empty SlotStore.
func NewSlotStore() *SlotStore {
	return &SlotStore{
		bySlot:    make(map[slotKey]string),
		byListing: make(map[string]domain.SlotAssignment),
	}
}

func (s *SlotStore) List(_ context.Context) ([]domain.SlotAssignment, error) {
	s.mu.Lock()
	out := make([]domain.SlotAssignment, 0, len(s.byListing))
	for _, a := range s.byListing {
		out = append(out, a)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].TierID != out[j].TierID {
			return out[i].TierID < out[j].TierID
		}
		return out[i].SlotIndex < out[j].SlotIndex
	})
	return out, nil
}

func (s *SlotStore) ListTier(_ context.Context, tierID domain.TierID) ([]domain.SlotAssignment, error) {
	s.mu.Lock()
	var out []domain.SlotAssignment
	for _, a := range s.byListing {
		if a.TierID == tierID {
			out = append(out, a)
		}
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].SlotIndex < out[j].SlotIndex })
	return out, nil
}

func (s *SlotStore) Occupy(_ context.Context, a domain.SlotAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{tier: a.TierID, index: a.SlotIndex}
	if holder, ok := s.bySlot[key]; ok {
		return fmt.Errorf("memory: slot %s/%d held by %s: %w", a.TierID, a.SlotIndex, holder, domain.ErrAlreadyExists)
	}
	if _, ok := s.byListing[a.ListingID]; ok {
		return fmt.Errorf("memory: listing %s already placed: %w", a.ListingID, domain.ErrAlreadyExists)
	}
	s.bySlot[key] = a.ListingID
	s.byListing[a.ListingID] = a
	return nil
}

func (s *SlotStore) Free(_ context.Context, listingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byListing[listingID]
	if !ok {
		return nil
	}
	delete(s.byListing, listingID)
	delete(s.bySlot, slotKey{tier: a.TierID, index: a.SlotIndex})
	return nil
}

func (s *SlotStore) SetRank(_ context.Context, listingID string, rank int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byListing[listingID]
	if !ok {
		return fmt.Errorf("memory: set rank %s: %w", listingID, domain.ErrNotFound)
	}
	a.Rank = rank
	s.byListing[listingID] = a
	return nil
}

var _ domain.SlotStore = (*SlotStore)(nil)
