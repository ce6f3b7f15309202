package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// BoostStore implements domain.BoostStore.
type BoostStore struct {
	mu        sync.RWMutex
	schedules map[string]domain.BoostSchedule
}

// NewBoostStore returns an empty BoostStore.
func NewBoostStore() *BoostStore {
	return &BoostStore{schedules: make(map[string]domain.BoostSchedule)}
}

func (s *BoostStore) Create(_ context.Context, b domain.BoostSchedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[b.ListingID]; ok {
		return fmt.Errorf("memory: create boost schedule %s: %w", b.ListingID, domain.ErrAlreadyExists)
	}
	s.schedules[b.ListingID] = cloneSchedule(b)
	return nil
}

func (s *BoostStore) Get(_ context.Context, listingID string) (domain.BoostSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.schedules[listingID]
	if !ok {
		return domain.BoostSchedule{}, fmt.Errorf("memory: get boost schedule %s: %w", listingID, domain.ErrNotFound)
	}
	return cloneSchedule(b), nil
}

// CompareAndSwap writes the mutable fields of next if the stored version
// still equals next.Version.
func (s *BoostStore) CompareAndSwap(_ context.Context, next domain.BoostSchedule) (domain.BoostSchedule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.schedules[next.ListingID]
	if !ok {
		return domain.BoostSchedule{}, fmt.Errorf("memory: swap boost schedule %s: %w", next.ListingID, domain.ErrNotFound)
	}
	if cur.Version != next.Version {
		return domain.BoostSchedule{}, fmt.Errorf("memory: swap boost schedule %s at version %d (stored %d): %w",
			next.ListingID, next.Version, cur.Version, domain.ErrConcurrencyConflict)
	}
	cur.RemainingCredits = next.RemainingCredits
	cur.NextBoostAt = next.NextBoostAt
	cur.Enabled = next.Enabled
	cur.LastBoostAt = next.LastBoostAt
	cur.UpdatedAt = next.UpdatedAt
	cur.Version++
	s.schedules[next.ListingID] = cloneSchedule(cur)
	return cloneSchedule(cur), nil
}

func (s *BoostStore) ListDue(_ context.Context, now time.Time, limit int) ([]domain.BoostSchedule, error) {
	s.mu.RLock()
	var out []domain.BoostSchedule
	for _, b := range s.schedules {
		if b.Due(now) {
			out = append(out, cloneSchedule(b))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].NextBoostAt.Before(out[j].NextBoostAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func cloneSchedule(b domain.BoostSchedule) domain.BoostSchedule {
	if b.LastBoostAt != nil {
		t := *b.LastBoostAt
		b.LastBoostAt = &t
	}
	return b
}

var _ domain.BoostStore = (*BoostStore)(nil)
