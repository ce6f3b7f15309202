// Package memory implements the domain store interfaces in process memory.
// It backs the "memory" storage mode and tests; it is not durable.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// ListingStore implements domain.ListingStore.
type ListingStore struct {
	mu       sync.RWMutex
	listings map[string]domain.Listing
}

// NewListingStore returns an empty ListingStore.
func NewListingStore() *ListingStore {
	return &ListingStore{listings: make(map[string]domain.Listing)}
}

func (s *ListingStore) Create(_ context.Context, l domain.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listings[l.ID]; ok {
		return fmt.Errorf("memory: create listing %s: %w", l.ID, domain.ErrAlreadyExists)
	}
	s.listings[l.ID] = cloneListing(l)
	return nil
}

func (s *ListingStore) Get(_ context.Context, id string) (domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listings[id]
	if !ok {
		return domain.Listing{}, fmt.Errorf("memory: get listing %s: %w", id, domain.ErrNotFound)
	}
	return cloneListing(l), nil
}

// GetMany returns the listings that exist, preserving the order of ids.
func (s *ListingStore) GetMany(_ context.Context, ids []string) ([]domain.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Listing, 0, len(ids))
	for _, id := range ids {
		if l, ok := s.listings[id]; ok {
			out = append(out, cloneListing(l))
		}
	}
	return out, nil
}

func (s *ListingStore) CompareAndSwap(_ context.Context, next domain.Listing) (domain.Listing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.listings[next.ID]
	if !ok {
		return domain.Listing{}, fmt.Errorf("memory: swap listing %s: %w", next.ID, domain.ErrNotFound)
	}
	if cur.Version != next.Version {
		return domain.Listing{}, fmt.Errorf("memory: swap listing %s at version %d (stored %d): %w",
			next.ID, next.Version, cur.Version, domain.ErrConcurrencyConflict)
	}
	next.Version++
	// Counters are owned by IncrementCounters, not by commands.
	next.Views = cur.Views
	next.Inquiries = cur.Inquiries
	s.listings[next.ID] = cloneListing(next)
	return cloneListing(next), nil
}

// ListByStatus returns listings in status ordered by creation time.
func (s *ListingStore) ListByStatus(_ context.Context, status domain.Status, opts domain.ListOpts) ([]domain.Listing, error) {
	s.mu.RLock()
	var out []domain.Listing
	for _, l := range s.listings {
		if l.Status == status {
			out = append(out, cloneListing(l))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return paginate(out, opts), nil
}

func (s *ListingStore) ListByOwner(_ context.Context, ownerID string) ([]domain.Listing, error) {
	s.mu.RLock()
	var out []domain.Listing
	for _, l := range s.listings {
		if l.OwnerID == ownerID {
			out = append(out, cloneListing(l))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *ListingStore) ListOverdue(_ context.Context, now time.Time, limit int) ([]domain.Listing, error) {
	s.mu.RLock()
	var out []domain.Listing
	for _, l := range s.listings {
		if l.Overdue(now) {
			out = append(out, cloneListing(l))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].ExpiresAt.Before(*out[j].ExpiresAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *ListingStore) IncrementCounters(_ context.Context, id string, views, inquiries int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.listings[id]
	if !ok {
		return fmt.Errorf("memory: increment counters %s: %w", id, domain.ErrNotFound)
	}
	l.Views += views
	l.Inquiries += inquiries
	s.listings[id] = l
	return nil
}

func (s *ListingStore) Stats(_ context.Context, ownerID string) (domain.OwnerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := domain.OwnerStats{OwnerID: ownerID}
	for _, l := range s.listings {
		if l.OwnerID != ownerID {
			continue
		}
		switch l.Status {
		case domain.StatusActive:
			st.Active++
		case domain.StatusPending:
			st.Pending++
		case domain.StatusExpired:
			st.Expired++
		case domain.StatusRejected:
			st.Rejected++
		case domain.StatusClosed:
			st.Closed++
		default:
			return domain.OwnerStats{}, fmt.Errorf("memory: listing %s has unknown status %q", l.ID, l.Status)
		}
		st.Views += l.Views
		st.Inquiries += l.Inquiries
	}
	return st, nil
}

func cloneListing(l domain.Listing) domain.Listing {
	if l.ApprovedAt != nil {
		t := *l.ApprovedAt
		l.ApprovedAt = &t
	}
	if l.ExpiresAt != nil {
		t := *l.ExpiresAt
		l.ExpiresAt = &t
	}
	if l.Highlight != nil {
		h := *l.Highlight
		l.Highlight = &h
	}
	return l
}

func paginate[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return nil
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}
	return items
}

var _ domain.ListingStore = (*ListingStore)(nil)
