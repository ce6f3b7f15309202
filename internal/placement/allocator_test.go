package placement

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/store/memory"
)

var testTiers = []domain.TierDefinition{
	{ID: "gold", Name: "Gold", DisplayRank: 1, Capacity: 5, DurationDays: 30, Price: 1_000_000},
	{ID: "silver", Name: "Silver", DisplayRank: 2, Capacity: 2, DurationDays: 30, Price: 500_000},
}

func newAllocator(t *testing.T) (*Allocator, *memory.SlotStore) {
	t.Helper()
	store := memory.NewSlotStore()
	return New(testTiers, store, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestAssignUsesLowestFreeSlot(t *testing.T) {
	ctx := context.Background()
	a, _ := newAllocator(t)

	for i := 0; i < 3; i++ {
		got, err := a.Assign(ctx, fmt.Sprintf("l%d", i), "gold")
		require.NoError(t, err)
		assert.Equal(t, i, got.SlotIndex)
	}

	require.NoError(t, a.Release(ctx, "l1"))
	got, err := a.Assign(ctx, "l9", "gold")
	require.NoError(t, err)
	assert.Equal(t, 1, got.SlotIndex)
}

func TestAssignIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a, _ := newAllocator(t)

	first, err := a.Assign(ctx, "l1", "gold")
	require.NoError(t, err)
	again, err := a.Assign(ctx, "l1", "gold")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	occ, err := a.Occupancy("gold")
	require.NoError(t, err)
	assert.Equal(t, 1, occ.Used)
}

func TestAssignRejectsSecondTier(t *testing.T) {
	ctx := context.Background()
	a, _ := newAllocator(t)

	_, err := a.Assign(ctx, "l1", "gold")
	require.NoError(t, err)
	_, err = a.Assign(ctx, "l1", "silver")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	occ, err := a.Occupancy("silver")
	require.NoError(t, err)
	assert.Zero(t, occ.Used)
}

func TestAssignUnknownTier(t *testing.T) {
	a, _ := newAllocator(t)
	_, err := a.Assign(context.Background(), "l1", "platinum")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAssignCapacityExceeded(t *testing.T) {
	ctx := context.Background()
	a, _ := newAllocator(t)

	_, err := a.Assign(ctx, "a", "silver")
	require.NoError(t, err)
	_, err = a.Assign(ctx, "b", "silver")
	require.NoError(t, err)

	_, err = a.Assign(ctx, "c", "silver")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	_, held, err := a.Lookup(ctx, "c")
	require.NoError(t, err)
	assert.False(t, held)

	// A failed assign leaves the listing free to go elsewhere.
	_, err = a.Assign(ctx, "c", "gold")
	require.NoError(t, err)
}

func TestConcurrentAssignNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	a, store := newAllocator(t)

	const contenders = 50
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		refused int
	)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := a.Assign(ctx, fmt.Sprintf("l%02d", i), "gold")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case assert.ErrorIs(t, err, domain.ErrCapacityExceeded):
				refused++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, won)
	assert.Equal(t, contenders-5, refused)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 5)

	seen := map[int]bool{}
	for _, r := range rows {
		assert.False(t, seen[r.SlotIndex], "slot %d used twice", r.SlotIndex)
		seen[r.SlotIndex] = true
	}
}

func TestReleaseUnassignedIsNoop(t *testing.T) {
	a, _ := newAllocator(t)
	require.NoError(t, a.Release(context.Background(), "ghost"))
}

func TestReorderMovesToFront(t *testing.T) {
	ctx := context.Background()
	a, store := newAllocator(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := a.Assign(ctx, id, "gold")
		require.NoError(t, err)
	}

	ranking, err := a.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, listingIDs(ranking))

	moved, err := a.Reorder(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, moved.SlotIndex, "reorder keeps the slot")

	ranking, err = a.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, listingIDs(ranking))

	_, err = a.Reorder(ctx, "b")
	require.NoError(t, err)
	ranking, err = a.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "a"}, listingIDs(ranking))

	occ, err := a.Occupancy("gold")
	require.NoError(t, err)
	assert.Equal(t, 3, occ.Used)

	rows, err := store.List(ctx)
	require.NoError(t, err)
	for _, r := range rows {
		if r.ListingID == "b" {
			assert.Equal(t, moved.Rank-1, r.Rank)
		}
	}
}

func TestReorderNotAssigned(t *testing.T) {
	ctx := context.Background()
	a, _ := newAllocator(t)

	_, err := a.Reorder(ctx, "ghost")
	require.ErrorIs(t, err, domain.ErrNotAssigned)

	_, err = a.Assign(ctx, "l1", "gold")
	require.NoError(t, err)
	require.NoError(t, a.Release(ctx, "l1"))
	_, err = a.Reorder(ctx, "l1")
	require.ErrorIs(t, err, domain.ErrNotAssigned)
}

func TestLoadRestoresTables(t *testing.T) {
	ctx := context.Background()
	a, store := newAllocator(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := a.Assign(ctx, id, "gold")
		require.NoError(t, err)
	}
	_, err := a.Reorder(ctx, "b")
	require.NoError(t, err)
	require.NoError(t, a.Release(ctx, "a"))

	restored := New(testTiers, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, restored.Load(ctx))

	ranking, err := restored.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, listingIDs(ranking))

	// Slot 0 was freed before the restart.
	got, err := restored.Assign(ctx, "d", "gold")
	require.NoError(t, err)
	assert.Equal(t, 0, got.SlotIndex)

	ranking, err = restored.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c", "d"}, listingIDs(ranking))
}

func TestAllocatorsSharingAStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSlotStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := New(testTiers, store, logger)
	worker := New(testTiers, store, logger)

	_, err := api.Assign(ctx, "a", "silver")
	require.NoError(t, err)
	_, err = api.Assign(ctx, "b", "silver")
	require.NoError(t, err)

	// The worker has never seen these assignments.
	_, err = worker.Reorder(ctx, "b")
	require.NoError(t, err)
	_, err = worker.Assign(ctx, "c", "silver")
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)
	require.NoError(t, worker.Release(ctx, "a"))

	// The api allocator still believes the tier is full.
	got, err := api.Assign(ctx, "c", "silver")
	require.NoError(t, err)
	assert.Equal(t, 0, got.SlotIndex)

	ranking, err := api.Ranking(ctx, "silver")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, listingIDs(ranking))
}

// countingSlots records which read path the allocator takes.
type countingSlots struct {
	*memory.SlotStore
	mu    sync.Mutex
	full  int
	tiers []domain.TierID
}

func (c *countingSlots) List(ctx context.Context) ([]domain.SlotAssignment, error) {
	c.mu.Lock()
	c.full++
	c.mu.Unlock()
	return c.SlotStore.List(ctx)
}

func (c *countingSlots) ListTier(ctx context.Context, tierID domain.TierID) ([]domain.SlotAssignment, error) {
	c.mu.Lock()
	c.tiers = append(c.tiers, tierID)
	c.mu.Unlock()
	return c.SlotStore.ListTier(ctx, tierID)
}

func TestReorderAndRankingReadOneTier(t *testing.T) {
	ctx := context.Background()
	store := &countingSlots{SlotStore: memory.NewSlotStore()}
	a := New(testTiers, store, slog.New(slog.NewTextHandler(io.Discard, nil)))

	_, err := a.Assign(ctx, "s1", "silver")
	require.NoError(t, err)
	for _, id := range []string{"a", "b"} {
		_, err := a.Assign(ctx, id, "gold")
		require.NoError(t, err)
	}
	store.full, store.tiers = 0, nil

	_, err = a.Reorder(ctx, "b")
	require.NoError(t, err)
	ranking, err := a.Ranking(ctx, "gold")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, listingIDs(ranking))

	assert.Zero(t, store.full, "no full scan on the hot path")
	assert.Equal(t, []domain.TierID{"gold", "gold"}, store.tiers)
}

func TestLoadRejectsUnknownTier(t *testing.T) {
	ctx := context.Background()
	store := memory.NewSlotStore()
	require.NoError(t, store.Occupy(ctx, domain.SlotAssignment{TierID: "bronze", SlotIndex: 0, ListingID: "x"}))

	a := New(testTiers, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.ErrorIs(t, a.Load(ctx), domain.ErrInvalidConfig)
}

func listingIDs(rows []domain.SlotAssignment) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ListingID
	}
	return out
}
