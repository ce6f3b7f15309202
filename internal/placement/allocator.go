// Package placement owns the per-tier slot tables. Slots are the scarce
// resource: a listing gets one only through Assign. The display ranking of a
// tier's occupants is independent of slot indexes and can be reordered
// freely without evicting anyone.
//
// The SlotStore is authoritative. The in-memory tables are a cache that is
// resynced from the store whenever it disagrees with it, so several
// processes can share one store.
package placement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/alanyoungcy/adboard/internal/domain"
)

type member struct {
	index int
	rank  int64
}

// tierTable is the slot table of one tier. mu serializes the capacity check
// with the occupy/free action.
type tierTable struct {
	mu      sync.Mutex
	def     domain.TierDefinition
	slots   []string
	members map[string]member
	minRank int64
	maxRank int64
}

func (t *tierTable) assignment(listingID string, m member) domain.SlotAssignment {
	return domain.SlotAssignment{TierID: t.def.ID, SlotIndex: m.index, ListingID: listingID, Rank: m.rank}
}

func (t *tierTable) lowestFree() int {
	for i, holder := range t.slots {
		if holder == "" {
			return i
		}
	}
	return -1
}

func (t *tierTable) nextBackRank() int64 {
	if len(t.members) == 0 {
		return 0
	}
	return t.maxRank + 1
}

func (t *tierTable) reset(rows []domain.SlotAssignment) {
	for i := range t.slots {
		t.slots[i] = ""
	}
	t.members = make(map[string]member, len(rows))
	t.minRank, t.maxRank = 0, 0
	for i, row := range rows {
		if i == 0 {
			t.minRank, t.maxRank = row.Rank, row.Rank
		}
		t.slots[row.SlotIndex] = row.ListingID
		t.members[row.ListingID] = member{index: row.SlotIndex, rank: row.Rank}
		t.minRank = min(t.minRank, row.Rank)
		t.maxRank = max(t.maxRank, row.Rank)
	}
}

// Allocator implements Assign, Release and Reorder over all tiers. Tables of
// different tiers lock independently.
type Allocator struct {
	tables map[domain.TierID]*tierTable
	store  domain.SlotStore
	logger *slog.Logger

	idxMu sync.RWMutex
	index map[string]domain.TierID
}

// New builds empty slot tables for every tier. Call Load to restore
// persisted assignments before serving traffic.
func New(tiers []domain.TierDefinition, store domain.SlotStore, logger *slog.Logger) *Allocator {
	a := &Allocator{
		tables: make(map[domain.TierID]*tierTable, len(tiers)),
		store:  store,
		logger: logger.With(slog.String("component", "allocator")),
		index:  make(map[string]domain.TierID),
	}
	for _, def := range tiers {
		a.tables[def.ID] = &tierTable{
			def:     def,
			slots:   make([]string, def.Capacity),
			members: make(map[string]member),
		}
	}
	return a
}

// group validates rows against the catalog and buckets them per tier.
func (a *Allocator) group(rows []domain.SlotAssignment) (map[domain.TierID][]domain.SlotAssignment, error) {
	byTier := make(map[domain.TierID][]domain.SlotAssignment, len(a.tables))
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		t, ok := a.tables[row.TierID]
		if !ok {
			return nil, fmt.Errorf("placement: assignment of %s references unknown tier %q: %w",
				row.ListingID, row.TierID, domain.ErrInvalidConfig)
		}
		if row.SlotIndex < 0 || row.SlotIndex >= len(t.slots) {
			return nil, fmt.Errorf("placement: assignment of %s uses slot %d beyond %s capacity %d: %w",
				row.ListingID, row.SlotIndex, row.TierID, t.def.Capacity, domain.ErrInvalidConfig)
		}
		if seen[row.ListingID] {
			return nil, fmt.Errorf("placement: listing %s holds more than one slot: %w", row.ListingID, domain.ErrInvalidConfig)
		}
		seen[row.ListingID] = true
		byTier[row.TierID] = append(byTier[row.TierID], row)
	}
	return byTier, nil
}

// Load replaces the in-memory tables with the assignments in the store. An
// assignment that does not fit the current catalog is a fatal error.
func (a *Allocator) Load(ctx context.Context) error {
	rows, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("placement: load assignments: %w", err)
	}
	byTier, err := a.group(rows)
	if err != nil {
		return err
	}

	for id, t := range a.tables {
		t.mu.Lock()
		t.reset(byTier[id])
		t.mu.Unlock()
	}

	index := make(map[string]domain.TierID, len(rows))
	for _, row := range rows {
		index[row.ListingID] = row.TierID
	}
	a.idxMu.Lock()
	a.index = index
	a.idxMu.Unlock()

	a.logger.InfoContext(ctx, "slot tables loaded", slog.Int("assignments", len(rows)))
	return nil
}

// resyncTier reloads one tier from the store. t.mu must be held.
func (a *Allocator) resyncTier(ctx context.Context, t *tierTable) error {
	rows, err := a.store.ListTier(ctx, t.def.ID)
	if err != nil {
		return fmt.Errorf("placement: resync %s: %w", t.def.ID, err)
	}
	byTier, err := a.group(rows)
	if err != nil {
		return err
	}
	mine := byTier[t.def.ID]
	t.reset(mine)

	a.idxMu.Lock()
	for id, tier := range a.index {
		if tier == t.def.ID {
			if _, ok := t.members[id]; !ok {
				delete(a.index, id)
			}
		}
	}
	for _, row := range mine {
		a.index[row.ListingID] = t.def.ID
	}
	a.idxMu.Unlock()

	a.logger.DebugContext(ctx, "tier resynced", slog.String("tier", string(t.def.ID)), slog.Int("used", len(mine)))
	return nil
}

// locate finds the table holding listingID, consulting the store when the
// in-memory index has no entry.
func (a *Allocator) locate(ctx context.Context, listingID string) (*tierTable, bool, error) {
	a.idxMu.RLock()
	tierID, ok := a.index[listingID]
	a.idxMu.RUnlock()
	if ok {
		return a.tables[tierID], true, nil
	}

	rows, err := a.store.List(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("placement: locate %s: %w", listingID, err)
	}
	for _, row := range rows {
		if row.ListingID == listingID {
			t, ok := a.tables[row.TierID]
			if !ok {
				return nil, false, fmt.Errorf("placement: listing %s in unknown tier %q: %w",
					listingID, row.TierID, domain.ErrInvalidConfig)
			}
			t.mu.Lock()
			err := a.resyncTier(ctx, t)
			t.mu.Unlock()
			if err != nil {
				return nil, false, err
			}
			return t, true, nil
		}
	}
	return nil, false, nil
}

func (a *Allocator) table(tierID domain.TierID) (*tierTable, error) {
	t, ok := a.tables[tierID]
	if !ok {
		return nil, fmt.Errorf("placement: tier %q: %w", tierID, domain.ErrNotFound)
	}
	return t, nil
}

// Assign places listingID in the lowest free slot of tierID and appends it to
// the back of the tier's display ranking. Assigning a listing that already
// holds a slot in tierID returns that slot unchanged.
func (a *Allocator) Assign(ctx context.Context, listingID string, tierID domain.TierID) (domain.SlotAssignment, error) {
	t, err := a.table(tierID)
	if err != nil {
		return domain.SlotAssignment{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if m, ok := t.members[listingID]; ok {
		return t.assignment(listingID, m), nil
	}

	// Reserve the listing in the index so it cannot be placed in two tiers
	// at once.
	a.idxMu.Lock()
	if other, ok := a.index[listingID]; ok {
		a.idxMu.Unlock()
		return domain.SlotAssignment{}, fmt.Errorf("placement: listing %s already placed in tier %q: %w",
			listingID, other, domain.ErrInvalidTransition)
	}
	a.index[listingID] = tierID
	a.idxMu.Unlock()

	row, err := a.occupy(ctx, t, listingID)
	if err != nil {
		a.idxMu.Lock()
		if a.index[listingID] == tierID {
			if _, placed := t.members[listingID]; !placed {
				delete(a.index, listingID)
			}
		}
		a.idxMu.Unlock()
		return domain.SlotAssignment{}, err
	}

	a.logger.DebugContext(ctx, "slot assigned",
		slog.String("listing_id", listingID),
		slog.String("tier", string(tierID)),
		slog.Int("slot", row.SlotIndex),
	)
	return row, nil
}

// occupy takes the lowest free slot of t for listingID. When the table looks
// full or the store reports the slot taken, it resyncs once and retries.
func (a *Allocator) occupy(ctx context.Context, t *tierTable, listingID string) (domain.SlotAssignment, error) {
	for attempt := 0; ; attempt++ {
		slot := t.lowestFree()
		if slot >= 0 {
			m := member{index: slot, rank: t.nextBackRank()}
			row := t.assignment(listingID, m)
			err := a.store.Occupy(ctx, row)
			if err == nil {
				if len(t.members) == 0 {
					t.minRank = m.rank
				}
				t.maxRank = m.rank
				t.slots[slot] = listingID
				t.members[listingID] = m
				a.idxMu.Lock()
				a.index[listingID] = t.def.ID
				a.idxMu.Unlock()
				return row, nil
			}
			if !errors.Is(err, domain.ErrAlreadyExists) || attempt > 0 {
				return domain.SlotAssignment{}, fmt.Errorf("placement: occupy %s/%d: %w", t.def.ID, slot, err)
			}
		} else if attempt > 0 {
			return domain.SlotAssignment{}, fmt.Errorf("placement: tier %q is full (%d slots): %w",
				t.def.ID, t.def.Capacity, domain.ErrCapacityExceeded)
		}

		if err := a.resyncTier(ctx, t); err != nil {
			return domain.SlotAssignment{}, err
		}
		if m, ok := t.members[listingID]; ok {
			return t.assignment(listingID, m), nil
		}
	}
}

// Release frees the listing's slot. Releasing an unplaced listing succeeds.
func (a *Allocator) Release(ctx context.Context, listingID string) error {
	t, ok, err := a.locate(ctx, listingID)
	if err != nil || !ok {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if err := a.store.Free(ctx, listingID); err != nil {
		return fmt.Errorf("placement: free %s: %w", listingID, err)
	}
	if m, ok := t.members[listingID]; ok {
		t.slots[m.index] = ""
		delete(t.members, listingID)
	}

	a.idxMu.Lock()
	delete(a.index, listingID)
	a.idxMu.Unlock()

	a.logger.DebugContext(ctx, "slot released",
		slog.String("listing_id", listingID),
		slog.String("tier", string(t.def.ID)),
	)
	return nil
}

// Reorder moves the listing to the front of its tier's display ranking. It
// never changes which listings hold slots.
func (a *Allocator) Reorder(ctx context.Context, listingID string) (domain.SlotAssignment, error) {
	t, ok, err := a.locate(ctx, listingID)
	if err != nil {
		return domain.SlotAssignment{}, err
	}
	if !ok {
		return domain.SlotAssignment{}, fmt.Errorf("placement: reorder %s: %w", listingID, domain.ErrNotAssigned)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Another process may have boosted a neighbour since the last sync.
	if err := a.resyncTier(ctx, t); err != nil {
		return domain.SlotAssignment{}, err
	}
	m, ok := t.members[listingID]
	if !ok {
		return domain.SlotAssignment{}, fmt.Errorf("placement: reorder %s: %w", listingID, domain.ErrNotAssigned)
	}

	rank := t.minRank - 1
	if err := a.store.SetRank(ctx, listingID, rank); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.SlotAssignment{}, fmt.Errorf("placement: reorder %s: %w", listingID, domain.ErrNotAssigned)
		}
		return domain.SlotAssignment{}, fmt.Errorf("placement: set rank %s: %w", listingID, err)
	}
	m.rank = rank
	t.members[listingID] = m
	t.minRank = rank

	return t.assignment(listingID, m), nil
}

// Lookup returns the listing's current assignment, if any.
func (a *Allocator) Lookup(ctx context.Context, listingID string) (domain.SlotAssignment, bool, error) {
	t, ok, err := a.locate(ctx, listingID)
	if err != nil || !ok {
		return domain.SlotAssignment{}, false, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[listingID]
	if !ok {
		return domain.SlotAssignment{}, false, nil
	}
	return t.assignment(listingID, m), true, nil
}

// Ranking returns the tier's occupants, most prominent first.
func (a *Allocator) Ranking(ctx context.Context, tierID domain.TierID) ([]domain.SlotAssignment, error) {
	t, err := a.table(tierID)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	if err := a.resyncTier(ctx, t); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	out := make([]domain.SlotAssignment, 0, len(t.members))
	for id, m := range t.members {
		out = append(out, t.assignment(id, m))
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Rank < out[j].Rank
	})
	return out, nil
}

// Occupancy reports used and total slots of a tier.
func (a *Allocator) Occupancy(tierID domain.TierID) (domain.Occupancy, error) {
	t, err := a.table(tierID)
	if err != nil {
		return domain.Occupancy{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return domain.Occupancy{TierID: tierID, Capacity: t.def.Capacity, Used: len(t.members)}, nil
}
