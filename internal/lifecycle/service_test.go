package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/boost"
	"github.com/alanyoungcy/adboard/internal/catalog"
	"github.com/alanyoungcy/adboard/internal/clock"
	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
	"github.com/alanyoungcy/adboard/internal/keylock"
	"github.com/alanyoungcy/adboard/internal/placement"
	"github.com/alanyoungcy/adboard/internal/store/memory"
)

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

type harness struct {
	svc       *Service
	clock     *clock.Manual
	listings  *memory.ListingStore
	schedules *memory.BoostStore
	audit     *memory.AuditStore
	alloc     *placement.Allocator
	boosts    *boost.Scheduler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tiers := []domain.TierDefinition{
		{ID: "gold", Name: "Gold", DisplayRank: 1, Capacity: 5, DurationDays: 30, Price: 1_000_000},
		{ID: "silver", Name: "Silver", DisplayRank: 2, Capacity: 1, DurationDays: 14, Price: 300_000},
	}
	cat, err := catalog.New(tiers, catalog.Pricing{HighlightFee: 50_000, BoostCreditPrice: 10_000})
	require.NoError(t, err)

	clk := clock.NewManual(t0)
	h := &harness{
		clock:     clk,
		listings:  memory.NewListingStore(),
		schedules: memory.NewBoostStore(),
		audit:     memory.NewAuditStore(clk.Now),
	}
	h.alloc = placement.New(tiers, memory.NewSlotStore(), logger)
	rec := events.NewRecorder(h.audit, nil, nil, logger)
	locks := &keylock.Map{}
	h.boosts = boost.NewScheduler(h.listings, h.schedules, h.alloc, locks, clk, rec, logger)
	h.svc = NewService(cat, h.listings, h.alloc, h.boosts, locks, clk, rec, logger)
	return h
}

func (h *harness) create(t *testing.T, tier domain.TierID, periods int) domain.Listing {
	t.Helper()
	l, _, err := h.svc.CreateListing(context.Background(), CreateRequest{
		OwnerID: "owner-1",
		Title:   "Sea view flat",
		Order:   domain.Order{Tiers: map[domain.TierID]int{tier: periods}},
	})
	require.NoError(t, err)
	return l
}

func (h *harness) active(t *testing.T, tier domain.TierID, periods int) domain.Listing {
	t.Helper()
	l, err := h.svc.Approve(context.Background(), h.create(t, tier, periods).ID)
	require.NoError(t, err)
	return l
}

func (h *harness) boosted(t *testing.T, credits, intervalDays int) domain.Listing {
	t.Helper()
	l, _, err := h.svc.CreateListing(context.Background(), CreateRequest{
		OwnerID: "owner-1",
		Title:   "Boosted flat",
		Order: domain.Order{
			Tiers:             map[domain.TierID]int{"gold": 1},
			BoostCredits:      credits,
			BoostIntervalDays: intervalDays,
		},
	})
	require.NoError(t, err)
	return l
}

func (h *harness) count(t *testing.T, event string) int {
	t.Helper()
	n := 0
	for _, e := range h.events(t) {
		if e == event {
			n++
		}
	}
	return n
}

func (h *harness) events(t *testing.T) []string {
	t.Helper()
	entries, err := h.audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	out := make([]string, len(entries))
	for i, e := range entries {
		out[len(entries)-1-i] = e.Event
	}
	return out
}

func TestCreateListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	l, quote, err := h.svc.CreateListing(ctx, CreateRequest{
		OwnerID:   "owner-1",
		Title:     "Corner shop",
		Order:     domain.Order{Tiers: map[domain.TierID]int{"gold": 2}, BoostCredits: 10, BoostIntervalDays: 3, Highlight: true},
		Highlight: &domain.HighlightConfig{Color: "#ffcc00"},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPending, l.Status)
	assert.Equal(t, domain.TierID("gold"), l.RequestedTier)
	assert.Empty(t, l.TierID)
	assert.Nil(t, l.ExpiresAt)
	assert.Equal(t, "#ffcc00", l.Highlight.Color)
	assert.NotEmpty(t, l.BoostScheduleID)
	assert.Equal(t, int64(2_000_000+50_000+100_000), quote.Total)

	sched, err := h.svc.GetBoostSchedule(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	assert.Equal(t, 10, sched.RemainingCredits)

	assert.Equal(t, []string{domain.EventListingCreated}, h.events(t))
}

func TestCreateListingValidation(t *testing.T) {
	tests := []struct {
		name string
		req  CreateRequest
	}{
		{"missing owner", CreateRequest{Title: "x", Order: domain.Order{Tiers: map[domain.TierID]int{"gold": 1}}}},
		{"two tiers", CreateRequest{OwnerID: "o", Title: "x", Order: domain.Order{Tiers: map[domain.TierID]int{"gold": 1, "silver": 1}}}},
		{"zero periods", CreateRequest{OwnerID: "o", Title: "x", Order: domain.Order{Tiers: map[domain.TierID]int{"gold": 0}}}},
		{"bad interval", CreateRequest{OwnerID: "o", Title: "x", Order: domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostCredits: 2, BoostIntervalDays: 5}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			_, _, err := h.svc.CreateListing(context.Background(), tc.req)
			require.ErrorIs(t, err, domain.ErrInvalidConfig)

			pending, err := h.svc.ListPending(context.Background(), 0)
			require.NoError(t, err)
			assert.Empty(t, pending)
		})
	}
}

func TestApproveSetsExpiryFromPeriods(t *testing.T) {
	h := newHarness(t)
	l := h.active(t, "gold", 2)

	assert.Equal(t, domain.StatusActive, l.Status)
	assert.Equal(t, domain.TierID("gold"), l.TierID)
	require.NotNil(t, l.ApprovedAt)
	assert.Equal(t, t0, *l.ApprovedAt)
	require.NotNil(t, l.ExpiresAt)
	assert.Equal(t, t0.Add(60*24*time.Hour), *l.ExpiresAt)
}

func TestApproveOnActiveLeavesListingUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.active(t, "gold", 1)

	h.clock.Advance(time.Hour)
	_, err := h.svc.Approve(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	got, err := h.svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestGoldCapacityScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var occupants []domain.Listing
	for i := 0; i < 5; i++ {
		occupants = append(occupants, h.active(t, "gold", 1))
	}
	sixth := h.create(t, "gold", 1)

	_, err := h.svc.Approve(ctx, sixth.ID)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	still, err := h.svc.Get(ctx, sixth.ID)
	require.NoError(t, err)
	assert.Equal(t, sixth, still, "failed approve must not touch the listing")

	freed, ok, err := h.alloc.Lookup(ctx, occupants[2].ID)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.svc.Close(ctx, occupants[2].ID)
	require.NoError(t, err)

	approved, err := h.svc.Approve(ctx, sixth.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, approved.Status)

	slot, ok, err := h.alloc.Lookup(ctx, sixth.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, freed.SlotIndex, slot.SlotIndex)

	assert.Contains(t, h.events(t), domain.EventApprovalBlocked)
}

func TestApproveStartsBoostSchedule(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	first := h.active(t, "gold", 1)
	l, _, err := h.svc.CreateListing(ctx, CreateRequest{
		OwnerID: "owner-2",
		Title:   "Boosted",
		Order:   domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostCredits: 10, BoostIntervalDays: 3},
	})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, l.ID)
	require.NoError(t, err)

	sched, err := h.svc.GetBoostSchedule(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, sched.Enabled)
	assert.Equal(t, 9, sched.RemainingCredits)
	assert.Equal(t, t0.Add(3*24*time.Hour), sched.NextBoostAt)

	ranked, err := h.svc.ListActiveByTier(ctx, "gold")
	require.NoError(t, err)
	require.Len(t, ranked, 2)
	assert.Equal(t, l.ID, ranked[0].ID)
	assert.Equal(t, first.ID, ranked[1].ID)
	assert.Equal(t, 1, ranked[0].Position)
}

func TestReject(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.create(t, "gold", 1)

	rejected, err := h.svc.Reject(ctx, l.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rejected.Status)
	assert.Equal(t, domain.DefaultRejectionReason, rejected.RejectionReason)

	_, err = h.svc.Reject(ctx, l.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.svc.Approve(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	occ, err := h.alloc.Occupancy("gold")
	require.NoError(t, err)
	assert.Zero(t, occ.Used)
}

func TestExtendActiveCountsFromOldExpiry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.active(t, "gold", 1)

	h.clock.Advance(10 * 24 * time.Hour)
	ext, err := h.svc.Extend(ctx, l.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, ext.Status)
	assert.Equal(t, l.ExpiresAt.Add(60*24*time.Hour), *ext.ExpiresAt)
	assert.Equal(t, 3, ext.PurchasedPeriods)
}

func TestExtendRevivesExpiredListing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.active(t, "silver", 1)

	h.clock.Advance(20 * 24 * time.Hour)
	expired, err := h.svc.Expire(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, expired.Status)

	_, held, err := h.alloc.Lookup(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, held)

	ext, err := h.svc.Extend(ctx, l.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, ext.Status)
	assert.Equal(t, h.clock.Now().Add(14*24*time.Hour), *ext.ExpiresAt)

	_, held, err = h.alloc.Lookup(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, held)
}

func TestExtendExpiredIntoFullTierChangesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.active(t, "silver", 1)

	h.clock.Advance(15 * 24 * time.Hour)
	expired, err := h.svc.Expire(ctx, l.ID)
	require.NoError(t, err)
	h.active(t, "silver", 1)

	_, err = h.svc.Extend(ctx, l.ID, 1)
	require.ErrorIs(t, err, domain.ErrCapacityExceeded)

	got, err := h.svc.Get(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, expired, got)
}

func TestExtendPreconditions(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	pending := h.create(t, "gold", 1)

	_, err := h.svc.Extend(ctx, pending.ID, 0)
	require.ErrorIs(t, err, domain.ErrInvalidConfig)
	_, err = h.svc.Extend(ctx, pending.ID, 1)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.svc.Extend(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCloseDisablesBoosts(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l, _, err := h.svc.CreateListing(ctx, CreateRequest{
		OwnerID: "o",
		Title:   "t",
		Order:   domain.Order{Tiers: map[domain.TierID]int{"gold": 1}, BoostCredits: 3, BoostIntervalDays: 1},
	})
	require.NoError(t, err)
	_, err = h.svc.Approve(ctx, l.ID)
	require.NoError(t, err)

	closed, err := h.svc.Close(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusClosed, closed.Status)

	sched, err := h.svc.GetBoostSchedule(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, sched.Enabled)
	assert.Equal(t, 2, sched.RemainingCredits)

	_, err = h.svc.Close(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = h.svc.Extend(ctx, l.ID, 1)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestExpireRequiresOverdue(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	l := h.active(t, "gold", 1)

	_, err := h.svc.Expire(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	h.clock.Set(*l.ExpiresAt)
	expired, err := h.svc.Expire(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, expired.Status)

	_, err = h.svc.Expire(ctx, l.ID)
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestConcurrentApprovalsNeverOversell(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var ids []string
	for i := 0; i < 20; i++ {
		ids = append(ids, h.create(t, "gold", 1).ID)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved int
	)
	for _, id := range ids {
		for range 2 {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := h.svc.Approve(ctx, id)
				if err == nil {
					mu.Lock()
					approved++
					mu.Unlock()
				}
			}(id)
		}
	}
	wg.Wait()

	assert.Equal(t, 5, approved)
	st, err := h.svc.GetStats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 5, st.Active)
	assert.Equal(t, 15, st.Pending)

	occ, err := h.alloc.Occupancy("gold")
	require.NoError(t, err)
	assert.Equal(t, 5, occ.Used)
}

func TestCloseRacingExpireCommitsOnce(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round%d", i), func(t *testing.T) {
			h := newHarness(t)
			l := h.active(t, "gold", 1)
			h.clock.Set(*l.ExpiresAt)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			wg.Add(2)
			go func() { defer wg.Done(); _, errs[0] = h.svc.Close(ctx, l.ID) }()
			go func() { defer wg.Done(); _, errs[1] = h.svc.Expire(ctx, l.ID) }()
			wg.Wait()

			failures := 0
			for _, err := range errs {
				if err != nil {
					require.ErrorIs(t, err, domain.ErrInvalidTransition)
					failures++
				}
			}
			assert.Equal(t, 1, failures)

			got, err := h.svc.Get(ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestBoostRacingCloseNeverChargesClosedListing(t *testing.T) {
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round%d", i), func(t *testing.T) {
			h := newHarness(t)
			l := h.boosted(t, 5, 1)
			_, err := h.svc.Approve(ctx, l.ID)
			require.NoError(t, err)

			const fires = 3
			var wg sync.WaitGroup
			errs := make([]error, fires)
			wg.Add(fires + 1)
			go func() {
				defer wg.Done()
				_, err := h.svc.Close(ctx, l.ID)
				assert.NoError(t, err)
			}()
			for j := 0; j < fires; j++ {
				go func() { defer wg.Done(); _, errs[j] = h.boosts.Fire(ctx, l.ID) }()
			}
			wg.Wait()

			ok := 0
			for _, err := range errs {
				switch {
				case err == nil:
					ok++
				case errors.Is(err, domain.ErrScheduleExhausted), errors.Is(err, domain.ErrInvalidTransition):
				default:
					t.Fatalf("unexpected fire error: %v", err)
				}
			}

			got, err := h.svc.Get(ctx, l.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusClosed, got.Status)
			_, placed, err := h.alloc.Lookup(ctx, l.ID)
			require.NoError(t, err)
			assert.False(t, placed)

			sched, err := h.svc.GetBoostSchedule(ctx, l.ID)
			require.NoError(t, err)
			assert.False(t, sched.Enabled)
			spent := sched.TotalCredits - sched.RemainingCredits
			assert.Equal(t, ok+1, spent, "approval plus successful fires")
			assert.Equal(t, spent, h.count(t, domain.EventBoostFired))
		})
	}
}

func TestApproveRacingDriverSpendsOneCredit(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	for i := 0; i < 20; i++ {
		t.Run(fmt.Sprintf("round%d", i), func(t *testing.T) {
			h := newHarness(t)
			l := h.boosted(t, 10, 3)
			d := boost.NewDriver(h.boosts, h.schedules, h.clock, time.Second, 10, 4, logger)

			stop := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				for {
					select {
					case <-stop:
						return
					default:
					}
					_, err := d.RunOnce(ctx)
					assert.NoError(t, err)
				}
			}()

			_, err := h.svc.Approve(ctx, l.ID)
			require.NoError(t, err)
			close(stop)
			<-done

			sched, err := h.svc.GetBoostSchedule(ctx, l.ID)
			require.NoError(t, err)
			assert.True(t, sched.Enabled)
			assert.Equal(t, 9, sched.RemainingCredits)
			assert.Equal(t, t0.Add(domain.Days(3)), sched.NextBoostAt)
			assert.Equal(t, 1, h.count(t, domain.EventBoostFired))
		})
	}
}

func TestCountersAndStats(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	a := h.active(t, "gold", 1)
	h.create(t, "gold", 1)

	require.NoError(t, h.svc.RecordView(ctx, a.ID))
	require.NoError(t, h.svc.RecordView(ctx, a.ID))
	require.NoError(t, h.svc.RecordInquiry(ctx, a.ID))
	require.ErrorIs(t, h.svc.RecordView(ctx, "missing"), domain.ErrNotFound)

	st, err := h.svc.GetStats(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, domain.OwnerStats{OwnerID: "owner-1", Active: 1, Pending: 1, Views: 2, Inquiries: 1}, st)

	mine, err := h.svc.ListMine(ctx, "owner-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}
