package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// newTestClient connects to TEST_DATABASE_URL, applies migrations and
// truncates every table. Tests skip when the variable is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	c, err := New(ctx, ClientConfig{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.NoError(t, c.RunMigrations(ctx))
	_, err = c.Pool().Exec(ctx, `TRUNCATE slot_assignments, boost_schedules, audit_log, listings`)
	require.NoError(t, err)
	return c
}

var t0 = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func pendingListing(id string) domain.Listing {
	return domain.Listing{
		ID:               id,
		OwnerID:          "owner-1",
		Title:            "Flat " + id,
		RequestedTier:    "gold",
		PurchasedPeriods: 1,
		Status:           domain.StatusPending,
		CreatedAt:        t0,
		UpdatedAt:        t0,
		Highlight:        &domain.HighlightConfig{Badge: "new"},
	}
}

func TestListingStore(t *testing.T) {
	c := newTestClient(t)
	s := NewListingStore(c.Pool())
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, pendingListing("l1")))
		require.ErrorIs(t, s.Create(ctx, pendingListing("l1")), domain.ErrAlreadyExists)

		got, err := s.Get(ctx, "l1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.Empty(t, got.TierID)
		assert.Nil(t, got.ExpiresAt)
		require.NotNil(t, got.Highlight)
		assert.Equal(t, "new", got.Highlight.Badge)

		_, err = s.Get(ctx, "missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("compare and swap", func(t *testing.T) {
		cur, err := s.Get(ctx, "l1")
		require.NoError(t, err)
		require.NoError(t, s.IncrementCounters(ctx, "l1", 3, 1))

		exp := t0.Add(30 * 24 * time.Hour)
		next := cur
		next.Status = domain.StatusActive
		next.TierID = "gold"
		next.ApprovedAt = &t0
		next.ExpiresAt = &exp
		saved, err := s.CompareAndSwap(ctx, next)
		require.NoError(t, err)
		assert.Equal(t, cur.Version+1, saved.Version)
		assert.Equal(t, int64(3), saved.Views, "counters survive the swap")

		_, err = s.CompareAndSwap(ctx, next)
		require.ErrorIs(t, err, domain.ErrConcurrencyConflict)

		ghost := next
		ghost.ID = "ghost"
		_, err = s.CompareAndSwap(ctx, ghost)
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("overdue and stats", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, pendingListing("l2")))

		overdue, err := s.ListOverdue(ctx, t0.Add(31*24*time.Hour), 0)
		require.NoError(t, err)
		require.Len(t, overdue, 1)
		assert.Equal(t, "l1", overdue[0].ID)

		overdue, err = s.ListOverdue(ctx, t0.Add(29*24*time.Hour), 0)
		require.NoError(t, err)
		assert.Empty(t, overdue)

		st, err := s.Stats(ctx, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, 1, st.Active)
		assert.Equal(t, 1, st.Pending)
		assert.Equal(t, int64(3), st.Views)

		many, err := s.GetMany(ctx, []string{"l2", "nope", "l1"})
		require.NoError(t, err)
		require.Len(t, many, 2)
		assert.Equal(t, "l2", many[0].ID)
	})
}

func TestSlotStoreRejectsDoubleBooking(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	listings := NewListingStore(c.Pool())
	slots := NewSlotStore(c.Pool())
	for _, id := range []string{"a", "b"} {
		require.NoError(t, listings.Create(ctx, pendingListing(id)))
	}

	require.NoError(t, slots.Occupy(ctx, domain.SlotAssignment{TierID: "gold", SlotIndex: 0, ListingID: "a"}))
	err := slots.Occupy(ctx, domain.SlotAssignment{TierID: "gold", SlotIndex: 0, ListingID: "b"})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	err = slots.Occupy(ctx, domain.SlotAssignment{TierID: "gold", SlotIndex: 1, ListingID: "a"})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
	err = slots.Occupy(ctx, domain.SlotAssignment{TierID: "gold", SlotIndex: 1, ListingID: "zzz"})
	require.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, slots.SetRank(ctx, "a", -4))
	require.ErrorIs(t, slots.SetRank(ctx, "b", 1), domain.ErrNotFound)

	rows, err := slots.List(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(-4), rows[0].Rank)

	gold, err := slots.ListTier(ctx, "gold")
	require.NoError(t, err)
	require.Len(t, gold, 1)
	silver, err := slots.ListTier(ctx, "silver")
	require.NoError(t, err)
	assert.Empty(t, silver)

	require.NoError(t, slots.Free(ctx, "a"))
	require.NoError(t, slots.Free(ctx, "a"))
}

func TestBoostStoreListDue(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewBoostStore(c.Pool())

	due := domain.BoostSchedule{ID: "b1", ListingID: "l1", IntervalDays: 3, TotalCredits: 2, RemainingCredits: 2, NextBoostAt: t0, Enabled: true, UpdatedAt: t0}
	later := domain.BoostSchedule{ID: "b2", ListingID: "l2", IntervalDays: 3, TotalCredits: 2, RemainingCredits: 2, NextBoostAt: t0.Add(time.Hour), Enabled: true, UpdatedAt: t0}
	off := domain.BoostSchedule{ID: "b3", ListingID: "l3", IntervalDays: 3, TotalCredits: 2, RemainingCredits: 2, NextBoostAt: t0, UpdatedAt: t0}
	for _, b := range []domain.BoostSchedule{due, later, off} {
		require.NoError(t, s.Create(ctx, b))
	}
	require.ErrorIs(t, s.Create(ctx, due), domain.ErrAlreadyExists)

	got, err := s.ListDue(ctx, t0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "l1", got[0].ListingID)

	due.RemainingCredits = 1
	due.NextBoostAt = t0.Add(72 * time.Hour)
	saved, err := s.CompareAndSwap(ctx, due)
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	stored, err := s.Get(ctx, "l1")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RemainingCredits)
	assert.True(t, stored.NextBoostAt.Equal(due.NextBoostAt))

	// A second writer holding version 0 loses.
	_, err = s.CompareAndSwap(ctx, due)
	require.ErrorIs(t, err, domain.ErrConcurrencyConflict)
	_, err = s.CompareAndSwap(ctx, domain.BoostSchedule{ListingID: "ghost"})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWithTxRollsBack(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	listings := NewListingStore(c.Pool())
	boom := errors.New("boom")

	err := c.WithTx(ctx, func(ctx context.Context) error {
		require.NoError(t, listings.Create(ctx, pendingListing("tx1")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = listings.Get(ctx, "tx1")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditStoreRetention(t *testing.T) {
	c := newTestClient(t)
	ctx := context.Background()
	s := NewAuditStore(c.Pool())

	require.NoError(t, s.Log(ctx, domain.EventListingCreated, map[string]any{"listing_id": "a"}))
	_, err := c.Pool().Exec(ctx, `UPDATE audit_log SET created_at = $1`, t0)
	require.NoError(t, err)
	require.NoError(t, s.Log(ctx, domain.EventListingApproved, map[string]any{"listing_id": "a"}))

	old, err := s.ListBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "a", old[0].Detail["listing_id"])

	n, err := s.DeleteBefore(ctx, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rest, err := s.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, domain.EventListingApproved, rest[0].Event)
}
