package events

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/store/memory"
)

type captureNotifier struct {
	got []domain.ListingEvent
}

func (c *captureNotifier) NotifyEvent(_ context.Context, ev domain.ListingEvent) error {
	c.got = append(c.got, ev)
	return nil
}

func TestRecordFansOut(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	audit := memory.NewAuditStore(func() time.Time { return now })
	bus := NewLocalBus(4)
	notifier := &captureNotifier{}
	rec := NewRecorder(audit, bus, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sub, err := bus.Subscribe(ctx, domain.ListingEventsChannel)
	require.NoError(t, err)

	ev := domain.ListingEvent{
		Event:     domain.EventListingApproved,
		ListingID: "l1",
		Status:    domain.StatusActive,
		TierID:    "gold",
		Detail:    map[string]any{"slot_index": 2},
		At:        now,
	}
	rec.Record(ctx, ev)

	entries, err := audit.List(ctx, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domain.EventListingApproved, entries[0].Event)
	assert.Equal(t, "l1", entries[0].Detail["listing_id"])
	assert.Equal(t, "gold", entries[0].Detail["tier_id"])
	assert.Equal(t, 2, entries[0].Detail["slot_index"])

	select {
	case raw := <-sub:
		var got domain.ListingEvent
		require.NoError(t, json.Unmarshal(raw, &got))
		assert.Equal(t, ev.ListingID, got.ListingID)
		assert.Equal(t, ev.Event, got.Event)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}

	require.Len(t, notifier.got, 1)
	assert.Equal(t, "l1", notifier.got[0].ListingID)
}

func TestRecordWithoutOptionalSinks(t *testing.T) {
	audit := memory.NewAuditStore(time.Now)
	rec := NewRecorder(audit, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec.Record(context.Background(), domain.ListingEvent{Event: domain.EventListingClosed, ListingID: "l2"})

	entries, err := audit.List(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLocalBusUnsubscribesOnCancel(t *testing.T) {
	bus := NewLocalBus(1)
	ctx, cancel := context.WithCancel(context.Background())
	sub, err := bus.Subscribe(ctx, "c")
	require.NoError(t, err)

	cancel()
	select {
	case _, ok := <-sub:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription not closed")
	}
	require.NoError(t, bus.Publish(context.Background(), "c", []byte("x")))
}
