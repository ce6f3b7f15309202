package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/adboard/internal/domain"
	"github.com/alanyoungcy/adboard/internal/events"
)

func publish(t *testing.T, bus domain.SignalBus, ev domain.ListingEvent) {
	t.Helper()
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), domain.ListingEventsChannel, raw))
}

func TestHubFiltersByTopic(t *testing.T) {
	bus := events.NewLocalBus(16)
	hub := NewHub(bus, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "full"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?topics=tier:gold"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var hello map[string]any
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "hello", hello["type"])

	publish(t, bus, domain.ListingEvent{Event: domain.EventListingApproved, ListingID: "s1", TierID: "silver"})
	publish(t, bus, domain.ListingEvent{Event: domain.EventBoostFired, ListingID: "g1", TierID: "gold"})

	var got domain.ListingEvent
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "g1", got.ListingID)
	assert.Equal(t, domain.EventBoostFired, got.Event)
}

func TestClientWants(t *testing.T) {
	c := &client{topics: map[string]bool{"event:listing.*": true, "listing:abc": true}}

	assert.True(t, c.wants(eventTopics(domain.ListingEvent{Event: domain.EventListingExpired, ListingID: "x"})))
	assert.True(t, c.wants(eventTopics(domain.ListingEvent{Event: domain.EventBoostFired, ListingID: "abc"})))
	assert.False(t, c.wants(eventTopics(domain.ListingEvent{Event: domain.EventBoostFired, ListingID: "x", TierID: "gold"})))
}
