// Package notify forwards listing lifecycle events to operator channels
// (Telegram, Discord). Events can be filtered by name so operators only hear
// about the transitions they care about.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// Sender is the interface that each notification channel must implement.
type Sender interface {
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs (e.g. "telegram").
	Name() string
}

// Notifier dispatches notifications to one or more Senders. Notify only
// forwards events whose name is in the allowed set.
type Notifier struct {
	senders []Sender
	events  map[string]bool // allowed event names
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to senders. An empty events list
// allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify sends title and message to all senders if event passes the filter.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.events) > 0 && !n.events[event] {
		n.logger.DebugContext(ctx, "event filtered out",
			slog.String("event", event),
		)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyEvent renders a listing event and sends it through Notify.
func (n *Notifier) NotifyEvent(ctx context.Context, ev domain.ListingEvent) error {
	return n.Notify(ctx, ev.Event, eventTitle(ev.Event), eventMessage(ev))
}

// dispatch sends to every sender; one failing sender does not stop the rest.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notification sent",
			slog.String("sender", s.Name()),
			slog.String("title", title),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

var eventTitles = map[string]string{
	domain.EventListingCreated:  "New listing awaiting review",
	domain.EventListingApproved: "Listing approved",
	domain.EventListingRejected: "Listing rejected",
	domain.EventListingExtended: "Listing extended",
	domain.EventListingClosed:   "Listing closed",
	domain.EventListingExpired:  "Listing expired",
	domain.EventBoostFired:      "Listing boosted",
	domain.EventBoostDisabled:   "Boost schedule stopped",
	domain.EventApprovalBlocked: "Approval blocked: tier full",
	domain.EventSlotReclaimed:   "Orphaned slot reclaimed",
	domain.EventSweepCompleted:  "Expiry sweep completed",
}

func eventTitle(event string) string {
	if t, ok := eventTitles[event]; ok {
		return t
	}
	return event
}

// eventMessage renders the listing reference followed by sorted detail keys,
// one per line.
func eventMessage(ev domain.ListingEvent) string {
	var b strings.Builder
	if ev.ListingID != "" {
		fmt.Fprintf(&b, "listing: %s\n", ev.ListingID)
	}
	if ev.Status != "" {
		fmt.Fprintf(&b, "status: %s\n", ev.Status)
	}
	if ev.TierID != "" {
		fmt.Fprintf(&b, "tier: %s\n", ev.TierID)
	}
	for _, k := range slices.Sorted(maps.Keys(ev.Detail)) {
		fmt.Fprintf(&b, "%s: %v\n", k, ev.Detail[k])
	}
	if !ev.At.IsZero() {
		fmt.Fprintf(&b, "at: %s", ev.At.UTC().Format("2006-01-02 15:04:05Z"))
	}
	return strings.TrimRight(b.String(), "\n")
}
