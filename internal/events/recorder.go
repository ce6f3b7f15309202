// Package events records committed listing commands. Each event is appended
// to the audit log, published on the signal bus for websocket fan-out and,
// when configured, forwarded to the notifier.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// Notifier forwards operator alerts. It is satisfied by *notify.Notifier.
type Notifier interface {
	NotifyEvent(ctx context.Context, ev domain.ListingEvent) error
}

// Recorder fans a ListingEvent out to audit, bus and notifier. Recording is
// best-effort: the command that produced the event has already committed, so
// failures are logged and never returned.
type Recorder struct {
	audit    domain.AuditStore
	bus      domain.SignalBus
	notifier Notifier
	logger   *slog.Logger
}

// NewRecorder creates a Recorder. bus and notifier may be nil.
func NewRecorder(audit domain.AuditStore, bus domain.SignalBus, notifier Notifier, logger *slog.Logger) *Recorder {
	return &Recorder{
		audit:    audit,
		bus:      bus,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "events")),
	}
}

// Record persists and publishes ev.
func (r *Recorder) Record(ctx context.Context, ev domain.ListingEvent) {
	// The caller's request may be cancelled right after commit; the trail
	// must still be written.
	ctx = context.WithoutCancel(ctx)

	if r.audit != nil {
		if err := r.audit.Log(ctx, ev.Event, auditDetail(ev)); err != nil {
			r.logger.ErrorContext(ctx, "audit log failed",
				slog.String("event", ev.Event),
				slog.String("listing_id", ev.ListingID),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		if err := r.publish(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "publish listing event failed",
				slog.String("event", ev.Event),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.notifier != nil {
		if err := r.notifier.NotifyEvent(ctx, ev); err != nil {
			r.logger.WarnContext(ctx, "notify failed",
				slog.String("event", ev.Event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Recorder) publish(ctx context.Context, ev domain.ListingEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	return r.bus.Publish(ctx, domain.ListingEventsChannel, payload)
}

func auditDetail(ev domain.ListingEvent) map[string]any {
	detail := make(map[string]any, len(ev.Detail)+3)
	for k, v := range ev.Detail {
		detail[k] = v
	}
	detail["listing_id"] = ev.ListingID
	if ev.Status != "" {
		detail["status"] = string(ev.Status)
	}
	if ev.TierID != "" {
		detail["tier_id"] = string(ev.TierID)
	}
	return detail
}
