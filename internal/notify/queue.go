package notify

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// EventNotifier delivers a single listing event.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.ListingEvent) error
}

// Queue decouples event delivery from the command path. NotifyEvent never
// blocks: events beyond the buffer are dropped and logged. Run drains the
// buffer until its context is cancelled.
type Queue struct {
	next   EventNotifier
	ch     chan domain.ListingEvent
	logger *slog.Logger
}

// NewQueue creates a Queue holding up to size pending events.
func NewQueue(next EventNotifier, size int, logger *slog.Logger) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		next:   next,
		ch:     make(chan domain.ListingEvent, size),
		logger: logger.With(slog.String("component", "notify_queue")),
	}
}

func (q *Queue) NotifyEvent(ctx context.Context, ev domain.ListingEvent) error {
	select {
	case q.ch <- ev:
	default:
		q.logger.WarnContext(ctx, "notification dropped, queue full",
			slog.String("event", ev.Event),
			slog.String("listing_id", ev.ListingID),
		)
	}
	return nil
}

// Run delivers queued events until ctx is cancelled, then flushes what is
// already buffered.
func (q *Queue) Run(ctx context.Context) error {
	for {
		select {
		case ev := <-q.ch:
			q.deliver(ctx, ev)
		case <-ctx.Done():
			q.flush(context.WithoutCancel(ctx))
			return nil
		}
	}
}

func (q *Queue) flush(ctx context.Context) {
	for {
		select {
		case ev := <-q.ch:
			q.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (q *Queue) deliver(ctx context.Context, ev domain.ListingEvent) {
	if err := q.next.NotifyEvent(ctx, ev); err != nil {
		q.logger.WarnContext(ctx, "notification failed",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}
