package events

import (
	"context"
	"sync"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// LocalBus is an in-process SignalBus used when no Redis is configured.
// Slow subscribers drop messages instead of blocking publishers.
type LocalBus struct {
	mu     sync.RWMutex
	subs   map[string]map[chan []byte]struct{}
	buffer int
}

// NewLocalBus creates a LocalBus whose subscriber channels hold buffer
// messages.
func NewLocalBus(buffer int) *LocalBus {
	if buffer <= 0 {
		buffer = 64
	}
	return &LocalBus{subs: make(map[string]map[chan []byte]struct{}), buffer: buffer}
}

// Publish delivers payload to every current subscriber of channel.
func (b *LocalBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel that receives messages until ctx is done.
func (b *LocalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, b.buffer)

	b.mu.Lock()
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[chan []byte]struct{})
	}
	b.subs[channel][ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs[channel], ch)
		b.mu.Unlock()
		close(ch)
	}()
	return ch, nil
}

var _ domain.SignalBus = (*LocalBus)(nil)
