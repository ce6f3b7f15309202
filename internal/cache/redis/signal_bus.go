package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/adboard/internal/domain"
)

// historyMaxLen bounds the replay stream kept next to each channel, enforced
// via XADD MAXLEN ~.
const historyMaxLen int64 = 1000

// SignalBus implements domain.SignalBus using Redis Pub/Sub for live fan-out
// and a capped Redis Stream per channel so late subscribers can replay
// recent events.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

func historyKey(channel string) string {
	return "history:" + channel
}

// Publish appends payload to the channel's history stream and publishes it
// to live subscribers in one round trip.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	_, err := sb.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: historyKey(channel),
			MaxLen: historyMaxLen,
			Approx: true,
			Values: map[string]any{"payload": payload},
		})
		pipe.Publish(ctx, channel, payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Redis Pub/Sub subscription and returns a channel of raw
// payloads. The subscription and the returned channel close when ctx is
// cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = sb.rdb.PSubscribe(ctx, channel)
	} else {
		pubsub = sb.rdb.Subscribe(ctx, channel)
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Recent returns up to count of the channel's latest payloads, oldest first.
func (sb *SignalBus) Recent(ctx context.Context, channel string, count int) ([][]byte, error) {
	msgs, err := sb.rdb.XRevRangeN(ctx, historyKey(channel), "+", "-", int64(count)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis: recent %s: %w", channel, err)
	}

	out := make([][]byte, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		switch v := msgs[i].Values["payload"].(type) {
		case string:
			out = append(out, []byte(v))
		case []byte:
			out = append(out, v)
		}
	}
	return out, nil
}

// hasPattern reports whether channel holds glob wildcards, in which case
// PSubscribe is needed.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
