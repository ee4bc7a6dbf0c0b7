package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/lendcore/internal/domain"
)

// signalChannel is the Pub/Sub channel engine events are published on.
const signalChannel = "lendcore:signals"

func timeFromNano(n int64) time.Time {
	return time.Unix(0, n)
}

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Signals are
// JSON-encoded on the wire.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends a signal on the shared channel.
func (sb *SignalBus) Publish(ctx context.Context, s domain.Signal) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("redis: marshal signal: %w", err)
	}
	if err := sb.rdb.Publish(ctx, signalChannel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish signal %s: %w", s.Name, err)
	}
	return nil
}

// Subscribe returns a channel of decoded signals. The cancel func tears
// the subscription down; the channel closes afterwards. Undecodable
// payloads are skipped.
func (sb *SignalBus) Subscribe(ctx context.Context) (<-chan domain.Signal, func(), error) {
	pubsub := sb.rdb.Subscribe(ctx, signalChannel)

	// Verify the subscription is established.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("redis: subscribe signals: %w", err)
	}

	out := make(chan domain.Signal, 64)
	done := make(chan struct{})
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var s domain.Signal
				if err := json.Unmarshal([]byte(msg.Payload), &s); err != nil {
					continue
				}
				select {
				case out <- s:
				case <-ctx.Done():
					return
				case <-done:
					return
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() { once.Do(func() { close(done) }) }
	return out, cancel, nil
}

// Compile-time interface check.
var _ domain.SignalBus = (*SignalBus)(nil)
