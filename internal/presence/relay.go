package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

const DefaultRelayChannel = "presence:events"

// Relayed is an event addressed to a conversation's live set on every
// instance.
type Relayed struct {
	ConversationID string `json:"conversationId"`
	Exclude        string `json:"exclude,omitempty"`
	Event          Event  `json:"event"`
}

// Relay fans events out to every hub instance, including the publisher.
type Relay interface {
	Publish(ctx context.Context, r Relayed) error
	// Subscribe registers deliver and returns once the subscription is
	// active. It stays active until ctx is done.
	Subscribe(ctx context.Context, deliver func(Relayed)) error
}

// LocalRelay connects hubs living in the same process.
type LocalRelay struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Relayed)
}

func NewLocalRelay() *LocalRelay {
	return &LocalRelay{subs: make(map[int]func(Relayed))}
}

func (l *LocalRelay) Publish(_ context.Context, r Relayed) error {
	l.mu.RLock()
	subs := make([]func(Relayed), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.RUnlock()
	for _, fn := range subs {
		fn(r)
	}
	return nil
}

func (l *LocalRelay) Subscribe(ctx context.Context, deliver func(Relayed)) error {
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.subs[id] = deliver
	l.mu.Unlock()
	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}()
	return nil
}

// RedisRelay shares events between instances over redis pub/sub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

func NewRedisRelay(rdb *redis.Client, channel string) *RedisRelay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &RedisRelay{rdb: rdb, channel: channel, log: slog.Default()}
}

func (r *RedisRelay) Publish(ctx context.Context, msg Relayed) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(Relayed)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("presence: subscribe %s: %w", r.channel, err)
	}
	ch := sub.Channel()
	go func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}
				var msg Relayed
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					r.log.Warn("dropping malformed relay message", "err", err)
					continue
				}
				deliver(msg)
			}
		}
	}()
	return nil
}
