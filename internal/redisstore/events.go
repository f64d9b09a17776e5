package redisstore

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/BuzzLyutic/taskstar/internal/identity"
)

// Events is a per-session pub/sub channel for auth events.
type Events struct {
	rdb *redis.Client
}

func NewEvents(rdb *redis.Client) *Events {
	return &Events{rdb: rdb}
}

func channel(sessionID string) string {
	return keyPrefix + "session:" + sessionID
}

func (e *Events) Publish(ctx context.Context, sessionID string, ev identity.Event) error {
	return e.rdb.Publish(ctx, channel(sessionID), string(ev)).Err()
}

// Watch subscribes to sessionID's channel. The subscription is confirmed
// before Watch returns, so nothing published afterwards is missed.
func (e *Events) Watch(ctx context.Context, sessionID string) (<-chan identity.Event, error) {
	ps := e.rdb.Subscribe(ctx, channel(sessionID))
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, err
	}

	msgs := ps.Channel()
	out := make(chan identity.Event, 1)
	go func() {
		defer close(out)
		defer ps.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-msgs:
				if !ok {
					return
				}
				select {
				case out <- identity.Event(m.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
