// Package redisnotify carries tenant change events over Redis pub/sub so
// several server processes can share one live feed.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"dukapos/backend/internal/logging"
	"dukapos/backend/internal/store"
)

const channelPrefix = "dukapos:changes:"

type Notifier struct {
	client *redis.Client
	logger zerolog.Logger
}

func New(addr string, password string, db int) *Notifier {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewWithClient(client)
}

func NewWithClient(client *redis.Client) *Notifier {
	return &Notifier{client: client, logger: logging.For("redis-notify")}
}

func Channel(tenantID string) string {
	return channelPrefix + tenantID
}

func (n *Notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}

func (n *Notifier) Close() error {
	return n.client.Close()
}

func (n *Notifier) Client() *redis.Client {
	return n.client
}

func (n *Notifier) Publish(ctx context.Context, change store.Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, Channel(change.TenantID), payload).Err()
}

// Watch subscribes to the tenant channel. The subscription is confirmed
// before returning, so a Redis outage surfaces here as ErrUnavailable.
func (n *Notifier) Watch(ctx context.Context, tenantID string) (<-chan store.Change, func(), error) {
	pubsub := n.client.Subscribe(ctx, Channel(tenantID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}

	out := make(chan store.Change, 1)
	done := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			_ = pubsub.Close()
		})
	}

	go func() {
		defer close(out)
		messages := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				stop()
				return
			case <-done:
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				var change store.Change
				if err := json.Unmarshal([]byte(msg.Payload), &change); err != nil {
					n.logger.Warn().Err(err).Str("channel", msg.Channel).Msg("ignoring malformed change")
					continue
				}
				select {
				case out <- change:
				default:
					// keep only the newest pending change
					select {
					case <-out:
					default:
					}
					out <- change
				}
			}
		}
	}()
	return out, stop, nil
}
