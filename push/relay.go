package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Redis pub/sub channel used by RedisRelay.
const DefaultChannel = "mailroom:push"

// Compile-time check
var _ Relay = (*RedisRelay)(nil)

// RedisRelay is a Relay on Redis pub/sub.
type RedisRelay struct {
	client  redis.UniversalClient
	channel string
	logger  *slog.Logger
}

// RelayOption configures a RedisRelay.
type RelayOption func(*RedisRelay)

// WithChannel overrides the pub/sub channel.
func WithChannel(name string) RelayOption {
	return func(r *RedisRelay) {
		if name != "" {
			r.channel = name
		}
	}
}

// WithRelayLogger sets a custom logger.
func WithRelayLogger(l *slog.Logger) RelayOption {
	return func(r *RedisRelay) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRedisRelay returns a relay publishing on client.
// Compatible with *redis.Client, *redis.ClusterClient, and redis.UniversalClient.
func NewRedisRelay(client redis.UniversalClient, opts ...RelayOption) *RedisRelay {
	r := &RedisRelay{
		client:  client,
		channel: DefaultChannel,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// envelope is the payload published on the channel.
type envelope struct {
	UserID string `json:"user_id"`
	Event  Event  `json:"event"`
}

func (r *RedisRelay) Publish(ctx context.Context, userID string, ev Event) error {
	payload, err := json.Marshal(envelope{UserID: userID, Event: ev})
	if err != nil {
		return fmt.Errorf("push: encode envelope: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("push: publish: %w", err)
	}
	return nil
}

func (r *RedisRelay) Subscribe(ctx context.Context, deliver func(userID string, ev Event)) (func() error, error) {
	ps := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so that nothing published
	// after Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("push: subscribe %s: %w", r.channel, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range ps.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				r.logger.Warn("push relay: bad payload", "error", err, "channel", msg.Channel)
				continue
			}
			if env.UserID == "" {
				continue
			}
			deliver(env.UserID, env.Event)
		}
	}()
	r.logger.Info("push relay subscribed", "channel", r.channel)

	var once sync.Once
	var closeErr error
	stop := func() error {
		once.Do(func() {
			closeErr = ps.Close()
			<-done
		})
		return closeErr
	}
	return stop, nil
}
