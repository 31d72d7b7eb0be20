package notify

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"cohortlive/pkg/interfaces"
	"cohortlive/pkg/types"
)

// ChannelPrefix prefixes the per-session pub/sub channel.
const ChannelPrefix = "cohortlive:session:"

// DefaultPublishTimeout bounds a single PUBLISH.
const DefaultPublishTimeout = 2 * time.Second

// ErrRedisAddrRequired is returned when the publisher has no address.
var ErrRedisAddrRequired = errors.New("redis address required")

// RedisOptions locate the redis server.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// RedisPublisher publishes events as JSON on a per-session redis channel so
// other processes can relay them to their own observers.
type RedisPublisher struct {
	client  *redis.Client
	timeout time.Duration
	origin  string
}

// envelope is the redis payload. Origin identifies the publishing process so
// a relay skips the events it already delivered locally.
type envelope struct {
	Origin string      `json:"origin"`
	Event  types.Event `json:"event"`
}

// Channel returns the redis channel carrying events of sessionID.
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// NewRedisPublisher connects to redis and verifies the connection with a ping.
func NewRedisPublisher(ctx context.Context, opts RedisOptions) (*RedisPublisher, error) {
	if opts.Addr == "" {
		return nil, ErrRedisAddrRequired
	}

	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return &RedisPublisher{client: client, timeout: DefaultPublishTimeout, origin: uuid.NewString()}, nil
}

// Publish sends event on its session channel. Failures are logged.
func (p *RedisPublisher) Publish(ctx context.Context, event types.Event) {
	if p == nil || p.client == nil {
		return
	}

	payload, err := json.Marshal(envelope{Origin: p.origin, Event: event})
	if err != nil {
		log.Printf("notify: marshal %s: %v", event.Type, err)
		return
	}

	// The caller's request may finish before the publish does.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	if err := p.client.Publish(pubCtx, Channel(event.SessionID), payload).Err(); err != nil {
		log.Printf("notify: redis publish %s session=%s: %v", event.Type, event.SessionID, err)
	}
}

// Relay forwards events published by other processes to next until ctx is
// cancelled. The subscription is confirmed before Relay returns; the returned
// channel is closed when relaying stops.
func (p *RedisPublisher) Relay(ctx context.Context, next interfaces.Notifier) (<-chan struct{}, error) {
	pubsub := p.client.PSubscribe(ctx, ChannelPrefix+"*")
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("notify: decode event on %s: %v", msg.Channel, err)
					continue
				}
				if env.Origin == p.origin {
					continue
				}
				next.Publish(ctx, env.Event)
			case <-ctx.Done():
				return
			}
		}
	}()
	return done, nil
}

// Ping checks the redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the redis client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
