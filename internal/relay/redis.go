package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const subscribeBuffer = 64

var errSubscriptionLost = errors.New("relay subscription lost")

// RedisRelay implements Relay over Redis pub/sub, so participants connected
// to different server processes still observe each other's events. Ordering
// is whatever Redis guarantees per channel; there is no durability.
type RedisRelay struct {
	client *redis.Client
	log    *zerolog.Logger
}

// NewRedis connects to Redis at the given URL and verifies it with a ping.
func NewRedis(ctx context.Context, url string, logger *zerolog.Logger) (*RedisRelay, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisRelay{client: client, log: logger}, nil
}

// Publish broadcasts the payload on the conversation channel.
func (r *RedisRelay) Publish(ctx context.Context, conversationID uuid.UUID, payload []byte) error {
	if err := r.client.Publish(ctx, channelName(conversationID), payload).Err(); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

// Subscribe opens a dedicated pub/sub connection for the conversation and
// pumps its messages into the subscription channel.
func (r *RedisRelay) Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channelName(conversationID))

	// Force the SUBSCRIBE round trip so a failed broker connection surfaces
	// here instead of as an empty stream.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		events: make(chan []byte, subscribeBuffer),
		log:    r.log,
	}
	go sub.pump(pubsub.Channel())
	return sub, nil
}

// Close closes the underlying Redis client.
func (r *RedisRelay) Close() error {
	return r.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	events chan []byte
	log    *zerolog.Logger

	mu     sync.Mutex
	closed bool
	err    error
}

func (s *redisSubscription) pump(ch <-chan *redis.Message) {
	defer close(s.events)
	for msg := range ch {
		select {
		case s.events <- []byte(msg.Payload):
		default:
			// Never block on a consumer that stopped draining; the relay is
			// best-effort and the pump must stay free to observe the channel
			// closing.
			s.log.Warn().Msg("relay subscriber lagging, event dropped")
		}
	}
	// go-redis closes the message channel when the pub/sub connection is
	// gone for good; unless we closed it ourselves, that is a broker loss.
	s.mu.Lock()
	if !s.closed {
		s.err = errSubscriptionLost
		s.log.Warn().Msg("relay subscription lost")
	}
	s.mu.Unlock()
}

func (s *redisSubscription) Events() <-chan []byte {
	return s.events
}

func (s *redisSubscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *redisSubscription) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.pubsub.Close()
}

var _ Relay = (*RedisRelay)(nil)
