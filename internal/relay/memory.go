package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MemoryRelay implements Relay with in-process fan-out. It serves the
// single-process deployment mode and the test suite; semantics match the
// Redis relay: best-effort, no history, publish order per publisher.
type MemoryRelay struct {
	log *zerolog.Logger

	mu     sync.RWMutex
	subs   map[uuid.UUID]map[*memorySubscription]struct{}
	closed bool
}

// NewMemory constructs an empty in-process relay.
func NewMemory(logger *zerolog.Logger) *MemoryRelay {
	return &MemoryRelay{
		log:  logger,
		subs: make(map[uuid.UUID]map[*memorySubscription]struct{}),
	}
}

// Publish delivers the payload to every live subscription of the
// conversation. Slow consumers with a full buffer are skipped.
func (r *MemoryRelay) Publish(_ context.Context, conversationID uuid.UUID, payload []byte) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return errors.New("relay closed")
	}

	for sub := range r.subs[conversationID] {
		select {
		case sub.events <- payload:
		default:
			r.log.Warn().
				Stringer("conversation_id", conversationID).
				Msg("relay subscriber lagging, event dropped")
		}
	}
	return nil
}

// Subscribe registers a new subscription for the conversation.
func (r *MemoryRelay) Subscribe(_ context.Context, conversationID uuid.UUID) (Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, errors.New("relay closed")
	}

	sub := &memorySubscription{
		relay:          r,
		conversationID: conversationID,
		events:         make(chan []byte, subscribeBuffer),
	}
	room := r.subs[conversationID]
	if room == nil {
		room = make(map[*memorySubscription]struct{})
		r.subs[conversationID] = room
	}
	room[sub] = struct{}{}
	return sub, nil
}

// Close tears down all subscriptions.
func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	for _, room := range r.subs {
		for sub := range room {
			sub.markLost()
		}
	}
	r.subs = make(map[uuid.UUID]map[*memorySubscription]struct{})
	return nil
}

type memorySubscription struct {
	relay          *MemoryRelay
	conversationID uuid.UUID
	events         chan []byte

	once sync.Once
	err  error
}

func (s *memorySubscription) Events() <-chan []byte {
	return s.events
}

func (s *memorySubscription) Err() error {
	return s.err
}

func (s *memorySubscription) Close() error {
	s.relay.mu.Lock()
	if room, ok := s.relay.subs[s.conversationID]; ok {
		delete(room, s)
		if len(room) == 0 {
			delete(s.relay.subs, s.conversationID)
		}
	}
	s.relay.mu.Unlock()

	s.once.Do(func() { close(s.events) })
	return nil
}

// markLost is called with the relay lock held when the relay shuts down
// underneath the subscriber.
func (s *memorySubscription) markLost() {
	s.once.Do(func() {
		s.err = errSubscriptionLost
		close(s.events)
	})
}
