// Package relay is the cluster-wide broadcast fabric connecting sessions to
// each other across server processes. It is best-effort: events published
// while a participant has no live subscription are not redelivered, and the
// persistence layer remains the record of truth.
package relay

import (
	"context"

	"github.com/google/uuid"
)

// Relay publishes canonical events and delivers subscribed streams, keyed by
// conversation ID.
type Relay interface {
	// Publish broadcasts a serialized event to every current subscriber of
	// the conversation.
	Publish(ctx context.Context, conversationID uuid.UUID, payload []byte) error

	// Subscribe opens a stream of events for the conversation. Each session
	// holds exactly one subscription, closed together with the session.
	Subscribe(ctx context.Context, conversationID uuid.UUID) (Subscription, error)

	// Close tears down the relay and all open subscriptions.
	Close() error
}

// Subscription is one session's live event stream.
type Subscription interface {
	// Events returns the stream channel. It is closed when the subscription
	// is torn down or the broker connection is lost.
	Events() <-chan []byte

	// Err reports the cause after Events is closed abnormally, nil otherwise.
	Err() error

	// Close tears down the subscription.
	Close() error
}

// channelName keys broker channels by conversation.
func channelName(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}
