package chat

import (
	"time"

	"github.com/google/uuid"
)

// Event types as they appear on the wire.
const (
	EventTypeSend   = "send"
	EventTypeEdit   = "edit"
	EventTypeDelete = "delete"
)

// Event is a canonical, server-normalized record of an applied command,
// broadcast to every subscriber of the conversation. Timestamps are assigned
// by the server and match the persisted rows exactly.
type Event interface {
	EventType() string
}

// SendEvent announces a new message.
type SendEvent struct {
	Type      string     `json:"type"`
	MessageID uuid.UUID  `json:"messageId"`
	SenderID  uuid.UUID  `json:"senderId"`
	Content   string     `json:"content"`
	QuotedID  *uuid.UUID `json:"quotedId"`
	Timestamp time.Time  `json:"timestamp"`
}

// EditEvent announces a new revision of an existing message.
type EditEvent struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"messageId"`
	SenderID  uuid.UUID `json:"senderId"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DeleteEvent announces a soft-deleted message.
type DeleteEvent struct {
	Type      string    `json:"type"`
	MessageID uuid.UUID `json:"messageId"`
	SenderID  uuid.UUID `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

func (e SendEvent) EventType() string   { return e.Type }
func (e EditEvent) EventType() string   { return e.Type }
func (e DeleteEvent) EventType() string { return e.Type }
