package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotOwnerOrMissing is returned by mutating operations when the target
// message does not exist, belongs to another conversation, or was not sent by
// the caller. The cases are deliberately indistinguishable so callers cannot
// probe for the existence of other users' messages.
var ErrNotOwnerOrMissing = errors.New("operation not permitted or target missing")

// ErrConversationEnded is returned when ending a conversation that already
// has ended_at set.
var ErrConversationEnded = errors.New("conversation already ended")

// EndReason describes why a conversation was closed.
type EndReason string

const (
	EndReasonCompleted    EndReason = "completed"
	EndReasonUserLeft     EndReason = "user_left"
	EndReasonUserReported EndReason = "user_reported"
	EndReasonInactive     EndReason = "inactive"
)

// Conversation is a two-party messaging context. Once EndedAt is set the row
// is immutable.
type Conversation struct {
	ID           uuid.UUID
	Topic        string
	CreatedAt    time.Time
	EndedAt      *time.Time
	EndReason    *EndReason
	ParticipantA uuid.UUID
	ParticipantB uuid.UUID
}

// Message is a persisted chat message. Content lives in MessageAtom rows;
// the message row itself only carries identity and the soft-delete flag.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	CreatedAt      time.Time
	QuotedAtom     *uuid.UUID
	IsDeleted      bool
}

// MessageAtom is one immutable revision of a message's content. The atom with
// the highest revision number is the current content. Atoms are append-only.
type MessageAtom struct {
	MessageID      uuid.UUID
	Content        string
	RevisionNumber int
	CreatedAt      time.Time
}

// CreateMessageParams carries everything needed to persist a new message and
// its revision-0 atom.
type CreateMessageParams struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	QuotedID       *uuid.UUID
	Content        string
	CreatedAt      time.Time
}

// EditMessageParams identifies the target message and the new content.
// SenderID must match the message's original sender.
type EditMessageParams struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	MessageID      uuid.UUID
	Content        string
	CreatedAt      time.Time
}

// DeleteMessageParams identifies the message to soft-delete.
type DeleteMessageParams struct {
	ConversationID uuid.UUID
	SenderID       uuid.UUID
	MessageID      uuid.UUID
}

// ConversationStore handles conversation and participant persistence.
// Conversations are created by matchmaking, outside the relay's hot path.
type ConversationStore interface {
	// CreateConversation inserts a conversation with exactly two participants.
	CreateConversation(ctx context.Context, topic string, participantA, participantB uuid.UUID) (*Conversation, error)

	// GetConversation retrieves a conversation by ID.
	GetConversation(ctx context.Context, id uuid.UUID) (*Conversation, error)

	// EndConversation sets ended_at and end_reason. A conversation can only
	// be ended once; ending it again returns ErrConversationEnded.
	EndConversation(ctx context.Context, id uuid.UUID, reason EndReason) error

	// UserHasAccess reports whether the user is a participant of the
	// conversation. This is the sole authorization predicate for opening a
	// session and reading its broadcast.
	UserHasAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
}

// MessageStore handles message and atom persistence. All mutating operations
// are atomic: either the full write is visible or none of it is.
type MessageStore interface {
	// CreateMessage inserts the message row and its revision-0 atom in one
	// transaction and returns the generated message ID.
	CreateMessage(ctx context.Context, p CreateMessageParams) (uuid.UUID, error)

	// EditMessage verifies ownership and appends an atom at max(revision)+1.
	// The read-then-insert is serialized per message so concurrent edits can
	// never produce duplicate revision numbers. Ownership mismatch or a
	// missing row yields ErrNotOwnerOrMissing.
	EditMessage(ctx context.Context, p EditMessageParams) error

	// SoftDeleteMessage flips is_deleted with a single conditional update.
	// Deleting an already-deleted owned message succeeds (idempotent);
	// zero matched rows yields ErrNotOwnerOrMissing.
	SoftDeleteMessage(ctx context.Context, p DeleteMessageParams) error

	// GetMessage retrieves a message row by ID. Returns ErrNotOwnerOrMissing
	// if no such message exists.
	GetMessage(ctx context.Context, id uuid.UUID) (*Message, error)

	// MessageAtoms lists all revisions of a message in ascending revision
	// order. Every message has at least one atom.
	MessageAtoms(ctx context.Context, messageID uuid.UUID) ([]MessageAtom, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	ConversationStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
