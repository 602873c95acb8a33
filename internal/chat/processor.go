package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/relay-server/internal/store"
)

// Processor validates client commands against the authenticated identity and
// the persistence layer, turning each accepted command into a canonical
// event. It is stateless and safe for concurrent use by all sessions.
type Processor struct {
	store store.Store
}

// NewProcessor builds a processor on top of the given store.
func NewProcessor(st store.Store) *Processor {
	return &Processor{store: st}
}

// Handle applies one command for the given conversation and authenticated
// sender. Ownership failures surface as ErrUnauthorized, invalid payloads as
// ErrMalformed; anything else is an infrastructure error from the store.
func (p *Processor) Handle(ctx context.Context, conversationID, senderID uuid.UUID, cmd Command) (Event, error) {
	switch c := cmd.(type) {
	case SendCommand:
		return p.handleSend(ctx, conversationID, senderID, c)
	case EditCommand:
		return p.handleEdit(ctx, conversationID, senderID, c)
	case DeleteCommand:
		return p.handleDelete(ctx, conversationID, senderID, c)
	default:
		return nil, fmt.Errorf("%w: unknown command %T", ErrMalformed, cmd)
	}
}

func (p *Processor) handleSend(ctx context.Context, conversationID, senderID uuid.UUID, cmd SendCommand) (Event, error) {
	if cmd.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformed)
	}

	now := time.Now().UTC()
	messageID, err := p.store.CreateMessage(ctx, store.CreateMessageParams{
		ConversationID: conversationID,
		SenderID:       senderID,
		QuotedID:       cmd.QuotedID,
		Content:        cmd.Content,
		CreatedAt:      now,
	})
	if err != nil {
		return nil, fmt.Errorf("create message: %w", err)
	}

	return SendEvent{
		Type:      EventTypeSend,
		MessageID: messageID,
		SenderID:  senderID,
		Content:   cmd.Content,
		QuotedID:  cmd.QuotedID,
		Timestamp: now,
	}, nil
}

func (p *Processor) handleEdit(ctx context.Context, conversationID, senderID uuid.UUID, cmd EditCommand) (Event, error) {
	if cmd.Content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrMalformed)
	}
	if cmd.MessageID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing message id", ErrMalformed)
	}

	now := time.Now().UTC()
	err := p.store.EditMessage(ctx, store.EditMessageParams{
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageID:      cmd.MessageID,
		Content:        cmd.Content,
		CreatedAt:      now,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotOwnerOrMissing) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("edit message: %w", err)
	}

	return EditEvent{
		Type:      EventTypeEdit,
		MessageID: cmd.MessageID,
		SenderID:  senderID,
		Content:   cmd.Content,
		Timestamp: now,
	}, nil
}

func (p *Processor) handleDelete(ctx context.Context, conversationID, senderID uuid.UUID, cmd DeleteCommand) (Event, error) {
	if cmd.MessageID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing message id", ErrMalformed)
	}

	now := time.Now().UTC()
	err := p.store.SoftDeleteMessage(ctx, store.DeleteMessageParams{
		ConversationID: conversationID,
		SenderID:       senderID,
		MessageID:      cmd.MessageID,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotOwnerOrMissing) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("delete message: %w", err)
	}

	return DeleteEvent{
		Type:      EventTypeDelete,
		MessageID: cmd.MessageID,
		SenderID:  senderID,
		Timestamp: now,
	}, nil
}
