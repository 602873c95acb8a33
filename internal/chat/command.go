package chat

import "github.com/google/uuid"

// Command is an action requested by a client over its session. The effective
// sender is always the session's authenticated identity; commands never carry
// a client-supplied sender.
type Command interface {
	isCommand()
}

// SendCommand posts a new message to the conversation.
type SendCommand struct {
	Content  string
	QuotedID *uuid.UUID
}

// EditCommand replaces the content of a message the caller sent earlier.
type EditCommand struct {
	MessageID uuid.UUID
	Content   string
}

// DeleteCommand soft-deletes a message the caller sent earlier.
type DeleteCommand struct {
	MessageID uuid.UUID
}

func (SendCommand) isCommand()   {}
func (EditCommand) isCommand()   {}
func (DeleteCommand) isCommand() {}
