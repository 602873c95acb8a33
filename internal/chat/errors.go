package chat

import "errors"

var (
	// ErrUnauthorized covers every ownership failure: the target message is
	// missing, belongs to another conversation, or was sent by someone else.
	// Which case occurred is never exposed.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrMalformed marks a command that failed schema validation.
	ErrMalformed = errors.New("malformed command")
)
