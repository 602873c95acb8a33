package proto

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/relay-server/internal/chat"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	InboundTypeSend   = "send"
	InboundTypeEdit   = "edit"
	InboundTypeDelete = "delete"
)

// SendPayload posts a new message.
type SendPayload struct {
	Content  string     `json:"content"`
	QuotedID *uuid.UUID `json:"quoted_id"`
}

// EditPayload replaces the content of an earlier message.
type EditPayload struct {
	MessageID uuid.UUID `json:"message_id"`
	Content   string    `json:"content"`
}

// DeletePayload soft-deletes an earlier message.
type DeletePayload struct {
	MessageID uuid.UUID `json:"message_id"`
}

// DecodeCommand parses a raw client frame into a chat command. Any parse or
// envelope failure is reported as chat.ErrMalformed; content-level validation
// happens in the processor.
func DecodeCommand(data []byte) (chat.Command, error) {
	var inbound Inbound
	if err := json.Unmarshal(data, &inbound); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrMalformed, err)
	}

	switch inbound.Type {
	case InboundTypeSend:
		var p SendPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: send payload: %v", chat.ErrMalformed, err)
		}
		return chat.SendCommand{Content: p.Content, QuotedID: p.QuotedID}, nil
	case InboundTypeEdit:
		var p EditPayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: edit payload: %v", chat.ErrMalformed, err)
		}
		return chat.EditCommand{MessageID: p.MessageID, Content: p.Content}, nil
	case InboundTypeDelete:
		var p DeletePayload
		if err := json.Unmarshal(inbound.Payload, &p); err != nil {
			return nil, fmt.Errorf("%w: delete payload: %v", chat.ErrMalformed, err)
		}
		return chat.DeleteCommand{MessageID: p.MessageID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown frame type %q", chat.ErrMalformed, inbound.Type)
	}
}

// EncodeEvent serializes a canonical event for broadcast. The produced bytes
// are published to the relay and forwarded to sockets verbatim.
func EncodeEvent(ev chat.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}
