package chat_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/parleyhq/relay-server/internal/chat"
	"github.com/parleyhq/relay-server/internal/store"
	"github.com/parleyhq/relay-server/internal/store/sqlite"
)

func newTestProcessor(t *testing.T) (*chat.Processor, *store.Conversation) {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	conv, err := st.CreateConversation(context.Background(), "test topic", uuid.New(), uuid.New())
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return chat.NewProcessor(st), conv
}

func sendMessage(t *testing.T, p *chat.Processor, conv *store.Conversation, content string) chat.SendEvent {
	t.Helper()

	ev, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, chat.SendCommand{Content: content})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	sent, ok := ev.(chat.SendEvent)
	if !ok {
		t.Fatalf("expected SendEvent, got %T", ev)
	}
	return sent
}

func TestHandleSend(t *testing.T) {
	p, conv := newTestProcessor(t)

	sent := sendMessage(t, p, conv, "hello")
	if sent.Type != chat.EventTypeSend {
		t.Errorf("unexpected event type %q", sent.Type)
	}
	if sent.MessageID == uuid.Nil {
		t.Error("expected a persisted message id")
	}
	if sent.SenderID != conv.ParticipantA {
		t.Errorf("sender mismatch: %s", sent.SenderID)
	}
	if sent.Content != "hello" {
		t.Errorf("content mismatch: %q", sent.Content)
	}
	if sent.Timestamp.IsZero() {
		t.Error("expected a timestamp")
	}
}

func TestHandleSendEmptyContent(t *testing.T) {
	p, conv := newTestProcessor(t)

	_, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, chat.SendCommand{Content: ""})
	if !errors.Is(err, chat.ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
}

func TestHandleEdit(t *testing.T) {
	p, conv := newTestProcessor(t)
	sent := sendMessage(t, p, conv, "hello")

	ev, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, chat.EditCommand{
		MessageID: sent.MessageID,
		Content:   "hello, edited",
	})
	if err != nil {
		t.Fatalf("edit failed: %v", err)
	}
	edited, ok := ev.(chat.EditEvent)
	if !ok {
		t.Fatalf("expected EditEvent, got %T", ev)
	}
	if edited.Type != chat.EventTypeEdit || edited.MessageID != sent.MessageID || edited.Content != "hello, edited" {
		t.Fatalf("unexpected event: %+v", edited)
	}
}

func TestHandleEditMalformed(t *testing.T) {
	p, conv := newTestProcessor(t)
	sent := sendMessage(t, p, conv, "hello")

	tests := []struct {
		name string
		cmd  chat.EditCommand
	}{
		{"empty content", chat.EditCommand{MessageID: sent.MessageID}},
		{"nil message id", chat.EditCommand{Content: "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, tt.cmd)
			if !errors.Is(err, chat.ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}

func TestHandleEditByNonOwner(t *testing.T) {
	p, conv := newTestProcessor(t)
	sent := sendMessage(t, p, conv, "hello")

	_, err := p.Handle(context.Background(), conv.ID, conv.ParticipantB, chat.EditCommand{
		MessageID: sent.MessageID,
		Content:   "tampered",
	})
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHandleEditMissingMessage(t *testing.T) {
	p, conv := newTestProcessor(t)

	// A missing message is indistinguishable from someone else's message.
	_, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, chat.EditCommand{
		MessageID: uuid.New(),
		Content:   "x",
	})
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestHandleDelete(t *testing.T) {
	p, conv := newTestProcessor(t)
	sent := sendMessage(t, p, conv, "hello")

	// Delete is idempotent, so a repeated command yields a second event.
	for i := 0; i < 2; i++ {
		ev, err := p.Handle(context.Background(), conv.ID, conv.ParticipantA, chat.DeleteCommand{MessageID: sent.MessageID})
		if err != nil {
			t.Fatalf("delete attempt %d failed: %v", i+1, err)
		}
		deleted, ok := ev.(chat.DeleteEvent)
		if !ok {
			t.Fatalf("expected DeleteEvent, got %T", ev)
		}
		if deleted.Type != chat.EventTypeDelete || deleted.MessageID != sent.MessageID {
			t.Fatalf("unexpected event: %+v", deleted)
		}
	}
}

func TestHandleDeleteByNonOwner(t *testing.T) {
	p, conv := newTestProcessor(t)
	sent := sendMessage(t, p, conv, "hello")

	_, err := p.Handle(context.Background(), conv.ID, conv.ParticipantB, chat.DeleteCommand{MessageID: sent.MessageID})
	if !errors.Is(err, chat.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
