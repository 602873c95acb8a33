package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleyhq/relay-server/internal/chat"
	"github.com/parleyhq/relay-server/internal/relay"
	"github.com/parleyhq/relay-server/internal/store"
	"github.com/parleyhq/relay-server/internal/store/sqlite"
)

type sessionHarness struct {
	relay   *relay.MemoryRelay
	conv    *store.Conversation
	client  *websocket.Conn
	session *Session
	done    chan error
}

// newSessionHarness accepts one websocket server-side and runs a session on
// it, returning the client end for the test to drive.
func newSessionHarness(t *testing.T) *sessionHarness {
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

	nop := zerolog.Nop()
	h := &sessionHarness{
		relay: relay.NewMemory(&nop),
		conv:  conv,
		done:  make(chan error, 1),
	}
	t.Cleanup(func() { h.relay.Close() })

	processor := chat.NewProcessor(st)
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		h.session = New(conn, processor, h.relay, conv.ID, conv.ParticipantA, &nop, time.Minute)
		close(ready)
		h.done <- h.session.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	h.client = client
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("session never started")
	}
	return h
}

func (h *sessionHarness) waitClosed(t *testing.T) {
	t.Helper()

	select {
	case err := <-h.done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
	if got := h.session.State(); got != StateClosed {
		t.Fatalf("expected StateClosed, got %d", got)
	}
}

func TestSessionEchoesOwnCommand(t *testing.T) {
	h := newSessionHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if h.session.State() != StateActive {
		t.Fatalf("expected StateActive, got %d", h.session.State())
	}

	if err := h.client.Write(ctx, websocket.MessageText, []byte(`{"type":"send","payload":{"content":"hi"}}`)); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	_, data, err := h.client.Read(ctx)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !strings.Contains(string(data), `"content":"hi"`) {
		t.Fatalf("unexpected echo frame: %s", data)
	}
}

func TestSessionClosesOnClientDisconnect(t *testing.T) {
	h := newSessionHarness(t)

	h.client.Close(websocket.StatusNormalClosure, "bye")
	h.waitClosed(t)
}

func TestSessionSubscribeFailureClosesCleanly(t *testing.T) {
	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	nop := zerolog.Nop()
	rly := relay.NewMemory(&nop)
	rly.Close()

	done := make(chan error, 1)
	var sess *Session
	ready := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept failed: %v", err)
			return
		}
		sess = New(conn, chat.NewProcessor(st), rly, uuid.New(), uuid.New(), &nop, time.Minute)
		close(ready)
		done <- sess.Run(r.Context())
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close(websocket.StatusNormalClosure, "") })

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("session never started")
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error when the subscription cannot be opened")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("session did not shut down")
	}
	if got := sess.State(); got != StateClosed {
		t.Fatalf("expected StateClosed, got %d", got)
	}

	if _, _, err := client.Read(ctx); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}

func TestSessionClosesWhenSubscriptionLost(t *testing.T) {
	h := newSessionHarness(t)

	// Tearing down the relay closes every subscription underneath its
	// session; the writer loop must treat that as fatal.
	h.relay.Close()
	h.waitClosed(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, _, err := h.client.Read(ctx); err == nil {
		t.Fatal("expected the server to close the connection")
	}
}
