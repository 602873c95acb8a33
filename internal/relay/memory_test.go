package relay

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

func newMemoryRelay() *MemoryRelay {
	nop := zerolog.Nop()
	return NewMemory(&nop)
}

func recvPayload(t *testing.T, sub Subscription) []byte {
	t.Helper()

	select {
	case payload, ok := <-sub.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return payload
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestMemoryRelayFanOut(t *testing.T) {
	r := newMemoryRelay()
	defer r.Close()
	ctx := context.Background()
	convID := uuid.New()

	subA, err := r.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	subB, err := r.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := r.Publish(ctx, convID, []byte("hello")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for _, sub := range []Subscription{subA, subB} {
		if got := recvPayload(t, sub); string(got) != "hello" {
			t.Errorf("expected %q, got %q", "hello", got)
		}
	}
}

func TestMemoryRelayIsolatesConversations(t *testing.T) {
	r := newMemoryRelay()
	defer r.Close()
	ctx := context.Background()

	sub, err := r.Subscribe(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := r.Publish(ctx, uuid.New(), []byte("other room")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case payload := <-sub.Events():
		t.Fatalf("received event from another conversation: %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemoryRelayNoDeliveryBeforeSubscribe(t *testing.T) {
	r := newMemoryRelay()
	defer r.Close()
	ctx := context.Background()
	convID := uuid.New()

	if err := r.Publish(ctx, convID, []byte("early")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	sub, err := r.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	select {
	case payload := <-sub.Events():
		t.Fatalf("received event published before subscribing: %q", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMemorySubscriptionClose(t *testing.T) {
	r := newMemoryRelay()
	defer r.Close()
	ctx := context.Background()
	convID := uuid.New()

	sub, err := r.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected events channel to be closed")
	}
	if err := sub.Err(); err != nil {
		t.Fatalf("a deliberate close is not an error, got %v", err)
	}

	// Publishing after the close must not panic or deliver.
	if err := r.Publish(ctx, convID, []byte("late")); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}
}

func TestMemoryRelayLogsDroppedEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r := NewMemory(&logger)
	defer r.Close()
	ctx := context.Background()
	convID := uuid.New()

	sub, err := r.Subscribe(ctx, convID)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	// One past the buffer without draining forces a drop.
	for i := 0; i < subscribeBuffer+1; i++ {
		if err := r.Publish(ctx, convID, []byte("burst")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	if !strings.Contains(buf.String(), "event dropped") {
		t.Fatalf("expected a drop warning, log was: %s", buf.String())
	}

	delivered := 0
	sub.Close()
	for range sub.Events() {
		delivered++
	}
	if delivered != subscribeBuffer {
		t.Fatalf("expected %d delivered events, got %d", subscribeBuffer, delivered)
	}
}

func TestMemoryRelayCloseMarksSubscriptionsLost(t *testing.T) {
	r := newMemoryRelay()
	ctx := context.Background()

	sub, err := r.Subscribe(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected events channel to be closed")
	}
	if sub.Err() == nil {
		t.Fatal("expected a loss error after relay shutdown")
	}

	if _, err := r.Subscribe(ctx, uuid.New()); err == nil {
		t.Fatal("expected Subscribe to fail on a closed relay")
	}
}
