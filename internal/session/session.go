// Package session owns the lifecycle of one websocket connection bound to
// one conversation: a reader loop driving the command processor and a writer
// loop driven by the relay subscription, with a shared shutdown.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/parleyhq/relay-server/internal/chat"
	"github.com/parleyhq/relay-server/internal/proto"
	"github.com/parleyhq/relay-server/internal/relay"
)

// State is the session lifecycle phase.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

const (
	defaultPingInterval = 30 * time.Second
	writeWait           = 10 * time.Second
)

// Session coordinates the reader/writer pair for one connection. It takes
// ownership of the websocket and closes it when Run returns.
type Session struct {
	conn           *websocket.Conn
	processor      *chat.Processor
	relay          relay.Relay
	conversationID uuid.UUID
	userID         uuid.UUID
	pingInterval   time.Duration
	log            zerolog.Logger

	state atomic.Int32
}

// New builds a session for an accepted connection. pingInterval <= 0 selects
// the default heartbeat.
func New(conn *websocket.Conn, processor *chat.Processor, rly relay.Relay, conversationID, userID uuid.UUID, logger *zerolog.Logger, pingInterval time.Duration) *Session {
	if pingInterval <= 0 {
		pingInterval = defaultPingInterval
	}
	return &Session{
		conn:           conn,
		processor:      processor,
		relay:          rly,
		conversationID: conversationID,
		userID:         userID,
		pingInterval:   pingInterval,
		log: logger.With().
			Stringer("conversation_id", conversationID).
			Stringer("user_id", userID).
			Logger(),
	}
}

// State reports the current lifecycle phase.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run drives the session until the peer disconnects, either loop fails, or
// ctx is cancelled. The subscription is established before the reader starts
// so the session never misses the echo of its own first command.
func (s *Session) Run(ctx context.Context) error {
	sub, err := s.relay.Subscribe(ctx, s.conversationID)
	if err != nil {
		s.setState(StateClosing)
		s.conn.Close(websocket.StatusInternalError, "subscription failed")
		s.setState(StateClosed)
		return fmt.Errorf("subscribe relay: %w", err)
	}
	defer sub.Close()

	s.setState(StateActive)
	s.log.Info().Msg("session active")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop(ctx)
	}()
	go func() {
		errCh <- s.writeLoop(ctx, sub)
	}()

	err = <-errCh
	s.setState(StateClosing)
	cancel()

	// Bounded wait for the second loop so an in-flight outbound frame can
	// finish instead of being truncated mid-write.
	select {
	case <-errCh:
	case <-time.After(writeWait):
		s.log.Warn().Msg("session loop did not drain in time")
	}

	s.close(err)
	s.setState(StateClosed)
	s.log.Info().Msg("session closed")
	return nil
}

// close maps the terminating error onto a websocket close handshake.
func (s *Session) close(err error) {
	status := websocket.StatusNormalClosure
	reason := "closing"

	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if st := websocket.CloseStatus(err); st != -1 {
			status = st
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			status = websocket.StatusInternalError
			reason = "internal error"
			s.log.Warn().Err(err).Msg("session ended with error")
		}
	}

	s.conn.Close(status, reason)
}

// readLoop consumes inbound frames, applies them through the processor and
// publishes the resulting events. A frame that fails to decode or validate
// is logged and dropped; the session stays up and no error frame is sent
// back, so the broadcast echo is the only confirmation a client gets.
func (s *Session) readLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			// Binary frames are not part of the protocol.
			continue
		}

		cmd, err := proto.DecodeCommand(data)
		if err != nil {
			s.log.Warn().Err(err).Msg("drop malformed frame")
			continue
		}

		event, err := s.processor.Handle(ctx, s.conversationID, s.userID, cmd)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrUnauthorized):
				s.log.Warn().Msg("drop unauthorized command")
			case errors.Is(err, chat.ErrMalformed):
				s.log.Warn().Err(err).Msg("drop invalid command")
			default:
				s.log.Error().Err(err).Msg("command failed")
			}
			continue
		}

		payload, err := proto.EncodeEvent(event)
		if err != nil {
			s.log.Error().Err(err).Msg("encode event")
			continue
		}
		if err := s.relay.Publish(ctx, s.conversationID, payload); err != nil {
			// The write is already durable; only the notification was lost.
			s.log.Error().Err(err).Msg("publish event")
		}
	}
}

// writeLoop forwards relay events to the socket and keeps the connection
// alive with periodic pings. A closed subscription stream is fatal.
func (s *Session) writeLoop(ctx context.Context, sub relay.Subscription) error {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					return fmt.Errorf("relay subscription: %w", err)
				}
				return nil
			}
			if err := s.write(ctx, payload); err != nil {
				return err
			}
		case <-ticker.C:
			if err := s.ping(ctx); err != nil {
				return err
			}
		}
	}
}

func (s *Session) write(ctx context.Context, payload []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, payload)
}

func (s *Session) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, writeWait)
	defer cancel()
	return s.conn.Ping(pingCtx)
}
