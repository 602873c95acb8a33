package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleyhq/relay-server/internal/store"
)

// schema is applied idempotently on startup. The relay owns the message
// tables; conversation rows are normally written by matchmaking but the DDL
// lives here so a fresh database is usable immediately.
const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id            uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	topic         text NOT NULL DEFAULT '',
	created_at    timestamptz NOT NULL DEFAULT now(),
	ended_at      timestamptz,
	end_reason    text
);

CREATE TABLE IF NOT EXISTS conversation_participant (
	conversation_id uuid NOT NULL REFERENCES conversation(id),
	user_id         uuid NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS message (
	id              uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	conversation_id uuid NOT NULL REFERENCES conversation(id),
	sender_id       uuid NOT NULL,
	created_at      timestamptz NOT NULL,
	quoted_atom     uuid,
	is_deleted      boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS message_atom (
	message_id      uuid NOT NULL REFERENCES message(id),
	content         text NOT NULL,
	revision_number integer NOT NULL DEFAULT 0,
	created_at      timestamptz NOT NULL,
	PRIMARY KEY (message_id, revision_number)
);
`

// PostgresStore implements store.Store backed by a pgx connection pool.
// The pool is shared across all sessions; each operation runs in its own
// transaction scope and no transaction is held open across network I/O.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// New connects to Postgres, verifies connectivity and applies the schema.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if cfg.MaxConns == 0 {
		cfg.MaxConns = 8
	}
	if cfg.MaxConnIdleTime == 0 {
		cfg.MaxConnIdleTime = 5 * time.Minute
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("new postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a conversation and both participant rows in one
// transaction.
func (s *PostgresStore) CreateConversation(ctx context.Context, topic string, participantA, participantB uuid.UUID) (*store.Conversation, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var (
		id        uuid.UUID
		createdAt time.Time
	)
	err = tx.QueryRow(ctx, `
		INSERT INTO conversation (topic)
		VALUES ($1)
		RETURNING id, created_at
	`, topic).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range []uuid.UUID{participantA, participantB} {
		if _, err := tx.Exec(ctx, `
			INSERT INTO conversation_participant (conversation_id, user_id)
			VALUES ($1, $2)
		`, id, userID); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return &store.Conversation{
		ID:           id,
		Topic:        topic,
		CreatedAt:    createdAt,
		ParticipantA: participantA,
		ParticipantB: participantB,
	}, nil
}

// GetConversation retrieves a conversation with its two participants.
func (s *PostgresStore) GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	var (
		conv      store.Conversation
		endReason *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT c.id, c.topic, c.created_at, c.ended_at, c.end_reason,
		       min(p.user_id::text)::uuid, max(p.user_id::text)::uuid
		FROM conversation c
		JOIN conversation_participant p ON p.conversation_id = c.id
		WHERE c.id = $1
		GROUP BY c.id
	`, id).Scan(&conv.ID, &conv.Topic, &conv.CreatedAt, &conv.EndedAt, &endReason,
		&conv.ParticipantA, &conv.ParticipantB)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotOwnerOrMissing
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	if endReason != nil {
		reason := store.EndReason(*endReason)
		conv.EndReason = &reason
	}
	return &conv, nil
}

// EndConversation stamps ended_at exactly once.
func (s *PostgresStore) EndConversation(ctx context.Context, id uuid.UUID, reason store.EndReason) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE conversation
		SET ended_at = now(), end_reason = $2
		WHERE id = $1 AND ended_at IS NULL
	`, id, string(reason))
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConversationEnded
	}
	return nil
}

// UserHasAccess checks conversation membership.
func (s *PostgresStore) UserHasAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participant
			WHERE conversation_id = $1 AND user_id = $2
		)
	`, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query access: %w", err)
	}
	return exists, nil
}

// ==== MessageStore implementation ====

// CreateMessage inserts the message row and its revision-0 atom atomically.
func (s *PostgresStore) CreateMessage(ctx context.Context, p store.CreateMessageParams) (uuid.UUID, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var messageID uuid.UUID
	err = tx.QueryRow(ctx, `
		INSERT INTO message (conversation_id, sender_id, created_at, quoted_atom)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, p.ConversationID, p.SenderID, p.CreatedAt, p.QuotedID).Scan(&messageID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_atom (message_id, content, revision_number, created_at)
		VALUES ($1, $2, 0, $3)
	`, messageID, p.Content, p.CreatedAt); err != nil {
		return uuid.Nil, fmt.Errorf("insert atom: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit tx: %w", err)
	}
	return messageID, nil
}

// EditMessage appends a new atom at max(revision)+1. The ownership probe
// locks the message row, so concurrent edits of the same message serialize
// and revision numbers stay contiguous.
func (s *PostgresStore) EditMessage(ctx context.Context, p store.EditMessageParams) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM message
		WHERE id = $1 AND conversation_id = $2 AND sender_id = $3
		FOR UPDATE
	`, p.MessageID, p.ConversationID, p.SenderID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrNotOwnerOrMissing
		}
		return fmt.Errorf("lock message: %w", err)
	}

	var maxRevision int
	err = tx.QueryRow(ctx, `
		SELECT max(revision_number) FROM message_atom
		WHERE message_id = $1
	`, p.MessageID).Scan(&maxRevision)
	if err != nil {
		return fmt.Errorf("query max revision: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO message_atom (message_id, content, revision_number, created_at)
		VALUES ($1, $2, $3, $4)
	`, p.MessageID, p.Content, maxRevision+1, p.CreatedAt); err != nil {
		return fmt.Errorf("insert atom: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SoftDeleteMessage flips is_deleted for an owned message. The predicate does
// not check the current flag, so repeating the delete is a successful no-op.
func (s *PostgresStore) SoftDeleteMessage(ctx context.Context, p store.DeleteMessageParams) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE message
		SET is_deleted = true
		WHERE id = $1 AND conversation_id = $2 AND sender_id = $3
	`, p.MessageID, p.ConversationID, p.SenderID)
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotOwnerOrMissing
	}
	return nil
}

// GetMessage retrieves a message row by ID.
func (s *PostgresStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	var msg store.Message
	err := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, sender_id, created_at, quoted_atom, is_deleted
		FROM message
		WHERE id = $1
	`, id).Scan(&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.CreatedAt, &msg.QuotedAtom, &msg.IsDeleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotOwnerOrMissing
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	return &msg, nil
}

// MessageAtoms lists all revisions of a message, oldest first.
func (s *PostgresStore) MessageAtoms(ctx context.Context, messageID uuid.UUID) ([]store.MessageAtom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT message_id, content, revision_number, created_at
		FROM message_atom
		WHERE message_id = $1
		ORDER BY revision_number
	`, messageID)
	if err != nil {
		return nil, fmt.Errorf("query atoms: %w", err)
	}
	defer rows.Close()

	var atoms []store.MessageAtom
	for rows.Next() {
		var atom store.MessageAtom
		if err := rows.Scan(&atom.MessageID, &atom.Content, &atom.RevisionNumber, &atom.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		atoms = append(atoms, atom)
	}
	return atoms, rows.Err()
}

var _ store.Store = (*PostgresStore)(nil)
