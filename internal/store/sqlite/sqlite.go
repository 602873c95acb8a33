package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/parleyhq/relay-server/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation (
	id         TEXT PRIMARY KEY,
	topic      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	ended_at   DATETIME,
	end_reason TEXT
);

CREATE TABLE IF NOT EXISTS conversation_participant (
	conversation_id TEXT NOT NULL REFERENCES conversation(id),
	user_id         TEXT NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS message (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversation(id),
	sender_id       TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	quoted_atom     TEXT,
	is_deleted      BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS message_atom (
	message_id      TEXT NOT NULL REFERENCES message(id),
	content         TEXT NOT NULL,
	revision_number INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL,
	PRIMARY KEY (message_id, revision_number)
);
`

// SQLiteStore implements store.Store for SQLite. It backs the embedded
// single-process deployment mode and the test suite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the SQLite database at dbPath and applies the schema.
// Use ":memory:" for an ephemeral store.
func New(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// A single connection serializes all writes, which also guarantees the
	// per-message ordering EditMessage requires.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== ConversationStore implementation ====

// CreateConversation inserts a conversation and both participant rows in one
// transaction.
func (s *SQLiteStore) CreateConversation(ctx context.Context, topic string, participantA, participantB uuid.UUID) (*store.Conversation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id := uuid.New()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversation (id, topic)
		VALUES (?, ?)
	`, id.String(), topic); err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	for _, userID := range []uuid.UUID{participantA, participantB} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversation_participant (conversation_id, user_id)
			VALUES (?, ?)
		`, id.String(), userID.String()); err != nil {
			return nil, fmt.Errorf("insert participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	return s.GetConversation(ctx, id)
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id uuid.UUID) (*store.Conversation, error) {
	var (
		conv         store.Conversation
		convID       string
		endReason    sql.NullString
		participants []uuid.UUID
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, topic, created_at, ended_at, end_reason
		FROM conversation
		WHERE id = ?
	`, id.String()).Scan(&convID, &conv.Topic, &conv.CreatedAt, &conv.EndedAt, &endReason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotOwnerOrMissing
		}
		return nil, fmt.Errorf("query conversation: %w", err)
	}
	conv.ID, err = uuid.Parse(convID)
	if err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	if endReason.Valid {
		reason := store.EndReason(endReason.String)
		conv.EndReason = &reason
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_participant
		WHERE conversation_id = ?
		ORDER BY user_id
	`, id.String())
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		userID, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse participant id: %w", err)
		}
		participants = append(participants, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(participants) == 2 {
		conv.ParticipantA = participants[0]
		conv.ParticipantB = participants[1]
	}

	return &conv, nil
}

// EndConversation stamps ended_at exactly once.
func (s *SQLiteStore) EndConversation(ctx context.Context, id uuid.UUID, reason store.EndReason) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation
		SET ended_at = CURRENT_TIMESTAMP, end_reason = ?
		WHERE id = ? AND ended_at IS NULL
	`, string(reason), id.String())
	if err != nil {
		return fmt.Errorf("end conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrConversationEnded
	}
	return nil
}

// UserHasAccess checks conversation membership.
func (s *SQLiteStore) UserHasAccess(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM conversation_participant
			WHERE conversation_id = ? AND user_id = ?
		)
	`, conversationID.String(), userID.String()).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query access: %w", err)
	}
	return exists, nil
}

// ==== MessageStore implementation ====

// CreateMessage inserts the message row and its revision-0 atom atomically.
func (s *SQLiteStore) CreateMessage(ctx context.Context, p store.CreateMessageParams) (uuid.UUID, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	messageID := uuid.New()
	var quoted any
	if p.QuotedID != nil {
		quoted = p.QuotedID.String()
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message (id, conversation_id, sender_id, created_at, quoted_atom)
		VALUES (?, ?, ?, ?, ?)
	`, messageID.String(), p.ConversationID.String(), p.SenderID.String(), p.CreatedAt, quoted); err != nil {
		return uuid.Nil, fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_atom (message_id, content, revision_number, created_at)
		VALUES (?, ?, 0, ?)
	`, messageID.String(), p.Content, p.CreatedAt); err != nil {
		return uuid.Nil, fmt.Errorf("insert atom: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return uuid.Nil, fmt.Errorf("commit tx: %w", err)
	}
	return messageID, nil
}

// EditMessage appends a new atom at max(revision)+1. The immediate
// transaction on the single-connection pool serializes concurrent edits.
func (s *SQLiteStore) EditMessage(ctx context.Context, p store.EditMessageParams) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var owned bool
	err = tx.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM message
			WHERE id = ? AND conversation_id = ? AND sender_id = ?
		)
	`, p.MessageID.String(), p.ConversationID.String(), p.SenderID.String()).Scan(&owned)
	if err != nil {
		return fmt.Errorf("query ownership: %w", err)
	}
	if !owned {
		return store.ErrNotOwnerOrMissing
	}

	var maxRevision int
	err = tx.QueryRowContext(ctx, `
		SELECT max(revision_number) FROM message_atom
		WHERE message_id = ?
	`, p.MessageID.String()).Scan(&maxRevision)
	if err != nil {
		return fmt.Errorf("query max revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO message_atom (message_id, content, revision_number, created_at)
		VALUES (?, ?, ?, ?)
	`, p.MessageID.String(), p.Content, maxRevision+1, p.CreatedAt); err != nil {
		return fmt.Errorf("insert atom: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SoftDeleteMessage flips is_deleted for an owned message.
func (s *SQLiteStore) SoftDeleteMessage(ctx context.Context, p store.DeleteMessageParams) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE message
		SET is_deleted = 1
		WHERE id = ? AND conversation_id = ? AND sender_id = ?
	`, p.MessageID.String(), p.ConversationID.String(), p.SenderID.String())
	if err != nil {
		return fmt.Errorf("soft delete message: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return store.ErrNotOwnerOrMissing
	}
	return nil
}

// GetMessage retrieves a message row by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id uuid.UUID) (*store.Message, error) {
	var (
		msg    store.Message
		msgID  string
		convID string
		sender string
		quoted sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, conversation_id, sender_id, created_at, quoted_atom, is_deleted
		FROM message
		WHERE id = ?
	`, id.String()).Scan(&msgID, &convID, &sender, &msg.CreatedAt, &quoted, &msg.IsDeleted)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotOwnerOrMissing
		}
		return nil, fmt.Errorf("query message: %w", err)
	}
	if msg.ID, err = uuid.Parse(msgID); err != nil {
		return nil, fmt.Errorf("parse message id: %w", err)
	}
	if msg.ConversationID, err = uuid.Parse(convID); err != nil {
		return nil, fmt.Errorf("parse conversation id: %w", err)
	}
	if msg.SenderID, err = uuid.Parse(sender); err != nil {
		return nil, fmt.Errorf("parse sender id: %w", err)
	}
	if quoted.Valid {
		quotedID, err := uuid.Parse(quoted.String)
		if err != nil {
			return nil, fmt.Errorf("parse quoted id: %w", err)
		}
		msg.QuotedAtom = &quotedID
	}
	return &msg, nil
}

// MessageAtoms lists all revisions of a message, oldest first.
func (s *SQLiteStore) MessageAtoms(ctx context.Context, messageID uuid.UUID) ([]store.MessageAtom, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, content, revision_number, created_at
		FROM message_atom
		WHERE message_id = ?
		ORDER BY revision_number
	`, messageID.String())
	if err != nil {
		return nil, fmt.Errorf("query atoms: %w", err)
	}
	defer rows.Close()

	var atoms []store.MessageAtom
	for rows.Next() {
		var (
			atom store.MessageAtom
			raw  string
		)
		if err := rows.Scan(&raw, &atom.Content, &atom.RevisionNumber, &atom.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan atom: %w", err)
		}
		if atom.MessageID, err = uuid.Parse(raw); err != nil {
			return nil, fmt.Errorf("parse atom message id: %w", err)
		}
		atoms = append(atoms, atom)
	}
	return atoms, rows.Err()
}

var _ store.Store = (*SQLiteStore)(nil)
