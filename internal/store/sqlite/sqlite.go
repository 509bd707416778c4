package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vovakirdan/taskchat/internal/store"
)

// Schema creates the tables used by SQLiteStore. Statements are idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	username      TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	is_admin      BOOLEAN NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS messages (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	sender_id       INTEGER NOT NULL,
	sender_name     TEXT NOT NULL DEFAULT '',
	receiver_id     INTEGER NOT NULL,
	receiver_name   TEXT NOT NULL DEFAULT '',
	body            TEXT NOT NULL,
	sent_at         TEXT NOT NULL,
	sender_role     TEXT NOT NULL DEFAULT 'user',
	has_attachments BOOLEAN NOT NULL DEFAULT 0,
	is_read         BOOLEAN NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_pair ON messages(sender_id, receiver_id, sent_at);
CREATE INDEX IF NOT EXISTS idx_users_admin ON users(is_admin);
`

// timestamps are stored as fixed-width UTC text so equality and ordering work in SQL
const sentAtLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ store.Store = (*SQLiteStore)(nil)

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema without migrations.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *SQLiteStore) CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*store.User, error) {
	query := `
		INSERT INTO users (username, password_hash, is_admin)
		VALUES (?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query, username, passwordHash, isAdmin)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	return s.GetUserByID(ctx, id)
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id int64) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_admin, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, id))
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_admin, created_at
		FROM users
		WHERE username = ?
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, username))
}

// ListAdmins lists all admin users ordered by username.
func (s *SQLiteStore) ListAdmins(ctx context.Context) ([]*store.User, error) {
	query := `
		SELECT id, username, password_hash, is_admin, created_at
		FROM users
		WHERE is_admin = 1
		ORDER BY username
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query admins: %w", err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		var user store.User
		if err := rows.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan admin: %w", err)
		}
		users = append(users, &user)
	}

	return users, rows.Err()
}

func (s *SQLiteStore) scanUser(row *sql.Row) (*store.User, error) {
	var user store.User
	err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.IsAdmin, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %w", store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== MessageStore implementation ====

// SaveMessage persists a message to storage.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	if msg.SenderRole == "" {
		msg.SenderRole = store.RoleUser
	}

	query := `
		INSERT INTO messages (sender_id, sender_name, receiver_id, receiver_name, body, sent_at, sender_role, has_attachments, is_read)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.SenderID,
		msg.SenderName,
		msg.ReceiverID,
		msg.ReceiverName,
		msg.Body,
		formatSentAt(msg.SentAt),
		string(msg.SenderRole),
		msg.HasAttachments,
		msg.IsRead,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	return nil
}

// IsDuplicate reports whether an identical message has already been stored.
func (s *SQLiteStore) IsDuplicate(ctx context.Context, senderID, receiverID int64, text string, sentAt time.Time) (bool, error) {
	query := `
		SELECT EXISTS(
			SELECT 1 FROM messages
			WHERE sender_id = ? AND receiver_id = ? AND body = ? AND sent_at = ?
		)
	`
	var exists bool
	if err := s.db.QueryRowContext(ctx, query, senderID, receiverID, text, formatSentAt(sentAt)).Scan(&exists); err != nil {
		return false, fmt.Errorf("check duplicate: %w", err)
	}
	return exists, nil
}

// MarkRead marks all messages from fromUserID to toUserID as read.
func (s *SQLiteStore) MarkRead(ctx context.Context, fromUserID, toUserID int64) error {
	query := `
		UPDATE messages SET is_read = 1
		WHERE sender_id = ? AND receiver_id = ? AND is_read = 0
	`
	if _, err := s.db.ExecContext(ctx, query, fromUserID, toUserID); err != nil {
		return fmt.Errorf("mark read: %w", err)
	}
	return nil
}

// GetMessages returns up to limit most recent messages between two users in chronological order.
func (s *SQLiteStore) GetMessages(ctx context.Context, userA, userB int64, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, sender_id, sender_name, receiver_id, receiver_name, body, sent_at, sender_role, has_attachments, is_read
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY sent_at DESC, id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg    store.Message
			sentAt string
			role   string
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.ReceiverID,
			&msg.ReceiverName,
			&msg.Body,
			&sentAt,
			&role,
			&msg.HasAttachments,
			&msg.IsRead,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.SentAt, err = time.Parse(sentAtLayout, sentAt)
		if err != nil {
			return nil, fmt.Errorf("parse sent_at: %w", err)
		}
		msg.SenderRole = store.Role(role)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

func formatSentAt(t time.Time) string {
	return t.UTC().Format(sentAtLayout)
}
