package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role is the role a sender had when a message was written.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// RoleOf maps the admin flag to a Role.
func RoleOf(isAdmin bool) Role {
	if isAdmin {
		return RoleAdmin
	}
	return RoleUser
}

// User represents a user in the system.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	IsAdmin      bool
	CreatedAt    time.Time
}

// Message represents a persisted direct chat message.
type Message struct {
	ID             int64
	SenderID       int64
	SenderName     string
	ReceiverID     int64
	ReceiverName   string
	Body           string
	SentAt         time.Time
	SenderRole     Role
	HasAttachments bool
	IsRead         bool
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string, isAdmin bool) (*User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id int64) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// ListAdmins lists all admin users ordered by username.
	ListAdmins(ctx context.Context) ([]*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and sets its ID.
	SaveMessage(ctx context.Context, msg *Message) error

	// IsDuplicate reports whether an identical message (same sender, receiver, text and
	// timestamp) has already been stored.
	IsDuplicate(ctx context.Context, senderID, receiverID int64, text string, sentAt time.Time) (bool, error)

	// MarkRead marks all messages from fromUserID to toUserID as read.
	MarkRead(ctx context.Context, fromUserID, toUserID int64) error

	// GetMessages returns up to limit most recent messages exchanged between two users,
	// in chronological order.
	GetMessages(ctx context.Context, userA, userB int64, limit int) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
