package http

import (
	"time"

	"github.com/vovakirdan/taskchat/internal/registry"
	"github.com/vovakirdan/taskchat/internal/store"
)

// UserResponse represents a user in API responses.
type UserResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"isAdmin"`
	Online   bool   `json:"online"`
}

// ConnectionResponse describes a live broker connection.
type ConnectionResponse struct {
	UserID       int64     `json:"userId"`
	Username     string    `json:"username"`
	IsAdmin      bool      `json:"isAdmin"`
	ConnectionID string    `json:"connectionId"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// MessageResponse represents a stored chat message.
type MessageResponse struct {
	ID             int64      `json:"id"`
	SenderID       int64      `json:"senderId"`
	SenderName     string     `json:"senderName"`
	ReceiverID     int64      `json:"receiverId"`
	ReceiverName   string     `json:"receiverName,omitempty"`
	Text           string     `json:"text"`
	SentAt         time.Time  `json:"sentAt"`
	SenderRole     store.Role `json:"senderRole"`
	HasAttachments bool       `json:"hasAttachments"`
	IsRead         bool       `json:"isRead"`
}

func toUserResponse(u *store.User, online bool) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		IsAdmin:  u.IsAdmin,
		Online:   online,
	}
}

func toConnectionResponse(c *registry.Connection) ConnectionResponse {
	return ConnectionResponse{
		UserID:       c.UserID,
		Username:     c.Username,
		IsAdmin:      c.IsAdmin,
		ConnectionID: c.ID,
		ConnectedAt:  c.ConnectedAt.UTC(),
	}
}

func toMessageResponse(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:             m.ID,
		SenderID:       m.SenderID,
		SenderName:     m.SenderName,
		ReceiverID:     m.ReceiverID,
		ReceiverName:   m.ReceiverName,
		Text:           m.Body,
		SentAt:         m.SentAt.UTC(),
		SenderRole:     m.SenderRole,
		HasAttachments: m.HasAttachments,
		IsRead:         m.IsRead,
	}
}
