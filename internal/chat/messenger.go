package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/session"
	"github.com/vovakirdan/taskchat/internal/store"
)

const defaultOpenLimit = 50

var (
	ErrSignedOut    = errors.New("no user signed in")
	ErrEmptyMessage = errors.New("message text is empty")
	ErrNoReceiver   = errors.New("receiver is required")
	ErrNoDirectory  = errors.New("admin directory not configured")
)

// Sender delivers envelopes to the broker; *client.Client implements it.
type Sender interface {
	SendChatMessage(ctx context.Context, text string, receiverID int64) error
	SendTyping(ctx context.Context, receiverID int64, typing bool) error
}

// Directory lists the admins a user can talk to.
type Directory interface {
	ListAdmins(ctx context.Context) ([]*store.User, error)
}

// MessengerConfig wires a Messenger. Directory and Inbox are optional.
type MessengerConfig struct {
	Identity  session.Identity
	Messages  store.MessageStore
	Sender    Sender
	Directory Directory
	Inbox     *Inbox
	Logger    *zerolog.Logger
}

// Messenger is the send side of a conversation.
type Messenger struct {
	identity  session.Identity
	messages  store.MessageStore
	sender    Sender
	directory Directory
	inbox     *Inbox
	log       *zerolog.Logger
	now       func() time.Time
}

// NewMessenger creates a messenger from cfg.
func NewMessenger(cfg MessengerConfig) *Messenger {
	logger := cfg.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Messenger{
		identity:  cfg.Identity,
		messages:  cfg.Messages,
		sender:    cfg.Sender,
		directory: cfg.Directory,
		inbox:     cfg.Inbox,
		log:       logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Send stores text as a message to receiverID and hands it to the broker. The stored
// message is returned for local rendering even when delivery fails.
func (m *Messenger) Send(ctx context.Context, receiverID int64, text string) (*store.Message, error) {
	if !session.SignedIn(m.identity) {
		return nil, ErrSignedOut
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if receiverID <= 0 {
		return nil, ErrNoReceiver
	}

	msg := &store.Message{
		SenderID:   m.identity.CurrentUserID(),
		SenderName: m.identity.CurrentUsername(),
		ReceiverID: receiverID,
		Body:       text,
		SentAt:     m.now(),
		SenderRole: store.RoleOf(m.identity.IsAdmin()),
		IsRead:     true,
	}
	if err := m.messages.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}

	if err := m.sender.SendChatMessage(ctx, text, receiverID); err != nil {
		m.log.Warn().Err(err).Int64("receiver_id", receiverID).Int64("message_id", msg.ID).Msg("message stored but not sent")
		return msg, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Typing tells receiverID that the local user started or stopped typing.
func (m *Messenger) Typing(ctx context.Context, receiverID int64, typing bool) error {
	if receiverID <= 0 {
		return ErrNoReceiver
	}
	return m.sender.SendTyping(ctx, receiverID, typing)
}

// Open loads the conversation with peerID, marks it read and makes it the open
// conversation. limit <= 0 selects the default page size.
func (m *Messenger) Open(ctx context.Context, peerID int64, limit int) ([]*store.Message, error) {
	if !session.SignedIn(m.identity) {
		return nil, ErrSignedOut
	}
	if peerID <= 0 {
		return nil, ErrNoReceiver
	}
	if limit <= 0 {
		limit = defaultOpenLimit
	}

	me := m.identity.CurrentUserID()
	history, err := m.messages.GetMessages(ctx, me, peerID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if err := m.messages.MarkRead(ctx, peerID, me); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	if m.inbox != nil {
		m.inbox.SetOpenPeer(peerID)
	}
	return history, nil
}

// Close leaves the open conversation.
func (m *Messenger) Close() {
	if m.inbox != nil {
		m.inbox.SetOpenPeer(0)
	}
}

// Admins lists the admins available to chat with.
func (m *Messenger) Admins(ctx context.Context) ([]*store.User, error) {
	if m.directory == nil {
		return nil, ErrNoDirectory
	}
	admins, err := m.directory.ListAdmins(ctx)
	if err != nil {
		return nil, fmt.Errorf("list admins: %w", err)
	}
	return admins, nil
}
