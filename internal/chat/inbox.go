// Package chat turns broker envelopes into a persisted conversation view and sends
// messages on behalf of the signed-in user.
package chat

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/client"
	"github.com/vovakirdan/taskchat/internal/proto"
	"github.com/vovakirdan/taskchat/internal/session"
	"github.com/vovakirdan/taskchat/internal/store"
)

const storeTimeout = 5 * time.Second

// Status is the connection state reported to the UI.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnected
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return "disconnected"
	}
}

// Handlers are the UI callbacks. Nil fields are skipped.
type Handlers struct {
	// OnMessage receives every stored inbound message.
	OnMessage func(msg *store.Message)
	// OnTyping reports typing indicator changes of a peer.
	OnTyping func(peerID int64, name string, typing bool)
	// OnStatus reports connection changes; err is set with StatusError.
	OnStatus func(status Status, err error)
	// OnBrokerError receives ERROR envelopes sent by the broker.
	OnBrokerError func(perr *proto.Error)
}

// Inbox consumes client events. Inbound chat messages pass the own-echo guard and the
// persistence guard before they are stored and shown.
type Inbox struct {
	identity session.Identity
	messages store.MessageStore
	handlers Handlers
	log      *zerolog.Logger

	mu       sync.Mutex
	openPeer int64
	typing   map[int64]string
}

var _ client.Listener = (*Inbox)(nil)

// NewInbox creates an inbox storing messages in messages.
func NewInbox(identity session.Identity, messages store.MessageStore, handlers Handlers, logger *zerolog.Logger) *Inbox {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Inbox{
		identity: identity,
		messages: messages,
		handlers: handlers,
		log:      logger,
		typing:   make(map[int64]string),
	}
}

// SetOpenPeer sets the conversation currently on screen; 0 closes it.
// Messages from the open peer are marked read on arrival.
func (in *Inbox) SetOpenPeer(peerID int64) {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.openPeer = peerID
}

// OpenPeer returns the conversation currently on screen.
func (in *Inbox) OpenPeer() int64 {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.openPeer
}

// Typing returns peers currently typing, keyed by user id.
func (in *Inbox) Typing() map[int64]string {
	in.mu.Lock()
	defer in.mu.Unlock()
	return maps.Clone(in.typing)
}

func (in *Inbox) OnMessageReceived(env *proto.Envelope) {
	switch env.Type {
	case proto.TypeChatMessage:
		in.receive(env)
	case proto.TypeTypingStart:
		in.setTyping(env.SenderID, env.SenderName, true)
	case proto.TypeTypingStop:
		in.setTyping(env.SenderID, env.SenderName, false)
	case proto.TypeError:
		perr := env.Err()
		in.log.Warn().Str("code", perr.Code).Str("message", perr.Msg).Msg("broker error")
		if in.handlers.OnBrokerError != nil {
			in.handlers.OnBrokerError(perr)
		}
	default:
		in.log.Debug().Str("type", string(env.Type)).Msg("ignoring envelope")
	}
}

func (in *Inbox) OnConnected() {
	in.status(StatusConnected, nil)
}

func (in *Inbox) OnDisconnected() {
	// indicators from the old connection can no longer be cleared by their sender
	in.mu.Lock()
	stale := in.typing
	in.typing = make(map[int64]string)
	in.mu.Unlock()

	for peerID, name := range stale {
		in.notifyTyping(peerID, name, false)
	}
	in.status(StatusDisconnected, nil)
}

func (in *Inbox) OnError(err error) {
	in.status(StatusError, err)
}

func (in *Inbox) receive(env *proto.Envelope) {
	me := in.identity.CurrentUserID()
	log := in.log.With().Int64("sender_id", env.SenderID).Int64("receiver_id", env.ReceiverID).Logger()

	if env.SenderID == me {
		log.Debug().Msg("dropping own echo")
		return
	}

	text, err := env.Text()
	if err != nil {
		log.Warn().Err(err).Msg("chat message without text")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()

	dup, err := in.messages.IsDuplicate(ctx, env.SenderID, env.ReceiverID, text, env.Timestamp)
	if err != nil {
		log.Error().Err(err).Msg("duplicate check failed, message dropped")
		return
	}
	if dup {
		log.Debug().Time("sent_at", env.Timestamp).Msg("duplicate message dropped")
		return
	}

	msg := &store.Message{
		SenderID:   env.SenderID,
		SenderName: env.SenderName,
		ReceiverID: env.ReceiverID,
		Body:       text,
		SentAt:     env.Timestamp,
		// a regular user talks to admins and the other way round
		SenderRole: store.RoleOf(!in.identity.IsAdmin()),
	}
	if env.ReceiverID == me {
		msg.ReceiverName = in.identity.CurrentUsername()
	}
	if err := in.messages.SaveMessage(ctx, msg); err != nil {
		log.Error().Err(err).Msg("save message failed, message dropped")
		return
	}

	if env.SenderID == in.OpenPeer() {
		if err := in.messages.MarkRead(ctx, env.SenderID, me); err != nil {
			log.Warn().Err(err).Msg("mark read")
		} else {
			msg.IsRead = true
		}
	}

	// a message ends the sender's typing indicator
	in.setTyping(env.SenderID, env.SenderName, false)

	if in.handlers.OnMessage != nil {
		in.handlers.OnMessage(msg)
	}
}

func (in *Inbox) setTyping(peerID int64, name string, typing bool) {
	if peerID <= 0 {
		return
	}

	in.mu.Lock()
	_, was := in.typing[peerID]
	if typing {
		in.typing[peerID] = name
	} else {
		delete(in.typing, peerID)
	}
	in.mu.Unlock()

	if was != typing {
		in.notifyTyping(peerID, name, typing)
	}
}

func (in *Inbox) notifyTyping(peerID int64, name string, typing bool) {
	if in.handlers.OnTyping != nil {
		in.handlers.OnTyping(peerID, name, typing)
	}
}

func (in *Inbox) status(s Status, err error) {
	in.log.Info().Err(err).Str("status", s.String()).Msg("connection status")
	if in.handlers.OnStatus != nil {
		in.handlers.OnStatus(s, err)
	}
}
