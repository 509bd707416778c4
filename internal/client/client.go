package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/proto"
)

const (
	defaultAckTimeout      = 5 * time.Second
	defaultWriteTimeout    = 5 * time.Second
	defaultMaxMessageBytes = 64 << 10
)

var (
	// ErrNotConnected is returned by send operations without a live connection.
	ErrNotConnected = errors.New("client not connected")
	// ErrConnectionLost wraps the transport error passed to OnError.
	ErrConnectionLost = errors.New("connection lost")
)

// Options configure a Client.
type Options struct {
	// URL of the broker WebSocket endpoint, e.g. ws://localhost:9876/ws.
	URL string
	// AckTimeout bounds the wait for CONNECTION_ACK.
	AckTimeout   time.Duration
	WriteTimeout time.Duration
	// Token is sent in the CONNECT payload when set.
	Token           string
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.AckTimeout <= 0 {
		o.AckTimeout = defaultAckTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	return o
}

// Client is a chat client holding at most one broker connection at a time.
type Client struct {
	opts      Options
	log       *zerolog.Logger
	listeners *listenerSet

	mu     sync.Mutex
	link   *link
	userID atomic.Int64
}

// link is one established connection and its receive loop.
type link struct {
	ws       *websocket.Conn
	ctx      context.Context
	cancel   context.CancelFunc
	userID   int64
	username string
	connID   string

	closing  atomic.Bool
	downOnce sync.Once
}

// New creates a disconnected client.
func New(opts Options, logger *zerolog.Logger) *Client {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Client{
		opts:      opts.withDefaults(),
		log:       logger,
		listeners: &listenerSet{log: logger},
	}
}

// AddMessageListener registers l. Registering the same listener twice returns a handle
// but keeps a single registration at its original position.
func (c *Client) AddMessageListener(l Listener) *Registration {
	if !c.listeners.add(l) {
		c.log.Debug().Msg("listener already registered")
	}
	return &Registration{list: c.listeners, l: l}
}

// RemoveMessageListener unregisters l. Unknown listeners are ignored.
func (c *Client) RemoveMessageListener(l Listener) {
	c.listeners.remove(l)
}

// Connect dials the broker, performs the CONNECT handshake and waits for the
// acknowledgement. It reports false on dial failure, rejection or ack timeout; it never
// retries. A previous connection is closed first.
func (c *Client) Connect(ctx context.Context, userID int64, username string, isAdmin bool) bool {
	c.Disconnect()

	log := c.log.With().Int64("user_id", userID).Str("url", c.opts.URL).Logger()

	hsCtx, cancel := context.WithTimeout(ctx, c.opts.AckTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(hsCtx, c.opts.URL, nil)
	if err != nil {
		log.Warn().Err(err).Msg("dial broker")
		return false
	}
	ws.SetReadLimit(c.opts.MaxMessageBytes)

	connect := proto.NewConnect(proto.ConnectData{
		UserID:   userID,
		Username: username,
		IsAdmin:  isAdmin,
		Token:    c.opts.Token,
	})
	if err := writeEnvelope(hsCtx, ws, connect); err != nil {
		log.Warn().Err(err).Msg("send CONNECT")
		_ = ws.CloseNow()
		return false
	}

	connID, err := awaitAck(hsCtx, ws)
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		_ = ws.CloseNow()
		return false
	}

	linkCtx, linkCancel := context.WithCancel(context.Background())
	l := &link{
		ws:       ws,
		ctx:      linkCtx,
		cancel:   linkCancel,
		userID:   userID,
		username: username,
		connID:   connID,
	}

	c.mu.Lock()
	c.link = l
	c.mu.Unlock()
	c.userID.Store(userID)

	log.Info().Str("conn_id", connID).Msg("connected")
	c.listeners.each("connected", func(li Listener) { li.OnConnected() })

	go c.receiveLoop(l)
	return true
}

// awaitAck reads until CONNECTION_ACK. An ERROR reply rejects the handshake.
func awaitAck(ctx context.Context, ws *websocket.Conn) (string, error) {
	for {
		_, frame, err := ws.Read(ctx)
		if err != nil {
			return "", fmt.Errorf("await ack: %w", err)
		}
		env, err := proto.Decode(frame)
		if err != nil {
			continue
		}

		switch env.Type {
		case proto.TypeConnectionAck:
			var ack proto.AckData
			if len(env.Data) > 0 {
				if err := json.Unmarshal(env.Data, &ack); err != nil {
					return "", fmt.Errorf("decode ack: %w", err)
				}
			}
			return ack.ConnectionID, nil
		case proto.TypeError:
			return "", env.Err()
		}
	}
}

func (c *Client) receiveLoop(l *link) {
	log := c.log.With().Int64("user_id", l.userID).Str("conn_id", l.connID).Logger()

	for {
		_, frame, err := l.ws.Read(l.ctx)
		if err != nil {
			if l.closing.Load() {
				return
			}
			log.Info().Err(err).Msg("connection closed by peer")
			c.fail(l, err)
			return
		}

		env, err := proto.Decode(frame)
		if err != nil {
			log.Debug().Err(err).Msg("malformed frame from broker")
			local := proto.NewError(proto.CodeMalformed, err.Error())
			c.listeners.each("message", func(li Listener) { li.OnMessageReceived(local) })
			continue
		}
		if env.SenderID != 0 && env.SenderID == l.userID {
			log.Debug().Str("type", string(env.Type)).Msg("dropping own echo")
			continue
		}

		c.listeners.each("message", func(li Listener) { li.OnMessageReceived(env) })
	}
}

// fail tears down a link after a transport error.
func (c *Client) fail(l *link, err error) {
	if !l.closing.CompareAndSwap(false, true) {
		return
	}

	c.mu.Lock()
	if c.link == l {
		c.link = nil
	}
	c.mu.Unlock()

	l.cancel()
	_ = l.ws.CloseNow()

	wrapped := fmt.Errorf("%w: %v", ErrConnectionLost, err)
	c.listeners.each("error", func(li Listener) { li.OnError(wrapped) })
	c.notifyDisconnected(l)
}

// Disconnect sends DISCONNECT, closes the socket and notifies listeners once.
// It is a no-op without a live connection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	l := c.link
	c.link = nil
	c.mu.Unlock()

	if l == nil || !l.closing.CompareAndSwap(false, true) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.WriteTimeout)
	if err := writeEnvelope(ctx, l.ws, proto.NewDisconnect(l.userID)); err != nil {
		c.log.Debug().Err(err).Msg("send DISCONNECT")
	}
	cancel()

	if err := l.ws.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		c.log.Debug().Err(err).Msg("ws close")
	}
	l.cancel()

	c.log.Info().Int64("user_id", l.userID).Msg("disconnected")
	c.notifyDisconnected(l)
}

func (c *Client) notifyDisconnected(l *link) {
	l.downOnce.Do(func() {
		c.listeners.each("disconnected", func(li Listener) { li.OnDisconnected() })
	})
}

// SendChatMessage sends text to receiverID. Delivery is not acknowledged.
func (c *Client) SendChatMessage(ctx context.Context, text string, receiverID int64) error {
	l := c.current()
	if l == nil {
		return ErrNotConnected
	}
	return c.send(ctx, l, proto.NewChat(l.userID, l.username, receiverID, text))
}

// SendTyping notifies receiverID that the local user started or stopped typing.
func (c *Client) SendTyping(ctx context.Context, receiverID int64, typing bool) error {
	l := c.current()
	if l == nil {
		return ErrNotConnected
	}
	return c.send(ctx, l, proto.NewTyping(l.userID, l.username, receiverID, typing))
}

func (c *Client) send(ctx context.Context, l *link, env *proto.Envelope) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.WriteTimeout)
	defer cancel()

	if err := writeEnvelope(ctx, l.ws, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// IsConnected reports whether a connection is live.
func (c *Client) IsConnected() bool {
	return c.current() != nil
}

// UserID returns the id used by the last successful Connect.
func (c *Client) UserID() int64 {
	return c.userID.Load()
}

func (c *Client) current() *link {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.link
}

func writeEnvelope(ctx context.Context, ws *websocket.Conn, env *proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
