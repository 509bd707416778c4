package registry

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/proto"
)

// Socket is the transport side of a connection as far as the registry cares.
type Socket interface {
	Close(reason string) error
}

// Connection is a live, authenticated client connection.
type Connection struct {
	ID          string
	UserID      int64
	Username    string
	IsAdmin     bool
	ConnectedAt time.Time

	socket       Socket
	outbox       *Outbox
	lastActivity atomic.Int64
	closeOnce    sync.Once
	closeErr     error
}

func newConnection(userID int64, username string, isAdmin bool, socket Socket, outboxSize int) *Connection {
	now := time.Now()
	c := &Connection{
		ID:          uuid.NewString(),
		UserID:      userID,
		Username:    username,
		IsAdmin:     isAdmin,
		ConnectedAt: now,
		socket:      socket,
		outbox:      NewOutbox(outboxSize),
	}
	c.lastActivity.Store(now.UnixNano())
	return c
}

// Outbox returns the connection's outgoing queue.
func (c *Connection) Outbox() *Outbox {
	return c.outbox
}

// Send queues env for delivery. It reports whether an older pending envelope was dropped.
func (c *Connection) Send(env *proto.Envelope) bool {
	return c.outbox.Push(env)
}

// Touch records inbound activity.
func (c *Connection) Touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// LastActivity returns the time of the last inbound frame.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// Close closes the socket and then the outbox, once; later calls return the first result.
func (c *Connection) Close(reason string) error {
	c.closeOnce.Do(func() {
		if c.socket != nil {
			c.closeErr = c.socket.Close(reason)
		}
		c.outbox.Close()
	})
	return c.closeErr
}

// Registry maps user ids to their single live connection.
type Registry struct {
	mu         sync.RWMutex
	conns      map[int64]*Connection
	outboxSize int
	log        *zerolog.Logger
}

// New creates an empty registry. outboxSize bounds each connection's outgoing queue.
func New(outboxSize int, logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		conns:      make(map[int64]*Connection),
		outboxSize: outboxSize,
		log:        logger,
	}
}

// Register inserts a new connection for userID. An existing connection for the same user
// is closed; Socket.Close must not block on the evicted peer.
func (r *Registry) Register(userID int64, username string, isAdmin bool, socket Socket) *Connection {
	conn := newConnection(userID, username, isAdmin, socket, r.outboxSize)

	r.mu.Lock()
	prev := r.conns[userID]
	r.conns[userID] = conn
	r.mu.Unlock()

	if prev != nil {
		r.log.Info().
			Int64("user_id", userID).
			Str("conn_id", prev.ID).
			Str("new_conn_id", conn.ID).
			Msg("evicting previous connection")
		if err := prev.Close("replaced by a newer connection"); err != nil {
			r.log.Debug().Err(err).Str("conn_id", prev.ID).Msg("close evicted connection")
		}
	}

	return conn
}

// Unregister removes and closes the connection for userID, if any.
func (r *Registry) Unregister(userID int64) {
	r.mu.Lock()
	conn, ok := r.conns[userID]
	if ok {
		delete(r.conns, userID)
	}
	r.mu.Unlock()

	if ok {
		_ = conn.Close("unregistered")
	}
}

// Remove deletes conn only if it is still the registered connection for its user.
// It does not close the connection.
func (r *Registry) Remove(conn *Connection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.conns[conn.UserID]; ok && current == conn {
		delete(r.conns, conn.UserID)
		return true
	}
	return false
}

// Lookup returns the live connection for userID.
func (r *Registry) Lookup(userID int64) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[userID]
	return conn, ok
}

// ListAdmins returns connections of admin users ordered by user id.
func (r *Registry) ListAdmins() []*Connection {
	return r.list(func(c *Connection) bool { return c.IsAdmin })
}

// ListAll returns all connections ordered by user id.
func (r *Registry) ListAll() []*Connection {
	return r.list(nil)
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) list(keep func(*Connection) bool) []*Connection {
	r.mu.RLock()
	out := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		if keep == nil || keep(c) {
			out = append(out, c)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
