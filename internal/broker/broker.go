package broker

import (
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/registry"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultMaxMessageBytes  = 64 << 10
)

// Options tune per-connection behaviour.
type Options struct {
	// HandshakeTimeout bounds the wait for CONNECT.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// PingInterval enables heartbeats when positive.
	PingInterval    time.Duration
	MaxMessageBytes int64
	// RequireToken rejects CONNECT payloads without a valid token.
	RequireToken bool
}

func (o Options) withDefaults() Options {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = defaultWriteTimeout
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = defaultMaxMessageBytes
	}
	return o
}

// Verifier checks that a handshake token belongs to the claimed user.
type Verifier interface {
	VerifyIdentity(token string, userID int64) (*auth.Claims, error)
}

// Broker accepts WebSocket connections, authenticates them with a CONNECT handshake
// and relays chat and typing envelopes between registered users.
type Broker struct {
	registry *registry.Registry
	verifier Verifier
	opts     Options
	log      *zerolog.Logger

	mu       sync.Mutex
	stopped  bool
	sessions map[*session]struct{}
	wg       sync.WaitGroup
}

// New creates a broker routing through reg. verifier may be nil when tokens are not used.
func New(reg *registry.Registry, verifier Verifier, opts Options, logger *zerolog.Logger) *Broker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Broker{
		registry: reg,
		verifier: verifier,
		opts:     opts.withDefaults(),
		log:      logger,
		sessions: make(map[*session]struct{}),
	}
}

// Registry exposes the broker's connection registry.
func (b *Broker) Registry() *registry.Registry {
	return b.registry
}

// ServeHTTP upgrades the request and runs the connection until it closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if b.isStopped() {
		http.Error(w, "broker stopped", http.StatusServiceUnavailable)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		b.log.Error().Err(err).Msg("ws accept error")
		return
	}
	ws.SetReadLimit(b.opts.MaxMessageBytes)

	s := newSession(b, ws, r.RemoteAddr)
	if !b.track(s) {
		_ = ws.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer b.untrack(s)

	s.run()
}

// Stop refuses new connections and closes all live ones. It returns once every
// connection worker has exited.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	sessions := make([]*session, 0, len(b.sessions))
	for s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	b.log.Info().Int("connections", len(sessions)).Msg("stopping broker")

	var closing sync.WaitGroup
	for _, s := range sessions {
		closing.Add(1)
		go func(s *session) {
			defer closing.Done()
			s.close(websocket.StatusGoingAway, "server shutting down")
		}(s)
	}
	closing.Wait()
	b.wg.Wait()
}

func (b *Broker) isStopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}

func (b *Broker) track(s *session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped {
		return false
	}
	b.sessions[s] = struct{}{}
	b.wg.Add(1)
	return true
}

func (b *Broker) untrack(s *session) {
	b.mu.Lock()
	delete(b.sessions, s)
	b.mu.Unlock()
	b.wg.Done()
}
