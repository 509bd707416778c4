package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/proto"
	"github.com/vovakirdan/taskchat/internal/registry"
)

type state int

const (
	stateAwaitingConnect state = iota
	stateAuthenticated
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateAwaitingConnect:
		return "awaiting_connect"
	case stateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

var (
	errClientDisconnect  = errors.New("client disconnected")
	errProtocolViolation = errors.New("protocol violation")
	errUnauthorized      = errors.New("unauthorized")
	errBadHandshake      = errors.New("bad handshake")
)

// session is one accepted socket and the workers serving it.
type session struct {
	b      *Broker
	ws     *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger

	state state
	conn  *registry.Connection

	closing     atomic.Bool
	closeOnce   sync.Once
	cleanupOnce sync.Once
}

func newSession(b *Broker, ws *websocket.Conn, remote string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		b:      b,
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		log:    b.log.With().Str("remote", remote).Logger(),
		state:  stateAwaitingConnect,
	}
}

// socket adapts a session to registry.Socket. The registry closes sockets on eviction
// and explicit unregistration.
type socket struct {
	s *session
}

func (k socket) Close(reason string) error {
	k.s.evict(reason)
	return nil
}

func (s *session) run() {
	conn, err := s.handshake()
	if err != nil {
		s.closeForHandshake(err)
		s.state = stateClosed
		return
	}
	s.conn = conn
	s.state = stateAuthenticated
	s.log = s.log.With().Int64("user_id", conn.UserID).Str("conn_id", conn.ID).Logger()
	s.log.Info().Str("username", conn.Username).Bool("is_admin", conn.IsAdmin).Msg("client connected")

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.readLoop()
	}()
	go func() {
		errCh <- s.writeLoop()
	}()

	err = <-errCh
	s.cleanup(err)
	<-errCh
}

// handshake waits for CONNECT, registers the user and acknowledges.
func (s *session) handshake() (*registry.Connection, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.b.opts.HandshakeTimeout)
	defer cancel()

	for {
		env, err := s.readEnvelope(ctx)
		if errors.Is(err, proto.ErrMalformed) {
			s.log.Debug().Err(err).Msg("malformed frame before CONNECT")
			if err := s.writeDirect(proto.NewError(proto.CodeMalformed, err.Error())); err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		if env.Type != proto.TypeConnect {
			msg := fmt.Sprintf("expected %s, got %s", proto.TypeConnect, env.Type)
			_ = s.writeDirect(proto.NewError(proto.CodeProtocolViolation, msg))
			return nil, fmt.Errorf("%w: %s", errProtocolViolation, msg)
		}

		data, err := env.Connect()
		if err == nil && (data.UserID <= 0 || data.Username == "") {
			err = errors.New("userId and username are required")
		}
		if err != nil {
			_ = s.writeDirect(proto.NewError(proto.CodeBadRequest, err.Error()))
			return nil, fmt.Errorf("%w: %v", errBadHandshake, err)
		}

		data, err = s.authenticate(data)
		if err != nil {
			_ = s.writeDirect(proto.NewError(proto.CodeUnauthorized, err.Error()))
			return nil, fmt.Errorf("%w: %v", errUnauthorized, err)
		}

		conn := s.b.registry.Register(data.UserID, data.Username, data.IsAdmin, socket{s: s})
		if err := s.writeDirect(proto.NewAck(conn.UserID, conn.Username, conn.ID)); err != nil {
			s.b.registry.Remove(conn)
			_ = conn.Close("ack failed")
			return nil, err
		}
		return conn, nil
	}
}

// authenticate applies token verification. A verified token overrides the claimed
// username and admin flag.
func (s *session) authenticate(data proto.ConnectData) (proto.ConnectData, error) {
	if data.Token == "" {
		if s.b.opts.RequireToken {
			return data, errors.New("token required")
		}
		return data, nil
	}
	if s.b.verifier == nil {
		return data, nil
	}

	claims, err := s.b.verifier.VerifyIdentity(data.Token, data.UserID)
	if err != nil {
		return data, err
	}
	data.Username = claims.Username
	data.IsAdmin = claims.IsAdmin
	return data, nil
}

func (s *session) closeForHandshake(err error) {
	status := websocket.StatusPolicyViolation
	reason := "handshake failed"

	switch {
	case errors.Is(err, errProtocolViolation):
		reason = "expected CONNECT"
	case errors.Is(err, errUnauthorized):
		reason = "unauthorized"
	case errors.Is(err, errBadHandshake):
		reason = "bad CONNECT payload"
	case errors.Is(err, context.DeadlineExceeded):
		reason = "handshake timeout"
	case websocket.CloseStatus(err) != -1, errors.Is(err, io.EOF):
		status = websocket.StatusNormalClosure
		reason = "closing"
	}

	s.log.Info().Err(err).Str("state", s.state.String()).Str("reason", reason).Msg("connection rejected")
	s.close(status, reason)
}

func (s *session) readLoop() error {
	for {
		env, err := s.readEnvelope(s.ctx)
		if errors.Is(err, proto.ErrMalformed) {
			s.log.Debug().Err(err).Msg("malformed frame")
			s.reply(proto.NewError(proto.CodeMalformed, err.Error()))
			continue
		}
		if err != nil {
			return err
		}

		s.conn.Touch()
		if env.Type == proto.TypeDisconnect {
			return errClientDisconnect
		}
		s.dispatch(env)
	}
}

// dispatch handles one authenticated envelope. A panic drops the envelope, not the connection.
func (s *session) dispatch(env *proto.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("type", string(env.Type)).Msg("routing panic, envelope dropped")
		}
	}()

	if !env.Type.Routed() {
		s.reply(proto.NewError(proto.CodeProtocolViolation, fmt.Sprintf("unexpected %s on authenticated connection", env.Type)))
		return
	}
	s.route(env)
}

func (s *session) route(env *proto.Envelope) {
	if env.ReceiverID <= 0 {
		s.reply(proto.NewError(proto.CodeBadRequest, "receiverId is required"))
		return
	}

	if env.SenderID != 0 && env.SenderID != s.conn.UserID {
		s.log.Warn().Int64("claimed_sender", env.SenderID).Msg("overriding spoofed senderId")
	}
	env.SenderID = s.conn.UserID
	env.SenderName = s.conn.Username
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now().UTC()
	}

	target, ok := s.b.registry.Lookup(env.ReceiverID)
	if !ok {
		s.log.Debug().Int64("receiver_id", env.ReceiverID).Str("type", string(env.Type)).Msg("receiver offline, dropping")
		return
	}
	if target.Send(env) {
		s.log.Warn().Int64("receiver_id", env.ReceiverID).Msg("receiver outbox full, dropped oldest envelope")
	}
}

func (s *session) reply(env *proto.Envelope) {
	s.conn.Send(env)
}

func (s *session) writeLoop() error {
	var pings <-chan time.Time
	if s.b.opts.PingInterval > 0 {
		ticker := time.NewTicker(s.b.opts.PingInterval)
		defer ticker.Stop()
		pings = ticker.C
	}

	box := s.conn.Outbox()
	for {
		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		case <-box.Done():
			return nil
		case <-box.Ready():
			for {
				env, ok := box.Pop()
				if !ok {
					break
				}
				if err := s.write(s.ctx, env); err != nil {
					s.log.Error().Err(err).Str("type", string(env.Type)).Msg("write ws envelope")
					return err
				}
			}
		case <-pings:
			ctx, cancel := context.WithTimeout(s.ctx, s.b.opts.PingInterval)
			err := s.ws.Ping(ctx)
			cancel()
			if err != nil {
				s.log.Info().Err(err).Msg("heartbeat failed")
				return err
			}
		}
	}
}

// cleanup runs once per authenticated connection, whichever worker fails first.
func (s *session) cleanup(err error) {
	s.cleanupOnce.Do(func() {
		status := websocket.StatusNormalClosure
		reason := "closing"

		switch {
		case s.closing.Load():
			// closed locally: evicted, unregistered or broker stopping
		case err == nil, errors.Is(err, errClientDisconnect), errors.Is(err, io.EOF), errors.Is(err, context.Canceled):
		case websocket.CloseStatus(err) == websocket.StatusNormalClosure, websocket.CloseStatus(err) == websocket.StatusGoingAway:
		default:
			status = websocket.StatusInternalError
			reason = "connection error"
			s.log.Warn().Err(err).Msg("ws connection closed with error")
		}

		removed := s.b.registry.Remove(s.conn)
		s.close(status, reason)
		_ = s.conn.Close(reason)
		s.state = stateClosed

		s.log.Info().Bool("unregistered", removed).Msg("client disconnected")
	})
}

// evict starts the close handshake in the background and returns at once. A peer that
// stopped reading would otherwise hold the caller for the whole close timeout, and the
// caller is the replacement connection's handshake.
func (s *session) evict(reason string) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		go func() {
			if err := s.ws.Close(websocket.StatusPolicyViolation, reason); err != nil {
				s.b.log.Debug().Err(err).Str("reason", reason).Msg("ws close")
			}
			s.cancel()
		}()
	})
}

// close closes the socket once and stops both workers. It may be called from other
// sessions' goroutines, so it must not touch per-worker state.
func (s *session) close(status websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		if err := s.ws.Close(status, reason); err != nil {
			s.b.log.Debug().Err(err).Str("reason", reason).Msg("ws close")
		}
		s.cancel()
	})
}

func (s *session) readEnvelope(ctx context.Context) (*proto.Envelope, error) {
	_, frame, err := s.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	return proto.Decode(frame)
}

// writeDirect writes outside the outbox; only used before the writer starts.
func (s *session) writeDirect(env *proto.Envelope) error {
	return s.write(s.ctx, env)
}

func (s *session) write(ctx context.Context, env *proto.Envelope) error {
	data, err := proto.Encode(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.b.opts.WriteTimeout)
	defer cancel()
	return s.ws.Write(ctx, websocket.MessageText, data)
}
