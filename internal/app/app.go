package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/broker"
	"github.com/vovakirdan/taskchat/internal/config"
	"github.com/vovakirdan/taskchat/internal/registry"
	"github.com/vovakirdan/taskchat/internal/store"
	"github.com/vovakirdan/taskchat/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/taskchat/internal/transport/http"
)

var (
	// ErrAlreadyStarted is returned by Start on a running app.
	ErrAlreadyStarted = errors.New("app already started")
	// ErrNotStarted is returned by Stop before Start.
	ErrNotStarted = errors.New("app not started")
)

// App wires together the broker, storage and HTTP transport.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	broker          *broker.Broker
	store           store.Store
	log             *zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	serveErr chan error
	stopped  bool
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	opts := broker.Options{
		HandshakeTimeout: cfg.HandshakeTimeout,
		PingInterval:     cfg.PingInterval,
		MaxMessageBytes:  cfg.MaxMessageBytes,
		RequireToken:     cfg.RequireToken,
	}
	b := broker.New(registry.New(cfg.OutboxSize, logger), authService, opts, logger)

	return &App{
		server:          transporthttp.NewServer(b, authService, st, cfg, logger),
		shutdownTimeout: cfg.ShutdownTimeout,
		broker:          b,
		store:           st,
		log:             logger,
	}, nil
}

// Start binds the listen address and serves in the background.
// A nil error means the broker is accepting connections.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener != nil || a.stopped {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	a.listener = ln
	a.serveErr = make(chan error, 1)

	go func() {
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			a.serveErr <- err
			return
		}
		a.serveErr <- nil
	}()

	a.log.Info().Str("addr", ln.Addr().String()).Msg("broker listening")
	return nil
}

// Addr returns the bound address, or "" before Start.
func (a *App) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.listener == nil {
		return ""
	}
	return a.listener.Addr().String()
}

// Broker exposes the running broker.
func (a *App) Broker() *broker.Broker {
	return a.broker
}

// Stop shuts the HTTP server down, closes every live connection and releases the store.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if a.listener == nil || a.stopped {
		a.mu.Unlock()
		return ErrNotStarted
	}
	a.stopped = true
	a.mu.Unlock()

	a.log.Info().Msg("shutting down http server")
	shutdownErr := a.server.Shutdown(ctx)

	// hijacked WebSocket connections are not covered by Shutdown
	a.broker.Stop()
	a.cleanup()

	if err := <-a.serveErr; err != nil {
		return err
	}
	return shutdownErr
}

// Run starts the app and blocks until context cancellation or a fatal serve error.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(); err != nil {
		a.cleanup()
		return err
	}

	select {
	case err := <-a.serveErr:
		a.broker.Stop()
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		return a.Stop(shutdownCtx)
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
