package http

import (
	"bytes"
	"context"
	"encoding/json"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/broker"
	"github.com/vovakirdan/taskchat/internal/config"
	"github.com/vovakirdan/taskchat/internal/registry"
	"github.com/vovakirdan/taskchat/internal/store"
	"github.com/vovakirdan/taskchat/internal/store/sqlite"
)

type testEnv struct {
	server *stdhttp.Server
	broker *broker.Broker
	store  store.Store
	auth   *auth.Service
}

// createTestStore creates an in-memory SQLite store with schema applied.
func createTestStore(t *testing.T) store.Store {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

// createTestAuthService creates an auth service for testing.
func createTestAuthService(t *testing.T, st store.Store, jwtSecret string) *auth.Service {
	t.Helper()

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(jwtSecret),
		Issuer:   "test",
		Audience: "test",
		TTL:      24 * time.Hour,
	}

	return auth.NewService(st, jwtConfig)
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		MaxMessageBytes:   1 << 20,
		JWTSecret:         "test-secret",
		LoginRateLimit:    100,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	disabledLogger := zerolog.Nop()
	st := createTestStore(t)
	authService := createTestAuthService(t, st, cfg.JWTSecret)
	b := broker.New(registry.New(16, &disabledLogger), authService, broker.Options{}, &disabledLogger)
	t.Cleanup(b.Stop)

	return &testEnv{
		server: NewServer(b, authService, st, &cfg, &disabledLogger),
		broker: b,
		store:  st,
		auth:   authService,
	}
}

func (e *testEnv) createUser(t *testing.T, username string, isAdmin bool) (*store.User, string) {
	t.Helper()

	user, err := e.auth.CreateUser(context.Background(), username, "password123", isAdmin)
	if err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	token, err := e.auth.IssueToken(user)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&payload).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &payload)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp := httptest.NewRecorder()
	e.server.Handler.ServeHTTP(resp, req)
	return resp
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder, v any) {
	t.Helper()

	if err := json.Unmarshal(resp.Body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", resp.Body.String(), err)
	}
}
