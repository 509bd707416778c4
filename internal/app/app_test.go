package app

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/client"
	"github.com/vovakirdan/taskchat/internal/config"
	"github.com/vovakirdan/taskchat/internal/proto"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.DatabasePath = filepath.Join(t.TempDir(), "taskchat.db")
	cfg.ShutdownTimeout = time.Second
	return &cfg
}

func newTestApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()

	logger := zerolog.Nop()
	a, err := New(cfg, &logger)
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a
}

func TestStartServesHealthAndBroker(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() {
		if err := a.Stop(context.Background()); err != nil {
			t.Errorf("stop: %v", err)
		}
	}()

	if err := a.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second start: expected ErrAlreadyStarted, got %v", err)
	}

	resp, err := http.Get("http://" + a.Addr() + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("unexpected health body %q", body)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws://" + a.Addr() + "/ws"
	alice := client.New(client.Options{URL: url}, nil)
	bob := client.New(client.Options{URL: url}, nil)
	if !alice.Connect(ctx, 1, "alice", false) || !bob.Connect(ctx, 2, "bob", true) {
		t.Fatalf("connect failed")
	}
	defer alice.Disconnect()
	defer bob.Disconnect()

	got := make(chan *proto.Envelope, 1)
	bob.AddMessageListener(&client.ListenerFuncs{Message: func(env *proto.Envelope) { got <- env }})

	if err := alice.SendChatMessage(ctx, "hello", 2); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case env := <-got:
		if text, _ := env.Text(); text != "hello" || env.SenderID != 1 {
			t.Fatalf("unexpected envelope %+v", env)
		}
	case <-ctx.Done():
		t.Fatalf("message not delivered")
	}
}

func TestStartFailsWhenAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	cfg := testConfig(t)
	cfg.Addr = ln.Addr().String()
	a := newTestApp(t, cfg)
	t.Cleanup(a.cleanup)

	if err := a.Start(); err == nil {
		t.Fatalf("expected start to fail on a busy port")
	}
	if err := a.Stop(context.Background()); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestStopClosesLiveConnections(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	if err := a.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := client.New(client.Options{URL: "ws://" + a.Addr() + "/ws"}, nil)
	down := make(chan struct{}, 1)
	c.AddMessageListener(&client.ListenerFuncs{Disconnected: func() { down <- struct{}{} }})
	if !c.Connect(ctx, 1, "alice", false) {
		t.Fatalf("connect failed")
	}

	if err := a.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	select {
	case <-down:
	case <-ctx.Done():
		t.Fatalf("client not notified of shutdown")
	}
	if a.Broker().Registry().Len() != 0 {
		t.Fatalf("registry should be empty after stop")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a := newTestApp(t, testConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if a.Addr() == "" {
		t.Fatalf("app did not start")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("run did not return after cancel")
	}
}
