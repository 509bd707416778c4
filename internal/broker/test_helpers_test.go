package broker

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/taskchat/internal/proto"
	"github.com/vovakirdan/taskchat/internal/registry"
)

func startTestBroker(t *testing.T, verifier Verifier, opts Options) (*Broker, string) {
	t.Helper()

	b := New(registry.New(64, nil), verifier, opts, nil)
	ts := httptest.NewServer(b)
	t.Cleanup(ts.Close)
	t.Cleanup(b.Stop)

	return b, strings.Replace(ts.URL, "http", "ws", 1)
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func dial(t *testing.T, ctx context.Context, url string) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, env *proto.Envelope) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, env); err != nil {
		t.Fatalf("write %s: %v", env.Type, err)
	}
}

func readEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn) *proto.Envelope {
	t.Helper()

	var env proto.Envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return &env
}

func mustEnvelope(t *testing.T, ctx context.Context, conn *websocket.Conn, typ proto.MessageType) *proto.Envelope {
	t.Helper()

	env := readEnvelope(t, ctx, conn)
	if env.Type != typ {
		t.Fatalf("expected %s, got %s (%s)", typ, env.Type, env.Data)
	}
	return env
}

// connectUser dials and completes the CONNECT handshake.
func connectUser(t *testing.T, ctx context.Context, url string, userID int64, username string, isAdmin bool) *websocket.Conn {
	t.Helper()

	conn := dial(t, ctx, url)
	send(t, ctx, conn, proto.NewConnect(proto.ConnectData{UserID: userID, Username: username, IsAdmin: isAdmin}))
	mustEnvelope(t, ctx, conn, proto.TypeConnectionAck)
	return conn
}

func mustText(t *testing.T, env *proto.Envelope) string {
	t.Helper()

	text, err := env.Text()
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	return text
}

// readUntilClosed reads in the background so close handshakes complete promptly.
func readUntilClosed(ctx context.Context, conn *websocket.Conn) <-chan error {
	done := make(chan error, 1)
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				done <- err
				return
			}
		}
	}()
	return done
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}
