package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/taskchat/internal/config"
	"github.com/vovakirdan/taskchat/internal/proto"
	"github.com/vovakirdan/taskchat/internal/store"
)

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/health", "", nil)
	if resp.Code != http.StatusOK || resp.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", resp.Code, resp.Body.String())
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)
	admin, _ := env.createUser(t, "support", true)

	resp := env.do(t, http.MethodPost, "/api/login", "", LoginRequest{Username: "support", Password: "password123"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var auth AuthResponse
	decodeBody(t, resp, &auth)
	if auth.Token == "" || auth.UserID != admin.ID || !auth.IsAdmin {
		t.Fatalf("unexpected login response %+v", auth)
	}

	claims, err := env.auth.VerifyIdentity(auth.Token, admin.ID)
	if err != nil || claims.Username != "support" {
		t.Fatalf("token does not verify: %v", err)
	}

	tests := []struct {
		name string
		body any
		want int
	}{
		{name: "wrong password", body: LoginRequest{Username: "support", Password: "nope-nope"}, want: http.StatusUnauthorized},
		{name: "unknown user", body: LoginRequest{Username: "ghost", Password: "password123"}, want: http.StatusUnauthorized},
		{name: "missing fields", body: map[string]string{"username": "support"}, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := env.do(t, http.MethodPost, "/api/login", "", tt.body); resp.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestLoginRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.Config) { cfg.LoginRateLimit = 2 })
	body := LoginRequest{Username: "ghost", Password: "password123"}

	for i := range 2 {
		if resp := env.do(t, http.MethodPost, "/api/login", "", body); resp.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i, resp.Code)
		}
	}
	if resp := env.do(t, http.MethodPost, "/api/login", "", body); resp.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", resp.Code)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newTestEnv(t, nil)

	for _, path := range []string{"/api/me", "/api/admins", "/api/messages?peer=1"} {
		if resp := env.do(t, http.MethodGet, path, "", nil); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, resp.Code)
		}
		if resp := env.do(t, http.MethodGet, path, "garbage", nil); resp.Code != http.StatusUnauthorized {
			t.Fatalf("%s with bad token: expected 401, got %d", path, resp.Code)
		}
	}
}

func TestMe(t *testing.T) {
	env := newTestEnv(t, nil)
	user, token := env.createUser(t, "alice", false)

	resp := env.do(t, http.MethodGet, "/api/me", token, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var me UserResponse
	decodeBody(t, resp, &me)
	if me.ID != user.ID || me.Username != "alice" || me.IsAdmin {
		t.Fatalf("unexpected identity %+v", me)
	}
}

func TestAdminsAndPresence(t *testing.T) {
	env := newTestEnv(t, nil)
	_, aliceToken := env.createUser(t, "alice", false)
	support, supportToken := env.createUser(t, "support", true)
	env.createUser(t, "backup", true)

	ts := httptest.NewServer(env.server.Handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, strings.Replace(ts.URL, "http", "ws", 1)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	connect := proto.NewConnect(proto.ConnectData{UserID: support.ID, Username: "support", Token: supportToken})
	if err := wsjson.Write(ctx, conn, connect); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	var ack proto.Envelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil || ack.Type != proto.TypeConnectionAck {
		t.Fatalf("expected ack, got %+v (%v)", ack, err)
	}

	resp := env.do(t, http.MethodGet, "/api/admins", aliceToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	var admins []UserResponse
	decodeBody(t, resp, &admins)
	if len(admins) != 2 {
		t.Fatalf("expected two admins, got %+v", admins)
	}
	online := map[string]bool{}
	for _, a := range admins {
		online[a.Username] = a.Online
	}
	if !online["support"] || online["backup"] {
		t.Fatalf("unexpected presence %v", online)
	}

	resp = env.do(t, http.MethodGet, "/api/online", "", nil)
	var conns []ConnectionResponse
	decodeBody(t, resp, &conns)
	if len(conns) != 1 || conns[0].UserID != support.ID || !conns[0].IsAdmin || conns[0].ConnectionID == "" {
		t.Fatalf("unexpected online list %+v", conns)
	}
}

func TestHistoryAndMarkRead(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, aliceToken := env.createUser(t, "alice", false)
	support, supportToken := env.createUser(t, "support", true)

	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i, body := range []string{"one", "two", "three"} {
		msg := &store.Message{
			SenderID:   alice.ID,
			SenderName: "alice",
			ReceiverID: support.ID,
			Body:       body,
			SentAt:     base.Add(time.Duration(i) * time.Second),
			SenderRole: store.RoleUser,
		}
		if err := env.store.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	resp := env.do(t, http.MethodGet, "/api/messages?peer="+itoa(alice.ID)+"&limit=2", supportToken, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var history []MessageResponse
	decodeBody(t, resp, &history)
	if len(history) != 2 || history[0].Text != "two" || history[1].Text != "three" || history[0].IsRead {
		t.Fatalf("unexpected history %+v", history)
	}

	resp = env.do(t, http.MethodPost, "/api/messages/read?peer="+itoa(alice.ID), supportToken, nil)
	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", resp.Code)
	}

	// alice sees the same conversation, now read
	resp = env.do(t, http.MethodGet, "/api/messages?peer="+itoa(support.ID), aliceToken, nil)
	decodeBody(t, resp, &history)
	if len(history) != 3 {
		t.Fatalf("expected full history, got %d", len(history))
	}
	for _, m := range history {
		if !m.IsRead {
			t.Fatalf("message %q should be read", m.Text)
		}
	}

	for _, path := range []string{"/api/messages", "/api/messages?peer=abc", "/api/messages?peer=1&limit=-3"} {
		if resp := env.do(t, http.MethodGet, path, aliceToken, nil); resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", path, resp.Code)
		}
	}
}

func TestWebSocketRouteCompletesHandshake(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler)
	t.Cleanup(ts.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, strings.Replace(ts.URL, "http", "ws", 1)+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })

	if err := wsjson.Write(ctx, conn, proto.NewConnect(proto.ConnectData{UserID: 7, Username: "walk-in"})); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}
	var ack proto.Envelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil || ack.Type != proto.TypeConnectionAck {
		t.Fatalf("expected ack through the server handler, got %+v (%v)", ack, err)
	}
	if env.broker.Registry().Len() != 1 {
		t.Fatalf("connection not registered")
	}

	// the REST router still answers next to /ws
	if resp := env.do(t, http.MethodGet, "/health", "", nil); resp.Code != http.StatusOK {
		t.Fatalf("health behind the mux: %d", resp.Code)
	}
	if resp := env.do(t, http.MethodGet, "/nope", "", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("unknown path: expected 404, got %d", resp.Code)
	}
}

func TestArchiveSentMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	alice, aliceToken := env.createUser(t, "alice", false)
	support, supportToken := env.createUser(t, "support", true)

	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	req := ArchiveRequest{ReceiverID: support.ID, Text: "my order is late", SentAt: sentAt}

	resp := env.do(t, http.MethodPost, "/api/messages", aliceToken, req)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var stored MessageResponse
	decodeBody(t, resp, &stored)
	if stored.SenderID != alice.ID || stored.SenderName != "alice" || stored.ReceiverName != "support" || stored.SenderRole != store.RoleUser {
		t.Fatalf("unexpected archived message %+v", stored)
	}

	// a retry of the same message is not stored twice
	if resp := env.do(t, http.MethodPost, "/api/messages", aliceToken, req); resp.Code != http.StatusNoContent {
		t.Fatalf("expected status 204 for a repeat, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodGet, "/api/messages?peer="+itoa(alice.ID), supportToken, nil)
	var history []MessageResponse
	decodeBody(t, resp, &history)
	if len(history) != 1 || history[0].Text != "my order is late" || !history[0].SentAt.Equal(sentAt) {
		t.Fatalf("unexpected history %+v", history)
	}

	for name, body := range map[string]any{
		"missing receiver": map[string]any{"text": "hi", "sentAt": sentAt},
		"blank text":       ArchiveRequest{ReceiverID: support.ID, Text: "  ", SentAt: sentAt},
		"missing time":     map[string]any{"receiverId": support.ID, "text": "hi"},
	} {
		if resp := env.do(t, http.MethodPost, "/api/messages", aliceToken, body); resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
	}
	if resp := env.do(t, http.MethodPost, "/api/messages", "", req); resp.Code != http.StatusUnauthorized {
		t.Fatalf("archive without token: expected 401, got %d", resp.Code)
	}
}

func TestRateLimiterWindow(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter := newRateLimiter(1)
	limiter.now = func() time.Time { return now }

	if !limiter.allow("a") || limiter.allow("a") {
		t.Fatalf("limit of one not enforced")
	}
	if !limiter.allow("b") {
		t.Fatalf("limits must be per key")
	}

	now = now.Add(time.Minute)
	if !limiter.allow("a") {
		t.Fatalf("window should reset after a minute")
	}

	// tokens come back gradually, one every minute/limit
	two := newRateLimiter(2)
	two.now = func() time.Time { return now }
	if !two.allow("c") || !two.allow("c") || two.allow("c") {
		t.Fatalf("burst of two not enforced")
	}
	now = now.Add(31 * time.Second)
	if !two.allow("c") || two.allow("c") {
		t.Fatalf("expected exactly one token after about half a minute")
	}

	if !newRateLimiter(0).allow("a") {
		t.Fatalf("zero limit disables limiting")
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
