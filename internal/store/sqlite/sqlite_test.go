package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/taskchat/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDuplicateGuardAcceptsFirstAndFlagsSecond(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	submit := func() bool {
		dup, err := s.IsDuplicate(ctx, 1, 2, "hello", sentAt)
		if err != nil {
			t.Fatalf("IsDuplicate failed: %v", err)
		}
		if dup {
			return false
		}
		msg := &store.Message{SenderID: 1, ReceiverID: 2, Body: "hello", SentAt: sentAt}
		if err := s.SaveMessage(ctx, msg); err != nil {
			t.Fatalf("SaveMessage failed: %v", err)
		}
		if msg.ID == 0 {
			t.Fatalf("expected message id to be set")
		}
		return true
	}

	if !submit() {
		t.Fatalf("first submission must be accepted")
	}
	if submit() {
		t.Fatalf("second identical submission must be flagged as duplicate")
	}
}

func TestDuplicateGuardDistinguishesFields(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sentAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveMessage(ctx, &store.Message{SenderID: 1, ReceiverID: 2, Body: "hello", SentAt: sentAt}); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	tests := []struct {
		name     string
		sender   int64
		receiver int64
		text     string
		at       time.Time
		want     bool
	}{
		{name: "identical", sender: 1, receiver: 2, text: "hello", at: sentAt, want: true},
		{name: "same instant other zone", sender: 1, receiver: 2, text: "hello", at: sentAt.In(time.FixedZone("X", 3*3600)), want: true},
		{name: "other text", sender: 1, receiver: 2, text: "hello!", at: sentAt, want: false},
		{name: "other time", sender: 1, receiver: 2, text: "hello", at: sentAt.Add(time.Nanosecond), want: false},
		{name: "reversed pair", sender: 2, receiver: 1, text: "hello", at: sentAt, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.IsDuplicate(ctx, tt.sender, tt.receiver, tt.text, tt.at)
			if err != nil {
				t.Fatalf("IsDuplicate failed: %v", err)
			}
			if got != tt.want {
				t.Fatalf("IsDuplicate = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetMessagesAndMarkRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	seed := []store.Message{
		{SenderID: 1, ReceiverID: 2, Body: "one", SentAt: base},
		{SenderID: 2, ReceiverID: 1, Body: "two", SentAt: base.Add(time.Second), SenderRole: store.RoleAdmin},
		{SenderID: 1, ReceiverID: 3, Body: "other", SentAt: base.Add(2 * time.Second)},
		{SenderID: 1, ReceiverID: 2, Body: "three", SentAt: base.Add(3 * time.Second)},
	}
	for i := range seed {
		if err := s.SaveMessage(ctx, &seed[i]); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}

	history, err := s.GetMessages(ctx, 2, 1, 10)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	var bodies []string
	for _, m := range history {
		bodies = append(bodies, m.Body)
	}
	if len(bodies) != 3 || bodies[0] != "one" || bodies[1] != "two" || bodies[2] != "three" {
		t.Fatalf("unexpected history: %v", bodies)
	}
	if history[1].SenderRole != store.RoleAdmin || !history[1].SentAt.Equal(base.Add(time.Second)) {
		t.Fatalf("unexpected second message: %+v", history[1])
	}

	limited, err := s.GetMessages(ctx, 1, 2, 2)
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(limited) != 2 || limited[0].Body != "two" || limited[1].Body != "three" {
		t.Fatalf("limit should keep the most recent messages, got %+v", limited)
	}

	if err := s.MarkRead(ctx, 1, 2); err != nil {
		t.Fatalf("MarkRead failed: %v", err)
	}
	history, _ = s.GetMessages(ctx, 1, 2, 10)
	for _, m := range history {
		wantRead := m.SenderID == 1
		if m.IsRead != wantRead {
			t.Fatalf("message %q read=%v, want %v", m.Body, m.IsRead, wantRead)
		}
	}
}

func TestUsersAndAdmins(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, u := range []struct {
		name  string
		admin bool
	}{{"zoe", true}, {"alice", false}, {"bob", true}} {
		if _, err := s.CreateUser(ctx, u.name, "hash", u.admin); err != nil {
			t.Fatalf("create %s: %v", u.name, err)
		}
	}

	admins, err := s.ListAdmins(ctx)
	if err != nil {
		t.Fatalf("ListAdmins failed: %v", err)
	}
	if len(admins) != 2 || admins[0].Username != "bob" || admins[1].Username != "zoe" {
		t.Fatalf("unexpected admins: %+v", admins)
	}

	alice, err := s.GetUserByUsername(ctx, "alice")
	if err != nil || alice.IsAdmin {
		t.Fatalf("unexpected alice: %+v err=%v", alice, err)
	}
	if _, err := s.GetUserByID(ctx, 999); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
