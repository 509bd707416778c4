// Package session describes the locally signed-in user on the client side.
package session

import (
	"sync"

	"github.com/vovakirdan/taskchat/internal/auth"
	"github.com/vovakirdan/taskchat/internal/store"
)

// Identity answers who the local user is.
type Identity interface {
	CurrentUserID() int64
	CurrentUsername() string
	IsAdmin() bool
}

// Static is a mutable in-memory Identity. The zero value is signed out.
type Static struct {
	mu       sync.RWMutex
	userID   int64
	username string
	isAdmin  bool
}

// NewStatic returns an identity for the given user.
func NewStatic(userID int64, username string, isAdmin bool) *Static {
	return &Static{userID: userID, username: username, isAdmin: isAdmin}
}

// FromClaims builds an identity from a verified token.
func FromClaims(c *auth.Claims) *Static {
	return NewStatic(c.UserID, c.Username, c.IsAdmin)
}

// FromUser builds an identity from a stored user.
func FromUser(u *store.User) *Static {
	return NewStatic(u.ID, u.Username, u.IsAdmin)
}

// Set replaces the signed-in user.
func (s *Static) Set(userID int64, username string, isAdmin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID, s.username, s.isAdmin = userID, username, isAdmin
}

// Clear signs the user out.
func (s *Static) Clear() {
	s.Set(0, "", false)
}

func (s *Static) CurrentUserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *Static) CurrentUsername() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *Static) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

// SignedIn reports whether a user is set.
func SignedIn(id Identity) bool {
	return id != nil && id.CurrentUserID() > 0
}
