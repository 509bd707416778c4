package client

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/taskchat/internal/proto"
)

// Listener receives client events. Implementations must be comparable (usually pointers)
// since registration is keyed by identity.
type Listener interface {
	OnMessageReceived(env *proto.Envelope)
	OnConnected()
	OnDisconnected()
	OnError(err error)
}

// ListenerFuncs adapts plain functions to Listener. Nil fields are skipped.
// Register it by pointer.
type ListenerFuncs struct {
	Message      func(env *proto.Envelope)
	Connected    func()
	Disconnected func()
	Error        func(err error)
}

func (f *ListenerFuncs) OnMessageReceived(env *proto.Envelope) {
	if f.Message != nil {
		f.Message(env)
	}
}

func (f *ListenerFuncs) OnConnected() {
	if f.Connected != nil {
		f.Connected()
	}
}

func (f *ListenerFuncs) OnDisconnected() {
	if f.Disconnected != nil {
		f.Disconnected()
	}
}

func (f *ListenerFuncs) OnError(err error) {
	if f.Error != nil {
		f.Error(err)
	}
}

// Registration is the handle returned by AddMessageListener.
type Registration struct {
	list *listenerSet
	l    Listener
	once sync.Once
}

// Remove unregisters the listener. It is safe to call more than once and from
// inside a listener callback.
func (r *Registration) Remove() {
	r.once.Do(func() {
		r.list.remove(r.l)
	})
}

// listenerSet is an ordered set of listeners. Dispatch works on a snapshot so
// callbacks may add or remove listeners.
type listenerSet struct {
	mu   sync.Mutex
	list []Listener
	log  *zerolog.Logger
}

func (s *listenerSet) add(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.list {
		if existing == l {
			return false
		}
	}
	s.list = append(s.list, l)
	return true
}

func (s *listenerSet) remove(l Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.list {
		if existing == l {
			// copy so snapshots handed out earlier stay intact
			next := make([]Listener, 0, len(s.list)-1)
			next = append(next, s.list[:i]...)
			s.list = append(next, s.list[i+1:]...)
			return true
		}
	}
	return false
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list
}

func (s *listenerSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.list)
}

// each calls fn for every listener in registration order. A panicking listener is
// logged and skipped.
func (s *listenerSet) each(event string, fn func(Listener)) {
	for _, l := range s.snapshot() {
		s.call(event, l, fn)
	}
}

func (s *listenerSet) call(event string, l Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event", event).Msg("listener panicked")
		}
	}()
	fn(l)
}
