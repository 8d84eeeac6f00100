// Package session holds per-user in-flight conversation state. Sessions
// live only for the lifetime of the process; a restart drops them all.
package session

import (
	"sync"

	"telegram-receipt-bot/internal/model"
)

// Store keeps at most one active session per user. Put overwrites
// silently: a new photo or /add always supersedes an unfinished flow.
type Store struct {
	mu       sync.Mutex
	sessions map[int64]*model.Session
	epoch    uint64
}

func NewStore() *Store {
	return &Store{sessions: make(map[int64]*model.Session)}
}

// Get returns the user's active session, or nil.
func (s *Store) Get(userID int64) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[userID]
}

// Put installs sess as the user's active session and stamps it with a
// fresh epoch. Any async work started against the previous session sees
// a stale epoch and discards its result.
func (s *Store) Put(userID int64, sess *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	sess.Epoch = s.epoch
	s.sessions[userID] = sess
}

// Clear removes the user's session, if any.
func (s *Store) Clear(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Current reports whether sess is still the user's active session.
func (s *Store) Current(userID int64, sess *model.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[userID]
	return ok && cur.Epoch == sess.Epoch
}

// With runs one conversation turn under the store lock. fn receives the
// user's active session (nil when there is none) and returns the session
// that should be active afterwards: the same pointer keeps it, a new
// pointer is stamped with a fresh epoch and installed, nil clears it.
// Turns serialize against each other and against async Update calls, so
// fn may read and mutate the session freely; it must not call back into
// the store.
func (s *Store) With(userID int64, fn func(cur *model.Session) *model.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.sessions[userID]
	next := fn(cur)
	switch {
	case next == nil:
		delete(s.sessions, userID)
	case next != cur:
		s.epoch++
		next.Epoch = s.epoch
		s.sessions[userID] = next
	}
}

// Update runs fn on the user's session under the store lock, but only
// if sess is still the active one. Async work uses this so a result
// computed for a cancelled or replaced session is dropped instead of
// applied.
func (s *Store) Update(userID int64, sess *model.Session, fn func(*model.Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[userID]
	if !ok || cur.Epoch != sess.Epoch {
		return false
	}
	fn(cur)
	return true
}
