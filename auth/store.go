// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"sort"
	"sync"

	"github.com/bureau-foundation/partyline/lib/gate"
	"github.com/bureau-foundation/partyline/platform"
)

// Store holds at most one session per purpose together with the
// purpose's refresh gate. Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	sessions map[platform.Purpose]*Session
	gates    map[platform.Purpose]*gate.Gate
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[platform.Purpose]*Session),
		gates:    make(map[platform.Purpose]*gate.Gate),
	}
}

// Get returns the session of purpose, or nil.
func (s *Store) Get(purpose platform.Purpose) *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[purpose]
}

// Put stores session under its purpose and returns the session it
// replaced, if any.
func (s *Store) Put(session *Session) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	previous := s.sessions[session.Purpose]
	s.sessions[session.Purpose] = session
	return previous
}

// Delete removes the session of purpose and returns it.
func (s *Store) Delete(purpose platform.Purpose) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	session := s.sessions[purpose]
	delete(s.sessions, purpose)
	return session
}

// All returns every stored session ordered by purpose.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].Purpose < sessions[j].Purpose })
	return sessions
}

// Clear removes every session. Gates are kept so in-flight refreshes
// still release the gate their waiters observe.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.sessions)
}

// gate returns the refresh gate of purpose, creating it on first use.
func (s *Store) gate(purpose platform.Purpose) *gate.Gate {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.gates[purpose]
	if !ok {
		g = &gate.Gate{}
		s.gates[purpose] = g
	}
	return g
}
