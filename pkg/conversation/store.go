// Copyright 2026 Jeff Vestal
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package conversation keeps per-session chat state: transcripts and
// the continuation identifiers that thread multi-turn tool servers.
package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jeffvestal/portfolio-pilot-ai/pkg/llm"
)

const (
	// DefaultMaxSessions bounds live sessions; creating past the bound
	// evicts the least recently active session.
	DefaultMaxSessions = 100

	// DefaultTimeout is how long an idle session survives.
	DefaultTimeout = time.Hour
)

// Session is one chat conversation. Fields are owned by the Store and
// must only be touched through it.
type Session struct {
	ID         string
	CreatedAt  time.Time
	LastActive time.Time

	messages []llm.Message

	// continuations maps server ID to that server's opaque
	// continuation identifier for this conversation.
	continuations map[string]string
}

// Store holds sessions in memory. Expiry and eviction happen
// synchronously during Create; there is no background sweeper.
type Store struct {
	maxSessions int
	timeout     time.Duration
	logger      *zap.Logger
	now         func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// Config holds store configuration.
type Config struct {
	MaxSessions int
	Timeout     time.Duration
	Logger      *zap.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// NewStore creates an empty session store.
func NewStore(config Config) *Store {
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{
		maxSessions: config.MaxSessions,
		timeout:     config.Timeout,
		logger:      config.Logger,
		now:         config.Now,
		sessions:    make(map[string]*Session),
	}
}

// Create makes a new session with a fresh UUID. Expired sessions are
// swept first; if the store is still full the least recently active
// session is evicted.
func (s *Store) Create() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.sweepLocked(now)
	for len(s.sessions) >= s.maxSessions {
		s.evictOldestLocked()
	}

	sess := &Session{
		ID:            uuid.New().String(),
		CreatedAt:     now,
		LastActive:    now,
		continuations: make(map[string]string),
	}
	s.sessions[sess.ID] = sess
	s.logger.Debug("created session", zap.String("session_id", sess.ID))
	return sess
}

// GetOrCreate returns the named session, refreshing its activity
// timestamp, or creates a new one when the ID is empty, unknown, or
// expired. The returned session's ID is authoritative.
func (s *Store) GetOrCreate(id string) *Session {
	if id != "" {
		s.mu.Lock()
		if sess, ok := s.sessions[id]; ok {
			now := s.now()
			if now.Sub(sess.LastActive) < s.timeout {
				sess.LastActive = now
				s.mu.Unlock()
				return sess
			}
			delete(s.sessions, id)
		}
		s.mu.Unlock()
	}
	return s.Create()
}

// Get returns a live session without refreshing activity.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || s.now().Sub(sess.LastActive) >= s.timeout {
		return nil, false
	}
	return sess, true
}

// Len reports the number of live sessions, sweeping expired ones.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(s.now())
	return len(s.sessions)
}

// Append adds a message to the session transcript.
func (s *Store) Append(id string, msg llm.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.messages = append(sess.messages, msg)
		sess.LastActive = s.now()
	}
}

// Messages returns a copy of the session transcript.
func (s *Store) Messages(id string) []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	out := make([]llm.Message, len(sess.messages))
	copy(out, sess.messages)
	return out
}

// SetContinuation records a server's continuation identifier.
func (s *Store) SetContinuation(id, serverID, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.continuations[serverID] = value
	}
}

// Continuation looks up a server's continuation identifier.
func (s *Store) Continuation(id, serverID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	v, ok := sess.continuations[serverID]
	return v, ok
}

func (s *Store) sweepLocked(now time.Time) {
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActive) >= s.timeout {
			delete(s.sessions, id)
			s.logger.Debug("expired session", zap.String("session_id", id))
		}
	}
}

func (s *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, sess := range s.sessions {
		if oldestID == "" || sess.LastActive.Before(oldest) {
			oldestID = id
			oldest = sess.LastActive
		}
	}
	if oldestID != "" {
		delete(s.sessions, oldestID)
		s.logger.Info("evicted session at capacity", zap.String("session_id", oldestID))
	}
}
