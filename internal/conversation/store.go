// Package conversation maintains per-session context windows: an ordered,
// size-bounded sequence of (utterance, resolved intent) pairs.
package conversation

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/intent-dispatch/internal/types"
)

type session struct {
	mu       sync.Mutex
	turns    []types.Turn
	lastSeen time.Time
}

// Store owns all active conversation contexts. Turns for one session are
// applied in arrival order; sessions idle past the configured timeout are
// garbage-collected.
type Store struct {
	mu          sync.RWMutex
	sessions    map[string]*session
	windowSize  int
	idleTimeout time.Duration
	logger      *logrus.Logger

	gcStop   chan struct{}
	stopOnce sync.Once
}

// NewStore creates a conversation store. windowSize bounds the turns kept
// per session; idleTimeout controls session GC.
func NewStore(windowSize int, idleTimeout time.Duration, logger *logrus.Logger) *Store {
	if windowSize <= 0 {
		windowSize = 10
	}
	if idleTimeout <= 0 {
		idleTimeout = 30 * time.Minute
	}

	s := &Store{
		sessions:    make(map[string]*session),
		windowSize:  windowSize,
		idleTimeout: idleTimeout,
		logger:      logger,
		gcStop:      make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

// Append records the newest turn for a session, evicting the oldest once
// the window bound is exceeded.
func (s *Store) Append(sessionID, utterance, intent string) {
	sess := s.getOrCreate(sessionID)

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.turns = append(sess.turns, types.Turn{
		Utterance: utterance,
		Intent:    intent,
		Timestamp: time.Now(),
	})
	if len(sess.turns) > s.windowSize {
		sess.turns = sess.turns[len(sess.turns)-s.windowSize:]
	}
	sess.lastSeen = time.Now()
}

// Window returns a copy of the session's recent turns, most-recent-last.
// An unknown session yields an empty window.
func (s *Store) Window(sessionID string) []types.Turn {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	out := make([]types.Turn, len(sess.turns))
	copy(out, sess.turns)
	return out
}

// LastIntent returns the most recently resolved intent for a session, used
// as the coarse context signature in fingerprinting. Empty for a fresh
// session.
func (s *Store) LastIntent(sessionID string) string {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return ""
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if len(sess.turns) == 0 {
		return ""
	}
	return sess.turns[len(sess.turns)-1].Intent
}

// NextTurn returns the turn index the next utterance in this session will
// occupy.
func (s *Store) NextTurn(sessionID string) int {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return 0
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return len(sess.turns)
}

// ActiveSessions reports the number of live contexts.
func (s *Store) ActiveSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close stops the GC loop.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.gcStop) })
}

func (s *Store) getOrCreate(sessionID string) *session {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if ok {
		return sess
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok = s.sessions[sessionID]; ok {
		return sess
	}
	sess = &session{lastSeen: time.Now()}
	s.sessions[sessionID] = sess
	return sess
}

func (s *Store) gcLoop() {
	interval := s.idleTimeout / 2
	if interval > 5*time.Minute {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.evictIdle()
		case <-s.gcStop:
			return
		}
	}
}

func (s *Store) evictIdle() {
	cutoff := time.Now().Add(-s.idleTimeout)
	var evicted int

	s.mu.Lock()
	for id, sess := range s.sessions {
		sess.mu.Lock()
		idle := sess.lastSeen.Before(cutoff)
		sess.mu.Unlock()
		if idle {
			delete(s.sessions, id)
			evicted++
		}
	}
	s.mu.Unlock()

	if evicted > 0 {
		s.logger.WithField("count", evicted).Debug("Evicted idle conversation contexts")
	}
}
