package interview

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const ttlWorkerInterval = time.Minute

// SessionFactory builds a new session for a user tab.
type SessionFactory func(userID, sessionID string) (*Session, error)

// CleanupCallback is called after the TTL worker tears a session down.
type CleanupCallback func(userID, sessionID string)

// Manager keeps one session per user tab.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	factory  SessionFactory
	logger   *slog.Logger
}

// NewManager creates an empty registry.
func NewManager(factory SessionFactory, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		logger:   logger,
	}
}

func sessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// GetOrCreate returns the tab's session, creating it when absent. The bool
// reports whether a new session was created.
func (m *Manager) GetOrCreate(userID, sessionID string) (*Session, bool, error) {
	key := sessionKey(userID, sessionID)
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s, false, nil
	}
	s, err := m.factory(userID, sessionID)
	if err != nil {
		return nil, false, err
	}
	m.sessions[key] = s
	m.logger.Info("Interview session registered", "user_id", userID, "session_id", sessionID)
	return s, true, nil
}

// Get returns the tab's session or nil.
func (m *Manager) Get(userID, sessionID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[sessionKey(userID, sessionID)]
}

// Remove tears down and forgets the tab's session. It reports whether a
// session existed.
func (m *Manager) Remove(userID, sessionID string) bool {
	key := sessionKey(userID, sessionID)
	m.mu.Lock()
	s, ok := m.sessions[key]
	delete(m.sessions, key)
	m.mu.Unlock()

	if !ok {
		return false
	}
	if err := s.Close(); err != nil {
		m.logger.Debug("session close reported error", "user_id", userID, "session_id", sessionID, "error", err)
	}
	m.logger.Info("Interview session removed", "user_id", userID, "session_id", sessionID)
	return true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// CloseAll tears down every session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if err := s.Close(); err != nil {
			m.logger.Debug("session close reported error", "user_id", s.UserID(), "session_id", s.ID(), "error", err)
		}
	}
}

// StartTTLWorker periodically tears down sessions idle for longer than ttl.
// Busy sessions are never swept.
func (m *Manager) StartTTLWorker(ctx context.Context, ttl time.Duration, onCleanup CleanupCallback) {
	interval := min(ttlWorkerInterval, ttl)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		m.logger.Info("TTL worker started", "interval", interval, "ttl", ttl)

		for {
			select {
			case <-ticker.C:
				m.sweep(time.Now(), ttl, onCleanup)
			case <-ctx.Done():
				m.logger.Info("TTL worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
}

func (m *Manager) sweep(now time.Time, ttl time.Duration, onCleanup CleanupCallback) int {
	m.mu.Lock()
	var expired []*Session
	for key, s := range m.sessions {
		if s.inUse() {
			continue
		}
		if now.Sub(s.LastActive()) > ttl {
			expired = append(expired, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	if len(expired) == 0 {
		return 0
	}
	m.logger.Info("TTL worker found expired sessions", "count", len(expired))

	for _, s := range expired {
		if err := s.Close(); err != nil {
			m.logger.Debug("session close reported error", "user_id", s.UserID(), "session_id", s.ID(), "error", err)
		}
		if onCleanup != nil {
			onCleanup(s.UserID(), s.ID())
		}
	}
	m.logger.Info("TTL worker cleanup completed", "cleaned", len(expired))
	return len(expired)
}
