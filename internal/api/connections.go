package api

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// VoiceConnections tracks the voice socket of each user tab.
type VoiceConnections struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
	logger *slog.Logger
}

// NewVoiceConnections creates an empty registry.
func NewVoiceConnections(logger *slog.Logger) *VoiceConnections {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceConnections{
		active: make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// GetActive returns the active connection for a user and session.
func (m *VoiceConnections) GetActive(userID, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register adds a connection, closing the one it replaces.
func (m *VoiceConnections) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[userID][sessionID] = conn
	m.logger.Info("Voice connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes a connection if it is still the registered one.
func (m *VoiceConnections) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			m.logger.Info("Voice connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession closes the tab's voice connection, if any.
func (m *VoiceConnections) CloseSession(userID, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sessions, ok := m.active[userID]
	if !ok {
		return
	}
	if conn, exists := sessions[sessionID]; exists {
		_ = conn.Close(websocket.StatusNormalClosure, "session closed")
		delete(sessions, sessionID)
		m.logger.Info("Voice connection closed", "user_id", userID, "session_id", sessionID)
	}
	if len(sessions) == 0 {
		delete(m.active, userID)
	}
}
