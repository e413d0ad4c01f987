package interview

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ashureev/checkin/internal/domain"
)

func testFactory(t *testing.T) SessionFactory {
	t.Helper()
	return func(userID, sessionID string) (*Session, error) {
		st := &scriptedStreamer{}
		st.push(done())
		return NewSession(SessionConfig{UserID: userID, SessionID: sessionID}, SessionDeps{Streamer: st}), nil
	}
}

func TestManagerGetOrCreate(t *testing.T) {
	t.Parallel()

	m := NewManager(testFactory(t), nil)
	a, created, err := m.GetOrCreate("user-1", "tab-1")
	if err != nil || !created {
		t.Fatalf("expected new session, got created=%v err=%v", created, err)
	}
	b, created, err := m.GetOrCreate("user-1", "tab-1")
	if err != nil || created || a != b {
		t.Fatalf("expected same session, got created=%v err=%v", created, err)
	}
	if _, created, _ := m.GetOrCreate("user-1", "tab-2"); !created {
		t.Fatal("each tab gets its own session")
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sessions, got %d", m.Len())
	}

	if !m.Remove("user-1", "tab-1") {
		t.Fatal("expected Remove to find the session")
	}
	if m.Get("user-1", "tab-1") != nil {
		t.Fatal("removed session still registered")
	}
	if err := a.Submit(context.Background(), "hi"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected removed session to be closed, got %v", err)
	}
}

func TestManagerFactoryError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	m := NewManager(func(string, string) (*Session, error) { return nil, boom }, nil)
	if _, _, err := m.GetOrCreate("u", "s"); !errors.Is(err, boom) {
		t.Fatalf("expected factory error, got %v", err)
	}
	if m.Len() != 0 {
		t.Fatal("failed session must not be registered")
	}
}

func TestManagerSweepsIdleSessions(t *testing.T) {
	t.Parallel()

	m := NewManager(testFactory(t), nil)
	idle, _, _ := m.GetOrCreate("user-1", "idle")
	fresh, _, _ := m.GetOrCreate("user-1", "fresh")
	if err := fresh.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	var cleaned []string
	now := fresh.LastActive().Add(30 * time.Minute)
	idle.mu.Lock()
	idle.lastActive = now.Add(-2 * time.Hour)
	idle.mu.Unlock()

	n := m.sweep(now, time.Hour, func(_, sessionID string) { cleaned = append(cleaned, sessionID) })
	if n != 1 || len(cleaned) != 1 || cleaned[0] != "idle" {
		t.Fatalf("expected only idle to be swept, got %d %v", n, cleaned)
	}
	if m.Get("user-1", "fresh") == nil {
		t.Fatal("fresh session was swept")
	}
	if got := idle.Snapshot().Stage; got != domain.StageMood {
		t.Fatalf("swept session snapshot still readable, got stage %q", got)
	}
}

func TestManagerCloseAll(t *testing.T) {
	t.Parallel()

	m := NewManager(testFactory(t), nil)
	s, _, _ := m.GetOrCreate("user-1", "tab-1")
	m.CloseAll()
	if m.Len() != 0 {
		t.Fatal("expected empty registry")
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}
