package api

import (
	"container/list"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// SSEConnection represents a single SSE client connection.
type SSEConnection struct {
	ID          int64
	UserID      string
	SessionID   string
	EventID     int64
	ConnectedAt time.Time
	LastEventID int64
	Writer      http.ResponseWriter
	Flusher     http.Flusher
	Done        chan struct{}
	mu          sync.Mutex
	closeOnce   sync.Once
}

// Close signals the stream handler to return. It is safe to call twice.
func (c *SSEConnection) Close() {
	c.closeOnce.Do(func() { close(c.Done) })
}

// SSEMessageQueue buffers events for reconnecting clients, sharded per
// session so one tab's burst cannot evict another tab's events.
type SSEMessageQueue struct {
	mu      sync.RWMutex
	queues  map[string]*list.List // sessionKey (userID:sessionID) -> messages
	maxSize int
}

// QueuedMessage is one replayable event.
type QueuedMessage struct {
	EventID   int64
	UserID    string
	SessionID string
	Event     string
	Data      string
	Timestamp time.Time
}

// NewSSEMessageQueue creates a new per-session message queue.
func NewSSEMessageQueue(maxSize int) *SSEMessageQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &SSEMessageQueue{
		queues:  make(map[string]*list.List),
		maxSize: maxSize,
	}
}

// Enqueue adds an event to the per-session queue.
func (q *SSEMessageQueue) Enqueue(msg *QueuedMessage) {
	key := sseSessionKey(msg.UserID, msg.SessionID)
	q.mu.Lock()
	defer q.mu.Unlock()

	l, ok := q.queues[key]
	if !ok {
		l = list.New()
		q.queues[key] = l
	}
	l.PushBack(msg)
	for l.Len() > q.maxSize {
		l.Remove(l.Front())
	}
}

// GetMissedMessages retrieves events after a specific event ID for a session.
func (q *SSEMessageQueue) GetMissedMessages(userID, sessionID string, afterEventID int64) []*QueuedMessage {
	key := sseSessionKey(userID, sessionID)
	q.mu.RLock()
	defer q.mu.RUnlock()

	l, ok := q.queues[key]
	if !ok {
		return nil
	}
	var missed []*QueuedMessage
	for e := l.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

// pending returns the number of queued events for a session.
func (q *SSEMessageQueue) pending(userID, sessionID string) int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if l, ok := q.queues[sseSessionKey(userID, sessionID)]; ok {
		return l.Len()
	}
	return 0
}

// Prune drops the queue for a session once the session is gone.
func (q *SSEMessageQueue) Prune(userID, sessionID string) {
	key := sseSessionKey(userID, sessionID)
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.queues, key)
}

func sseSessionKey(userID, sessionID string) string {
	return userID + ":" + sessionID
}

// RateLimiter implements a per-user rate limiter.
// The key is userID only, not userID:sessionID, so clients cannot bypass
// throttling by rotating session IDs.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

// startEviction periodically removes expired keys so the map does not grow
// without bound.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.evict(time.Now())
			}
		}
	}()
}

func (r *RateLimiter) evict(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := now.Add(-r.window)
	for key, times := range r.requests {
		var fresh []time.Time
		for _, t := range times {
			if t.After(cutoff) {
				fresh = append(fresh, t)
			}
		}
		if len(fresh) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = fresh
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
