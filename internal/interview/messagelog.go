package interview

import (
	"container/list"
	"errors"
	"sync"
	"time"

	"github.com/ashureev/checkin/internal/domain"
	"github.com/google/uuid"
)

// ErrNoTurnInFlight is returned when content arrives with no assistant turn
// streaming.
var ErrNoTurnInFlight = errors.New("no assistant turn in flight")

// LogEventKind describes a message log mutation.
type LogEventKind string

const (
	// LogTurnAppended is emitted when a new turn joins the log.
	LogTurnAppended LogEventKind = "turn_appended"
	// LogTurnUpdated is emitted when the in-flight turn's content changes.
	LogTurnUpdated LogEventKind = "turn_updated"
	// LogTurnFinished is emitted when the in-flight turn stops streaming.
	LogTurnFinished LogEventKind = "turn_finished"
)

// LogEvent is one mutation notification. Turn is a copy taken at the time
// of the mutation.
type LogEvent struct {
	Kind       LogEventKind `json:"kind"`
	Turn       domain.Turn  `json:"turn"`
	AutoScroll bool         `json:"auto_scroll"`
}

// MessageLog is the ordered, append-only record of an interview.
// At most one assistant turn is in flight; only that turn's content changes.
type MessageLog struct {
	mu       sync.Mutex
	turns    []domain.Turn
	inFlight int
	subs     map[int]*Subscription
	nextSub  int
	closed   bool
	now      func() time.Time
}

// NewMessageLog creates an empty log.
func NewMessageLog() *MessageLog {
	return &MessageLog{
		inFlight: -1,
		subs:     make(map[int]*Subscription),
		now:      time.Now,
	}
}

// AppendUser records a user turn.
func (l *MessageLog) AppendUser(text string) domain.Turn {
	return l.append(domain.RoleUser, text)
}

// AppendAssistantPlaceholder records an empty assistant turn and marks it in
// flight. A previous in-flight turn is finished first.
func (l *MessageLog) AppendAssistantPlaceholder() domain.Turn {
	l.Finish()
	return l.append(domain.RoleAssistant, "")
}

func (l *MessageLog) append(role domain.Role, content string) domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	turn := domain.Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Timestamp: l.now().UTC(),
	}
	l.turns = append(l.turns, turn)
	if role == domain.RoleAssistant {
		l.inFlight = len(l.turns) - 1
	}
	l.publishLocked(LogEvent{Kind: LogTurnAppended, Turn: turn, AutoScroll: true})
	return turn
}

// AppendContent adds a streamed delta to the in-flight turn. Auto-scroll is
// suppressed while content is streaming.
func (l *MessageLog) AppendContent(delta string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight < 0 {
		return ErrNoTurnInFlight
	}
	l.turns[l.inFlight].Content += delta
	l.publishLocked(LogEvent{Kind: LogTurnUpdated, Turn: l.turns[l.inFlight]})
	return nil
}

// ReplaceContent overwrites the in-flight turn's content.
func (l *MessageLog) ReplaceContent(content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight < 0 {
		return ErrNoTurnInFlight
	}
	l.turns[l.inFlight].Content = content
	l.publishLocked(LogEvent{Kind: LogTurnUpdated, Turn: l.turns[l.inFlight], AutoScroll: true})
	return nil
}

// Finish ends the in-flight turn, if any.
func (l *MessageLog) Finish() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.inFlight < 0 {
		return
	}
	turn := l.turns[l.inFlight]
	l.inFlight = -1
	l.publishLocked(LogEvent{Kind: LogTurnFinished, Turn: turn, AutoScroll: true})
}

// InFlight reports whether an assistant turn is streaming.
func (l *MessageLog) InFlight() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inFlight >= 0
}

// Turns returns a copy of every turn in order.
func (l *MessageLog) Turns() []domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.Turn(nil), l.turns...)
}

// History returns a copy of the last n turns.
func (l *MessageLog) History(n int) []domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n <= 0 {
		return nil
	}
	start := max(len(l.turns)-n, 0)
	return append([]domain.Turn(nil), l.turns[start:]...)
}

// Len returns the number of turns.
func (l *MessageLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// Subscribe registers for mutation events. Every event published after
// Subscribe returns is delivered in order; a slow reader queues events
// instead of losing them or stalling the stream.
func (l *MessageLog) Subscribe() *Subscription {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub := newSubscription()
	if l.closed {
		sub.detach()
		return sub
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = sub
	sub.unregister = func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
	return sub
}

// Close ends every subscription. Queued events are still delivered before
// each channel closes. The turns stay readable.
func (l *MessageLog) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	for id, sub := range l.subs {
		delete(l.subs, id)
		sub.detach()
	}
}

func (l *MessageLog) publishLocked(ev LogEvent) {
	for _, sub := range l.subs {
		sub.push(ev)
	}
}

// Subscription is one reader of a message log. Events are buffered in an
// unbounded FIFO and forwarded to Events by a dedicated goroutine.
type Subscription struct {
	out    chan LogEvent
	wake   chan struct{}
	cancel chan struct{}

	mu       sync.Mutex
	queue    *list.List
	detached bool

	unregister func()
	cancelOnce sync.Once
	detachOnce sync.Once
}

func newSubscription() *Subscription {
	sub := &Subscription{
		out:        make(chan LogEvent),
		wake:       make(chan struct{}, 1),
		cancel:     make(chan struct{}),
		queue:      list.New(),
		unregister: func() {},
	}
	go sub.run()
	return sub
}

// Events returns the ordered event stream. It is closed after Detach once
// the queue is empty, or right away after Cancel.
func (s *Subscription) Events() <-chan LogEvent {
	return s.out
}

// Detach stops the subscription from receiving new events. Events already
// queued are still delivered, then Events is closed.
func (s *Subscription) Detach() {
	s.unregister()
	s.detach()
}

// Cancel abandons the subscription. Queued events are discarded and
// Events is closed. Safe to call more than once and after Detach.
func (s *Subscription) Cancel() {
	s.unregister()
	s.cancelOnce.Do(func() { close(s.cancel) })
}

func (s *Subscription) detach() {
	s.detachOnce.Do(func() {
		s.mu.Lock()
		s.detached = true
		s.mu.Unlock()
		s.signal()
	})
}

func (s *Subscription) push(ev LogEvent) {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return
	}
	s.queue.PushBack(ev)
	s.mu.Unlock()
	s.signal()
}

func (s *Subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) run() {
	defer close(s.out)
	for {
		s.mu.Lock()
		front := s.queue.Front()
		if front == nil {
			done := s.detached
			s.mu.Unlock()
			if done {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.cancel:
				return
			}
		}
		ev, _ := s.queue.Remove(front).(LogEvent)
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.cancel:
			return
		}
	}
}
