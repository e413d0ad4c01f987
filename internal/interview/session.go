package interview

import (
	"cmp"
	"context"
	"errors"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/checkin/internal/domain"
	"github.com/ashureev/checkin/internal/responder"
)

// FallbackMessage replaces an assistant turn whose reply failed.
const FallbackMessage = "Sorry, I couldn't get a response just now. Please try sending your message again."

var (
	// ErrInputLocked is returned when input arrives while an exchange is in
	// flight or the session is still loading.
	ErrInputLocked = errors.New("input is locked while a reply is in progress")
	// ErrSessionClosed is returned after the session was torn down.
	ErrSessionClosed = errors.New("interview session closed")
	// ErrEmptyMessage is returned when there is nothing to send.
	ErrEmptyMessage = errors.New("message is empty")
)

// Streamer sends one interview turn and yields the decoded reply.
type Streamer interface {
	Stream(ctx context.Context, req responder.Request) iter.Seq2[responder.Event, error]
}

// Speaker plays finished assistant replies aloud.
type Speaker interface {
	Speak(text string)
	Playing() bool
	Muted() bool
	SetMuted(ctx context.Context, muted bool) error
	Close() error
}

// Draft is the pending input box. Voice transcripts are appended to it and
// typed text replaces it.
type Draft struct {
	mu   sync.Mutex
	text string
}

// Append joins text onto the draft with a single space.
func (d *Draft) Append(text string) string {
	text = strings.TrimSpace(text)
	d.mu.Lock()
	defer d.mu.Unlock()
	if text == "" {
		return d.text
	}
	if d.text == "" {
		d.text = text
	} else {
		d.text = strings.TrimRight(d.text, " ") + " " + text
	}
	return d.text
}

// Set replaces the draft.
func (d *Draft) Set(text string) {
	d.mu.Lock()
	d.text = text
	d.mu.Unlock()
}

// Take returns the draft and clears it.
func (d *Draft) Take() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	text := d.text
	d.text = ""
	return text
}

// Text returns the draft.
func (d *Draft) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

// SessionConfig configures one interview session.
type SessionConfig struct {
	UserID          string
	SessionID       string
	HistoryLimit    int
	FallbackMessage string
}

// SessionDeps are the collaborators of a session. Speaker and ConvLog may be nil.
type SessionDeps struct {
	Streamer   Streamer
	Gatherer   *Gatherer
	Speaker    Speaker
	ConvLog    ConversationLogger
	Logger     *slog.Logger
	OnComplete func(userID, sessionID string)
}

// SessionState is the externally visible state of a session.
type SessionState struct {
	UserID        string        `json:"user_id"`
	SessionID     string        `json:"session_id"`
	Stage         domain.Stage  `json:"stage"`
	ExchangeCount int           `json:"exchange_count"`
	Complete      bool          `json:"complete"`
	Started       bool          `json:"started"`
	Busy          bool          `json:"busy"`
	Streaming     bool          `json:"streaming"`
	Speaking      bool          `json:"speaking"`
	Muted         bool          `json:"muted"`
	Draft         string        `json:"draft"`
	Turns         []domain.Turn `json:"turns"`
}

// Session is one interview for one user tab.
type Session struct {
	cfg        SessionConfig
	streamer   Streamer
	gatherer   *Gatherer
	speaker    Speaker
	convLog    ConversationLogger
	logger     *slog.Logger
	onComplete func(userID, sessionID string)

	log   *MessageLog
	draft *Draft

	mu         sync.Mutex
	controller *Controller
	userCtx    domain.UserContext
	started    bool
	busy       bool
	closed     bool
	lastActive time.Time
	closers    []func()
}

// NewSession creates an unstarted session.
func NewSession(cfg SessionConfig, deps SessionDeps) *Session {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 10
	}
	if cfg.FallbackMessage == "" {
		cfg.FallbackMessage = FallbackMessage
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.ConvLog == nil {
		deps.ConvLog = noopConversationLogger{}
	}
	return &Session{
		cfg:        cfg,
		streamer:   deps.Streamer,
		gatherer:   deps.Gatherer,
		speaker:    deps.Speaker,
		convLog:    deps.ConvLog,
		logger:     deps.Logger.With("user_id", cfg.UserID, "session_id", cfg.SessionID),
		onComplete: deps.OnComplete,
		log:        NewMessageLog(),
		draft:      &Draft{},
		lastActive: time.Now(),
	}
}

// UserID returns the owning user.
func (s *Session) UserID() string { return s.cfg.UserID }

// ID returns the tab session ID.
func (s *Session) ID() string { return s.cfg.SessionID }

// Log returns the session's message log.
func (s *Session) Log() *MessageLog { return s.log }

// Draft returns the pending input.
func (s *Session) Draft() *Draft { return s.draft }

// Start gathers the user context and runs the opening turn. Input is locked
// until both finish. Calling Start on a started session is a no-op.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case s.started:
		s.mu.Unlock()
		return nil
	case s.busy:
		s.mu.Unlock()
		return ErrInputLocked
	}
	s.busy = true
	s.lastActive = time.Now()
	s.mu.Unlock()
	defer s.release()

	var uc domain.UserContext
	if s.gatherer != nil {
		uc = s.gatherer.Gather(ctx, s.cfg.UserID)
	}

	s.mu.Lock()
	s.userCtx = uc
	s.controller = NewController(&s.userCtx, s.complete)
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Interview started",
		"has_goal", uc.HasActiveGoal(),
		"has_challenge", uc.HasChallenge(),
		"habits", len(uc.Habits),
	)
	s.runTurn(ctx, responder.BeginInterviewMessage, nil, false)
	return nil
}

// Submit sends user input and blocks until the reply finishes. Empty text
// submits the draft. The draft is cleared once the input is accepted.
// Transport and responder failures are not returned: they leave the
// fallback message in the log and the session stays usable.
func (s *Session) Submit(ctx context.Context, text string) error {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrSessionClosed
	case !s.started || s.busy:
		s.mu.Unlock()
		return ErrInputLocked
	}
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(s.draft.Text())
	}
	if text == "" {
		s.mu.Unlock()
		return ErrEmptyMessage
	}
	s.busy = true
	s.lastActive = time.Now()
	s.mu.Unlock()
	defer s.release()

	s.draft.Set("")
	history := s.log.History(s.cfg.HistoryLimit)
	s.log.AppendUser(text)
	s.convLog.Log(ConversationLogEvent{
		UserID:     s.cfg.UserID,
		SessionID:  s.cfg.SessionID,
		Channel:    "interview_http",
		Direction:  "outbound",
		EventType:  "interview_user_message",
		Stage:      string(s.controller.Snapshot().Stage),
		ContentRaw: text,
	})

	s.runTurn(ctx, text, history, true)
	return nil
}

func (s *Session) release() {
	s.mu.Lock()
	s.busy = false
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// runTurn streams one reply into a fresh assistant turn. counts is false
// for the opening turn, which is not a user exchange.
//
//nolint:gocyclo // Event dispatch and failure handling read best inline.
func (s *Session) runTurn(ctx context.Context, message string, history []domain.Turn, counts bool) {
	state := s.controller.Snapshot()
	exchangeCount := state.ExchangeCount
	var next *domain.Stage
	if counts {
		exchangeCount++
		if stage, ok := s.controller.Peek(exchangeCount); ok {
			next = &stage
		}
	}

	entries := make([]responder.HistoryEntry, 0, len(history))
	for _, t := range history {
		entries = append(entries, responder.HistoryEntry{Role: t.Role, Content: t.Content})
	}
	req := responder.Request{
		Message:       message,
		Stage:         state.Stage,
		NextStage:     next,
		ExchangeCount: exchangeCount,
		History:       entries,
		Context:       s.userCtx,
	}

	s.controller.BeginTurn()
	s.log.AppendAssistantPlaceholder()

	var (
		content strings.Builder
		chunks  int
		failed  bool
		failure string
	)
	for ev, err := range s.streamer.Stream(ctx, req) {
		if err != nil {
			failed, failure = true, err.Error()
			break
		}
		switch ev.Kind {
		case responder.EventText:
			chunks++
			content.WriteString(ev.Text)
			if appendErr := s.log.AppendContent(ev.Text); appendErr != nil {
				s.logger.Debug("dropping delta", "error", appendErr)
			}
		case responder.EventStage:
			from := s.controller.Snapshot().Stage
			s.controller.ApplySignal(ev.Stage)
			s.logStage(from, ev.Stage, "responder")
		case responder.EventError:
			failed, failure = true, cmp.Or(ev.Message, "responder error")
		}
		if failed {
			break
		}
	}

	if failed {
		s.logger.Warn("Interview reply failed", "stage", state.Stage, "error", failure)
		if err := s.log.ReplaceContent(s.cfg.FallbackMessage); err != nil {
			s.logger.Debug("no turn to replace", "error", err)
		}
		s.log.Finish()
		s.logAssistant(content.String(), chunks, failure)
		return
	}
	s.log.Finish()
	s.logAssistant(content.String(), chunks, "")

	if counts {
		from := s.controller.Snapshot().Stage
		if to, advanced := s.controller.CompleteExchange(); advanced {
			s.logStage(from, to, "threshold")
		}
	}

	// Speak hands playback off to its own goroutine; calling it inline
	// keeps replies in order.
	if reply := content.String(); reply != "" && s.speaker != nil {
		s.speaker.Speak(reply)
	}
}

func (s *Session) logAssistant(content string, chunks int, failure string) {
	s.convLog.Log(ConversationLogEvent{
		UserID:     s.cfg.UserID,
		SessionID:  s.cfg.SessionID,
		Channel:    "interview_http",
		Direction:  "inbound",
		EventType:  "interview_assistant_message",
		Stage:      string(s.controller.Snapshot().Stage),
		ContentRaw: content,
		Meta: map[string]any{
			"stream_chunks": chunks,
			"partial":       failure != "",
			"stream_error":  failure,
		},
	})
}

func (s *Session) logStage(from, to domain.Stage, source string) {
	s.logger.Info("Interview stage changed", "from", from, "to", to, "source", source)
	s.convLog.Log(ConversationLogEvent{
		UserID:    s.cfg.UserID,
		SessionID: s.cfg.SessionID,
		Channel:   "interview_http",
		Direction: "internal",
		EventType: "interview_stage_changed",
		Stage:     string(to),
		Meta:      map[string]any{"from": from, "source": source},
	})
}

func (s *Session) complete() {
	s.logger.Info("Interview complete")
	if s.onComplete != nil {
		s.onComplete(s.cfg.UserID, s.cfg.SessionID)
	}
}

// SetMuted toggles reply playback.
func (s *Session) SetMuted(ctx context.Context, muted bool) error {
	if s.speaker == nil {
		return nil
	}
	s.touch()
	return s.speaker.SetMuted(ctx, muted)
}

// Snapshot returns the current state of the session.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	st := SessionState{
		UserID:    s.cfg.UserID,
		SessionID: s.cfg.SessionID,
		Stage:     domain.StageMood,
		Started:   s.started,
		Busy:      s.busy,
	}
	controller := s.controller
	s.mu.Unlock()

	if controller != nil {
		cs := controller.Snapshot()
		st.Stage = cs.Stage
		st.ExchangeCount = cs.ExchangeCount
		st.Complete = cs.Complete
	}
	if s.speaker != nil {
		st.Muted = s.speaker.Muted()
		st.Speaking = s.speaker.Playing()
	}
	st.Streaming = s.log.InFlight()
	st.Draft = s.draft.Text()
	st.Turns = s.log.Turns()
	return st
}

// Busy reports whether input is currently locked.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy || !s.started
}

// OnClose registers a release hook run at teardown, such as closing a
// microphone owned by a voice connection.
func (s *Session) OnClose(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// LastActive returns the time of the last input.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// Close tears the session down: playback stops, release hooks run and log
// subscribers are disconnected. It is safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	for _, fn := range closers {
		fn()
	}
	var err error
	if s.speaker != nil {
		err = s.speaker.Close()
	}
	s.log.Close()
	return err
}

func (s *Session) inUse() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}
