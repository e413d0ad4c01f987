package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/checkin/internal/config"
	"github.com/ashureev/checkin/internal/identity"
	"github.com/ashureev/checkin/internal/interview"
	"github.com/go-chi/chi/v5"
)

type messageRequest struct {
	Message string `json:"message"`
}

type draftRequest struct {
	Text string `json:"text"`
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

// stateEvent is the session state without the turn list.
type stateEvent struct {
	Stage         string `json:"stage"`
	ExchangeCount int    `json:"exchange_count"`
	Complete      bool   `json:"complete"`
	Busy          bool   `json:"busy"`
	Streaming     bool   `json:"streaming"`
	Speaking      bool   `json:"speaking"`
	Muted         bool   `json:"muted"`
	Draft         string `json:"draft"`
}

func newStateEvent(st interview.SessionState) stateEvent {
	return stateEvent{
		Stage:         string(st.Stage),
		ExchangeCount: st.ExchangeCount,
		Complete:      st.Complete,
		Busy:          st.Busy,
		Streaming:     st.Streaming,
		Speaking:      st.Speaking,
		Muted:         st.Muted,
		Draft:         st.Draft,
	}
}

// InterviewHandler serves the interview endpoints and fans log events out
// to every SSE stream of a tab.
type InterviewHandler struct {
	mgr            *interview.Manager
	rateLimiter    *RateLimiter
	messageQueue   *SSEMessageQueue
	sseConnections map[string]map[int64]*SSEConnection // sessionKey -> ConnectionID -> Connection
	connectionsMu  sync.RWMutex
	eventCounter   int64
	connectionID   int64
	counterMu      sync.Mutex
	cfg            *config.Config
	logger         *slog.Logger
}

// NewInterviewHandler creates the handler. cfg may be nil for defaults.
func NewInterviewHandler(mgr *interview.Manager, cfg *config.Config, logger *slog.Logger) *InterviewHandler {
	if logger == nil {
		logger = slog.Default()
	}

	rateLimitRequests := 20
	rateLimitWindow := time.Minute
	queueSize := 200
	if cfg != nil {
		rateLimitRequests = cfg.RateLimit.RequestsPerWindow
		rateLimitWindow = cfg.RateLimit.WindowDuration
		queueSize = cfg.SSE.ReplayQueueSize
	}

	return &InterviewHandler{
		mgr:            mgr,
		rateLimiter:    NewRateLimiter(rateLimitRequests, rateLimitWindow),
		messageQueue:   NewSSEMessageQueue(queueSize),
		sseConnections: make(map[string]map[int64]*SSEConnection),
		cfg:            cfg,
		logger:         logger,
	}
}

// RegisterRoutes registers interview routes (requires identity).
func (h *InterviewHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/interview", func(r chi.Router) {
		r.Post("/session", h.HandleStart)
		r.Get("/session", h.HandleGet)
		r.Delete("/session", h.HandleDelete)
		r.Post("/messages", h.HandleMessage)
		r.Get("/stream", h.HandleStream)
		r.Put("/draft", h.HandleDraft)
		r.Post("/mute", h.HandleMute)
	})
}

func (h *InterviewHandler) maxBodySize() int64 {
	if h.cfg != nil {
		return h.cfg.SSE.MaxRequestBodySize
	}
	return defaultMaxRequestBodySize
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return "", "", false
	}
	return userID, identity.SessionIDFromContext(r.Context()), true
}

// HandleStart handles POST /api/interview/session. It creates the tab's
// session if needed, gathers context and runs the opening turn.
func (h *InterviewHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	sess, created, err := h.mgr.GetOrCreate(userID, sessionID)
	if err != nil {
		h.logger.Error("Failed to create interview session", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	if created {
		// Subscribe before Start so the opening turn reaches the streams.
		go h.pump(sess, sess.Log().Subscribe())
	}

	// The opening turn finishes even if the client goes away; the
	// transcript is replayed on the next stream connection.
	if err := sess.Start(context.WithoutCancel(r.Context())); err != nil {
		switch {
		case errors.Is(err, interview.ErrInputLocked):
			Error(w, http.StatusConflict, "input_locked")
		case errors.Is(err, interview.ErrSessionClosed):
			Error(w, http.StatusGone, "session_closed")
		default:
			Error(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	h.broadcastState(sess)

	JSON(w, http.StatusOK, sess.Snapshot())
}

// HandleGet handles GET /api/interview/session.
func (h *InterviewHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	sess := h.mgr.Get(userID, sessionID)
	if sess == nil {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}
	JSON(w, http.StatusOK, sess.Snapshot())
}

// HandleDelete handles DELETE /api/interview/session.
func (h *InterviewHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	if !h.mgr.Remove(userID, sessionID) {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}
	h.Forget(userID, sessionID)
	h.logger.Info("Interview session deleted", "user_id", userID, "session_id", sessionID)
	w.WriteHeader(http.StatusNoContent)
}

// HandleMessage handles POST /api/interview/messages. The exchange's log
// events are streamed back as SSE, followed by the resulting state.
//
//nolint:gocyclo // Validation and streaming branches are kept inline to preserve request flow.
func (h *InterviewHandler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}

	// Rate-limit by userID only so clients cannot bypass throttling by
	// rotating session IDs.
	if !h.rateLimiter.Allow(userID) {
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	var req messageRequest
	if err := decodeJSON(w, r, h.maxBodySize(), &req); err != nil {
		writeDecodeError(w, err)
		return
	}

	sess := h.mgr.Get(userID, sessionID)
	if sess == nil {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}
	if sess.Busy() {
		Error(w, http.StatusConflict, "input_locked")
		return
	}
	if strings.TrimSpace(req.Message) == "" && strings.TrimSpace(sess.Draft().Text()) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	h.logger.Info("Interview message",
		"user_id", userID,
		"session_id", sessionID,
		"message_length", len(req.Message),
	)

	sub := sess.Log().Subscribe()
	defer sub.Cancel()
	events := sub.Events()

	errCh := make(chan error, 1)
	go func() {
		errCh <- sess.Submit(r.Context(), req.Message)
	}()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				// Session closed underneath us.
				_ = writeSSE(w, "error", `{"error":"session_closed"}`)
				flusher.Flush()
				return
			}
			if err := writeLogEvent(w, ev); err != nil {
				h.logger.Warn("failed to write SSE turn event", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
		case err := <-errCh:
			h.finishMessage(r.Context(), w, flusher, sess, sub, err)
			return
		}
	}
}

// finishMessage writes the events still queued when Submit returned, then
// the outcome and the done sentinel.
func (h *InterviewHandler) finishMessage(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sess *interview.Session, sub *interview.Subscription, err error) {
	sub.Detach()
	events := sub.Events()
drain:
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				break drain
			}
			if writeErr := writeLogEvent(w, ev); writeErr != nil {
				return
			}
		}
	}

	if err != nil {
		code := "internal"
		switch {
		case errors.Is(err, interview.ErrInputLocked):
			code = "input_locked"
		case errors.Is(err, interview.ErrEmptyMessage):
			code = "empty_message"
		case errors.Is(err, interview.ErrSessionClosed):
			code = "session_closed"
		}
		data, _ := json.Marshal(map[string]string{"error": code})
		_ = writeSSE(w, "error", string(data))
	} else {
		h.broadcastState(sess)
		data, _ := json.Marshal(newStateEvent(sess.Snapshot()))
		_ = writeSSE(w, "state", string(data))
	}
	_ = writeSSE(w, "done", "[DONE]")
	flusher.Flush()
}

func writeLogEvent(w io.Writer, ev interview.LogEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return writeSSE(w, "turn", string(data))
}

// HandleDraft handles PUT /api/interview/draft.
func (h *InterviewHandler) HandleDraft(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req draftRequest
	if err := decodeJSON(w, r, h.maxBodySize(), &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	sess := h.mgr.Get(userID, sessionID)
	if sess == nil {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}
	sess.Draft().Set(req.Text)
	JSON(w, http.StatusOK, map[string]string{"draft": sess.Draft().Text()})
}

// HandleMute handles POST /api/interview/mute. Muting stops any playback
// in progress before the preference is saved.
func (h *InterviewHandler) HandleMute(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req muteRequest
	if err := decodeJSON(w, r, h.maxBodySize(), &req); err != nil {
		writeDecodeError(w, err)
		return
	}
	sess := h.mgr.Get(userID, sessionID)
	if sess == nil {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}
	if err := sess.SetMuted(r.Context(), req.Muted); err != nil {
		h.logger.Error("Failed to save mute preference", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to save preference")
		return
	}
	h.broadcastState(sess)
	JSON(w, http.StatusOK, map[string]bool{"muted": sess.Snapshot().Muted})
}

// HandleStream handles GET /api/interview/stream: every log event of the
// tab's session, with Last-Event-ID replay and keepalive pings.
//
//nolint:gocognit,gocyclo // SSE lifecycle handling intentionally keeps branches together.
func (h *InterviewHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	userID, sessionID, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	streamKey := sseSessionKey(userID, sessionID)

	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			h.logger.Info("SSE client reconnecting with Last-Event-ID",
				"user_id", userID,
				"last_event_id", lastEventID,
			)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	retryDelayMs := int64(5000)
	if h.cfg != nil {
		retryDelayMs = h.cfg.SSE.RetryDelay.Milliseconds()
	}
	if _, err := fmt.Fprintf(w, "retry: %d\n\n", retryDelayMs); err != nil {
		h.logger.Warn("failed to write SSE retry header", "error", err, "user_id", userID)
		return
	}
	flusher.Flush()

	h.counterMu.Lock()
	h.connectionID++
	connID := h.connectionID
	h.counterMu.Unlock()

	conn := &SSEConnection{
		ID:          connID,
		UserID:      userID,
		SessionID:   sessionID,
		ConnectedAt: time.Now(),
		LastEventID: lastEventID,
		Writer:      w,
		Flusher:     flusher,
		Done:        make(chan struct{}),
	}

	// Register while holding the connection lock: live sends wait until the
	// replay is written and are then skipped if already replayed.
	conn.mu.Lock()
	h.connectionsMu.Lock()
	if _, exists := h.sseConnections[streamKey]; !exists {
		h.sseConnections[streamKey] = make(map[int64]*SSEConnection)
	}
	h.sseConnections[streamKey][connID] = conn
	h.connectionsMu.Unlock()

	defer func() {
		h.connectionsMu.Lock()
		if conns, exists := h.sseConnections[streamKey]; exists {
			delete(conns, connID)
			if len(conns) == 0 {
				delete(h.sseConnections, streamKey)
			}
		}
		h.connectionsMu.Unlock()
		// Writes after the handler returns must not reach the writer.
		conn.mu.Lock()
		conn.Close()
		conn.mu.Unlock()
		h.logger.Info("SSE connection closed", "user_id", userID, "session_id", sessionID, "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := h.messageQueue.GetMissedMessages(userID, sessionID, lastEventID)
		if len(missed) > 0 {
			h.logger.Info("Sending missed messages",
				"user_id", userID,
				"session_id", sessionID,
				"count", len(missed),
			)
		}
		for _, msg := range missed {
			if err := writeSSEWithID(w, msg.EventID, msg.Event, msg.Data); err != nil {
				conn.mu.Unlock()
				return
			}
			conn.EventID = msg.EventID
		}
	}

	connectedData := fmt.Sprintf(`{"status":"connected","user_id":%q,"session_id":%q,"replayed_from":%d}`,
		userID, sessionID, lastEventID)
	err := writeSSE(w, "connected", connectedData)
	if err == nil {
		flusher.Flush()
	}
	conn.mu.Unlock()
	if err != nil {
		h.logger.Warn("failed to write SSE connected event", "error", err, "user_id", userID)
		return
	}

	h.logger.Info("SSE connection established",
		"user_id", userID,
		"session_id", sessionID,
		"reconnect", lastEventID > 0,
	)

	keepaliveInterval := 10 * time.Second
	if h.cfg != nil {
		keepaliveInterval = h.cfg.SSE.KeepaliveInterval
	}
	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-conn.Done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				h.logger.Warn("failed to write SSE keepalive ping", "error", err, "user_id", userID)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

// pump forwards one session's log events to its streams until the log closes.
func (h *InterviewHandler) pump(sess *interview.Session, sub *interview.Subscription) {
	defer sub.Cancel()
	for ev := range sub.Events() {
		data, err := json.Marshal(ev)
		if err != nil {
			h.logger.Error("Failed to marshal log event", "error", err)
			continue
		}
		h.broadcast(sess.UserID(), sess.ID(), "turn", string(data))
	}
}

func (h *InterviewHandler) broadcastState(sess *interview.Session) {
	data, err := json.Marshal(newStateEvent(sess.Snapshot()))
	if err != nil {
		return
	}
	h.broadcast(sess.UserID(), sess.ID(), "state", string(data))
}

// broadcast queues an event for replay and sends it to every stream of the tab.
func (h *InterviewHandler) broadcast(userID, sessionID, event, data string) {
	h.counterMu.Lock()
	h.eventCounter++
	eventID := h.eventCounter
	h.counterMu.Unlock()

	msg := &QueuedMessage{
		EventID:   eventID,
		UserID:    userID,
		SessionID: sessionID,
		Event:     event,
		Data:      data,
		Timestamp: time.Now(),
	}
	h.messageQueue.Enqueue(msg)

	h.connectionsMu.RLock()
	tabConns := h.sseConnections[sseSessionKey(userID, sessionID)]
	conns := make([]*SSEConnection, 0, len(tabConns))
	for _, c := range tabConns {
		conns = append(conns, c)
	}
	h.connectionsMu.RUnlock()

	for _, conn := range conns {
		h.sendToConnection(conn, msg)
	}
}

func (h *InterviewHandler) sendToConnection(conn *SSEConnection, msg *QueuedMessage) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.Done:
		return
	default:
	}
	if msg.EventID <= conn.EventID {
		return
	}

	if err := writeSSEWithID(conn.Writer, msg.EventID, msg.Event, msg.Data); err != nil {
		h.logger.Debug("Failed to write to SSE connection",
			"error", err,
			"conn_id", conn.ID,
			"user_id", conn.UserID,
		)
		return
	}
	conn.Flusher.Flush()
	conn.EventID = msg.EventID
}

// Forget drops replay state and closes the streams of a removed session.
// It is the cleanup callback for the session TTL worker.
func (h *InterviewHandler) Forget(userID, sessionID string) {
	h.messageQueue.Prune(userID, sessionID)

	h.connectionsMu.RLock()
	conns := h.sseConnections[sseSessionKey(userID, sessionID)]
	for _, c := range conns {
		c.Close()
	}
	h.connectionsMu.RUnlock()
}

// Close stops background work and ends every open stream.
func (h *InterviewHandler) Close() {
	h.rateLimiter.Stop()
	h.connectionsMu.RLock()
	defer h.connectionsMu.RUnlock()
	for _, conns := range h.sseConnections {
		for _, c := range conns {
			c.Close()
		}
	}
}
