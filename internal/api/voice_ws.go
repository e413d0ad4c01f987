package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/checkin/internal/identity"
	"github.com/ashureev/checkin/internal/interview"
	"github.com/ashureev/checkin/internal/voice"
	"github.com/coder/websocket"
)

const (
	defaultWriteTimeout = 10 * time.Second
	listenRestartDelay  = 250 * time.Millisecond
	maxAudioFrame       = 1 << 20
)

// Transcriber turns a finished recording into text.
type Transcriber interface {
	Transcribe(ctx context.Context, rec voice.Recording) (string, error)
}

// VoiceHandlerConfig configures the voice socket.
type VoiceHandlerConfig struct {
	AudioFormat   string
	AllowedOrigin string
	IsDev         bool
	WriteTimeout  time.Duration
}

// VoiceHandler bridges a browser microphone and speaker to an interview
// session over a WebSocket. Text frames carry control messages, binary
// frames carry recorded audio up and playback audio down.
type VoiceHandler struct {
	mgr         *interview.Manager
	conns       *VoiceConnections
	outputs     *voice.Outputs
	transcriber Transcriber
	cfg         VoiceHandlerConfig
	logger      *slog.Logger
}

// NewVoiceHandler creates a voice handler. transcriber may be nil when
// transcription is not configured.
func NewVoiceHandler(mgr *interview.Manager, conns *VoiceConnections, outputs *voice.Outputs, transcriber Transcriber, cfg VoiceHandlerConfig, logger *slog.Logger) *VoiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &VoiceHandler{
		mgr:         mgr,
		conns:       conns,
		outputs:     outputs,
		transcriber: transcriber,
		cfg:         cfg,
		logger:      logger,
	}
}

// voiceMessage is a control frame from the client.
type voiceMessage struct {
	Type       string `json:"type"`
	Continuous bool   `json:"continuous,omitempty"`
}

// wsSink writes control and audio frames to the socket. Writes are not
// bound to the caller's context: cancelling a write closes the connection
// in the websocket library, so only a timeout applies.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) SendControl(ctx context.Context, msg voice.ControlMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.write(ctx, websocket.MessageText, data)
}

func (s *wsSink) SendAudio(ctx context.Context, chunk []byte) error {
	return s.write(ctx, websocket.MessageBinary, chunk)
}

func (s *wsSink) write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()
	return s.conn.Write(writeCtx, typ, data)
}

// remoteMic asks the client to open or release its capture device.
type remoteMic struct {
	sink *wsSink
}

func (m remoteMic) Open(ctx context.Context) error {
	open := true
	return m.sink.SendControl(ctx, voice.ControlMessage{Type: "mic", Open: &open})
}

func (m remoteMic) Close() error {
	open := false
	return m.sink.SendControl(context.Background(), voice.ControlMessage{Type: "mic", Open: &open})
}

// ServeHTTP implements http.Handler for GET /ws/voice.
func (h *VoiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if !h.checkOrigin(r) {
		Error(w, http.StatusForbidden, "origin not allowed")
		return
	}
	sess := h.mgr.Get(userID, sessionID)
	if sess == nil {
		Error(w, http.StatusNotFound, "no interview session")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			h.logger.Debug("Failed to close websocket", "error", closeErr, "user_id", userID)
		}
	}()

	ws.SetReadLimit(maxAudioFrame)

	h.conns.Register(userID, sessionID, ws)
	defer h.conns.Unregister(userID, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := &wsSink{conn: ws, timeout: h.cfg.WriteTimeout}
	out := h.outputs.For(userID, sessionID)
	out.Attach(sink)
	defer out.Detach(sink)

	vc := &voiceConn{
		h:        h,
		sess:     sess,
		sink:     sink,
		mic:      remoteMic{sink: sink},
		listener: voice.NewListener(listenRestartDelay, h.logger),
		stopReq:  make(chan struct{}, 1),
		logger:   h.logger.With("user_id", userID, "session_id", sessionID),
	}
	defer func() {
		cancel()
		vc.teardown()
	}()

	vc.sendState(ctx, "idle")
	vc.logger.Info("Voice connection established")
	vc.inputLoop(ctx, ws)
}

func (h *VoiceHandler) checkOrigin(r *http.Request) bool {
	if h.cfg.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.cfg.AllowedOrigin == "*" || origin == h.cfg.AllowedOrigin {
		return true
	}
	h.logger.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.cfg.AllowedOrigin)
	return false
}

// voiceConn is the per-socket recording state.
type voiceConn struct {
	h        *VoiceHandler
	sess     *interview.Session
	sink     *wsSink
	mic      voice.Microphone
	listener *voice.Listener
	stopReq  chan struct{}
	logger   *slog.Logger
	wg       sync.WaitGroup

	mu  sync.Mutex
	rec *voice.Recorder
}

//nolint:gocyclo // Message dispatch keeps the recorder transitions in one place.
func (vc *voiceConn) inputLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		typ, message, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				vc.logger.Debug("WebSocket closed")
			} else {
				vc.logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		if typ == websocket.MessageBinary {
			if rec := vc.current(); rec == nil || !rec.Append(message) {
				vc.logger.Debug("dropping audio outside recording", "bytes", len(message))
			}
			continue
		}

		var msg voiceMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			vc.logger.Debug("ignoring malformed control frame", "error", err)
			continue
		}

		switch msg.Type {
		case "start":
			if vc.listener.Active() {
				continue
			}
			if _, err := vc.begin(ctx); err != nil {
				vc.logger.Debug("start rejected", "error", err)
			}
		case "pause":
			if rec := vc.current(); rec != nil {
				if err := rec.Pause(); err == nil {
					vc.sendState(ctx, "paused")
				}
			}
		case "resume":
			if rec := vc.current(); rec != nil {
				if err := rec.Resume(ctx); err == nil {
					vc.sendState(ctx, "recording")
				}
			}
		case "stop":
			if vc.listener.Active() {
				select {
				case vc.stopReq <- struct{}{}:
				default:
				}
				continue
			}
			if rec := vc.current(); rec != nil {
				vc.wg.Add(1)
				go func() {
					defer vc.wg.Done()
					_ = vc.finish(ctx, rec)
				}()
			}
		case "listen":
			if msg.Continuous {
				vc.listener.Start(ctx, vc.listenPass)
			} else {
				vc.listener.Finish()
			}
		case "ping":
			if err := vc.sink.SendControl(ctx, voice.ControlMessage{Type: "pong"}); err != nil {
				vc.logger.Debug("Failed to send pong", "error", err)
			}
		}
	}
}

func (vc *voiceConn) current() *voice.Recorder {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	return vc.rec
}

// begin starts a new recording unless one is already active.
func (vc *voiceConn) begin(ctx context.Context) (*voice.Recorder, error) {
	vc.mu.Lock()
	if vc.rec != nil {
		if st := vc.rec.State(); st == voice.StateRecording || st == voice.StatePaused {
			vc.mu.Unlock()
			return nil, voice.ErrInvalidTransition
		}
	}
	rec := voice.NewRecorder(vc.mic, vc.h.cfg.AudioFormat, vc.logger)
	vc.rec = rec
	vc.mu.Unlock()

	if err := rec.Start(ctx); err != nil {
		return nil, err
	}
	vc.sendState(ctx, "recording")
	return rec, nil
}

// finish stops rec, transcribes it and appends the text to the draft.
// Failures leave the draft unchanged and send a notice.
func (vc *voiceConn) finish(ctx context.Context, rec *voice.Recorder) error {
	recording, err := rec.Stop()
	if err != nil {
		return err
	}
	vc.sendState(ctx, "transcribing")

	var text string
	if vc.h.transcriber == nil {
		err = voice.ErrTranscriptionFailed
	} else {
		text, err = vc.h.transcriber.Transcribe(ctx, recording)
	}
	if err != nil {
		vc.logger.Info("Transcription failed", "recording_id", recording.ID, "error", err)
		if ctx.Err() == nil {
			_ = vc.sink.SendControl(ctx, voice.ControlMessage{Type: "notice", Notice: voice.NoticeFor(err)})
		}
		vc.sendState(ctx, "idle")
		return err
	}

	draft := vc.sess.Draft().Append(text)
	if err := vc.sink.SendControl(ctx, voice.ControlMessage{Type: "transcript", Text: text, Draft: draft}); err != nil {
		vc.logger.Debug("Failed to send transcript", "error", err)
	}
	vc.sendState(ctx, "idle")
	return nil
}

// listenPass records until the client asks to stop, then transcribes.
func (vc *voiceConn) listenPass(ctx context.Context) error {
	select {
	case <-vc.stopReq:
	default:
	}
	rec, err := vc.begin(ctx)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		rec.Release()
		return ctx.Err()
	case <-vc.stopReq:
	}
	return vc.finish(ctx, rec)
}

func (vc *voiceConn) sendState(ctx context.Context, state string) {
	msg := voice.ControlMessage{
		Type:       "state",
		State:      state,
		Draft:      vc.sess.Draft().Text(),
		Continuous: vc.listener.Active(),
	}
	if err := vc.sink.SendControl(ctx, msg); err != nil {
		vc.logger.Debug("Failed to send voice state", "state", state, "error", err)
	}
}

// teardown releases the microphone and waits for in-flight transcriptions.
func (vc *voiceConn) teardown() {
	vc.listener.Stop()
	if rec := vc.current(); rec != nil {
		rec.Release()
	}
	vc.wg.Wait()
	vc.logger.Info("Voice connection ended")
}
