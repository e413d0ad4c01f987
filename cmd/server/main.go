// Check-in interview server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/checkin/internal/api"
	"github.com/ashureev/checkin/internal/config"
	"github.com/ashureev/checkin/internal/identity"
	"github.com/ashureev/checkin/internal/interview"
	"github.com/ashureev/checkin/internal/middleware"
	"github.com/ashureev/checkin/internal/responder"
	"github.com/ashureev/checkin/internal/store"
	"github.com/ashureev/checkin/internal/voice"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

const (
	preferenceReadTimeout = 5 * time.Second
	synthesisHTTPTimeout  = 60 * time.Second
	shutdownTimeout       = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

//nolint:gocyclo // Startup wiring is intentionally sequential to keep dependency setup explicit.
func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "voice", cfg.VoiceEnabled())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	convLog, err := interview.NewConversationLogger(interview.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			slog.Warn("failed to close conversation logger", "error", closeErr)
		}
	}()

	// Replies stream for as long as the responder talks; no client timeout.
	responderClient := responder.NewClient(cfg.Responder.URL, &http.Client{}, logger)
	gatherer := interview.NewGatherer(repo, interview.GathererConfig{
		Timeout:           cfg.Interview.ContextTimeout,
		RecentWindowDays:  cfg.Interview.RecentWindowDays,
		RecentMoodSurveys: cfg.Interview.RecentMoodSurveys,
	}, logger)

	prefs := voice.NewStorePreferences(repo)
	outputs := voice.NewOutputs(cfg.Voice.PlaybackFormat, cfg.Voice.PlaybackChunkSize)
	voiceConns := api.NewVoiceConnections(logger)

	var speech voice.AudioSource
	if cfg.Voice.SynthesisURL != "" {
		speech = voice.NewSynthesizer(cfg.Voice.SynthesisURL, cfg.Voice.SynthesisVoice, cfg.Voice.MaxSpeechChars,
			&http.Client{Timeout: synthesisHTTPTimeout}, logger)
		slog.Info("Speech synthesis enabled", "url", cfg.Voice.SynthesisURL)
	}
	var transcriber api.Transcriber
	if cfg.Voice.TranscriptionURL != "" {
		transcriber = voice.NewTranscriber(cfg.Voice.TranscriptionURL, cfg.Voice.TranscriptionTimeout, &http.Client{}, logger)
		slog.Info("Transcription enabled", "url", cfg.Voice.TranscriptionURL, "timeout", cfg.Voice.TranscriptionTimeout)
	}

	factory := func(userID, sessionID string) (*interview.Session, error) {
		prefCtx, cancel := context.WithTimeout(context.Background(), preferenceReadTimeout)
		defer cancel()
		player := voice.NewPlayer(prefCtx, voice.PlayerConfig{
			UserID: userID,
			Prefs:  prefs,
			Source: speech,
			Output: outputs.For(userID, sessionID),
			Logger: logger,
		})

		sess := interview.NewSession(interview.SessionConfig{
			UserID:          userID,
			SessionID:       sessionID,
			HistoryLimit:    cfg.Interview.HistoryLimit,
			FallbackMessage: cfg.Interview.FallbackMessage,
		}, interview.SessionDeps{
			Streamer: responderClient,
			Gatherer: gatherer,
			Speaker:  player,
			ConvLog:  convLog,
			Logger:   logger,
		})
		sess.OnClose(func() {
			voiceConns.CloseSession(userID, sessionID)
			outputs.Remove(userID, sessionID)
		})
		return sess, nil
	}
	mgr := interview.NewManager(factory, logger)
	defer mgr.CloseAll()

	interviewHandler := api.NewInterviewHandler(mgr, cfg, logger)
	defer interviewHandler.Close()
	voiceHandler := api.NewVoiceHandler(mgr, voiceConns, outputs, transcriber, api.VoiceHandlerConfig{
		AudioFormat:   cfg.Voice.AudioFormat,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	}, logger)
	healthHandler := api.NewHealthHandler(repo, mgr.Len, cfg.VoiceEnabled(), logger)

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS([]string{"*"}))

	// Public routes.
	healthHandler.RegisterHealth(r)

	// Everything else carries an anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		healthHandler.RegisterRoutes(r)
		interviewHandler.RegisterRoutes(r)
		r.Get("/ws/voice", voiceHandler.ServeHTTP)
	})

	// SSE connections require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mgr.StartTTLWorker(ctx, cfg.SessionTTL, interviewHandler.Forget)
	slog.Info("TTL worker started", "session_ttl", cfg.SessionTTL)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Streams never end on their own; close them so Shutdown can drain.
		interviewHandler.Close()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}
