// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	FrontendURL     string
	DBPath          string
	SessionTTL      time.Duration
	RateLimit       RateLimitConfig
	SSE             SSEConfig
	ConversationLog ConversationLogConfig
	Responder       ResponderConfig
	Voice           VoiceConfig
	Interview       InterviewConfig
}

// RateLimitConfig bounds message submissions per user.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls the event stream endpoints.
type SSEConfig struct {
	KeepaliveInterval  time.Duration
	RetryDelay         time.Duration
	MaxRequestBodySize int64
	ReplayQueueSize    int
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// ResponderConfig points at the conversational responder.
type ResponderConfig struct {
	URL string `yaml:"url"`
}

// VoiceConfig configures transcription and speech synthesis.
type VoiceConfig struct {
	TranscriptionURL     string        `yaml:"transcription_url"`
	TranscriptionTimeout time.Duration `yaml:"transcription_timeout"`
	SynthesisURL         string        `yaml:"synthesis_url"`
	SynthesisVoice       string        `yaml:"synthesis_voice"`
	MaxSpeechChars       int           `yaml:"max_speech_chars"`
	AudioFormat          string        `yaml:"audio_format"`
	PlaybackFormat       string        `yaml:"playback_format"`
	PlaybackChunkSize    int           `yaml:"playback_chunk_size"`
}

// InterviewConfig tunes the interview engine.
type InterviewConfig struct {
	HistoryLimit      int           `yaml:"history_limit"`
	ContextTimeout    time.Duration `yaml:"context_timeout"`
	RecentWindowDays  int           `yaml:"recent_window_days"`
	RecentMoodSurveys int           `yaml:"recent_mood_surveys"`
	FallbackMessage   string        `yaml:"fallback_message"`
}

// fileOverlay is the optional YAML file named by CONFIG_FILE.
type fileOverlay struct {
	Responder ResponderConfig `yaml:"responder"`
	Voice     VoiceConfig     `yaml:"voice"`
	Interview InterviewConfig `yaml:"interview"`
}

// Load reads configuration from environment variables, then applies the
// optional YAML overlay.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/checkin.db"),
		SessionTTL:  getEnvDuration("SESSION_TTL", 60*time.Minute),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval:  getEnvDuration("SSE_KEEPALIVE_INTERVAL", 10*time.Second),
			RetryDelay:         getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
			MaxRequestBodySize: int64(getEnvInt("SSE_MAX_REQUEST_BODY", 1<<20)),
			ReplayQueueSize:    getEnvInt("SSE_REPLAY_QUEUE_SIZE", 200),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		Responder: ResponderConfig{
			URL: getEnv("RESPONDER_URL", "http://localhost:8090/chat"),
		},
		Voice: VoiceConfig{
			TranscriptionURL:     getEnv("TRANSCRIPTION_URL", ""),
			TranscriptionTimeout: getEnvDuration("TRANSCRIPTION_TIMEOUT", 30*time.Second),
			SynthesisURL:         getEnv("SYNTHESIS_URL", ""),
			SynthesisVoice:       getEnv("SYNTHESIS_VOICE", ""),
			MaxSpeechChars:       getEnvInt("MAX_SPEECH_CHARS", 4096),
			AudioFormat:          getEnv("AUDIO_FORMAT", "audio/webm"),
			PlaybackFormat:       getEnv("PLAYBACK_FORMAT", "audio/mpeg"),
			PlaybackChunkSize:    getEnvInt("PLAYBACK_CHUNK_SIZE", 16*1024),
		},
		Interview: InterviewConfig{
			HistoryLimit:      getEnvInt("INTERVIEW_HISTORY_LIMIT", 10),
			ContextTimeout:    getEnvDuration("INTERVIEW_CONTEXT_TIMEOUT", 5*time.Second),
			RecentWindowDays:  getEnvInt("INTERVIEW_RECENT_WINDOW_DAYS", 7),
			RecentMoodSurveys: getEnvInt("INTERVIEW_RECENT_MOOD_SURVEYS", 5),
		},
	}

	if path := getEnv("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyFile overlays non-zero values from a YAML file.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if overlay.Responder.URL != "" {
		c.Responder.URL = overlay.Responder.URL
	}

	v := overlay.Voice
	if v.TranscriptionURL != "" {
		c.Voice.TranscriptionURL = v.TranscriptionURL
	}
	if v.TranscriptionTimeout > 0 {
		c.Voice.TranscriptionTimeout = v.TranscriptionTimeout
	}
	if v.SynthesisURL != "" {
		c.Voice.SynthesisURL = v.SynthesisURL
	}
	if v.SynthesisVoice != "" {
		c.Voice.SynthesisVoice = v.SynthesisVoice
	}
	if v.MaxSpeechChars > 0 {
		c.Voice.MaxSpeechChars = v.MaxSpeechChars
	}
	if v.AudioFormat != "" {
		c.Voice.AudioFormat = v.AudioFormat
	}
	if v.PlaybackFormat != "" {
		c.Voice.PlaybackFormat = v.PlaybackFormat
	}
	if v.PlaybackChunkSize > 0 {
		c.Voice.PlaybackChunkSize = v.PlaybackChunkSize
	}

	i := overlay.Interview
	if i.HistoryLimit > 0 {
		c.Interview.HistoryLimit = i.HistoryLimit
	}
	if i.ContextTimeout > 0 {
		c.Interview.ContextTimeout = i.ContextTimeout
	}
	if i.RecentWindowDays > 0 {
		c.Interview.RecentWindowDays = i.RecentWindowDays
	}
	if i.RecentMoodSurveys > 0 {
		c.Interview.RecentMoodSurveys = i.RecentMoodSurveys
	}
	if i.FallbackMessage != "" {
		c.Interview.FallbackMessage = i.FallbackMessage
	}
	return nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.Responder.URL == "" {
		return errors.New("RESPONDER_URL cannot be empty")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.Voice.TranscriptionTimeout <= 0 {
		return errors.New("TRANSCRIPTION_TIMEOUT must be > 0")
	}
	if c.Voice.MaxSpeechChars <= 0 {
		return errors.New("MAX_SPEECH_CHARS must be > 0")
	}
	if c.Interview.HistoryLimit <= 0 {
		return errors.New("INTERVIEW_HISTORY_LIMIT must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// VoiceEnabled reports whether any voice collaborator is configured.
func (c *Config) VoiceEnabled() bool {
	return c.Voice.TranscriptionURL != "" || c.Voice.SynthesisURL != ""
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
