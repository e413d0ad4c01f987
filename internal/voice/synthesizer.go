package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"
)

const maxAudioBytes = 32 << 20

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// Synthesizer turns reply text into audio through the speech service.
type Synthesizer struct {
	url      string
	voice    string
	maxChars int
	http     *http.Client
	logger   *slog.Logger
}

// NewSynthesizer creates a synthesizer. Text longer than maxChars runes is
// truncated before it is sent.
func NewSynthesizer(url, voiceName string, maxChars int, httpClient *http.Client, logger *slog.Logger) *Synthesizer {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{url: url, voice: voiceName, maxChars: maxChars, http: httpClient, logger: logger}
}

// Synthesize returns audio for text. A non-2xx answer is not an error: it
// yields no audio.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = Truncate(text, s.maxChars)
	if text == "" {
		return nil, nil
	}

	body, err := json.Marshal(synthesisRequest{Text: text, Voice: s.voice})
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			s.logger.Debug("failed to close synthesis body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Debug("synthesis unavailable", "status", resp.StatusCode)
		return nil, nil
	}
	audio, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, fmt.Errorf("read synthesis audio: %w", err)
	}
	return audio, nil
}

// Truncate cuts s to at most maxChars runes. A non-positive limit keeps s.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
