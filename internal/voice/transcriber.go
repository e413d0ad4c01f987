package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrTranscriptionTimeout is returned when the service does not answer in time.
	ErrTranscriptionTimeout = errors.New("transcription timed out")
	// ErrTranscriptionFailed is returned for every other transcription failure.
	ErrTranscriptionFailed = errors.New("transcription failed")
)

// User-facing notices for transcription failures.
const (
	NoticeTranscriptionTimeout = "Transcription took too long. Please try recording again or type your message."
	NoticeTranscriptionFailed  = "We couldn't transcribe that recording. You can type your message instead."
)

// NoticeFor maps a transcription error to the message shown to the user.
func NoticeFor(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTranscriptionTimeout):
		return NoticeTranscriptionTimeout
	default:
		return NoticeTranscriptionFailed
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcriber sends recordings to the transcription service.
type Transcriber struct {
	url     string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

// NewTranscriber creates a transcriber. The timeout bounds each call.
func NewTranscriber(url string, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Transcriber {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Transcriber{url: url, timeout: timeout, http: httpClient, logger: logger}
}

// Transcribe returns the text of rec. Errors wrap ErrTranscriptionTimeout or
// ErrTranscriptionFailed.
func (t *Transcriber) Transcribe(ctx context.Context, rec Recording) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(rec.Data))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", ErrTranscriptionFailed, err)
	}
	if rec.Format != "" {
		req.Header.Set("Content-Type", rec.Format)
	}
	req.Header.Set("X-Recording-ID", rec.ID)

	resp, err := t.http.Do(req)
	if err != nil {
		return "", t.classify(ctx, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Debug("failed to close transcription body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("%w: status %d", ErrTranscriptionFailed, resp.StatusCode)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", t.classify(ctx, err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (t *Transcriber) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %w", ErrTranscriptionTimeout, t.timeout, err)
	}
	return fmt.Errorf("%w: %w", ErrTranscriptionFailed, err)
}
