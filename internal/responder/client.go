package responder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/ashureev/checkin/internal/domain"
)

// BeginInterviewMessage replaces user text on the first turn of a session and
// asks the responder to open the interview.
const BeginInterviewMessage = "__BEGIN_INTERVIEW__"

const readChunkSize = 4096

var (
	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("responder returned unexpected status")
	// ErrNoBody is returned when a response carries no body.
	ErrNoBody = errors.New("responder returned no body")
	// ErrStreamTruncated is returned when the body ends before [DONE].
	ErrStreamTruncated = errors.New("responder stream ended before [DONE]")
)

// HistoryEntry is one prior turn sent for context.
type HistoryEntry struct {
	Role    domain.Role `json:"role"`
	Content string      `json:"content"`
}

// Request is the payload of one interview turn.
type Request struct {
	Message       string             `json:"message"`
	Stage         domain.Stage       `json:"stage"`
	NextStage     *domain.Stage      `json:"nextStage,omitempty"`
	ExchangeCount int                `json:"exchangeCount"`
	History       []HistoryEntry     `json:"history"`
	Context       domain.UserContext `json:"context"`
}

// Client posts turns to the responder over HTTP.
type Client struct {
	url    string
	http   *http.Client
	logger *slog.Logger
}

// NewClient creates a responder client. A nil httpClient uses
// http.DefaultClient, whose only timeout is the transport default.
func NewClient(url string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: url, http: httpClient, logger: logger}
}

// Stream sends req and yields decoded events in arrival order. Discarded
// lines are not yielded. Iteration ends after EventDone, after an
// EventError, or with a non-nil error when the transport fails.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		body, err := json.Marshal(req)
		if err != nil {
			yield(Event{}, fmt.Errorf("marshal responder request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			yield(Event{}, fmt.Errorf("build responder request: %w", err))
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.http.Do(httpReq)
		if err != nil {
			yield(Event{}, fmt.Errorf("responder request failed: %w", err))
			return
		}
		if resp.Body == nil {
			yield(Event{}, ErrNoBody)
			return
		}
		defer func() {
			if closeErr := resp.Body.Close(); closeErr != nil {
				c.logger.Debug("failed to close responder body", "error", closeErr)
			}
		}()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			yield(Event{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode))
			return
		}

		var dec Decoder
		buf := make([]byte, readChunkSize)
		for {
			n, readErr := resp.Body.Read(buf)
			if n > 0 {
				for _, ev := range dec.Feed(buf[:n]) {
					switch ev.Kind {
					case EventDiscard:
						continue
					case EventDone, EventError:
						yield(ev, nil)
						return
					}
					if !yield(ev, nil) {
						return
					}
				}
			}
			if errors.Is(readErr, io.EOF) {
				if dec.Buffered() > 0 {
					c.logger.Debug("dropping incomplete trailing frame", "bytes", dec.Buffered())
				}
				yield(Event{}, ErrStreamTruncated)
				return
			}
			if readErr != nil {
				yield(Event{}, fmt.Errorf("responder stream error: %w", readErr))
				return
			}
		}
	}
}
