package responder

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/ashureev/checkin/internal/domain"
)

const (
	framePrefix = "data:"
	doneMarker  = "[DONE]"
)

// framePayload mirrors the JSON shapes a frame may carry. Pointers separate
// "absent" from "empty".
type framePayload struct {
	Text  *string `json:"text"`
	Stage *string `json:"stage"`
	Error *string `json:"error"`
}

// Decoder turns arbitrary byte chunks of a response body into events.
// Only newline-terminated lines are decoded; a trailing partial line is held
// until the next chunk completes it.
type Decoder struct {
	pending []byte
}

// Feed appends a chunk and returns the events of every line it completes,
// in arrival order.
func (d *Decoder) Feed(chunk []byte) []Event {
	d.pending = append(d.pending, chunk...)

	var events []Event
	for {
		idx := bytes.IndexByte(d.pending, '\n')
		if idx < 0 {
			break
		}
		line := string(d.pending[:idx])
		d.pending = d.pending[idx+1:]
		events = append(events, DecodeLine(line)...)
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return events
}

// Buffered returns the number of bytes held back waiting for a newline.
func (d *Decoder) Buffered() int {
	return len(d.pending)
}

// DecodeLine decodes one complete line. Unusable lines yield a single
// discard event; a payload with both text and stage yields both, text first.
func DecodeLine(line string) []Event {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, framePrefix) {
		return []Event{{Kind: EventDiscard}}
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, framePrefix))
	if payload == doneMarker {
		return []Event{DoneEvent()}
	}

	var p framePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return []Event{{Kind: EventDiscard}}
	}

	if p.Error != nil {
		return []Event{ErrorEvent(*p.Error)}
	}

	var events []Event
	if p.Text != nil {
		events = append(events, TextEvent(*p.Text))
	}
	if p.Stage != nil {
		if s, ok := domain.ParseStage(*p.Stage); ok {
			events = append(events, StageEvent(s))
		}
	}
	if len(events) == 0 {
		return []Event{{Kind: EventDiscard}}
	}
	return events
}
