// Package responder talks to the conversational responder: it sends one
// interview turn and decodes the streamed `data:` frames of the reply.
package responder

import "github.com/ashureev/checkin/internal/domain"

// EventKind tags a decoded stream event.
type EventKind int

const (
	// EventDiscard marks a line that carried nothing usable.
	EventDiscard EventKind = iota
	// EventText carries a content delta for the in-flight turn.
	EventText
	// EventStage carries an authoritative stage transition.
	EventStage
	// EventError carries a responder-side failure.
	EventError
	// EventDone marks the end-of-stream sentinel.
	EventDone
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventStage:
		return "stage"
	case EventError:
		return "error"
	case EventDone:
		return "done"
	default:
		return "discard"
	}
}

// Event is one decoded stream event. Only the field matching Kind is set.
type Event struct {
	Kind    EventKind
	Text    string
	Stage   domain.Stage
	Message string
}

// TextEvent returns a content delta event.
func TextEvent(delta string) Event { return Event{Kind: EventText, Text: delta} }

// StageEvent returns a stage signal event.
func StageEvent(s domain.Stage) Event { return Event{Kind: EventStage, Stage: s} }

// ErrorEvent returns a responder error event.
func ErrorEvent(msg string) Event { return Event{Kind: EventError, Message: msg} }

// DoneEvent returns the end-of-stream event.
func DoneEvent() Event { return Event{Kind: EventDone} }
