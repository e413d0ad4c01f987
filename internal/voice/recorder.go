// Package voice captures microphone audio for transcription and plays
// synthesized speech for assistant replies. Audio never affects the text
// path: failures here are reported as notices or swallowed.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned for a recorder command the current state
// does not allow.
var ErrInvalidTransition = errors.New("invalid recorder transition")

// RecorderState is the state of one recording.
type RecorderState int

const (
	StateIdle RecorderState = iota
	StateRecording
	StatePaused
	StateStopped
)

func (s RecorderState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("RecorderState(%d)", int(s))
	}
}

// Microphone is the capture device. Open acquires it and Close releases it.
type Microphone interface {
	Open(ctx context.Context) error
	Close() error
}

// Recording is the captured audio of a stopped recorder.
type Recording struct {
	ID     string
	Format string
	Data   []byte
}

// Recorder is a single-use recording:
// idle -> recording <-> paused -> stopped.
type Recorder struct {
	mu      sync.Mutex
	id      string
	state   RecorderState
	mic     Microphone
	micOpen bool
	format  string
	buf     bytes.Buffer
	logger  *slog.Logger
}

// NewRecorder creates an idle recorder.
func NewRecorder(mic Microphone, format string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		id:     uuid.NewString(),
		mic:    mic,
		format: format,
		logger: logger,
	}
}

// ID identifies the recording.
func (r *Recorder) ID() string { return r.id }

// State returns the current state.
func (r *Recorder) State() RecorderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start opens the microphone and begins capture.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateIdle {
		return fmt.Errorf("%w: start from %s", ErrInvalidTransition, r.state)
	}
	if err := r.openLocked(ctx); err != nil {
		return err
	}
	r.state = StateRecording
	return nil
}

// Pause releases the microphone and suspends capture.
func (r *Recorder) Pause() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, r.state)
	}
	r.closeLocked()
	r.state = StatePaused
	return nil
}

// Resume reopens the microphone and continues capture.
func (r *Recorder) Resume(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StatePaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, r.state)
	}
	if err := r.openLocked(ctx); err != nil {
		return err
	}
	r.state = StateRecording
	return nil
}

// Stop ends the recording, releases the microphone and returns the audio.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording && r.state != StatePaused {
		return Recording{}, fmt.Errorf("%w: stop from %s", ErrInvalidTransition, r.state)
	}
	r.closeLocked()
	r.state = StateStopped
	data := append([]byte(nil), r.buf.Bytes()...)
	r.buf.Reset()
	return Recording{ID: r.id, Format: r.format, Data: data}, nil
}

// Append stores a chunk delivered by the capture device. Chunks arriving
// outside the recording state are dropped; it reports whether the chunk was
// kept.
func (r *Recorder) Append(chunk []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateRecording {
		return false
	}
	r.buf.Write(chunk)
	return true
}

// Release drops captured audio and closes the microphone without
// transcribing. The recorder ends stopped.
func (r *Recorder) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked()
	r.buf.Reset()
	r.state = StateStopped
}

func (r *Recorder) openLocked(ctx context.Context) error {
	if r.mic == nil || r.micOpen {
		return nil
	}
	if err := r.mic.Open(ctx); err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	r.micOpen = true
	return nil
}

func (r *Recorder) closeLocked() {
	if r.mic == nil || !r.micOpen {
		return
	}
	r.micOpen = false
	if err := r.mic.Close(); err != nil {
		r.logger.Debug("failed to release microphone", "recording_id", r.id, "error", err)
	}
}
