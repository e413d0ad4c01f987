package voice

import (
	"context"
	"errors"
	"sync"
)

// ErrNoListener is returned when audio is played with no socket attached.
var ErrNoListener = errors.New("no voice connection attached")

// FrameSink carries playback to a connected client.
type FrameSink interface {
	SendControl(ctx context.Context, msg ControlMessage) error
	SendAudio(ctx context.Context, chunk []byte) error
}

// ControlMessage is a JSON frame sent to the voice client.
type ControlMessage struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	Text       string `json:"text,omitempty"`
	Draft      string `json:"draft,omitempty"`
	Notice     string `json:"notice,omitempty"`
	Open       *bool  `json:"open,omitempty"`
	Format     string `json:"format,omitempty"`
	Bytes      int    `json:"bytes,omitempty"`
	Cancelled  bool   `json:"cancelled,omitempty"`
	Continuous bool   `json:"continuous,omitempty"`
}

// SocketOutput streams audio in chunks to whichever sink is attached.
type SocketOutput struct {
	mu        sync.Mutex
	sink      FrameSink
	format    string
	chunkSize int
}

// NewSocketOutput creates an output with no sink attached.
func NewSocketOutput(format string, chunkSize int) *SocketOutput {
	if chunkSize <= 0 {
		chunkSize = 16 * 1024
	}
	return &SocketOutput{format: format, chunkSize: chunkSize}
}

// Attach routes playback to sink, replacing any previous sink.
func (o *SocketOutput) Attach(sink FrameSink) {
	o.mu.Lock()
	o.sink = sink
	o.mu.Unlock()
}

// Detach removes sink if it is still the attached one.
func (o *SocketOutput) Detach(sink FrameSink) {
	o.mu.Lock()
	if o.sink == sink {
		o.sink = nil
	}
	o.mu.Unlock()
}

// Play sends audio_start, the audio chunks and audio_end. Cancellation stops
// between chunks and still tells the client playback ended.
func (o *SocketOutput) Play(ctx context.Context, audio []byte) error {
	o.mu.Lock()
	sink := o.sink
	o.mu.Unlock()
	if sink == nil {
		return ErrNoListener
	}

	if err := sink.SendControl(ctx, ControlMessage{Type: "audio_start", Format: o.format, Bytes: len(audio)}); err != nil {
		return err
	}

	var playErr error
	for off := 0; off < len(audio); off += o.chunkSize {
		if ctx.Err() != nil {
			playErr = ctx.Err()
			break
		}
		end := min(off+o.chunkSize, len(audio))
		if err := sink.SendAudio(ctx, audio[off:end]); err != nil {
			playErr = err
			break
		}
	}

	// audio_end must reach the client even when ctx is cancelled so it can
	// drop buffered audio.
	endErr := sink.SendControl(context.WithoutCancel(ctx), ControlMessage{Type: "audio_end", Cancelled: playErr != nil})
	if playErr != nil {
		return playErr
	}
	return endErr
}

// Outputs hands out one SocketOutput per user tab.
type Outputs struct {
	mu        sync.Mutex
	format    string
	chunkSize int
	outputs   map[string]*SocketOutput
}

// NewOutputs creates an empty registry.
func NewOutputs(format string, chunkSize int) *Outputs {
	return &Outputs{format: format, chunkSize: chunkSize, outputs: make(map[string]*SocketOutput)}
}

// For returns the tab's output, creating it on first use.
func (o *Outputs) For(userID, sessionID string) *SocketOutput {
	key := userID + ":" + sessionID
	o.mu.Lock()
	defer o.mu.Unlock()
	out, ok := o.outputs[key]
	if !ok {
		out = NewSocketOutput(o.format, o.chunkSize)
		o.outputs[key] = out
	}
	return out
}

// Remove forgets the tab's output.
func (o *Outputs) Remove(userID, sessionID string) {
	o.mu.Lock()
	delete(o.outputs, userID+":"+sessionID)
	o.mu.Unlock()
}
