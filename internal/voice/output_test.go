package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type recordingSink struct {
	mu       sync.Mutex
	controls []ControlMessage
	chunks   [][]byte
	onChunk  func()
}

func (s *recordingSink) SendControl(_ context.Context, msg ControlMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, msg)
	return nil
}

func (s *recordingSink) SendAudio(_ context.Context, chunk []byte) error {
	s.mu.Lock()
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	hook := s.onChunk
	s.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func TestSocketOutputStreamsChunks(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	out := NewSocketOutput("audio/mpeg", 4)
	out.Attach(sink)

	if err := out.Play(context.Background(), []byte("0123456789")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(sink.chunks) != 3 || string(sink.chunks[2]) != "89" {
		t.Fatalf("unexpected chunks %q", sink.chunks)
	}
	if len(sink.controls) != 2 || sink.controls[0].Type != "audio_start" || sink.controls[0].Bytes != 10 {
		t.Fatalf("unexpected controls %+v", sink.controls)
	}
	if end := sink.controls[1]; end.Type != "audio_end" || end.Cancelled {
		t.Fatalf("unexpected end frame %+v", end)
	}
}

func TestSocketOutputCancelStopsBetweenChunks(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	sink := &recordingSink{onChunk: cancel}
	out := NewSocketOutput("", 2)
	out.Attach(sink)

	err := out.Play(ctx, []byte("abcdef"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(sink.chunks) != 1 {
		t.Fatalf("expected playback to stop after one chunk, got %d", len(sink.chunks))
	}
	if end := sink.controls[len(sink.controls)-1]; end.Type != "audio_end" || !end.Cancelled {
		t.Fatalf("expected cancelled end frame, got %+v", end)
	}
}

func TestSocketOutputWithoutSink(t *testing.T) {
	t.Parallel()

	out := NewSocketOutput("", 0)
	sink := &recordingSink{}
	out.Attach(sink)
	out.Detach(&recordingSink{})
	out.Detach(sink)
	if err := out.Play(context.Background(), []byte("x")); !errors.Is(err, ErrNoListener) {
		t.Fatalf("expected ErrNoListener, got %v", err)
	}
}

func TestOutputsPerTab(t *testing.T) {
	t.Parallel()

	o := NewOutputs("audio/mpeg", 1024)
	a := o.For("u1", "tab-1")
	if o.For("u1", "tab-1") != a {
		t.Fatal("expected the same output for a tab")
	}
	if o.For("u1", "tab-2") == a {
		t.Fatal("tabs must not share outputs")
	}
	o.Remove("u1", "tab-1")
	if o.For("u1", "tab-1") == a {
		t.Fatal("expected output to be forgotten")
	}
}
