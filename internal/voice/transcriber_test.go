package voice

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTranscriberReturnsText(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) != "pcm" || r.Header.Get("Content-Type") != "audio/webm" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"text":"  I feel rested  "}`))
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, time.Second, srv.Client(), nil)
	got, err := tr.Transcribe(context.Background(), Recording{ID: "r1", Format: "audio/webm", Data: []byte("pcm")})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got != "I feel rested" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestTranscriberTimeoutHasDistinctNotice(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := NewTranscriber(srv.URL, 50*time.Millisecond, srv.Client(), nil)
	_, err := tr.Transcribe(context.Background(), Recording{Data: []byte("pcm")})
	if !errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected ErrTranscriptionTimeout, got %v", err)
	}

	timeoutNotice := NoticeFor(err)
	failureNotice := NoticeFor(ErrTranscriptionFailed)
	if timeoutNotice == failureNotice {
		t.Fatalf("timeout and failure notices must differ: %q", timeoutNotice)
	}
}

func TestTranscriberFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	tr := NewTranscriber(srv.URL, time.Second, srv.Client(), nil)
	_, err := tr.Transcribe(context.Background(), Recording{Data: []byte("pcm")})
	if !errors.Is(err, ErrTranscriptionFailed) || errors.Is(err, ErrTranscriptionTimeout) {
		t.Fatalf("expected plain failure, got %v", err)
	}
	if NoticeFor(err) != NoticeTranscriptionFailed {
		t.Fatalf("unexpected notice %q", NoticeFor(err))
	}
	if NoticeFor(nil) != "" {
		t.Fatal("no error, no notice")
	}
}
