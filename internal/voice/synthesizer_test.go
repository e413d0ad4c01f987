package voice

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"unicode/utf8"
)

func TestTruncateIsRuneSafe(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		max  int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "hé"},
		{"日本語テキスト", 3, "日本語"},
		{"anything", 0, "anything"},
	}
	for _, tc := range cases {
		got := Truncate(tc.in, tc.max)
		if got != tc.want || !utf8.ValidString(got) {
			t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
		}
	}
}

func TestSynthesizerTruncatesBeforeSending(t *testing.T) {
	t.Parallel()

	var got synthesisRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		_, _ = w.Write([]byte("RIFFaudio"))
	}))
	defer srv.Close()

	s := NewSynthesizer(srv.URL, "calm", 5, srv.Client(), nil)
	audio, err := s.Synthesize(context.Background(), "Good morning!")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(audio) != "RIFFaudio" {
		t.Fatalf("unexpected audio %q", audio)
	}
	if got.Text != "Good " || got.Voice != "calm" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestSynthesizerNonSuccessIsSilent(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	audio, err := NewSynthesizer(srv.URL, "", 100, srv.Client(), nil).Synthesize(context.Background(), "hi")
	if err != nil || audio != nil {
		t.Fatalf("expected silent no-op, got %q, %v", audio, err)
	}
}
