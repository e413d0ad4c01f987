package interview

import (
	"errors"
	"testing"
	"time"

	"github.com/ashureev/checkin/internal/domain"
)

func TestMessageLogEmitsEveryMutation(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	sub := l.Subscribe()
	defer sub.Cancel()
	events := sub.Events()

	l.AppendUser("hello")
	placeholder := l.AppendAssistantPlaceholder()
	if err := l.AppendContent("Hi"); err != nil {
		t.Fatalf("AppendContent: %v", err)
	}
	if err := l.AppendContent(" there"); err != nil {
		t.Fatalf("AppendContent: %v", err)
	}
	l.Finish()

	want := []struct {
		kind       LogEventKind
		content    string
		autoScroll bool
	}{
		{LogTurnAppended, "hello", true},
		{LogTurnAppended, "", true},
		{LogTurnUpdated, "Hi", false},
		{LogTurnUpdated, "Hi there", false},
		{LogTurnFinished, "Hi there", true},
	}
	for i, w := range want {
		ev := <-events
		if ev.Kind != w.kind || ev.Turn.Content != w.content || ev.AutoScroll != w.autoScroll {
			t.Fatalf("event %d = %+v, want %+v", i, ev, w)
		}
		if i > 0 && ev.Turn.ID != placeholder.ID {
			t.Fatalf("event %d mutated turn %s, want %s", i, ev.Turn.ID, placeholder.ID)
		}
	}

	turns := l.Turns()
	if len(turns) != 2 || turns[0].Role != domain.RoleUser || turns[1].Content != "Hi there" {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestMessageLogRejectsContentWithoutTurnInFlight(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	l.AppendUser("hello")
	if err := l.AppendContent("x"); !errors.Is(err, ErrNoTurnInFlight) {
		t.Fatalf("expected ErrNoTurnInFlight, got %v", err)
	}
	if err := l.ReplaceContent("x"); !errors.Is(err, ErrNoTurnInFlight) {
		t.Fatalf("expected ErrNoTurnInFlight, got %v", err)
	}
	if got := l.Turns()[0].Content; got != "hello" {
		t.Fatalf("user turn changed: %q", got)
	}
}

func TestMessageLogHistory(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	for _, text := range []string{"a", "b", "c"} {
		l.AppendUser(text)
	}
	h := l.History(2)
	if len(h) != 2 || h[0].Content != "b" || h[1].Content != "c" {
		t.Fatalf("unexpected history: %+v", h)
	}
	if got := l.History(10); len(got) != 3 {
		t.Fatalf("expected all turns, got %d", len(got))
	}
}

func TestMessageLogSlowSubscriberMissesNothing(t *testing.T) {
	t.Parallel()

	const deltas = 300
	l := NewMessageLog()
	sub := l.Subscribe()
	defer sub.Cancel()

	// Nothing reads while the turn streams.
	l.AppendAssistantPlaceholder()
	for range deltas {
		if err := l.AppendContent("x"); err != nil {
			t.Fatalf("AppendContent: %v", err)
		}
	}
	l.Finish()
	sub.Detach()

	var got []LogEvent
	for ev := range sub.Events() {
		got = append(got, ev)
	}
	if len(got) != deltas+2 {
		t.Fatalf("expected %d events, got %d", deltas+2, len(got))
	}
	for i, ev := range got[1 : deltas+1] {
		if ev.Kind != LogTurnUpdated || len(ev.Turn.Content) != i+1 {
			t.Fatalf("delta %d out of order: %+v", i, ev)
		}
	}
	if last := got[len(got)-1]; last.Kind != LogTurnFinished || len(last.Turn.Content) != deltas {
		t.Fatalf("expected the finish event last, got %+v", last)
	}
}

func TestMessageLogDetachStopsNewEvents(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	sub := l.Subscribe()
	l.AppendUser("kept")
	sub.Detach()
	l.AppendUser("after")

	var got []string
	for ev := range sub.Events() {
		got = append(got, ev.Turn.Content)
	}
	if len(got) != 1 || got[0] != "kept" {
		t.Fatalf("expected only the event before Detach, got %v", got)
	}
}

func TestMessageLogCancelClosesEvents(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	sub := l.Subscribe()
	l.AppendUser("dropped")
	sub.Cancel()
	sub.Cancel()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-sub.Events():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after Cancel")
		}
	}
}

func TestMessageLogCloseEndsSubscriptions(t *testing.T) {
	t.Parallel()

	l := NewMessageLog()
	sub := l.Subscribe()
	l.AppendUser("before close")
	l.Close()
	ev, ok := <-sub.Events()
	if !ok || ev.Turn.Content != "before close" {
		t.Fatalf("expected queued event before close, got %+v ok=%v", ev, ok)
	}
	if _, ok := <-sub.Events(); ok {
		t.Fatal("expected closed channel")
	}
	sub.Cancel()

	late := l.Subscribe()
	if _, ok := <-late.Events(); ok {
		t.Fatal("expected subscription after close to be closed")
	}
}
