package responder

import (
	"testing"

	"github.com/ashureev/checkin/internal/domain"
	"pgregory.net/rapid"
)

func TestDecoderReassemblesSplitFrame(t *testing.T) {
	t.Parallel()

	frame := `data: {"text":"How are you feeling today?"}` + "\n"

	rapid.Check(t, func(rt *rapid.T) {
		split := rapid.IntRange(0, len(frame)).Draw(rt, "split")

		var dec Decoder
		events := dec.Feed([]byte(frame[:split]))
		events = append(events, dec.Feed([]byte(frame[split:]))...)

		if len(events) != 1 {
			rt.Fatalf("expected exactly one event, got %d: %+v", len(events), events)
		}
		if events[0].Kind != EventText || events[0].Text != "How are you feeling today?" {
			rt.Fatalf("unexpected event: %+v", events[0])
		}
		if dec.Buffered() != 0 {
			rt.Fatalf("expected empty buffer, got %d bytes", dec.Buffered())
		}
	})
}

func TestDecoderArbitraryChunking(t *testing.T) {
	t.Parallel()

	body := "data: {\"text\":\"A\"}\n" +
		": keepalive\n" +
		"data: {\"stage\":\"goals\"}\n" +
		"data: not json\n" +
		"data: {\"text\":\"B\"}\n" +
		"data: [DONE]\n"

	rapid.Check(t, func(rt *rapid.T) {
		var dec Decoder
		var events []Event
		rest := body
		for len(rest) > 0 {
			n := rapid.IntRange(1, len(rest)).Draw(rt, "chunk")
			events = append(events, dec.Feed([]byte(rest[:n]))...)
			rest = rest[n:]
		}

		var kinds []EventKind
		for _, ev := range events {
			if ev.Kind != EventDiscard {
				kinds = append(kinds, ev.Kind)
			}
		}
		want := []EventKind{EventText, EventStage, EventText, EventDone}
		if len(kinds) != len(want) {
			rt.Fatalf("expected %v, got %v", want, kinds)
		}
		for i := range want {
			if kinds[i] != want[i] {
				rt.Fatalf("expected %v, got %v", want, kinds)
			}
		}
	})
}

func TestDecodeLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		line string
		want Event
	}{
		{"done", "data: [DONE]", DoneEvent()},
		{"done crlf", "data: [DONE]\r", DoneEvent()},
		{"text", `data: {"text":"hi"}`, TextEvent("hi")},
		{"empty text", `data: {"text":""}`, TextEvent("")},
		{"stage", `data: {"stage":"habits"}`, StageEvent(domain.StageHabits)},
		{"unknown stage", `data: {"stage":"dessert"}`, Event{Kind: EventDiscard}},
		{"error", `data: {"error":"model overloaded"}`, ErrorEvent("model overloaded")},
		{"malformed", `data: {"text":`, Event{Kind: EventDiscard}},
		{"null", `data: null`, Event{Kind: EventDiscard}},
		{"comment", `: ping`, Event{Kind: EventDiscard}},
		{"event line", `event: message`, Event{Kind: EventDiscard}},
		{"blank", ``, Event{Kind: EventDiscard}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := DecodeLine(tc.line)
			if len(got) != 1 || got[0] != tc.want {
				t.Fatalf("DecodeLine(%q) = %+v, want %+v", tc.line, got, tc.want)
			}
		})
	}
}

func TestDecodeLineErrorWinsOverText(t *testing.T) {
	t.Parallel()

	got := DecodeLine(`data: {"text":"partial","error":"boom"}`)
	if len(got) != 1 || got[0].Kind != EventError {
		t.Fatalf("expected a single error event, got %+v", got)
	}
}

func TestDecodeLineTextThenStage(t *testing.T) {
	t.Parallel()

	got := DecodeLine(`data: {"text":"Let's talk goals.","stage":"goals"}`)
	if len(got) != 2 || got[0].Kind != EventText || got[1].Kind != EventStage {
		t.Fatalf("expected text then stage, got %+v", got)
	}
}

func TestDecoderHoldsPartialLine(t *testing.T) {
	t.Parallel()

	var dec Decoder
	if events := dec.Feed([]byte(`data: {"text":"par`)); len(events) != 0 {
		t.Fatalf("expected no events for partial line, got %+v", events)
	}
	if dec.Buffered() == 0 {
		t.Fatal("expected partial line to be buffered")
	}
}
