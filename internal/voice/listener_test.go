package voice

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestListenerRestartsUntilFinished(t *testing.T) {
	t.Parallel()

	l := NewListener(time.Millisecond, nil)
	var passes atomic.Int32
	third := make(chan struct{})

	l.Start(context.Background(), func(context.Context) error {
		if passes.Add(1) == 3 {
			l.Finish()
			close(third)
		}
		return nil
	})
	<-third
	l.Stop()

	if got := passes.Load(); got != 3 {
		t.Fatalf("expected exactly 3 passes, got %d", got)
	}
	if l.Active() {
		t.Fatal("listener still active")
	}
}

func TestListenerStopCancelsPass(t *testing.T) {
	t.Parallel()

	l := NewListener(time.Millisecond, nil)
	entered := make(chan struct{})
	if !l.Start(context.Background(), func(ctx context.Context) error {
		close(entered)
		<-ctx.Done()
		return ctx.Err()
	}) {
		t.Fatal("expected Start to launch the loop")
	}
	<-entered
	if l.Start(context.Background(), func(context.Context) error { return nil }) {
		t.Fatal("second Start must not launch another loop")
	}
	l.Stop()
	if l.Active() {
		t.Fatal("listener still active after Stop")
	}
}

func TestListenerBacksOffAfterFailure(t *testing.T) {
	t.Parallel()

	l := NewListener(5*time.Millisecond, nil)
	var passes atomic.Int32
	stop := make(chan struct{})
	l.Start(context.Background(), func(context.Context) error {
		if passes.Add(1) == 2 {
			l.Finish()
			close(stop)
		}
		return errors.New("no speech")
	})
	<-stop
	l.Stop()
	if got := passes.Load(); got != 2 {
		t.Fatalf("expected 2 passes, got %d", got)
	}
}
