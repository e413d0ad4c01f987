package voice

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ListenPass runs one listening pass and returns when it ends naturally,
// for example when a recording is stopped and transcribed.
type ListenPass func(ctx context.Context) error

// Listener restarts listening passes for as long as its continue flag is
// set. The flag is checked each time a pass ends; restarts happen in a loop
// rather than from inside the pass.
type Listener struct {
	logger   *slog.Logger
	minDelay time.Duration

	mu            sync.Mutex
	keepListening bool
	running       bool
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewListener creates a stopped listener. minDelay spaces restarts after a
// pass fails.
func NewListener(minDelay time.Duration, logger *slog.Logger) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{logger: logger, minDelay: minDelay}
}

// Start begins the loop. It reports false when the loop is already running.
func (l *Listener) Start(ctx context.Context, pass ListenPass) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		l.keepListening = true
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	l.keepListening = true
	l.running = true
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.loop(ctx, pass, l.done)
	return true
}

// Active reports whether the loop is running.
func (l *Listener) Active() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Finish clears the continue flag so the loop exits after the current pass.
func (l *Listener) Finish() {
	l.mu.Lock()
	l.keepListening = false
	l.mu.Unlock()
}

// Stop clears the flag, cancels the current pass and waits for the loop.
func (l *Listener) Stop() {
	l.mu.Lock()
	l.keepListening = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (l *Listener) shouldContinue() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keepListening
}

func (l *Listener) loop(ctx context.Context, pass ListenPass, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		l.running = false
		l.keepListening = false
		l.cancel()
		l.mu.Unlock()
		close(done)
	}()

	for passes := 1; ; passes++ {
		err := pass(ctx)
		if ctx.Err() != nil || !l.shouldContinue() {
			l.logger.Debug("listening loop ended", "passes", passes)
			return
		}
		if err != nil {
			l.logger.Debug("listening pass failed", "pass", passes, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.minDelay):
			}
		}
	}
}
