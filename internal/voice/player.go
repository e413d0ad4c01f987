package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// PreferenceStore persists the mute setting across sessions.
type PreferenceStore interface {
	VoiceMuted(ctx context.Context, userID string) (bool, error)
	SetVoiceMuted(ctx context.Context, userID string, muted bool) error
}

// AudioSource produces audio for a reply. Nil audio with a nil error means
// there is nothing to play.
type AudioSource interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Output plays audio. Play blocks until playback ends or ctx is cancelled,
// and releases its resources before returning.
type Output interface {
	Play(ctx context.Context, audio []byte) error
}

// PlayerConfig wires a Player.
type PlayerConfig struct {
	UserID string
	Prefs  PreferenceStore
	Source AudioSource
	Output Output
	Logger *slog.Logger
}

// playback is one running playback instance.
type playback struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *playback) stop() {
	p.cancel()
	<-p.done
}

// Player speaks assistant replies. At most one playback runs at a time and
// every failure is swallowed.
type Player struct {
	userID string
	prefs  PreferenceStore
	source AudioSource
	out    Output
	logger *slog.Logger

	mu      sync.Mutex
	muted   bool
	closed  bool
	current *playback
	wg      sync.WaitGroup
}

// NewPlayer reads the mute preference once.
func NewPlayer(ctx context.Context, cfg PlayerConfig) *Player {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	p := &Player{
		userID: cfg.UserID,
		prefs:  cfg.Prefs,
		source: cfg.Source,
		out:    cfg.Output,
		logger: cfg.Logger,
	}
	if p.prefs != nil {
		muted, err := p.prefs.VoiceMuted(ctx, cfg.UserID)
		if err != nil {
			p.logger.Debug("failed to read mute preference", "user_id", cfg.UserID, "error", err)
		}
		p.muted = muted
	}
	return p
}

// Speak plays text, first stopping whatever is playing. It returns once the
// new playback has been handed to its goroutine and is a no-op while muted
// or after Close.
func (p *Player) Speak(text string) {
	if p.source == nil || p.out == nil {
		return
	}

	p.mu.Lock()
	if p.muted || p.closed {
		p.mu.Unlock()
		return
	}
	prev := p.current
	ctx, cancel := context.WithCancel(context.Background())
	pb := &playback{cancel: cancel, done: make(chan struct{})}
	p.current = pb
	p.wg.Add(1)
	p.mu.Unlock()

	if prev != nil {
		prev.stop()
	}
	go p.run(ctx, pb, text)
}

func (p *Player) run(ctx context.Context, pb *playback, text string) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.current == pb {
			p.current = nil
		}
		p.mu.Unlock()
	}()
	defer close(pb.done)
	defer pb.cancel()

	audio, err := p.source.Synthesize(ctx, text)
	if err != nil {
		p.logger.Debug("speech synthesis failed", "user_id", p.userID, "error", err)
		return
	}
	if len(audio) == 0 || ctx.Err() != nil {
		return
	}
	if err := p.out.Play(ctx, audio); err != nil && ctx.Err() == nil {
		p.logger.Debug("playback failed", "user_id", p.userID, "error", err)
	}
}

// Muted reports the mute setting.
func (p *Player) Muted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Playing reports whether a playback is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != nil
}

// SetMuted changes and persists the mute setting. Muting stops the current
// playback before returning. The in-memory setting changes even when
// persisting fails.
func (p *Player) SetMuted(ctx context.Context, muted bool) error {
	p.mu.Lock()
	p.muted = muted
	var cur *playback
	if muted {
		cur = p.current
		p.current = nil
	}
	p.mu.Unlock()

	if cur != nil {
		cur.stop()
	}
	if p.prefs == nil {
		return nil
	}
	if err := p.prefs.SetVoiceMuted(ctx, p.userID, muted); err != nil {
		return fmt.Errorf("persist mute preference: %w", err)
	}
	return nil
}

// Stop ends the current playback, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	cur := p.current
	p.current = nil
	p.mu.Unlock()
	if cur != nil {
		cur.stop()
	}
}

// Close stops playback, waits for playback goroutines to exit and turns
// later Speak calls into no-ops.
func (p *Player) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.Stop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		p.logger.Warn("playback did not stop in time", "user_id", p.userID)
	}
	return nil
}
