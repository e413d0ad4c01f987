// Package interview runs the guided check-in: it tracks the interview stage,
// drives one exchange at a time against the responder, and records every
// turn in an observable message log.
package interview

import (
	"sync"

	"github.com/ashureev/checkin/internal/domain"
)

// Advance decides where the interview goes after an exchange. It returns
// false when the stage stays put: the interview is already open or the
// current stage has not reached its threshold. Otherwise it returns the
// nearest later stage whose prerequisite uc satisfies, falling back to open.
func Advance(uc *domain.UserContext, current domain.Stage, exchangeCount int) (domain.Stage, bool) {
	if current.IsTerminal() {
		return "", false
	}
	if exchangeCount < domain.Threshold(current) {
		return "", false
	}
	start := current.Index()
	if start < 0 {
		return "", false
	}
	for _, candidate := range domain.StageOrder[start+1:] {
		if uc.Satisfies(candidate) {
			return candidate, true
		}
	}
	return domain.StageOpen, true
}

// ControllerState is a point-in-time view of a Controller.
type ControllerState struct {
	Stage         domain.Stage `json:"stage"`
	ExchangeCount int          `json:"exchange_count"`
	Complete      bool         `json:"complete"`
}

// Controller owns the stage and the exchange counter of one interview.
type Controller struct {
	mu         sync.Mutex
	uc         *domain.UserContext
	stage      domain.Stage
	count      int
	signalled  bool
	complete   bool
	onComplete func()
}

// NewController starts at the mood stage. onComplete runs once, the first
// time the interview reaches open; it may be nil.
func NewController(uc *domain.UserContext, onComplete func()) *Controller {
	return &Controller{
		uc:         uc,
		stage:      domain.StageMood,
		onComplete: onComplete,
	}
}

// Peek reports where the current stage would move if it had nextCount
// exchanges.
func (c *Controller) Peek(nextCount int) (domain.Stage, bool) {
	c.mu.Lock()
	stage := c.stage
	c.mu.Unlock()
	return Advance(c.uc, stage, nextCount)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() ControllerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerState{Stage: c.stage, ExchangeCount: c.count, Complete: c.complete}
}

// BeginTurn clears the per-turn server transition marker.
func (c *Controller) BeginTurn() {
	c.mu.Lock()
	c.signalled = false
	c.mu.Unlock()
}

// ApplySignal moves to a stage chosen by the responder. The signal is
// authoritative: it may jump anywhere and is not checked against the user
// context. The counter restarts and the local fallback is skipped for the
// rest of the turn.
func (c *Controller) ApplySignal(stage domain.Stage) {
	c.mu.Lock()
	c.stage = stage
	c.count = 0
	c.signalled = true
	fire := c.markCompleteLocked()
	c.mu.Unlock()

	if fire {
		c.onComplete()
	}
}

// CompleteExchange records a finished user exchange. When the responder did
// not signal a transition during the turn, the counter is bumped and the
// local fallback may advance the stage. It returns the new stage and whether
// the stage changed.
func (c *Controller) CompleteExchange() (domain.Stage, bool) {
	c.mu.Lock()
	if c.signalled || c.stage.IsTerminal() {
		stage := c.stage
		c.mu.Unlock()
		return stage, false
	}

	c.count++
	next, ok := Advance(c.uc, c.stage, c.count)
	if ok {
		c.stage = next
		c.count = 0
	}
	stage := c.stage
	fire := c.markCompleteLocked()
	c.mu.Unlock()

	if fire {
		c.onComplete()
	}
	return stage, ok
}

// markCompleteLocked flips the complete flag on first entry to open and
// reports whether the completion callback should run.
func (c *Controller) markCompleteLocked() bool {
	if !c.stage.IsTerminal() || c.complete {
		return false
	}
	c.complete = true
	return c.onComplete != nil
}
