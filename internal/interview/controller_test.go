package interview

import (
	"testing"

	"github.com/ashureev/checkin/internal/domain"
	"pgregory.net/rapid"
)

func drawContext(t *rapid.T) *domain.UserContext {
	uc := &domain.UserContext{}
	if rapid.Bool().Draw(t, "goal") {
		uc.ActiveGoal = &domain.Goal{ID: "g1", Title: "Run a 10k", Active: true}
	}
	switch rapid.IntRange(0, 2).Draw(t, "challenge") {
	case 1:
		uc.TodayChallenge = &domain.Challenge{ID: "c1", Title: "Deadline"}
	case 2:
		uc.RecentChallenges = []domain.Challenge{{ID: "c2", Title: "Sleep"}}
	}
	if rapid.Bool().Draw(t, "habit") {
		uc.Habits = []domain.HabitStat{{ID: "h1", Name: "Meditate"}}
	}
	return uc
}

func drawOpenStage(t *rapid.T) domain.Stage {
	return rapid.SampledFrom(domain.StageOrder[:len(domain.StageOrder)-1]).Draw(t, "stage")
}

func TestAdvanceBelowThresholdStays(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		uc := drawContext(t)
		stage := drawOpenStage(t)
		count := rapid.IntRange(0, domain.Threshold(stage)-1).Draw(t, "count")

		if next, ok := Advance(uc, stage, count); ok {
			t.Fatalf("Advance(%s, %d) moved to %s below threshold", stage, count, next)
		}
	})
}

func TestAdvanceFindsNearestSatisfiedStage(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		uc := drawContext(t)
		stage := drawOpenStage(t)
		count := rapid.IntRange(domain.Threshold(stage), 50).Draw(t, "count")

		next, ok := Advance(uc, stage, count)
		if !ok {
			t.Fatalf("Advance(%s, %d) stayed at threshold", stage, count)
		}
		if next.Index() <= stage.Index() {
			t.Fatalf("Advance(%s) went backwards to %s", stage, next)
		}
		if !uc.Satisfies(next) {
			t.Fatalf("Advance(%s) chose %s whose prerequisite is unmet", stage, next)
		}
		for _, skipped := range domain.StageOrder[stage.Index()+1 : next.Index()] {
			if uc.Satisfies(skipped) {
				t.Fatalf("Advance(%s) skipped satisfied stage %s for %s", stage, skipped, next)
			}
		}
	})
}

func TestAdvanceOpenIsTerminal(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		uc := drawContext(t)
		count := rapid.IntRange(0, 1000).Draw(t, "count")
		if next, ok := Advance(uc, domain.StageOpen, count); ok {
			t.Fatalf("Advance(open, %d) moved to %s", count, next)
		}
	})
}

func TestAdvanceSkipsToHabits(t *testing.T) {
	t.Parallel()

	uc := &domain.UserContext{Habits: []domain.HabitStat{{ID: "h1", Name: "Walk"}}}
	next, ok := Advance(uc, domain.StageMood, 2)
	if !ok || next != domain.StageHabits {
		t.Fatalf("expected habits, got %q (%v)", next, ok)
	}
}

func TestAdvanceEmptyContextGoesToGeneral(t *testing.T) {
	t.Parallel()

	next, ok := Advance(nil, domain.StageMood, 2)
	if !ok || next != domain.StageGeneral {
		t.Fatalf("expected general, got %q (%v)", next, ok)
	}
	next, ok = Advance(nil, domain.StageGeneral, 2)
	if !ok || next != domain.StageOpen {
		t.Fatalf("expected open, got %q (%v)", next, ok)
	}
}

func TestControllerCompletesOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	c := NewController(&domain.UserContext{}, func() { calls++ })

	// mood -> general -> open with an empty context.
	for range 4 {
		c.BeginTurn()
		c.CompleteExchange()
	}
	if st := c.Snapshot(); st.Stage != domain.StageOpen || !st.Complete {
		t.Fatalf("expected open and complete, got %+v", st)
	}
	for range 5 {
		c.BeginTurn()
		if _, moved := c.CompleteExchange(); moved {
			t.Fatal("open must not move")
		}
	}
	c.ApplySignal(domain.StageOpen)
	if calls != 1 {
		t.Fatalf("expected completion callback once, got %d", calls)
	}
}

func TestControllerSignalOverridesFallback(t *testing.T) {
	t.Parallel()

	c := NewController(&domain.UserContext{}, nil)
	c.BeginTurn()
	c.CompleteExchange()

	// The second exchange would reach the mood threshold, but the responder
	// already moved the interview during the turn.
	c.BeginTurn()
	c.ApplySignal(domain.StageGoals)
	stage, moved := c.CompleteExchange()
	if moved || stage != domain.StageGoals {
		t.Fatalf("expected to stay on signalled goals, got %s (%v)", stage, moved)
	}
	if st := c.Snapshot(); st.ExchangeCount != 0 {
		t.Fatalf("expected counter reset by signal, got %d", st.ExchangeCount)
	}

	c.BeginTurn()
	if _, moved := c.CompleteExchange(); moved {
		t.Fatal("goals needs three exchanges")
	}
	if st := c.Snapshot(); st.ExchangeCount != 1 {
		t.Fatalf("expected counter 1, got %d", st.ExchangeCount)
	}
}

func TestControllerPeek(t *testing.T) {
	t.Parallel()

	uc := &domain.UserContext{ActiveGoal: &domain.Goal{ID: "g"}}
	c := NewController(uc, nil)
	if _, ok := c.Peek(1); ok {
		t.Fatal("one exchange should not reach the mood threshold")
	}
	if next, ok := c.Peek(2); !ok || next != domain.StageGoals {
		t.Fatalf("expected goals, got %q (%v)", next, ok)
	}
	if st := c.Snapshot(); st.Stage != domain.StageMood || st.ExchangeCount != 0 {
		t.Fatalf("Peek must not change state: %+v", st)
	}
}
