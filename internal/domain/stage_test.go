package domain

import "testing"

func TestThresholdTable(t *testing.T) {
	t.Parallel()

	want := map[Stage]int{
		StageMood:       2,
		StageGoals:      3,
		StageChallenges: 2,
		StageHabits:     2,
		StageGeneral:    2,
		StageOpen:       NoThreshold,
	}
	for stage, threshold := range want {
		if got := Threshold(stage); got != threshold {
			t.Errorf("Threshold(%s) = %d, want %d", stage, got, threshold)
		}
	}
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	if s, ok := ParseStage("habits"); !ok || s != StageHabits {
		t.Fatalf("expected habits, got %q ok=%v", s, ok)
	}
	if _, ok := ParseStage("lunch"); ok {
		t.Fatal("expected unknown stage to be rejected")
	}
}

func TestUserContextSatisfies(t *testing.T) {
	t.Parallel()

	var empty *UserContext
	if empty.Satisfies(StageGoals) || empty.Satisfies(StageChallenges) || empty.Satisfies(StageHabits) {
		t.Fatal("nil context must not satisfy data prerequisites")
	}
	if !empty.Satisfies(StageGeneral) || !empty.Satisfies(StageOpen) {
		t.Fatal("stages without prerequisites must always be satisfied")
	}

	ctx := &UserContext{RecentChallenges: []Challenge{{ID: "c1"}}}
	if !ctx.Satisfies(StageChallenges) {
		t.Fatal("recent challenge should satisfy challenges stage")
	}
}
