package domain

import "math"

// Stage is one phase of the check-in interview.
type Stage string

const (
	StageMood       Stage = "mood"
	StageGoals      Stage = "goals"
	StageChallenges Stage = "challenges"
	StageHabits     Stage = "habits"
	StageGeneral    Stage = "general"
	// StageOpen is terminal: the interview is over and chat is unrestricted.
	StageOpen Stage = "open"
)

// StageOrder is the fixed order in which stages are visited.
var StageOrder = []Stage{StageMood, StageGoals, StageChallenges, StageHabits, StageGeneral, StageOpen}

// NoThreshold is the exchange threshold of the terminal stage.
const NoThreshold = math.MaxInt

var stageThresholds = map[Stage]int{
	StageMood:       2,
	StageGoals:      3,
	StageChallenges: 2,
	StageHabits:     2,
	StageGeneral:    2,
}

// Threshold returns the number of user exchanges after which the stage is
// considered covered. The terminal stage never reaches its threshold.
func Threshold(s Stage) int {
	if t, ok := stageThresholds[s]; ok {
		return t
	}
	return NoThreshold
}

// ParseStage validates a stage name received over the wire.
func ParseStage(name string) (Stage, bool) {
	s := Stage(name)
	for _, known := range StageOrder {
		if s == known {
			return s, true
		}
	}
	return "", false
}

// Index returns the position of s in StageOrder, or -1.
func (s Stage) Index() int {
	for i, known := range StageOrder {
		if s == known {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether s is the open stage.
func (s Stage) IsTerminal() bool {
	return s == StageOpen
}
