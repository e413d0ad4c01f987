package domain

// UserContext is the read-only snapshot taken at the start of an interview.
// Empty fields mean the matching stage has nothing to talk about.
type UserContext struct {
	ActiveGoal       *Goal        `json:"active_goal,omitempty"`
	TodayChallenge   *Challenge   `json:"today_challenge,omitempty"`
	RecentChallenges []Challenge  `json:"recent_challenges,omitempty"`
	Habits           []HabitStat  `json:"habits,omitempty"`
	RecentMoods      []MoodSurvey `json:"recent_moods,omitempty"`
}

// HasActiveGoal reports whether the goals stage is relevant.
func (c *UserContext) HasActiveGoal() bool {
	return c != nil && c.ActiveGoal != nil
}

// HasChallenge reports whether the challenges stage is relevant.
func (c *UserContext) HasChallenge() bool {
	return c != nil && (c.TodayChallenge != nil || len(c.RecentChallenges) > 0)
}

// HasHabits reports whether the habits stage is relevant.
func (c *UserContext) HasHabits() bool {
	return c != nil && len(c.Habits) > 0
}

// Satisfies reports whether the data prerequisite of stage s is met.
// Stages without a prerequisite are always satisfied.
func (c *UserContext) Satisfies(s Stage) bool {
	switch s {
	case StageGoals:
		return c.HasActiveGoal()
	case StageChallenges:
		return c.HasChallenge()
	case StageHabits:
		return c.HasHabits()
	default:
		return true
	}
}
