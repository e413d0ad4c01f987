package domain

import "time"

// Challenge is a difficulty the user logged on a given day.
type Challenge struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Day         string    `json:"day"` // YYYY-MM-DD in the user's calendar
	Resolved    bool      `json:"resolved"`
	CreatedAt   time.Time `json:"created_at"`
}

// IsOn reports whether the challenge was logged on the calendar day of t.
func (c *Challenge) IsOn(t time.Time) bool {
	return c.Day == t.Format(time.DateOnly)
}

// Goal is a user goal. Only one goal is active at a time.
type Goal struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	TargetDate  *time.Time `json:"target_date,omitempty"`
	Progress    int        `json:"progress"` // percent, 0-100
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// HabitStat summarises tracking of one habit.
type HabitStat struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	CurrentStreak  int     `json:"current_streak"`
	LongestStreak  int     `json:"longest_streak"`
	CompletionRate float64 `json:"completion_rate"`
}

// MoodSurvey is one recorded mood check.
type MoodSurvey struct {
	ID        string    `json:"id"`
	Mood      int       `json:"mood"`   // 1-5
	Energy    int       `json:"energy"` // 1-5
	Note      string    `json:"note,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
