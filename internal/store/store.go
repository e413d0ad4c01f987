// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/checkin/internal/domain"
)

// Repository is the context source for interviews plus the durable
// preference store for voice settings.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ActiveGoal returns the user's active goal, or nil when there is none.
	ActiveGoal(ctx context.Context, userID string) (*domain.Goal, error)

	// ChallengesSince returns challenges logged on or after the given day, newest first.
	ChallengesSince(ctx context.Context, userID string, since time.Time) ([]domain.Challenge, error)

	// HabitStats returns tracking statistics for the user's non-archived habits.
	HabitStats(ctx context.Context, userID string) ([]domain.HabitStat, error)

	// RecentMoodSurveys returns at most limit surveys, newest first.
	RecentMoodSurveys(ctx context.Context, userID string, limit int) ([]domain.MoodSurvey, error)

	// GetPreferences returns stored preferences, or nil when none were saved yet.
	GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error)

	// SetVoiceMute persists the voice mute preference.
	SetVoiceMute(ctx context.Context, userID string, muted bool) error

	// AddGoal, AddChallenge, AddHabit and AddMoodSurvey seed context data.
	AddGoal(ctx context.Context, userID string, goal *domain.Goal) error
	AddChallenge(ctx context.Context, userID string, challenge *domain.Challenge) error
	AddHabit(ctx context.Context, userID string, habit *domain.HabitStat) error
	AddMoodSurvey(ctx context.Context, userID string, survey *domain.MoodSurvey) error

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
