package interview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/checkin/internal/domain"
	"golang.org/x/sync/errgroup"
)

// ContextSource is the read side of the store the gatherer needs.
type ContextSource interface {
	ActiveGoal(ctx context.Context, userID string) (*domain.Goal, error)
	ChallengesSince(ctx context.Context, userID string, since time.Time) ([]domain.Challenge, error)
	HabitStats(ctx context.Context, userID string) ([]domain.HabitStat, error)
	RecentMoodSurveys(ctx context.Context, userID string, limit int) ([]domain.MoodSurvey, error)
}

// GathererConfig tunes context gathering.
type GathererConfig struct {
	Timeout           time.Duration
	RecentWindowDays  int
	RecentMoodSurveys int
}

// Gatherer builds the UserContext snapshot at the start of a session.
type Gatherer struct {
	source ContextSource
	cfg    GathererConfig
	now    func() time.Time
	logger *slog.Logger
}

// NewGatherer creates a gatherer over source.
func NewGatherer(source ContextSource, cfg GathererConfig, logger *slog.Logger) *Gatherer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RecentWindowDays <= 0 {
		cfg.RecentWindowDays = 7
	}
	if cfg.RecentMoodSurveys <= 0 {
		cfg.RecentMoodSurveys = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatherer{source: source, cfg: cfg, now: time.Now, logger: logger}
}

// Gather fetches the user's context. It never fails: any query error
// degrades to an empty context so the interview can still start.
func (g *Gatherer) Gather(ctx context.Context, userID string) domain.UserContext {
	uc, err := g.fetch(ctx, userID)
	if err != nil {
		g.logger.Warn("context gathering failed, starting with empty context",
			"user_id", userID,
			"error", err,
		)
		return domain.UserContext{}
	}
	return uc
}

func (g *Gatherer) fetch(ctx context.Context, userID string) (domain.UserContext, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	now := g.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	since := today.AddDate(0, 0, -g.cfg.RecentWindowDays)

	var (
		goal       *domain.Goal
		challenges []domain.Challenge
		habits     []domain.HabitStat
		moods      []domain.MoodSurvey
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if goal, err = g.source.ActiveGoal(egCtx, userID); err != nil {
			return fmt.Errorf("active goal: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if challenges, err = g.source.ChallengesSince(egCtx, userID, since); err != nil {
			return fmt.Errorf("challenges: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if habits, err = g.source.HabitStats(egCtx, userID); err != nil {
			return fmt.Errorf("habits: %w", err)
		}
		return nil
	})
	eg.Go(func() error {
		var err error
		if moods, err = g.source.RecentMoodSurveys(egCtx, userID, g.cfg.RecentMoodSurveys); err != nil {
			return fmt.Errorf("mood surveys: %w", err)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		return domain.UserContext{}, err
	}

	uc := domain.UserContext{
		ActiveGoal:  goal,
		Habits:      habits,
		RecentMoods: moods,
	}
	for i := range challenges {
		if uc.TodayChallenge == nil && challenges[i].IsOn(now) {
			c := challenges[i]
			uc.TodayChallenge = &c
			continue
		}
		uc.RecentChallenges = append(uc.RecentChallenges, challenges[i])
	}
	return uc, nil
}
