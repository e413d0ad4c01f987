package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/checkin/internal/domain"
	"github.com/ashureev/checkin/internal/shared"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	prefMu sync.Mutex // serialises preference writes to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS users (
		user_id TEXT PRIMARY KEY,
		username TEXT NOT NULL,
		last_seen_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		target_date INTEGER,
		progress INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_goals_user_active ON goals(user_id, active);

	CREATE TABLE IF NOT EXISTS challenges (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		day TEXT NOT NULL,
		resolved INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_challenges_user_day ON challenges(user_id, day);

	CREATE TABLE IF NOT EXISTS habits (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		current_streak INTEGER NOT NULL DEFAULT 0,
		longest_streak INTEGER NOT NULL DEFAULT 0,
		completion_rate REAL NOT NULL DEFAULT 0,
		archived INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_habits_user ON habits(user_id) WHERE archived = 0;

	CREATE TABLE IF NOT EXISTS mood_surveys (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		mood INTEGER NOT NULL,
		energy INTEGER NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_mood_surveys_user_created ON mood_surveys(user_id, created_at);

	CREATE TABLE IF NOT EXISTS preferences (
		user_id TEXT PRIMARY KEY,
		voice_muted INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// GetUser retrieves a user by their user ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	query := `
		SELECT user_id, username, last_seen_at, created_at, updated_at
		FROM users WHERE user_id = ?`

	var user domain.User
	var lastSeen, createdAt, updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&user.UserID, &user.Username, &lastSeen, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user row: %w", err)
	}

	user.LastSeenAt = time.Unix(lastSeen, 0)
	user.CreatedAt = time.Unix(createdAt, 0)
	user.UpdatedAt = time.Unix(updatedAt, 0)
	return &user, nil
}

// UpsertUser creates or updates a user record.
func (s *SQLiteStore) UpsertUser(ctx context.Context, user *domain.User) error {
	query := `
	INSERT INTO users (user_id, username, last_seen_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(user_id) DO UPDATE SET
		username = excluded.username,
		last_seen_at = excluded.last_seen_at,
		updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		user.UserID, user.Username, user.LastSeenAt.Unix(),
		user.CreatedAt.Unix(), user.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// UpdateLastSeen updates the last_seen_at timestamp for a user.
func (s *SQLiteStore) UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error {
	query := `UPDATE users SET last_seen_at = ?, updated_at = ? WHERE user_id = ?`
	result, err := s.db.ExecContext(ctx, query, lastSeen.Unix(), time.Now().Unix(), userID)
	if err != nil {
		return fmt.Errorf("update last_seen: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		slog.Warn("UpdateLastSeen affected 0 rows", "user_id", userID)
	}
	return nil
}

// ActiveGoal returns the most recently created active goal.
func (s *SQLiteStore) ActiveGoal(ctx context.Context, userID string) (*domain.Goal, error) {
	query := `
		SELECT id, title, description, target_date, progress, created_at
		FROM goals WHERE user_id = ? AND active = 1
		ORDER BY created_at DESC LIMIT 1`

	var goal domain.Goal
	var targetDate sql.NullInt64
	var createdAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&goal.ID, &goal.Title, &goal.Description, &targetDate, &goal.Progress, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan active goal: %w", err)
	}

	goal.Active = true
	goal.CreatedAt = time.Unix(createdAt, 0)
	if targetDate.Valid {
		ts := time.Unix(targetDate.Int64, 0)
		goal.TargetDate = &ts
	}
	return &goal, nil
}

// ChallengesSince returns challenges logged on or after the day of since.
func (s *SQLiteStore) ChallengesSince(ctx context.Context, userID string, since time.Time) ([]domain.Challenge, error) {
	query := `
		SELECT id, title, description, day, resolved, created_at
		FROM challenges WHERE user_id = ? AND day >= ?
		ORDER BY day DESC, created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, userID, since.Format(time.DateOnly))
	if err != nil {
		return nil, fmt.Errorf("query challenges: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close challenge rows", "error", closeErr)
		}
	}()

	var challenges []domain.Challenge
	for rows.Next() {
		var c domain.Challenge
		var createdAt int64
		if err := rows.Scan(&c.ID, &c.Title, &c.Description, &c.Day, &c.Resolved, &createdAt); err != nil {
			return nil, fmt.Errorf("scan challenge row: %w", err)
		}
		c.CreatedAt = time.Unix(createdAt, 0)
		challenges = append(challenges, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate challenges: %w", err)
	}
	return challenges, nil
}

// HabitStats returns statistics for the user's non-archived habits.
func (s *SQLiteStore) HabitStats(ctx context.Context, userID string) ([]domain.HabitStat, error) {
	query := `
		SELECT id, name, current_streak, longest_streak, completion_rate
		FROM habits WHERE user_id = ? AND archived = 0
		ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close habit rows", "error", closeErr)
		}
	}()

	var habits []domain.HabitStat
	for rows.Next() {
		var h domain.HabitStat
		if err := rows.Scan(&h.ID, &h.Name, &h.CurrentStreak, &h.LongestStreak, &h.CompletionRate); err != nil {
			return nil, fmt.Errorf("scan habit row: %w", err)
		}
		habits = append(habits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate habits: %w", err)
	}
	return habits, nil
}

// RecentMoodSurveys returns at most limit surveys, newest first.
func (s *SQLiteStore) RecentMoodSurveys(ctx context.Context, userID string, limit int) ([]domain.MoodSurvey, error) {
	query := `
		SELECT id, mood, energy, note, created_at
		FROM mood_surveys WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query mood surveys: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close mood survey rows", "error", closeErr)
		}
	}()

	var surveys []domain.MoodSurvey
	for rows.Next() {
		var m domain.MoodSurvey
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.Mood, &m.Energy, &m.Note, &createdAt); err != nil {
			return nil, fmt.Errorf("scan mood survey row: %w", err)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		surveys = append(surveys, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate mood surveys: %w", err)
	}
	return surveys, nil
}

// GetPreferences returns the stored preferences for a user.
func (s *SQLiteStore) GetPreferences(ctx context.Context, userID string) (*domain.Preferences, error) {
	query := `SELECT voice_muted, updated_at FROM preferences WHERE user_id = ?`

	prefs := domain.Preferences{UserID: userID}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx, query, userID).Scan(&prefs.VoiceMute, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan preferences: %w", err)
	}
	prefs.UpdatedAt = time.Unix(updatedAt, 0)
	return &prefs, nil
}

// SetVoiceMute persists the mute preference.
// Retries with exponential backoff when the database is busy.
func (s *SQLiteStore) SetVoiceMute(ctx context.Context, userID string, muted bool) error {
	maxRetries := 3
	baseDelay := 50 * time.Millisecond

	var err error
	for i := 0; i < maxRetries; i++ {
		err = s.setVoiceMuteOnce(ctx, userID, muted)
		if err == nil {
			return nil
		}
		if !shared.IsSQLiteConflictError(err) || i == maxRetries-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<i) // 50ms, 100ms
		slog.Debug("SetVoiceMute failed with SQLITE_BUSY, retrying",
			"user_id", userID,
			"attempt", i+1,
			"delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("set voice mute for %s: %w", userID, err)
}

func (s *SQLiteStore) setVoiceMuteOnce(ctx context.Context, userID string, muted bool) error {
	s.prefMu.Lock()
	defer s.prefMu.Unlock()

	query := `
		INSERT INTO preferences (user_id, voice_muted, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			voice_muted = excluded.voice_muted,
			updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, userID, muted, time.Now().Unix()); err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// AddGoal inserts a goal. A new active goal deactivates the previous ones.
func (s *SQLiteStore) AddGoal(ctx context.Context, userID string, goal *domain.Goal) error {
	if goal.ID == "" {
		goal.ID = uuid.NewString()
	}
	if goal.CreatedAt.IsZero() {
		goal.CreatedAt = time.Now()
	}
	var targetDate interface{}
	if goal.TargetDate != nil {
		targetDate = goal.TargetDate.Unix()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin goal insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if goal.Active {
		if _, err := tx.ExecContext(ctx, `UPDATE goals SET active = 0 WHERE user_id = ?`, userID); err != nil {
			return fmt.Errorf("deactivate goals: %w", err)
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO goals (id, user_id, title, description, target_date, progress, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		goal.ID, userID, goal.Title, goal.Description, targetDate, goal.Progress, goal.Active, goal.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit goal insert: %w", err)
	}
	return nil
}

// AddChallenge inserts a challenge.
func (s *SQLiteStore) AddChallenge(ctx context.Context, userID string, challenge *domain.Challenge) error {
	if challenge.ID == "" {
		challenge.ID = uuid.NewString()
	}
	if challenge.CreatedAt.IsZero() {
		challenge.CreatedAt = time.Now()
	}
	if challenge.Day == "" {
		challenge.Day = challenge.CreatedAt.Format(time.DateOnly)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO challenges (id, user_id, title, description, day, resolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		challenge.ID, userID, challenge.Title, challenge.Description, challenge.Day,
		challenge.Resolved, challenge.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert challenge: %w", err)
	}
	return nil
}

// AddHabit inserts a tracked habit.
func (s *SQLiteStore) AddHabit(ctx context.Context, userID string, habit *domain.HabitStat) error {
	if habit.ID == "" {
		habit.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO habits (id, user_id, name, current_streak, longest_streak, completion_rate, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		habit.ID, userID, habit.Name, habit.CurrentStreak, habit.LongestStreak,
		habit.CompletionRate, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert habit: %w", err)
	}
	return nil
}

// AddMoodSurvey inserts a mood survey.
func (s *SQLiteStore) AddMoodSurvey(ctx context.Context, userID string, survey *domain.MoodSurvey) error {
	if survey.ID == "" {
		survey.ID = uuid.NewString()
	}
	if survey.CreatedAt.IsZero() {
		survey.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mood_surveys (id, user_id, mood, energy, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		survey.ID, userID, survey.Mood, survey.Energy, survey.Note, survey.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert mood survey: %w", err)
	}
	return nil
}
