package domain

import "time"

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in the interview log.
type Turn struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Preferences are durable per-user settings.
type Preferences struct {
	UserID    string    `json:"user_id"`
	VoiceMute bool      `json:"voice_muted"`
	UpdatedAt time.Time `json:"updated_at"`
}
