package voice

import (
	"context"
	"fmt"

	"github.com/ashureev/checkin/internal/store"
)

// StorePreferences keeps the mute setting in the repository.
type StorePreferences struct {
	repo store.Repository
}

// NewStorePreferences adapts repo to PreferenceStore.
func NewStorePreferences(repo store.Repository) *StorePreferences {
	return &StorePreferences{repo: repo}
}

// VoiceMuted returns false for users who never chose.
func (p *StorePreferences) VoiceMuted(ctx context.Context, userID string) (bool, error) {
	prefs, err := p.repo.GetPreferences(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load preferences: %w", err)
	}
	if prefs == nil {
		return false, nil
	}
	return prefs.VoiceMute, nil
}

// SetVoiceMuted persists the mute setting.
func (p *StorePreferences) SetVoiceMuted(ctx context.Context, userID string, muted bool) error {
	return p.repo.SetVoiceMute(ctx, userID, muted)
}
