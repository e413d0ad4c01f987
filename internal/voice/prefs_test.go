package voice

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ashureev/checkin/internal/store"
)

func TestStorePreferencesRoundTrip(t *testing.T) {
	t.Parallel()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "prefs.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer func() { _ = repo.Close() }()

	prefs := NewStorePreferences(repo)
	ctx := context.Background()

	muted, err := prefs.VoiceMuted(ctx, "u1")
	if err != nil || muted {
		t.Fatalf("expected unmuted default, got %v, %v", muted, err)
	}
	if err := prefs.SetVoiceMuted(ctx, "u1", true); err != nil {
		t.Fatalf("SetVoiceMuted: %v", err)
	}

	p := NewPlayer(ctx, PlayerConfig{UserID: "u1", Prefs: prefs})
	if !p.Muted() {
		t.Fatal("player must start muted from stored preference")
	}
	_ = p.Close()
}
