// Package identity ties requests to an anonymous device and a browser tab.
//
// A device is identified by a long-lived cookie; the tab by a header (or a
// query parameter for WebSocket upgrades). One device can run several
// interviews side by side, one per tab.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/checkin/internal/domain"
)

const (
	AnonCookieName        = "checkin_anon_id"
	SessionHeaderName     = "X-Checkin-Session-ID"
	DefaultSessionIDValue = "default"
	anonCookieMaxAge      = 30 * 24 * time.Hour
)

var (
	anonIDPattern    = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)
	sessionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// Identity is the device and tab a request belongs to.
type Identity struct {
	UserID    string
	SessionID string
}

type identityKey struct{}

// FromContext returns the request identity. SessionID is never empty.
func FromContext(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey{}).(Identity)
	if id.SessionID == "" {
		id.SessionID = DefaultSessionIDValue
	}
	return id
}

// UserIDFromContext extracts the device user ID, or "" when absent.
func UserIDFromContext(ctx context.Context) string {
	return FromContext(ctx).UserID
}

// SessionIDFromContext extracts the tab session ID.
func SessionIDFromContext(ctx context.Context) string {
	return FromContext(ctx).SessionID
}

// WithIdentity returns ctx carrying the given user and tab session.
func WithIdentity(ctx context.Context, userID, sessionID string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{
		UserID:    userID,
		SessionID: sanitizeSessionID(sessionID),
	})
}

func newAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func sanitizeSessionID(id string) string {
	id = strings.TrimSpace(id)
	if !sessionIDPattern.MatchString(id) {
		return DefaultSessionIDValue
	}
	return id
}

// displayName is the stored name of an anonymous device.
func displayName(userID string) string {
	if len(userID) > 13 {
		return "anon-" + userID[len(userID)-8:]
	}
	return "anon-user"
}

// UserStore is the part of the repository identity needs.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*domain.User, error)
	UpsertUser(ctx context.Context, user *domain.User) error
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error
}

// touchUser records a visit, creating the user row on first sight.
func touchUser(ctx context.Context, repo UserStore, userID string, now time.Time) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if user != nil {
		return repo.UpdateLastSeen(ctx, userID, now)
	}
	return repo.UpsertUser(ctx, &domain.User{
		UserID:     userID,
		Username:   displayName(userID),
		LastSeenAt: now,
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

// deviceID returns the cookie's device ID or mints a new one. The cookie
// is re-issued on every request so its expiry slides.
func deviceID(w http.ResponseWriter, r *http.Request, secure bool, now time.Time) (string, error) {
	var id string
	if c, err := r.Cookie(AnonCookieName); err == nil && anonIDPattern.MatchString(c.Value) {
		id = c.Value
	} else if id, err = newAnonID(); err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  now.Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   secure,
	})
	return id, nil
}

func tabID(r *http.Request) string {
	if sid := r.Header.Get(SessionHeaderName); sid != "" {
		return sid
	}
	return r.URL.Query().Get("session_id")
}

// Middleware attaches the device and tab identity to every request.
func Middleware(repo UserStore, isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			now := time.Now()
			userID, err := deviceID(w, r, !isDev, now)
			if err != nil {
				http.Error(w, `{"error":"failed to establish anonymous identity"}`, http.StatusInternalServerError)
				return
			}
			if err := touchUser(r.Context(), repo, userID, now); err != nil {
				http.Error(w, `{"error":"failed to initialize anonymous user"}`, http.StatusInternalServerError)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), userID, tabID(r))))
		})
	}
}
