package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/checkin/internal/domain"
)

type memoryUsers struct {
	mu       sync.Mutex
	users    map[string]*domain.User
	lastSeen int
}

func (m *memoryUsers) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[userID], nil
}

func (m *memoryUsers) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]*domain.User)
	}
	u := *user
	m.users[user.UserID] = &u
	return nil
}

func (m *memoryUsers) UpdateLastSeen(context.Context, string, time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastSeen++
	return nil
}

func TestMiddlewareIssuesCookieAndSession(t *testing.T) {
	t.Parallel()

	repo := &memoryUsers{}
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionHeaderName, "tab-42")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !anonIDPattern.MatchString(gotUser) || gotSession != "tab-42" {
		t.Fatalf("unexpected identity %q / %q", gotUser, gotSession)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if u, _ := repo.GetUser(context.Background(), gotUser); u == nil {
		t.Fatal("expected user to be created")
	}

	// A returning device keeps its ID and only refreshes last-seen.
	req = httptest.NewRequest(http.MethodGet, "/?session_id=bad%20id", nil)
	req.AddCookie(cookies[0])
	h.ServeHTTP(httptest.NewRecorder(), req)
	if repo.lastSeen != 1 {
		t.Fatalf("expected last-seen refresh, got %d", repo.lastSeen)
	}
	if gotSession != DefaultSessionIDValue {
		t.Fatalf("invalid session id must fall back to default, got %q", gotSession)
	}
}

func TestWithIdentity(t *testing.T) {
	t.Parallel()

	ctx := WithIdentity(context.Background(), "anon_0123456789abcdef0123456789abcdef", "")
	if SessionIDFromContext(ctx) != DefaultSessionIDValue {
		t.Fatal("empty session id must fall back to default")
	}
	if got := FromContext(ctx); got.UserID != "anon_0123456789abcdef0123456789abcdef" || got.SessionID != DefaultSessionIDValue {
		t.Fatalf("unexpected identity %+v", got)
	}
	if got := FromContext(context.Background()); got.UserID != "" || got.SessionID != DefaultSessionIDValue {
		t.Fatalf("missing identity must be empty with the default session, got %+v", got)
	}
}

func TestMiddlewareStoresDisplayName(t *testing.T) {
	t.Parallel()

	repo := &memoryUsers{}
	h := Middleware(repo, false)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "anon_0123456789abcdef0123456789abcdef"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	u, _ := repo.GetUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if u == nil || u.Username != "anon-89abcdef" {
		t.Fatalf("unexpected stored user %+v", u)
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure || cookies[0].Value != u.UserID {
		t.Fatalf("expected the device cookie to be re-issued securely, got %+v", cookies)
	}
}
