package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeBackend is an in-memory auth.Backend.
type fakeBackend struct {
	mu       sync.Mutex
	profiles map[string]*auth.Profile // by access token
	signIn   func(email, password string) (*auth.Session, error)
	refresh  func(token string) (*auth.Session, error)
	users    map[string]*auth.User // by access token

	signInCalls  int
	signOutCalls []string
	refreshCalls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		profiles: make(map[string]*auth.Profile),
		users:    make(map[string]*auth.User),
	}
}

func (b *fakeBackend) SignInWithPassword(_ context.Context, email, password string) (*auth.Session, error) {
	b.mu.Lock()
	b.signInCalls++
	fn := b.signIn
	b.mu.Unlock()
	if fn == nil {
		return nil, &auth.BackendError{Status: 400, Code: "invalid_credentials", Message: "Invalid login credentials"}
	}
	return fn(email, password)
}

func (b *fakeBackend) RefreshSession(_ context.Context, token string) (*auth.Session, error) {
	b.mu.Lock()
	b.refreshCalls++
	fn := b.refresh
	b.mu.Unlock()
	if fn == nil {
		return nil, &auth.BackendError{Status: 400, Code: auth.CodeRefreshTokenNotFound, Message: "Invalid Refresh Token"}
	}
	return fn(token)
}

func (b *fakeBackend) SignOut(_ context.Context, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signOutCalls = append(b.signOutCalls, token)
	return nil
}

func (b *fakeBackend) GetUser(_ context.Context, token string) (*auth.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if u, ok := b.users[token]; ok {
		return u, nil
	}
	return nil, &auth.BackendError{Status: 401, Code: "bad_jwt", Message: "invalid JWT"}
}

func (b *fakeBackend) UpdateUser(_ context.Context, token string, _ auth.UserAttributes) (*auth.User, error) {
	return b.GetUser(context.Background(), token)
}

func (b *fakeBackend) GetMyProfile(_ context.Context, token string) (*auth.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profiles[token], nil
}

func (b *fakeBackend) signOuts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.signOutCalls...)
}

// recordingAudit collects audit records.
type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (r *recordingAudit) Record(rec audit.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingAudit) events() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.Event)
	}
	return out
}

type testServer struct {
	*Server
	backend *fakeBackend
	audit   *recordingAudit
	cookies *SessionCookies
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	backend := newFakeBackend()
	rec := &recordingAudit{}
	cookies := NewSessionCookies("sb-", "abcdefgh", false)
	loader := NewSessionLoader(cookies, backend, nil, time.Second)
	lookup := gate.ProfileLookupFunc(func(ctx context.Context, s *auth.Session) (*auth.Profile, error) {
		return backend.GetMyProfile(ctx, s.AccessToken)
	})
	g := gate.New(lookup, discardLogger())

	base := []Option{
		WithLogger(discardLogger()),
		WithSiteURL("https://admin.example.com"),
		WithAuditRecorder(rec),
	}
	srv := NewServer(backend, g, loader, cookies, append(base, opts...)...)
	return &testServer{Server: srv, backend: backend, audit: rec, cookies: cookies}
}

// do sends req through the full handler chain.
func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	return rec
}

// withSession attaches s as the session cookie of req.
func (ts *testServer) withSession(t *testing.T, req *http.Request, s *auth.Session) *http.Request {
	t.Helper()
	value, err := Encode(s)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	req.AddCookie(&http.Cookie{Name: ts.cookies.Name(), Value: value})
	return req
}

func adminSession(token string) *auth.Session {
	return &auth.Session{
		AccessToken:  token,
		RefreshToken: "refresh-" + token,
		TokenType:    "bearer",
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         &auth.User{ID: "user-" + token, Email: token + "@example.com"},
	}
}

// expiredCookies returns the names of cookies the response expires.
func expiredCookies(rec *httptest.ResponseRecorder) map[string]int {
	out := make(map[string]int)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			out[c.Name]++
		}
	}
	return out
}
