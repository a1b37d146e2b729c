package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
)

func signInRequestBody(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/auth/sign-in", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeFieldErrors(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body struct {
		Errors map[string]string `json:"errors"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return body.Errors
}

func TestSignIn_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		body       string
		wantFields []string
	}{
		{"empty", `{}`, []string{"email", "password"}},
		{"bad email", `{"email":"nope","password":"secret123"}`, []string{"email"}},
		{"short password", `{"email":"a@example.com","password":"123"}`, []string{"password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := newTestServer(t)
			rec := ts.do(signInRequestBody(tt.body))

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			fields := decodeFieldErrors(t, rec)
			if len(fields) != len(tt.wantFields) {
				t.Errorf("fields = %v, want keys %v", fields, tt.wantFields)
			}
			for _, f := range tt.wantFields {
				if fields[f] == "" {
					t.Errorf("missing message for %q in %v", f, fields)
				}
			}
			if ts.backend.signInCalls != 0 {
				t.Errorf("backend called %d times on invalid input", ts.backend.signInCalls)
			}
		})
	}
}

func TestSignIn_BackendRejection(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(signInRequestBody(`{"email":"a@example.com","password":"wrongpass"}`))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if got := decodeFieldErrors(t, rec)["password"]; got != "Invalid login credentials" {
		t.Errorf("password error = %q, want backend message", got)
	}
	if len(rec.Result().Cookies()) != 0 {
		t.Error("cookies set on rejected sign-in")
	}
	if got := testutil.ToFloat64(ts.Metrics().SignInTotal.WithLabelValues("rejected")); got != 1 {
		t.Errorf("rejected sign-ins = %v, want 1", got)
	}
}

func TestSignIn_Success(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.backend.signIn = func(email, password string) (*auth.Session, error) {
		if email != "a@example.com" || password != "secret123" {
			return nil, errors.New("unexpected credentials")
		}
		return adminSession("a"), nil
	}

	rec := ts.do(signInRequestBody(`{"email":"a@example.com","password":"secret123"}`))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200; body %s", rec.Code, rec.Body.String())
	}

	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil || !body["success"] {
		t.Errorf("body = %v (%v), want success true", body, err)
	}

	var found bool
	for _, c := range rec.Result().Cookies() {
		if c.Name != ts.cookies.Name() {
			continue
		}
		found = true
		if c.Path != "/" || c.SameSite != http.SameSiteLaxMode {
			t.Errorf("cookie attributes path=%q samesite=%v", c.Path, c.SameSite)
		}
		s, err := Decode(c.Value)
		if err != nil || s.AccessToken != "a" || s.User.ID != "user-a" {
			t.Errorf("cookie session = %+v (%v)", s, err)
		}
	}
	if !found {
		t.Error("session cookie not set")
	}
	if events := ts.audit.events(); len(events) != 1 || events[0] != audit.EventSignIn {
		t.Errorf("audit events = %v", events)
	}
}

func TestSignIn_ServerErrors(t *testing.T) {
	t.Parallel()

	t.Run("unparseable body", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		rec := ts.do(signInRequestBody(`{not json`))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if got := decodeFieldErrors(t, rec)["password"]; !strings.HasPrefix(got, "Server error: ") {
			t.Errorf("password error = %q, want Server error prefix", got)
		}
	})

	t.Run("transport failure", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		ts.backend.signIn = func(string, string) (*auth.Session, error) {
			return nil, fmt.Errorf("%w: dial tcp: connection refused", auth.ErrTransient)
		}
		rec := ts.do(signInRequestBody(`{"email":"a@example.com","password":"secret123"}`))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
		if got := decodeFieldErrors(t, rec)["password"]; !strings.Contains(got, "connection refused") {
			t.Errorf("password error = %q", got)
		}
	})

	t.Run("backend 5xx", func(t *testing.T) {
		t.Parallel()
		ts := newTestServer(t)
		ts.backend.signIn = func(string, string) (*auth.Session, error) {
			return nil, &auth.BackendError{Status: 503, Message: "Service Unavailable"}
		}
		rec := ts.do(signInRequestBody(`{"email":"a@example.com","password":"secret123"}`))
		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("status = %d, want 500", rec.Code)
		}
	})
}

func TestSignIn_RateLimited(t *testing.T) {
	t.Parallel()

	limiter := memory.NewRateLimiter()
	ts := newTestServer(t, WithSignInLimit(limiter, ratelimit.RateLimitConfig{Rate: 2, Burst: 2, Period: time.Minute}))

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		req := signInRequestBody(`{"email":"a@example.com","password":"wrongpass"}`)
		req.RemoteAddr = "203.0.113.9:5555"
		last = ts.do(req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt status = %d, want 429", last.Code)
	}
	if got := decodeFieldErrors(t, last)["password"]; got != throttledMessage {
		t.Errorf("password error = %q", got)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	if ts.backend.signInCalls != 2 {
		t.Errorf("backend calls = %d, want 2", ts.backend.signInCalls)
	}

	other := signInRequestBody(`{"email":"a@example.com","password":"wrongpass"}`)
	other.RemoteAddr = "198.51.100.1:5555"
	if rec := ts.do(other); rec.Code != http.StatusUnauthorized {
		t.Errorf("other client status = %d, want 401", rec.Code)
	}
}

func TestSignIn_AccountRateLimited(t *testing.T) {
	t.Parallel()

	limiter := memory.NewRateLimiter()
	ts := newTestServer(t,
		WithSignInLimit(limiter, ratelimit.RateLimitConfig{Rate: 100, Burst: 100, Period: time.Minute}),
		WithAccountSignInLimit(ratelimit.RateLimitConfig{Rate: 2, Burst: 2, Period: time.Minute}),
	)

	emails := []string{"a@example.com", "A@Example.com", " a@example.com"}
	var last *httptest.ResponseRecorder
	for i, email := range emails {
		req := signInRequestBody(`{"email":"` + strings.TrimSpace(email) + `","password":"wrongpass"}`)
		req.RemoteAddr = fmt.Sprintf("203.0.113.%d:5555", i+1)
		last = ts.do(req)
	}

	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt on one account status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("Retry-After not set")
	}
	if ts.backend.signInCalls != 2 {
		t.Errorf("backend calls = %d, want 2", ts.backend.signInCalls)
	}

	other := signInRequestBody(`{"email":"b@example.com","password":"wrongpass"}`)
	other.RemoteAddr = "203.0.113.1:5555"
	if rec := ts.do(other); rec.Code != http.StatusUnauthorized {
		t.Errorf("other account status = %d, want 401", rec.Code)
	}
}

func TestSignOut(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	req := ts.withSession(t, httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil), adminSession("a"))
	rec := ts.do(req)

	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://admin.example.com/login" {
		t.Errorf("Location = %q", loc)
	}
	if got := ts.backend.signOuts(); len(got) != 1 || got[0] != "a" {
		t.Errorf("backend sign-outs = %v", got)
	}
	if expiredCookies(rec)[ts.cookies.Name()] == 0 {
		t.Error("session cookie not expired")
	}
	if events := ts.audit.events(); len(events) != 1 || events[0] != audit.EventSignOut {
		t.Errorf("audit events = %v", events)
	}
}

func TestSignOut_WithoutSession(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	rec := ts.do(httptest.NewRequest(http.MethodPost, "/auth/sign-out", nil))
	if rec.Code != http.StatusMovedPermanently {
		t.Fatalf("status = %d, want 301", rec.Code)
	}
}

func TestMe(t *testing.T) {
	t.Parallel()

	ts := newTestServer(t)
	ts.backend.users["a"] = &auth.User{ID: "user-a", Email: "a@example.com"}
	ts.backend.profiles["a"] = &auth.Profile{Name: "Ada", Role: auth.RoleAdmin}

	rec := ts.do(ts.withSession(t, httptest.NewRequest(http.MethodGet, "/api/me", nil), adminSession("a")))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var v auth.Viewer
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatal(err)
	}
	if v.User.ID != "user-a" || v.Profile == nil || v.Profile.Name != "Ada" {
		t.Errorf("viewer = %+v", v)
	}

	anon := ts.do(httptest.NewRequest(http.MethodGet, "/api/me", nil))
	if anon.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d, want 401", anon.Code)
	}

	revoked := ts.do(ts.withSession(t, httptest.NewRequest(http.MethodGet, "/api/me", nil), adminSession("gone")))
	if revoked.Code != http.StatusUnauthorized {
		t.Errorf("revoked status = %d, want 401", revoked.Code)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	boom := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })

	rec := httptest.NewRecorder()
	RecoverMiddleware(boom).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/sign-in", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeFieldErrors(t, rec)["password"]; !strings.HasPrefix(got, "Server error") {
		t.Errorf("password error = %q", got)
	}
	if strings.Contains(rec.Body.String(), "goroutine") {
		t.Error("stack trace leaked into response")
	}
}
