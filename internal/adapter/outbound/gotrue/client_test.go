package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

const testSecret = "super-secret-jwt-token-with-at-least-32-characters"

func signToken(t *testing.T, secret, sub, email string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email: email,
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("SignedString() error: %v", err)
	}
	return tok
}

type recordedRequest struct {
	Method string
	Path   string
	Query  string
	Header http.Header
	Body   map[string]any
}

type fakeBackend struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  http.HandlerFunc
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	data, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(data, &body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method: r.Method, Path: r.URL.Path, Query: r.URL.RawQuery, Header: r.Header.Clone(), Body: body,
	})
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeBackend) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) (*Client, *fakeBackend) {
	t.Helper()
	fb := &fakeBackend{handler: h}
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)

	c, err := New(srv.URL, "anon-key", opts...)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c, fb
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_Validation(t *testing.T) {
	if _, err := New("ftp://example.com", "k"); err == nil {
		t.Error("New() with ftp scheme expected error")
	}
	if _, err := New("https://abc.supabase.co", ""); err == nil {
		t.Error("New() without anon key expected error")
	}
}

func TestSignInWithPassword_Success(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	c, fb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"token_type":    "bearer",
			"expires_in":    3600,
			"expires_at":    exp.Unix(),
			"refresh_token": "refresh-1",
			"user":          map[string]any{"id": "u1", "email": "a@example.com"},
		})
	})

	s, err := c.SignInWithPassword(context.Background(), "a@example.com", "hunter22")
	if err != nil {
		t.Fatalf("SignInWithPassword() error: %v", err)
	}
	if s.AccessToken != "access-1" || s.RefreshToken != "refresh-1" {
		t.Errorf("session tokens = %q/%q", s.AccessToken, s.RefreshToken)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if s.User == nil || s.User.ID != "u1" {
		t.Errorf("User = %+v, want u1", s.User)
	}

	req := fb.last()
	if req.Method != http.MethodPost || req.Path != "/auth/v1/token" || req.Query != "grant_type=password" {
		t.Errorf("request = %s %s?%s", req.Method, req.Path, req.Query)
	}
	if req.Header.Get("apikey") != "anon-key" {
		t.Errorf("apikey header = %q", req.Header.Get("apikey"))
	}
	if req.Header.Get("X-Client-Info") == "" {
		t.Error("missing X-Client-Info header")
	}
	if req.Body["email"] != "a@example.com" || req.Body["password"] != "hunter22" {
		t.Errorf("body = %v", req.Body)
	}
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name     string
		body     map[string]any
		wantCode string
	}{
		{
			name:     "error_code shape",
			body:     map[string]any{"code": 400, "error_code": "invalid_credentials", "msg": "Invalid login credentials"},
			wantCode: "invalid_credentials",
		},
		{
			name:     "oauth shape",
			body:     map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			wantCode: "invalid_grant",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				writeJSON(w, http.StatusBadRequest, tt.body)
			})

			_, err := c.SignInWithPassword(context.Background(), "a@example.com", "wrong-password")
			var be *auth.BackendError
			if !errors.As(err, &be) {
				t.Fatalf("error = %v, want *auth.BackendError", err)
			}
			if be.Status != http.StatusBadRequest || be.Code != tt.wantCode || be.Message != "Invalid login credentials" {
				t.Errorf("BackendError = %+v", be)
			}
		})
	}
}

func TestRefreshSession_DecodesClaimsWhenUserMissing(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signToken(t, testSecret, "u2", "b@example.com", exp)
	c, fb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": token, "refresh_token": "refresh-2"})
	}, WithJWTSecret(testSecret))

	s, err := c.RefreshSession(context.Background(), "refresh-1")
	if err != nil {
		t.Fatalf("RefreshSession() error: %v", err)
	}
	if s.User == nil || s.User.ID != "u2" || s.User.Email != "b@example.com" {
		t.Errorf("User = %+v, want u2 from claims", s.User)
	}
	if !s.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", s.ExpiresAt, exp)
	}
	if q := fb.last().Query; q != "grant_type=refresh_token" {
		t.Errorf("query = %q", q)
	}
}

func TestRefreshSession_NotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": "refresh_token_not_found", "message": "Invalid Refresh Token: Refresh Token Not Found"})
	})

	_, err := c.RefreshSession(context.Background(), "gone")
	if !auth.IsAuthFailure(err) || !auth.IsRefreshTokenFailure(err) {
		t.Errorf("error = %v, want refresh token auth failure", err)
	}

	if _, err := c.RefreshSession(context.Background(), ""); !auth.IsRefreshTokenFailure(err) {
		t.Errorf("empty refresh token error = %v, want refresh token failure", err)
	}
}

func TestSignOut(t *testing.T) {
	statuses := []int{http.StatusNoContent, http.StatusUnauthorized, http.StatusNotFound}
	for _, status := range statuses {
		c, fb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
		if err := c.SignOut(context.Background(), "access"); err != nil {
			t.Errorf("SignOut() with status %d error: %v", status, err)
		}
		if got := fb.last().Header.Get("Authorization"); got != "Bearer access" {
			t.Errorf("Authorization = %q", got)
		}
	}

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	if err := c.SignOut(context.Background(), "access"); !auth.IsTransient(err) {
		t.Errorf("SignOut() on 502 error = %v, want transient", err)
	}
}

func TestGetUserAndUpdateUser(t *testing.T) {
	c, fb := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "u1", "email": "a@example.com"})
	})

	u, err := c.GetUser(context.Background(), "access")
	if err != nil || u.ID != "u1" {
		t.Fatalf("GetUser() = %+v, %v", u, err)
	}
	if fb.last().Method != http.MethodGet {
		t.Errorf("GetUser method = %s", fb.last().Method)
	}

	if _, err := c.UpdateUser(context.Background(), "access", auth.UserAttributes{Password: "new-password"}); err != nil {
		t.Fatalf("UpdateUser() error: %v", err)
	}
	req := fb.last()
	if req.Method != http.MethodPut || req.Body["password"] != "new-password" {
		t.Errorf("UpdateUser request = %s %v", req.Method, req.Body)
	}
	if _, ok := req.Body["email"]; ok {
		t.Error("UpdateUser sent an empty email")
	}
}

func TestGetMyProfile_Shapes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantRole auth.Role
		wantNil  bool
	}{
		{name: "object", body: `{"name":"Ada","image_url":null,"role":"admin"}`, wantRole: auth.RoleAdmin},
		{name: "single row", body: `[{"name":"Sam","role":"staff"}]`, wantRole: auth.RoleStaff},
		{name: "empty array", body: `[]`, wantNil: true},
		{name: "null", body: `null`, wantNil: true},
		{name: "empty body", body: ``, wantNil: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, fb := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tt.body)
			})

			p, err := c.GetMyProfile(context.Background(), "access")
			if err != nil {
				t.Fatalf("GetMyProfile() error: %v", err)
			}
			if tt.wantNil {
				if p != nil {
					t.Errorf("profile = %+v, want nil", p)
				}
				return
			}
			if p == nil || p.Role != tt.wantRole {
				t.Errorf("profile = %+v, want role %s", p, tt.wantRole)
			}
			req := fb.last()
			if req.Path != "/rest/v1/rpc/get_my_profile" || req.Header.Get("Authorization") != "Bearer access" {
				t.Errorf("request = %s %s", req.Path, req.Header.Get("Authorization"))
			}
		})
	}
}

func TestGetMyProfile_RESTError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"code": "PGRST202", "message": "Could not find the function"})
	})
	_, err := c.GetMyProfile(context.Background(), "access")
	var be *auth.BackendError
	if !errors.As(err, &be) || be.Code != "PGRST202" {
		t.Errorf("error = %v, want PGRST202 backend error", err)
	}
}

func TestTimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(30*time.Millisecond))
	defer close(release)

	_, err := c.GetUser(context.Background(), "access")
	if !errors.Is(err, auth.ErrTransient) {
		t.Errorf("error = %v, want ErrTransient", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded in chain", err)
	}
}

func TestCallsAreTraced(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]any{"error_code": "over_request_rate_limit", "msg": "Request rate limit reached"})
	}, WithTracerProvider(tp))

	_, err := c.GetUser(context.Background(), "access")
	if !auth.IsAuthFailure(err) {
		t.Fatalf("error = %v, want auth failure", err)
	}

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans = %d, want 1", len(spans))
	}
	if spans[0].Name() != "gotrue.get_user" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	if !strings.Contains(spans[0].Status().Description, "over_request_rate_limit") {
		t.Errorf("span status = %+v", spans[0].Status())
	}
}

func TestTokenDecoder(t *testing.T) {
	exp := time.Now().Add(-time.Minute).Truncate(time.Second)
	token := signToken(t, testSecret, "u1", "a@example.com", exp)

	verified := NewTokenDecoder(testSecret)
	claims, err := verified.Decode(token)
	if err != nil {
		t.Fatalf("Decode() of expired token error: %v", err)
	}
	if claims.User().ID != "u1" || !claims.Expiry().Equal(exp) {
		t.Errorf("claims = %+v", claims)
	}

	if _, err := NewTokenDecoder("another-secret-with-plenty-of-characters").Decode(token); err == nil {
		t.Error("Decode() with wrong secret expected error")
	}

	unverified := NewTokenDecoder("")
	if unverified.Verifies() {
		t.Error("empty secret must not verify")
	}
	if claims, err := unverified.Decode(token); err != nil || claims.Subject != "u1" {
		t.Errorf("unverified Decode() = %+v, %v", claims, err)
	}

	if _, err := unverified.Decode("not-a-jwt"); err == nil {
		t.Error("Decode(garbage) expected error")
	}
}
