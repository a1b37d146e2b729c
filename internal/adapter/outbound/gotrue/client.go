// Package gotrue implements auth.Backend over the hosted backend's HTTP
// API: the GoTrue auth endpoints under /auth/v1 and the get_my_profile RPC
// under /rest/v1.
package gotrue

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
)

const (
	// DefaultTimeout bounds every backend call.
	DefaultTimeout = 10 * time.Second

	// maxResponseBodySize caps backend responses.
	maxResponseBodySize = 1 << 20 // 1MB

	tracerName = "github.com/Sentinel-Gate/dashgate/gotrue"

	defaultClientInfo = "dashgate-go"
)

// Client talks to the hosted backend. Safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	anonKey    string
	httpClient *http.Client
	timeout    time.Duration
	tokens     *TokenDecoder
	tracer     trace.Tracer
	clientInfo string
	logger     *slog.Logger
	now        func() time.Time
}

// Option is a functional option for configuring Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds every call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithJWTSecret verifies access tokens with HS256.
func WithJWTSecret(secret string) Option {
	return func(c *Client) { c.tokens = NewTokenDecoder(secret) }
}

// WithTracerProvider traces calls with tp instead of the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) {
		if tp != nil {
			c.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClientInfo sets the X-Client-Info header value.
func WithClientInfo(info string) Option {
	return func(c *Client) {
		if info != "" {
			c.clientInfo = info
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client for the project at baseURL.
func New(baseURL, anonKey string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", baseURL)
	}
	if anonKey == "" {
		return nil, errors.New("backend anon key is required")
	}

	c := &Client{
		baseURL: u,
		anonKey: anonKey,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		timeout:    DefaultTimeout,
		tokens:     NewTokenDecoder(""),
		tracer:     otel.Tracer(tracerName),
		clientInfo: defaultClientInfo,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Tokens returns the access token decoder.
func (c *Client) Tokens() *TokenDecoder { return c.tokens }

// tokenResponse is the body of /auth/v1/token.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	body := map[string]string{"email": email, "password": password}
	var resp tokenResponse
	if err := c.do(ctx, "sign_in", http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}}, "", body, &resp); err != nil {
		return nil, err
	}
	return c.sessionFrom(&resp)
}

// RefreshSession exchanges a refresh token for a new session.
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*auth.Session, error) {
	if refreshToken == "" {
		return nil, &auth.BackendError{Status: http.StatusBadRequest, Code: auth.CodeRefreshTokenNotFound, Message: "Refresh Token Not Found"}
	}
	body := map[string]string{"refresh_token": refreshToken}
	var resp tokenResponse
	if err := c.do(ctx, "refresh", http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"refresh_token"}}, "", body, &resp); err != nil {
		return nil, err
	}
	return c.sessionFrom(&resp)
}

// SignOut revokes the session. A session the backend no longer knows
// counts as signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	err := c.do(ctx, "sign_out", http.MethodPost, "/auth/v1/logout", nil, accessToken, nil, nil)
	var be *auth.BackendError
	if errors.As(err, &be) {
		switch be.Status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	return err
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// GetUser returns the user behind accessToken as the backend sees it.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*auth.User, error) {
	var resp userResponse
	if err := c.do(ctx, "get_user", http.MethodGet, "/auth/v1/user", nil, accessToken, nil, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" {
		return nil, errors.New("backend returned a user without id")
	}
	return &auth.User{ID: resp.ID, Email: resp.Email}, nil
}

// UpdateUser changes the email or password of the user behind accessToken.
func (c *Client) UpdateUser(ctx context.Context, accessToken string, attrs auth.UserAttributes) (*auth.User, error) {
	var resp userResponse
	if err := c.do(ctx, "update_user", http.MethodPut, "/auth/v1/user", nil, accessToken, attrs, &resp); err != nil {
		return nil, err
	}
	return &auth.User{ID: resp.ID, Email: resp.Email}, nil
}

// GetMyProfile calls the get_my_profile RPC. The RPC may answer with an
// object, a one-element array, an empty array or null; the last two mean
// the user has no profile.
func (c *Client) GetMyProfile(ctx context.Context, accessToken string) (*auth.Profile, error) {
	var raw json.RawMessage
	if err := c.do(ctx, "get_my_profile", http.MethodPost, "/rest/v1/rpc/get_my_profile", nil, accessToken, struct{}{}, &raw); err != nil {
		return nil, err
	}
	return decodeProfile(raw)
}

func decodeProfile(raw json.RawMessage) (*auth.Profile, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	if raw[0] == '[' {
		var rows []*auth.Profile
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, fmt.Errorf("decode profile: %w", err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return rows[0], nil
	}
	var p auth.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (c *Client) sessionFrom(resp *tokenResponse) (*auth.Session, error) {
	if resp.AccessToken == "" {
		return nil, errors.New("backend returned a session without access token")
	}
	s := &auth.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		TokenType:    resp.TokenType,
	}
	switch {
	case resp.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		s.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.User != nil && resp.User.ID != "" {
		s.User = &auth.User{ID: resp.User.ID, Email: resp.User.Email}
	}

	if s.User == nil || s.ExpiresAt.IsZero() {
		claims, err := c.tokens.Decode(resp.AccessToken)
		if err != nil {
			return nil, err
		}
		if s.User == nil {
			s.User = claims.User()
		}
		if s.ExpiresAt.IsZero() {
			s.ExpiresAt = claims.Expiry()
		}
	}
	return s, nil
}

// do performs one traced, time-bounded call. in is JSON-encoded when
// non-nil; out is decoded when non-nil and the response has a body.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, bearer string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "gotrue."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	err := c.roundTrip(ctx, span, method, path, query, bearer, in, out)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var be *auth.BackendError
		if errors.As(err, &be) {
			span.SetAttributes(attribute.String("dashgate.error_code", be.Code))
		}
		c.logger.Debug("backend call failed", "op", op, "error", err)
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, span trace.Span, method, path string, query url.Values, bearer string, in, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("X-Client-Info", c.clientInfo)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.anonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", auth.ErrTransient, method, path, err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return fmt.Errorf("%w: read %s response: %w", auth.ErrTransient, path, err)
	}

	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// apiError covers both the auth API and the REST API error shapes.
type apiError struct {
	Code             json.RawMessage `json:"code"`
	ErrorCode        string          `json:"error_code"`
	Error            string          `json:"error"`
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
}

func decodeError(status int, data []byte) error {
	be := &auth.BackendError{Status: status}

	var ae apiError
	if err := json.Unmarshal(data, &ae); err != nil {
		be.Message = strings.TrimSpace(string(data))
		if be.Message == "" {
			be.Message = http.StatusText(status)
		}
		return be
	}

	var code string
	if len(ae.Code) > 0 && ae.Code[0] == '"' {
		_ = json.Unmarshal(ae.Code, &code)
	}
	switch {
	case ae.ErrorCode != "":
		be.Code = ae.ErrorCode
	case code != "":
		be.Code = code
	case ae.Error != "":
		be.Code = ae.Error
	}

	for _, m := range []string{ae.Msg, ae.Message, ae.ErrorDescription, ae.Error} {
		if m != "" {
			be.Message = m
			break
		}
	}
	if be.Message == "" {
		be.Message = http.StatusText(status)
	}
	return be
}

var _ auth.Backend = (*Client)(nil)
