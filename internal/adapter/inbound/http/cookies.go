package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

const (
	// maxChunkSize is the largest cookie value written in one piece.
	maxChunkSize = 3180

	// maxChunks bounds how many chunk cookies are read back.
	maxChunks = 32

	base64Prefix = "base64-"

	// sessionCookieMaxAge is how long browsers keep the session cookie.
	// The refresh token outlives the access token, so this is long.
	sessionCookieMaxAge = 400 * 24 * time.Hour
)

// ErrMalformedCookie is returned when the session cookie cannot be decoded.
var ErrMalformedCookie = errors.New("malformed session cookie")

// storedSession is the JSON shape kept in the cookie.
type storedSession struct {
	AccessToken  string     `json:"access_token"`
	RefreshToken string     `json:"refresh_token"`
	TokenType    string     `json:"token_type,omitempty"`
	ExpiresAt    int64      `json:"expires_at,omitempty"`
	User         *auth.User `json:"user,omitempty"`
}

// SessionCookies encodes sessions into cookies and back.
type SessionCookies struct {
	name   string
	prefix string
	secure bool
}

// NewSessionCookies creates a codec for the cookie <prefix><projectRef>-auth-token.
func NewSessionCookies(prefix, projectRef string, secure bool) *SessionCookies {
	if prefix == "" {
		prefix = authstate.DefaultPrefix
	}
	name := prefix + "auth-token"
	if projectRef != "" {
		name = prefix + projectRef + "-auth-token"
	}
	return &SessionCookies{name: name, prefix: prefix, secure: secure}
}

// Name returns the session cookie name.
func (c *SessionCookies) Name() string { return c.name }

// Prefix returns the namespace prefix.
func (c *SessionCookies) Prefix() string { return c.prefix }

// Encode serializes s into a cookie value.
func Encode(s *auth.Session) (string, error) {
	stored := storedSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		User:         s.User,
	}
	if !s.ExpiresAt.IsZero() {
		stored.ExpiresAt = s.ExpiresAt.Unix()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	return base64Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Decode parses a cookie value written by Encode. Plain JSON values are
// accepted too.
func Decode(value string) (*auth.Session, error) {
	data := []byte(value)
	if strings.HasPrefix(value, base64Prefix) {
		raw := strings.TrimPrefix(value, base64Prefix)
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(raw, "="))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedCookie, err)
		}
		data = decoded
	}
	var stored storedSession
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCookie, err)
	}
	s := &auth.Session{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		User:         stored.User,
	}
	if stored.ExpiresAt > 0 {
		s.ExpiresAt = time.Unix(stored.ExpiresAt, 0)
	}
	return s, nil
}

// Read returns the session carried by r, or (nil, nil) when there is none.
func (c *SessionCookies) Read(r *http.Request) (*auth.Session, error) {
	value, ok := c.readValue(r)
	if !ok {
		return nil, nil
	}
	return Decode(value)
}

func (c *SessionCookies) readValue(r *http.Request) (string, bool) {
	if ck, err := r.Cookie(c.name); err == nil && ck.Value != "" {
		return ck.Value, true
	}
	var b strings.Builder
	for i := 0; i < maxChunks; i++ {
		ck, err := r.Cookie(c.name + "." + strconv.Itoa(i))
		if err != nil {
			break
		}
		b.WriteString(ck.Value)
	}
	if b.Len() == 0 {
		return "", false
	}
	return b.String(), true
}

// Write sets the session cookies on w and expires stale chunks left over
// from a previous, differently sized value.
func (c *SessionCookies) Write(w http.ResponseWriter, r *http.Request, s *auth.Session) error {
	value, err := Encode(s)
	if err != nil {
		return err
	}

	written := make(map[string]bool)
	if len(value) <= maxChunkSize {
		http.SetCookie(w, c.cookie(c.name, value))
		written[c.name] = true
	} else {
		for i := 0; len(value) > 0; i++ {
			n := min(maxChunkSize, len(value))
			name := c.name + "." + strconv.Itoa(i)
			http.SetCookie(w, c.cookie(name, value[:n]))
			written[name] = true
			value = value[n:]
		}
	}

	for _, ck := range r.Cookies() {
		if c.isSessionCookie(ck.Name) && !written[ck.Name] {
			http.SetCookie(w, expired(ck.Name, ""))
		}
	}
	return nil
}

func (c *SessionCookies) isSessionCookie(name string) bool {
	if name == c.name {
		return true
	}
	rest, ok := strings.CutPrefix(name, c.name+".")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}

func (c *SessionCookies) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(sessionCookieMaxAge.Seconds()),
		HttpOnly: false, // the dashboard's browser client reads it
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func expired(name, domain string) *http.Cookie {
	return &http.Cookie{
		Name:    name,
		Value:   "",
		Path:    "/",
		Domain:  domain,
		MaxAge:  -1,
		Expires: time.Unix(0, 0),
	}
}

// ResponseCookies is the server-side auth state surface: it enumerates the
// cookies a request carries plus those this response has already set, and
// removes one by writing expiry headers. Each removal writes a path-only
// expiry and one scoped to the request hostname, since either form may have
// been used to set the cookie.
type ResponseCookies struct {
	w       http.ResponseWriter
	r       *http.Request
	mu      sync.Mutex
	removed map[string]bool
}

// NewResponseCookies creates the surface for one request.
func NewResponseCookies(w http.ResponseWriter, r *http.Request) *ResponseCookies {
	return &ResponseCookies{w: w, r: r, removed: make(map[string]bool)}
}

// Name identifies the surface in logs.
func (rc *ResponseCookies) Name() string { return "response_cookies" }

// Keys returns the names of cookies the browser will hold after this
// response, not yet removed: the request's cookies and any set live on the
// response so far, such as a session rewritten by a refresh.
func (rc *ResponseCookies) Keys(context.Context) ([]string, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if rc.removed[name] || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, ck := range rc.r.Cookies() {
		add(ck.Name)
	}
	for name, live := range rc.setOnResponse() {
		if live {
			add(name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// setOnResponse reports, per cookie name already in the response's
// Set-Cookie headers, whether the last header for it sets a live value.
func (rc *ResponseCookies) setOnResponse() map[string]bool {
	out := make(map[string]bool)
	for _, line := range rc.w.Header().Values("Set-Cookie") {
		ck, err := http.ParseSetCookie(line)
		if err != nil {
			continue
		}
		out[ck.Name] = ck.MaxAge >= 0 && (ck.Expires.IsZero() || ck.Expires.After(time.Now()))
	}
	return out
}

// Remove drops any value this response set for key and writes both expiry
// forms.
func (rc *ResponseCookies) Remove(_ context.Context, key string) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.removed[key] {
		return nil
	}
	rc.dropSet(key)
	http.SetCookie(rc.w, expired(key, ""))
	if host := requestHostname(rc.r); host != "" && net.ParseIP(host) == nil {
		http.SetCookie(rc.w, expired(key, host))
	}
	rc.removed[key] = true
	return nil
}

func (rc *ResponseCookies) dropSet(key string) {
	h := rc.w.Header()
	lines := h.Values("Set-Cookie")
	kept := lines[:0:0]
	for _, line := range lines {
		if ck, err := http.ParseSetCookie(line); err == nil && ck.Name == key {
			continue
		}
		kept = append(kept, line)
	}
	if len(kept) == len(lines) {
		return
	}
	h.Del("Set-Cookie")
	for _, line := range kept {
		h.Add("Set-Cookie", line)
	}
}

// requestHostname returns the request host without port.
func requestHostname(r *http.Request) string {
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}

var _ authstate.Surface = (*ResponseCookies)(nil)

// clearNamespace expires every cookie of the request whose name starts
// with prefix.
func clearNamespace(ctx context.Context, w http.ResponseWriter, r *http.Request, prefix string) int {
	store := authstate.NewStore(prefix, LoggerFromContext(ctx), NewResponseCookies(w, r))
	return store.ClearAll(ctx)
}
