package memory

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/domain/authstate"
)

type jarKey struct {
	domain string
	path   string
	name   string
}

type jarEntry struct {
	cookie   *http.Cookie
	hostOnly bool
	expires  time.Time // zero for session cookies
}

// CookieJar is an http.CookieJar whose contents can be enumerated and
// removed by name. Removal drops every domain and path variant of a name,
// both host-only and explicit-domain.
type CookieJar struct {
	mu      sync.Mutex
	entries map[jarKey]jarEntry
	now     func() time.Time
}

var (
	_ http.CookieJar    = (*CookieJar)(nil)
	_ authstate.Surface = (*CookieJar)(nil)
)

// NewCookieJar creates an empty jar.
func NewCookieJar() *CookieJar {
	return &CookieJar{
		entries: make(map[jarKey]jarEntry),
		now:     time.Now,
	}
}

// SetCookies stores cookies received from u. Cookies with MaxAge < 0 or an
// Expires in the past delete the matching entry.
func (j *CookieJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	host := canonicalHost(u.Host)
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	for _, c := range cookies {
		if c == nil || c.Name == "" {
			continue
		}
		domain := host
		hostOnly := true
		if c.Domain != "" {
			d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
			if !domainMatch(host, d) {
				continue
			}
			domain = d
			hostOnly = false
		}
		path := c.Path
		if path == "" || path[0] != '/' {
			path = defaultPath(u.Path)
		}

		key := jarKey{domain: domain, path: path, name: c.Name}
		var expires time.Time
		switch {
		case c.MaxAge < 0:
			delete(j.entries, key)
			continue
		case c.MaxAge > 0:
			expires = now.Add(time.Duration(c.MaxAge) * time.Second)
		case !c.Expires.IsZero():
			if !c.Expires.After(now) {
				delete(j.entries, key)
				continue
			}
			expires = c.Expires
		}

		stored := *c
		j.entries[key] = jarEntry{cookie: &stored, hostOnly: hostOnly, expires: expires}
	}
}

// Cookies returns the cookies to send to u, longest path first.
func (j *CookieJar) Cookies(u *url.URL) []*http.Cookie {
	host := canonicalHost(u.Host)
	path := u.Path
	if path == "" {
		path = "/"
	}
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	type match struct {
		path   string
		cookie *http.Cookie
	}
	var matches []match
	for key, e := range j.entries {
		if !e.expires.IsZero() && !e.expires.After(now) {
			delete(j.entries, key)
			continue
		}
		if e.hostOnly && key.domain != host {
			continue
		}
		if !e.hostOnly && !domainMatch(host, key.domain) {
			continue
		}
		if !pathMatch(path, key.path) {
			continue
		}
		if e.cookie.Secure && u.Scheme != "https" {
			continue
		}
		matches = append(matches, match{path: key.path, cookie: &http.Cookie{Name: e.cookie.Name, Value: e.cookie.Value}})
	}
	sort.Slice(matches, func(a, b int) bool {
		if len(matches[a].path) != len(matches[b].path) {
			return len(matches[a].path) > len(matches[b].path)
		}
		return matches[a].cookie.Name < matches[b].cookie.Name
	})

	out := make([]*http.Cookie, len(matches))
	for i, m := range matches {
		out[i] = m.cookie
	}
	return out
}

// Name identifies the surface in logs.
func (j *CookieJar) Name() string { return "cookie_jar" }

// Keys returns the distinct names of all live cookies.
func (j *CookieJar) Keys(context.Context) ([]string, error) {
	now := j.now()

	j.mu.Lock()
	defer j.mu.Unlock()

	seen := make(map[string]struct{})
	for key, e := range j.entries {
		if !e.expires.IsZero() && !e.expires.After(now) {
			continue
		}
		seen[key.name] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// Remove deletes every variant of the named cookie.
func (j *CookieJar) Remove(_ context.Context, name string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	for key := range j.entries {
		if key.name == name {
			delete(j.entries, key)
		}
	}
	return nil
}

func canonicalHost(hostport string) string {
	host := hostport
	if h, _, err := net.SplitHostPort(hostport); err == nil {
		host = h
	}
	return strings.ToLower(strings.TrimSuffix(host, "."))
}

func domainMatch(host, domain string) bool {
	if host == domain {
		return true
	}
	// IP addresses only match exactly.
	if net.ParseIP(host) != nil {
		return false
	}
	return strings.HasSuffix(host, "."+domain)
}

func pathMatch(reqPath, cookiePath string) bool {
	if reqPath == cookiePath {
		return true
	}
	if !strings.HasPrefix(reqPath, cookiePath) {
		return false
	}
	return strings.HasSuffix(cookiePath, "/") || reqPath[len(cookiePath)] == '/'
}

func defaultPath(p string) string {
	if p == "" || p[0] != '/' {
		return "/"
	}
	i := strings.LastIndex(p, "/")
	if i == 0 {
		return "/"
	}
	return p[:i]
}
