package gate

import (
	"path"
	"strings"
)

// DefaultExcludedPrefixes are the path prefixes the gate never handles.
var DefaultExcludedPrefixes = []string{
	"/api",
	"/_next/static",
	"/_next/image",
	"/favicon.ico",
	"/auth",
	"/health",
	"/metrics",
}

// Matcher selects which request paths pass through the gate.
type Matcher struct {
	prefixes []string
}

// NewMatcher creates a Matcher with the given excluded prefixes.
// A nil slice uses DefaultExcludedPrefixes.
func NewMatcher(excluded []string) *Matcher {
	if excluded == nil {
		excluded = DefaultExcludedPrefixes
	}
	prefixes := make([]string, 0, len(excluded))
	for _, p := range excluded {
		p = strings.TrimRight(p, "/")
		if p != "" {
			prefixes = append(prefixes, p)
		}
	}
	return &Matcher{prefixes: prefixes}
}

// Matches reports whether the gate applies to p. Excluded prefixes match
// whole path segments, so "/auth" excludes "/auth/sign-in" but not
// "/authors". Paths whose last segment has a file extension are excluded.
// p is compared in its Canonical form, so dot segments cannot reach an
// excluded prefix or pose as an extension.
func (m *Matcher) Matches(p string) bool {
	p = Canonical(p)
	for _, prefix := range m.prefixes {
		if p == prefix || strings.HasPrefix(p, prefix+"/") {
			return false
		}
	}
	if strings.Contains(path.Base(p), ".") {
		return false
	}
	return true
}

// Canonical returns p with dot segments resolved and repeated slashes
// collapsed. Backslashes count as separators. A trailing slash is kept,
// and the result always starts with "/".
func Canonical(p string) string {
	if p == "" {
		return "/"
	}
	p = strings.ReplaceAll(p, "\\", "/")
	c := path.Clean("/" + p)
	if c != "/" && strings.HasSuffix(p, "/") {
		c += "/"
	}
	return c
}
