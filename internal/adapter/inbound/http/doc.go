// Package http is the inbound HTTP adapter of dashgate.
//
// It serves the sign-in and sign-out endpoints, the /api/me helper,
// health and Prometheus metrics, and puts the session gate in front of
// every dashboard page.
//
// # Endpoints
//
//	POST /auth/sign-in   - JSON {email, password}; sets session cookies
//	POST /auth/sign-out  - revokes the session, 301 to <site_url>/login
//	GET  /api/me         - {user, profile} of the current session
//	GET  /health         - component health
//	GET  /metrics        - Prometheus metrics
//	*    /...            - gated dashboard pages (proxied upstream)
//
// # Session cookies
//
// The session is stored in a cookie named <prefix><project_ref>-auth-token
// holding "base64-" followed by base64url-encoded JSON. Values longer than
// one cookie allows are split into <name>.0, <name>.1, ... chunks.
package http
