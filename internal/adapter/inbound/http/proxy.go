package http

import (
	"crypto/tls"
	"fmt"
	"html"
	"log/slog"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"
)

// NewUpstreamProxy forwards admitted requests to the dashboard UI at target.
// The admitted user is passed along in X-Dashgate-User-Id and
// X-Dashgate-Role; any client-supplied values are stripped first.
func NewUpstreamProxy(target string, logger *slog.Logger) (http.Handler, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("upstream url %q: scheme must be http or https", target)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     90 * time.Second,
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(u)
			pr.SetXForwarded()
			pr.Out.Host = pr.In.Host
			pr.Out.Header.Del("X-Dashgate-User-Id")
			pr.Out.Header.Del("X-Dashgate-Role")
			if v, ok := ViewerFromContext(pr.In.Context()); ok && v.User != nil {
				pr.Out.Header.Set("X-Dashgate-User-Id", v.User.ID)
				pr.Out.Header.Set("X-Dashgate-Role", roleOf(v.Profile))
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			LoggerFromContext(r.Context()).Error("upstream request failed", "path", r.URL.Path, "error", err)
			respondError(r.Context(), w, http.StatusBadGateway, "dashboard unavailable")
		},
	}
	logger.Info("proxying dashboard", "upstream", u.Redacted())
	return proxy, nil
}

// placeholderHandler stands in for the dashboard when no upstream is
// configured. It shows who the gate admitted.
func placeholderHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		body := "<p>No dashboard upstream configured.</p>"
		if v, ok := ViewerFromContext(r.Context()); ok && v.User != nil {
			body = fmt.Sprintf("<p>Signed in as %s (%s).</p><form method=\"post\" action=\"/auth/sign-out\"><button>Sign out</button></form>",
				html.EscapeString(v.User.Email), html.EscapeString(roleOf(v.Profile)))
		}
		fmt.Fprintf(w, "<!doctype html><title>dashgate</title><h1>%s</h1>%s", html.EscapeString(r.URL.Path), body)
	})
}
