package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	httpadapter "github.com/Sentinel-Gate/dashgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/gotrue"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/dashgate/internal/client"
	"github.com/Sentinel-Gate/dashgate/internal/config"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/dashgate/internal/telemetry"
)

// loadConfig reads, defaults and validates the configuration. dev forces
// development mode before the dev defaults are applied.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger returns a text logger writing to w at the configured level.
// DevMode always forces debug.
func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// duration parses a validated duration string, returning fallback for "".
func duration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// projectRef returns the configured project ref or the first label of
// the backend host (abcdefgh.supabase.co -> abcdefgh).
func projectRef(cfg *config.Config) string {
	if cfg.Backend.ProjectRef != "" {
		return cfg.Backend.ProjectRef
	}
	u, err := url.Parse(cfg.Backend.URL)
	if err != nil {
		return ""
	}
	host := u.Hostname()
	if net.ParseIP(host) != nil || strings.Count(host, ".") < 2 {
		return ""
	}
	return strings.SplitN(host, ".", 2)[0]
}

// sessionCookies returns the cookie codec shared by the server and the CLI.
func sessionCookies(cfg *config.Config) *httpadapter.SessionCookies {
	return httpadapter.NewSessionCookies(cfg.Auth.CookiePrefix, projectRef(cfg), cfg.Auth.CookieSecure)
}

// newBackend creates the hosted auth backend client.
func newBackend(cfg *config.Config, tp trace.TracerProvider, logger *slog.Logger) (*gotrue.Client, error) {
	return gotrue.New(cfg.Backend.URL, cfg.Backend.AnonKey,
		gotrue.WithTimeout(duration(cfg.Backend.Timeout, gotrue.DefaultTimeout)),
		gotrue.WithJWTSecret(cfg.Backend.JWTSecret),
		gotrue.WithTracerProvider(tp),
		gotrue.WithClientInfo("dashgate-cli/"+Version),
		gotrue.WithLogger(logger),
	)
}

// resolveStoragePath returns the local storage file: CLI flag > config.
func resolveStoragePath(cfg *config.Config) string {
	if storagePath != "" {
		return storagePath
	}
	return cfg.Client.StoragePath
}

// clientEnv is a client runtime together with what it needs torn down.
type clientEnv struct {
	cfg       *config.Config
	logger    *slog.Logger
	local     *state.LocalStorage
	runtime   *client.Runtime
	providers *telemetry.Providers
}

// openClient builds the client runtime used by login, whoami and logout.
func openClient(ctx context.Context) (*clientEnv, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)

	providers, err := telemetry.New(cfg.Telemetry, Version, os.Stderr)
	if err != nil {
		return nil, err
	}
	backend, err := newBackend(cfg, providers.Tracer, logger)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, err
	}
	siteURL, err := url.Parse(cfg.Server.SiteURL)
	if err != nil {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("invalid site url: %w", err)
	}

	path := resolveStoragePath(cfg)
	if path == "" {
		_ = providers.Shutdown(ctx)
		return nil, fmt.Errorf("no storage path: set client.storage_path or --storage")
	}
	local := state.NewLocalStorage(path, logger)

	rt := client.New(ctx, backend, local, logger,
		client.WithSiteURL(siteURL),
		client.WithLoginURL(cfg.Client.LoginURL),
		client.WithCookies(sessionCookies(cfg)),
		client.WithErrorPolicy(cfg.Client.ErrorThreshold, duration(cfg.Client.ErrorWindow, ratelimit.DefaultErrorWindow)),
		client.WithMeterProvider(providers.Meter),
	)
	return &clientEnv{cfg: cfg, logger: logger, local: local, runtime: rt, providers: providers}, nil
}

// Close stops the runtime and flushes telemetry.
func (e *clientEnv) Close() {
	e.runtime.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.providers.Shutdown(ctx); err != nil {
		e.logger.Warn("telemetry shutdown failed", "error", err)
	}
}
