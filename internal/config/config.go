// Package config provides configuration types for dashgate.
//
// dashgate is configured from a single YAML file plus DASHGATE_* environment
// overrides. The same file drives both the gate server (dashgate start) and
// the client runtime used by the login, whoami, logout and reset commands.
package config

import (
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for dashgate.
type Config struct {
	// Server configures the HTTP listener of the gate.
	Server ServerConfig `yaml:"server" mapstructure:"server"`

	// Backend configures the hosted authentication backend.
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`

	// Auth configures the session cookies and the authorization rule.
	Auth AuthConfig `yaml:"auth" mapstructure:"auth"`

	// Gate configures request classification and lookup bounds.
	Gate GateConfig `yaml:"gate" mapstructure:"gate"`

	// Upstream configures the dashboard the gate proxies to.
	// Optional: when empty, allowed requests get a built-in placeholder page.
	Upstream UpstreamConfig `yaml:"upstream" mapstructure:"upstream"`

	// Client configures the client runtime (CLI commands).
	Client ClientConfig `yaml:"client" mapstructure:"client"`

	// RateLimit configures sign-in throttling.
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`

	// ProfileCache configures the optional shared profile lookup cache.
	ProfileCache ProfileCacheConfig `yaml:"profile_cache" mapstructure:"profile_cache"`

	// Audit configures where auth audit records are written.
	Audit AuditConfig `yaml:"audit" mapstructure:"audit"`

	// Telemetry configures tracing of backend calls and client metrics.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`

	// DevMode enables development features (verbose logging, insecure cookies).
	DevMode bool `yaml:"dev_mode" mapstructure:"dev_mode"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// HTTPAddr is the address to listen on (e.g., "127.0.0.1:3000").
	// Defaults to "127.0.0.1:3000" if empty.
	HTTPAddr string `yaml:"http_addr" mapstructure:"http_addr" validate:"omitempty,hostname_port"`

	// LogLevel sets the minimum log level.
	// Valid values: "debug", "info", "warn", "error".
	// DevMode=true overrides to "debug".
	LogLevel string `yaml:"log_level" mapstructure:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	// SiteURL is the public base URL of the dashboard. Sign-out redirects to
	// SiteURL + "/login".
	SiteURL string `yaml:"site_url" mapstructure:"site_url" validate:"omitempty,url"`
}

// BackendConfig configures the hosted authentication backend.
type BackendConfig struct {
	// URL is the base URL of the backend project (e.g., "https://abc.supabase.co").
	URL string `yaml:"url" mapstructure:"url" validate:"required,url"`

	// AnonKey is the public API key sent in the apikey header.
	AnonKey string `yaml:"anon_key" mapstructure:"anon_key" validate:"required"`

	// ProjectRef names the project in the session cookie key.
	// Derived from the first label of the URL host when empty.
	ProjectRef string `yaml:"project_ref" mapstructure:"project_ref"`

	// JWTSecret verifies access tokens with HS256 when set.
	// When empty, tokens are decoded without signature verification.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	// Timeout bounds every backend call (e.g., "10s").
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

// AuthConfig configures session cookies and authorization.
type AuthConfig struct {
	// CookiePrefix is the namespace prefix of every cookie and storage key
	// owned by the auth layer. Defaults to "sb-".
	CookiePrefix string `yaml:"cookie_prefix" mapstructure:"cookie_prefix"`

	// AllowedRoles are the roles permitted to use the dashboard.
	// Defaults to ["admin", "super_admin"].
	AllowedRoles []string `yaml:"allowed_roles" mapstructure:"allowed_roles" validate:"omitempty,dive,required"`

	// AccessCondition is an optional CEL expression that replaces the role
	// check. Variables: role, user_id, email, path.
	AccessCondition string `yaml:"access_condition" mapstructure:"access_condition"`

	// CookieSecure marks session cookies Secure. Defaults to true outside dev mode.
	CookieSecure bool `yaml:"cookie_secure" mapstructure:"cookie_secure"`
}

// GateConfig configures the session gate.
type GateConfig struct {
	// SessionTimeout bounds session loading, including token refresh (e.g., "5s").
	SessionTimeout string `yaml:"session_timeout" mapstructure:"session_timeout"`

	// LookupTimeout bounds the profile lookup (e.g., "5s").
	LookupTimeout string `yaml:"lookup_timeout" mapstructure:"lookup_timeout"`

	// ExcludedPrefixes are path-segment prefixes the gate never sees.
	ExcludedPrefixes []string `yaml:"excluded_prefixes" mapstructure:"excluded_prefixes" validate:"omitempty,dive,startswith=/"`
}

// UpstreamConfig configures the dashboard upstream.
type UpstreamConfig struct {
	// URL of the dashboard application (e.g., "http://127.0.0.1:3001").
	URL string `yaml:"url" mapstructure:"url" validate:"omitempty,url"`
}

// ClientConfig configures the client runtime.
type ClientConfig struct {
	// StoragePath is the local storage file of the client runtime.
	// Defaults to ~/.dashgate/storage.json.
	StoragePath string `yaml:"storage_path" mapstructure:"storage_path"`

	// ErrorWindow is the window of the auth error tracker (e.g., "10s").
	ErrorWindow string `yaml:"error_window" mapstructure:"error_window"`

	// ErrorThreshold is the number of failures within ErrorWindow that
	// triggers recovery. Defaults to 5.
	ErrorThreshold int `yaml:"error_threshold" mapstructure:"error_threshold" validate:"omitempty,min=1"`

	// LoginURL is where recovery sends the user. Defaults to SiteURL + "/login".
	LoginURL string `yaml:"login_url" mapstructure:"login_url" validate:"omitempty,url"`
}

// RateLimitConfig configures sign-in throttling.
type RateLimitConfig struct {
	// Enabled turns sign-in throttling on or off.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`

	// SignInRate is the maximum sign-in attempts per minute per IP address.
	// Defaults to 10.
	SignInRate int `yaml:"sign_in_rate" mapstructure:"sign_in_rate" validate:"omitempty,min=1"`

	// AccountSignInRate is the maximum sign-in attempts per minute for one
	// email address, across all clients. Defaults to 5.
	AccountSignInRate int `yaml:"account_sign_in_rate" mapstructure:"account_sign_in_rate" validate:"omitempty,min=1"`

	// CleanupInterval is how often expired rate limit entries are removed (e.g., "5m").
	CleanupInterval string `yaml:"cleanup_interval" mapstructure:"cleanup_interval"`

	// MaxTTL is the maximum age of a rate limit entry before removal (e.g., "1h").
	MaxTTL string `yaml:"max_ttl" mapstructure:"max_ttl"`
}

// ProfileCacheConfig configures the shared profile lookup cache.
type ProfileCacheConfig struct {
	// RedisURL enables a Redis-backed cache (e.g., "redis://localhost:6379/0").
	// When empty, profiles are looked up on every gated request.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url" validate:"omitempty,url"`

	// TTL is how long a cached profile is trusted (e.g., "30s").
	TTL string `yaml:"ttl" mapstructure:"ttl"`
}

// AuditConfig configures audit output.
type AuditConfig struct {
	// Output specifies where audit records are written.
	// Valid values: "stdout", "file:///abs/path.log" or "sqlite:///abs/path.db".
	Output string `yaml:"output" mapstructure:"output" validate:"required,audit_output"`

	// ChannelSize is the buffer size of the audit channel.
	ChannelSize int `yaml:"channel_size" mapstructure:"channel_size" validate:"omitempty,min=1"`

	// BatchSize is the number of records batched before a write.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size" validate:"omitempty,min=1"`

	// FlushInterval is how often pending records are flushed (e.g., "1s").
	FlushInterval string `yaml:"flush_interval" mapstructure:"flush_interval"`
}

// TelemetryConfig configures OpenTelemetry exporters.
type TelemetryConfig struct {
	// Tracing selects the span exporter: "none" or "stdout".
	Tracing string `yaml:"tracing" mapstructure:"tracing" validate:"omitempty,oneof=none stdout"`
	// Metrics selects the exporter for client runtime metrics: "none" or "stdout".
	Metrics string `yaml:"metrics" mapstructure:"metrics" validate:"omitempty,oneof=none stdout"`
}

// SetDefaults applies default values to the configuration.
func (c *Config) SetDefaults() {
	// Bind to localhost only unless the operator asks otherwise.
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:3000"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.SiteURL == "" {
		c.Server.SiteURL = "http://" + c.Server.HTTPAddr
	}

	if c.Backend.Timeout == "" {
		c.Backend.Timeout = "10s"
	}

	if c.Auth.CookiePrefix == "" {
		c.Auth.CookiePrefix = "sb-"
	}
	if len(c.Auth.AllowedRoles) == 0 {
		c.Auth.AllowedRoles = []string{"admin", "super_admin"}
	}
	// viper.IsSet distinguishes "not set" from "explicitly false".
	if !viper.IsSet("auth.cookie_secure") {
		c.Auth.CookieSecure = !c.DevMode
	}

	if c.Gate.SessionTimeout == "" {
		c.Gate.SessionTimeout = "5s"
	}
	if c.Gate.LookupTimeout == "" {
		c.Gate.LookupTimeout = "5s"
	}
	if len(c.Gate.ExcludedPrefixes) == 0 {
		c.Gate.ExcludedPrefixes = []string{
			"/api",
			"/_next/static",
			"/_next/image",
			"/favicon.ico",
			"/auth",
			"/health",
			"/metrics",
		}
	}

	if c.Client.StoragePath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Client.StoragePath = filepath.Join(home, ".dashgate", "storage.json")
		}
	}
	if c.Client.ErrorWindow == "" {
		c.Client.ErrorWindow = "10s"
	}
	if c.Client.ErrorThreshold == 0 {
		c.Client.ErrorThreshold = 5
	}
	if c.Client.LoginURL == "" {
		c.Client.LoginURL = c.Server.SiteURL + "/login"
	}

	if !viper.IsSet("rate_limit.enabled") {
		c.RateLimit.Enabled = true
	}
	if c.RateLimit.SignInRate == 0 {
		c.RateLimit.SignInRate = 10
	}
	if c.RateLimit.AccountSignInRate == 0 {
		c.RateLimit.AccountSignInRate = 5
	}
	if c.RateLimit.CleanupInterval == "" {
		c.RateLimit.CleanupInterval = "5m"
	}
	if c.RateLimit.MaxTTL == "" {
		c.RateLimit.MaxTTL = "1h"
	}

	if c.ProfileCache.TTL == "" {
		c.ProfileCache.TTL = "30s"
	}

	if c.Audit.Output == "" {
		c.Audit.Output = "stdout"
	}
	if c.Audit.ChannelSize == 0 {
		c.Audit.ChannelSize = 1000
	}
	if c.Audit.BatchSize == 0 {
		c.Audit.BatchSize = 100
	}
	if c.Audit.FlushInterval == "" {
		c.Audit.FlushInterval = "1s"
	}

	if c.Telemetry.Tracing == "" {
		c.Telemetry.Tracing = "none"
	}
	if c.Telemetry.Metrics == "" {
		c.Telemetry.Metrics = "none"
	}
}

// SetDevDefaults applies permissive defaults for development mode.
// Call it after any CLI override of DevMode and before Validate.
func (c *Config) SetDevDefaults() {
	if !c.DevMode {
		return
	}
	c.Server.LogLevel = "debug"
	if !viper.IsSet("auth.cookie_secure") {
		c.Auth.CookieSecure = false
	}
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() Config {
	out := *c
	if out.Backend.AnonKey != "" {
		out.Backend.AnonKey = "****"
	}
	if out.Backend.JWTSecret != "" {
		out.Backend.JWTSecret = "****"
	}
	out.Auth.AllowedRoles = append([]string(nil), c.Auth.AllowedRoles...)
	out.Gate.ExcludedPrefixes = append([]string(nil), c.Gate.ExcludedPrefixes...)
	return out
}
