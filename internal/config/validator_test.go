package config

import (
	"strings"
	"testing"
)

// minimalValidConfig returns a minimal valid Config for testing.
func minimalValidConfig() *Config {
	cfg := &Config{
		Backend: BackendConfig{
			URL:     "https://abcdefgh.supabase.co",
			AnonKey: "anon-key",
		},
	}
	cfg.SetDefaults()
	return cfg
}

func TestValidate_ValidConfig(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "missing backend url",
			mutate:  func(c *Config) { c.Backend.URL = "" },
			wantErr: "Config.Backend.URL is required",
		},
		{
			name:    "missing anon key",
			mutate:  func(c *Config) { c.Backend.AnonKey = "" },
			wantErr: "Config.Backend.AnonKey is required",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Server.LogLevel = "verbose" },
			wantErr: "must be one of",
		},
		{
			name:    "invalid http addr",
			mutate:  func(c *Config) { c.Server.HTTPAddr = "not an address" },
			wantErr: "must be a valid host:port",
		},
		{
			name:    "relative audit file",
			mutate:  func(c *Config) { c.Audit.Output = "file://relative/audit.log" },
			wantErr: "must be 'stdout'",
		},
		{
			name:    "unknown audit scheme",
			mutate:  func(c *Config) { c.Audit.Output = "postgres://db" },
			wantErr: "must be 'stdout'",
		},
		{
			name:    "excluded prefix without slash",
			mutate:  func(c *Config) { c.Gate.ExcludedPrefixes = []string{"api"} },
			wantErr: `must start with "/"`,
		},
		{
			name:    "zero threshold after defaults",
			mutate:  func(c *Config) { c.Client.ErrorThreshold = -1 },
			wantErr: "must be at least 1",
		},
		{
			name:    "bad duration",
			mutate:  func(c *Config) { c.Client.ErrorWindow = "ten seconds" },
			wantErr: "client.error_window: invalid duration",
		},
		{
			name:    "negative duration",
			mutate:  func(c *Config) { c.Backend.Timeout = "-1s" },
			wantErr: "backend.timeout: must be positive",
		},
		{
			name:    "redis scheme",
			mutate:  func(c *Config) { c.ProfileCache.RedisURL = "http://localhost:6379" },
			wantErr: "scheme must be redis or rediss",
		},
		{
			name:    "cookie prefix with separator",
			mutate:  func(c *Config) { c.Auth.CookiePrefix = "sb;" },
			wantErr: "not a valid cookie name prefix",
		},
		{
			name:    "tracing exporter",
			mutate:  func(c *Config) { c.Telemetry.Tracing = "jaeger" },
			wantErr: "must be one of: none stdout",
		},
		{
			name:    "metrics exporter",
			mutate:  func(c *Config) { c.Telemetry.Metrics = "otlp" },
			wantErr: "must be one of: none stdout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := minimalValidConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_AuditOutputs(t *testing.T) {
	t.Parallel()

	for _, output := range []string{"stdout", "file:///var/log/dashgate/audit.log", "sqlite:///var/lib/dashgate/audit.db"} {
		cfg := minimalValidConfig()
		cfg.Audit.Output = output
		if err := cfg.Validate(); err != nil {
			t.Errorf("Validate() with audit output %q unexpected error: %v", output, err)
		}
	}
}

func TestValidate_RedisURL(t *testing.T) {
	t.Parallel()

	cfg := minimalValidConfig()
	cfg.ProfileCache.RedisURL = "redis://localhost:6379/0"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() unexpected error: %v", err)
	}
}

func TestValidate_ZeroConfig(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	cfg.SetDefaults()

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() on zero config expected error, got nil")
	}
	if !strings.Contains(err.Error(), "Backend.URL") {
		t.Errorf("error = %q, want mention of Backend.URL", err.Error())
	}
}
