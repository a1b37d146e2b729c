package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestConfig_SetDefaults(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != "127.0.0.1:3000" {
		t.Errorf("HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:3000")
	}
	if cfg.Server.SiteURL != "http://127.0.0.1:3000" {
		t.Errorf("SiteURL = %q, want %q", cfg.Server.SiteURL, "http://127.0.0.1:3000")
	}
	if cfg.Auth.CookiePrefix != "sb-" {
		t.Errorf("CookiePrefix = %q, want %q", cfg.Auth.CookiePrefix, "sb-")
	}
	if len(cfg.Auth.AllowedRoles) != 2 || cfg.Auth.AllowedRoles[0] != "admin" || cfg.Auth.AllowedRoles[1] != "super_admin" {
		t.Errorf("AllowedRoles = %v, want [admin super_admin]", cfg.Auth.AllowedRoles)
	}
	if !cfg.Auth.CookieSecure {
		t.Error("CookieSecure should default to true outside dev mode")
	}
	if cfg.Client.ErrorWindow != "10s" {
		t.Errorf("ErrorWindow = %q, want %q", cfg.Client.ErrorWindow, "10s")
	}
	if cfg.Client.ErrorThreshold != 5 {
		t.Errorf("ErrorThreshold = %d, want 5", cfg.Client.ErrorThreshold)
	}
	if cfg.Client.LoginURL != "http://127.0.0.1:3000/login" {
		t.Errorf("LoginURL = %q, want %q", cfg.Client.LoginURL, "http://127.0.0.1:3000/login")
	}
	if !cfg.RateLimit.Enabled {
		t.Error("RateLimit.Enabled should default to true")
	}
	if cfg.RateLimit.SignInRate != 10 {
		t.Errorf("SignInRate = %d, want 10", cfg.RateLimit.SignInRate)
	}
	if cfg.RateLimit.AccountSignInRate != 5 {
		t.Errorf("AccountSignInRate = %d, want 5", cfg.RateLimit.AccountSignInRate)
	}
	if cfg.Audit.Output != "stdout" {
		t.Errorf("Audit.Output = %q, want %q", cfg.Audit.Output, "stdout")
	}
	if cfg.Telemetry.Tracing != "none" {
		t.Errorf("Tracing = %q, want %q", cfg.Telemetry.Tracing, "none")
	}
	if cfg.Telemetry.Metrics != "none" {
		t.Errorf("Metrics = %q, want %q", cfg.Telemetry.Metrics, "none")
	}
}

func TestConfig_SetDefaults_ExcludedPrefixes(t *testing.T) {
	t.Parallel()

	var cfg Config
	cfg.SetDefaults()

	want := map[string]bool{
		"/api": true, "/_next/static": true, "/_next/image": true,
		"/favicon.ico": true, "/auth": true, "/health": true, "/metrics": true,
	}
	if len(cfg.Gate.ExcludedPrefixes) != len(want) {
		t.Fatalf("ExcludedPrefixes = %v, want %d entries", cfg.Gate.ExcludedPrefixes, len(want))
	}
	for _, p := range cfg.Gate.ExcludedPrefixes {
		if !want[p] {
			t.Errorf("unexpected excluded prefix %q", p)
		}
	}
}

func TestConfig_SetDefaults_PreservesExistingValues(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Server: ServerConfig{
			HTTPAddr: ":9090",
			SiteURL:  "https://admin.example.com",
		},
		Auth: AuthConfig{
			CookiePrefix: "app-",
			AllowedRoles: []string{"owner"},
		},
		Client: ClientConfig{
			ErrorWindow:    "5s",
			ErrorThreshold: 3,
		},
		RateLimit: RateLimitConfig{SignInRate: 50},
	}

	cfg.SetDefaults()

	if cfg.Server.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr was overwritten: got %q", cfg.Server.HTTPAddr)
	}
	if cfg.Client.LoginURL != "https://admin.example.com/login" {
		t.Errorf("LoginURL = %q, want derived from SiteURL", cfg.Client.LoginURL)
	}
	if cfg.Auth.CookiePrefix != "app-" {
		t.Errorf("CookiePrefix was overwritten: got %q", cfg.Auth.CookiePrefix)
	}
	if len(cfg.Auth.AllowedRoles) != 1 || cfg.Auth.AllowedRoles[0] != "owner" {
		t.Errorf("AllowedRoles was overwritten: got %v", cfg.Auth.AllowedRoles)
	}
	if cfg.Client.ErrorWindow != "5s" || cfg.Client.ErrorThreshold != 3 {
		t.Errorf("client error policy was overwritten: %q/%d", cfg.Client.ErrorWindow, cfg.Client.ErrorThreshold)
	}
	if cfg.RateLimit.SignInRate != 50 {
		t.Errorf("SignInRate was overwritten: got %d", cfg.RateLimit.SignInRate)
	}
}

func TestConfig_SetDevDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{DevMode: true}
	cfg.SetDefaults()
	cfg.SetDevDefaults()

	if cfg.Server.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug in dev mode", cfg.Server.LogLevel)
	}
	if cfg.Auth.CookieSecure {
		t.Error("CookieSecure should be false in dev mode")
	}

	prod := Config{}
	prod.SetDefaults()
	prod.SetDevDefaults()
	if prod.Server.LogLevel != "info" {
		t.Errorf("SetDevDefaults changed LogLevel outside dev mode: %q", prod.Server.LogLevel)
	}
}

func TestConfig_Redacted(t *testing.T) {
	t.Parallel()

	cfg := Config{Backend: BackendConfig{AnonKey: "anon", JWTSecret: "secret"}}
	cfg.SetDefaults()

	out := cfg.Redacted()
	if out.Backend.AnonKey != "****" || out.Backend.JWTSecret != "****" {
		t.Errorf("secrets not masked: %q %q", out.Backend.AnonKey, out.Backend.JWTSecret)
	}
	if cfg.Backend.AnonKey != "anon" {
		t.Error("Redacted modified the original config")
	}

	out.Auth.AllowedRoles[0] = "changed"
	if cfg.Auth.AllowedRoles[0] != "admin" {
		t.Error("Redacted shares the AllowedRoles slice")
	}
}

func TestFindConfigFileInPaths_EmptyDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths(empty dir) = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_MatchesYAML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "dashgate.yaml")
	_ = os.WriteFile(cfgPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != cfgPath {
		t.Errorf("findConfigFileInPaths = %q, want %q", got, cfgPath)
	}
}

func TestFindConfigFileInPaths_IgnoresNoExtension(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	// A file named like the binary must not be read as config.
	_ = os.WriteFile(filepath.Join(dir, "dashgate"), []byte("\x7fELF binary"), 0755)

	got := findConfigFileInPaths([]string{dir})
	if got != "" {
		t.Errorf("findConfigFileInPaths matched binary = %q, want empty", got)
	}
}

func TestFindConfigFileInPaths_PrefersYAMLOverYML(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "dashgate.yaml")
	ymlPath := filepath.Join(dir, "dashgate.yml")
	_ = os.WriteFile(yamlPath, []byte("server:\n  http_addr: :8080\n"), 0644)
	_ = os.WriteFile(ymlPath, []byte("server:\n  http_addr: :9090\n"), 0644)

	got := findConfigFileInPaths([]string{dir})
	if got != yamlPath {
		t.Errorf("findConfigFileInPaths = %q, want %q (.yaml preferred)", got, yamlPath)
	}
}
