package cmd

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sentinel-Gate/dashgate/internal/config"
	"github.com/Sentinel-Gate/dashgate/internal/domain/events"
)

func TestCommands_Registered(t *testing.T) {
	want := []string{"start", "stop", "login", "whoami", "logout", "passwd", "reset", "config", "audit", "version"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("%s command not registered with rootCmd", name)
		}
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestProjectRef(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  config.BackendConfig
		want string
	}{
		{"explicit", config.BackendConfig{URL: "https://abcdefgh.supabase.co", ProjectRef: "override"}, "override"},
		{"hosted", config.BackendConfig{URL: "https://abcdefgh.supabase.co"}, "abcdefgh"},
		{"localhost", config.BackendConfig{URL: "http://localhost:54321"}, ""},
		{"ip", config.BackendConfig{URL: "http://127.0.0.1:54321"}, ""},
		{"two labels", config.BackendConfig{URL: "https://example.com"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &config.Config{Backend: tt.cfg}
			if got := projectRef(cfg); got != tt.want {
				t.Errorf("projectRef() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseFileURI(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"file:///var/log/audit.log": "/var/log/audit.log",
		"file:///C:/logs/audit.log": "C:/logs/audit.log",
		"stdout":                    "",
		"file://":                   "",
	}
	for in, want := range tests {
		if got := parseFileURI(in); got != want {
			t.Errorf("parseFileURI(%q) = %q, want %q", in, got, want)
		}
	}

	if got := auditPath("sqlite:///var/lib/dashgate/audit.db"); got != "/var/lib/dashgate/audit.db" {
		t.Errorf("auditPath(sqlite) = %q", got)
	}
}

func TestReadPassword(t *testing.T) {
	t.Parallel()

	got, err := readPassword(strings.NewReader("hunter22\r\n"))
	if err != nil || got != "hunter22" {
		t.Errorf("readPassword() = %q, %v", got, err)
	}
	got, err = readPassword(strings.NewReader("no-newline"))
	if err != nil || got != "no-newline" {
		t.Errorf("readPassword(no newline) = %q, %v", got, err)
	}
	if _, err := readPassword(strings.NewReader("\n")); err == nil {
		t.Error("readPassword(empty) should fail")
	}
}

func TestPIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "server.pid")
	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(missing) = %d, want 0", got)
	}
	if err := writePIDFile(path); err != nil {
		t.Fatalf("writePIDFile() error = %v", err)
	}
	if got := readPIDFile(path); got != os.Getpid() {
		t.Errorf("readPIDFile() = %d, want %d", got, os.Getpid())
	}

	_ = os.WriteFile(path, []byte("garbage"), 0644)
	if got := readPIDFile(path); got != 0 {
		t.Errorf("readPIDFile(garbage) = %d, want 0", got)
	}
}

func TestDuration(t *testing.T) {
	t.Parallel()

	if got := duration("", 3); got != 3 {
		t.Errorf("duration(\"\") = %v, want fallback", got)
	}
	if got := duration("2s", 3); got.Seconds() != 2 {
		t.Errorf("duration(2s) = %v", got)
	}
}

func TestRunningServer_MissingPIDFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.pid")
	_, err := runningServer(path)
	if err == nil || !strings.Contains(err.Error(), "dashgate start") {
		t.Errorf("runningServer(missing) error = %v, want a hint to start the server", err)
	}
}

func TestRunningServer_CurrentProcess(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "server.pid")
	if err := writePIDFile(path); err != nil {
		t.Fatal(err)
	}
	proc, err := runningServer(path)
	if err != nil {
		t.Fatalf("runningServer() error = %v", err)
	}
	if proc.Pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", proc.Pid, os.Getpid())
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("PID file of a live server was removed")
	}
}

func TestWaitForExit(t *testing.T) {
	t.Parallel()

	calls := 0
	exitsOnThird := func() bool {
		calls++
		return calls < 3
	}
	if !waitForExit(exitsOnThird, time.Second, time.Millisecond) {
		t.Error("waitForExit() = false, want true once the process exits")
	}

	never := func() bool { return true }
	start := time.Now()
	if waitForExit(never, 20*time.Millisecond, 5*time.Millisecond) {
		t.Error("waitForExit() = true for a process that never exits")
	}
	if time.Since(start) > time.Second {
		t.Error("waitForExit() overran its timeout")
	}
}

func TestCheckNewPassword(t *testing.T) {
	t.Parallel()

	if err := checkNewPassword("short"); err == nil {
		t.Error("checkNewPassword(short) should fail")
	}
	if err := checkNewPassword("longenough"); err != nil {
		t.Errorf("checkNewPassword() error = %v", err)
	}
}

func TestFormatEvent(t *testing.T) {
	t.Parallel()

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := formatEvent(at, events.Event{Type: events.TokenRefreshed, UserID: "u1"}); got != "2026-01-02T03:04:05Z  TOKEN_REFRESHED  user=u1" {
		t.Errorf("formatEvent() = %q", got)
	}
	if got := formatEvent(at, events.Event{Type: events.SignedOut}); got != "2026-01-02T03:04:05Z  SIGNED_OUT" {
		t.Errorf("formatEvent(no user) = %q", got)
	}
}
