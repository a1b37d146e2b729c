package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	httpadapter "github.com/Sentinel-Gate/dashgate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/dashgate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/dashgate/internal/config"
	"github.com/Sentinel-Gate/dashgate/internal/domain/audit"
	"github.com/Sentinel-Gate/dashgate/internal/domain/auth"
	"github.com/Sentinel-Gate/dashgate/internal/domain/gate"
	"github.com/Sentinel-Gate/dashgate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/dashgate/internal/service"
	"github.com/Sentinel-Gate/dashgate/internal/telemetry"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gate server",
	Long: `Start the dashgate server.

Every request not under an excluded prefix is checked against the session
cookie. Signed-out visitors are sent to /login, signed-in visitors on an
auth page are sent home, and only users whose profile role is allowed
reach the upstream dashboard. Everyone else is signed out and sent to
/unauthorized.

Examples:
  # Start with config file settings
  dashgate start

  # Start in development mode (debug logging, non-secure cookies)
  dashgate start --dev

  # Start with a specific config file
  dashgate --config /path/to/dashgate.yaml start`,
	RunE: runStart,
}

var devMode bool

func init() {
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Enable development mode (verbose logging, non-secure cookies)")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(devMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg, os.Stderr)
	logger.Debug("log level configured", "level", cfg.Server.LogLevel, "dev_mode", cfg.DevMode)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}

	pidPath := pidFilePath()
	if err := writePIDFile(pidPath); err != nil {
		logger.Warn("failed to write PID file", "path", pidPath, "error", err)
	} else {
		defer os.Remove(pidPath)
	}

	return run(ctx, cfg, logger)
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers, err := telemetry.New(cfg.Telemetry, Version, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	backend, err := newBackend(cfg, providers.Tracer, logger)
	if err != nil {
		return err
	}

	// ===== Audit =====
	auditStore, err := openAuditStore(ctx, cfg.Audit.Output)
	if err != nil {
		return err
	}
	defer func() { _ = auditStore.Close() }()

	auditService := service.NewAuditService(auditStore, logger,
		service.WithChannelSize(cfg.Audit.ChannelSize),
		service.WithBatchSize(cfg.Audit.BatchSize),
		service.WithFlushInterval(duration(cfg.Audit.FlushInterval, time.Second)),
	)
	auditService.Start(ctx)
	defer auditService.Stop()
	logger.Info("audit logging enabled", "output", cfg.Audit.Output)

	// ===== Gate =====
	var lookup gate.ProfileLookup = gate.ProfileLookupFunc(func(ctx context.Context, s *auth.Session) (*auth.Profile, error) {
		return backend.GetMyProfile(ctx, s.AccessToken)
	})

	// ===== Sign-in throttle =====
	var limiter *memory.RateLimiter
	sources := httpadapter.MetricSources{AuditDrops: auditService.DroppedRecords}
	if cfg.RateLimit.Enabled {
		limiter = memory.NewRateLimiter(
			memory.WithCleanup(duration(cfg.RateLimit.CleanupInterval, 5*time.Minute), duration(cfg.RateLimit.MaxTTL, time.Hour)),
			memory.WithLimiterLogger(logger),
		)
		limiter.StartCleanup(ctx)
		defer limiter.Stop()
		sources.RateLimitKeys = limiter.Size
	}

	health := httpadapter.NewHealthChecker(limiter, auditService, Version)
	opts := []httpadapter.Option{
		httpadapter.WithAddr(cfg.Server.HTTPAddr),
		httpadapter.WithLogger(logger),
		httpadapter.WithSiteURL(cfg.Server.SiteURL),
		httpadapter.WithSecureHeaders(cfg.Auth.CookieSecure),
		httpadapter.WithMatcher(gate.NewMatcher(cfg.Gate.ExcludedPrefixes)),
		httpadapter.WithAuditRecorder(auditService),
	}

	if cfg.ProfileCache.RedisURL != "" {
		rdb, err := redis.NewClient(ctx, cfg.ProfileCache.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = rdb.Close() }()
		cache := redis.NewProfileCache(rdb, lookup, duration(cfg.ProfileCache.TTL, redis.DefaultTTL), logger)
		lookup = cache
		opts = append(opts, httpadapter.WithProfileInvalidator(cache))
		health.AddProbe("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		logger.Info("profile cache enabled", "ttl", cfg.ProfileCache.TTL)
	}

	authorizer, err := newAuthorizer(cfg.Auth)
	if err != nil {
		return err
	}
	g := gate.New(lookup, logger,
		gate.WithLookupTimeout(duration(cfg.Gate.LookupTimeout, gate.DefaultLookupTimeout)),
		gate.WithAuthorizer(authorizer),
	)

	if limiter != nil {
		rate := cfg.RateLimit.SignInRate
		opts = append(opts, httpadapter.WithSignInLimit(limiter, ratelimit.RateLimitConfig{
			Rate:   rate,
			Burst:  rate,
			Period: time.Minute,
		}))
		account := cfg.RateLimit.AccountSignInRate
		opts = append(opts, httpadapter.WithAccountSignInLimit(ratelimit.RateLimitConfig{
			Rate:   account,
			Burst:  account,
			Period: time.Minute,
		}))
		logger.Info("sign-in rate limiting enabled", "per_minute", rate, "per_account_per_minute", account)
	}
	opts = append(opts, httpadapter.WithHealthChecker(health), httpadapter.WithMetricSources(sources))

	// ===== Upstream =====
	if cfg.Upstream.URL != "" {
		proxy, err := httpadapter.NewUpstreamProxy(cfg.Upstream.URL, logger)
		if err != nil {
			return err
		}
		opts = append(opts, httpadapter.WithUpstream(proxy))
		logger.Info("forwarding admitted requests", "upstream", cfg.Upstream.URL)
	} else {
		logger.Warn("no upstream configured, serving placeholder page")
	}

	cookies := sessionCookies(cfg)
	loader := httpadapter.NewSessionLoader(cookies, backend, backend.Tokens(), duration(cfg.Gate.SessionTimeout, 5*time.Second))
	server := httpadapter.NewServer(backend, g, loader, cookies, opts...)

	logger.Info("dashgate starting",
		"version", Version,
		"addr", cfg.Server.HTTPAddr,
		"site_url", cfg.Server.SiteURL,
		"cookie", cookies.Name(),
	)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	logger.Info("dashgate stopped")
	return nil
}

// newAuthorizer returns the CEL authorizer when an access condition is
// set, otherwise the allowed role set.
func newAuthorizer(cfg config.AuthConfig) (gate.Authorizer, error) {
	if cfg.AccessCondition != "" {
		a, err := cel.NewAuthorizer(cfg.AccessCondition)
		if err != nil {
			return nil, fmt.Errorf("auth.access_condition: %w", err)
		}
		return a, nil
	}
	return gate.NewRoleSet(cfg.AllowedRoles...), nil
}

// openAuditStore opens the store selected by audit.output.
func openAuditStore(ctx context.Context, output string) (audit.Store, error) {
	switch {
	case output == "stdout":
		return memory.NewAuditStore(os.Stdout, 0), nil
	case strings.HasPrefix(output, "sqlite://"):
		store, err := sqlite.Open(ctx, sqlite.DSN(output))
		if err != nil {
			return nil, fmt.Errorf("open audit database: %w", err)
		}
		return store, nil
	default:
		path := parseFileURI(output)
		if path == "" {
			return nil, fmt.Errorf("unsupported audit output %q", output)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open audit file: %w", err)
		}
		return memory.NewAuditStore(f, 0), nil
	}
}

// parseFileURI extracts the file path from a "file:///path" URI.
// On Windows, file:///C:/path becomes C:/path.
func parseFileURI(uri string) string {
	const prefix = "file://"
	if len(uri) > len(prefix) && uri[:len(prefix)] == prefix {
		path := uri[len(prefix):]
		if len(path) >= 3 && path[0] == '/' && path[2] == ':' {
			path = path[1:]
		}
		return path
	}
	return ""
}

// pidFilePath returns the PID file location used by start and stop.
func pidFilePath() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(homeDir, ".dashgate", "server.pid")
	}
	return filepath.Join(os.TempDir(), "dashgate-server.pid")
}

// writePIDFile writes the current process PID to path, creating parent
// directories as needed.
func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0644)
}

// readPIDFile returns the PID stored at path, or 0 when missing or invalid.
func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil || pid <= 0 {
		return 0
	}
	return pid
}
