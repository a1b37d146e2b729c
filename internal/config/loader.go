package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for dashgate.yaml/.yml in standard locations.
// The search requires an explicit YAML extension so the binary itself is never
// picked up as a config file.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No search paths: ReadInConfig returns ConfigFileNotFoundError,
		// which LoadConfig treats as env-only mode.
		viper.SetConfigName("dashgate")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: DASHGATE_BACKEND_URL
	viper.SetEnvPrefix("DASHGATE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".dashgate"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "dashgate"))
		}
	} else {
		paths = append(paths, "/etc/dashgate")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths returns the first dashgate.yaml or dashgate.yml found
// in paths, or "" if none exists.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "dashgate"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested keys so DASHGATE_SECTION_KEY overrides work
// without a config file.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.http_addr")
	_ = viper.BindEnv("server.log_level")
	_ = viper.BindEnv("server.site_url")

	_ = viper.BindEnv("backend.url")
	_ = viper.BindEnv("backend.anon_key")
	_ = viper.BindEnv("backend.project_ref")
	_ = viper.BindEnv("backend.jwt_secret")
	_ = viper.BindEnv("backend.timeout")

	_ = viper.BindEnv("auth.cookie_prefix")
	_ = viper.BindEnv("auth.access_condition")
	_ = viper.BindEnv("auth.cookie_secure")
	// auth.allowed_roles is a list; Viper splits space-separated env values.
	_ = viper.BindEnv("auth.allowed_roles")

	_ = viper.BindEnv("gate.session_timeout")
	_ = viper.BindEnv("gate.lookup_timeout")

	_ = viper.BindEnv("upstream.url")

	_ = viper.BindEnv("client.storage_path")
	_ = viper.BindEnv("client.error_window")
	_ = viper.BindEnv("client.error_threshold")
	_ = viper.BindEnv("client.login_url")

	_ = viper.BindEnv("rate_limit.enabled")
	_ = viper.BindEnv("rate_limit.sign_in_rate")
	_ = viper.BindEnv("rate_limit.account_sign_in_rate")
	_ = viper.BindEnv("rate_limit.cleanup_interval")
	_ = viper.BindEnv("rate_limit.max_ttl")

	_ = viper.BindEnv("profile_cache.redis_url")
	_ = viper.BindEnv("profile_cache.ttl")

	_ = viper.BindEnv("audit.output")

	_ = viper.BindEnv("telemetry.tracing")
	_ = viper.BindEnv("telemetry.metrics")

	_ = viper.BindEnv("dev_mode")
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults, and validates the result.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT validate. Use this when CLI flags may still change the
// configuration before validation.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found (env vars only mode).
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
