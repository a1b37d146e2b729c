package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers dashgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("audit_output", validateAuditOutput); err != nil {
		return fmt.Errorf("failed to register audit_output validator: %w", err)
	}
	return nil
}

// validateAuditOutput accepts "stdout", "file://<absolute-path>" and
// "sqlite://<absolute-path>".
func validateAuditOutput(fl validator.FieldLevel) bool {
	output := fl.Field().String()

	if output == "stdout" {
		return true
	}

	for _, scheme := range []string{"file://", "sqlite://"} {
		if strings.HasPrefix(output, scheme) {
			path := strings.TrimPrefix(output, scheme)
			return path != "" && filepath.IsAbs(path)
		}
	}

	return false
}

// Validate validates the Config using struct tags and cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateDurations(); err != nil {
		return err
	}

	if err := c.validateRedisURL(); err != nil {
		return err
	}

	if strings.ContainsAny(c.Auth.CookiePrefix, " \t;=,\"") {
		return fmt.Errorf("auth.cookie_prefix: %q is not a valid cookie name prefix", c.Auth.CookiePrefix)
	}

	return nil
}

// validateDurations rejects duration strings that time.ParseDuration cannot read.
func (c *Config) validateDurations() error {
	fields := []struct {
		name  string
		value string
	}{
		{"backend.timeout", c.Backend.Timeout},
		{"gate.session_timeout", c.Gate.SessionTimeout},
		{"gate.lookup_timeout", c.Gate.LookupTimeout},
		{"client.error_window", c.Client.ErrorWindow},
		{"rate_limit.cleanup_interval", c.RateLimit.CleanupInterval},
		{"rate_limit.max_ttl", c.RateLimit.MaxTTL},
		{"profile_cache.ttl", c.ProfileCache.TTL},
		{"audit.flush_interval", c.Audit.FlushInterval},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return fmt.Errorf("%s: invalid duration %q", f.name, f.value)
		}
		if d <= 0 {
			return fmt.Errorf("%s: must be positive, got %q", f.name, f.value)
		}
	}
	return nil
}

func (c *Config) validateRedisURL() error {
	if c.ProfileCache.RedisURL == "" {
		return nil
	}
	u, err := url.Parse(c.ProfileCache.RedisURL)
	if err != nil {
		return fmt.Errorf("profile_cache.redis_url: %w", err)
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return fmt.Errorf("profile_cache.redis_url: scheme must be redis or rediss, got %q", u.Scheme)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "audit_output":
		return fmt.Sprintf("%s must be 'stdout', 'file://<absolute-path>' or 'sqlite://<absolute-path>'", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
