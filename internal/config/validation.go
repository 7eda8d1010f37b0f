// validation.go - Startup validation of the loaded configuration.
//
// Collects every problem before returning so operators see the whole list
// instead of fixing one variable per restart.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ValidationError describes one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates configuration errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]ValidationError, 0)}
}

// AddError records a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// HasErrors reports whether any error was recorded.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns the recorded errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString formats all recorded errors as a numbered list.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Required records an error when value is empty.
func (v *Validator) Required(field, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "required value not set")
	}
}

// URL checks that value parses and uses one of the allowed schemes.
func (v *Validator) URL(field, value string, schemes ...string) {
	if value == "" {
		return
	}
	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(field, fmt.Sprintf("invalid URL format: %v", err))
		return
	}
	for _, s := range schemes {
		if parsed.Scheme == s {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("URL must use one of the schemes: %s", strings.Join(schemes, ", ")))
}

// Port validates "host:port" or ":port" listen addresses.
func (v *Validator) Port(field, value string) {
	if value == "" {
		return
	}
	idx := strings.LastIndex(value, ":")
	if idx < 0 {
		v.AddError(field, "must be in host:port form")
		return
	}
	port, err := strconv.Atoi(value[idx+1:])
	if err != nil {
		v.AddError(field, "port must be a number")
		return
	}
	if port < 1 || port > 65535 {
		v.AddError(field, "port must be between 1 and 65535")
	}
}

// MinLength checks a minimum string length.
func (v *Validator) MinLength(field, value string, minLen int) {
	if value == "" {
		return
	}
	if len(value) < minLen {
		v.AddError(field, fmt.Sprintf("must be at least %d characters long (got %d)", minLen, len(value)))
	}
}

// Enum checks that value is one of allowed.
func (v *Validator) Enum(field, value string, allowed []string) {
	for _, opt := range allowed {
		if value == opt {
			return
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// Positive checks that n is greater than zero.
func (v *Validator) Positive(field string, n int64) {
	if n <= 0 {
		v.AddError(field, "must be a positive number")
	}
}

// Networks checks that every entry is an IP address or a CIDR block.
func (v *Validator) Networks(field string, entries []string) {
	for _, e := range entries {
		if strings.Contains(e, "/") {
			if _, _, err := net.ParseCIDR(e); err != nil {
				v.AddError(field, fmt.Sprintf("invalid CIDR %q", e))
			}
			continue
		}
		if net.ParseIP(e) == nil {
			v.AddError(field, fmt.Sprintf("invalid IP address %q", e))
		}
	}
}

// Validate checks the whole configuration and returns every problem at once.
func (c Config) Validate() error {
	v := NewValidator()

	v.Required("database_url", c.DatabaseURL)
	v.Required("redis_url", c.RedisURL)
	v.Required("session.secret", c.Session.Secret)
	v.Required("s3.endpoint", c.S3.Endpoint)
	v.Required("s3.access_key", c.S3.AccessKey)
	v.Required("s3.secret_key", c.S3.SecretKey)
	v.Required("s3.bucket", c.S3.Bucket)

	v.URL("database_url", c.DatabaseURL, "postgres", "postgresql")
	v.URL("redis_url", c.RedisURL, "redis", "rediss")
	if strings.Contains(c.S3.Endpoint, "://") {
		v.URL("s3.endpoint", c.S3.Endpoint, "http", "https")
	}
	v.Port("addr", c.Addr)
	v.MinLength("session.secret", c.Session.Secret, 32)

	v.Enum("env", c.Env, []string{"development", "staging", "production"})
	v.Enum("log.level", c.Log.Level, []string{"debug", "info", "warn", "error"})
	v.Enum("log.format", c.Log.Format, []string{"json", "text"})

	v.Positive("session.idle_timeout", int64(c.Session.IdleTimeout))
	v.Positive("limits.max_upload_bytes", c.Limits.MaxUploadBytes)
	v.Positive("limits.rate_limit_per_minute", int64(c.Limits.RateLimitPerMin))
	v.Positive("limits.auth_rate_limit_per_minute", int64(c.Limits.AuthRateLimitPerMin))
	v.Positive("limits.upload_rate_limit_per_minute", int64(c.Limits.UploadRateLimitPerMin))
	v.Positive("limits.lockout_attempts", int64(c.Limits.LockoutAttempts))
	v.Positive("limits.move_concurrency", int64(c.Limits.MoveConcurrency))
	v.Positive("limits.lockout_duration", int64(c.Limits.LockoutDuration))
	v.Positive("limits.lockout_window", int64(c.Limits.LockoutWindow))
	v.Positive("limits.shutdown_timeout", int64(c.Limits.ShutdownTimeout))
	v.Networks("limits.trusted_proxies", c.Limits.TrustedProxies)
	if c.Session.BcryptCost < 4 || c.Session.BcryptCost > 31 {
		v.AddError("session.bcrypt_cost", "must be between 4 and 31")
	}

	if v.HasErrors() {
		return fmt.Errorf("%s", v.ErrorString())
	}
	return nil
}

// Warnings lists optional settings that are probably wrong for the
// configured environment.
func (c Config) Warnings() []string {
	var warnings []string
	if c.Env == "production" && !c.Session.SecureCookie {
		warnings = append(warnings, "session.secure_cookie is false in production")
	}
	if c.Env == "production" && c.Log.Format != "json" {
		warnings = append(warnings, "log.format is not json in production")
	}
	if c.S3.CreateBucket {
		warnings = append(warnings, "s3.create_bucket is enabled; the bucket will be created if missing")
	}
	return warnings
}
