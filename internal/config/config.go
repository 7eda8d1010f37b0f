// Package config loads cloudbase configuration from defaults, an optional
// YAML file and CLOUDBASE_* environment variables, in that order.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration of the service.
type Config struct {
	Addr    string `yaml:"addr"`
	Env     string `yaml:"env"`
	Version string `yaml:"-"`
	Commit  string `yaml:"-"`

	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`

	S3      S3Config      `yaml:"s3"`
	Session SessionConfig `yaml:"session"`
	Log     LogConfig     `yaml:"log"`
	Limits  LimitsConfig  `yaml:"limits"`

	// StaticDir, when set, holds a built frontend served at "/".
	StaticDir string `yaml:"static_dir"`
}

// S3Config describes the MinIO (or any S3 compatible) object store.
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	Bucket       string `yaml:"bucket"`
	CreateBucket bool   `yaml:"create_bucket"`
}

// SessionConfig controls the Redis backed session cookie.
type SessionConfig struct {
	Secret       string        `yaml:"secret"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	CookieName   string        `yaml:"cookie_name"`
	SecureCookie bool          `yaml:"secure_cookie"`
	BcryptCost   int           `yaml:"bcrypt_cost"`
}

// LogConfig selects the log level and encoder.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LimitsConfig groups request and abuse limits.
type LimitsConfig struct {
	MaxUploadBytes        int64         `yaml:"max_upload_bytes"`
	RateLimitPerMin       int           `yaml:"rate_limit_per_minute"`
	AuthRateLimitPerMin   int           `yaml:"auth_rate_limit_per_minute"`
	UploadRateLimitPerMin int           `yaml:"upload_rate_limit_per_minute"`
	LockoutAttempts       int           `yaml:"lockout_attempts"`
	LockoutDuration       time.Duration `yaml:"lockout_duration"`
	LockoutWindow         time.Duration `yaml:"lockout_window"`
	ShutdownTimeout       time.Duration `yaml:"shutdown_timeout"`
	MoveConcurrency       int           `yaml:"move_concurrency"`

	// TrustedProxies lists CIDRs or addresses of reverse proxies whose
	// X-Forwarded-For header is believed. Empty means the peer address is
	// always the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Addr:    ":8080",
		Env:     "development",
		Version: "dev",
		Commit:  "unknown",
		S3: S3Config{
			Bucket: "user-files",
		},
		Session: SessionConfig{
			IdleTimeout:  30 * time.Minute,
			CookieName:   "SESSION",
			SecureCookie: false,
			BcryptCost:   10,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Limits: LimitsConfig{
			MaxUploadBytes:        1 << 30,
			RateLimitPerMin:       300,
			AuthRateLimitPerMin:   20,
			UploadRateLimitPerMin: 60,
			LockoutAttempts:       5,
			LockoutDuration:       15 * time.Minute,
			LockoutWindow:         10 * time.Minute,
			ShutdownTimeout:       10 * time.Second,
			MoveConcurrency:       4,
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and the environment are used.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	if cfg.Env == "production" && os.Getenv("CLOUDBASE_LOG_FORMAT") == "" {
		cfg.Log.Format = "json"
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Addr = getenvDefault("CLOUDBASE_ADDR", c.Addr)
	c.Env = getenvDefault("CLOUDBASE_ENV", c.Env)
	c.Version = getenvDefault("CLOUDBASE_VERSION", c.Version)
	c.Commit = getenvDefault("CLOUDBASE_COMMIT", c.Commit)
	c.DatabaseURL = getenvDefault("CLOUDBASE_DATABASE_URL", c.DatabaseURL)
	c.RedisURL = getenvDefault("CLOUDBASE_REDIS_URL", c.RedisURL)
	c.StaticDir = getenvDefault("CLOUDBASE_STATIC_DIR", c.StaticDir)

	c.S3.Endpoint = getenvDefault("CLOUDBASE_S3_ENDPOINT", c.S3.Endpoint)
	c.S3.AccessKey = getenvDefault("CLOUDBASE_S3_ACCESS_KEY", c.S3.AccessKey)
	c.S3.SecretKey = getenvDefault("CLOUDBASE_S3_SECRET_KEY", c.S3.SecretKey)
	c.S3.Bucket = getenvDefault("CLOUDBASE_S3_BUCKET", c.S3.Bucket)

	c.Session.Secret = getenvDefault("CLOUDBASE_SESSION_SECRET", c.Session.Secret)
	c.Session.CookieName = getenvDefault("CLOUDBASE_SESSION_COOKIE", c.Session.CookieName)

	c.Log.Level = getenvDefault("CLOUDBASE_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getenvDefault("CLOUDBASE_LOG_FORMAT", c.Log.Format)

	var err error
	if c.S3.CreateBucket, err = getenvBool("CLOUDBASE_S3_CREATE_BUCKET", c.S3.CreateBucket); err != nil {
		return err
	}
	if c.Session.SecureCookie, err = getenvBool("CLOUDBASE_SESSION_SECURE_COOKIE", c.Session.SecureCookie); err != nil {
		return err
	}
	if c.Session.IdleTimeout, err = getenvDuration("CLOUDBASE_SESSION_IDLE_TIMEOUT", c.Session.IdleTimeout); err != nil {
		return err
	}
	if c.Limits.MaxUploadBytes, err = getenvInt64("CLOUDBASE_MAX_UPLOAD_BYTES", c.Limits.MaxUploadBytes); err != nil {
		return err
	}
	var n int64
	if n, err = getenvInt64("CLOUDBASE_RATE_LIMIT_PER_MINUTE", int64(c.Limits.RateLimitPerMin)); err != nil {
		return err
	}
	c.Limits.RateLimitPerMin = int(n)
	if n, err = getenvInt64("CLOUDBASE_AUTH_RATE_LIMIT_PER_MINUTE", int64(c.Limits.AuthRateLimitPerMin)); err != nil {
		return err
	}
	c.Limits.AuthRateLimitPerMin = int(n)
	if n, err = getenvInt64("CLOUDBASE_UPLOAD_RATE_LIMIT_PER_MINUTE", int64(c.Limits.UploadRateLimitPerMin)); err != nil {
		return err
	}
	c.Limits.UploadRateLimitPerMin = int(n)
	if n, err = getenvInt64("CLOUDBASE_LOCKOUT_ATTEMPTS", int64(c.Limits.LockoutAttempts)); err != nil {
		return err
	}
	c.Limits.LockoutAttempts = int(n)
	if n, err = getenvInt64("CLOUDBASE_MOVE_CONCURRENCY", int64(c.Limits.MoveConcurrency)); err != nil {
		return err
	}
	c.Limits.MoveConcurrency = int(n)
	if c.Limits.LockoutDuration, err = getenvDuration("CLOUDBASE_LOCKOUT_DURATION", c.Limits.LockoutDuration); err != nil {
		return err
	}
	if c.Limits.LockoutWindow, err = getenvDuration("CLOUDBASE_LOCKOUT_WINDOW", c.Limits.LockoutWindow); err != nil {
		return err
	}
	if c.Limits.ShutdownTimeout, err = getenvDuration("CLOUDBASE_SHUTDOWN_TIMEOUT", c.Limits.ShutdownTimeout); err != nil {
		return err
	}
	if v := os.Getenv("CLOUDBASE_TRUSTED_PROXIES"); v != "" {
		c.Limits.TrustedProxies = splitList(v)
	}
	if n, err = getenvInt64("CLOUDBASE_BCRYPT_COST", int64(c.Session.BcryptCost)); err != nil {
		return err
	}
	c.Session.BcryptCost = int(n)
	return nil
}

// getenvDefault reads an environment variable and returns def if it is unset
// or empty.
func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// splitList splits a comma separated value, dropping empty items.
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
