package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGetenvDefault(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		def      string
		envValue string
		want     string
	}{
		{name: "env var set", key: "TEST_CB_SET", def: "default", envValue: "custom", want: "custom"},
		{name: "env var empty", key: "TEST_CB_EMPTY", def: "default", envValue: "", want: "default"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.envValue)
			if got := getenvDefault(tt.key, tt.def); got != tt.want {
				t.Errorf("getenvDefault(%q, %q) = %q, want %q", tt.key, tt.def, got, tt.want)
			}
		})
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.DatabaseURL = "postgres://cb:cb@localhost:5432/cloudbase?sslmode=disable"
	cfg.RedisURL = "redis://localhost:6379/0"
	cfg.S3 = S3Config{Endpoint: "http://minio:9000", AccessKey: "minio", SecretKey: "minio123", Bucket: "user-files"}
	cfg.Session.Secret = strings.Repeat("s", 32)
	return cfg
}

func TestValidate_OK(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Default()
	cfg.Session.Secret = "short"
	cfg.Log.Level = "loud"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"database_url", "redis_url", "s3.endpoint", "session.secret", "log.level"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q does not mention %s", msg, want)
		}
	}
}

func TestValidator_Port(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{":8080", false},
		{"0.0.0.0:443", false},
		{":0", true},
		{":70000", true},
		{"8080", true},
		{":http", true},
	}
	for _, tt := range tests {
		v := NewValidator()
		v.Port("addr", tt.in)
		if v.HasErrors() != tt.wantErr {
			t.Errorf("Port(%q) errors = %v, want error %v", tt.in, v.Errors(), tt.wantErr)
		}
	}
}

func TestValidator_URLSchemes(t *testing.T) {
	v := NewValidator()
	v.URL("redis_url", "http://localhost:6379", "redis", "rediss")
	if !v.HasErrors() {
		t.Fatal("expected scheme error")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cloudbase.yaml")
	content := `
addr: ":9090"
env: production
redis_url: redis://file:6379/0
session:
  idle_timeout: 45m
s3:
  bucket: from-file
  create_bucket: true
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CLOUDBASE_S3_BUCKET", "from-env")
	t.Setenv("CLOUDBASE_LOG_FORMAT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Addr)
	}
	if cfg.S3.Bucket != "from-env" {
		t.Errorf("env should override file, bucket = %q", cfg.S3.Bucket)
	}
	if !cfg.S3.CreateBucket {
		t.Error("create_bucket from file was lost")
	}
	if cfg.Session.IdleTimeout != 45*time.Minute {
		t.Errorf("idle timeout = %s", cfg.Session.IdleTimeout)
	}
	if cfg.Log.Format != "json" {
		t.Errorf("production should default to json logs, got %q", cfg.Log.Format)
	}
	if cfg.Session.CookieName != "SESSION" {
		t.Errorf("default cookie name lost: %q", cfg.Session.CookieName)
	}
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("CLOUDBASE_MAX_UPLOAD_BYTES", "lots")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for non-numeric CLOUDBASE_MAX_UPLOAD_BYTES")
	}
}

func TestWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Env = "production"
	cfg.Log.Format = "text"
	if got := len(cfg.Warnings()); got != 2 {
		t.Fatalf("expected 2 warnings, got %d: %v", got, cfg.Warnings())
	}
}

func TestLoad_LimitsFromEnv(t *testing.T) {
	t.Setenv("CLOUDBASE_UPLOAD_RATE_LIMIT_PER_MINUTE", "7")
	t.Setenv("CLOUDBASE_LOCKOUT_ATTEMPTS", "3")
	t.Setenv("CLOUDBASE_LOCKOUT_DURATION", "1h")
	t.Setenv("CLOUDBASE_LOCKOUT_WINDOW", "2m")
	t.Setenv("CLOUDBASE_SHUTDOWN_TIMEOUT", "45s")
	t.Setenv("CLOUDBASE_MOVE_CONCURRENCY", "8")
	t.Setenv("CLOUDBASE_TRUSTED_PROXIES", "10.0.0.0/8, 192.0.2.10,")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	l := cfg.Limits
	if l.UploadRateLimitPerMin != 7 || l.LockoutAttempts != 3 || l.MoveConcurrency != 8 {
		t.Errorf("int limits not applied: %+v", l)
	}
	if l.LockoutDuration != time.Hour || l.LockoutWindow != 2*time.Minute || l.ShutdownTimeout != 45*time.Second {
		t.Errorf("duration limits not applied: %+v", l)
	}
	if len(l.TrustedProxies) != 2 || l.TrustedProxies[0] != "10.0.0.0/8" || l.TrustedProxies[1] != "192.0.2.10" {
		t.Errorf("trusted proxies = %q", l.TrustedProxies)
	}
}

func TestValidate_Limits(t *testing.T) {
	tests := []struct {
		name  string
		mod   func(*Config)
		field string
	}{
		{"zero shutdown timeout", func(c *Config) { c.Limits.ShutdownTimeout = 0 }, "limits.shutdown_timeout"},
		{"negative lockout duration", func(c *Config) { c.Limits.LockoutDuration = -time.Second }, "limits.lockout_duration"},
		{"zero lockout window", func(c *Config) { c.Limits.LockoutWindow = 0 }, "limits.lockout_window"},
		{"bad proxy cidr", func(c *Config) { c.Limits.TrustedProxies = []string{"10.0.0.0/33"} }, "limits.trusted_proxies"},
		{"bad proxy address", func(c *Config) { c.Limits.TrustedProxies = []string{"proxy.local"} }, "limits.trusted_proxies"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mod(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("expected error for %s, got %v", tt.field, err)
			}
		})
	}

	cfg := validConfig()
	cfg.Limits.TrustedProxies = []string{"10.0.0.0/8", "::1"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid proxies rejected: %v", err)
	}
}
