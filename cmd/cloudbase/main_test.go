package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	// Keep the host environment out of the loaded configuration.
	for _, key := range []string{"CLOUDBASE_CONFIG", "CLOUDBASE_DATABASE_URL", "CLOUDBASE_REDIS_URL", "CLOUDBASE_SESSION_SECRET", "CLOUDBASE_LOG_FORMAT"} {
		t.Setenv(key, "")
	}
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	version, commit = "1.4.0", "abc1234"
	t.Cleanup(func() { version, commit = "", "" })

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if want := "cloudbase 1.4.0 (commit abc1234)\n"; out != want {
		t.Fatalf("got %q, want %q", out, want)
	}
}

func TestServe_InvalidConfig(t *testing.T) {
	_, err := execute(t, "serve")
	if err == nil {
		t.Fatal("expected an error for an empty configuration")
	}
	for _, field := range []string{"database_url", "redis_url", "session.secret"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not mention %s", err, field)
		}
	}
}

func TestServe_MissingConfigFile(t *testing.T) {
	_, err := execute(t, "serve", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config file") {
		t.Fatalf("expected a read error, got %v", err)
	}
}

func TestServe_BadLogFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloudbase.yaml")
	if err := os.WriteFile(path, []byte("log:\n  format: xml\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "serve", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "logger") {
		t.Fatalf("expected a logger error, got %v", err)
	}
}

func TestMigrate_RequiresDatabaseURL(t *testing.T) {
	_, err := execute(t, "migrate")
	if err == nil || !strings.Contains(err.Error(), "database_url") {
		t.Fatalf("expected database_url error, got %v", err)
	}
}

func TestUserCreate_ValidatesBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"short password", []string{"user", "create", "alice", "--password", "abc"}, "Password must be at least 5 characters"},
		{"short username", []string{"user", "create", "bob", "--password", "secret1"}, "Username must be between 5 and 50 characters"},
		{"missing password flag", []string{"user", "create", "alice"}, "password"},
		{"missing username", []string{"user", "create", "--password", "secret1"}, "arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
