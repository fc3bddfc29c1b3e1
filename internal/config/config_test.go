package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestLoadEmptyPath(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("INBOXSWEEP_HOME", tmpDir)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if cfg.Provider.Kind != ProviderGmail {
		t.Errorf("Provider.Kind = %q, want gmail", cfg.Provider.Kind)
	}
	if cfg.Provider.FetchLimit != 100 {
		t.Errorf("Provider.FetchLimit = %d, want 100", cfg.Provider.FetchLimit)
	}
	if cfg.Provider.DeleteMethod != "permanent" {
		t.Errorf("Provider.DeleteMethod = %q, want permanent", cfg.Provider.DeleteMethod)
	}
	if cfg.Unsubscribe.DelayMS != 500 {
		t.Errorf("Unsubscribe.DelayMS = %d, want 500", cfg.Unsubscribe.DelayMS)
	}
	if cfg.Server.APIPort != 8080 || cfg.Server.BindAddr != "127.0.0.1" {
		t.Errorf("Server = %+v, want 127.0.0.1:8080", cfg.Server)
	}

	expectedDB := filepath.Join(tmpDir, "inboxsweep.db")
	if cfg.DatabaseDSN() != expectedDB {
		t.Errorf("DatabaseDSN() = %q, want %q", cfg.DatabaseDSN(), expectedDB)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("INBOXSWEEP_HOME", tmpDir)

	writeConfig(t, tmpDir, `
[data]
data_dir = "~/custom/data"

[oauth]
client_secrets = "~/secrets/client.json"

[provider]
account = "me@example.com"
rate_limit_qps = 10
fetch_limit = 250
delete_method = "trash"

[unsubscribe]
delay_ms = 750
user_agent = "sweeper/2"

[server]
api_port = 9090
api_key = "test-secret-key"
`)

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	if want := filepath.Join(home, "custom/data"); cfg.Data.DataDir != want {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, want)
	}
	if want := filepath.Join(home, "secrets/client.json"); cfg.OAuth.ClientSecrets != want {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, want)
	}
	if cfg.Provider.Account != "me@example.com" {
		t.Errorf("Provider.Account = %q", cfg.Provider.Account)
	}
	if cfg.Provider.RateLimitQPS != 10 {
		t.Errorf("Provider.RateLimitQPS = %v, want 10", cfg.Provider.RateLimitQPS)
	}
	if cfg.Provider.FetchLimit != 250 {
		t.Errorf("Provider.FetchLimit = %d, want 250", cfg.Provider.FetchLimit)
	}
	if cfg.Provider.DeleteMethod != "trash" {
		t.Errorf("Provider.DeleteMethod = %q, want trash", cfg.Provider.DeleteMethod)
	}
	// Unset keys keep their defaults.
	if cfg.Provider.Concurrency != 10 {
		t.Errorf("Provider.Concurrency = %d, want default 10", cfg.Provider.Concurrency)
	}
	if cfg.Unsubscribe.DelayMS != 750 || cfg.Unsubscribe.UserAgent != "sweeper/2" {
		t.Errorf("Unsubscribe = %+v", cfg.Unsubscribe)
	}
	if cfg.Unsubscribe.TimeoutSeconds != 15 {
		t.Errorf("Unsubscribe.TimeoutSeconds = %d, want default 15", cfg.Unsubscribe.TimeoutSeconds)
	}
	if cfg.Server.APIPort != 9090 || cfg.Server.APIKey != "test-secret-key" {
		t.Errorf("Server = %+v", cfg.Server)
	}
}

func TestLoadIMAPConfig(t *testing.T) {
	tmpDir := t.TempDir()
	path := writeConfig(t, tmpDir, `
[provider]
kind = "imap"

[imap]
host = "imap.example.com"
username = "me"
password_env = "TEST_IMAP_PASSWORD"
`)
	t.Setenv("TEST_IMAP_PASSWORD", "hunter2")

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := cfg.IMAP.Addr(); got != "imap.example.com:993" {
		t.Errorf("Addr() = %q, want imap.example.com:993", got)
	}
	if !cfg.IMAP.TLS {
		t.Error("IMAP.TLS should default to true")
	}
	if cfg.IMAP.ArchiveMailbox != "Archive" {
		t.Errorf("ArchiveMailbox = %q, want Archive", cfg.IMAP.ArchiveMailbox)
	}
	pw, err := cfg.IMAP.Password()
	if err != nil || pw != "hunter2" {
		t.Errorf("Password() = %q, %v", pw, err)
	}
}

func TestIMAPPasswordErrors(t *testing.T) {
	if _, err := (IMAPConfig{}).Password(); err == nil {
		t.Error("Password() with no password_env should fail")
	}
	t.Setenv("TEST_IMAP_EMPTY", "")
	if _, err := (IMAPConfig{PasswordEnv: "TEST_IMAP_EMPTY"}).Password(); err == nil {
		t.Error("Password() with empty variable should fail")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"unknown kind", "[provider]\nkind = \"pop3\"\n", "provider.kind"},
		{"unknown delete method", "[provider]\ndelete_method = \"shred\"\n", "provider.delete_method"},
		{"fetch limit too large", "[provider]\nfetch_limit = 501\n", "provider.fetch_limit"},
		{"fetch limit zero", "[provider]\nfetch_limit = 0\n", "provider.fetch_limit"},
		{"imap without host", "[provider]\nkind = \"imap\"\n", "imap.host"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), tt.content)
			_, err := Load(path, "")
			if err == nil {
				t.Fatal("Load() should fail")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	tests := []struct {
		name     string
		input    string
		expected string
		unixOnly bool
	}{
		{name: "empty", input: "", expected: ""},
		{name: "tilde only", input: "~", expected: home},
		{name: "tilde slash", input: "~/data", expected: filepath.Join(home, "data")},
		{name: "tilde user is untouched", input: "~other/data", expected: "~other/data"},
		{name: "absolute", input: "/var/lib/inboxsweep", expected: "/var/lib/inboxsweep", unixOnly: true},
		{name: "relative", input: "data/dir", expected: "data/dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.unixOnly && runtime.GOOS == "windows" {
				t.Skip("skipping Unix-specific path test on Windows")
			}
			if got := expandPath(tt.input); got != tt.expected {
				t.Errorf("expandPath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLoadExplicitPathNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.toml", "")
	if err == nil {
		t.Fatal("Load with explicit nonexistent path should return error")
	}
	if got := err.Error(); !strings.Contains(got, "config file not found") {
		t.Errorf("error = %q, want it to contain %q", got, "config file not found")
	}
}

func TestLoadExplicitPathDerivedHomeDir(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, "[provider]\nrate_limit_qps = 3\n")

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if cfg.HomeDir != tmpDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, tmpDir)
	}
	if cfg.Data.DataDir != tmpDir {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, tmpDir)
	}
	if want := filepath.Join(tmpDir, "tokens"); cfg.TokensDir() != want {
		t.Errorf("TokensDir() = %q, want %q", cfg.TokensDir(), want)
	}
	if cfg.ConfigFilePath() != configPath {
		t.Errorf("ConfigFilePath() = %q, want %q", cfg.ConfigFilePath(), configPath)
	}
}

func TestLoadExplicitPathRelativePaths(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir, `
[data]
data_dir = "data"

[oauth]
client_secrets = "secrets/client.json"
`)

	cfg, err := Load(configPath, "")
	if err != nil {
		t.Fatalf("Load(%q) failed: %v", configPath, err)
	}

	if want := filepath.Join(tmpDir, "data"); cfg.Data.DataDir != want {
		t.Errorf("Data.DataDir = %q, want %q", cfg.Data.DataDir, want)
	}
	if want := filepath.Join(tmpDir, "secrets/client.json"); cfg.OAuth.ClientSecrets != want {
		t.Errorf("OAuth.ClientSecrets = %q, want %q", cfg.OAuth.ClientSecrets, want)
	}
}

func TestLoadWithHomeDir(t *testing.T) {
	homeDir := t.TempDir()
	writeConfig(t, homeDir, "[provider]\nfetch_limit = 42\n")

	cfg, err := Load("", homeDir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HomeDir != homeDir {
		t.Errorf("HomeDir = %q, want %q", cfg.HomeDir, homeDir)
	}
	if cfg.Provider.FetchLimit != 42 {
		t.Errorf("Provider.FetchLimit = %d, want 42", cfg.Provider.FetchLimit)
	}
}

func TestDefaultHomeExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("failed to get user home dir: %v", err)
	}

	t.Setenv("INBOXSWEEP_HOME", "~/.inboxsweep")
	if got, want := DefaultHome(), filepath.Join(home, ".inboxsweep"); got != want {
		t.Errorf("DefaultHome() = %q, want %q", got, want)
	}
}

func TestLoadBackslashErrorHint(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("INBOXSWEEP_HOME", tmpDir)
	writeConfig(t, tmpDir, "[data]\ndata_dir = \"C:\\Games\\inboxsweep\"\n")

	_, err := Load("", "")
	if err == nil {
		t.Fatal("Load should fail on TOML backslash error")
	}
	for _, want := range []string{"hint:", "forward slashes", "single quotes"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should contain %q, got: %s", want, err)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	homeDir := filepath.Join(t.TempDir(), "fresh")
	t.Setenv("INBOXSWEEP_HOME", homeDir)

	cfg := NewDefaultConfig()
	cfg.Provider.Account = "me@example.com"
	cfg.OAuth.ClientSecrets = "/etc/inboxsweep/client.json"
	cfg.Server.APIKey = "k"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(cfg.ConfigFilePath())
		if err != nil {
			t.Fatalf("Stat: %v", err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("config perm = %04o, want 0600", perm)
		}
	}

	got, err := Load("", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Provider.Account != "me@example.com" || got.Server.APIKey != "k" {
		t.Errorf("reloaded config = %+v", got)
	}
	if got.OAuth.ClientSecrets != "/etc/inboxsweep/client.json" {
		t.Errorf("ClientSecrets = %q", got.OAuth.ClientSecrets)
	}
}

func TestServerValidateSecure(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr bool
	}{
		{"loopback without key", ServerConfig{BindAddr: "127.0.0.1"}, false},
		{"empty bind without key", ServerConfig{}, false},
		{"public without key", ServerConfig{BindAddr: "0.0.0.0"}, true},
		{"public with key", ServerConfig{BindAddr: "0.0.0.0", APIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.ValidateSecure(); (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecure() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
