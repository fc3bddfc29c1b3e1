// Package config handles loading and saving inboxsweep configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/wesm/inboxsweep/internal/fileutil"
)

// Provider kinds.
const (
	ProviderGmail = "gmail"
	ProviderIMAP  = "imap"
)

// Config represents the inboxsweep configuration.
type Config struct {
	Data        DataConfig        `toml:"data"`
	OAuth       OAuthConfig       `toml:"oauth"`
	Provider    ProviderConfig    `toml:"provider"`
	IMAP        IMAPConfig        `toml:"imap"`
	Unsubscribe UnsubscribeConfig `toml:"unsubscribe"`
	Server      ServerConfig      `toml:"server"`

	// Computed paths (not from config file)
	HomeDir    string `toml:"-"`
	configPath string
}

// DataConfig holds data storage configuration.
type DataConfig struct {
	DataDir string `toml:"data_dir"`
}

// OAuthConfig holds OAuth configuration.
type OAuthConfig struct {
	ClientSecrets string `toml:"client_secrets"`
}

// ProviderConfig selects the mailbox backend and tunes how it is used.
type ProviderConfig struct {
	Kind         string  `toml:"kind"`           // gmail or imap
	Account      string  `toml:"account"`        // mailbox address
	RateLimitQPS float64 `toml:"rate_limit_qps"` // Gmail quota units are scaled from this
	FetchLimit   int     `toml:"fetch_limit"`    // messages per listed page, max 500
	Concurrency  int     `toml:"concurrency"`    // parallel metadata fetches
	DeleteMethod string  `toml:"delete_method"`  // permanent or trash
}

// IMAPConfig holds connection settings for the IMAP provider.
type IMAPConfig struct {
	Host           string `toml:"host"`
	Port           int    `toml:"port"`
	TLS            bool   `toml:"tls"`
	STARTTLS       bool   `toml:"starttls"`
	Username       string `toml:"username"`
	PasswordEnv    string `toml:"password_env"` // environment variable holding the password
	ArchiveMailbox string `toml:"archive_mailbox"`
}

// Addr returns host:port.
func (c IMAPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Password reads the password from the configured environment variable.
func (c IMAPConfig) Password() (string, error) {
	if c.PasswordEnv == "" {
		return "", errors.New("imap.password_env is not set")
	}
	pw := os.Getenv(c.PasswordEnv)
	if pw == "" {
		return "", fmt.Errorf("environment variable %s is empty", c.PasswordEnv)
	}
	return pw, nil
}

// UnsubscribeConfig tunes the unsubscribe dispatcher.
type UnsubscribeConfig struct {
	DelayMS        int    `toml:"delay_ms"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	UserAgent      string `toml:"user_agent"`
}

// ServerConfig holds HTTP API server configuration.
type ServerConfig struct {
	APIPort  int    `toml:"api_port"`  // HTTP server port (default: 8080)
	BindAddr string `toml:"bind_addr"` // Listen address (default: 127.0.0.1)
	APIKey   string `toml:"api_key"`   // API authentication key

	CORSOrigins []string `toml:"cors_origins"` // Allowed browser origins; empty disables CORS
}

// IsLoopback reports whether the server binds only to the local machine.
func (s ServerConfig) IsLoopback() bool {
	switch s.BindAddr {
	case "", "127.0.0.1", "::1", "localhost":
		return true
	}
	return false
}

// ValidateSecure refuses to expose the API beyond loopback without a key.
func (s ServerConfig) ValidateSecure() error {
	if !s.IsLoopback() && s.APIKey == "" {
		return fmt.Errorf("refusing to bind %s without [server] api_key", s.BindAddr)
	}
	return nil
}

// DefaultHome returns the default inboxsweep home directory.
// Respects INBOXSWEEP_HOME environment variable.
func DefaultHome() string {
	if h := os.Getenv("INBOXSWEEP_HOME"); h != "" {
		return expandPath(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inboxsweep"
	}
	return filepath.Join(home, ".inboxsweep")
}

// NewDefaultConfig returns a configuration with default values rooted at
// DefaultHome.
func NewDefaultConfig() *Config {
	return newDefaultConfig(DefaultHome())
}

func newDefaultConfig(homeDir string) *Config {
	return &Config{
		HomeDir: homeDir,
		Data: DataConfig{
			DataDir: homeDir,
		},
		Provider: ProviderConfig{
			Kind:         ProviderGmail,
			RateLimitQPS: 5,
			FetchLimit:   100,
			Concurrency:  10,
			DeleteMethod: "permanent",
		},
		IMAP: IMAPConfig{
			Port:           993,
			TLS:            true,
			ArchiveMailbox: "Archive",
		},
		Unsubscribe: UnsubscribeConfig{
			DelayMS:        500,
			TimeoutSeconds: 15,
		},
		Server: ServerConfig{
			APIPort:  8080,
			BindAddr: "127.0.0.1",
		},
		configPath: filepath.Join(homeDir, "config.toml"),
	}
}

// Load reads the configuration. An explicit path must exist; its directory
// becomes the home directory and relative paths inside it resolve against
// that directory. Otherwise homeDir (or DefaultHome when empty) is used and
// a missing config.toml yields defaults.
func Load(path, homeDir string) (*Config, error) {
	explicit := path != ""
	if explicit {
		path = expandPath(path)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("stat config: %w", err)
		}
		abs, err := filepath.Abs(path)
		if err == nil {
			path = abs
		}
		homeDir = filepath.Dir(path)
	} else {
		if homeDir == "" {
			homeDir = DefaultHome()
		}
		homeDir = expandPath(homeDir)
		path = filepath.Join(homeDir, "config.toml")
	}

	cfg := newDefaultConfig(homeDir)
	cfg.configPath = path

	// Config file is optional - use defaults if not present
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, decodeError(err)
	}

	cfg.Data.DataDir = resolvePath(expandPath(cfg.Data.DataDir), homeDir, explicit)
	cfg.OAuth.ClientSecrets = resolvePath(expandPath(cfg.OAuth.ClientSecrets), homeDir, explicit)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeError adds a hint for the most common TOML mistake: Windows paths in
// double-quoted strings.
func decodeError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "invalid escape") || strings.Contains(msg, "hexadecimal digits") {
		return fmt.Errorf("decode config: %w\n  hint: use forward slashes (C:/Users/me) or single quotes ('C:\\Users\\me') for paths", err)
	}
	return fmt.Errorf("decode config: %w", err)
}

// Validate checks enumerated and ranged settings.
func (c *Config) Validate() error {
	switch c.Provider.Kind {
	case ProviderGmail, ProviderIMAP:
	default:
		return fmt.Errorf("provider.kind must be %q or %q, got %q", ProviderGmail, ProviderIMAP, c.Provider.Kind)
	}
	switch c.Provider.DeleteMethod {
	case "permanent", "trash":
	default:
		return fmt.Errorf("provider.delete_method must be \"permanent\" or \"trash\", got %q", c.Provider.DeleteMethod)
	}
	if c.Provider.FetchLimit < 1 || c.Provider.FetchLimit > 500 {
		return fmt.Errorf("provider.fetch_limit must be between 1 and 500, got %d", c.Provider.FetchLimit)
	}
	if c.Provider.Kind == ProviderIMAP && c.IMAP.Host == "" {
		return errors.New("imap.host is required when provider.kind is \"imap\"")
	}
	return nil
}

// Save writes the configuration to its file, creating the home directory.
func (c *Config) Save() error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := fileutil.WritePrivate(c.ConfigFilePath(), buf.Bytes()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// ConfigFilePath returns the path the configuration was (or will be) loaded
// from.
func (c *Config) ConfigFilePath() string {
	if c.configPath != "" {
		return c.configPath
	}
	return filepath.Join(c.HomeDir, "config.toml")
}

// DatabaseDSN returns the path to the SQLite commit journal.
func (c *Config) DatabaseDSN() string {
	return filepath.Join(c.Data.DataDir, "inboxsweep.db")
}

// TokensDir returns the path to the OAuth tokens directory.
func (c *Config) TokensDir() string {
	return filepath.Join(c.Data.DataDir, "tokens")
}

// LogsDir returns the directory for log files written while the TUI owns
// the terminal.
func (c *Config) LogsDir() string {
	return filepath.Join(c.Data.DataDir, "logs")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") || strings.HasPrefix(path, `~\`) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// resolvePath makes relative paths from an explicit config file relative to
// the file's directory.
func resolvePath(path, base string, explicit bool) string {
	if path == "" || !explicit || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(base, path)
}
