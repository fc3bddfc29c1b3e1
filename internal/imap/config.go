// Package imap provides an IMAP mailbox client implementing gmail.API, so a
// review session can run against any IMAP server.
package imap

import (
	"fmt"
	"net/url"
	"strconv"
)

// Config holds connection settings for an IMAP server.
type Config struct {
	Host     string
	Port     int
	TLS      bool // Implicit TLS (IMAPS, port 993)
	STARTTLS bool // STARTTLS upgrade (port 143)
	Username string

	// ArchiveMailbox receives messages archived out of INBOX.
	ArchiveMailbox string
}

func (c *Config) port() int {
	if c.Port != 0 {
		return c.Port
	}
	if c.TLS {
		return 993
	}
	return 143
}

// Addr returns the "host:port" string.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.port())
}

// Identifier returns a canonical string like "imaps://user@host:port". It
// names the account in the journal and the credentials store.
func (c *Config) Identifier() string {
	scheme := "imap"
	if c.TLS {
		scheme = "imaps"
	}
	return fmt.Sprintf("%s://%s@%s:%d", scheme, url.PathEscape(c.Username), c.Host, c.port())
}

// ParseIdentifier parses a config from an identifier URL like "imaps://user@host:port".
func ParseIdentifier(identifier string) (*Config, error) {
	u, err := url.Parse(identifier)
	if err != nil {
		return nil, fmt.Errorf("parse IMAP identifier: %w", err)
	}

	cfg := &Config{}
	switch u.Scheme {
	case "imaps":
		cfg.TLS = true
	case "imap":
	default:
		return nil, fmt.Errorf("unsupported scheme %q (expected imap or imaps)", u.Scheme)
	}

	cfg.Host = u.Hostname()
	if u.User != nil {
		cfg.Username = u.User.Username()
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port %q: %w", p, err)
		}
		cfg.Port = port
	}
	return cfg, nil
}
