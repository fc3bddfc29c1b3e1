// Package fileutil writes files that hold secrets: OAuth tokens, IMAP
// passwords, the config file and review logs. Everything is created
// owner-only; on Windows a DACL limited to the current user is applied as
// well, since Unix modes are not enforced there.
package fileutil

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
)

const (
	privateDirMode  os.FileMode = 0o700
	privateFileMode os.FileMode = 0o600
)

// MkdirPrivate creates dir and any missing parents as owner-only
// directories.
func MkdirPrivate(dir string) error {
	created := missingDirs(dir)
	if err := os.MkdirAll(dir, privateDirMode); err != nil {
		return err
	}
	for _, d := range created {
		restrictBestEffort(d)
	}
	return nil
}

// missingDirs lists dir and the parents that do not exist yet, leaf first.
func missingDirs(dir string) []string {
	var out []string
	p := filepath.Clean(dir)
	for {
		if _, err := os.Stat(p); err == nil {
			return out
		}
		out = append(out, p)
		parent := filepath.Dir(p)
		if parent == p {
			return out
		}
		p = parent
	}
}

// WritePrivate atomically replaces path with data. The parent directory is
// created if needed. A crash never leaves a truncated file behind.
func WritePrivate(path string, data []byte) error {
	if err := MkdirPrivate(filepath.Dir(path)); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if err := tmp.Chmod(privateFileMode); err != nil && runtime.GOOS != "windows" {
		tmp.Close()
		cleanup()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	restrictBestEffort(tmpName)

	if runtime.GOOS == "windows" {
		_ = os.Remove(path)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return err
	}
	return nil
}

// OpenPrivate opens path for appending, creating it owner-only.
func OpenPrivate(path string) (*os.File, error) {
	_, statErr := os.Stat(path)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, privateFileMode)
	if err != nil {
		return nil, err
	}
	if os.IsNotExist(statErr) {
		restrictBestEffort(path)
	}
	return f, nil
}

func restrictBestEffort(path string) {
	if err := restrictToCurrentUser(path); err != nil {
		slog.Warn("fileutil: could not restrict access", "path", path, "error", err)
	}
}
