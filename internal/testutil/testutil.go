// Package testutil provides test helpers for inboxsweep tests.
//
// The package is organized into focused files:
//   - assert.go: assertion helpers (MustNoErr, AssertStrings, etc.)
//   - store_helpers.go: journal database setup (NewTestStore)
//   - fs_helpers.go: filesystem operations (WriteFile, ReadFile, MustExist)
//   - builders.go: classified message builders
//
// The email subpackage builds raw MIME messages.
package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything below Error and
// writes nothing.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
