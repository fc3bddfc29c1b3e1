//go:build !windows

package fileutil

// restrictToCurrentUser is a no-op on Unix, where the file mode already
// limits access to the owner.
func restrictToCurrentUser(string) error { return nil }
