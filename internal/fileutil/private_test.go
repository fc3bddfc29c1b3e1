package fileutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func assertPerm(t *testing.T, path string, want os.FileMode) {
	t.Helper()
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if got := info.Mode().Perm(); got&^want != 0 {
		t.Errorf("%s perm = %04o, has bits beyond %04o", path, got, want)
	}
}

func TestWritePrivate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "tokens", "nested")
	path := filepath.Join(dir, "me@example.com.json")

	if err := WritePrivate(path, []byte("first")); err != nil {
		t.Fatalf("WritePrivate: %v", err)
	}
	if err := WritePrivate(path, []byte("second")); err != nil {
		t.Fatalf("overwrite: %v", err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "second" {
		t.Errorf("content = %q, want second", got)
	}
	assertPerm(t, path, 0o600)
	assertPerm(t, dir, 0o700)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want only the target file", len(entries))
	}
}

func TestMkdirPrivateExisting(t *testing.T) {
	dir := t.TempDir()
	if err := MkdirPrivate(dir); err != nil {
		t.Fatalf("MkdirPrivate on existing dir: %v", err)
	}
	if got := missingDirs(dir); len(got) != 0 {
		t.Errorf("missingDirs(existing) = %v", got)
	}

	leaf := filepath.Join(dir, "a", "b")
	got := missingDirs(leaf)
	if len(got) != 2 || got[0] != leaf || got[1] != filepath.Join(dir, "a") {
		t.Errorf("missingDirs = %v", got)
	}
}

func TestOpenPrivateAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.log")
	for _, line := range []string{"one\n", "two\n"} {
		f, err := OpenPrivate(path)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.WriteString(line); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one\ntwo\n" {
		t.Errorf("content = %q", got)
	}
	assertPerm(t, path, 0o600)
}
