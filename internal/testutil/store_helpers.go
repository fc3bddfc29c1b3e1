package testutil

import (
	"path/filepath"
	"testing"

	"github.com/wesm/inboxsweep/internal/store"
)

// NewTestStore creates a temporary journal database that is closed when the
// test completes.
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}
