package cmd

import (
	"testing"

	"github.com/wesm/inboxsweep/internal/config"
)

// useTestConfig installs a default config rooted in a temp dir for the
// duration of the test. Tests using it must not run in parallel.
func useTestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("INBOXSWEEP_HOME", t.TempDir())
	saved := cfg
	c, err := config.Load("", "")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg = c
	t.Cleanup(func() { cfg = saved })
	return c
}
