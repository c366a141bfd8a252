package app

import (
	"path/filepath"
	"testing"

	hclload "github.com/specialistvlad/remotebox/internal/hcl"
	"github.com/specialistvlad/remotebox/internal/testutil"
)

// SetupAppTest creates a debug-logging app for system testing whose state
// lives in a temporary directory unless appConfig sets a path.
func SetupAppTest(t *testing.T, appConfig *Config, opts ...Option) (*App, *testutil.SafeBuffer) {
	t.Helper()

	logBuffer := &testutil.SafeBuffer{}
	appConfig.LogLevel = "debug"
	if appConfig.StatePath == "" {
		appConfig.StatePath = filepath.Join(t.TempDir(), "state.db")
	}
	testApp := NewApp(logBuffer, appConfig, hclload.NewLoader(), opts...)

	t.Cleanup(func() { testutil.DumpLogs(t, logBuffer) })

	return testApp, logBuffer
}
