package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvOverrides(t *testing.T) {
	t.Run("THREADEX_EMAIL sets account", func(t *testing.T) {
		t.Setenv("THREADEX_EMAIL", "me@example.com")

		cfg := &Config{}
		cfg.applyEnvOverrides()

		assert.Equal(t, "me@example.com", cfg.Account.Email)
	})

	t.Run("empty variables leave values alone", func(t *testing.T) {
		t.Setenv("THREADEX_EMAIL", "")
		t.Setenv("THREADEX_OUTPUT_DIR", "")

		cfg := &Config{
			Account: AccountConfig{Email: "file@example.com"},
			Output:  OutputConfig{Dir: "exports"},
		}
		cfg.applyEnvOverrides()

		assert.Equal(t, "file@example.com", cfg.Account.Email)
		assert.Equal(t, "exports", cfg.Output.Dir)
	})

	t.Run("output and browser overrides", func(t *testing.T) {
		t.Setenv("THREADEX_OUTPUT_DIR", "/tmp/out")
		t.Setenv("THREADEX_DONE_FILE", "/tmp/done.json")
		t.Setenv("THREADEX_CHROME_BIN", "/usr/bin/chromium")
		t.Setenv("THREADEX_DEBUGGER_URL", "ws://127.0.0.1:9222/devtools/browser/x")

		cfg := DefaultConfig()
		cfg.applyEnvOverrides()

		assert.Equal(t, "/tmp/out", cfg.Output.Dir)
		assert.Equal(t, "/tmp/done.json", cfg.Output.DoneFile)
		assert.Equal(t, "/usr/bin/chromium", cfg.Browser.ChromeBin)
		assert.Equal(t, "ws://127.0.0.1:9222/devtools/browser/x", cfg.Browser.DebuggerURL)
	})
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threadex.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account:\n  email: file@example.com\n"), 0644))
	t.Setenv("THREADEX_EMAIL", "env@example.com")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env@example.com", cfg.Account.Email)
}
