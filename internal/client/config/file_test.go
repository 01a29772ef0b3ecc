package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempJSON(t *testing.T, dir, name string, data map[string]any) string {
	t.Helper()
	if dir == "" {
		dir = t.TempDir()
	}
	if name == "" {
		name = "cfg.json"
	}
	path := filepath.Join(dir, name)
	b, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, b, 0o600))
	return path
}

func Test_parseFile_SourcesAndPrecedence(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	dir := t.TempDir()
	jsonPath := writeTempJSON(t, dir, "flag.json", map[string]any{
		"data_dir":               "/var/lib/openemail",
		"http_timeout":           "10s",
		"retry_attempts":         5,
		"verify_host_delegation": true,
	})
	tomlPath := filepath.Join(dir, "flag.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
scheme = "http"
retry_delay = "250ms"
sync_interval = "0s"
max_message_size = 1048576
log_format = "text"
`), 0o600))

	t.Run("loads JSON from flags", func(t *testing.T) {
		os.Args = []string{"testbin", "-config", jsonPath}

		cfg := &Config{LogLevel: "warn"}
		parseFile(cfg)

		assert.Equal(t, "/var/lib/openemail", cfg.DataDir)
		assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
		assert.Equal(t, 5, cfg.RetryAttempts)
		assert.True(t, cfg.VerifyHostDelegation)
		assert.Equal(t, "warn", cfg.LogLevel, "absent keys keep their value")
	})

	t.Run("loads TOML by extension", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", tomlPath}

		cfg := &Config{Scheme: "https", RetryAttempts: 3, SyncInterval: time.Minute}
		parseFile(cfg)

		assert.Equal(t, "http", cfg.Scheme)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, int64(1<<20), cfg.MaxMessageSize)
		assert.Equal(t, 3, cfg.RetryAttempts)
		assert.Zero(t, cfg.SyncInterval)
		assert.False(t, cfg.JSONLogs())
	})

	t.Run("no flags → no changes", func(t *testing.T) {
		os.Args = []string{"testbin"}

		cfg := &Config{DataDir: "/defaults", HTTPTimeout: 42 * time.Second}
		parseFile(cfg)

		assert.Equal(t, "/defaults", cfg.DataDir)
		assert.Equal(t, 42*time.Second, cfg.HTTPTimeout)
	})

	t.Run("invalid JSON → panics", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte(`{ this is not valid json`), 0o600))
		os.Args = []string{"testbin", "-config", bad}

		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("bad duration → panics", func(t *testing.T) {
		bad := writeTempJSON(t, dir, "dur.json", map[string]any{"retry_delay": "soon"})
		os.Args = []string{"testbin", "-c", bad}

		require.Panics(t, func() { parseFile(&Config{}) })
	})

	t.Run("missing file → panics", func(t *testing.T) {
		os.Args = []string{"testbin", "-c", filepath.Join(dir, "absent.toml")}

		require.Panics(t, func() { parseFile(&Config{}) })
	})
}
