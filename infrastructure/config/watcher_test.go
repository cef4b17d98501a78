package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeConfigFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDynamicConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")

	t.Run("valid", func(t *testing.T) {
		writeConfigFile(t, path, "conflictStrategy: MOST_SPECIFIC\ncacheTTL: 30s\nlogLevel: debug\n")
		cfg, err := loadDynamicConfig(path)
		require.NoError(t, err)
		assert.Equal(t, "MOST_SPECIFIC", cfg.ConflictStrategy)
		assert.Equal(t, 30*time.Second, cfg.CacheTTL)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := loadDynamicConfig(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		writeConfigFile(t, path, "conflictStrategy: [unclosed\n")
		_, err := loadDynamicConfig(path)
		assert.Error(t, err)
	})

	t.Run("negative ttl", func(t *testing.T) {
		writeConfigFile(t, path, "cacheTTL: -5s\n")
		_, err := loadDynamicConfig(path)
		assert.Error(t, err)
	})
}

func TestWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	writeConfigFile(t, path, "conflictStrategy: DENY_OVERRIDES\n")

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	assert.Equal(t, "DENY_OVERRIDES", w.Current().ConflictStrategy)

	changes := make(chan DynamicConfig, 4)
	w.OnChange(func(cfg DynamicConfig) { changes <- cfg })

	writeConfigFile(t, path, "conflictStrategy: GRANT_OVERRIDES\n")

	select {
	case cfg := <-changes:
		assert.Equal(t, "GRANT_OVERRIDES", cfg.ConflictStrategy)
	case <-time.After(3 * time.Second):
		t.Fatal("reload notification never arrived")
	}
	assert.Equal(t, "GRANT_OVERRIDES", w.Current().ConflictStrategy)
}

func TestWatcher_KeepsCurrentOnInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	writeConfigFile(t, path, "conflictStrategy: DENY_OVERRIDES\n")

	w, err := NewWatcher(path, zap.NewNop())
	require.NoError(t, err)
	w.Start()
	defer w.Stop()

	writeConfigFile(t, path, "cacheTTL: -1s\n")

	// give the debounced reload time to run and be rejected
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, "DENY_OVERRIDES", w.Current().ConflictStrategy)
}

func TestNewWatcher_MissingFile(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "nope.yaml"), zap.NewNop())
	assert.Error(t, err)
}
