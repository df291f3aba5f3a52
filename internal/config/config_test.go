package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
device:
  mode: remote
  address: 10.0.0.5:1600
driver:
  timeout: 750ms
shell:
  selftest_delay: 0s
`), 0o644))

	require.NoError(t, InitializeFrom(file))

	cfg := Get()
	assert.Equal(t, "remote", cfg.Device.Mode)
	assert.Equal(t, "10.0.0.5:1600", cfg.Device.Address)
	assert.Equal(t, 750*time.Millisecond, cfg.Driver.Timeout)
	assert.Equal(t, time.Duration(0), cfg.Shell.SelftestDelay)

	// untouched keys keep their defaults.
	assert.Equal(t, 2*time.Second, cfg.Shell.WaitInterval)
	assert.Equal(t, 100*time.Millisecond, cfg.Chip.SecDecay)
	assert.True(t, cfg.Examples.ExclusiveInit)
	assert.Equal(t, 1600, cfg.Server.Port)
	assert.Equal(t, "human", cfg.Log.Format)
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(file, []byte("log:\n  level: info\n"), 0o644))
	t.Setenv("GOOPTIGA_LOG_LEVEL", "debug")

	require.NoError(t, InitializeFrom(file))
	assert.Equal(t, "debug", GetViper().GetString("log.level"))
}
