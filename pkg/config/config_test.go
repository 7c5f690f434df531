package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8090", cfg.Addr())
	assert.Equal(t, "fleet.db", cfg.DBPath)
	assert.Equal(t, 30*time.Second, cfg.HandlerTimeout)
	assert.Equal(t, 16, cfg.MaxChainDepth)
	assert.Empty(t, cfg.AI.Provider)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 9100
db_path: /var/lib/fleet/fleet.db
handler_timeout: 45s
ai:
  provider: anthropic
  api_key: sk-test
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/var/lib/fleet/fleet.db", cfg.DBPath)
	assert.Equal(t, 45*time.Second, cfg.HandlerTimeout)
	assert.Equal(t, "anthropic", cfg.AI.Provider)
	// Untouched keys keep their defaults.
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 16, cfg.MaxChainDepth)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 9100\n"), 0o600))
	t.Setenv("FLEET_PORT", "9200")
	t.Setenv("FLEET_AI_PROVIDER", "openai")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9200, cfg.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Setenv("FLEET_PORT", "70000")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")

	t.Setenv("FLEET_PORT", "8090")
	t.Setenv("FLEET_AI_PROVIDER", "cohere")
	_, err = Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown ai provider")
}
