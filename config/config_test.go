package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	assert.Equal(t, "fabrica.db", cfg.Database.Path)
	assert.Equal(t, "openrouter", cfg.Worker.Provider)
	assert.Equal(t, 600, cfg.Worker.TimeoutSeconds)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadWorker(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	require.NoError(t, v.Unmarshal(&cfg))

	cfg.Worker.Model = ""
	assert.Error(t, cfg.Validate())

	cfg.Worker.Model = "anthropic/claude-sonnet-4"
	cfg.Worker.Temperature = 3.5
	assert.Error(t, cfg.Validate())

	cfg.Worker.Temperature = 0.2
	cfg.Worker.TimeoutSeconds = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fabrica.toml")
	content := `
[database]
path = "/tmp/test-fabrica.db"

[worker]
model = "openai/gpt-4o-mini"
max_tokens = 4096
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test-fabrica.db", cfg.Database.Path)
	assert.Equal(t, "openai/gpt-4o-mini", cfg.Worker.Model)
	assert.Equal(t, 4096, cfg.Worker.MaxTokens)
	// Untouched keys keep defaults
	assert.Equal(t, "openrouter", cfg.Worker.Provider)
}

func TestDatabasePathEnvOverride(t *testing.T) {
	Reset()
	t.Cleanup(Reset)

	t.Setenv("FABRICA_DB_PATH", "/tmp/override.db")
	path, err := GetDatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", path)
}
