// pkg/config/config_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: Temp files, environment variables
// PURPOSE: Test configuration layering and validation

package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arthur-debert/modkit/pkg/config"
	"github.com/arthur-debert/modkit/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	require.NoError(t, err)

	assert.Equal(t, 14, cfg.Fetch.Concurrency)
	assert.Equal(t, 3, cfg.Fetch.Attempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetch.BackoffBase)
	assert.Equal(t, 30*time.Second, cfg.Fetch.BackoffMax)
	assert.Equal(t, "https://api.modrinth.com/v2", cfg.Sources.Modrinth.APIURL)
	assert.Equal(t, config.PresetModeReplace, cfg.Policy.PresetMode)
	assert.False(t, cfg.Policy.EnableNewOptional)
	assert.True(t, cfg.Backup.PreUpdate)
	assert.Equal(t, 10, cfg.Backup.Keep)
}

func TestDefault_MatchesLoad(t *testing.T) {
	loaded, err := config.Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, loaded, config.Default())
}

func TestLoad_UserFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[fetch]
concurrency = 4
backoff_base = "1s"

[policy]
preset_mode = "merge"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Fetch.Concurrency)
	assert.Equal(t, time.Second, cfg.Fetch.BackoffBase)
	assert.Equal(t, 3, cfg.Fetch.Attempts, "untouched keys keep defaults")
	assert.Equal(t, config.PresetModeMerge, cfg.Policy.PresetMode)
}

func TestLoad_MissingFileIsIgnored(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.toml"), nil)
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Fetch.Concurrency)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[fetch\nconcurrency ="), 0644))

	_, err := config.Load(path, nil)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrConfigLoad))
}

func TestLoad_EnvironmentWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[fetch]\nconcurrency = 4\n"), 0644))
	t.Setenv("MODKIT_FETCH__CONCURRENCY", "2")
	t.Setenv("MODKIT_POLICY__ENABLE_NEW_OPTIONAL", "true")
	t.Setenv("MODKIT_FETCH__BACKOFF_MAX", "1m")

	cfg, err := config.Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Fetch.Concurrency)
	assert.True(t, cfg.Policy.EnableNewOptional)
	assert.Equal(t, time.Minute, cfg.Fetch.BackoffMax)
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := config.Load("", map[string]interface{}{"fetch.concurrency": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.Fetch.Concurrency)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		key    string
	}{
		{"zero concurrency", func(c *config.Config) { c.Fetch.Concurrency = 0 }, "fetch.concurrency"},
		{"zero attempts", func(c *config.Config) { c.Fetch.Attempts = 0 }, "fetch.attempts"},
		{"max below base", func(c *config.Config) { c.Fetch.BackoffMax = time.Millisecond }, "fetch.backoff_max"},
		{"shrinking backoff", func(c *config.Config) { c.Fetch.BackoffMultiplier = 0.5 }, "fetch.backoff_multiplier"},
		{"bad preset mode", func(c *config.Config) { c.Policy.PresetMode = "append" }, "policy.preset_mode"},
		{"negative backup keep", func(c *config.Config) { c.Backup.Keep = -1 }, "backup.keep"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrConfigValid))
			assert.Equal(t, tt.key, errors.GetDetail(err, "key"))
		})
	}
}
