package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, 25, cfg.Pipeline.PageSize)
	assert.False(t, cfg.Pipeline.FullSequence)
	assert.False(t, cfg.Journal.Enabled)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  base_url: https://flow.example.com
  timeout: 5s
pipeline:
  page_size: 50
  full_sequence: true
  reconnect_backoff: 500ms
journal:
  enabled: true
  path: /tmp/journal.db
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://flow.example.com", cfg.Server.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Server.TimeoutDuration())
	assert.Equal(t, 50, cfg.Pipeline.PageSize)
	assert.True(t, cfg.Pipeline.FullSequence)
	assert.Equal(t, 500*time.Millisecond, cfg.Pipeline.BackoffDuration())
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoadPartialFileKeepsRemainingDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  page_size: 10\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Pipeline.PageSize)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, "2s", cfg.Pipeline.ReconnectBackoff)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FLOWCTL_SERVER_URL", "https://env.example.com")
	t.Setenv("FLOWCTL_API_KEY", "secret-from-env")

	path := filepath.Join(t.TempDir(), "flowctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  base_url: https://file.example.com\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	// Environment wins over the file for credentials.
	assert.Equal(t, "https://env.example.com", cfg.Server.BaseURL)
	assert.Equal(t, "secret-from-env", cfg.Server.APIKey)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [not a mapping"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.Server.BaseURL = "" },
			wantErr: "base_url",
		},
		{
			name:    "zero page size",
			mutate:  func(c *Config) { c.Pipeline.PageSize = 0 },
			wantErr: "page_size",
		},
		{
			name: "journal enabled without path",
			mutate: func(c *Config) {
				c.Journal.Enabled = true
				c.Journal.Path = ""
			},
			wantErr: "journal.path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDurationFallbacks(t *testing.T) {
	assert.Equal(t, 30*time.Second, ServerConfig{Timeout: "garbage"}.TimeoutDuration())
	assert.Equal(t, 30*time.Second, ServerConfig{}.TimeoutDuration())
	assert.Equal(t, 2*time.Second, PipelineConfig{ReconnectBackoff: "-1s"}.BackoffDuration())
}
