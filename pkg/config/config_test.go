package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRepoEnv(t *testing.T) {
	t.Helper()
	t.Setenv("WATCHED_REPOS", "octo/widgets,octo/gadgets")
}

func TestLoadDefaults(t *testing.T) {
	setRepoEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.MaxConcurrent)
	assert.Equal(t, 8490, cfg.HealthPort)
	assert.Equal(t, "0 2 * * *", cfg.CronSchedule)
	assert.Equal(t, 5*time.Minute, cfg.HeartbeatTimeout())
	assert.Equal(t, 60*time.Second, cfg.WatchdogInterval)
	assert.Equal(t, []string{"octo/widgets", "octo/gadgets"}, cfg.WatchedRepos)
	// Default repo falls back to the first watched repo
	assert.Equal(t, "octo/widgets", cfg.DefaultRepo)
	assert.True(t, cfg.Watches("octo/gadgets"))
	assert.False(t, cfg.Watches("octo/unknown"))
}

func TestLoadEnvOverrides(t *testing.T) {
	setRepoEnv(t)
	t.Setenv("MAX_CONCURRENT", "7")
	t.Setenv("HEARTBEAT_TIMEOUT", "90s")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("STUB_MODE", "true")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.MaxConcurrent)
	assert.Equal(t, 90*time.Second, cfg.HeartbeatTTL)
	assert.True(t, cfg.JSONLogs())
	assert.True(t, cfg.StubMode)
}

func TestLoadYAMLOverlay(t *testing.T) {
	setRepoEnv(t)

	path := filepath.Join(t.TempDir(), "overlord.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent: 5\ndefault_repo: octo/gadgets\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.MaxConcurrent)
	assert.Equal(t, "octo/gadgets", cfg.DefaultRepo)
	// Untouched fields keep their defaults
	assert.Equal(t, 8490, cfg.HealthPort)

	// Environment wins over the file
	t.Setenv("MAX_CONCURRENT", "9")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.MaxConcurrent)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{
			name: "missing watched repos",
			env:  map[string]string{},
		},
		{
			name: "malformed repo",
			env:  map[string]string{"WATCHED_REPOS": "not-a-repo"},
		},
		{
			name: "zero concurrency",
			env:  map[string]string{"WATCHED_REPOS": "o/r", "MAX_CONCURRENT": "0"},
		},
		{
			name: "bad log level",
			env:  map[string]string{"WATCHED_REPOS": "o/r", "LOG_LEVEL": "verbose"},
		},
		{
			name: "out of range port",
			env:  map[string]string{"WATCHED_REPOS": "o/r", "HEALTH_PORT": "70000"},
		},
		{
			name: "heartbeat timeout too small",
			env:  map[string]string{"WATCHED_REPOS": "o/r", "HEARTBEAT_TIMEOUT": "1s"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	setRepoEnv(t)
	_, err := Load("/nonexistent/overlord.yaml")
	assert.Error(t, err)
}
