package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"FLEET_CONFIG_FILE", "FLEET_API_BASE_URL", "FLEET_API_TOKEN",
		"TRAFFIC_THRESHOLD", "CHECK_INTERVAL", "SERVER_CLASSES",
		"SSH_KEY_IDS", "WINDOW_START", "WINDOW_END", "SCHEDULER_ENABLED",
		"HTTP_LISTEN_ADDR", "LOG_LEVEL", "DRY_RUN", "PRESERVE_ADDRESS",
		"SNAPSHOT_BEFORE_DELETE",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://api.hetzner.cloud/v1", cfg.APIBaseURL)
	assert.Equal(t, 0.8, cfg.TrafficThreshold)
	assert.Equal(t, 1800*time.Second, cfg.CheckInterval)
	assert.Equal(t, 60*time.Second, cfg.ErrorCooldown)
	assert.Equal(t, []int64{116, 110, 117}, cfg.ClassPriority)
	assert.Equal(t, 3, cfg.CreateAttemptsPerClass)
	assert.Equal(t, 24, cfg.DeletePollMax)
	assert.Equal(t, 12, cfg.ReleasePollMax)
	assert.Equal(t, "nbg1", cfg.Location)
	assert.Equal(t, "ubuntu-20.04", cfg.BaseImage)
	assert.True(t, cfg.PreserveAddress)
	assert.Equal(t, ":8080", cfg.HTTPListenAddr)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEET_API_TOKEN", "secret")
	t.Setenv("TRAFFIC_THRESHOLD", "0.9")
	t.Setenv("CHECK_INTERVAL", "600")
	t.Setenv("SERVER_CLASSES", "117, 109")
	t.Setenv("SSH_KEY_IDS", "103101822")
	t.Setenv("DRY_RUN", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIToken)
	assert.Equal(t, 0.9, cfg.TrafficThreshold)
	assert.Equal(t, 600*time.Second, cfg.CheckInterval)
	assert.Equal(t, []int64{117, 109}, cfg.ClassPriority)
	assert.Equal(t, []int64{103101822}, cfg.SSHKeyIDs)
	assert.True(t, cfg.DryRun)
}

func TestLoad_YAMLFileWithEnvOnTop(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	data := []byte(`
api_token: from-file
traffic_threshold: 0.75
class_priority: [110]
window_start: "22:00"
window_end: "08:50"
scheduler_enabled: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	t.Setenv("FLEET_CONFIG_FILE", path)
	t.Setenv("TRAFFIC_THRESHOLD", "0.85")

	cfg, err := Load()
	require.NoError(t, err)

	// Env wins over file; file wins over defaults.
	assert.Equal(t, "from-file", cfg.APIToken)
	assert.Equal(t, 0.85, cfg.TrafficThreshold)
	assert.Equal(t, []int64{110}, cfg.ClassPriority)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, "22:00", cfg.WindowStart)
	assert.Equal(t, "08:50", cfg.WindowEnd)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEET_CONFIG_FILE", "/nonexistent/fleet.yaml")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read config file")
}

func TestValidate_RequiresToken(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation error")
}

func TestValidate_OK(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEET_API_TOKEN", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
}

func TestValidate_WindowFormat(t *testing.T) {
	tests := []struct {
		name  string
		start string
		valid bool
	}{
		{"valid", "08:00", true},
		{"valid late", "23:59", true},
		{"hour out of range", "24:00", false},
		{"minute out of range", "08:60", false},
		{"no colon", "0800", false},
		{"garbage", "start", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("FLEET_API_TOKEN", "secret")
			t.Setenv("SCHEDULER_ENABLED", "true")
			t.Setenv("WINDOW_START", tt.start)
			t.Setenv("WINDOW_END", "23:30")

			cfg, err := Load()
			require.NoError(t, err)

			err = cfg.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestValidate_SchedulerNeedsWindow(t *testing.T) {
	clearEnv(t)
	t.Setenv("FLEET_API_TOKEN", "secret")
	t.Setenv("SCHEDULER_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "window_start")
}

func TestClassName(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cx43", cfg.ClassName(116))
	assert.Equal(t, "cpx22", cfg.ClassName(110))
	assert.Equal(t, "type_999", cfg.ClassName(999))
}

func TestClassPriorityNames(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"116 (cx43)", "110 (cpx22)", "117 (cx53)"}, cfg.ClassPriorityNames())
}

func TestLoad_SnapshotBeforeDelete(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.SnapshotBeforeDelete)
	assert.Equal(t, 5*time.Second, cfg.SnapshotPollInterval)
	assert.Equal(t, 36, cfg.SnapshotPollMax)

	t.Setenv("SNAPSHOT_BEFORE_DELETE", "true")
	cfg, err = Load()
	require.NoError(t, err)
	assert.True(t, cfg.SnapshotBeforeDelete)
}
