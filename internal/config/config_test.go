package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func unsetEnvKeys(keys ...string) {
	for _, k := range keys {
		_ = os.Unsetenv(k)
	}
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	err := os.WriteFile(path, []byte(content), 0o600)
	require.NoError(t, err)
	return path
}

func TestLoadConfigFromEnvDefaults(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT", "SERVER_HOST", "APP_ENVIRONMENT", "APP_DEBUG", "ADMISSION_MAX_QUEUE_SIZE")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.False(t, cfg.App.Debug)

	assert.Equal(t, 4, cfg.Admission.MaxConcurrentValidations)
	assert.Equal(t, 1000, cfg.Admission.MaxQueueSize)
	assert.Equal(t, 80.0, cfg.Admission.MaxCPUPercent)
	assert.Equal(t, 20.0, cfg.Admission.CriticalReservationPct)

	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)

	assert.True(t, cfg.Cache.Enabled)
	assert.True(t, cfg.Cache.L1Enabled)
	assert.False(t, cfg.Cache.L2Enabled)

	assert.Equal(t, 0.25, cfg.Telemetry.PhaseShareAlertThreshold)
	assert.Equal(t, int64(500<<20), cfg.Telemetry.MemoryAlertBytes)
}

func TestLoadConfigFile(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT", "APP_ENVIRONMENT", "APP_DEBUG", "ADMISSION_MAX_QUEUE_SIZE")

	yaml := `
app:
  environment: "production"
  debug: false
server:
  port: 9090
  host: "127.0.0.1"
admission:
  max_queue_size: 500
  max_concurrent_validations: 8
breaker:
  failure_threshold: 10
log:
  level: "debug"
`
	path := writeTempYAML(t, yaml)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.App.Environment)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 500, cfg.Admission.MaxQueueSize)
	assert.Equal(t, 8, cfg.Admission.MaxConcurrentValidations)
	assert.Equal(t, 10, cfg.Breaker.FailureThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfigMissingFileFallsBackToDefaults(t *testing.T) {
	resetViper()
	unsetEnvKeys("SERVER_PORT")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestValidateRejectsInvalidPort(t *testing.T) {
	cfg := &Config{}
	*cfg = defaultsForValidation()
	cfg.Server.Port = 70000

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsEmptyAppName(t *testing.T) {
	cfg := defaultsForValidation()
	cfg.App.Name = ""

	err := cfg.Validate()
	require.Error(t, err)
}

func TestValidateRejectsCacheEnabledWithNoTier(t *testing.T) {
	cfg := defaultsForValidation()
	cfg.Cache.Enabled = true
	cfg.Cache.L1Enabled = false
	cfg.Cache.L2Enabled = false

	err := cfg.Validate()
	require.Error(t, err)
}

func TestToCoreConversions(t *testing.T) {
	cfg := defaultsForValidation()

	admissionCfg := cfg.Admission.ToCore()
	assert.Equal(t, cfg.Admission.MaxQueueSize, admissionCfg.MaxQueueSize)

	breakerCfg := cfg.Breaker.ToCore()
	assert.Equal(t, cfg.Breaker.FailureThreshold, breakerCfg.FailureThreshold)

	cacheCfg := cfg.Cache.ToCore()
	assert.Equal(t, cfg.Cache.L1MaxEntries, cacheCfg.L1MaxEntries)

	retryCfg := cfg.Retry.ToCore()
	assert.Equal(t, cfg.Retry.MaxAttempts, retryCfg.MaxAttempts)

	telemetryCfg := cfg.Telemetry.ToCore()
	assert.Equal(t, cfg.Telemetry.MemoryAlertBytes, telemetryCfg.MemoryAlertBytes)
}

// defaultsForValidation resets viper and loads a Config populated with
// setDefaults' values (no config file), so Validate tests can tweak a single
// field.
func defaultsForValidation() Config {
	resetViper()
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		panic(err)
	}
	return *cfg
}
