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
		"CAMPRO_API_KEY", "PORT", "CAMPRO_ENV", "CAMPRO_ANALYSIS_URL",
		"CAMPRO_LOG_LEVEL", "CAMPRO_REQUEST_TIMEOUT",
		"CAMPRO_SESSION_IDLE_TIMEOUT", "CAMPRO_MAX_IMAGE_EDGE",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "secret")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, "http://127.0.0.1:8000", cfg.AnalysisURL)
	assert.Zero(t, cfg.RequestTimeout)
	assert.Zero(t, cfg.SessionIdleTimeout)
	assert.Zero(t, cfg.MaxImageEdge)
	assert.False(t, cfg.IsProduction())
	assert.Equal(t, "localhost:8080", cfg.Addr())
}

func TestLoadMissingAPIKey(t *testing.T) {
	clearEnv(t)

	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMPRO_API_KEY")
}

func TestLoadEmptyAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "")

	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMPRO_API_KEY")
}

func TestLoadProduction(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "secret")
	t.Setenv("CAMPRO_ENV", "production")
	t.Setenv("PORT", "9900")
	t.Setenv("CAMPRO_REQUEST_TIMEOUT", "30s")
	t.Setenv("CAMPRO_SESSION_IDLE_TIMEOUT", "10m")

	cfg, err := LoadFile("")
	require.NoError(t, err)

	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "0.0.0.0:9900", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 10*time.Minute, cfg.SessionIdleTimeout)
}

func TestLoadInvalidPort(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "secret")
	t.Setenv("PORT", "not-a-number")

	_, err := LoadFile("")
	require.Error(t, err)
}

func TestLoadPortOutOfRange(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "secret")
	t.Setenv("PORT", "70000")

	_, err := LoadFile("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port")
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)

	envFile := filepath.Join(t.TempDir(), ".env")
	content := "CAMPRO_API_KEY=from-file\nCAMPRO_ANALYSIS_URL=http://analysis:9000\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	cfg, err := LoadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, "http://analysis:9000", cfg.AnalysisURL)
}

func TestLoadDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "from-env")

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("CAMPRO_API_KEY=from-file\n"), 0o600))

	cfg, err := LoadFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIKey)
}

func TestLoadMissingDotEnvIsIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMPRO_API_KEY", "secret")

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
