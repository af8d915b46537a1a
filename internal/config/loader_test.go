package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

const minimalConfig = `
version: 1
relay:
  api_id: 12345
  api_hash: "deadbeef"
  channel_id: -1001234567890
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func setSecrets(t *testing.T) {
	t.Helper()

	t.Setenv("CLOUDVAULT_API_KEY", "test-api-key")
	t.Setenv("CLOUDVAULT_SIGNING_SECRET", "test-signing-secret")
	t.Setenv("CLOUDVAULT_BOT_TOKEN", "123:abc")
}

func TestLoad_Defaults(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, 4, cfg.Relay.SendSlots)
	assert.Equal(t, 2*time.Minute, cfg.Watchdog.Base)
	assert.Equal(t, 30*time.Minute, cfg.Watchdog.Max)
	assert.Equal(t, 3*time.Minute, cfg.Watchdog.Idle)
	assert.Equal(t, time.Hour, cfg.Uploads.SessionTTL)
	assert.Equal(t, int64(8<<30), cfg.Eviction.MaxSize)
	assert.Equal(t, "memory", cfg.RateLimit.Provider)
	assert.Equal(t, 15*time.Minute, cfg.Auth.TokenTTL)
}

func TestLoad_SecretsResolved(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, minimalConfig)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test-api-key", cfg.Auth.APIKey)
	assert.Equal(t, "test-signing-secret", cfg.Auth.SigningSecret)
	assert.Equal(t, "123:abc", cfg.Relay.BotToken)
}

func TestLoad_MissingSecretIsConfigError(t *testing.T) {
	t.Setenv("CLOUDVAULT_API_KEY", "test-api-key")
	t.Setenv("CLOUDVAULT_SIGNING_SECRET", "test-signing-secret")
	t.Setenv("CLOUDVAULT_BOT_TOKEN", "")
	path := writeConfig(t, minimalConfig)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, customerrors.IsType(err, customerrors.TypeConfig))
}

func TestLoad_MissingChannel(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, `
version: 1
relay:
  api_id: 12345
  api_hash: "deadbeef"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, customerrors.IsType(err, customerrors.TypeConfig))
}

func TestLoad_InvalidPort(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, minimalConfig+`
server:
  port: 99999
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RedisProviderRequiresURL(t *testing.T) {
	setSecrets(t)
	path := writeConfig(t, minimalConfig+`
rate_limit:
  enabled: true
  provider: redis
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis.url")
}

func TestLoad_MissingFile(t *testing.T) {
	setSecrets(t)

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
