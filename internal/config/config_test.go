package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"WAGATE_CONFIG", "PORT", "WAGATE_DB_PATH", "WAGATE_CREDENTIALS_DIR", "LOG_LEVEL", "LOG_FORMAT",
	"WAGATE_GATEWAY_URL", "WAGATE_GATEWAY_TOKEN", "JWT_SECRET", "CORS_ORIGIN",
	"RECONNECT_INITIAL_DELAY", "RECONNECT_MAX_DELAY", "RECONNECT_MULTIPLIER", "RECONNECT_MAX_ATTEMPTS",
	"RECONNECT_JITTER", "PAIRING_TIMEOUT", "EVENT_BUFFER", "RESTORE_ON_START",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8742, cfg.Port)
	assert.Equal(t, "/data/wagate.db", cfg.DBPath)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, time.Second, cfg.ReconnectInitialDelay)
	assert.Equal(t, 10, cfg.ReconnectMaxAttempts)
	assert.True(t, cfg.ReconnectJitter)
	assert.True(t, cfg.RestoreOnStart)
	assert.Equal(t, 3*time.Minute, cfg.PairingTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("RECONNECT_INITIAL_DELAY", "250ms")
	t.Setenv("RECONNECT_JITTER", "false")
	t.Setenv("RECONNECT_MAX_ATTEMPTS", "0")
	t.Setenv("EVENT_BUFFER", "not-a-number")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.ReconnectInitialDelay)
	assert.False(t, cfg.ReconnectJitter)
	assert.Zero(t, cfg.ReconnectMaxAttempts)
	assert.Equal(t, 32, cfg.EventBuffer, "unparseable values fall back")
}

func TestLoadYAMLFile(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "wagate.yaml", `
port: 9100
db_path: /tmp/w.db
gateway:
  url: wss://gateway.example.com/connect
  token: secret-token
reconnect:
  initial_delay: 2s
  max_delay: 30s
  max_attempts: 0
  jitter: false
pairing_timeout: 0s
restore_on_start: false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "/tmp/w.db", cfg.DBPath)
	assert.Equal(t, "wss://gateway.example.com/connect", cfg.GatewayURL)
	assert.Equal(t, "secret-token", cfg.GatewayToken)
	assert.Equal(t, 2*time.Second, cfg.ReconnectInitialDelay)
	assert.Equal(t, 30*time.Second, cfg.ReconnectMaxDelay)
	assert.Zero(t, cfg.ReconnectMaxAttempts)
	assert.False(t, cfg.ReconnectJitter)
	assert.Zero(t, cfg.PairingTimeout)
	assert.False(t, cfg.RestoreOnStart)
	assert.Equal(t, "/data/credentials", cfg.CredentialsDir, "unset keys keep defaults")
}

func TestLoadTOMLFileWithEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "wagate.toml", `
port = 9200
log_format = "text"
event_buffer = 8

[reconnect]
initial_delay = "500ms"
multiplier = 1.5
`)
	t.Setenv("WAGATE_CONFIG", path)
	t.Setenv("PORT", "9300")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9300, cfg.Port, "environment wins over the file")
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 8, cfg.EventBuffer)
	assert.Equal(t, 500*time.Millisecond, cfg.ReconnectInitialDelay)
	assert.InDelta(t, 1.5, cfg.ReconnectMultiplier, 0.0001)
}

func TestLoadFileErrors(t *testing.T) {
	clearEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeFile(t, "wagate.json", `{}`))
	assert.ErrorContains(t, err, "unsupported config file extension")

	_, err = Load(writeFile(t, "bad.yaml", "reconnect:\n  initial_delay: soon\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"port", map[string]string{"PORT": "70000"}, "PORT"},
		{"gateway scheme", map[string]string{"WAGATE_GATEWAY_URL": "ftp://x"}, "WAGATE_GATEWAY_URL"},
		{"log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"log format", map[string]string{"LOG_FORMAT": "xml"}, "LOG_FORMAT"},
		{"max delay", map[string]string{"RECONNECT_INITIAL_DELAY": "1m", "RECONNECT_MAX_DELAY": "1s"}, "RECONNECT_MAX_DELAY"},
		{"multiplier", map[string]string{"RECONNECT_MULTIPLIER": "0.5"}, "RECONNECT_MULTIPLIER"},
		{"attempts", map[string]string{"RECONNECT_MAX_ATTEMPTS": "-1"}, "RECONNECT_MAX_ATTEMPTS"},
		{"buffer", map[string]string{"EVENT_BUFFER": "0"}, "EVENT_BUFFER"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestCORSOrigins(t *testing.T) {
	c := &Config{CORSOrigin: "https://a.example, https://b.example,,"}
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins())
}
