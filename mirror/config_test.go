package mirror

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	config, err := LoadServerConfig("")
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Address, DefaultAddress)
	assert.Equal(t, config.Settings.Subprotocol, "ooui")
	assert.Equal(t, config.Settings.SessionSettings.ThrottleInterval, time.Second/30)
	assert.Equal(t, config.Settings.SessionSettings.ReceiveBufferSize, 64*1024)
	assert.Equal(t, config.Settings.SessionSettings.MissingDependencyPolicy, MissingDependencySkip)
	assert.Equal(t, len(config.Settings.JwtSigningKey), 0)
}

func TestLoadServerConfigFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "mirror.yml")
	err := os.WriteFile(configPath, []byte(`
address: ":9090"
throttleInterval: 100ms
receiveBufferSize: 1024
missingDependency: drop
jwtSigningKey: abc
upgradeRate: 5
`), 0600)
	assert.Equal(t, err, nil)

	config, err := LoadServerConfig(configPath)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Address, ":9090")
	assert.Equal(t, config.Settings.Subprotocol, "ooui")
	assert.Equal(t, config.Settings.SessionSettings.ThrottleInterval, 100*time.Millisecond)
	assert.Equal(t, config.Settings.SessionSettings.ReceiveBufferSize, 1024)
	assert.Equal(t, config.Settings.SessionSettings.MissingDependencyPolicy, MissingDependencyDrop)
	assert.Equal(t, string(config.Settings.JwtSigningKey), "abc")
	assert.Equal(t, config.Settings.UpgradeRatePerSecond, float64(5))
	assert.Equal(t, config.Settings.UpgradeBurst, 1)

	// env wins over the file
	t.Setenv(EnvAddress, ":7070")
	t.Setenv(EnvThrottleInterval, "10ms")
	t.Setenv(EnvReceiveBufferSize, "2048")
	config, err = LoadServerConfig(configPath)
	assert.Equal(t, err, nil)
	assert.Equal(t, config.Address, ":7070")
	assert.Equal(t, config.Settings.SessionSettings.ThrottleInterval, 10*time.Millisecond)
	assert.Equal(t, config.Settings.SessionSettings.ReceiveBufferSize, 2048)
}

func TestLoadServerConfigInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "mirror.yml")
	err := os.WriteFile(configPath, []byte("missingDependency: sometimes\n"), 0600)
	assert.Equal(t, err, nil)
	_, err = LoadServerConfig(configPath)
	assert.NotEqual(t, err, nil)

	_, err = LoadServerConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.NotEqual(t, err, nil)

	t.Setenv(EnvReceiveBufferSize, "-1")
	_, err = LoadServerConfig("")
	assert.NotEqual(t, err, nil)
}
