package mirror

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const DefaultSubprotocol = "ooui"
const DefaultReceiveBufferSize = 64 * 1024
const DefaultAddress = ":8080"

const EnvAddress = "MIRROR_ADDRESS"
const EnvJwtSigningKey = "MIRROR_JWT_SIGNING_KEY"
const EnvThrottleInterval = "MIRROR_THROTTLE_INTERVAL"
const EnvReceiveBufferSize = "MIRROR_RECEIVE_BUFFER_SIZE"

type SessionSettings struct {
	ThrottleInterval time.Duration
	// an inbound message larger than this closes the session
	ReceiveBufferSize int
	// zero means no deadline beyond the transport default
	WriteTimeout time.Duration
	// deadline for close frames written during teardown
	CloseTimeout            time.Duration
	MissingDependencyPolicy MissingDependencyPolicy
}

func DefaultSessionSettings() *SessionSettings {
	return &SessionSettings{
		ThrottleInterval:        DefaultThrottleInterval,
		ReceiveBufferSize:       DefaultReceiveBufferSize,
		WriteTimeout:            0,
		CloseTimeout:            1 * time.Second,
		MissingDependencyPolicy: MissingDependencySkip,
	}
}

type ServerSettings struct {
	Subprotocol      string
	HandshakeTimeout time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
	// nil allows any origin
	CheckOrigin func(r *http.Request) bool

	// when set, upgrades require a jwt signed with this key
	JwtSigningKey []byte

	// per remote host. zero disables
	UpgradeRatePerSecond float64
	UpgradeBurst         int
	UpgradeRateIdleTtl   time.Duration

	SessionSettings *SessionSettings
}

func DefaultServerSettings() *ServerSettings {
	return &ServerSettings{
		Subprotocol:      DefaultSubprotocol,
		HandshakeTimeout: 2 * time.Second,
		ReadBufferSize:   4 * 1024,
		WriteBufferSize:  4 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
		UpgradeRatePerSecond: 0,
		UpgradeBurst:         0,
		UpgradeRateIdleTtl:   10 * time.Minute,
		SessionSettings:      DefaultSessionSettings(),
	}
}

// the yaml file shape
// ```
// address: ":8080"
// subprotocol: ooui
// throttleInterval: 33ms
// receiveBufferSize: 65536
// missingDependency: skip
// jwtSigningKey: ""
// upgradeRate: 10
// upgradeBurst: 20
// ```
type fileConfig struct {
	Address           string        `yaml:"address"`
	Subprotocol       string        `yaml:"subprotocol"`
	HandshakeTimeout  time.Duration `yaml:"handshakeTimeout"`
	ThrottleInterval  time.Duration `yaml:"throttleInterval"`
	ReceiveBufferSize int           `yaml:"receiveBufferSize"`
	WriteTimeout      time.Duration `yaml:"writeTimeout"`
	MissingDependency string        `yaml:"missingDependency"`
	JwtSigningKey     string        `yaml:"jwtSigningKey"`
	UpgradeRate       float64       `yaml:"upgradeRate"`
	UpgradeBurst      int           `yaml:"upgradeBurst"`
}

type ServerConfig struct {
	Address  string
	Settings *ServerSettings
}

func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Address:  DefaultAddress,
		Settings: DefaultServerSettings(),
	}
}

// merges the yaml file at `path` over the defaults, then applies env overrides.
// an empty path uses only defaults and env
func LoadServerConfig(path string) (*ServerConfig, error) {
	config := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config load failed (%s): %w", path, err)
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
		if err := mergeFileConfig(config, &parsed); err != nil {
			return nil, fmt.Errorf("config invalid (%s): %w", path, err)
		}
	}
	if err := applyEnvOverrides(config); err != nil {
		return nil, err
	}
	return config, nil
}

func mergeFileConfig(config *ServerConfig, parsed *fileConfig) error {
	settings := config.Settings
	if parsed.Address != "" {
		config.Address = parsed.Address
	}
	if parsed.Subprotocol != "" {
		settings.Subprotocol = parsed.Subprotocol
	}
	if 0 < parsed.HandshakeTimeout {
		settings.HandshakeTimeout = parsed.HandshakeTimeout
	}
	if 0 < parsed.ThrottleInterval {
		settings.SessionSettings.ThrottleInterval = parsed.ThrottleInterval
	}
	if 0 < parsed.ReceiveBufferSize {
		settings.SessionSettings.ReceiveBufferSize = parsed.ReceiveBufferSize
	}
	if 0 < parsed.WriteTimeout {
		settings.SessionSettings.WriteTimeout = parsed.WriteTimeout
	}
	if parsed.MissingDependency != "" {
		policy, err := ParseMissingDependencyPolicy(parsed.MissingDependency)
		if err != nil {
			return err
		}
		settings.SessionSettings.MissingDependencyPolicy = policy
	}
	if parsed.JwtSigningKey != "" {
		settings.JwtSigningKey = []byte(parsed.JwtSigningKey)
	}
	if 0 < parsed.UpgradeRate {
		settings.UpgradeRatePerSecond = parsed.UpgradeRate
		settings.UpgradeBurst = max(1, parsed.UpgradeBurst)
	}
	return nil
}

func applyEnvOverrides(config *ServerConfig) error {
	if address := strings.TrimSpace(os.Getenv(EnvAddress)); address != "" {
		config.Address = address
	}
	if key := os.Getenv(EnvJwtSigningKey); key != "" {
		config.Settings.JwtSigningKey = []byte(key)
	}
	if raw := strings.TrimSpace(os.Getenv(EnvThrottleInterval)); raw != "" {
		interval, err := time.ParseDuration(raw)
		if err != nil || interval <= 0 {
			return fmt.Errorf("%s invalid: %q", EnvThrottleInterval, raw)
		}
		config.Settings.SessionSettings.ThrottleInterval = interval
	}
	if raw := strings.TrimSpace(os.Getenv(EnvReceiveBufferSize)); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return fmt.Errorf("%s invalid: %q", EnvReceiveBufferSize, raw)
		}
		config.Settings.SessionSettings.ReceiveBufferSize = size
	}
	return nil
}

func ParseMissingDependencyPolicy(s string) (MissingDependencyPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "skip":
		return MissingDependencySkip, nil
	case "drop":
		return MissingDependencyDrop, nil
	default:
		return 0, fmt.Errorf("unknown missing dependency policy %q", s)
	}
}
