// Package config loads the client configuration: built-in defaults merged
// with an optional YAML file, then MDC_-prefixed environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"matchday-chat/go-client/internal/bus"
)

type BackendConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
}

type CredentialsConfig struct {
	Path       string `yaml:"path"`
	Passphrase string `yaml:"passphrase"`
}

type SendConfig struct {
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

type Config struct {
	Backend     BackendConfig     `yaml:"backend"`
	Bus         bus.Config        `yaml:"bus"`
	Credentials CredentialsConfig `yaml:"credentials"`
	Send        SendConfig        `yaml:"send"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			RequestTimeout: 15 * time.Second,
		},
		Bus: bus.DefaultConfig(),
		Send: SendConfig{
			PerSecond: 1,
			Burst:     5,
		},
	}
}

// Load merges defaults, the YAML file at path (optional; a missing file is
// not an error unless the path was given explicitly), and env overrides.
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var parsed Config
			if err := yaml.Unmarshal(data, &parsed); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
			merge(&cfg, parsed)
		case os.IsNotExist(err) && !explicit:
			// fall through to defaults
		default:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return normalize(cfg), nil
}

func merge(dst *Config, src Config) {
	if src.Backend.BaseURL != "" {
		dst.Backend.BaseURL = src.Backend.BaseURL
	}
	if src.Backend.RequestTimeout != 0 {
		dst.Backend.RequestTimeout = src.Backend.RequestTimeout
	}
	if src.Bus.Endpoint != "" {
		dst.Bus.Endpoint = src.Bus.Endpoint
	}
	if src.Bus.HandshakeTimeout != 0 {
		dst.Bus.HandshakeTimeout = src.Bus.HandshakeTimeout
	}
	if src.Bus.ReconnectInterval != 0 {
		dst.Bus.ReconnectInterval = src.Bus.ReconnectInterval
	}
	if src.Bus.ReconnectBackoffMax != 0 {
		dst.Bus.ReconnectBackoffMax = src.Bus.ReconnectBackoffMax
	}
	if src.Bus.ReconnectBackoffFactor != 0 {
		dst.Bus.ReconnectBackoffFactor = src.Bus.ReconnectBackoffFactor
	}
	if src.Bus.ReconnectJitterRatio != 0 {
		dst.Bus.ReconnectJitterRatio = src.Bus.ReconnectJitterRatio
	}
	if src.Bus.MaxReconnectAttempts != 0 {
		dst.Bus.MaxReconnectAttempts = src.Bus.MaxReconnectAttempts
	}
	if src.Credentials.Path != "" {
		dst.Credentials.Path = src.Credentials.Path
	}
	if src.Credentials.Passphrase != "" {
		dst.Credentials.Passphrase = src.Credentials.Passphrase
	}
	if src.Send.PerSecond != 0 {
		dst.Send.PerSecond = src.Send.PerSecond
	}
	if src.Send.Burst != 0 {
		dst.Send.Burst = src.Send.Burst
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := envString("MDC_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := envDuration("MDC_BACKEND_REQUEST_TIMEOUT"); v != 0 {
		cfg.Backend.RequestTimeout = v
	}
	if v := envString("MDC_BUS_ENDPOINT"); v != "" {
		cfg.Bus.Endpoint = v
	}
	if v := envDuration("MDC_BUS_HANDSHAKE_TIMEOUT"); v != 0 {
		cfg.Bus.HandshakeTimeout = v
	}
	if v := envDuration("MDC_BUS_RECONNECT_INTERVAL"); v != 0 {
		cfg.Bus.ReconnectInterval = v
	}
	if v := envDuration("MDC_BUS_RECONNECT_BACKOFF_MAX"); v != 0 {
		cfg.Bus.ReconnectBackoffMax = v
	}
	if v, ok := envInt("MDC_BUS_MAX_RECONNECT_ATTEMPTS"); ok {
		cfg.Bus.MaxReconnectAttempts = v
	}
	if v := envString("MDC_CREDENTIALS_PATH"); v != "" {
		cfg.Credentials.Path = v
	}
	if v := envString("MDC_CREDENTIALS_PASSPHRASE"); v != "" {
		cfg.Credentials.Passphrase = v
	}
	if v := envFloat("MDC_SEND_PER_SECOND"); v != 0 {
		cfg.Send.PerSecond = v
	}
	if v, ok := envInt("MDC_SEND_BURST"); ok && v != 0 {
		cfg.Send.Burst = v
	}
}

func normalize(cfg Config) Config {
	if cfg.Backend.RequestTimeout <= 0 {
		cfg.Backend.RequestTimeout = Default().Backend.RequestTimeout
	}
	if cfg.Send.PerSecond < 0 {
		cfg.Send.PerSecond = 0
	}
	if cfg.Send.Burst < 0 {
		cfg.Send.Burst = 0
	}
	return cfg
}
