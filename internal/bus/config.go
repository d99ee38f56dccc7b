package bus

import (
	"math/rand"
	"time"
)

// Config tunes one bus connection. Reconnection uses capped exponential
// backoff with jitter; MaxReconnectAttempts == 0 retries forever.
type Config struct {
	Endpoint               string        `yaml:"endpoint"`
	HandshakeTimeout       time.Duration `yaml:"handshakeTimeout"`
	ReconnectInterval      time.Duration `yaml:"reconnectInterval"`
	ReconnectBackoffMax    time.Duration `yaml:"reconnectBackoffMax"`
	ReconnectBackoffFactor float64       `yaml:"reconnectBackoffFactor"`
	ReconnectJitterRatio   float64       `yaml:"reconnectJitterRatio"`
	MaxReconnectAttempts   int           `yaml:"maxReconnectAttempts"`
}

func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:       10 * time.Second,
		ReconnectInterval:      1 * time.Second,
		ReconnectBackoffMax:    30 * time.Second,
		ReconnectBackoffFactor: 2.0,
		ReconnectJitterRatio:   0.2,
		MaxReconnectAttempts:   8,
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = def.ReconnectInterval
	}
	if cfg.ReconnectBackoffMax <= 0 {
		cfg.ReconnectBackoffMax = def.ReconnectBackoffMax
	}
	if cfg.ReconnectBackoffMax < cfg.ReconnectInterval {
		cfg.ReconnectBackoffMax = cfg.ReconnectInterval
	}
	if cfg.ReconnectBackoffFactor < 1 {
		cfg.ReconnectBackoffFactor = def.ReconnectBackoffFactor
	}
	if cfg.ReconnectJitterRatio < 0 {
		cfg.ReconnectJitterRatio = 0
	} else if cfg.ReconnectJitterRatio > 1 {
		cfg.ReconnectJitterRatio = 1
	}
	if cfg.MaxReconnectAttempts < 0 {
		cfg.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	return cfg
}

// backoffDelay returns the wait before reconnect attempt n (n >= 1 is the
// attempt that just failed).
func (cfg Config) backoffDelay(attempt int) time.Duration {
	delay := cfg.ReconnectInterval
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * cfg.ReconnectBackoffFactor)
		if delay >= cfg.ReconnectBackoffMax {
			delay = cfg.ReconnectBackoffMax
			break
		}
	}
	if delay > cfg.ReconnectBackoffMax {
		delay = cfg.ReconnectBackoffMax
	}
	if cfg.ReconnectJitterRatio > 0 {
		jitter := (rand.Float64()*2 - 1) * cfg.ReconnectJitterRatio * float64(delay)
		delay += time.Duration(jitter)
		if delay < 0 {
			delay = 0
		}
	}
	return delay
}
