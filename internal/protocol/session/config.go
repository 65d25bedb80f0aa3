package session

import (
	"time"

	"github.com/danmuck/deskterm/internal/protocol"
)

// SecurityMode selects how strictly stream and issuer endpoints are checked.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// BackoffConfig defines automatic reconnect behavior.
type BackoffConfig struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// TLSConfig configures wss/https verification for the client.
type TLSConfig struct {
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
}

// Config defines transport/session reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	ReadLimit      int64
	Backoff        BackoffConfig
	SecurityMode   SecurityMode
	TLS            TLSConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 15 * time.Second,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		ReadLimit:      protocol.MaxFrameSize,
		Backoff: BackoffConfig{
			BaseDelay:   time.Second,
			MaxAttempts: 3,
		},
		SecurityMode: SecurityModeDevelopment,
	}
}

// WithDefaults fills zero-valued fields from DefaultConfig. PingInterval and
// Backoff.MaxDelay keep zero as "disabled".
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PingInterval < 0 {
		c.PingInterval = 0
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = def.ReadLimit
	}
	if c.Backoff.BaseDelay <= 0 {
		c.Backoff.BaseDelay = def.Backoff.BaseDelay
	}
	if c.Backoff.MaxAttempts <= 0 {
		c.Backoff.MaxAttempts = def.Backoff.MaxAttempts
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	return c
}
