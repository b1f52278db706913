// Package api provides the HTTP server of SafetyNet. The server owns the echo
// instance, middleware and infrastructure routes; the JSON endpoints live in the
// v1 subpackage.
package api

import (
	"fmt"
	"net"
	"time"

	"github.com/labstack/gommon/bytes"

	mw "github.com/tphakala/safetynet-go/internal/api/middleware"
	"github.com/tphakala/safetynet-go/internal/conf"
)

// Default constants for the HTTP server.
const (
	DefaultReadTimeout     = 30 * time.Second
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultMaxConnections  = 256

	// DefaultWriteTimeout is zero: the cue stream holds responses open for
	// as long as the client stays connected.
	DefaultWriteTimeout = 0
)

// Config holds the HTTP server configuration.
type Config struct {
	// Listen is the host:port to bind.
	Listen string

	// Token is the bearer token required on /api/v1. Empty disables auth.
	Token string

	// CORS allowed origins
	AllowedOrigins []string

	// Timeouts
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// BodyLimit is the maximum request body size, e.g. "64K".
	BodyLimit string

	// MaxConnections caps concurrently accepted connections. Open cue streams
	// count against it. Zero means unlimited.
	MaxConnections int

	Debug bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:          "127.0.0.1:8090",
		AllowedOrigins:  []string{"*"},
		ReadTimeout:     DefaultReadTimeout,
		WriteTimeout:    DefaultWriteTimeout,
		IdleTimeout:     DefaultIdleTimeout,
		ShutdownTimeout: DefaultShutdownTimeout,
		BodyLimit:       "64K",
		MaxConnections:  DefaultMaxConnections,
	}
}

// ConfigFromSettings creates a Config from the application settings.
func ConfigFromSettings(settings *conf.Settings) *Config {
	cfg := DefaultConfig()
	if settings == nil {
		return cfg
	}
	if settings.API.Listen != "" {
		cfg.Listen = settings.API.Listen
	}
	cfg.Token = settings.API.Token
	if settings.API.MaxConnections != 0 {
		cfg.MaxConnections = settings.API.MaxConnections
	}
	if len(settings.API.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = settings.API.AllowedOrigins
	}
	cfg.Debug = settings.Debug
	return cfg
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive")
	}
	if c.WriteTimeout < 0 {
		return fmt.Errorf("write timeout must not be negative")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("max connections must not be negative")
	}
	if _, err := bytes.Parse(c.BodyLimit); err != nil {
		return fmt.Errorf("invalid body limit %q: %w", c.BodyLimit, err)
	}
	return nil
}

// String returns a human-readable representation of the config.
func (c *Config) String() string {
	auth := "disabled"
	switch {
	case mw.IsHashedToken(c.Token):
		auth = "bearer token (bcrypt)"
	case c.Token != "":
		auth = "bearer token"
	}
	return fmt.Sprintf("Server Config: listen=%s, auth=%s, debug=%v", c.Listen, auth, c.Debug)
}
