package config

import "time"

// Config holds broker configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	DatabasePath      string        `mapstructure:"database_path" yaml:"database_path"`

	// HandshakeTimeout bounds the wait for CONNECT after a socket is accepted.
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`
	// PingInterval enables heartbeats when positive.
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
	OutboxSize      int           `mapstructure:"outbox_size" yaml:"outbox_size"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	// LoginRateLimit caps login attempts per client address per minute; 0 disables it.
	LoginRateLimit int `mapstructure:"login_rate_limit" yaml:"login_rate_limit"`

	JWTSecret    string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer    string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience  string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL       time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`
	RequireToken bool          `mapstructure:"require_token" yaml:"require_token"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":9876",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "taskchat.db",
		HandshakeTimeout:  10 * time.Second,
		PingInterval:      0,
		OutboxSize:        64,
		MaxMessageBytes:   64 << 10,
		LoginRateLimit:    30,
		JWTSecret:         "change-me",
		JWTIssuer:         "taskchat",
		JWTAudience:       "taskchat",
		JWTTTL:            24 * time.Hour,
		RequireToken:      false,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver. A false bool is
// indistinguishable from unset, so booleans are not merged here; use Apply.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.DatabasePath != "" {
		c.DatabasePath = other.DatabasePath
	}
	if other.HandshakeTimeout != 0 {
		c.HandshakeTimeout = other.HandshakeTimeout
	}
	if other.PingInterval != 0 {
		c.PingInterval = other.PingInterval
	}
	if other.OutboxSize != 0 {
		c.OutboxSize = other.OutboxSize
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.LoginRateLimit != 0 {
		c.LoginRateLimit = other.LoginRateLimit
	}
	if other.JWTSecret != "" {
		c.JWTSecret = other.JWTSecret
	}
	if other.JWTIssuer != "" {
		c.JWTIssuer = other.JWTIssuer
	}
	if other.JWTAudience != "" {
		c.JWTAudience = other.JWTAudience
	}
	if other.JWTTTL != 0 {
		c.JWTTTL = other.JWTTTL
	}
}

// Overrides are explicit command-line settings. Empty strings and nil pointers keep the
// loaded value; a non-nil bool is applied whether true or false.
type Overrides struct {
	Addr         string
	DatabasePath string
	RequireToken *bool
}

// Apply sets every field present in o.
func (c *Config) Apply(o Overrides) {
	c.UpdateFrom(Config{Addr: o.Addr, DatabasePath: o.DatabasePath})
	if o.RequireToken != nil {
		c.RequireToken = *o.RequireToken
	}
}
