package config

import "time"

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`

	// DatabaseURL selects the Postgres store. When empty, the embedded
	// SQLite store at SQLitePath is used instead.
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path" yaml:"sqlite_path"`

	// RedisURL selects the cluster-wide Redis relay. When empty, events stay
	// within this process (single-node mode).
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`

	// JWTSecret is the shared HMAC secret for access tokens. When
	// AuthBackendURL is set, token checks additionally round-trip to the
	// auth backend (strict mode).
	JWTSecret      string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AuthBackendURL string `mapstructure:"auth_backend_url" yaml:"auth_backend_url"`

	// PingInterval is the idle-connection heartbeat for websocket sessions.
	PingInterval time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		SQLitePath:        "relay.db",
		PingInterval:      30 * time.Second,
	}
}
