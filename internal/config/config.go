// Package config defines the application configuration structure and
// loading logic. Configuration comes from defaults, an optional config
// file, and GRIMOIRE_-prefixed environment variables, in increasing
// order of precedence.
package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"       validate:"required"`
	Database     DatabaseConfig     `mapstructure:"database"     validate:"required"`
	Auth         AuthConfig         `mapstructure:"auth"         validate:"required"`
	Snapshot     SnapshotConfig     `mapstructure:"snapshot"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port"      validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`

	// ShutdownTimeout bounds how long graceful shutdown may take.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"required,url"`

	// MaxOpenConns and MaxIdleConns tune the connection pool.
	MaxOpenConns int `mapstructure:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int `mapstructure:"max_idle_conns" validate:"gte=0"`
}

// AuthConfig contains authentication settings for service callers.
// Command, projection, and saga services authenticate with HS256 service
// tokens signed with JWTSecret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=32"`
}

// SnapshotConfig contains snapshot retention settings. Snapshot cadence is
// caller-driven; the store only manages retention.
type SnapshotConfig struct {
	// Keep is how many newest snapshots to retain per stream on save.
	// Zero keeps all snapshots.
	Keep int `mapstructure:"keep" validate:"gte=0"`
}

// SubscriptionConfig contains subscription dispatcher settings.
type SubscriptionConfig struct {
	// BufferSize is the per-subscriber delivery channel capacity.
	BufferSize int `mapstructure:"buffer_size" validate:"gte=0"`

	// BatchSize is how many events a subscriber reads from the log per scan.
	BatchSize int `mapstructure:"batch_size" validate:"gte=0"`

	// PollInterval bounds how stale a subscriber can get if a commit
	// notification is missed; each subscriber rescans at least this often.
	PollInterval time.Duration `mapstructure:"poll_interval"`
}
