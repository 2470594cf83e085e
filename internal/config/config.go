// Package config provides configuration loading and validation for varpol.
//
// Configuration comes from an optional YAML file overlaid with VARPOL_*
// environment variables. Every key has a default, so an empty
// environment yields a usable configuration.
package config

// Config is the top-level varpol configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
}

// DatabaseConfig locates the SQLite variable store.
type DatabaseConfig struct {
	// Path is a file path or ":memory:".
	Path string `yaml:"path" mapstructure:"path" validate:"required"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level" validate:"required,loglevel"`
	Format string `yaml:"format" mapstructure:"format" validate:"required,oneof=text json"`
}

// ServerConfig configures `varpol serve`.
type ServerConfig struct {
	Listen string `yaml:"listen" mapstructure:"listen" validate:"required,hostname_port"`
	// Metrics exposes GET /metrics next to the mailbox endpoint.
	Metrics bool `yaml:"metrics" mapstructure:"metrics"`
}

// AuthConfig configures the authenticated variable validator.
type AuthConfig struct {
	// TrustedSigners restricts first writes to these SHA-256 certificate
	// fingerprints. Empty means any verifiable signer is accepted.
	TrustedSigners []string `yaml:"trusted_signers" mapstructure:"trusted_signers" validate:"omitempty,dive,hexfingerprint"`
	// Roots is a PEM file of trust anchors for x5c chain verification.
	Roots string `yaml:"roots" mapstructure:"roots" validate:"omitempty,file"`
}

// EngineConfig controls lifecycle behavior of the policy engine.
type EngineConfig struct {
	LockAtReadyToBoot  bool `yaml:"lock_at_ready_to_boot" mapstructure:"lock_at_ready_to_boot"`
	LockOnlyAtBootTime bool `yaml:"lock_only_at_boot_time" mapstructure:"lock_only_at_boot_time"`
}

// Defaults for every key.
const (
	DefaultDatabasePath = "varpol.db"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "text"
	DefaultListen       = "127.0.0.1:8407"
)

// Default returns the configuration used when nothing is overridden.
func Default() Config {
	return Config{
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		Log:      LogConfig{Level: DefaultLogLevel, Format: DefaultLogFormat},
		Server:   ServerConfig{Listen: DefaultListen, Metrics: true},
		Engine:   EngineConfig{LockAtReadyToBoot: true, LockOnlyAtBootTime: true},
	}
}
