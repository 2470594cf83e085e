package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. VARPOL_LOG_LEVEL.
const EnvPrefix = "VARPOL"

// keys lists every leaf key so AutomaticEnv can see them without a file.
var keys = []string{
	"database.path",
	"log.level",
	"log.format",
	"server.listen",
	"server.metrics",
	"auth.trusted_signers",
	"auth.roots",
	"engine.lock_at_ready_to_boot",
	"engine.lock_only_at_boot_time",
}

// NewViper returns a viper instance wired for varpol: defaults, optional
// config file, and environment overlay.
func NewViper(configFile string) *viper.Viper {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("varpol")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	d := Default()
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.metrics", d.Server.Metrics)
	v.SetDefault("auth.trusted_signers", []string{})
	v.SetDefault("auth.roots", "")
	v.SetDefault("engine.lock_at_ready_to_boot", d.Engine.LockAtReadyToBoot)
	v.SetDefault("engine.lock_only_at_boot_time", d.Engine.LockOnlyAtBootTime)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads configFile (or ./varpol.yaml when empty), applies environment
// overrides and validates the result. A missing default file is not an
// error; a missing explicit file is.
func Load(configFile string) (*Config, error) {
	return LoadFrom(NewViper(configFile))
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// normalize lowercases level names and fingerprints. Fingerprints from the
// environment may arrive comma or space separated in a single element.
func (c *Config) normalize() {
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	var fps []string
	for _, fp := range c.Auth.TrustedSigners {
		for _, f := range strings.FieldsFunc(fp, func(r rune) bool { return r == ',' || r == ' ' }) {
			fps = append(fps, strings.ToLower(f))
		}
	}
	c.Auth.TrustedSigners = fps
}
