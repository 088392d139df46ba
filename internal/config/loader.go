package config

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"
)

// Load reads and parses the TOML configuration file at path, applies
// defaults, and validates the result before returning it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "rpcache.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	absRoot, err := filepath.Abs(cfg.LocalRepositoryRoot)
	if err != nil {
		return nil, fmt.Errorf("config: resolve LocalRepositoryRoot: %w", err)
	}
	cfg.LocalRepositoryRoot = absRoot

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSizeMB", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("OverlayLocation", "")
}
