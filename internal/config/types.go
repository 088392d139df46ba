// Package config loads the validator-supplied configuration surface the
// cache reads: local_repository_root and overlay_location (spec.md §6),
// plus the ambient logging knobs.
package config

// GlobalConfig holds the logging options shared by every entry point.
type GlobalConfig struct {
	LogLevel      string `mapstructure:"LogLevel"`
	LogFilePath   string `mapstructure:"LogFilePath"`
	LogMaxSizeMB  int    `mapstructure:"LogMaxSizeMB"`
	LogMaxBackups int    `mapstructure:"LogMaxBackups"`
	LogCompress   bool   `mapstructure:"LogCompress"`
}

// Config is the TOML file's overall shape.
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`

	// LocalRepositoryRoot is the cache's on-disk root: metadata.json and
	// the rsync/https mirror trees live directly beneath it.
	LocalRepositoryRoot string `mapstructure:"LocalRepositoryRoot"`

	// OverlayLocation is the path to the locally-authored exception
	// document (SLURM-style filters/assertions). Empty means "unset": the
	// overlay loader becomes a no-op, per spec.md §6.
	OverlayLocation string `mapstructure:"OverlayLocation"`
}
