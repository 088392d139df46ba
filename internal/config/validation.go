package config

import "errors"

// Validate checks the semantic constraints ReadInConfig/Unmarshal can't
// express: required fields and numeric ranges. Log level syntax is left to
// logging.Init, which already owns logrus.ParseLevel.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil config")
	}

	if c.LocalRepositoryRoot == "" {
		return newFieldError("LocalRepositoryRoot", "must be set")
	}

	if c.Global.LogMaxSizeMB <= 0 {
		return newFieldError("Global.LogMaxSizeMB", "must be greater than zero")
	}

	if c.Global.LogMaxBackups < 0 {
		return newFieldError("Global.LogMaxBackups", "must not be negative")
	}

	return nil
}
