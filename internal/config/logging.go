package config

import "threadex/internal/logging"

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level      string          `yaml:"level" json:"level,omitempty"`           // debug, info, warn, error
	Format     string          `yaml:"format" json:"format,omitempty"`         // json, text
	Dir        string          `yaml:"dir" json:"dir,omitempty"`               // file logs, only written in debug mode
	DebugMode  bool            `yaml:"debug_mode" json:"debug_mode,omitempty"` // Master toggle for file logging
	Categories map[string]bool `yaml:"categories" json:"categories,omitempty"` // Per-category toggles
}

// ToLogging converts to the logging package's config.
func (c LoggingConfig) ToLogging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		JSONFormat: c.Format == "json",
		DebugMode:  c.DebugMode,
		Dir:        c.Dir,
		Categories: c.Categories,
	}
}
