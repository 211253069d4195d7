package store

import (
	"log/slog"

	"github.com/jacentio/arbor/cascade"
)

// Config holds configuration for a Repository.
type Config struct {
	// Cascade configures archive depth access and the ownership relations.
	Cascade cascade.Config

	// Logger receives rejections (Debug), cascades (Info) and store
	// failures (Error). Default: slog.Default()
	Logger *slog.Logger
}

// DefaultConfig returns a config with no ownership relations.
func DefaultConfig() Config {
	return Config{
		Cascade: cascade.DefaultConfig(),
		Logger:  slog.Default(),
	}
}

// validate fills unset fields with their defaults.
func (c *Config) validate() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Cascade.Logger == nil {
		c.Cascade.Logger = c.Logger
	}
}
