package cascade

import (
	"log/slog"

	"github.com/jacentio/arbor/datastore"
)

// Config holds configuration for the Engine.
type Config struct {
	// Registry lists the parent-child relationships to cascade along.
	// Default: empty registry (no cascading).
	Registry *Registry

	// GetDepth and SetDepth access the archive depth of any entity.
	// When nil, the accessor registered on the schema for the entity's
	// type is used, and types not registered as archivable are skipped.
	GetDepth func(datastore.Entity) int
	SetDepth func(datastore.Entity, int)

	// Deferred limits Archive and Restore to the root entity. Descendants
	// are then updated asynchronously, level by level, through Propagate
	// (see package stream).
	Deferred bool

	// Logger receives cascade events. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a config with an empty registry and schema accessors.
func DefaultConfig() Config {
	return Config{
		Registry: NewRegistry(),
		Logger:   slog.Default(),
	}
}

// validate fills unset fields with their defaults.
func (c *Config) validate() {
	if c.Registry == nil {
		c.Registry = NewRegistry()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if (c.GetDepth == nil) != (c.SetDepth == nil) {
		def := datastore.DefaultSoftDelete()
		if c.GetDepth == nil {
			c.GetDepth = def.Get
		}
		if c.SetDepth == nil {
			c.SetDepth = def.Set
		}
	}
}
