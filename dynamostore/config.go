package dynamostore

import (
	"time"

	"github.com/jacentio/arbor/internal/shard"
)

// Config holds configuration for the Store.
type Config struct {
	// Table is the name of the single entity table.
	// Default: "arbor_entities"
	Table string

	// NumShards is the number of partitions each entity type is spread over.
	// Higher values increase write throughput but require more parallel
	// queries per read.
	// Default: 1 (no sharding, single query)
	// Max: 256
	//
	// Per-shard limits:
	//   - Writes: 1,000/sec
	//   - Reads: 3,000/sec
	NumShards int

	// WaitTimeout bounds how long Recreate waits for the table to become
	// active or to disappear.
	// Default: 2 minutes
	WaitTimeout time.Duration
}

// DefaultConfig returns sensible defaults for small datasets.
func DefaultConfig() Config {
	return Config{
		Table:       "arbor_entities",
		NumShards:   1,
		WaitTimeout: 2 * time.Minute,
	}
}

// validate ensures config values are within acceptable bounds.
func (c *Config) validate() {
	if c.Table == "" {
		c.Table = "arbor_entities"
	}
	if c.NumShards < 1 {
		c.NumShards = 1
	}
	if c.NumShards > shard.MaxShards {
		c.NumShards = shard.MaxShards
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = 2 * time.Minute
	}
}
