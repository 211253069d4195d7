// Package config loads backend settings from the environment and opens the
// configured store.
package config

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/dynamostore"
	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/sqlstore"
)

// Backend kinds.
const (
	Memory   = "memory"
	DynamoDB = "dynamodb"
	Postgres = "postgres"
	SQLite   = "sqlite"
)

// Config selects and configures a backend.
//
// SQL backends connect with DSN when it is set. Otherwise the connection
// string is composed from the individual settings: for Postgres from host,
// port, database, user and password; for SQLite Database is the file path.
type Config struct {
	Backend string `env:"ARBOR_BACKEND" envDefault:"memory"`

	DSN      string `env:"ARBOR_DSN"`
	Host     string `env:"ARBOR_DB_HOST" envDefault:"localhost"`
	Port     int    `env:"ARBOR_DB_PORT" envDefault:"5432"`
	Database string `env:"ARBOR_DB_NAME" envDefault:"arbor"`
	User     string `env:"ARBOR_DB_USER"`
	Password string `env:"ARBOR_DB_PASSWORD"`
	SSLMode  string `env:"ARBOR_DB_SSLMODE" envDefault:"disable"`

	Table       string        `env:"ARBOR_DYNAMODB_TABLE" envDefault:"arbor_entities"`
	Shards      int           `env:"ARBOR_DYNAMODB_SHARDS" envDefault:"1"`
	Endpoint    string        `env:"ARBOR_DYNAMODB_ENDPOINT"`
	WaitTimeout time.Duration `env:"ARBOR_DYNAMODB_WAIT_TIMEOUT" envDefault:"2m"`
}

// Parse loads a Config from environment variables.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	switch cfg.Backend {
	case Memory, DynamoDB, Postgres, SQLite:
	default:
		return Config{}, fmt.Errorf("arbor: unknown backend %q", cfg.Backend)
	}
	return cfg, nil
}

// ConnectionString returns DSN, or composes one for the SQL backend.
func (c Config) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	switch c.Backend {
	case Postgres:
		u := url.URL{
			Scheme: "postgres",
			Host:   c.Host + ":" + strconv.Itoa(c.Port),
			Path:   "/" + c.Database,
		}
		switch {
		case c.User != "" && c.Password != "":
			u.User = url.UserPassword(c.User, c.Password)
		case c.User != "":
			u.User = url.User(c.User)
		}
		if c.SSLMode != "" {
			u.RawQuery = url.Values{"sslmode": {c.SSLMode}}.Encode()
		}
		return u.String()
	case SQLite:
		return c.Database
	}
	return ""
}

// DynamoConfig returns the table settings for the DynamoDB backend.
func (c Config) DynamoConfig() dynamostore.Config {
	cfg := dynamostore.DefaultConfig()
	if c.Table != "" {
		cfg.Table = c.Table
	}
	if c.Shards > 0 {
		cfg.NumShards = c.Shards
	}
	if c.WaitTimeout > 0 {
		cfg.WaitTimeout = c.WaitTimeout
	}
	return cfg
}

// Open opens the configured backend for schema. SQL stores hold a
// database handle; close them through io.Closer when done.
func Open(ctx context.Context, c Config, schema *datastore.Schema) (datastore.Backend, error) {
	switch c.Backend {
	case Memory:
		return memstore.New(schema), nil
	case DynamoDB:
		s, err := dynamostore.NewFromEnv(ctx, schema, c.DynamoConfig(), c.Endpoint)
		if err != nil {
			return nil, err
		}
		return s, nil
	case Postgres, SQLite:
		dialect, err := sqlstore.DialectByName(c.Backend)
		if err != nil {
			return nil, err
		}
		s, err := sqlstore.Open(ctx, dialect, c.ConnectionString(), schema)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("arbor: unknown backend %q", c.Backend)
	}
}
