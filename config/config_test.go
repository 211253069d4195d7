package config

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/memstore"
	"github.com/jacentio/arbor/sqlstore"
)

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Backend != Memory {
		t.Errorf("expected backend %q, got %q", Memory, cfg.Backend)
	}
	if cfg.Port != 5432 {
		t.Errorf("expected port 5432, got %d", cfg.Port)
	}
	if cfg.WaitTimeout != 2*time.Minute {
		t.Errorf("expected wait timeout 2m, got %v", cfg.WaitTimeout)
	}
}

func TestParse_FromEnv(t *testing.T) {
	t.Setenv("ARBOR_BACKEND", "dynamodb")
	t.Setenv("ARBOR_DYNAMODB_TABLE", "entities")
	t.Setenv("ARBOR_DYNAMODB_SHARDS", "8")
	t.Setenv("ARBOR_DYNAMODB_ENDPOINT", "http://localhost:8000")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	dc := cfg.DynamoConfig()
	if dc.Table != "entities" {
		t.Errorf("expected table entities, got %s", dc.Table)
	}
	if dc.NumShards != 8 {
		t.Errorf("expected 8 shards, got %d", dc.NumShards)
	}
	if cfg.Endpoint != "http://localhost:8000" {
		t.Errorf("expected endpoint, got %q", cfg.Endpoint)
	}
}

func TestParse_Errors(t *testing.T) {
	t.Run("bad number", func(t *testing.T) {
		t.Setenv("ARBOR_DB_PORT", "not-an-int")
		_, err := Parse()
		if err == nil || !strings.Contains(err.Error(), "parse env:") {
			t.Fatalf("expected parse env error, got %v", err)
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		t.Setenv("ARBOR_BACKEND", "mongo")
		_, err := Parse()
		if err == nil || !strings.Contains(err.Error(), "mongo") {
			t.Fatalf("expected unknown backend error, got %v", err)
		}
	})
}

func TestConnectionString(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  Config{Backend: Postgres, DSN: "postgres://a@b/c", Host: "ignored"},
			want: "postgres://a@b/c",
		},
		{
			name: "composed postgres",
			cfg:  Config{Backend: Postgres, Host: "db", Port: 5433, Database: "arbor", User: "app", Password: "p@ss word", SSLMode: "require"},
			want: "postgres://app:p%40ss%20word@db:5433/arbor?sslmode=require",
		},
		{
			name: "postgres without password",
			cfg:  Config{Backend: Postgres, Host: "localhost", Port: 5432, Database: "arbor", User: "app"},
			want: "postgres://app@localhost:5432/arbor",
		},
		{
			name: "sqlite path",
			cfg:  Config{Backend: SQLite, Database: "/tmp/arbor.db"},
			want: "/tmp/arbor.db",
		},
		{
			name: "memory has none",
			cfg:  Config{Backend: Memory, Database: "arbor"},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ConnectionString(); got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestDynamoConfig_Defaults(t *testing.T) {
	dc := Config{}.DynamoConfig()
	if dc.Table != "arbor_entities" {
		t.Errorf("expected default table, got %s", dc.Table)
	}
	if dc.NumShards != 1 {
		t.Errorf("expected 1 shard, got %d", dc.NumShards)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	schema := datastore.NewSchema()

	b, err := Open(ctx, Config{Backend: Memory}, schema)
	if err != nil {
		t.Fatalf("open memory: %v", err)
	}
	if _, ok := b.(*memstore.Store); !ok {
		t.Errorf("expected memstore, got %T", b)
	}

	b, err = Open(ctx, Config{Backend: SQLite, Database: ":memory:"}, schema)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	s, ok := b.(*sqlstore.Store)
	if !ok {
		t.Fatalf("expected sqlstore, got %T", b)
	}
	if s.Dialect() != sqlstore.SQLite {
		t.Errorf("expected sqlite dialect, got %v", s.Dialect())
	}
	if err := b.(io.Closer).Close(); err != nil {
		t.Errorf("close: %v", err)
	}

	if _, err := Open(ctx, Config{Backend: "mongo"}, schema); err == nil {
		t.Error("expected error for unknown backend")
	}
}
