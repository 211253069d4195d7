package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRun_Usage(t *testing.T) {
	err := run(context.Background(), nil, discard())
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	t.Setenv("ARBOR_BACKEND", "memory")
	err := run(context.Background(), []string{"drop"}, discard())
	if err == nil || !strings.Contains(err.Error(), "drop") {
		t.Fatalf("expected unknown command error, got %v", err)
	}
}

func TestRun_SQLite(t *testing.T) {
	t.Setenv("ARBOR_BACKEND", "sqlite")
	t.Setenv("ARBOR_DB_NAME", filepath.Join(t.TempDir(), "arbor.db"))

	for _, cmd := range []string{"migrate", "recreate", "migrate"} {
		if err := run(context.Background(), []string{cmd}, discard()); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
}

func TestRun_MemoryMigrateIsNoop(t *testing.T) {
	t.Setenv("ARBOR_BACKEND", "memory")
	if err := run(context.Background(), []string{"migrate"}, discard()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
