// Command arbor prepares the storage of a configured backend.
//
// Usage:
//
//	arbor migrate    apply pending SQL migrations
//	arbor recreate   drop and recreate the entity table or schema
//
// The backend is read from ARBOR_* environment variables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/jacentio/arbor/config"
	"github.com/jacentio/arbor/datastore"
	"github.com/jacentio/arbor/sqlstore"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1:], logger); err != nil {
		logger.Error("arbor failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("arbor", flag.ContinueOnError)
	timeout := fs.Duration("timeout", 5*time.Minute, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: arbor [-timeout d] migrate|recreate")
	}
	cmd := fs.Arg(0)

	cfg, err := config.Parse()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	backend, err := config.Open(ctx, cfg, datastore.NewSchema())
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend, err)
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}

	start := time.Now()
	switch cmd {
	case "migrate":
		s, ok := backend.(*sqlstore.Store)
		if !ok {
			logger.Info("nothing to migrate", "backend", cfg.Backend)
			return nil
		}
		if err := s.Migrate(ctx); err != nil {
			return err
		}
	case "recreate":
		if err := backend.Recreate(ctx); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	logger.Info("done", "command", cmd, "backend", cfg.Backend, "duration", time.Since(start))
	return nil
}
