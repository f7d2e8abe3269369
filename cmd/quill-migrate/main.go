// Package main is the entry point for the quill database migration tool.
// PostgreSQL schemas are managed with goose; SQLite databases are migrated
// from the embedded schema.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/repository/store"
)

// Version information (set at build time)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	pflag.Usage = printUsage
	pflag.Parse()

	if pflag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := pflag.Arg(0)
	switch command {
	case "version":
		fmt.Printf("quill migration tool\n")
		fmt.Printf("Version: %s\n", Version)
		fmt.Printf("Build Time: %s\n", BuildTime)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		return
	case "help", "-h", "--help":
		printUsage()
		return
	case "up", "down", "status":
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := migrate(ctx, command, cfg.Database, logger); err != nil {
		logger.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	}
}

func migrate(ctx context.Context, command string, cfg config.DatabaseConfig, logger zerolog.Logger) error {
	if cfg.IsEmbedded() {
		if command != "up" {
			return fmt.Errorf("%s is only supported for postgres; sqlite uses the embedded schema", command)
		}
		db, err := store.Open(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.MigrateEmbedded(ctx); err != nil {
			return err
		}
		logger.Info().Str("path", cfg.Path).Msg("SQLite schema is up to date")
		return nil
	}

	m, err := store.NewMigrator(cfg, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	switch command {
	case "up":
		if err := m.Up(ctx); err != nil {
			return err
		}
	case "down":
		if err := m.Down(ctx); err != nil {
			return err
		}
	case "status":
		return m.Status(ctx)
	}

	version, err := m.Version(ctx)
	if err != nil {
		return err
	}
	logger.Info().Int64("version", version).Msg("Schema version")
	return nil
}

func printUsage() {
	fmt.Println(`quill migration tool

Usage:
  quill-migrate [--config path] <command>

Commands:
  up          Run all pending migrations
  down        Roll back the last migration (postgres only)
  status      Show current migration status (postgres only)
  version     Print version information
  help        Show this help message

Configuration is read from the config file and QUILL_* environment
variables, for example QUILL_DATABASE_DRIVER=postgres.`)
}
