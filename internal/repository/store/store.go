// Package store opens the repository backend selected by configuration.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/prn-tf/quill/internal/config"
	"github.com/prn-tf/quill/internal/repository"
	"github.com/prn-tf/quill/internal/repository/postgres"
	"github.com/prn-tf/quill/internal/repository/sqlite"
	"github.com/prn-tf/quill/migrations"
)

// Store bundles the repositories of one backend with its connection.
type Store struct {
	*repository.Repositories
	repository.DatabaseHealth

	driver string
	sqlite *sqlite.DB
}

// Open connects to the configured database and builds its repositories.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*Store, error) {
	switch cfg.Driver {
	case "sqlite":
		db, err := sqlite.NewDB(ctx, sqlite.Config{
			Path:            cfg.Path,
			MaxOpenConns:    1,
			MaxIdleConns:    1,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			JournalMode:     cfg.JournalMode,
			BusyTimeout:     cfg.BusyTimeout,
			SynchronousMode: cfg.SynchronousMode,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repositories:   db.Repositories(),
			DatabaseHealth: db,
			driver:         cfg.Driver,
			sqlite:         db,
		}, nil

	case "postgres":
		db, err := postgres.NewDB(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return &Store{
			Repositories:   db.Repositories(),
			DatabaseHealth: db,
			driver:         cfg.Driver,
		}, nil
	}

	return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
}

// Driver returns the backend name.
func (s *Store) Driver() string {
	return s.driver
}

// MigrateEmbedded applies the SQLite schema. It is a no-op for PostgreSQL,
// whose schema is managed by goose.
func (s *Store) MigrateEmbedded(ctx context.Context) error {
	if s.sqlite == nil {
		return nil
	}
	return s.sqlite.Migrate(ctx)
}

// Migrator runs goose migrations against PostgreSQL.
type Migrator struct {
	db *sql.DB
}

// NewMigrator opens a database/sql handle for goose.
func NewMigrator(cfg config.DatabaseConfig, logger zerolog.Logger) (*Migrator, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger: logger})
	if err := goose.SetDialect("postgres"); err != nil {
		db.Close()
		return nil, err
	}

	return &Migrator{db: db}, nil
}

// Up runs all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return goose.UpContext(ctx, m.db, ".")
}

// Down rolls back the latest migration.
func (m *Migrator) Down(ctx context.Context) error {
	return goose.DownContext(ctx, m.db, ".")
}

// Status logs the state of every migration.
func (m *Migrator) Status(ctx context.Context) error {
	return goose.StatusContext(ctx, m.db, ".")
}

// Version returns the current schema version.
func (m *Migrator) Version(ctx context.Context) (int64, error) {
	return goose.GetDBVersionContext(ctx, m.db)
}

// Close closes the migration handle.
func (m *Migrator) Close() error {
	return m.db.Close()
}

type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Msgf(format, v...)
}
