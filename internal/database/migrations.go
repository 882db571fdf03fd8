package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
)

// MigrationRunner applies the SQL files under migrations/ to the review store
type MigrationRunner struct {
	migrate *migrate.Migrate
	log     *logrus.Logger
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(databaseURL, migrationsPath string, logger *logrus.Logger) (*MigrationRunner, error) {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", migrationsPath),
		databaseURL,
	)
	if err != nil {
		return nil, fmt.Errorf("creating migration instance: %w", err)
	}

	return &MigrationRunner{
		migrate: m,
		log:     logger,
	}, nil
}

// Up runs all pending migrations
func (mr *MigrationRunner) Up(ctx context.Context) error {
	mr.log.Info("Running database migrations up")

	if err := mr.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			mr.log.Info("Schema is already current")
			return nil
		}
		return fmt.Errorf("running migrations up: %w", err)
	}
	mr.logVersion("Schema migrated")
	return nil
}

// Down reverts the most recent migration. With nothing applied it is a no-op.
func (mr *MigrationRunner) Down(ctx context.Context) error {
	version, _, err := mr.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		mr.log.Info("No applied migrations to revert")
		return nil
	}

	mr.log.WithField("version", version).Info("Reverting schema migration")
	if err := mr.migrate.Steps(-1); err != nil {
		return fmt.Errorf("reverting migration %d: %w", version, err)
	}
	mr.logVersion("Schema migration reverted")
	return nil
}

// Version reports the applied schema version, zero when nothing is applied. A dirty schema
// means a migration failed halfway and needs manual repair.
func (mr *MigrationRunner) Version() (uint, bool, error) {
	version, dirty, err := mr.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("reading schema version: %w", err)
	}
	return version, dirty, nil
}

func (mr *MigrationRunner) logVersion(msg string) {
	version, dirty, err := mr.Version()
	if err != nil {
		mr.log.WithError(err).Warn("Could not read schema version")
		return
	}
	mr.log.WithFields(logrus.Fields{
		"version": version,
		"dirty":   dirty,
	}).Info(msg)
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) error {
	return withRunner(databaseURL, migrationsPath, logger, func(runner *MigrationRunner) error {
		logger.WithField("migrations_path", migrationsPath).Info("Applying schema migrations")
		return runner.Up(ctx)
	})
}

// Rollback reverts the most recent migration.
func Rollback(ctx context.Context, databaseURL, migrationsPath string, logger *logrus.Logger) error {
	return withRunner(databaseURL, migrationsPath, logger, func(runner *MigrationRunner) error {
		return runner.Down(ctx)
	})
}

// SchemaVersion returns the applied schema version and whether it is dirty.
func SchemaVersion(databaseURL, migrationsPath string, logger *logrus.Logger) (uint, bool, error) {
	var version uint
	var dirty bool
	err := withRunner(databaseURL, migrationsPath, logger, func(runner *MigrationRunner) error {
		var err error
		version, dirty, err = runner.Version()
		return err
	})
	return version, dirty, err
}

func withRunner(databaseURL, migrationsPath string, logger *logrus.Logger, fn func(*MigrationRunner) error) error {
	runner, err := NewMigrationRunner(databaseURL, migrationsPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close migration runner")
		}
	}()
	return fn(runner)
}

// Close closes the migration runner
func (mr *MigrationRunner) Close() error {
	sourceErr, dbErr := mr.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("closing migration source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("closing migration database: %w", dbErr)
	}
	return nil
}
