package postgres

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrate applies every pending migration. An up-to-date schema is not an
// error.
func Migrate(pool *pgxpool.Pool, logger *slog.Logger) error {
	inst, closeFn, err := instance(pool)
	defer closeFn()
	if err != nil {
		return err
	}

	err = inst.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}

	version, dirty, _ := inst.Version()
	logger.Info("database migrations applied", "version", version, "dirty", dirty)
	return nil
}

// MigrateDown reverts every migration.
func MigrateDown(pool *pgxpool.Pool) error {
	inst, closeFn, err := instance(pool)
	defer closeFn()
	if err != nil {
		return err
	}

	err = inst.Down()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not revert migrations: %w", err)
	}
	return nil
}

// instance builds a migrate instance over a database/sql view of the pool.
func instance(pool *pgxpool.Pool) (*migrate.Migrate, func(), error) {
	db := stdlib.OpenDBFromPool(pool)
	closeFn := func() { db.Close() }

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		return nil, closeFn, fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return nil, closeFn, fmt.Errorf("could not create fs: %w", err)
	}
	closeFn = func() {
		src.Close()
		db.Close()
	}

	inst, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, closeFn, fmt.Errorf("could not create migration instance: %w", err)
	}
	return inst, closeFn, nil
}
