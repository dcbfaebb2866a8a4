// Package database runs versioned schema migrations with golang-migrate.
// The API server uses gorm AutoMigrate in development; production schemas
// are owned by the SQL files under migrations/.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// MigrationConfig holds configuration for the migration runner
type MigrationConfig struct {
	// PostgreSQL URL or SQLite file path
	DatabaseURL string

	// "postgres" or "sqlite"
	DatabaseType string

	MigrationsPath string

	Logger *zap.Logger
}

// MigrationRunner handles database migrations
type MigrationRunner struct {
	config  *MigrationConfig
	migrate *migrate.Migrate
	db      *sql.DB
	driver  string
	log     *zap.Logger
}

// MigrationStatus represents the current migration state
type MigrationStatus struct {
	Version uint   `json:"version"`
	Dirty   bool   `json:"dirty"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

// NewMigrationRunner creates a new migration runner
func NewMigrationRunner(config *MigrationConfig) (*MigrationRunner, error) {
	if config == nil {
		return nil, errors.New("migration config is required")
	}
	if config.MigrationsPath == "" {
		return nil, errors.New("migrations path is required")
	}

	migrationsPath := config.MigrationsPath
	if !filepath.IsAbs(migrationsPath) {
		absPath, err := filepath.Abs(migrationsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve migrations path: %w", err)
		}
		migrationsPath = absPath
	}
	if _, err := os.Stat(migrationsPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("migrations directory not found: %s", migrationsPath)
	}
	config.MigrationsPath = migrationsPath

	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	runner := &MigrationRunner{
		config: config,
		driver: NormalizeType(config.DatabaseType),
		log:    log.Named("migrate"),
	}
	if err := runner.initialize(); err != nil {
		runner.Close()
		return nil, err
	}
	return runner, nil
}

// NormalizeType maps the accepted spellings of a database type to the
// driver names golang-migrate registers.
func NormalizeType(t string) string {
	switch strings.ToLower(t) {
	case "postgres", "postgresql":
		return "postgres"
	case "sqlite", "sqlite3":
		return "sqlite"
	}
	return t
}

func (r *MigrationRunner) initialize() error {
	var err error
	var driver migratedb.Driver

	switch r.driver {
	case "postgres":
		r.db, err = sql.Open("postgres", r.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open PostgreSQL connection: %w", err)
		}
		driver, err = postgres.WithInstance(r.db, &postgres.Config{})
		if err != nil {
			return fmt.Errorf("failed to create PostgreSQL driver: %w", err)
		}

	case "sqlite":
		r.db, err = sql.Open("sqlite", r.config.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to open SQLite connection: %w", err)
		}
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("failed to create SQLite driver: %w", err)
		}

	default:
		return fmt.Errorf("unsupported database type: %s", r.config.DatabaseType)
	}

	sourceURL := "file://" + filepath.ToSlash(r.config.MigrationsPath)
	r.migrate, err = migrate.NewWithDatabaseInstance(sourceURL, r.driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	return nil
}

// RunMigrations applies all pending migrations
func (r *MigrationRunner) RunMigrations() error {
	r.log.Info("running database migrations")

	if err := r.migrate.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.log.Info("database is up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	r.logVersion("migrations completed")
	return nil
}

// RollbackMigration rolls back the last migration
func (r *MigrationRunner) RollbackMigration() error {
	r.log.Info("rolling back last migration")

	if err := r.migrate.Steps(-1); err != nil {
		if errors.Is(err, migrate.ErrNoChange) || errors.Is(err, os.ErrNotExist) {
			r.log.Info("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("rollback failed: %w", err)
	}

	r.logVersion("rollback completed")
	return nil
}

// RollbackAll rolls back all migrations
func (r *MigrationRunner) RollbackAll() error {
	r.log.Warn("rolling back all migrations")

	if err := r.migrate.Down(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.log.Info("no migrations to roll back")
			return nil
		}
		return fmt.Errorf("rollback all failed: %w", err)
	}

	r.log.Info("all migrations rolled back")
	return nil
}

// MigrateToVersion migrates up or down to version.
func (r *MigrationRunner) MigrateToVersion(version uint) error {
	r.log.Info("migrating to version", zap.Uint("version", version))

	if err := r.migrate.Migrate(version); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			r.log.Info("already at version", zap.Uint("version", version))
			return nil
		}
		return fmt.Errorf("migration to version %d failed: %w", version, err)
	}

	r.logVersion("migration completed")
	return nil
}

// GetVersion returns the current migration version
func (r *MigrationRunner) GetVersion() (MigrationStatus, error) {
	version, dirty, err := r.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return MigrationStatus{}, nil
	}
	status := MigrationStatus{
		Version: version,
		Dirty:   dirty,
		Applied: version > 0,
	}
	if err != nil {
		status.Error = err.Error()
		return status, err
	}
	return status, nil
}

// Force sets the version without running migrations. It exists to clear a
// dirty state after a failed migration was fixed by hand.
func (r *MigrationRunner) Force(version int) error {
	r.log.Warn("forcing migration version", zap.Int("version", version))

	if err := r.migrate.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	return nil
}

// Close closes the migration runner and database connection
func (r *MigrationRunner) Close() error {
	if r.migrate != nil {
		srcErr, dbErr := r.migrate.Close()
		if srcErr != nil {
			return fmt.Errorf("failed to close source: %w", srcErr)
		}
		if dbErr != nil {
			return fmt.Errorf("failed to close database: %w", dbErr)
		}
		return nil
	}
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *MigrationRunner) logVersion(msg string) {
	version, dirty, _ := r.migrate.Version()
	r.log.Info(msg, zap.Uint("version", version), zap.Bool("dirty", dirty))
}

// BuildPostgresDSN constructs a PostgreSQL connection URL from components
func BuildPostgresDSN(host string, port int, user, password, dbname, sslmode string) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, host, port, dbname, sslmode,
	)
}
