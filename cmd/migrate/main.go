// Command migrate manages the Trust My MRR schema.
//
// Usage:
//
//	go run ./cmd/migrate up           # Apply all pending migrations
//	go run ./cmd/migrate down         # Rollback last migration
//	go run ./cmd/migrate down-all     # Rollback all migrations
//	go run ./cmd/migrate version      # Show current migration version
//	go run ./cmd/migrate to N         # Migrate to specific version N
//	go run ./cmd/migrate force N      # Force version to N (fix dirty state)
//	go run ./cmd/migrate create NAME  # Create new migration files
package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"trustmymrr/internal/config"
	"trustmymrr/internal/database"
	"trustmymrr/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	logging.Init()
	defer logging.Sync()
	log := logging.L()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	migrationsPath := getMigrationsPath()

	if command == "help" {
		printUsage()
		return
	}
	if command == "create" {
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate create <migration_name>")
		}
		if err := createMigration(migrationsPath, os.Args[2]); err != nil {
			log.Fatal("failed to create migration", zap.Error(err))
		}
		return
	}

	dbURL, dbType := getDatabaseConfig(cfg)
	log.Info("migration target",
		zap.String("type", dbType),
		zap.String("path", migrationsPath))

	runner, err := database.NewMigrationRunner(&database.MigrationConfig{
		DatabaseURL:    dbURL,
		DatabaseType:   dbType,
		MigrationsPath: migrationsPath,
		Logger:         log,
	})
	if err != nil {
		log.Fatal("failed to create migration runner", zap.Error(err))
	}
	defer runner.Close()

	switch command {
	case "up":
		err = runner.RunMigrations()
	case "down":
		err = runner.RollbackMigration()
	case "down-all":
		log.Warn("rolling back ALL migrations, press Ctrl+C within 5 seconds to cancel")
		time.Sleep(5 * time.Second)
		err = runner.RollbackAll()
	case "version":
		err = showVersion(runner)
	case "to":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate to <version>")
		}
		version, perr := strconv.ParseUint(os.Args[2], 10, 32)
		if perr != nil {
			log.Fatal("invalid version number", zap.String("version", os.Args[2]))
		}
		err = runner.MigrateToVersion(uint(version))
	case "force":
		if len(os.Args) < 3 {
			log.Fatal("usage: migrate force <version>")
		}
		version, perr := strconv.Atoi(os.Args[2])
		if perr != nil {
			log.Fatal("invalid version number", zap.String("version", os.Args[2]))
		}
		err = runner.Force(version)
	default:
		printUsage()
		runner.Close()
		os.Exit(1)
	}

	if err != nil {
		runner.Close()
		log.Fatal("migrate failed", zap.String("command", command), zap.Error(err))
	}
}

func printUsage() {
	fmt.Print(`
Trust My MRR Database Migration Tool

Usage:
  migrate <command> [arguments]

Commands:
  up              Apply all pending migrations
  down            Rollback the last migration
  down-all        Rollback all migrations (WARNING: deletes all data!)
  version         Show current migration version
  to <N>          Migrate to specific version N
  force <N>       Force version to N (use to fix dirty state)
  create <name>   Create new migration files
  help            Show this help message

Environment Variables:
  DATABASE_URL     Full database connection URL or SQLite path
  DATABASE_DRIVER  postgres or sqlite (default: postgres)
  DB_HOST          Database host (default: localhost)
  DB_PORT          Database port (default: 5432)
  DB_USER          Database user (default: postgres)
  DB_PASSWORD      Database password
  DB_NAME          Database name (default: trustmymrr)
  DB_SSL_MODE      SSL mode (default: disable)
  MIGRATIONS_PATH  Directory holding the .sql files
`)
}

func getDatabaseConfig(cfg *config.Config) (string, string) {
	if cfg.DatabaseURL != "" {
		if u, err := url.Parse(cfg.DatabaseURL); err == nil {
			switch u.Scheme {
			case "postgres", "postgresql":
				return cfg.DatabaseURL, "postgres"
			case "sqlite", "sqlite3":
				return strings.TrimPrefix(cfg.DatabaseURL, u.Scheme+"://"), "sqlite"
			}
		}
		return cfg.DatabaseURL, database.NormalizeType(cfg.DatabaseDriver)
	}

	dsn := database.BuildPostgresDSN(
		getEnv("DB_HOST", "localhost"),
		getEnvInt("DB_PORT", 5432),
		getEnv("DB_USER", "postgres"),
		getEnv("DB_PASSWORD", "password"),
		getEnv("DB_NAME", "trustmymrr"),
		getEnv("DB_SSL_MODE", "disable"),
	)
	return dsn, "postgres"
}

func getMigrationsPath() string {
	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		return path
	}

	var candidates []string
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		candidates = append(candidates,
			filepath.Join(execDir, "migrations"),
			filepath.Join(execDir, "..", "migrations"),
		)
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates,
			filepath.Join(cwd, "migrations"),
			filepath.Join(cwd, "..", "migrations"),
		)
	}
	for _, candidate := range candidates {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "./migrations"
}

func showVersion(runner *database.MigrationRunner) error {
	status, err := runner.GetVersion()
	if err != nil {
		return err
	}

	fmt.Println("Current Migration Status:")
	fmt.Printf("  Version: %d\n", status.Version)
	fmt.Printf("  Dirty:   %v\n", status.Dirty)
	fmt.Printf("  Applied: %v\n", status.Applied)

	if status.Dirty {
		fmt.Println("\nWARNING: Database is in dirty state!")
		fmt.Printf("Fix the failed migration, then run 'migrate force %d'.\n", status.Version-1)
	}
	return nil
}

func createMigration(migrationsPath, name string) error {
	name = strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	name = strings.ReplaceAll(name, "-", "_")

	entries, err := os.ReadDir(migrationsPath)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	maxVersion := 0
	for _, entry := range entries {
		filename := entry.Name()
		if entry.IsDir() || len(filename) < 6 {
			continue
		}
		if v, err := strconv.Atoi(filename[:6]); err == nil && v > maxVersion {
			maxVersion = v
		}
	}

	prefix := fmt.Sprintf("%06d_%s", maxVersion+1, name)
	created := time.Now().Format(time.RFC3339)
	files := map[string]string{
		prefix + ".up.sql":   fmt.Sprintf("-- Migration: %s\n-- Created: %s\n\n", name, created),
		prefix + ".down.sql": fmt.Sprintf("-- Rollback: %s\n-- Created: %s\n\n", name, created),
	}
	for file, content := range files {
		path := filepath.Join(migrationsPath, file)
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", file, err)
		}
		fmt.Println("created", path)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
