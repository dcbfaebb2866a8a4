package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trustmymrr/internal/logging"
	"trustmymrr/pkg/models"
)

// Supported drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Database wraps the GORM database instance
type Database struct {
	DB     *gorm.DB
	driver string
}

// Config holds database configuration. DSN wins over the discrete fields.
type Config struct {
	Driver   string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	TimeZone string

	MaxIdleConns int
	MaxOpenConns int
	LogLevel     logger.LogLevel
}

// DefaultConfig returns default database configuration
func DefaultConfig() *Config {
	return &Config{
		Driver:       DriverPostgres,
		Host:         "localhost",
		Port:         5432,
		User:         "postgres",
		Password:     "postgres",
		DBName:       "trustmymrr",
		SSLMode:      "disable",
		TimeZone:     "UTC",
		MaxIdleConns: 10,
		MaxOpenConns: 50,
		LogLevel:     logger.Warn,
	}
}

func (c *Config) postgresDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, c.TimeZone,
	)
}

// NewDatabase opens the configured database and auto-migrates the schema.
func NewDatabase(config *Config) (*Database, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.LogLevel == 0 {
		config.LogLevel = logger.Warn
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(config.LogLevel),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	var dialector gorm.Dialector
	driver := strings.ToLower(config.Driver)
	switch driver {
	case DriverSQLite:
		dsn := config.DSN
		if dsn == "" {
			dsn = "trustmymrr.db"
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres, "":
		driver = DriverPostgres
		dialector = postgres.Open(config.postgresDSN())
	default:
		return nil, fmt.Errorf("unsupported database driver %q", config.Driver)
	}

	db, err := gorm.Open(dialector, gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if driver == DriverSQLite {
		// One connection keeps ":memory:" databases shared and avoids SQLITE_BUSY.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(config.MaxIdleConns)
		sqlDB.SetMaxOpenConns(config.MaxOpenConns)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	database := &Database{DB: db, driver: driver}

	if err := database.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	logging.L().Info("database connected", zap.String("driver", driver))
	return database, nil
}

// Migrate auto-migrates all models
func (d *Database) Migrate() error {
	err := d.DB.AutoMigrate(
		&models.Startup{},
		&models.Founder{},
		&models.Ad{},
	)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if d.driver == DriverPostgres {
		d.createIndexes()
	}
	return nil
}

// createIndexes adds postgres-only expression indexes for case-insensitive lookups.
func (d *Database) createIndexes() {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_founders_x_username_lower ON founders (LOWER(x_username))",
		"CREATE INDEX IF NOT EXISTS idx_startups_name_lower ON startups (LOWER(name))",
		"CREATE INDEX IF NOT EXISTS idx_ads_spot_live ON ads (spot_id, expires_at) WHERE status = 'active'",
	}
	for _, stmt := range stmts {
		if err := d.DB.Exec(stmt).Error; err != nil {
			logging.L().Warn("create index", zap.String("sql", stmt), zap.Error(err))
		}
	}
}

// Driver returns the active dialect name.
func (d *Database) Driver() string {
	return d.driver
}

// Health checks database connectivity
func (d *Database) Health() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// GetStats returns database connection statistics
func (d *Database) GetStats() map[string]interface{} {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}

	stats := sqlDB.Stats()
	return map[string]interface{}{
		"driver":               d.driver,
		"max_open_connections": stats.MaxOpenConnections,
		"open_connections":     stats.OpenConnections,
		"in_use":               stats.InUse,
		"idle":                 stats.Idle,
		"wait_count":           stats.WaitCount,
		"wait_duration_ms":     stats.WaitDuration.Milliseconds(),
	}
}

// Transaction wraps a function in a database transaction
func (d *Database) Transaction(fn func(*gorm.DB) error) error {
	return d.DB.Transaction(fn)
}
