package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // Register pgx driver for database/sql

	"github.com/ironclaw-dev/ironclaw/pkg/config"
)

//go:embed migrations
var migrationsFS embed.FS

// DBConfig holds the ledger database connection settings.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadDBConfigFromEnv reads the database settings from LEDGER_DB_* keys.
func LoadDBConfigFromEnv() DBConfig {
	return DBConfig{
		Host:            config.GetEnv("LEDGER_DB_HOST", "localhost"),
		Port:            config.GetEnvInt("LEDGER_DB_PORT", 5432),
		User:            config.GetEnv("LEDGER_DB_USER", "ironclaw"),
		Password:        config.GetEnv("LEDGER_DB_PASSWORD", ""),
		Database:        config.GetEnv("LEDGER_DB_NAME", "ironclaw"),
		SSLMode:         config.GetEnv("LEDGER_DB_SSLMODE", "disable"),
		MaxOpenConns:    config.GetEnvInt("LEDGER_DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    config.GetEnvInt("LEDGER_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// OpenDB connects via the pgx stdlib driver and applies any pending
// embedded migrations. The ledger is the only service with a database;
// there is exactly one per deployment.
func OpenDB(ctx context.Context, cfg DBConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

func runMigrations(db *sql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the shared
	// *sql.DB handed to postgres.WithInstance.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}
