package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Config holds journal database settings
type Config struct {
	DatabasePath    string        `json:"database_path"`
	MaxConnections  int           `json:"max_connections"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	WriteQueueSize  int           `json:"write_queue_size"`
	WriteRetryDelay time.Duration `json:"write_retry_delay"`
}

// DefaultConfig returns production-ready database configuration
// FUNCTIONAL DISCOVERY: SQLite performs optimally with 10 connections for
// classroom-scale concurrent access (20-50 users)
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:    "./data/classroom.db",
		MaxConnections:  10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 10,
		WriteQueueSize:  100,
		WriteRetryDelay: 5 * time.Second,
	}
}

// Validate ensures the configuration is valid
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.MaxConnections <= 0 {
		return errors.New("max connections must be greater than 0")
	}
	if c.ConnMaxLifetime <= 0 {
		return errors.New("connection max lifetime must be greater than 0")
	}
	if c.ConnMaxIdleTime <= 0 {
		return errors.New("connection max idle time must be greater than 0")
	}
	if c.WriteQueueSize <= 0 {
		return errors.New("write queue size must be greater than 0")
	}
	if c.WriteRetryDelay < 0 {
		return errors.New("write retry delay cannot be negative")
	}
	return nil
}

// DSN is the go-sqlite3 connection string with the per-connection options
// the driver understands
func (c *Config) DSN() string {
	return c.DatabasePath + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
}

// ARCHITECTURAL DISCOVERY: WAL mode enables concurrent reads while maintaining
// the single-writer pattern of the journal manager
var sqlitePragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA cache_size = -64000",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA foreign_keys = ON",
	"PRAGMA busy_timeout = 5000",
}

// Open opens the database with the pool limits and pragmas applied
func Open(config *Config) (*sql.DB, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	if err := ApplySQLiteOptimizations(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// ApplySQLiteOptimizations runs the tuning pragmas
func ApplySQLiteOptimizations(db *sql.DB) error {
	for _, pragma := range sqlitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}
	return nil
}
