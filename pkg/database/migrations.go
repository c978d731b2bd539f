package database

import (
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Migration represents a database migration
type Migration struct {
	Version     string
	Description string
	SQL         string
}

// MigrationManager handles database migrations
// FUNCTIONAL DISCOVERY: Manager pattern encapsulates migration state and operations
// enabling safe schema evolution across development and production environments
type MigrationManager struct {
	db         *sql.DB
	migrations fs.FS
}

// NewMigrationManager creates a migration manager reading *.sql files from
// the root of migrations. A nil FS uses the migrations compiled into the
// binary.
func NewMigrationManager(db *sql.DB, migrations fs.FS) *MigrationManager {
	if migrations == nil {
		migrations = EmbeddedMigrations()
	}
	return &MigrationManager{db: db, migrations: migrations}
}

// EmbeddedMigrations is the schema shipped with the binary
func EmbeddedMigrations() fs.FS {
	sub, err := fs.Sub(embeddedMigrations, "migrations")
	if err != nil {
		panic(err)
	}
	return sub
}

// ApplyMigrations applies all pending migrations, each in its own
// transaction
func (m *MigrationManager) ApplyMigrations() error {
	if err := m.createMigrationTable(); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	migrations, err := m.loadMigrations()
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	applied, err := m.AppliedVersions()
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	done := make(map[string]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	// TECHNICAL DISCOVERY: Migration ordering by filename ensures consistent
	// application order across different environments
	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}
		if err := m.applyMigration(migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
	}
	return nil
}

// ValidateSchema checks the tables and indexes the journal queries rely on
func (m *MigrationManager) ValidateSchema() error {
	validator := NewSchemaValidator(m.db)
	if err := validator.ValidateTablesExist(); err != nil {
		return err
	}
	return validator.ValidateIndexes()
}

// AppliedVersions lists applied migration versions in order
func (m *MigrationManager) AppliedVersions() ([]string, error) {
	rows, err := m.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (m *MigrationManager) createMigrationTable() error {
	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// loadMigrations reads NNN_description.sql files sorted by version
func (m *MigrationManager) loadMigrations() ([]Migration, error) {
	entries, err := fs.ReadDir(m.migrations, ".")
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		content, err := fs.ReadFile(m.migrations, entry.Name())
		if err != nil {
			return nil, err
		}

		// "001_initial_schema.sql" -> "001", "initial_schema"
		version, description, _ := strings.Cut(strings.TrimSuffix(entry.Name(), ".sql"), "_")
		migrations = append(migrations, Migration{
			Version:     version,
			Description: description,
			SQL:         string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

// applyMigration applies a single migration within a transaction
func (m *MigrationManager) applyMigration(migration Migration) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(migration.SQL); err != nil {
		return err
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", migration.Version); err != nil {
		return err
	}
	return tx.Commit()
}
