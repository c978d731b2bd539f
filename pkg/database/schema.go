package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a journal database against what the code expects
// ARCHITECTURAL DISCOVERY: Separate validation component enables testing
// and deployment verification without coupling to migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"sessions":          "Session lifecycle journal",
		"submissions":       "Activity submission journal",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.exists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}
	return nil
}

// ValidateTableStructure verifies column names and declared types
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"code":         "TEXT",
		"created_at":   "DATETIME",
		"closed_at":    "DATETIME",
		"close_reason": "TEXT",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	submissionColumns := map[string]string{
		"id":            "TEXT",
		"session_code":  "TEXT",
		"widget_id":     "TEXT",
		"connection_id": "TEXT",
		"display_name":  "TEXT",
		"score":         "INTEGER",
		"total":         "INTEGER",
		"submitted_at":  "DATETIME",
	}
	if err := v.validateColumns("submissions", submissionColumns); err != nil {
		return fmt.Errorf("submissions table structure invalid: %w", err)
	}
	return nil
}

// ValidateIndexes verifies that the report query indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_created_at":        "Session listing",
		"idx_submissions_session_time":   "Results by session",
		"idx_submissions_session_widget": "Results by widget",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.exists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}
	return nil
}

// ValidateConstraints probes the CHECK constraints with rows that must be
// rejected. Nothing is left behind.
func (v *SchemaValidator) ValidateConstraints() error {
	_, err := v.db.Exec(`
		INSERT INTO submissions (id, session_code, widget_id, connection_id, display_name, score, total, submitted_at)
		VALUES ('constraint-probe', 'PROBE', 'w', 'c', 'n', 3, 2, CURRENT_TIMESTAMP)
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM submissions WHERE id = 'constraint-probe'")
		return fmt.Errorf("check constraint not enforced: submissions.score <= total")
	}

	_, err = v.db.Exec(`
		INSERT INTO sessions (code, created_at, close_reason)
		VALUES ('PROBE', CURRENT_TIMESTAMP, 'vanished')
	`)
	if err == nil {
		_, _ = v.db.Exec("DELETE FROM sessions WHERE code = 'PROBE'")
		return fmt.Errorf("check constraint not enforced: sessions.close_reason")
	}
	return nil
}

// exists looks an object up in sqlite_master
func (v *SchemaValidator) exists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = ? AND name = ?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid, notNull, pk int
		var name, dataType string
		var defaultValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}
	return nil
}
