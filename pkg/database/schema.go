package database

import (
	"database/sql"
	"fmt"
	"time"
)

// SchemaValidator checks a migrated database against what the store expects.
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
		"sessions":          "Session data storage",
		"memberships":       "Participant membership storage",
		"curriculum_units":  "Curriculum unit references",
		"users":             "Participant display data",
		"position_requests": "Applied step request ids",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies column types of the core tables.
func (v *SchemaValidator) ValidateTableStructure() error {
	sessionColumns := map[string]string{
		"id":                 "TEXT",
		"join_code":          "TEXT",
		"instructor_id":      "TEXT",
		"curriculum_unit_id": "TEXT",
		"current_step":       "INTEGER",
		"current_section":    "TEXT",
		"is_active":          "INTEGER",
		"started_at":         "DATETIME",
		"ended_at":           "DATETIME",
	}
	if err := v.validateColumns("sessions", sessionColumns); err != nil {
		return fmt.Errorf("sessions table structure invalid: %w", err)
	}

	membershipColumns := map[string]string{
		"id":             "TEXT",
		"session_id":     "TEXT",
		"participant_id": "TEXT",
		"is_active":      "INTEGER",
		"joined_at":      "DATETIME",
		"left_at":        "DATETIME",
	}
	if err := v.validateColumns("memberships", membershipColumns); err != nil {
		return fmt.Errorf("memberships table structure invalid: %w", err)
	}

	requestColumns := map[string]string{
		"session_id": "TEXT",
		"request_id": "TEXT",
		"applied_at": "DATETIME",
	}
	if err := v.validateColumns("position_requests", requestColumns); err != nil {
		return fmt.Errorf("position_requests table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the indexes that back uniqueness guarantees and
// roster queries.
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_sessions_active_join_code": "Join code uniqueness among active sessions",
		"idx_sessions_join_code":        "Join code lookups",
		"idx_sessions_instructor":       "Instructor session listing",
		"idx_memberships_roster":        "Roster queries",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints exercises the constraints the store relies on, inside a
// transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	// Join codes below contain 0 and 1, which generated codes never do, so
	// the checks cannot collide with live sessions.
	now := time.Now().UTC()
	if _, err := tx.Exec(`INSERT OR IGNORE INTO curriculum_units (id, title) VALUES ('check-unit', 'check')`); err != nil {
		return fmt.Errorf("failed to create check unit: %w", err)
	}

	// Foreign key: sessions.curriculum_unit_id -> curriculum_units.id
	_, err = tx.Exec(`
		INSERT INTO sessions (id, join_code, instructor_id, curriculum_unit_id, started_at)
		VALUES ('check-fk', '0CHKF1', 'i', 'missing-unit', ?)
	`, now)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: sessions.curriculum_unit_id")
	}

	for _, id := range []string{"check-a", "check-b"} {
		_, err = tx.Exec(`
			INSERT INTO sessions (id, join_code, instructor_id, curriculum_unit_id, started_at)
			VALUES (?, '0CHKA1', 'i', 'check-unit', ?)
		`, id, now)
		if id == "check-a" && err != nil {
			return fmt.Errorf("failed to create check session: %w", err)
		}
	}
	if err == nil {
		return fmt.Errorf("unique constraint not enforced: active join code")
	}

	if _, err := tx.Exec(`UPDATE sessions SET current_step = 0 WHERE id = 'check-a'`); err == nil {
		return fmt.Errorf("check constraint not enforced: current_step >= 1")
	}

	if _, err := tx.Exec(`UPDATE sessions SET is_active = 0, ended_at = ? WHERE id = 'check-a'`, now); err != nil {
		return fmt.Errorf("failed to end check session: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET is_active = 1, ended_at = NULL WHERE id = 'check-a'`); err == nil {
		return fmt.Errorf("terminal state not enforced: ended session was reactivated")
	}

	return nil
}

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
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

func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

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
