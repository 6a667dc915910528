package database

import (
	"database/sql"
	"fmt"
)

// Prepare migrates db to the embedded schema and then verifies the tables,
// columns and indexes the store relies on
func Prepare(db *sql.DB) error {
	if err := NewMigrationManager(db, Migrations()).ApplyMigrations(); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := NewSchemaValidator(db).Validate(); err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	return nil
}

// SchemaValidator provides database schema validation functionality
// ARCHITECTURAL DISCOVERY: Separate validation component enables deployment
// verification without coupling to the migration system
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every schema check
func (v *SchemaValidator) Validate() error {
	if err := v.ValidateTablesExist(); err != nil {
		return err
	}
	if err := v.ValidateTableStructure(); err != nil {
		return err
	}
	return v.ValidateIndexes()
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"players":           "Player records",
		"raid_history":      "Terminal session snapshots",
		"raid_participants": "Per-player history index",
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

// ValidateTableStructure verifies table column structure matches expectations
// TECHNICAL DISCOVERY: Column validation ensures type compatibility between
// Go structs and database schema
func (v *SchemaValidator) ValidateTableStructure() error {
	playerColumns := map[string]string{
		"id":         "TEXT",
		"level":      "INTEGER",
		"attack":     "INTEGER",
		"defense":    "INTEGER",
		"support":    "INTEGER",
		"gold":       "INTEGER",
		"xp":         "INTEGER",
		"updated_at": "DATETIME",
	}
	if err := v.validateColumns("players", playerColumns); err != nil {
		return fmt.Errorf("players table structure invalid: %w", err)
	}

	historyColumns := map[string]string{
		"session_id":   "TEXT",
		"dungeon_id":   "TEXT",
		"status":       "TEXT",
		"seed":         "INTEGER",
		"session_json": "TEXT",
		"outcome_json": "TEXT",
		"completed_at": "DATETIME",
	}
	if err := v.validateColumns("raid_history", historyColumns); err != nil {
		return fmt.Errorf("raid_history table structure invalid: %w", err)
	}

	participantColumns := map[string]string{
		"session_id": "TEXT",
		"player_id":  "TEXT",
		"gold":       "INTEGER",
		"xp":         "INTEGER",
	}
	if err := v.validateColumns("raid_participants", participantColumns); err != nil {
		return fmt.Errorf("raid_participants table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies that all performance indexes exist
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_history_completed_at": "Recent history ordering",
		"idx_history_dungeon":      "Per-dungeon history",
		"idx_participants_player":  "Per-player history lookups",
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

func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
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
	defer func() {
		_ = rows.Close()
	}()

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
