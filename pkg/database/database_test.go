package database

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	db, err := sql.Open("sqlite3", cfg.DSN())
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close test database: %v", err)
		}
	})
	return db
}

func migratedTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db := openTestDB(t)
	fsys, err := MigrationsFS(nil)
	if err != nil {
		t.Fatalf("MigrationsFS: %v", err)
	}
	if err := NewMigrationManager(db, fsys).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	return db
}

func TestConfig_DefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config.DatabasePath != "./data/cohortlive.db" {
		t.Errorf("Expected DatabasePath './data/cohortlive.db', got %s", config.DatabasePath)
	}
	if config.MaxConnections != 10 {
		t.Errorf("Expected MaxConnections 10, got %d", config.MaxConnections)
	}
	if config.ConnMaxLifetime != time.Hour {
		t.Errorf("Expected ConnMaxLifetime 1 hour, got %v", config.ConnMaxLifetime)
	}
	if config.ConnMaxIdleTime != time.Minute*10 {
		t.Errorf("Expected ConnMaxIdleTime 10 minutes, got %v", config.ConnMaxIdleTime)
	}
	if config.MigrationsPath != "" {
		t.Errorf("Expected embedded migrations by default, got %s", config.MigrationsPath)
	}
}

func TestConfig_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "empty database path", mutate: func(c *Config) { c.DatabasePath = "" }, wantErr: true},
		{name: "zero max connections", mutate: func(c *Config) { c.MaxConnections = 0 }, wantErr: true},
		{name: "zero lifetime", mutate: func(c *Config) { c.ConnMaxLifetime = 0 }, wantErr: true},
		{name: "zero idle time", mutate: func(c *Config) { c.ConnMaxIdleTime = 0 }, wantErr: true},
		{name: "zero write timeout", mutate: func(c *Config) { c.WriteTimeout = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Config.Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_DSNEnablesForeignKeys(t *testing.T) {
	cfg := &Config{DatabasePath: "/tmp/x.db"}
	want := "/tmp/x.db?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	if cfg.DSN() != want {
		t.Errorf("DSN() = %s, want %s", cfg.DSN(), want)
	}
}

func TestMigrationManager_AppliesEmbeddedSchema(t *testing.T) {
	db := migratedTestDB(t)

	fsys, _ := MigrationsFS(nil)
	mgr := NewMigrationManager(db, fsys)
	if err := mgr.ValidateSchema(); err != nil {
		t.Fatalf("ValidateSchema after migrations: %v", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 recorded migrations, got %d", count)
	}
}

func TestMigrationManager_IsIdempotent(t *testing.T) {
	db := migratedTestDB(t)
	fsys, _ := MigrationsFS(nil)

	if err := NewMigrationManager(db, fsys).ApplyMigrations(); err != nil {
		t.Fatalf("second ApplyMigrations should be a no-op: %v", err)
	}
}

func TestMigrationManager_OrdersByVersion(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"002_add_column.sql": {Data: []byte(`ALTER TABLE widgets ADD COLUMN color TEXT;`)},
		"001_widgets.sql":    {Data: []byte(`CREATE TABLE widgets (id TEXT PRIMARY KEY);`)},
		"README.md":          {Data: []byte("ignored")},
	}

	mgr := NewMigrationManager(db, fsys)
	if err := mgr.ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}

	migrations, err := mgr.loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Version != "001" || migrations[1].Description != "add_column" {
		t.Errorf("unexpected migrations %+v", migrations)
	}

	if _, err := db.Exec(`INSERT INTO widgets (id, color) VALUES ('w1', 'red')`); err != nil {
		t.Errorf("expected both migrations applied: %v", err)
	}
}

func TestMigrationManager_FailedMigrationIsNotRecorded(t *testing.T) {
	db := openTestDB(t)
	fsys := fstest.MapFS{
		"001_broken.sql": {Data: []byte(`CREATE TABLE nope (`)},
	}

	mgr := NewMigrationManager(db, fsys)
	if err := mgr.ApplyMigrations(); err == nil {
		t.Fatal("expected broken migration to fail")
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 0 {
		t.Errorf("failed migration should not be recorded, got %d rows", count)
	}
}

func TestMigrationsFS_DirectoryOverride(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "001_only.sql"), []byte(`CREATE TABLE only_table (id TEXT);`), 0644); err != nil {
		t.Fatalf("write migration: %v", err)
	}

	fsys, err := MigrationsFS(&Config{MigrationsPath: dir})
	if err != nil {
		t.Fatalf("MigrationsFS: %v", err)
	}

	db := openTestDB(t)
	if err := NewMigrationManager(db, fsys).ApplyMigrations(); err != nil {
		t.Fatalf("ApplyMigrations: %v", err)
	}
	if err := NewSchemaValidator(db).ValidateTablesExist(); err == nil {
		t.Error("override directory should not have produced the full schema")
	}
}

func TestMigrationManager_ValidateSchemaFailsOnEmptyDatabase(t *testing.T) {
	db := openTestDB(t)
	fsys, _ := MigrationsFS(nil)
	if err := NewMigrationManager(db, fsys).ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail on empty database")
	}
}

func TestMigrationManager_ValidateSchemaChecksConstraints(t *testing.T) {
	db := migratedTestDB(t)
	if _, err := db.Exec("DROP TRIGGER trg_sessions_terminal"); err != nil {
		t.Fatalf("drop trigger: %v", err)
	}

	fsys, _ := MigrationsFS(nil)
	if err := NewMigrationManager(db, fsys).ValidateSchema(); err == nil {
		t.Error("ValidateSchema should fail when an ended session can be reactivated")
	}
}
