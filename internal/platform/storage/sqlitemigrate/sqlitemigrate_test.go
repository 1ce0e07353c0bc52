package sqlitemigrate

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "migrate.db")
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return sqlDB
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestApplyMigrationsCreatesTables(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"0001_things.sql": &fstest.MapFile{Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
	}

	if err := ApplyMigrations(sqlDB, migrationFS, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO things (id) VALUES ('a')"); err != nil {
		t.Fatalf("insert into migrated table: %v", err)
	}
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"0001_things.sql": &fstest.MapFile{Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
	}

	if err := ApplyMigrations(sqlDB, migrationFS, ""); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if err := ApplyMigrations(sqlDB, migrationFS, ""); err != nil {
		t.Fatalf("second apply: %v", err)
	}

	var applied int
	row := sqlDB.QueryRow("SELECT COUNT(*) FROM schema_migrations")
	if err := row.Scan(&applied); err != nil {
		t.Fatalf("count applied migrations: %v", err)
	}
	if applied != 1 {
		t.Fatalf("expected 1 applied migration, got %d", applied)
	}
}

func TestApplyMigrationsOrdersByFilename(t *testing.T) {
	sqlDB := openTestDB(t)
	migrationFS := fstest.MapFS{
		"0002_add_column.sql": &fstest.MapFile{Data: []byte("ALTER TABLE things ADD COLUMN name TEXT;")},
		"0001_things.sql":     &fstest.MapFile{Data: []byte("CREATE TABLE things (id TEXT PRIMARY KEY);")},
	}

	if err := ApplyMigrations(sqlDB, migrationFS, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	if _, err := sqlDB.Exec("INSERT INTO things (id, name) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("insert with migrated column: %v", err)
	}
}
