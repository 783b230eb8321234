package jobqueue

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrate.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	defer db.Close()

	if err := initSchema(ctx, db); err != nil {
		t.Fatalf("initSchema() error = %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("applyMigrations() first pass error = %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("applyMigrations() second pass error = %v", err)
	}

	var conflictRoundCount int
	err = db.QueryRowContext(ctx, `SELECT count(*) FROM pragma_table_info('disc_titles') WHERE name = 'conflict_round'`).
		Scan(&conflictRoundCount)
	if err != nil {
		t.Fatalf("probe conflict_round column: %v", err)
	}
	if conflictRoundCount != 1 {
		t.Fatalf("conflict_round column present = %d times, want 1", conflictRoundCount)
	}

	var appliedCount int
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&appliedCount); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	if appliedCount != len(migrations) {
		t.Fatalf("schema_migrations rows = %d, want %d", appliedCount, len(migrations))
	}
}

func TestLoadMigrationsOrdersByVersion(t *testing.T) {
	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations() error = %v", err)
	}
	for i := 1; i < len(migrations); i++ {
		if migrations[i-1].version >= migrations[i].version {
			t.Fatalf("migrations not ordered: %+v", migrations)
		}
	}
}
