package jobqueue

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// schemaVersion is bumped whenever schema.sql changes shape in a way that
// migrations cannot express incrementally (i.e. a fresh-create baseline).
const schemaVersion = 1

// ErrSchemaMismatch is returned when an existing database reports a newer
// schema version than this binary knows how to speak.
var ErrSchemaMismatch = errors.New("jobqueue: database schema is newer than this binary supports")

func initSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("jobqueue: begin schema init: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_version'`,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("jobqueue: probe schema_version: %w", err)
	}

	if exists == 0 {
		if err := createSchema(ctx, tx); err != nil {
			return err
		}
		return tx.Commit()
	}

	var version int
	if err := tx.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version); err != nil {
		return fmt.Errorf("jobqueue: read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: have %d, want %d", ErrSchemaMismatch, version, schemaVersion)
	}

	return tx.Commit()
}

func createSchema(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("jobqueue: create schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, schemaVersion); err != nil {
		return fmt.Errorf("jobqueue: seed schema version: %w", err)
	}
	return nil
}
