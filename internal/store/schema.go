package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var baseSchema string

// migrations are applied in order; PRAGMA user_version records how many have
// run. Append new entries, never edit shipped ones.
var migrations = []string{
	baseSchema,
}

// ErrSchemaMismatch means the database was written by a newer build.
var ErrSchemaMismatch = errors.New("schema version mismatch")

func (s *Store) migrate(ctx context.Context) error {
	var current int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > len(migrations) {
		return fmt.Errorf("%w: database %s is at version %d, this build knows %d",
			ErrSchemaMismatch, s.path, current, len(migrations))
	}
	for version := current; version < len(migrations); version++ {
		if err := s.withTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[version]); err != nil {
				return err
			}
			// PRAGMA does not accept bound parameters
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", version+1))
			return err
		}); err != nil {
			return fmt.Errorf("apply schema migration %d: %w", version+1, err)
		}
	}
	return nil
}
