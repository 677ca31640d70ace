package store

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS pending_burns (
		payer     TEXT PRIMARY KEY,
		amount    BIGINT NOT NULL CHECK (amount >= 0),
		last_burn TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS pending_txns (
		signature    TEXT PRIMARY KEY,
		payer        TEXT NOT NULL,
		amount       BIGINT NOT NULL CHECK (amount > 0),
		submitted_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS pending_txns_payer_idx ON pending_txns (payer)`,
	`CREATE TABLE IF NOT EXISTS organizations (
		oui    BIGINT PRIMARY KEY,
		payer  TEXT NOT NULL,
		locked BOOLEAN NOT NULL DEFAULT false
	)`,
}

// Migrate creates any missing table. It is safe to run on every start.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.Db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
