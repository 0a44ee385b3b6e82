// Package migrations creates the PostgreSQL schema used by the raffle layer.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS raffle_settlements (
		round        BIGINT PRIMARY KEY,
		request_id   BIGINT NOT NULL,
		winner       TEXT NOT NULL,
		winner_index INTEGER NOT NULL,
		amount       NUMERIC(78, 0) NOT NULL,
		entry_count  INTEGER NOT NULL,
		transfer_id  TEXT NOT NULL DEFAULT '',
		opened_at    TIMESTAMPTZ NOT NULL,
		closed_at    TIMESTAMPTZ NOT NULL,
		settled_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raffle_ledger_accounts (
		address    TEXT PRIMARY KEY,
		balance    NUMERIC(78, 0) NOT NULL DEFAULT 0 CHECK (balance >= 0),
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raffle_ledger_transfers (
		id           TEXT PRIMARY KEY,
		kind         TEXT NOT NULL,
		from_address TEXT NOT NULL,
		to_address   TEXT NOT NULL,
		amount       NUMERIC(78, 0) NOT NULL,
		status       TEXT NOT NULL,
		error        TEXT NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS raffle_vrf_subscriptions (
		id         BIGSERIAL PRIMARY KEY,
		owner      TEXT NOT NULL,
		balance    NUMERIC(78, 0) NOT NULL DEFAULT 0,
		consumers  JSONB NOT NULL DEFAULT '[]'::jsonb,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS raffle_vrf_requests (
		id                 BIGSERIAL PRIMARY KEY,
		key_hash           TEXT NOT NULL,
		subscription_id    BIGINT NOT NULL,
		confirmations      INTEGER NOT NULL,
		callback_gas_limit BIGINT NOT NULL,
		num_words          INTEGER NOT NULL,
		consumer           TEXT NOT NULL,
		status             TEXT NOT NULL,
		words              JSONB,
		attempts           INTEGER NOT NULL DEFAULT 0,
		last_error         TEXT NOT NULL DEFAULT '',
		payment            NUMERIC(78, 0),
		created_at         TIMESTAMPTZ NOT NULL,
		updated_at         TIMESTAMPTZ NOT NULL,
		fulfilled_at       TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS raffle_vrf_requests_pending_idx
		ON raffle_vrf_requests (id) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS raffle_rounds (
		id                 SMALLINT PRIMARY KEY CHECK (id = 1),
		number             BIGINT NOT NULL,
		state              TEXT NOT NULL,
		entries            JSONB NOT NULL DEFAULT '[]'::jsonb,
		pool               NUMERIC(78, 0) NOT NULL DEFAULT 0,
		opened_at          TIMESTAMPTZ NOT NULL,
		closed_at          TIMESTAMPTZ,
		pending_request_id BIGINT NOT NULL DEFAULT 0,
		updated_at         TIMESTAMPTZ NOT NULL
	)`,
}

// Apply executes every schema statement in order. Statements are idempotent.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
	}
	return nil
}
