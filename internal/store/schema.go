package store

import "context"

// Schema is the full relational schema for the coin bank. Applied by
// cmd/migrate; kept here so the store and its tests share one source.
const Schema = `
CREATE TABLE IF NOT EXISTS identities (
    internal_id BIGSERIAL PRIMARY KEY,
    external_id TEXT NOT NULL UNIQUE,
    balance     BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    internal_id  BIGSERIAL PRIMARY KEY,
    event_ref    TEXT,
    identity_ref BIGINT NOT NULL REFERENCES identities(internal_id),
    at           TIMESTAMPTZ NOT NULL,
    delta        BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ledger_entries_identity_at
    ON ledger_entries (identity_ref, at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_entries_event_ref
    ON ledger_entries (event_ref) WHERE event_ref IS NOT NULL;

CREATE TABLE IF NOT EXISTS item_definitions (
    internal_id      BIGSERIAL PRIMARY KEY,
    title            TEXT NOT NULL,
    title_normalized TEXT NOT NULL UNIQUE,
    description      TEXT NOT NULL,
    image_ref        TEXT NOT NULL,
    cost             BIGINT NOT NULL CHECK (cost >= 0)
);

-- item_ref carries no foreign key on purpose: unregistering a catalog item
-- must not invalidate or block existing holdings. Grant checks the item
-- exists inside its own transaction instead.
CREATE TABLE IF NOT EXISTS inventory_entries (
    item_ref     BIGINT NOT NULL,
    identity_ref BIGINT NOT NULL REFERENCES identities(internal_id),
    count        BIGINT NOT NULL CHECK (count >= 0),
    PRIMARY KEY (item_ref, identity_ref)
);
`

// Migrate applies the schema. Statements are idempotent, so running it
// against an existing database is safe.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, Schema)
	return err
}
