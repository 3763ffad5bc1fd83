package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"coin-bank/internal/models"
	"coin-bank/internal/util"
)

// Register creates an identity for an external id with a zero balance.
// Idempotent and safe under concurrent calls for the same external id:
// exactly one row is ever created, and the loser sees alreadyExisted=true.
func (s *Store) Register(ctx context.Context, externalID string) (int64, bool, error) {
	var id int64
	err := s.db.GetContext(ctx, &id,
		`INSERT INTO identities (external_id, balance) VALUES ($1, 0)
		 ON CONFLICT (external_id) DO NOTHING
		 RETURNING internal_id`, externalID)
	if err == nil {
		return id, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("failed to register identity: %w", err)
	}

	// Conflict: the identity exists (possibly created a moment ago by a
	// concurrent caller).
	err = s.db.GetContext(ctx, &id,
		"SELECT internal_id FROM identities WHERE external_id = $1", externalID)
	if err != nil {
		return 0, false, fmt.Errorf("failed to load existing identity: %w", err)
	}
	return id, true, nil
}

// GetInternalID resolves an external id to the internal one
func (s *Store) GetInternalID(ctx context.Context, externalID string) (int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids,
		"SELECT internal_id FROM identities WHERE external_id = $1", externalID)
	if err != nil {
		return 0, err
	}
	switch len(ids) {
	case 0:
		return 0, ErrNotRegistered
	case 1:
		return ids[0], nil
	default:
		// Unreachable given the unique constraint; log and carry on with
		// the first match rather than failing the caller.
		util.GetLogger().Warn("external id present multiple times",
			zap.String("external_id", externalID),
			zap.Int("rows", len(ids)))
		return ids[0], nil
	}
}

// GetExternalID resolves an internal id back to the platform's id
func (s *Store) GetExternalID(ctx context.Context, internalID int64) (string, error) {
	var externalID string
	err := s.db.GetContext(ctx, &externalID,
		"SELECT external_id FROM identities WHERE internal_id = $1", internalID)
	if err == sql.ErrNoRows {
		return "", ErrNotRegistered
	}
	return externalID, err
}

// GetBalance returns the materialized balance for an identity
func (s *Store) GetBalance(ctx context.Context, internalID int64) (int64, error) {
	var balance int64
	err := s.db.GetContext(ctx, &balance,
		"SELECT balance FROM identities WHERE internal_id = $1", internalID)
	if err == sql.ErrNoRows {
		return 0, ErrNotRegistered
	}
	return balance, err
}

// ApplyDelta appends one ledger entry and updates the materialized balance
// in the same transaction. Debits that would drive the balance negative are
// rejected; only CorrectEntry may produce a negative balance.
func (s *Store) ApplyDelta(ctx context.Context, internalID, delta int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.Transact(ctx, func(tx *sqlx.Tx) error {
		var err error
		entry, err = applyDeltaTx(ctx, tx, internalID, delta, eventRef, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// applyDeltaTx is the tx-scoped debit/credit step shared with BuyItem.
// Locks the identity row so concurrent deltas serialize per identity.
func applyDeltaTx(ctx context.Context, tx *sqlx.Tx, internalID, delta int64, eventRef string, at time.Time) (models.LedgerEntry, error) {
	var entry models.LedgerEntry

	var balance int64
	err := tx.GetContext(ctx, &balance,
		"SELECT balance FROM identities WHERE internal_id = $1 FOR UPDATE", internalID)
	if err == sql.ErrNoRows {
		return entry, ErrNotRegistered
	}
	if err != nil {
		return entry, fmt.Errorf("failed to lock identity: %w", err)
	}

	if delta < 0 && balance+delta < 0 {
		return entry, ErrInsufficientBalance
	}

	err = tx.GetContext(ctx, &entry,
		`INSERT INTO ledger_entries (event_ref, identity_ref, at, delta)
		 VALUES ($1, $2, $3, $4)
		 RETURNING internal_id, event_ref, identity_ref, at, delta`,
		nullable(eventRef), internalID, at, delta)
	if err != nil {
		// The unique index on event_ref turns a concurrent redelivery into
		// a constraint violation rather than a double credit.
		if isUniqueViolation(err) {
			return entry, ErrDuplicateEvent
		}
		return entry, fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE identities SET balance = balance + $1 WHERE internal_id = $2",
		delta, internalID)
	if err != nil {
		return entry, fmt.Errorf("failed to update balance: %w", err)
	}

	return entry, nil
}

// CorrectEntry rewrites one entry's delta and adjusts the owning identity's
// balance by the difference, atomically. Corrections are administrative and
// may leave the balance negative. Returns the owning identity's id.
func (s *Store) CorrectEntry(ctx context.Context, entryID, newDelta int64) (int64, error) {
	var identityRef int64
	err := s.Transact(ctx, func(tx *sqlx.Tx) error {
		var row struct {
			IdentityRef int64 `db:"identity_ref"`
			Delta       int64 `db:"delta"`
		}
		err := tx.GetContext(ctx, &row,
			"SELECT identity_ref, delta FROM ledger_entries WHERE internal_id = $1 FOR UPDATE", entryID)
		if err == sql.ErrNoRows {
			return ErrEntryNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to lock ledger entry: %w", err)
		}
		identityRef = row.IdentityRef

		if newDelta == row.Delta {
			return nil
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE ledger_entries SET delta = $1 WHERE internal_id = $2",
			newDelta, entryID); err != nil {
			return fmt.Errorf("failed to rewrite entry: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE identities SET balance = balance + $1 WHERE internal_id = $2",
			newDelta-row.Delta, row.IdentityRef); err != nil {
			return fmt.Errorf("failed to adjust balance: %w", err)
		}

		return nil
	})
	return identityRef, err
}

// History returns all ledger entries for an identity, timestamp ascending.
// An unknown identity yields an empty slice, logged as caller misuse.
func (s *Store) History(ctx context.Context, internalID int64) ([]models.LedgerEntry, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM identities WHERE internal_id = $1)", internalID)
	if err != nil {
		return nil, err
	}
	if !exists {
		util.GetLogger().Debug("history requested for unregistered identity",
			zap.Int64("internal_id", internalID))
		return []models.LedgerEntry{}, nil
	}

	entries := []models.LedgerEntry{}
	err = s.db.SelectContext(ctx, &entries,
		`SELECT internal_id, event_ref, identity_ref, at, delta
		 FROM ledger_entries WHERE identity_ref = $1
		 ORDER BY at, internal_id`, internalID)
	return entries, err
}

// FindEntryByEvent returns the ledger entry recorded for an external event
// reference, or nil when none exists. Lets event-driven grants treat a
// redelivered platform event as a no-op.
func (s *Store) FindEntryByEvent(ctx context.Context, eventRef string) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.db.GetContext(ctx, &entry,
		`SELECT internal_id, event_ref, identity_ref, at, delta
		 FROM ledger_entries WHERE event_ref = $1
		 ORDER BY internal_id LIMIT 1`, eventRef)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// SumDeltas recomputes an identity's balance from its ledger entries.
// Diagnostic path for verifying the materialized balance invariant.
func (s *Store) SumDeltas(ctx context.Context, internalID int64) (int64, error) {
	var sum int64
	err := s.db.GetContext(ctx, &sum,
		"SELECT COALESCE(SUM(delta), 0) FROM ledger_entries WHERE identity_ref = $1", internalID)
	return sum, err
}
