package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"coin-bank/internal/models"
)

// GetHolding returns how many of an item an identity owns, 0 when no row
func (s *Store) GetHolding(ctx context.Context, internalID, itemID int64) (int64, error) {
	var count int64
	err := s.db.GetContext(ctx, &count,
		"SELECT count FROM inventory_entries WHERE identity_ref = $1 AND item_ref = $2",
		internalID, itemID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return count, err
}

// Grant increments a holding by qty, creating the row if absent.
func (s *Store) Grant(ctx context.Context, internalID, itemID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("grant quantity must be positive, got %d", qty)
	}
	return s.Transact(ctx, func(tx *sqlx.Tx) error {
		return grantTx(ctx, tx, internalID, itemID, qty)
	})
}

// grantTx is the tx-scoped credit step shared with BuyItem. The item's
// existence is checked in the same transaction since inventory_entries has
// no FK on item_ref (unregistered items keep their holdings).
func grantTx(ctx context.Context, tx *sqlx.Tx, internalID, itemID, qty int64) error {
	var exists bool
	err := tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM item_definitions WHERE internal_id = $1)", itemID)
	if err != nil {
		return fmt.Errorf("failed to check item: %w", err)
	}
	if !exists {
		return ErrItemNotFound
	}

	err = tx.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM identities WHERE internal_id = $1)", internalID)
	if err != nil {
		return fmt.Errorf("failed to check identity: %w", err)
	}
	if !exists {
		return ErrNotRegistered
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO inventory_entries (item_ref, identity_ref, count)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (item_ref, identity_ref)
		 DO UPDATE SET count = inventory_entries.count + EXCLUDED.count`,
		itemID, internalID, qty)
	if err != nil {
		return fmt.Errorf("failed to upsert holding: %w", err)
	}
	return nil
}

// Consume decrements a holding by qty only when the current holding covers
// it. The guarded single-statement update makes the check-then-decrement
// atomic against concurrent grants and consumes on the same row.
func (s *Store) Consume(ctx context.Context, internalID, itemID, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("consume quantity must be positive, got %d", qty)
	}
	return s.Transact(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE inventory_entries SET count = count - $1
			 WHERE identity_ref = $2 AND item_ref = $3 AND count >= $1`,
			qty, internalID, itemID)
		if err != nil {
			return fmt.Errorf("failed to decrement holding: %w", err)
		}

		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrInsufficientHolding
		}

		// Prune emptied rows.
		_, err = tx.ExecContext(ctx,
			`DELETE FROM inventory_entries
			 WHERE identity_ref = $1 AND item_ref = $2 AND count = 0`,
			internalID, itemID)
		return err
	})
}

// ListHoldings returns all positive holdings for an identity
func (s *Store) ListHoldings(ctx context.Context, internalID int64) ([]models.InventoryEntry, error) {
	entries := []models.InventoryEntry{}
	err := s.db.SelectContext(ctx, &entries,
		`SELECT item_ref, identity_ref, count FROM inventory_entries
		 WHERE identity_ref = $1 AND count > 0
		 ORDER BY item_ref`, internalID)
	return entries, err
}

// BuyItem debits the item's cost from the identity and credits one unit of
// the item to its inventory as a single transaction. Either both effects
// commit or neither does.
func (s *Store) BuyItem(ctx context.Context, internalID, itemID int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	err := s.Transact(ctx, func(tx *sqlx.Tx) error {
		var cost int64
		err := tx.GetContext(ctx, &cost,
			"SELECT cost FROM item_definitions WHERE internal_id = $1", itemID)
		if err == sql.ErrNoRows {
			return ErrItemNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load item cost: %w", err)
		}

		entry, err = applyDeltaTx(ctx, tx, internalID, -cost, eventRef, at)
		if err != nil {
			return err
		}

		return grantTx(ctx, tx, internalID, itemID, 1)
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
