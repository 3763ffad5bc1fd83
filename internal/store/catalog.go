package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"coin-bank/internal/models"
	"coin-bank/internal/util"
)

// NormalizeTitle is the canonical form used for case-insensitive title
// comparisons throughout the catalog.
func NormalizeTitle(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}

// RegisterItem inserts a catalog item. Returns false without error when an
// item with the same case-insensitive title already exists. Cost
// non-negativity is re-checked here regardless of what the adapter did.
func (s *Store) RegisterItem(ctx context.Context, title, description, imageRef string, cost int64) (bool, error) {
	if cost < 0 {
		return false, ErrInvalidCost
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO item_definitions (title, title_normalized, description, image_ref, cost)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (title_normalized) DO NOTHING`,
		title, NormalizeTitle(title), description, imageRef, cost)
	if err != nil {
		return false, fmt.Errorf("failed to register item: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// UnregisterItem removes the item matching the title case-insensitively.
// No-op when absent. Existing inventory holdings of the item survive.
func (s *Store) UnregisterItem(ctx context.Context, title string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM item_definitions WHERE title_normalized = $1", NormalizeTitle(title))
	if err != nil {
		return fmt.Errorf("failed to unregister item: %w", err)
	}
	return nil
}

// FindItem looks an item up by title, case-insensitively
func (s *Store) FindItem(ctx context.Context, title string) (*models.ItemDefinition, error) {
	var items []models.ItemDefinition
	err := s.db.SelectContext(ctx, &items,
		`SELECT internal_id, title, title_normalized, description, image_ref, cost
		 FROM item_definitions WHERE title_normalized = $1
		 ORDER BY internal_id`, NormalizeTitle(title))
	if err != nil {
		return nil, err
	}

	switch len(items) {
	case 0:
		return nil, ErrItemNotFound
	case 1:
		return &items[0], nil
	default:
		// Unreachable given the unique constraint; warn and use the first
		// match instead of failing the caller.
		util.GetLogger().Warn("duplicate item titles in catalog",
			zap.String("title", title),
			zap.Int("rows", len(items)))
		return &items[0], nil
	}
}

// GetItemByID retrieves an item by its internal id
func (s *Store) GetItemByID(ctx context.Context, id int64) (*models.ItemDefinition, error) {
	var item models.ItemDefinition
	err := s.db.GetContext(ctx, &item,
		`SELECT internal_id, title, title_normalized, description, image_ref, cost
		 FROM item_definitions WHERE internal_id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// ListItems retrieves the whole catalog in id order
func (s *Store) ListItems(ctx context.Context) ([]models.ItemDefinition, error) {
	items := []models.ItemDefinition{}
	err := s.db.SelectContext(ctx, &items,
		`SELECT internal_id, title, title_normalized, description, image_ref, cost
		 FROM item_definitions ORDER BY internal_id`)
	return items, err
}
