package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"coin-bank/internal/models"
	"coin-bank/internal/store"
	"coin-bank/internal/util"
)

const eventDedupTTL = 24 * time.Hour

// Store is the persistence surface the coordinator composes. Implemented
// by *store.Store; tests substitute an in-memory fake.
type Store interface {
	Register(ctx context.Context, externalID string) (int64, bool, error)
	GetInternalID(ctx context.Context, externalID string) (int64, error)
	GetExternalID(ctx context.Context, internalID int64) (string, error)
	GetBalance(ctx context.Context, internalID int64) (int64, error)
	ApplyDelta(ctx context.Context, internalID, delta int64, eventRef string, at time.Time) (*models.LedgerEntry, error)
	CorrectEntry(ctx context.Context, entryID, newDelta int64) (int64, error)
	History(ctx context.Context, internalID int64) ([]models.LedgerEntry, error)
	FindEntryByEvent(ctx context.Context, eventRef string) (*models.LedgerEntry, error)

	RegisterItem(ctx context.Context, title, description, imageRef string, cost int64) (bool, error)
	UnregisterItem(ctx context.Context, title string) error
	FindItem(ctx context.Context, title string) (*models.ItemDefinition, error)
	GetItemByID(ctx context.Context, id int64) (*models.ItemDefinition, error)
	ListItems(ctx context.Context) ([]models.ItemDefinition, error)

	GetHolding(ctx context.Context, internalID, itemID int64) (int64, error)
	Grant(ctx context.Context, internalID, itemID, qty int64) error
	Consume(ctx context.Context, internalID, itemID, qty int64) error
	ListHoldings(ctx context.Context, internalID int64) ([]models.InventoryEntry, error)
	BuyItem(ctx context.Context, internalID, itemID int64, eventRef string, at time.Time) (*models.LedgerEntry, error)
}

// Cache is the balance cache / event fast path, implemented by
// redisclient.Client.
type Cache interface {
	GetBalance(ctx context.Context, internalID int64) (int64, bool, error)
	SetBalance(ctx context.Context, internalID, balance int64) error
	InvalidateBalance(ctx context.Context, internalID int64) error
	SeenEvent(ctx context.Context, eventRef string) (bool, error)
	MarkEvent(ctx context.Context, eventRef string, ttl time.Duration) error
}

// EventPublisher emits committed domain events for downstream adapters.
type EventPublisher interface {
	PublishCoinGranted(ctx context.Context, event *models.CoinGrantedEvent) error
	PublishItemPurchased(ctx context.Context, event *models.ItemPurchasedEvent) error
	PublishItemConsumed(ctx context.Context, event *models.ItemConsumedEvent) error
}

// BankService coordinates ledger, catalog and inventory operations. Each
// public method is one atomic step from the caller's point of view.
type BankService struct {
	store     Store
	cache     Cache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewBankService creates a new bank service
func NewBankService(st Store, cache Cache, publisher EventPublisher) *BankService {
	return &BankService{
		store:     st,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// RegisterResult reports a registration outcome
type RegisterResult struct {
	InternalID     int64 `json:"internal_id"`
	AlreadyExisted bool  `json:"already_existed"`
}

// Register registers an external identity, idempotently
func (s *BankService) Register(ctx context.Context, externalID string) (*RegisterResult, error) {
	ctx, span := util.StartSpan(ctx, "BankService.Register")
	defer span.End()

	id, existed, err := s.store.Register(ctx, externalID)
	if err != nil {
		return nil, err
	}

	if !existed {
		util.RegistrationsTotal.Inc()
		s.logger.Info("Identity registered",
			zap.String("external_id", externalID),
			zap.Int64("internal_id", id))
	}

	return &RegisterResult{InternalID: id, AlreadyExisted: existed}, nil
}

// GetBalance returns the balance for an identity, served from the cache
// when possible.
func (s *BankService) GetBalance(ctx context.Context, internalID int64) (int64, error) {
	if balance, ok, err := s.cache.GetBalance(ctx, internalID); err == nil && ok {
		util.BalanceCacheHits.Inc()
		return balance, nil
	} else if err != nil {
		s.logger.Warn("Balance cache read failed", zap.Error(err))
	}

	util.BalanceCacheMisses.Inc()
	balance, err := s.store.GetBalance(ctx, internalID)
	if err != nil {
		return 0, err
	}

	if err := s.cache.SetBalance(ctx, internalID, balance); err != nil {
		s.logger.Warn("Balance cache write failed", zap.Error(err))
	}
	return balance, nil
}

// GetBalanceByExternalID resolves the external id first; the balance
// command path of the chat adapter.
func (s *BankService) GetBalanceByExternalID(ctx context.Context, externalID string) (int64, error) {
	id, err := s.store.GetInternalID(ctx, externalID)
	if err != nil {
		return 0, err
	}
	return s.GetBalance(ctx, id)
}

// History returns the full ledger history for an identity
func (s *BankService) History(ctx context.Context, internalID int64) ([]models.LedgerEntry, error) {
	return s.store.History(ctx, internalID)
}

// Reward credits amount to an identity. When eventRef is set, a
// redelivered platform event is detected and ignored: first via the redis
// fast path, then authoritatively via the ledger's event_ref lookup.
func (s *BankService) Reward(ctx context.Context, internalID, amount int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	ctx, span := util.StartSpan(ctx, "BankService.Reward")
	defer span.End()

	if eventRef != "" {
		if seen, err := s.cache.SeenEvent(ctx, eventRef); err != nil {
			s.logger.Warn("Event dedup fast path unavailable", zap.Error(err))
		} else if seen {
			// Recently processed; confirm against the ledger. A cache hit
			// with no committed entry falls through to the grant.
			if existing, err := s.store.FindEntryByEvent(ctx, eventRef); err == nil && existing != nil {
				util.RewardsDedupedTotal.Inc()
				return existing, nil
			}
		}

		existing, err := s.store.FindEntryByEvent(ctx, eventRef)
		if err != nil {
			return nil, fmt.Errorf("failed to check event reference: %w", err)
		}
		if existing != nil {
			util.RewardsDedupedTotal.Inc()
			s.logger.Info("Duplicate reward event ignored",
				zap.String("event_ref", eventRef),
				zap.Int64("entry_id", existing.InternalID))
			return existing, nil
		}
	}

	entry, err := s.store.ApplyDelta(ctx, internalID, amount, eventRef, at)
	if err != nil {
		// Lost a race with a concurrent delivery of the same event; the
		// other writer's entry is the one that counts.
		if errors.Is(err, store.ErrDuplicateEvent) && eventRef != "" {
			if existing, ferr := s.store.FindEntryByEvent(ctx, eventRef); ferr == nil && existing != nil {
				util.RewardsDedupedTotal.Inc()
				return existing, nil
			}
		}
		return nil, err
	}

	util.RewardsGrantedTotal.Inc()
	s.invalidateBalance(ctx, internalID)
	if eventRef != "" {
		if err := s.cache.MarkEvent(ctx, eventRef, eventDedupTTL); err != nil {
			s.logger.Warn("Failed to mark processed event", zap.Error(err))
		}
	}

	event := &models.CoinGrantedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeCoinGranted),
		IdentityID: internalID,
		EntryID:    entry.InternalID,
		Amount:     amount,
		EventRef:   eventRef,
	}
	if err := s.publisher.PublishCoinGranted(ctx, event); err != nil {
		s.logger.Error("Failed to publish CoinGranted event", zap.Error(err))
	}

	return entry, nil
}

// Buy purchases one unit of an item: the coin debit and the inventory
// credit commit together or not at all.
func (s *BankService) Buy(ctx context.Context, internalID, itemID int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	ctx, span := util.StartSpan(ctx, "BankService.Buy")
	defer span.End()

	if eventRef != "" {
		existing, err := s.store.FindEntryByEvent(ctx, eventRef)
		if err != nil {
			return nil, fmt.Errorf("failed to check event reference: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate purchase event ignored",
				zap.String("event_ref", eventRef))
			return existing, nil
		}
	}

	entry, err := s.store.BuyItem(ctx, internalID, itemID, eventRef, at)
	if err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) && eventRef != "" {
			if existing, ferr := s.store.FindEntryByEvent(ctx, eventRef); ferr == nil && existing != nil {
				return existing, nil
			}
		}
		switch {
		case errors.Is(err, store.ErrItemNotFound):
			util.PurchasesFailedTotal.WithLabelValues("item_not_found").Inc()
		case errors.Is(err, store.ErrInsufficientBalance):
			util.PurchasesFailedTotal.WithLabelValues("insufficient_balance").Inc()
		case errors.Is(err, store.ErrNotRegistered):
			util.PurchasesFailedTotal.WithLabelValues("not_registered").Inc()
		default:
			util.PurchasesFailedTotal.WithLabelValues("storage_error").Inc()
		}
		return nil, err
	}

	util.PurchasesTotal.Inc()
	s.invalidateBalance(ctx, internalID)
	s.logger.Info("Item purchased",
		zap.Int64("internal_id", internalID),
		zap.Int64("item_id", itemID),
		zap.Int64("cost", -entry.Delta))

	event := &models.ItemPurchasedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeItemPurchased),
		IdentityID: internalID,
		ItemID:     itemID,
		Cost:       -entry.Delta,
		EntryID:    entry.InternalID,
	}
	if err := s.publisher.PublishItemPurchased(ctx, event); err != nil {
		s.logger.Error("Failed to publish ItemPurchased event", zap.Error(err))
	}

	return entry, nil
}

// Use consumes one unit of an item from an identity's inventory. The item
// need not still exist in the catalog: using a legacy item only decrements
// a count.
func (s *BankService) Use(ctx context.Context, internalID, itemID int64) error {
	ctx, span := util.StartSpan(ctx, "BankService.Use")
	defer span.End()

	if err := s.store.Consume(ctx, internalID, itemID, 1); err != nil {
		if errors.Is(err, store.ErrInsufficientHolding) {
			util.ConsumptionsFailedTotal.WithLabelValues("insufficient_holding").Inc()
		} else {
			util.ConsumptionsFailedTotal.WithLabelValues("storage_error").Inc()
		}
		return err
	}

	util.ConsumptionsTotal.Inc()

	event := &models.ItemConsumedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeItemConsumed),
		IdentityID: internalID,
		ItemID:     itemID,
	}
	if err := s.publisher.PublishItemConsumed(ctx, event); err != nil {
		s.logger.Error("Failed to publish ItemConsumed event", zap.Error(err))
	}

	return nil
}

// CorrectEntry is the administrative rewrite of one ledger entry
func (s *BankService) CorrectEntry(ctx context.Context, entryID, newDelta int64) error {
	owner, err := s.store.CorrectEntry(ctx, entryID, newDelta)
	if err != nil {
		return err
	}

	util.CorrectionsTotal.Inc()
	s.invalidateBalance(ctx, owner)
	s.logger.Info("Ledger entry corrected",
		zap.Int64("entry_id", entryID),
		zap.Int64("new_delta", newDelta))
	return nil
}

// RegisterItem validates adapter input and inserts the catalog entry.
// Returns false when the case-insensitive title is already taken.
func (s *BankService) RegisterItem(ctx context.Context, title, description, imageRef string, cost int64) (bool, error) {
	if cost < 0 {
		return false, store.ErrInvalidCost
	}
	if u, err := url.ParseRequestURI(imageRef); err != nil || u.Scheme == "" || u.Host == "" {
		return false, store.ErrInvalidReference
	}

	created, err := s.store.RegisterItem(ctx, title, description, imageRef, cost)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("Item registered", zap.String("title", title), zap.Int64("cost", cost))
	}
	return created, nil
}

// UnregisterItem removes a catalog entry; holdings survive
func (s *BankService) UnregisterItem(ctx context.Context, title string) error {
	return s.store.UnregisterItem(ctx, title)
}

// FindItem looks an item up by title, case-insensitively
func (s *BankService) FindItem(ctx context.Context, title string) (*models.ItemDefinition, error) {
	return s.store.FindItem(ctx, title)
}

// ListItems returns the whole catalog
func (s *BankService) ListItems(ctx context.Context) ([]models.ItemDefinition, error) {
	return s.store.ListItems(ctx)
}

// ListHoldings returns an identity's positive holdings
func (s *BankService) ListHoldings(ctx context.Context, internalID int64) ([]models.InventoryEntry, error) {
	return s.store.ListHoldings(ctx, internalID)
}

// GetHolding returns a single holding count
func (s *BankService) GetHolding(ctx context.Context, internalID, itemID int64) (int64, error) {
	return s.store.GetHolding(ctx, internalID, itemID)
}

// GrantItem is the administrative free grant of items, no debit involved
func (s *BankService) GrantItem(ctx context.Context, internalID, itemID, qty int64) error {
	if err := s.store.Grant(ctx, internalID, itemID, qty); err != nil {
		return err
	}
	s.logger.Info("Item granted",
		zap.Int64("internal_id", internalID),
		zap.Int64("item_id", itemID),
		zap.Int64("qty", qty))
	return nil
}

// GetExternalID resolves an internal id back to the platform identity
func (s *BankService) GetExternalID(ctx context.Context, internalID int64) (string, error) {
	return s.store.GetExternalID(ctx, internalID)
}

// GetInternalID resolves a platform identity to the internal id
func (s *BankService) GetInternalID(ctx context.Context, externalID string) (int64, error) {
	return s.store.GetInternalID(ctx, externalID)
}

func (s *BankService) invalidateBalance(ctx context.Context, internalID int64) {
	if err := s.cache.InvalidateBalance(ctx, internalID); err != nil {
		s.logger.Warn("Balance cache invalidation failed",
			zap.Int64("internal_id", internalID),
			zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
