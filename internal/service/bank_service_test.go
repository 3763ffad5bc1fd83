package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-bank/internal/models"
	"coin-bank/internal/store"
)

// memStore is a mutex-guarded in-memory Store. Its compound operations
// hold the lock across check and mutation, matching the transactional
// guarantees of the SQL implementation.
type memStore struct {
	mu         sync.Mutex
	nextID     int64
	nextEntry  int64
	nextItem   int64
	byExternal map[string]int64
	byInternal map[int64]*models.Identity
	entries    []*models.LedgerEntry
	items      map[int64]*models.ItemDefinition
	holdings   map[[2]int64]int64 // [identity, item] -> count
}

func newMemStore() *memStore {
	return &memStore{
		byExternal: make(map[string]int64),
		byInternal: make(map[int64]*models.Identity),
		items:      make(map[int64]*models.ItemDefinition),
		holdings:   make(map[[2]int64]int64),
	}
}

func (m *memStore) Register(_ context.Context, externalID string) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.byExternal[externalID]; ok {
		return id, true, nil
	}
	m.nextID++
	m.byExternal[externalID] = m.nextID
	m.byInternal[m.nextID] = &models.Identity{InternalID: m.nextID, ExternalID: externalID}
	return m.nextID, false, nil
}

func (m *memStore) GetInternalID(_ context.Context, externalID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byExternal[externalID]
	if !ok {
		return 0, store.ErrNotRegistered
	}
	return id, nil
}

func (m *memStore) GetExternalID(_ context.Context, internalID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byInternal[internalID]
	if !ok {
		return "", store.ErrNotRegistered
	}
	return ident.ExternalID, nil
}

func (m *memStore) GetBalance(_ context.Context, internalID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ident, ok := m.byInternal[internalID]
	if !ok {
		return 0, store.ErrNotRegistered
	}
	return ident.Balance, nil
}

func (m *memStore) applyDeltaLocked(internalID, delta int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	ident, ok := m.byInternal[internalID]
	if !ok {
		return nil, store.ErrNotRegistered
	}
	if delta < 0 && ident.Balance+delta < 0 {
		return nil, store.ErrInsufficientBalance
	}
	if eventRef != "" {
		for _, e := range m.entries {
			if e.EventRef != nil && *e.EventRef == eventRef {
				return nil, store.ErrDuplicateEvent
			}
		}
	}
	m.nextEntry++
	entry := &models.LedgerEntry{
		InternalID:  m.nextEntry,
		IdentityRef: internalID,
		At:          at,
		Delta:       delta,
	}
	if eventRef != "" {
		ref := eventRef
		entry.EventRef = &ref
	}
	m.entries = append(m.entries, entry)
	ident.Balance += delta
	return entry, nil
}

func (m *memStore) ApplyDelta(_ context.Context, internalID, delta int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyDeltaLocked(internalID, delta, eventRef, at)
}

func (m *memStore) CorrectEntry(_ context.Context, entryID, newDelta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.InternalID == entryID {
			m.byInternal[e.IdentityRef].Balance += newDelta - e.Delta
			e.Delta = newDelta
			return e.IdentityRef, nil
		}
	}
	return 0, store.ErrEntryNotFound
}

func (m *memStore) History(_ context.Context, internalID int64) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.LedgerEntry{}
	for _, e := range m.entries {
		if e.IdentityRef == internalID {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (m *memStore) FindEntryByEvent(_ context.Context, eventRef string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.EventRef != nil && *e.EventRef == eventRef {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) RegisterItem(_ context.Context, title, description, imageRef string, cost int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cost < 0 {
		return false, store.ErrInvalidCost
	}
	norm := store.NormalizeTitle(title)
	for _, item := range m.items {
		if item.TitleNormalized == norm {
			return false, nil
		}
	}
	m.nextItem++
	m.items[m.nextItem] = &models.ItemDefinition{
		InternalID:      m.nextItem,
		Title:           title,
		TitleNormalized: norm,
		Description:     description,
		ImageRef:        imageRef,
		Cost:            cost,
	}
	return true, nil
}

func (m *memStore) UnregisterItem(_ context.Context, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := store.NormalizeTitle(title)
	for id, item := range m.items {
		if item.TitleNormalized == norm {
			delete(m.items, id)
		}
	}
	return nil
}

func (m *memStore) FindItem(_ context.Context, title string) (*models.ItemDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	norm := store.NormalizeTitle(title)
	for _, item := range m.items {
		if item.TitleNormalized == norm {
			cp := *item
			return &cp, nil
		}
	}
	return nil, store.ErrItemNotFound
}

func (m *memStore) GetItemByID(_ context.Context, id int64) (*models.ItemDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *memStore) ListItems(_ context.Context) ([]models.ItemDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.ItemDefinition{}
	for id := int64(1); id <= m.nextItem; id++ {
		if item, ok := m.items[id]; ok {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (m *memStore) GetHolding(_ context.Context, internalID, itemID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.holdings[[2]int64{internalID, itemID}], nil
}

func (m *memStore) Grant(_ context.Context, internalID, itemID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.grantLocked(internalID, itemID, qty)
}

func (m *memStore) grantLocked(internalID, itemID, qty int64) error {
	if _, ok := m.byInternal[internalID]; !ok {
		return store.ErrNotRegistered
	}
	if _, ok := m.items[itemID]; !ok {
		return store.ErrItemNotFound
	}
	m.holdings[[2]int64{internalID, itemID}] += qty
	return nil
}

func (m *memStore) Consume(_ context.Context, internalID, itemID, qty int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{internalID, itemID}
	if m.holdings[key] < qty {
		return store.ErrInsufficientHolding
	}
	m.holdings[key] -= qty
	if m.holdings[key] == 0 {
		delete(m.holdings, key)
	}
	return nil
}

func (m *memStore) ListHoldings(_ context.Context, internalID int64) ([]models.InventoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.InventoryEntry{}
	for key, count := range m.holdings {
		if key[0] == internalID && count > 0 {
			out = append(out, models.InventoryEntry{ItemRef: key[1], IdentityRef: internalID, Count: count})
		}
	}
	return out, nil
}

func (m *memStore) BuyItem(_ context.Context, internalID, itemID int64, eventRef string, at time.Time) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[itemID]
	if !ok {
		return nil, store.ErrItemNotFound
	}
	entry, err := m.applyDeltaLocked(internalID, -item.Cost, eventRef, at)
	if err != nil {
		return nil, err
	}
	if err := m.grantLocked(internalID, itemID, 1); err != nil {
		// Roll the debit back so failure leaves no partial state, as the
		// SQL transaction does.
		m.byInternal[internalID].Balance += item.Cost
		m.entries = m.entries[:len(m.entries)-1]
		return nil, err
	}
	return entry, nil
}

// memCache is an in-memory Cache
type memCache struct {
	mu       sync.Mutex
	balances map[int64]int64
	events   map[string]bool
}

func newMemCache() *memCache {
	return &memCache{balances: make(map[int64]int64), events: make(map[string]bool)}
}

func (c *memCache) GetBalance(_ context.Context, internalID int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	bal, ok := c.balances[internalID]
	return bal, ok, nil
}

func (c *memCache) SetBalance(_ context.Context, internalID, balance int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[internalID] = balance
	return nil
}

func (c *memCache) InvalidateBalance(_ context.Context, internalID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.balances, internalID)
	return nil
}

func (c *memCache) SeenEvent(_ context.Context, eventRef string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[eventRef], nil
}

func (c *memCache) MarkEvent(_ context.Context, eventRef string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events[eventRef] = true
	return nil
}

// nopPublisher records published events
type nopPublisher struct {
	mu        sync.Mutex
	granted   int
	purchased int
	consumed  int
}

func (p *nopPublisher) PublishCoinGranted(_ context.Context, _ *models.CoinGrantedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.granted++
	return nil
}

func (p *nopPublisher) PublishItemPurchased(_ context.Context, _ *models.ItemPurchasedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.purchased++
	return nil
}

func (p *nopPublisher) PublishItemConsumed(_ context.Context, _ *models.ItemConsumedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed++
	return nil
}

func newTestBank() (*BankService, *memStore, *memCache, *nopPublisher) {
	st := newMemStore()
	cache := newMemCache()
	pub := &nopPublisher{}
	return NewBankService(st, cache, pub), st, cache, pub
}

func registerItem(t *testing.T, bank *BankService, title string, cost int64) int64 {
	t.Helper()
	created, err := bank.RegisterItem(context.Background(), title, "test item", "https://cdn.example.com/item.png", cost)
	require.NoError(t, err)
	require.True(t, created)
	item, err := bank.FindItem(context.Background(), title)
	require.NoError(t, err)
	return item.InternalID
}

func TestRegisterIsIdempotent(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	first, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, first.AlreadyExisted)

	second, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, second.AlreadyExisted)
	assert.Equal(t, first.InternalID, second.InternalID)

	history, err := bank.History(ctx, first.InternalID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestRewardAccumulatesBalance(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	_, err = bank.Reward(ctx, reg.InternalID, 50, "", time.Now())
	require.NoError(t, err)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	_, err = bank.Reward(ctx, reg.InternalID, -20, "", time.Now())
	require.NoError(t, err)

	balance, err = bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestBalanceMatchesHistorySum(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	deltas := []int64{100, -30, 25, -15}
	for _, d := range deltas {
		_, err := bank.Reward(ctx, reg.InternalID, d, "", time.Now())
		require.NoError(t, err)
	}

	history, err := bank.History(ctx, reg.InternalID)
	require.NoError(t, err)

	var sum int64
	for _, e := range history {
		sum += e.Delta
	}

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, sum, balance)
}

func TestRewardDeduplicatesEventRef(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	first, err := bank.Reward(ctx, reg.InternalID, 10, "msg-42", time.Now())
	require.NoError(t, err)

	second, err := bank.Reward(ctx, reg.InternalID, 10, "msg-42", time.Now())
	require.NoError(t, err)
	assert.Equal(t, first.InternalID, second.InternalID)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), balance)

	history, err := bank.History(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRewardRejectsOverdraft(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	_, err = bank.Reward(ctx, reg.InternalID, 30, "", time.Now())
	require.NoError(t, err)

	_, err = bank.Reward(ctx, reg.InternalID, -50, "", time.Now())
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)
}

func TestCorrectionMayGoNegative(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	entry, err := bank.Reward(ctx, reg.InternalID, 30, "", time.Now())
	require.NoError(t, err)

	err = bank.CorrectEntry(ctx, entry.InternalID, -10)
	require.NoError(t, err)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(-10), balance)
}

func TestCorrectEntryNotFound(t *testing.T) {
	bank, _, _, _ := newTestBank()
	err := bank.CorrectEntry(context.Background(), 999, 5)
	assert.ErrorIs(t, err, store.ErrEntryNotFound)
}

func TestBuyInsufficientBalance(t *testing.T) {
	bank, _, _, pub := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	itemID := registerItem(t, bank, "Sword", 50)

	_, err = bank.Reward(ctx, reg.InternalID, 30, "", time.Now())
	require.NoError(t, err)

	_, err = bank.Buy(ctx, reg.InternalID, itemID, "", time.Now())
	assert.ErrorIs(t, err, store.ErrInsufficientBalance)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(30), balance)

	holding, err := bank.GetHolding(ctx, reg.InternalID, itemID)
	require.NoError(t, err)
	assert.Zero(t, holding)
	assert.Zero(t, pub.purchased)
}

func TestBuySuccess(t *testing.T) {
	bank, _, _, pub := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	itemID := registerItem(t, bank, "Sword", 10)

	_, err = bank.Reward(ctx, reg.InternalID, 30, "", time.Now())
	require.NoError(t, err)

	entry, err := bank.Buy(ctx, reg.InternalID, itemID, "", time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(-10), entry.Delta)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(20), balance)

	holding, err := bank.GetHolding(ctx, reg.InternalID, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), holding)
	assert.Equal(t, 1, pub.purchased)
}

func TestBuyItemNotFound(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)

	_, err = bank.Buy(ctx, reg.InternalID, 404, "", time.Now())
	assert.ErrorIs(t, err, store.ErrItemNotFound)
}

func TestUseDrainsHolding(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	itemID := registerItem(t, bank, "Potion", 5)

	require.NoError(t, bank.GrantItem(ctx, reg.InternalID, itemID, 1))

	require.NoError(t, bank.Use(ctx, reg.InternalID, itemID))

	holding, err := bank.GetHolding(ctx, reg.InternalID, itemID)
	require.NoError(t, err)
	assert.Zero(t, holding)

	err = bank.Use(ctx, reg.InternalID, itemID)
	assert.ErrorIs(t, err, store.ErrInsufficientHolding)
}

func TestUseSurvivesCatalogDeletion(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	itemID := registerItem(t, bank, "Potion", 5)

	require.NoError(t, bank.GrantItem(ctx, reg.InternalID, itemID, 2))
	require.NoError(t, bank.UnregisterItem(ctx, "potion"))

	// Consuming a legacy item only decrements a count; the catalog entry
	// being gone must not matter.
	require.NoError(t, bank.Use(ctx, reg.InternalID, itemID))

	holding, err := bank.GetHolding(ctx, reg.InternalID, itemID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), holding)
}

func TestConcurrentUseSingleWinner(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	itemID := registerItem(t, bank, "Potion", 5)
	require.NoError(t, bank.GrantItem(ctx, reg.InternalID, itemID, 1))

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- bank.Use(ctx, reg.InternalID, itemID)
		}()
	}
	wg.Wait()
	close(results)

	var successes, failures int
	for err := range results {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, store.ErrInsufficientHolding)
			failures++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, failures)

	holding, err := bank.GetHolding(ctx, reg.InternalID, itemID)
	require.NoError(t, err)
	assert.Zero(t, holding)
}

func TestCatalogTitleCaseInsensitive(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	created, err := bank.RegisterItem(ctx, "Sword", "a sword", "https://cdn.example.com/sword.png", 10)
	require.NoError(t, err)
	assert.True(t, created)

	lower, err := bank.FindItem(ctx, "sword")
	require.NoError(t, err)
	upper, err := bank.FindItem(ctx, "SWORD")
	require.NoError(t, err)
	assert.Equal(t, lower.InternalID, upper.InternalID)

	dup, err := bank.RegisterItem(ctx, "sword", "another", "https://cdn.example.com/sword2.png", 20)
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestRegisterItemValidation(t *testing.T) {
	bank, _, _, _ := newTestBank()
	ctx := context.Background()

	_, err := bank.RegisterItem(ctx, "Sword", "a sword", "https://cdn.example.com/sword.png", -1)
	assert.ErrorIs(t, err, store.ErrInvalidCost)

	_, err = bank.RegisterItem(ctx, "Sword", "a sword", "not a url", 10)
	assert.ErrorIs(t, err, store.ErrInvalidReference)
}

func TestGetBalanceUsesCache(t *testing.T) {
	bank, st, cache, _ := newTestBank()
	ctx := context.Background()

	reg, err := bank.Register(ctx, "u1")
	require.NoError(t, err)
	_, err = bank.Reward(ctx, reg.InternalID, 40, "", time.Now())
	require.NoError(t, err)

	balance, err := bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	// Poison the store; a cached read must not notice.
	st.mu.Lock()
	st.byInternal[reg.InternalID].Balance = 0
	st.mu.Unlock()

	balance, err = bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(40), balance)

	// Invalidation happens on the next mutation path.
	require.NoError(t, cache.InvalidateBalance(ctx, reg.InternalID))
	balance, err = bank.GetBalance(ctx, reg.InternalID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestBalanceNotRegistered(t *testing.T) {
	bank, _, _, _ := newTestBank()
	_, err := bank.GetBalance(context.Background(), 123)
	assert.ErrorIs(t, err, store.ErrNotRegistered)
}
