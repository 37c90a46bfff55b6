package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/cache"
	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/shopspring/decimal"
)

// recordingBroadcaster captures every event for assertions
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBroadcaster) Broadcast(_ string, event domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) ofType(t domain.EventType) []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []domain.Event
	for _, e := range b.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// mockCache implements cache.SessionCache in memory
type mockCache struct {
	m        sync.RWMutex
	sessions map[domain.SessionKey]*domain.Session
	err      error
	gets     int
	deletes  int
}

func newMockCache() *mockCache {
	return &mockCache{sessions: make(map[domain.SessionKey]*domain.Session)}
}

func (m *mockCache) Get(_ context.Context, key domain.SessionKey) (*domain.Session, error) {
	m.m.Lock()
	defer m.m.Unlock()
	m.gets++
	if m.err != nil {
		return nil, m.err
	}
	s, ok := m.sessions[key]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return s.Clone(), nil
}

func (m *mockCache) Set(_ context.Context, session *domain.Session) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.sessions[session.Key()] = session.Clone()
	return m.err
}

func (m *mockCache) Delete(_ context.Context, key domain.SessionKey) error {
	m.m.Lock()
	defer m.m.Unlock()
	m.deletes++
	delete(m.sessions, key)
	return m.err
}

// countingSessionStore counts how often the backing store is reached
type countingSessionStore struct {
	store.SessionStore
	mu    sync.Mutex
	calls int
}

func (c *countingSessionStore) GetOrCreateSession(ctx context.Context, fresh *domain.Session) (*domain.Session, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.SessionStore.GetOrCreateSession(ctx, fresh)
}

// ctxCheckingTransactions fails writes made on a cancelled context, the way
// a real database driver would.
type ctxCheckingTransactions struct {
	store.TransactionStore
}

func (c ctxCheckingTransactions) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.TransactionStore.CreateTransaction(ctx, tx)
}

// cancellingInventory cancels the caller's context once stock is taken.
type cancellingInventory struct {
	store.InventoryStore
	cancel context.CancelFunc
}

func (c cancellingInventory) Decrement(ctx context.Context, storeID string, items []domain.StockItem) error {
	err := c.InventoryStore.Decrement(ctx, storeID, items)
	c.cancel()
	return err
}

// racingTransactions commits a competing transaction for the same key right
// before the real insert, as another process would.
type racingTransactions struct {
	*store.MemoryStore
	once sync.Once
}

func (r *racingTransactions) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	r.once.Do(func() {
		winner := *tx
		winner.ID = "winner"
		_ = r.MemoryStore.CreateTransaction(ctx, &winner)
	})
	return r.MemoryStore.CreateTransaction(ctx, tx)
}

// failingTransactions rejects every insert
type failingTransactions struct {
	store.TransactionStore
	err error
}

func (f failingTransactions) CreateTransaction(context.Context, *domain.Transaction) error {
	return f.err
}

var (
	scopeA = domain.Scope{UserID: "kasir-1", TenantID: "T1", StoreID: "S1"}
	scopeB = domain.Scope{UserID: "kasir-2", TenantID: "T1", StoreID: "S1"}
)

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func moneyPtr(s string) *decimal.Decimal {
	d := money(s)
	return &d
}

type fixture struct {
	mem      *store.MemoryStore
	events   *recordingBroadcaster
	cache    *mockCache
	sessions *SessionManager
	catalog  *catalog.Service
	cart     *CartService
	payments *PaymentService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	inventory    store.InventoryStore
	transactions store.TransactionStore
	lockTimeout  time.Duration
}

func withLockTimeout(d time.Duration) fixtureOption {
	return func(c *fixtureConfig) { c.lockTimeout = d }
}

// newFixture wires the engine over a seeded in-memory store:
// SKU-1 @ 3500 (stock 10), SKU-2 @ 12000 (stock 1), SKU-3 @ 2000 (stock 5),
// SKU-4 inactive.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })

	mem.AddProduct(domain.ProductSummary{ID: 1, StoreID: "S1", Name: "Kopi Susu", SKU: "SKU-1", Barcode: "8990001", Price: money("3500"), Active: true}, 10)
	mem.AddProduct(domain.ProductSummary{ID: 2, StoreID: "S1", Name: "Gula Aren 1kg", SKU: "SKU-2", Barcode: "8990002", Price: money("12000"), Active: true}, 1)
	mem.AddProduct(domain.ProductSummary{ID: 3, StoreID: "S1", Name: "Roti Tawar", SKU: "SKU-3", Barcode: "8990003", Price: money("2000"), Active: true}, 5)
	mem.AddProduct(domain.ProductSummary{ID: 4, StoreID: "S1", Name: "Teh Lama", SKU: "SKU-4", Barcode: "8990004", Price: money("1000"), Active: false}, 5)

	cfg := &fixtureConfig{inventory: mem, transactions: mem, lockTimeout: time.Second}
	for _, opt := range opts {
		opt(cfg)
	}

	events := &recordingBroadcaster{}
	c := newMockCache()
	sessions := NewSessionManager(mem,
		WithSessionCache(c),
		WithLockTimeout(cfg.lockTimeout),
		WithBroadcaster(events))
	cat := catalog.NewService(mem)
	cart := NewCartService(sessions, cat)
	payments := NewPaymentService(cat, cfg.inventory, cfg.transactions, sessions, cart, PaymentConfig{
		LockTimeout:     cfg.lockTimeout,
		FinalizeTimeout: time.Second,
	})

	return &fixture{
		mem:      mem,
		events:   events,
		cache:    c,
		sessions: sessions,
		catalog:  cat,
		cart:     cart,
		payments: payments,
	}
}

func (f *fixture) stock(t *testing.T, productID int64) int {
	t.Helper()
	qty, err := f.mem.GetStock("S1", productID)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return qty
}

func cashPayment(key, tendered string, lines ...domain.PaymentLine) *domain.PaymentRequest {
	return &domain.PaymentRequest{
		IdempotencyKey: key,
		Method:         domain.PaymentCash,
		AmountTendered: money(tendered),
		Lines:          lines,
	}
}

func line(productID int64, qty int, price string) domain.PaymentLine {
	return domain.PaymentLine{ProductID: productID, Quantity: qty, UnitPrice: money(price)}
}
