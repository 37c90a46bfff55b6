package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
)

const (
	// SessionTTL is how long an untouched cart survives before it is dropped
	SessionTTL = 30 * 24 * time.Hour

	// CleanupInterval is how often the background cleanup runs
	CleanupInterval = 10 * time.Minute
)

type productKey struct {
	storeID   string
	productID int64
}

type idempotencyKey struct {
	storeID string
	key     string
}

// stockEntry carries its own lock so that decrements of different products
// never wait on each other.
type stockEntry struct {
	mu       sync.Mutex
	quantity int
}

// MemoryStore implements every store interface in process memory.
// It backs STORAGE=memory and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[productKey]domain.ProductSummary
	stocks   map[productKey]*stockEntry

	txMu         sync.Mutex
	transactions map[string]*domain.Transaction
	byKey        map[idempotencyKey]string
	counters     map[string]int64

	sessMu   sync.Mutex
	sessions map[domain.SessionKey]*domain.Session

	stopCleanup chan struct{}
	wg          sync.WaitGroup
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		products:     make(map[productKey]domain.ProductSummary),
		stocks:       make(map[productKey]*stockEntry),
		transactions: make(map[string]*domain.Transaction),
		byKey:        make(map[idempotencyKey]string),
		counters:     make(map[string]int64),
		sessions:     make(map[domain.SessionKey]*domain.Session),
		stopCleanup:  make(chan struct{}),
	}

	// Start background cleanup goroutine
	s.wg.Add(1)
	go s.cleanupLoop()

	return s
}

// cleanupLoop periodically drops carts nobody touched within SessionTTL
func (s *MemoryStore) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.expireSessions(time.Now())
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *MemoryStore) expireSessions(now time.Time) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()
	for key, session := range s.sessions {
		if now.Sub(session.UpdatedAt) > SessionTTL {
			delete(s.sessions, key)
		}
	}
}

// AddProduct registers a product in a store and sets its stock level.
func (s *MemoryStore) AddProduct(p domain.ProductSummary, quantity int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := productKey{p.StoreID, p.ID}
	s.products[key] = p
	s.stocks[key] = &stockEntry{quantity: quantity}
}

// SetStock sets the stock level for a product
func (s *MemoryStore) SetStock(storeID string, productID int64, quantity int) error {
	entry, ok := s.stockEntry(storeID, productID)
	if !ok {
		return ErrProductNotFound
	}
	entry.mu.Lock()
	entry.quantity = quantity
	entry.mu.Unlock()
	return nil
}

// GetStock returns the current stock level for a product
func (s *MemoryStore) GetStock(storeID string, productID int64) (int, error) {
	entry, ok := s.stockEntry(storeID, productID)
	if !ok {
		return 0, ErrProductNotFound
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.quantity, nil
}

func (s *MemoryStore) stockEntry(storeID string, productID int64) (*stockEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.stocks[productKey{storeID, productID}]
	return entry, ok
}

func (s *MemoryStore) summary(key productKey) domain.ProductSummary {
	p := s.products[key]
	if entry, ok := s.stocks[key]; ok {
		entry.mu.Lock()
		p.AvailableStock = entry.quantity
		entry.mu.Unlock()
	}
	return p
}

func (s *MemoryStore) SearchProducts(_ context.Context, storeID, query, category string, limit int) ([]domain.ProductSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type ranked struct {
		p    domain.ProductSummary
		rank int
	}
	var matches []ranked
	for key, p := range s.products {
		if key.storeID != storeID || !p.Active {
			continue
		}
		if category != "" && !strings.EqualFold(p.Category, category) {
			continue
		}
		rank := MatchRank(p, query)
		if rank < 0 {
			continue
		}
		matches = append(matches, ranked{s.summary(key), rank})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].rank != matches[j].rank {
			return matches[i].rank < matches[j].rank
		}
		if matches[i].p.Name != matches[j].p.Name {
			return matches[i].p.Name < matches[j].p.Name
		}
		return matches[i].p.ID < matches[j].p.ID
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	result := make([]domain.ProductSummary, len(matches))
	for i, m := range matches {
		result[i] = m.p
	}
	return result, nil
}

// MatchRank orders search hits: 0 for an exact barcode or SKU, 1 for a name
// prefix, 2 for any other substring hit, -1 for no match.
// An empty query matches everything with rank 2.
func MatchRank(p domain.ProductSummary, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 2
	}
	name := strings.ToLower(p.Name)
	switch {
	case strings.ToLower(p.Barcode) == q || strings.ToLower(p.SKU) == q:
		return 0
	case strings.HasPrefix(name, q):
		return 1
	case strings.Contains(name, q),
		strings.Contains(strings.ToLower(p.SKU), q),
		strings.Contains(strings.ToLower(p.Barcode), q):
		return 2
	}
	return -1
}

func (s *MemoryStore) GetProductByCode(_ context.Context, storeID, code string) (*domain.ProductSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for key, p := range s.products {
		if key.storeID != storeID || !p.Active {
			continue
		}
		if p.Barcode == code || p.SKU == code {
			found := s.summary(key)
			return &found, nil
		}
	}
	return nil, ErrProductNotFound
}

func (s *MemoryStore) GetProduct(_ context.Context, storeID string, productID int64) (*domain.ProductSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := productKey{storeID, productID}
	if _, ok := s.products[key]; !ok {
		return nil, ErrProductNotFound
	}
	found := s.summary(key)
	return &found, nil
}

// Decrement applies a compare-and-decrement per line and puts back
// everything already applied when a line cannot be covered.
func (s *MemoryStore) Decrement(ctx context.Context, storeID string, items []domain.StockItem) error {
	applied := make([]domain.StockItem, 0, len(items))
	for _, item := range items {
		if err := s.decrementOne(storeID, item); err != nil {
			if restoreErr := s.Restore(ctx, storeID, applied); restoreErr != nil {
				return restoreErr
			}
			return err
		}
		applied = append(applied, item)
	}
	return nil
}

func (s *MemoryStore) decrementOne(storeID string, item domain.StockItem) error {
	entry, ok := s.stockEntry(storeID, item.ProductID)
	if !ok {
		return ErrProductNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.quantity < item.Quantity {
		return &StockConflictError{
			ProductID: item.ProductID,
			Requested: item.Quantity,
			Available: entry.quantity,
		}
	}
	entry.quantity -= item.Quantity
	return nil
}

func (s *MemoryStore) Restore(_ context.Context, storeID string, items []domain.StockItem) error {
	for _, item := range items {
		entry, ok := s.stockEntry(storeID, item.ProductID)
		if !ok {
			return ErrProductNotFound
		}
		entry.mu.Lock()
		entry.quantity += item.Quantity
		entry.mu.Unlock()
	}
	return nil
}

func (s *MemoryStore) CreateTransaction(_ context.Context, tx *domain.Transaction) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	idem := idempotencyKey{tx.StoreID, tx.IdempotencyKey}
	if _, exists := s.byKey[idem]; exists {
		return ErrDuplicateIdempotencyKey
	}

	s.counters[tx.StoreID]++
	tx.Sequence = s.counters[tx.StoreID]
	tx.TransactionNumber = domain.FormatTransactionNumber(tx.StoreID, tx.CreatedAt, tx.Sequence)

	stored := *tx
	stored.Items = append([]domain.TransactionItem(nil), tx.Items...)
	s.transactions[tx.ID] = &stored
	s.byKey[idem] = tx.ID
	return nil
}

func (s *MemoryStore) GetTransaction(_ context.Context, storeID, id string) (*domain.Transaction, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx, ok := s.transactions[id]
	if !ok || tx.StoreID != storeID {
		return nil, ErrTransactionNotFound
	}
	found := *tx
	return &found, nil
}

func (s *MemoryStore) GetTransactionByIdempotencyKey(ctx context.Context, storeID, key string) (*domain.Transaction, error) {
	s.txMu.Lock()
	id, ok := s.byKey[idempotencyKey{storeID, key}]
	s.txMu.Unlock()
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return s.GetTransaction(ctx, storeID, id)
}

// TransactionCount returns how many transactions a store has committed
func (s *MemoryStore) TransactionCount(storeID string) int {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	n := 0
	for _, tx := range s.transactions {
		if tx.StoreID == storeID {
			n++
		}
	}
	return n
}

func (s *MemoryStore) GetOrCreateSession(_ context.Context, fresh *domain.Session) (*domain.Session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	key := fresh.Key()
	if existing, ok := s.sessions[key]; ok {
		return existing.Clone(), nil
	}
	s.sessions[key] = fresh.Clone()
	return fresh.Clone(), nil
}

func (s *MemoryStore) GetSession(_ context.Context, key domain.SessionKey) (*domain.Session, error) {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	session, ok := s.sessions[key]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (s *MemoryStore) SaveSession(_ context.Context, session *domain.Session) error {
	s.sessMu.Lock()
	defer s.sessMu.Unlock()

	s.sessions[session.Key()] = session.Clone()
	return nil
}

// Close stops the background cleanup and waits for it to finish
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	s.wg.Wait()
	return nil
}
