package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
)

// Common errors returned by the stores
var (
	ErrProductNotFound         = errors.New("product not found")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrDuplicateIdempotencyKey = errors.New("transaction for this idempotency key already exists")
	ErrSessionNotFound         = errors.New("session not found")
)

// StockConflictError names the line that could not be taken out of stock.
type StockConflictError struct {
	ProductID int64
	Requested int
	Available int
}

func (e *StockConflictError) Error() string {
	return fmt.Sprintf("insufficient stock for product %d: requested %d, available %d",
		e.ProductID, e.Requested, e.Available)
}

func (e *StockConflictError) Unwrap() error {
	return ErrInsufficientStock
}

// CatalogStore is the read side of the store's product inventory.
type CatalogStore interface {
	// SearchProducts matches name, SKU or barcode among active products,
	// best match first, then by name.
	SearchProducts(ctx context.Context, storeID, query, category string, limit int) ([]domain.ProductSummary, error)

	// GetProductByCode finds an active product by exact barcode or SKU.
	GetProductByCode(ctx context.Context, storeID, code string) (*domain.ProductSummary, error)

	GetProduct(ctx context.Context, storeID string, productID int64) (*domain.ProductSummary, error)
}

// InventoryStore mutates stock counts shared by every session of a store.
type InventoryStore interface {
	// Decrement takes every item out of stock or none of them.
	// A line that cannot be covered yields a *StockConflictError after all
	// lines applied before it have been put back.
	Decrement(ctx context.Context, storeID string, items []domain.StockItem) error

	// Restore puts items back into stock.
	Restore(ctx context.Context, storeID string, items []domain.StockItem) error
}

type TransactionStore interface {
	// CreateTransaction assigns the store-scoped sequence and number and
	// persists tx. A second transaction with the same store and idempotency
	// key yields ErrDuplicateIdempotencyKey.
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	GetTransaction(ctx context.Context, storeID, id string) (*domain.Transaction, error)
	GetTransactionByIdempotencyKey(ctx context.Context, storeID, key string) (*domain.Transaction, error)
}

type SessionStore interface {
	// GetOrCreateSession returns the open session for fresh's key, storing
	// fresh when there is none.
	GetOrCreateSession(ctx context.Context, fresh *domain.Session) (*domain.Session, error)
	GetSession(ctx context.Context, key domain.SessionKey) (*domain.Session, error)
	SaveSession(ctx context.Context, session *domain.Session) error
}
