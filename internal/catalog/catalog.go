// Package catalog answers product lookups for the till: free-text search
// and barcode scans against one store's active inventory.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var ErrNotFound = errors.New("product not found")

type Service struct {
	store store.CatalogStore
}

func NewService(s store.CatalogStore) *Service {
	return &Service{store: s}
}

// NormalizeLimit applies the default for non-positive limits and the cap.
func NormalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

// Search returns active products of the store matching query on name, SKU
// or barcode. Exact code matches come first, then name prefixes, then other
// substring hits, ties ordered by name.
func (s *Service) Search(ctx context.Context, storeID, query, category string, limit int) ([]domain.ProductSummary, error) {
	products, err := s.store.SearchProducts(ctx, storeID, strings.TrimSpace(query), strings.TrimSpace(category), NormalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("search products: %w", err)
	}
	if products == nil {
		products = []domain.ProductSummary{}
	}
	return products, nil
}

// Scan resolves a scanned barcode (or typed SKU) to exactly one product.
func (s *Service) Scan(ctx context.Context, storeID, barcode string) (*domain.ProductSummary, error) {
	code := strings.TrimSpace(barcode)
	if code == "" {
		return nil, fmt.Errorf("%w: empty barcode", ErrNotFound)
	}
	p, err := s.store.GetProductByCode(ctx, storeID, code)
	if errors.Is(err, store.ErrProductNotFound) {
		return nil, fmt.Errorf("%w: barcode %q", ErrNotFound, code)
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return p, nil
}

// Get loads a product by id, including inactive ones. Callers decide whether
// an inactive product may be sold.
func (s *Service) Get(ctx context.Context, storeID string, productID int64) (*domain.ProductSummary, error) {
	p, err := s.store.GetProduct(ctx, storeID, productID)
	if errors.Is(err, store.ErrProductNotFound) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	return p, nil
}
