package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
)

// mergeStockItems sums quantities of repeated products, keeping the order in
// which products first appear. A product totalling more than MaxQuantity is
// an invalid payment.
func mergeStockItems(items []domain.TransactionItem) ([]domain.StockItem, error) {
	index := make(map[int64]int, len(items))
	merged := make([]domain.StockItem, 0, len(items))
	for _, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity {
			return nil, invalidPayment("product %d: quantity must be between 1 and %d", item.ProductID, MaxQuantity)
		}
		if i, ok := index[item.ProductID]; ok {
			if merged[i].Quantity > MaxQuantity-item.Quantity {
				return nil, invalidPayment("product %d: total quantity exceeds %d", item.ProductID, MaxQuantity)
			}
			merged[i].Quantity += item.Quantity
			continue
		}
		index[item.ProductID] = len(merged)
		merged = append(merged, domain.StockItem{ProductID: item.ProductID, Quantity: item.Quantity})
	}
	return merged, nil
}

func (s *PaymentService) reserveStock(ctx context.Context, storeID string, items []domain.StockItem) error {
	err := s.inventory.Decrement(ctx, storeID, items)
	if err == nil {
		return nil
	}

	var conflict *store.StockConflictError
	if errors.As(err, &conflict) || errors.Is(err, store.ErrProductNotFound) {
		return fmt.Errorf("%w: %w", ErrStockConflict, err)
	}
	return fmt.Errorf("reserve stock: %w", err)
}
