package domain

import "github.com/shopspring/decimal"

// ProductSummary is a product as seen from one store's inventory.
type ProductSummary struct {
	ID             int64           `json:"id"`
	StoreID        string          `json:"store_id"`
	Name           string          `json:"name"`
	SKU            string          `json:"sku"`
	Barcode        string          `json:"barcode"`
	Price          decimal.Decimal `json:"price"`
	AvailableStock int             `json:"available_stock"`
	Category       string          `json:"category"`
	Unit           string          `json:"unit"`
	Active         bool            `json:"active"`
}

// StockItem is one product quantity to take out of (or put back into) stock.
type StockItem struct {
	ProductID int64
	Quantity  int
}
