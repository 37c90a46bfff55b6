package main

import (
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/shopspring/decimal"
)

// demoProduct is one catalog row plus its opening stock
type demoProduct struct {
	product  domain.ProductSummary
	quantity int
}

// demoCatalog seeds the in-memory mode and `migrate --seed`.
func demoCatalog(storeID string) []demoProduct {
	item := func(id int64, name, sku, barcode, category, price string, qty int) demoProduct {
		return demoProduct{
			product: domain.ProductSummary{
				ID:       id,
				StoreID:  storeID,
				Name:     name,
				SKU:      sku,
				Barcode:  barcode,
				Category: category,
				Price:    decimal.RequireFromString(price),
				Active:   true,
			},
			quantity: qty,
		}
	}
	return []demoProduct{
		item(1, "Kopi Susu Gula Aren", "KSG-250", "8991001000011", "minuman", "18000", 100),
		item(2, "Teh Botol 450ml", "TB-450", "8991001000028", "minuman", "5500", 500),
		item(3, "Roti Tawar Gandum", "RTG-01", "8991001000035", "roti", "16500", 40),
		item(4, "Mie Instan Goreng", "MIG-85", "8991001000042", "makanan", "3500", 300),
		item(5, "Gula Pasir 1kg", "GP-1000", "8991001000059", "sembako", "17500", 150),
		item(6, "Minyak Goreng 2L", "MG-2000", "8991001000066", "sembako", "38000", 60),
	}
}
