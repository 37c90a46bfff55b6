package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCard     PaymentMethod = "card"
	PaymentCredit   PaymentMethod = "credit"
	PaymentPoints   PaymentMethod = "points"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentTransfer, PaymentCard, PaymentCredit, PaymentPoints:
		return true
	}
	return false
}

// PaymentLine is what the cashier saw on screen when pressing pay.
type PaymentLine struct {
	ProductID int64           `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Discount  decimal.Decimal `json:"discount"`
}

type PaymentRequest struct {
	IdempotencyKey  string           `json:"idempotency_key"`
	Method          PaymentMethod    `json:"method"`
	AmountTendered  decimal.Decimal  `json:"amount_tendered"`
	Note            string           `json:"note"`
	Lines           []PaymentLine    `json:"line_items"`
	CustomerID      *string          `json:"customer_id,omitempty"`
	DiscountPercent *decimal.Decimal `json:"discount_percent,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
}

type TransactionStatus string

const (
	TransactionPaid TransactionStatus = "paid"
	TransactionVoid TransactionStatus = "void"
)

type TransactionItem struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Discount    decimal.Decimal `json:"discount"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Transaction is a settled sale. It is immutable apart from a void.
type Transaction struct {
	ID                string            `json:"id"`
	TransactionNumber string            `json:"transaction_number"`
	Sequence          int64             `json:"-"`
	StoreID           string            `json:"store_id"`
	TenantID          string            `json:"tenant_id"`
	UserID            string            `json:"user_id"`
	SessionID         string            `json:"session_id"`
	CustomerID        *string           `json:"customer_id,omitempty"`
	Items             []TransactionItem `json:"items"`
	Status            TransactionStatus `json:"status"`
	PaymentMethod     PaymentMethod     `json:"payment_method"`
	Subtotal          decimal.Decimal   `json:"subtotal"`
	DiscountTotal     decimal.Decimal   `json:"discount_total"`
	TotalAmount       decimal.Decimal   `json:"total_amount"`
	AmountTendered    decimal.Decimal   `json:"amount_tendered"`
	Change            decimal.Decimal   `json:"change"`
	Note              string            `json:"note,omitempty"`
	IdempotencyKey    string            `json:"idempotency_key"`
	CreatedAt         time.Time         `json:"created_at"`
}

// StockItems lists the quantities the transaction takes out of stock.
func (t *Transaction) StockItems() []StockItem {
	items := make([]StockItem, len(t.Items))
	for i, item := range t.Items {
		items[i] = StockItem{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return items
}

type PaymentResult struct {
	Transaction *Transaction    `json:"transaction"`
	Change      decimal.Decimal `json:"change"`
	Replayed    bool            `json:"replayed"`
}
