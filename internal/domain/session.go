package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Scope is the caller identity attached by the auth layer.
type Scope struct {
	UserID   string
	TenantID string
	StoreID  string
}

// SessionKey identifies the single open cart of a cashier at a store.
type SessionKey struct {
	UserID  string
	StoreID string
}

func (s Scope) Key() SessionKey {
	return SessionKey{UserID: s.UserID, StoreID: s.StoreID}
}

// String is the key used for cache entries, lock names and event keys. The
// store id is length-prefixed so ids containing ':' cannot collide.
func (k SessionKey) String() string {
	return fmt.Sprintf("%d:%s:%s", len(k.StoreID), k.StoreID, k.UserID)
}

type CartLine struct {
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

// Session is the live working cart. Version grows by one on every mutation.
type Session struct {
	ID          string          `json:"session_id"`
	UserID      string          `json:"user_id"`
	StoreID     string          `json:"store_id"`
	TenantID    string          `json:"tenant_id"`
	Items       []CartLine      `json:"cart_items"`
	CustomerID  *string         `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s *Session) Key() SessionKey {
	return SessionKey{UserID: s.UserID, StoreID: s.StoreID}
}

// LineSubtotal rounds half away from zero to cents.
func LineSubtotal(price decimal.Decimal, qty int) decimal.Decimal {
	return price.Mul(decimal.NewFromInt(int64(qty))).Round(2)
}

// Recalculate refreshes every subtotal and the running total.
func (s *Session) Recalculate() {
	total := decimal.Zero
	for i := range s.Items {
		s.Items[i].Subtotal = LineSubtotal(s.Items[i].UnitPrice, s.Items[i].Quantity)
		total = total.Add(s.Items[i].Subtotal)
	}
	s.TotalAmount = total
}

func (s *Session) FindLine(productID int64) int {
	for i := range s.Items {
		if s.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy safe to hand to other goroutines.
func (s *Session) Clone() *Session {
	c := *s
	c.Items = make([]CartLine, len(s.Items))
	copy(c.Items, s.Items)
	if s.CustomerID != nil {
		id := *s.CustomerID
		c.CustomerID = &id
	}
	return &c
}

type CartSummary struct {
	SessionID     string          `json:"session_id"`
	ItemCount     int             `json:"item_count"`
	TotalQuantity int             `json:"total_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	Version       int64           `json:"version"`
}

func (s *Session) Summary() CartSummary {
	qty := 0
	for _, item := range s.Items {
		qty += item.Quantity
	}
	return CartSummary{
		SessionID:     s.ID,
		ItemCount:     len(s.Items),
		TotalQuantity: qty,
		TotalAmount:   s.TotalAmount,
		Version:       s.Version,
	}
}
