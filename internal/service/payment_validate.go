package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

func invalidPayment(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidPayment, fmt.Sprintf(format, args...))
}

// validate checks the request against the catalog and the tender rules and
// returns the transaction that would be written with its per-product stock
// demand. Nothing is mutated.
func (s *PaymentService) validate(
	ctx context.Context,
	scope domain.Scope,
	session *domain.Session,
	req *domain.PaymentRequest,
	key string) (*domain.Transaction, []domain.StockItem, error) {

	if !req.Method.Valid() {
		return nil, nil, invalidPayment("unknown payment method %q", req.Method)
	}
	if len(req.Lines) == 0 {
		return nil, nil, invalidPayment("no line items")
	}
	if req.AmountTendered.IsNegative() {
		return nil, nil, invalidPayment("amount tendered cannot be negative")
	}

	items := make([]domain.TransactionItem, 0, len(req.Lines))
	for i, line := range req.Lines {
		if line.Quantity <= 0 || line.Quantity > MaxQuantity {
			return nil, nil, invalidPayment("line %d: quantity must be between 1 and %d", i+1, MaxQuantity)
		}
		if line.UnitPrice.IsNegative() || line.Discount.IsNegative() {
			return nil, nil, invalidPayment("line %d: price and discount cannot be negative", i+1)
		}

		product, err := s.catalog.Get(ctx, scope.StoreID, line.ProductID)
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, nil, invalidPayment("product %d does not exist in this store", line.ProductID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("load product %d: %w", line.ProductID, err)
		}
		if !product.Active {
			return nil, nil, invalidPayment("product %d is inactive", line.ProductID)
		}

		price := line.UnitPrice
		if price.IsZero() {
			price = product.Price
		}
		gross := domain.LineSubtotal(price, line.Quantity)
		discount := line.Discount.Round(2)
		if discount.GreaterThan(gross) {
			return nil, nil, invalidPayment("line %d: discount exceeds line amount", i+1)
		}

		items = append(items, domain.TransactionItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    line.Quantity,
			UnitPrice:   price,
			Discount:    discount,
			Subtotal:    gross.Sub(discount),
		})
	}

	stock, err := mergeStockItems(items)
	if err != nil {
		return nil, nil, err
	}

	subtotal, total, err := ComputeTotals(items, req.DiscountPercent, req.DiscountAmount)
	if err != nil {
		return nil, nil, err
	}

	tendered := req.AmountTendered.Round(2)
	change := decimal.Zero
	if req.Method == domain.PaymentCash {
		if tendered.LessThan(total) {
			return nil, nil, invalidPayment("amount tendered %s is less than total %s", tendered, total)
		}
		change = tendered.Sub(total)
	} else if !tendered.Equal(total) {
		return nil, nil, invalidPayment("%s payments must tender exactly %s, got %s", req.Method, total, tendered)
	}

	customerID := req.CustomerID
	if customerID == nil && session.CustomerID != nil {
		id := *session.CustomerID
		customerID = &id
	}

	return &domain.Transaction{
		ID:             uuid.New().String(),
		StoreID:        scope.StoreID,
		TenantID:       scope.TenantID,
		UserID:         scope.UserID,
		SessionID:      session.ID,
		CustomerID:     customerID,
		Items:          items,
		Status:         domain.TransactionPaid,
		PaymentMethod:  req.Method,
		Subtotal:       subtotal,
		DiscountTotal:  subtotal.Sub(total),
		TotalAmount:    total,
		AmountTendered: tendered,
		Change:         change,
		Note:           req.Note,
		IdempotencyKey: key,
		CreatedAt:      s.sessions.now().UTC(),
	}, stock, nil
}

// ComputeTotals returns the gross subtotal and the net total of the lines.
// Line discounts come off first, then the percentage, then the flat amount.
// Every step rounds half away from zero to cents.
func ComputeTotals(items []domain.TransactionItem, percent, amount *decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	subtotal := decimal.Zero
	net := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(domain.LineSubtotal(item.UnitPrice, item.Quantity))
		net = net.Add(item.Subtotal)
	}

	if percent != nil {
		if percent.IsNegative() || percent.GreaterThan(hundred) {
			return decimal.Zero, decimal.Zero, invalidPayment("discount percent must be between 0 and 100")
		}
		net = net.Sub(net.Mul(*percent).Div(hundred).Round(2))
	}
	if amount != nil {
		if amount.IsNegative() {
			return decimal.Zero, decimal.Zero, invalidPayment("discount amount cannot be negative")
		}
		if amount.GreaterThan(net) {
			return decimal.Zero, decimal.Zero, invalidPayment("discount amount %s exceeds total %s", amount.Round(2), net)
		}
		net = net.Sub(amount.Round(2))
	}

	return subtotal, net, nil
}
