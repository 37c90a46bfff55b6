package service

import (
	"context"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
)

const (
	DefaultLockTimeout     = 3 * time.Second
	DefaultFinalizeTimeout = 10 * time.Second

	// MaxQuantity caps the quantity of one product in a cart or a sale.
	MaxQuantity = 1_000_000
)

// Broadcaster fans events out to realtime subscribers. Delivery is best
// effort and must never block the caller.
type Broadcaster interface {
	Broadcast(room string, event domain.Event)
}

type noopBroadcaster struct{}

func (noopBroadcaster) Broadcast(string, domain.Event) {}

type CartEngine interface {
	AddItem(ctx context.Context, scope domain.Scope, productID int64, quantity int) (*domain.Session, error)
	UpdateItem(ctx context.Context, scope domain.Scope, productID int64, quantity int) (*domain.Session, error)
	RemoveItem(ctx context.Context, scope domain.Scope, productID int64) (*domain.Session, error)
	Clear(ctx context.Context, scope domain.Scope) (*domain.Session, error)
	SetCustomer(ctx context.Context, scope domain.Scope, customerID *string) (*domain.Session, error)
	Summary(ctx context.Context, scope domain.Scope) (domain.CartSummary, error)
}

type PaymentProcessor interface {
	Pay(ctx context.Context, scope domain.Scope, req *domain.PaymentRequest) (*domain.PaymentResult, error)
	GetTransaction(ctx context.Context, storeID, id string) (*domain.Transaction, error)
	GetPaymentByKey(ctx context.Context, storeID, key string) (*domain.Transaction, error)
}

func validateScope(scope domain.Scope) error {
	if scope.UserID == "" || scope.StoreID == "" {
		return ErrMissingScope
	}
	return nil
}
