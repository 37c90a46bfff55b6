package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
)

type CartService struct {
	sessions *SessionManager
	catalog  *catalog.Service
}

var _ CartEngine = (*CartService)(nil)

func NewCartService(sessions *SessionManager, catalog *catalog.Service) *CartService {
	return &CartService{
		sessions: sessions,
		catalog:  catalog,
	}
}

// AddItem merges quantity into the product's line or appends a new line
// priced from the catalog. Exceeding the available stock is only a warning:
// the snapshot is returned together with ErrInsufficientStock.
func (s *CartService) AddItem(ctx context.Context, scope domain.Scope, productID int64, quantity int) (*domain.Session, error) {
	if quantity <= 0 || quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	product, err := s.activeProduct(ctx, scope.StoreID, productID)
	if err != nil {
		return nil, err
	}

	return s.sessions.mutate(ctx, scope, domain.EventCartUpdated, func(session *domain.Session) error {
		merged := quantity
		if i := session.FindLine(productID); i >= 0 {
			if session.Items[i].Quantity > MaxQuantity-quantity {
				return fmt.Errorf("%w: product %d already has %d", ErrInvalidQuantity, productID, session.Items[i].Quantity)
			}
			session.Items[i].Quantity += quantity
			merged = session.Items[i].Quantity
		} else {
			session.Items = append(session.Items, domain.CartLine{
				ProductID:   product.ID,
				ProductName: product.Name,
				UnitPrice:   product.Price,
				Quantity:    quantity,
			})
		}
		return stockWarning(product, merged)
	})
}

// UpdateItem sets the line quantity. Zero removes the line.
func (s *CartService) UpdateItem(ctx context.Context, scope domain.Scope, productID int64, quantity int) (*domain.Session, error) {
	if quantity < 0 || quantity > MaxQuantity {
		return nil, ErrInvalidQuantity
	}
	if quantity == 0 {
		return s.sessions.mutate(ctx, scope, domain.EventCartUpdated, func(session *domain.Session) error {
			i := session.FindLine(productID)
			if i < 0 {
				return fmt.Errorf("%w: product %d", ErrNotInCart, productID)
			}
			session.Items = append(session.Items[:i], session.Items[i+1:]...)
			return nil
		})
	}

	product, err := s.catalog.Get(ctx, scope.StoreID, productID)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, err
	}

	return s.sessions.mutate(ctx, scope, domain.EventCartUpdated, func(session *domain.Session) error {
		i := session.FindLine(productID)
		if i < 0 {
			return fmt.Errorf("%w: product %d", ErrNotInCart, productID)
		}
		session.Items[i].Quantity = quantity
		if product == nil {
			return nil
		}
		return stockWarning(product, quantity)
	})
}

// RemoveItem drops the line. Removing an absent product succeeds.
func (s *CartService) RemoveItem(ctx context.Context, scope domain.Scope, productID int64) (*domain.Session, error) {
	return s.sessions.mutate(ctx, scope, domain.EventCartUpdated, func(session *domain.Session) error {
		if i := session.FindLine(productID); i >= 0 {
			session.Items = append(session.Items[:i], session.Items[i+1:]...)
		}
		return nil
	})
}

// Clear empties the cart and detaches the customer. The session id stays.
func (s *CartService) Clear(ctx context.Context, scope domain.Scope) (*domain.Session, error) {
	return s.sessions.mutate(ctx, scope, domain.EventCartUpdated, func(session *domain.Session) error {
		session.Items = []domain.CartLine{}
		session.CustomerID = nil
		return nil
	})
}

// SetCustomer attaches a customer to the cart. A nil or empty id detaches.
func (s *CartService) SetCustomer(ctx context.Context, scope domain.Scope, customerID *string) (*domain.Session, error) {
	return s.sessions.mutate(ctx, scope, domain.EventSessionUpdated, func(session *domain.Session) error {
		if customerID == nil || *customerID == "" {
			session.CustomerID = nil
			return nil
		}
		id := *customerID
		session.CustomerID = &id
		return nil
	})
}

func (s *CartService) Summary(ctx context.Context, scope domain.Scope) (domain.CartSummary, error) {
	session, err := s.sessions.GetOrCreate(ctx, scope)
	if err != nil {
		return domain.CartSummary{}, err
	}
	return session.Summary(), nil
}

func (s *CartService) activeProduct(ctx context.Context, storeID string, productID int64) (*domain.ProductSummary, error) {
	product, err := s.catalog.Get(ctx, storeID, productID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return nil, err
	}
	if !product.Active {
		return nil, fmt.Errorf("%w: product %d is inactive", ErrNotFound, productID)
	}
	return product, nil
}

func stockWarning(product *domain.ProductSummary, quantity int) error {
	if quantity > product.AvailableStock {
		return fmt.Errorf("%w: product %d has %d available, cart holds %d",
			ErrInsufficientStock, product.ID, product.AvailableStock, quantity)
	}
	return nil
}
