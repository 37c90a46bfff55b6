package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/keylock"
	"github.com/arisdnt/project-kas-sub006/internal/store"
)

type PaymentConfig struct {
	// LockTimeout bounds the wait for another attempt with the same key.
	LockTimeout time.Duration
	// FinalizeTimeout bounds commit or rollback once stock is reserved.
	FinalizeTimeout time.Duration
}

type PaymentService struct {
	catalog         *catalog.Service
	inventory       store.InventoryStore
	transactions    store.TransactionStore
	sessions        *SessionManager
	cart            *CartService
	locks           *keylock.Map
	lockTimeout     time.Duration
	finalizeTimeout time.Duration
}

var _ PaymentProcessor = (*PaymentService)(nil)

func NewPaymentService(
	cat *catalog.Service,
	inventory store.InventoryStore,
	transactions store.TransactionStore,
	sessions *SessionManager,
	cart *CartService,
	cfg PaymentConfig) *PaymentService {

	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.FinalizeTimeout <= 0 {
		cfg.FinalizeTimeout = DefaultFinalizeTimeout
	}
	return &PaymentService{
		catalog:         cat,
		inventory:       inventory,
		transactions:    transactions,
		sessions:        sessions,
		cart:            cart,
		locks:           keylock.New(),
		lockTimeout:     cfg.LockTimeout,
		finalizeTimeout: cfg.FinalizeTimeout,
	}
}

// paymentAttempt tracks one Pay call through the payment state machine.
type paymentAttempt struct {
	key   string
	state domain.PaymentState
}

func (a *paymentAttempt) transition(to domain.PaymentState) error {
	if !domain.CanTransitionTo(a.state, to) {
		return fmt.Errorf("%w: %s -> %s", IllegalTransitionError, a.state, to)
	}
	a.state = to
	return nil
}

// Pay settles the submitted line snapshot. The live cart is never re-read:
// what the cashier saw is what is billed. A key that already committed is
// answered with the original result and Replayed set.
func (s *PaymentService) Pay(ctx context.Context, scope domain.Scope, req *domain.PaymentRequest) (*domain.PaymentResult, error) {
	if err := validateScope(scope); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("%w: empty request", ErrInvalidPayment)
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", ErrInvalidPayment)
	}
	attempt := &paymentAttempt{key: key, state: domain.PaymentStateReceived}

	unlock, err := s.locks.Lock(ctx, scope.StoreID+":"+key, s.lockTimeout)
	if errors.Is(err, keylock.ErrTimeout) {
		return nil, fmt.Errorf("%w: payment %s is in progress", ErrBusy, key)
	}
	if err != nil {
		return nil, err
	}
	defer unlock()

	// check transaction by idempotency key before doing any work
	if result, err := s.replay(ctx, scope.StoreID, key); err != nil || result != nil {
		return result, err
	}

	session, err := s.sessions.GetOrCreate(ctx, scope)
	if err != nil {
		return nil, err
	}

	tx, items, err := s.validate(ctx, scope, session, req, key)
	if err != nil {
		if errT := attempt.transition(domain.PaymentStateRejected); errT != nil {
			return nil, errT
		}
		log.Printf("payment rejected idempotency_key = %v: %v", key, err)
		return nil, err
	}
	if err := attempt.transition(domain.PaymentStateValidated); err != nil {
		return nil, err
	}

	// from here the attempt must end COMMITTED or ROLLED_BACK even if the caller goes away
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.finalizeTimeout)
	defer cancel()

	if err := attempt.transition(domain.PaymentStateStockReserved); err != nil {
		return nil, err
	}
	if err := s.reserveStock(fctx, scope.StoreID, items); err != nil {
		// nothing is held: the inventory store undoes partial decrements itself
		s.rollback(attempt, session, err)
		return nil, err
	}

	return s.commit(fctx, attempt, scope, session, tx, items)
}

func (s *PaymentService) replay(ctx context.Context, storeID, key string) (*domain.PaymentResult, error) {
	existing, err := s.transactions.GetTransactionByIdempotencyKey(ctx, storeID, key)
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}

	log.Printf("Duplicate payment detected idempotency_key = %v with transaction = %v", key, existing.TransactionNumber)
	return &domain.PaymentResult{
		Transaction: existing,
		Change:      existing.Change,
		Replayed:    true,
	}, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, storeID, id string) (*domain.Transaction, error) {
	tx, err := s.transactions.GetTransaction(ctx, storeID, id)
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// GetPaymentByKey tells a client what became of an attempt, for instance
// after its connection dropped mid-payment.
func (s *PaymentService) GetPaymentByKey(ctx context.Context, storeID, key string) (*domain.Transaction, error) {
	tx, err := s.transactions.GetTransactionByIdempotencyKey(ctx, storeID, key)
	if errors.Is(err, store.ErrTransactionNotFound) {
		return nil, fmt.Errorf("%w: no committed payment for key %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	return tx, nil
}
