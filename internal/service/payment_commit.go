package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/store"
)

// commit writes the transaction for reserved stock, then clears the
// originating session and announces the sale.
func (s *PaymentService) commit(
	ctx context.Context,
	attempt *paymentAttempt,
	scope domain.Scope,
	session *domain.Session,
	tx *domain.Transaction,
	items []domain.StockItem) (*domain.PaymentResult, error) {

	err := s.transactions.CreateTransaction(ctx, tx)
	if errors.Is(err, store.ErrDuplicateIdempotencyKey) {
		// another process committed this key between our check and insert
		s.restoreStock(ctx, scope.StoreID, items)
		if errT := attempt.transition(domain.PaymentStateRolledBack); errT != nil {
			return nil, errT
		}
		winner, errGet := s.transactions.GetTransactionByIdempotencyKey(ctx, scope.StoreID, tx.IdempotencyKey)
		if errGet != nil {
			return nil, fmt.Errorf("load committed payment: %w", errGet)
		}
		log.Printf("payment idempotency_key = %v lost insert race, returning %v", tx.IdempotencyKey, winner.TransactionNumber)
		return &domain.PaymentResult{Transaction: winner, Change: winner.Change, Replayed: true}, nil
	}
	if err != nil {
		s.restoreStock(ctx, scope.StoreID, items)
		err = fmt.Errorf("record transaction: %w", err)
		s.rollback(attempt, session, err)
		return nil, err
	}

	if err := attempt.transition(domain.PaymentStateCommitted); err != nil {
		return nil, err
	}
	log.Printf("payment committed idempotency_key = %v transaction = %v total = %v",
		tx.IdempotencyKey, tx.TransactionNumber, tx.TotalAmount)

	if _, err := s.cart.Clear(ctx, scope); err != nil {
		log.Printf("failed to clear session %v after payment %v: %v", session.ID, tx.TransactionNumber, err)
	}

	s.announce(domain.EventPaymentCommitted, scope, session, tx)
	return &domain.PaymentResult{Transaction: tx, Change: tx.Change}, nil
}

func (s *PaymentService) restoreStock(ctx context.Context, storeID string, items []domain.StockItem) {
	if err := s.inventory.Restore(ctx, storeID, items); err != nil {
		log.Printf("CRITICAL: failed to restore stock for store %v items %v: %v", storeID, items, err)
	}
}

// rollback records the ROLLED_BACK outcome and tells the store's terminals.
func (s *PaymentService) rollback(attempt *paymentAttempt, session *domain.Session, cause error) {
	if err := attempt.transition(domain.PaymentStateRolledBack); err != nil {
		log.Printf("payment idempotency_key = %v: %v", attempt.key, err)
		return
	}
	log.Printf("payment rolled back idempotency_key = %v: %v", attempt.key, cause)

	notice := domain.RollbackNotice{
		SessionID:      session.ID,
		IdempotencyKey: attempt.key,
		Reason:         cause.Error(),
		State:          attempt.state.String(),
	}
	var conflict *store.StockConflictError
	if errors.As(cause, &conflict) {
		notice.ProductID = conflict.ProductID
	}
	s.announce(domain.EventPaymentRolledBack, domain.Scope{StoreID: session.StoreID}, session, notice)
}

func (s *PaymentService) announce(event domain.EventType, scope domain.Scope, session *domain.Session, payload any) {
	rooms := []string{domain.StoreRoom(session.StoreID)}
	if scope.TenantID != "" {
		rooms = append(rooms, domain.TenantRoom(scope.TenantID))
	}
	for _, room := range rooms {
		s.sessions.broadcaster.Broadcast(room, domain.Event{
			Type:      event,
			Room:      room,
			Key:       session.Key().String(),
			SessionID: session.ID,
			Payload:   payload,
			SentAt:    s.sessions.now().UTC(),
		})
	}
}
