package domain

import (
	"fmt"
	"time"
)

type EventType string

const (
	EventSessionUpdated    EventType = "session_updated"
	EventCartUpdated       EventType = "cart_updated"
	EventPaymentCommitted  EventType = "payment_committed"
	EventPaymentRolledBack EventType = "payment_rolled_back"
)

// Event is the envelope pushed to realtime subscribers. Version is the
// session version for session snapshots and zero otherwise. Versions only
// compare within one SessionID: a session recreated after expiry starts
// again at 1.
type Event struct {
	Type      EventType `json:"type"`
	Room      string    `json:"room"`
	Key       string    `json:"key,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	Version   int64     `json:"version,omitempty"`
	Payload   any       `json:"payload"`
	SentAt    time.Time `json:"sent_at"`
}

func StoreRoom(storeID string) string {
	return fmt.Sprintf("store:%s", storeID)
}

func TenantRoom(tenantID string) string {
	return fmt.Sprintf("tenant:%s", tenantID)
}

// RollbackNotice is broadcast when a payment loses a stock race.
type RollbackNotice struct {
	SessionID      string `json:"session_id"`
	IdempotencyKey string `json:"idempotency_key"`
	ProductID      int64  `json:"product_id,omitempty"`
	Reason         string `json:"reason"`
	State          string `json:"state"`
}
