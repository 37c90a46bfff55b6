package domain

type PaymentState string

const (
	PaymentStateReceived      PaymentState = "RECEIVED"
	PaymentStateValidated     PaymentState = "VALIDATED"
	PaymentStateStockReserved PaymentState = "STOCK_RESERVED"
	PaymentStateCommitted     PaymentState = "COMMITTED"
	PaymentStateRejected      PaymentState = "REJECTED"
	PaymentStateRolledBack    PaymentState = "ROLLED_BACK"
)

var paymentTransitions = map[PaymentState][]PaymentState{
	PaymentStateReceived:      {PaymentStateValidated, PaymentStateRejected},
	PaymentStateValidated:     {PaymentStateStockReserved, PaymentStateRejected},
	PaymentStateStockReserved: {PaymentStateCommitted, PaymentStateRolledBack},
}

func (s PaymentState) IsTerminal() bool {
	return s == PaymentStateCommitted || s == PaymentStateRejected || s == PaymentStateRolledBack
}

// String representation (for logging)
func (s PaymentState) String() string {
	return string(s)
}

func CanTransitionTo(from, to PaymentState) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
