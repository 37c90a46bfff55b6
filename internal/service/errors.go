package service

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrNotInCart         = errors.New("product is not in the cart")
	ErrInvalidQuantity   = errors.New("quantity must be between 1 and 1000000")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidPayment    = errors.New("invalid payment")
	ErrStockConflict     = errors.New("some items are no longer available in that quantity")
	ErrBusy              = errors.New("session is busy, retry shortly")
	ErrMissingScope      = errors.New("user and store are required")

	IllegalTransitionError = errors.New("illegal transition of payment state")
)
