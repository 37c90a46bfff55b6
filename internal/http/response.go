package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/service"
)

// RetryAfterSeconds is sent with 503 when a session or payment is busy.
const RetryAfterSeconds = "1"

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts engine errors into HTTP status codes.
func handleServiceError(w http.ResponseWriter, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrMissingScope):
		httpStatus = http.StatusUnauthorized
		code = "unauthorized"
	case errors.Is(err, service.ErrNotInCart):
		httpStatus = http.StatusNotFound
		code = "not_in_cart"
	case errors.Is(err, service.ErrNotFound), errors.Is(err, catalog.ErrNotFound):
		httpStatus = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, service.ErrInvalidQuantity):
		httpStatus = http.StatusBadRequest
		code = "invalid_quantity"
	case errors.Is(err, service.ErrInvalidPayment):
		httpStatus = http.StatusUnprocessableEntity
		code = "invalid_payment"
	case errors.Is(err, service.ErrStockConflict):
		httpStatus = http.StatusConflict
		code = "stock_conflict"
	case errors.Is(err, service.ErrBusy):
		w.Header().Set("Retry-After", RetryAfterSeconds)
		httpStatus = http.StatusServiceUnavailable
		code = "busy"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus = http.StatusGatewayTimeout
		code = "timeout"
	default:
		log.Printf("internal error: %v", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}

	respondError(w, httpStatus, code, err.Error())
}
