package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	WarningInsufficient  = "insufficient_stock"

	MaxRequestBodySize = 1 << 20 // 1MB
)

type SessionProvider interface {
	GetOrCreate(ctx context.Context, scope domain.Scope) (*domain.Session, error)
}

type ProductFinder interface {
	Search(ctx context.Context, storeID, query, category string, limit int) ([]domain.ProductSummary, error)
	Scan(ctx context.Context, storeID, barcode string) (*domain.ProductSummary, error)
}

type Handler struct {
	sessions SessionProvider
	catalog  ProductFinder
	cart     service.CartEngine
	payments service.PaymentProcessor
	timeout  time.Duration
}

func NewHandler(
	sessions SessionProvider,
	catalog ProductFinder,
	cart service.CartEngine,
	payments service.PaymentProcessor,
	timeout time.Duration) *Handler {

	return &Handler{
		sessions: sessions,
		catalog:  catalog,
		cart:     cart,
		payments: payments,
		timeout:  timeout,
	}
}

// NewRouter mounts the kasir API under /api/v1/kasir. ws serves the
// realtime socket and may be nil.
func NewRouter(h *Handler, ws http.HandlerFunc) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1/kasir", func(r chi.Router) {
		if ws != nil {
			r.Get("/ws", ws)
		}

		r.Group(func(r chi.Router) {
			r.Use(ScopeMiddleware)
			r.Use(middleware.RequestSize(MaxRequestBodySize))
			r.Use(middleware.Compress(5))

			r.Get("/session", h.GetSession)
			r.Get("/summary", h.Summary)

			r.Get("/products", h.SearchProducts)
			r.Get("/products/scan/{barcode}", h.ScanProduct)

			r.Route("/cart", func(r chi.Router) {
				r.Delete("/", h.ClearCart)
				r.Post("/items", h.AddItem)
				r.Put("/items/{product_id}", h.UpdateItem)
				r.Delete("/items/{product_id}", h.RemoveItem)
				r.Put("/customer", h.SetCustomer)
			})

			r.Post("/payments", h.Pay)
			r.Get("/payments/{idempotency_key}", h.GetPayment)
			r.Get("/transactions/{id}", h.GetTransaction)
		})
	})

	return otelhttp.NewHandler(r, "kasir-http")
}

type SessionResponseDTO struct {
	Session        *domain.Session `json:"session"`
	RealtimeRoomID string          `json:"realtime_room_id"`
}

type CartResponseDTO struct {
	Session *domain.Session `json:"session"`
	Warning string          `json:"warning,omitempty"`
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

type UpdateItemRequestDTO struct {
	Quantity *int `json:"quantity"`
}

type SetCustomerRequestDTO struct {
	CustomerID *string `json:"customer_id"`
}

// GET /api/v1/kasir/session
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	scope := getScope(r.Context())
	session, err := h.sessions.GetOrCreate(ctx, scope)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, SessionResponseDTO{
		Session:        session,
		RealtimeRoomID: domain.StoreRoom(scope.StoreID),
	})
}

// GET /api/v1/kasir/summary
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	summary, err := h.cart.Summary(ctx, getScope(r.Context()))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// GET /api/v1/kasir/products?q=&category=&limit=
func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	products, err := h.catalog.Search(ctx, getScope(r.Context()).StoreID, query.Get("q"), query.Get("category"), limit)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, products)
}

// GET /api/v1/kasir/products/scan/{barcode}
func (h *Handler) ScanProduct(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	product, err := h.catalog.Scan(ctx, getScope(r.Context()).StoreID, chi.URLParam(r, "barcode"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, product)
}

// POST /api/v1/kasir/cart/items
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}

	session, err := h.cart.AddItem(ctx, getScope(r.Context()), req.ProductID, req.Quantity)
	respondCart(w, session, err)
}

// PUT /api/v1/kasir/cart/items/{product_id}
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.Quantity == nil {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity is required")
		return
	}

	session, err := h.cart.UpdateItem(ctx, getScope(r.Context()), productID, *req.Quantity)
	respondCart(w, session, err)
}

// DELETE /api/v1/kasir/cart/items/{product_id}
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	session, err := h.cart.RemoveItem(ctx, getScope(r.Context()), productID)
	respondCart(w, session, err)
}

// DELETE /api/v1/kasir/cart
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.cart.Clear(ctx, getScope(r.Context()))
	respondCart(w, session, err)
}

// PUT /api/v1/kasir/cart/customer
func (h *Handler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var req SetCustomerRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	session, err := h.cart.SetCustomer(ctx, getScope(r.Context()), req.CustomerID)
	respondCart(w, session, err)
}

// POST /api/v1/kasir/payments
func (h *Handler) Pay(w http.ResponseWriter, r *http.Request) {
	var req domain.PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	headerKey := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	bodyKey := strings.TrimSpace(req.IdempotencyKey)
	if headerKey != "" && bodyKey != "" && headerKey != bodyKey {
		respondError(w, http.StatusBadRequest, "idempotency_key_mismatch",
			"Idempotency-Key header and idempotency_key field differ")
		return
	}
	if headerKey != "" {
		req.IdempotencyKey = headerKey
	}
	if strings.TrimSpace(req.IdempotencyKey) == "" {
		respondError(w, http.StatusBadRequest, "missing_idempotency_key",
			"idempotency_key is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	result, err := h.payments.Pay(ctx, getScope(r.Context()), &req)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	httpStatus := http.StatusCreated
	if result.Replayed {
		httpStatus = http.StatusOK
	}
	respondJSON(w, httpStatus, result)
}

// GET /api/v1/kasir/payments/{idempotency_key}
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tx, err := h.payments.GetPaymentByKey(ctx, getScope(r.Context()).StoreID, chi.URLParam(r, "idempotency_key"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// GET /api/v1/kasir/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	tx, err := h.payments.GetTransaction(ctx, getScope(r.Context()).StoreID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, tx)
}

// respondCart writes a session snapshot. An insufficient stock warning
// still answers 200 with the snapshot.
func respondCart(w http.ResponseWriter, session *domain.Session, err error) {
	if errors.Is(err, service.ErrInsufficientStock) && session != nil {
		respondJSON(w, http.StatusOK, CartResponseDTO{Session: session, Warning: WarningInsufficient})
		return
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, CartResponseDTO{Session: session})
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
