package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/service"
	"github.com/arisdnt/project-kas-sub006/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	router http.Handler
	mem    *store.MemoryStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemoryStore()
	t.Cleanup(func() { mem.Close() })
	mem.AddProduct(domain.ProductSummary{ID: 1, StoreID: "S1", Name: "Kopi Susu", SKU: "SKU-1", Barcode: "8990001", Price: decimal.NewFromInt(3500), Active: true}, 10)
	mem.AddProduct(domain.ProductSummary{ID: 2, StoreID: "S1", Name: "Gula Aren", SKU: "SKU-2", Barcode: "8990002", Price: decimal.NewFromInt(12000), Active: true}, 1)

	sessions := service.NewSessionManager(mem)
	cat := catalog.NewService(mem)
	cart := service.NewCartService(sessions, cat)
	payments := service.NewPaymentService(cat, mem, mem, sessions, cart, service.PaymentConfig{})

	h := NewHandler(sessions, cat, cart, payments, 5*time.Second)
	return &testServer{router: NewRouter(h, nil), mem: mem}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(HeaderUserID, "kasir-1")
	req.Header.Set(HeaderTenantID, "T1")
	req.Header.Set(HeaderStoreID, "S1")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestScopeHeadersRequired(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/kasir/session", nil)
	req.Header.Set(HeaderUserID, "kasir-1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "unauthorized", resp.Code)
}

func TestGetSession(t *testing.T) {
	s := newTestServer(t)

	first := decode[SessionResponseDTO](t, s.do(t, http.MethodGet, "/api/v1/kasir/session", nil))
	second := decode[SessionResponseDTO](t, s.do(t, http.MethodGet, "/api/v1/kasir/session", nil))

	assert.Equal(t, first.Session.ID, second.Session.ID)
	assert.Equal(t, "store:S1", first.RealtimeRoomID)
	assert.Empty(t, first.Session.Items)
}

func TestProducts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/kasir/products?q=kopi&limit=5", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	products := decode[[]domain.ProductSummary](t, rec)
	require.Len(t, products, 1)
	assert.Equal(t, "SKU-1", products[0].SKU)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/products?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/products/scan/8990002", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), decode[domain.ProductSummary](t, rec).ID)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/products/scan/0000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCartFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/kasir/cart/items", AddItemRequestDTO{ProductID: 1, Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	cart := decode[CartResponseDTO](t, rec)
	assert.Equal(t, "7000", cart.Session.TotalAmount.String())
	assert.Empty(t, cart.Warning)

	rec = s.do(t, http.MethodPost, "/api/v1/kasir/cart/items", AddItemRequestDTO{ProductID: 2, Quantity: 5})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, WarningInsufficient, decode[CartResponseDTO](t, rec).Warning)

	qty := 1
	rec = s.do(t, http.MethodPut, "/api/v1/kasir/cart/items/2", UpdateItemRequestDTO{Quantity: &qty})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Warning)

	customer := "member-1"
	rec = s.do(t, http.MethodPut, "/api/v1/kasir/cart/customer", SetCustomerRequestDTO{CustomerID: &customer})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "member-1", *decode[CartResponseDTO](t, rec).Session.CustomerID)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/summary", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[domain.CartSummary](t, rec)
	assert.Equal(t, 2, summary.ItemCount)
	assert.Equal(t, 3, summary.TotalQuantity)
	assert.Equal(t, "19000", summary.TotalAmount.String())

	rec = s.do(t, http.MethodDelete, "/api/v1/kasir/cart/items/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[CartResponseDTO](t, rec).Session.Items, 1)

	rec = s.do(t, http.MethodDelete, "/api/v1/kasir/cart", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponseDTO](t, rec).Session.Items)
}

func TestCartValidation(t *testing.T) {
	s := newTestServer(t)
	qty := 3

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{"bad product id", http.MethodPut, "/api/v1/kasir/cart/items/abc", UpdateItemRequestDTO{Quantity: &qty}, http.StatusBadRequest, "invalid_product_id"},
		{"missing quantity", http.MethodPut, "/api/v1/kasir/cart/items/1", UpdateItemRequestDTO{}, http.StatusBadRequest, "invalid_quantity"},
		{"zero quantity add", http.MethodPost, "/api/v1/kasir/cart/items", AddItemRequestDTO{ProductID: 1}, http.StatusBadRequest, "invalid_quantity"},
		{"unknown product", http.MethodPost, "/api/v1/kasir/cart/items", AddItemRequestDTO{ProductID: 99, Quantity: 1}, http.StatusNotFound, "not_found"},
		{"update absent line", http.MethodPut, "/api/v1/kasir/cart/items/1", UpdateItemRequestDTO{Quantity: &qty}, http.StatusNotFound, "not_in_cart"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/kasir/cart/items", bytes.NewBufferString("{"))
	req.Header.Set(HeaderUserID, "kasir-1")
	req.Header.Set(HeaderStoreID, "S1")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPay_ScenarioA(t *testing.T) {
	s := newTestServer(t)
	s.do(t, http.MethodPost, "/api/v1/kasir/cart/items", AddItemRequestDTO{ProductID: 1, Quantity: 2})

	body := map[string]any{
		"method":          "cash",
		"amount_tendered": "10000",
		"line_items":      []map[string]any{{"product_id": 1, "quantity": 2, "unit_price": "3500"}},
	}
	rec := s.do(t, http.MethodPost, "/api/v1/kasir/payments", body, HeaderIdempotencyKey, "pay-1")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	result := decode[domain.PaymentResult](t, rec)
	assert.Equal(t, "3000", result.Change.String())
	assert.Equal(t, "7000", result.Transaction.TotalAmount.String())
	assert.False(t, result.Replayed)

	rec = s.do(t, http.MethodPost, "/api/v1/kasir/payments", body, HeaderIdempotencyKey, "pay-1")
	require.Equal(t, http.StatusOK, rec.Code)
	replay := decode[domain.PaymentResult](t, rec)
	assert.True(t, replay.Replayed)
	assert.Equal(t, result.Transaction.ID, replay.Transaction.ID)

	session := decode[SessionResponseDTO](t, s.do(t, http.MethodGet, "/api/v1/kasir/session", nil))
	assert.Empty(t, session.Session.Items)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/transactions/"+result.Transaction.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, result.Transaction.TransactionNumber, decode[domain.Transaction](t, rec).TransactionNumber)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/payments/pay-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/kasir/payments/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	qty, err := s.mem.GetStock("S1", 1)
	require.NoError(t, err)
	assert.Equal(t, 8, qty)
}

func TestPay_RequestErrors(t *testing.T) {
	s := newTestServer(t)
	line := []map[string]any{{"product_id": 2, "quantity": 2}}

	rec := s.do(t, http.MethodPost, "/api/v1/kasir/payments", map[string]any{"method": "cash", "line_items": line})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "missing_idempotency_key", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/kasir/payments",
		map[string]any{"idempotency_key": "a", "method": "cash", "line_items": line}, HeaderIdempotencyKey, "b")
	assert.Equal(t, "idempotency_key_mismatch", decode[ErrorResponse](t, rec).Code)

	rec = s.do(t, http.MethodPost, "/api/v1/kasir/payments",
		map[string]any{"idempotency_key": "short", "method": "cash", "amount_tendered": "1", "line_items": line})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/kasir/payments",
		map[string]any{"idempotency_key": "oversold", "method": "cash", "amount_tendered": "24000", "line_items": line})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stock_conflict", decode[ErrorResponse](t, rec).Code)
}

func TestHandleServiceError(t *testing.T) {
	tests := []struct {
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{service.ErrMissingScope, http.StatusUnauthorized, "unauthorized", ""},
		{fmt.Errorf("%w: id 9", catalog.ErrNotFound), http.StatusNotFound, "not_found", ""},
		{service.ErrNotInCart, http.StatusNotFound, "not_in_cart", ""},
		{service.ErrInvalidQuantity, http.StatusBadRequest, "invalid_quantity", ""},
		{fmt.Errorf("%w: short", service.ErrInvalidPayment), http.StatusUnprocessableEntity, "invalid_payment", ""},
		{fmt.Errorf("%w: %w", service.ErrStockConflict, &store.StockConflictError{ProductID: 2}), http.StatusConflict, "stock_conflict", ""},
		{service.ErrBusy, http.StatusServiceUnavailable, "busy", RetryAfterSeconds},
		{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout", ""},
		{errors.New("connection reset"), http.StatusInternalServerError, "internal_error", ""},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handleServiceError(rec, tt.err)
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			assert.Equal(t, tt.code, decode[ErrorResponse](t, rec).Code)
		})
	}
}

type busyCart struct {
	service.CartEngine
}

func (busyCart) Summary(context.Context, domain.Scope) (domain.CartSummary, error) {
	return domain.CartSummary{}, service.ErrBusy
}

func TestBusyCartAnswersRetryAfter(t *testing.T) {
	h := NewHandler(nil, nil, busyCart{}, nil, time.Second)
	router := NewRouter(h, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/kasir/summary", nil)
	req.Header.Set(HeaderUserID, "kasir-1")
	req.Header.Set(HeaderStoreID, "S1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}
