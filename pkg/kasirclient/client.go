// Package kasirclient is the cashier-side client of the kasir HTTP API.
// Session and summary reads go through a Governor so a polling UI issues at
// most one request per key and window.
package kasirclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	kasirhttp "github.com/arisdnt/project-kas-sub006/internal/http"
	"github.com/sony/gobreaker/v2"
)

const (
	apiPrefix = "/api/v1/kasir"

	keySession = "session"
	keySummary = "summary"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status     int
	Code       string
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kasir: %d %s: %s", e.Status, e.Code, e.Message)
}

// CartResult is the session after a cart mutation. Warning is
// "insufficient_stock" when a line exceeds current stock.
type CartResult struct {
	Session *domain.Session `json:"session"`
	Warning string          `json:"warning,omitempty"`
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithWindow(d time.Duration) Option {
	return func(c *Client) { c.governor = NewGovernor(d) }
}

// WithBreaker replaces the breaker settings. IsSuccessful and IsExcluded
// are always set by the client.
func WithBreaker(st gobreaker.Settings) Option {
	return func(c *Client) { c.breakerSettings = st }
}

// DefaultBreakerSettings opens the circuit after three consecutive upstream
// failures and probes again after five seconds.
func DefaultBreakerSettings() gobreaker.Settings {
	return gobreaker.Settings{
		Name:        "kasir-api",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("circuit breaker %s: %s -> %s", name, from, to)
		},
	}
}

type Client struct {
	baseURL         string
	scope           domain.Scope
	http            *http.Client
	governor        *Governor
	breakerSettings gobreaker.Settings
	breaker         *gobreaker.CircuitBreaker[*http.Response]
}

func New(baseURL string, scope domain.Scope, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		scope:           scope,
		http:            &http.Client{Timeout: 30 * time.Second},
		governor:        NewGovernor(DefaultWindow),
		breakerSettings: DefaultBreakerSettings(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.governor.fallback = unavailable

	st := c.breakerSettings
	st.IsExcluded = func(err error) bool {
		// the caller gave up or the session was busy; neither says the
		// server is unhealthy
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.RetryAfter > 0
		}
		return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](st)
	return c
}

// Session returns the open session. stale reports a last-known-good
// snapshot served because the server could not be reached.
func (c *Client) Session(ctx context.Context) (session *domain.Session, stale bool, err error) {
	res, err := c.governor.Do(ctx, keySession, func(ctx context.Context) (any, error) {
		var dto kasirhttp.SessionResponseDTO
		if err := c.do(ctx, http.MethodGet, "/session", nil, nil, &dto); err != nil {
			return nil, err
		}
		return dto.Session, nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.Value.(*domain.Session), res.Stale, nil
}

func (c *Client) Summary(ctx context.Context) (summary domain.CartSummary, stale bool, err error) {
	res, err := c.governor.Do(ctx, keySummary, func(ctx context.Context) (any, error) {
		var s domain.CartSummary
		if err := c.do(ctx, http.MethodGet, "/summary", nil, nil, &s); err != nil {
			return nil, err
		}
		return s, nil
	})
	if err != nil {
		return domain.CartSummary{}, false, err
	}
	return res.Value.(domain.CartSummary), res.Stale, nil
}

func (c *Client) SearchProducts(ctx context.Context, query, category string, limit int) ([]domain.ProductSummary, error) {
	params := url.Values{}
	if query != "" {
		params.Set("q", query)
	}
	if category != "" {
		params.Set("category", category)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := "/products"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	var products []domain.ProductSummary
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func (c *Client) Scan(ctx context.Context, barcode string) (*domain.ProductSummary, error) {
	var product domain.ProductSummary
	if err := c.do(ctx, http.MethodGet, "/products/scan/"+url.PathEscape(barcode), nil, nil, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

func (c *Client) AddItem(ctx context.Context, productID int64, quantity int) (*CartResult, error) {
	body := kasirhttp.AddItemRequestDTO{ProductID: productID, Quantity: quantity}
	return c.mutateCart(ctx, http.MethodPost, "/cart/items", body)
}

func (c *Client) UpdateItem(ctx context.Context, productID int64, quantity int) (*CartResult, error) {
	body := kasirhttp.UpdateItemRequestDTO{Quantity: &quantity}
	return c.mutateCart(ctx, http.MethodPut, itemPath(productID), body)
}

func (c *Client) RemoveItem(ctx context.Context, productID int64) (*CartResult, error) {
	return c.mutateCart(ctx, http.MethodDelete, itemPath(productID), nil)
}

func (c *Client) ClearCart(ctx context.Context) (*CartResult, error) {
	return c.mutateCart(ctx, http.MethodDelete, "/cart", nil)
}

// SetCustomer attaches a customer to the cart. nil detaches it.
func (c *Client) SetCustomer(ctx context.Context, customerID *string) (*CartResult, error) {
	body := kasirhttp.SetCustomerRequestDTO{CustomerID: customerID}
	return c.mutateCart(ctx, http.MethodPut, "/cart/customer", body)
}

// Pay submits a payment. The idempotency key travels in the header, so a
// retry after a timeout replays the original transaction.
func (c *Client) Pay(ctx context.Context, req *domain.PaymentRequest) (*domain.PaymentResult, error) {
	defer c.invalidate()

	header := http.Header{}
	header.Set(kasirhttp.HeaderIdempotencyKey, req.IdempotencyKey)

	var result domain.PaymentResult
	if err := c.do(ctx, http.MethodPost, "/payments", header, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) GetPayment(ctx context.Context, idempotencyKey string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(idempotencyKey), nil, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	var tx domain.Transaction
	if err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(id), nil, nil, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (c *Client) mutateCart(ctx context.Context, method, path string, body any) (*CartResult, error) {
	defer c.invalidate()

	var result CartResult
	if err := c.do(ctx, method, path, nil, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Client) invalidate() {
	c.governor.Invalidate(keySession)
	c.governor.Invalidate(keySummary)
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+apiPrefix+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(kasirhttp.HeaderUserID, c.scope.UserID)
	req.Header.Set(kasirhttp.HeaderTenantID, c.scope.TenantID)
	req.Header.Set(kasirhttp.HeaderStoreID, c.scope.StoreID)

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("failed to send request: %w", err)
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return resp, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	var body kasirhttp.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.Message = body.Error
	} else {
		apiErr.Message = http.StatusText(resp.StatusCode)
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
		apiErr.RetryAfter = time.Duration(secs) * time.Second
	}
	return apiErr
}

// unavailable reports errors where the server may hold a state we could not
// see. A 4xx is an answer and is never hidden behind a cached value.
func unavailable(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= http.StatusInternalServerError
	}
	return true
}

func itemPath(productID int64) string {
	return "/cart/items/" + strconv.FormatInt(productID, 10)
}
