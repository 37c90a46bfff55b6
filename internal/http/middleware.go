package http

import (
	"context"
	"net/http"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderStoreID  = "X-Store-ID"
)

type ctxKey string

const scopeKey ctxKey = "scope"

// ScopeMiddleware reads the identity headers attached by the auth layer in
// front of this service. Requests without a user or a store are rejected.
func ScopeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scope := domain.Scope{
			UserID:   r.Header.Get(HeaderUserID),
			TenantID: r.Header.Get(HeaderTenantID),
			StoreID:  r.Header.Get(HeaderStoreID),
		}
		if scope.UserID == "" || scope.StoreID == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing user or store identity")
			return
		}

		ctx := context.WithValue(r.Context(), scopeKey, scope)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func getScope(ctx context.Context) domain.Scope {
	if scope, ok := ctx.Value(scopeKey).(domain.Scope); ok {
		return scope
	}
	return domain.Scope{}
}

// RequestIDMiddleware echoes the request ID assigned by chi's RequestID
// middleware so terminals can quote it in support tickets.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestID := middleware.GetReqID(r.Context()); requestID != "" {
			w.Header().Set(middleware.RequestIDHeader, requestID)
		}
		next.ServeHTTP(w, r)
	})
}
