package grpc

import (
	"context"
	"errors"
	"strings"

	"github.com/arisdnt/project-kas-sub006/internal/catalog"
	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"github.com/arisdnt/project-kas-sub006/internal/service"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type SessionProvider interface {
	GetOrCreate(ctx context.Context, scope domain.Scope) (*domain.Session, error)
}

type ProductScanner interface {
	Scan(ctx context.Context, storeID, barcode string) (*domain.ProductSummary, error)
}

// KasirServiceServer implements kasir.v1.Kasir over the checkout engine
type KasirServiceServer struct {
	sessions SessionProvider
	catalog  ProductScanner
	payments service.PaymentProcessor
}

var _ KasirServer = (*KasirServiceServer)(nil)

func NewKasirServiceServer(sessions SessionProvider, catalog ProductScanner, payments service.PaymentProcessor) *KasirServiceServer {
	return &KasirServiceServer{
		sessions: sessions,
		catalog:  catalog,
		payments: payments,
	}
}

// NewServer returns a gRPC server with tracing and the kasir service registered.
func NewServer(srv KasirServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{grpc.StatsHandler(otelgrpc.NewServerHandler())}, opts...)
	s := grpc.NewServer(opts...)
	RegisterKasirServer(s, srv)
	return s
}

func (s *KasirServiceServer) GetOrCreateSession(
	ctx context.Context,
	req *GetOrCreateSessionRequest) (*SessionResponse, error) {

	if req.Scope.UserID == "" || req.Scope.StoreID == "" {
		return nil, status.Error(codes.Unauthenticated, "user_id and store_id are required")
	}

	session, err := s.sessions.GetOrCreate(ctx, req.Scope.scope())
	if err != nil {
		return nil, mapServiceError(err)
	}

	return &SessionResponse{
		Session:        session,
		RealtimeRoomID: domain.StoreRoom(req.Scope.StoreID),
	}, nil
}

func (s *KasirServiceServer) Scan(ctx context.Context, req *ScanRequest) (*ProductResponse, error) {
	if req.StoreID == "" {
		return nil, status.Error(codes.Unauthenticated, "store_id is required")
	}
	if strings.TrimSpace(req.Barcode) == "" {
		return nil, status.Error(codes.InvalidArgument, "barcode is required")
	}

	product, err := s.catalog.Scan(ctx, req.StoreID, req.Barcode)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &ProductResponse{Product: product}, nil
}

func (s *KasirServiceServer) Pay(ctx context.Context, req *PayRequest) (*domain.PaymentResult, error) {
	if req.Scope.UserID == "" || req.Scope.StoreID == "" {
		return nil, status.Error(codes.Unauthenticated, "user_id and store_id are required")
	}
	if strings.TrimSpace(req.Payment.IdempotencyKey) == "" {
		return nil, status.Error(codes.InvalidArgument, "idempotency_key is required")
	}

	result, err := s.payments.Pay(ctx, req.Scope.scope(), &req.Payment)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return result, nil
}

func (s *KasirServiceServer) GetTransaction(ctx context.Context, req *GetTransactionRequest) (*TransactionResponse, error) {
	if req.StoreID == "" {
		return nil, status.Error(codes.Unauthenticated, "store_id is required")
	}
	if req.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "id is required")
	}

	tx, err := s.payments.GetTransaction(ctx, req.StoreID, req.ID)
	if err != nil {
		return nil, mapServiceError(err)
	}
	return &TransactionResponse{Transaction: tx}, nil
}

// mapServiceError converts engine errors to gRPC status codes
func mapServiceError(err error) error {
	switch {
	case errors.Is(err, service.ErrMissingScope):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, service.ErrNotFound), errors.Is(err, catalog.ErrNotFound), errors.Is(err, service.ErrNotInCart):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, service.ErrInvalidPayment), errors.Is(err, service.ErrInvalidQuantity):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, service.ErrStockConflict):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, service.ErrBusy):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	default:
		return status.Errorf(codes.Internal, "internal error: %v", err)
	}
}
