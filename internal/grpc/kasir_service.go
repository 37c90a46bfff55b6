package grpc

import (
	"context"

	"github.com/arisdnt/project-kas-sub006/internal/domain"
	"google.golang.org/grpc"
)

const ServiceName = "kasir.v1.Kasir"

type ScopeMessage struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	StoreID  string `json:"store_id"`
}

func (m ScopeMessage) scope() domain.Scope {
	return domain.Scope{UserID: m.UserID, TenantID: m.TenantID, StoreID: m.StoreID}
}

type GetOrCreateSessionRequest struct {
	Scope ScopeMessage `json:"scope"`
}

type SessionResponse struct {
	Session        *domain.Session `json:"session"`
	RealtimeRoomID string          `json:"realtime_room_id"`
}

type ScanRequest struct {
	StoreID string `json:"store_id"`
	Barcode string `json:"barcode"`
}

type ProductResponse struct {
	Product *domain.ProductSummary `json:"product"`
}

type PayRequest struct {
	Scope   ScopeMessage          `json:"scope"`
	Payment domain.PaymentRequest `json:"payment"`
}

type GetTransactionRequest struct {
	StoreID string `json:"store_id"`
	ID      string `json:"id"`
}

type TransactionResponse struct {
	Transaction *domain.Transaction `json:"transaction"`
}

type KasirServer interface {
	GetOrCreateSession(context.Context, *GetOrCreateSessionRequest) (*SessionResponse, error)
	Scan(context.Context, *ScanRequest) (*ProductResponse, error)
	Pay(context.Context, *PayRequest) (*domain.PaymentResult, error)
	GetTransaction(context.Context, *GetTransactionRequest) (*TransactionResponse, error)
}

// KasirServiceDesc describes kasir.v1.Kasir for grpc.Server.RegisterService.
// Messages travel as JSON, see CodecName.
var KasirServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*KasirServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetOrCreateSession", Handler: getOrCreateSessionHandler},
		{MethodName: "Scan", Handler: scanHandler},
		{MethodName: "Pay", Handler: payHandler},
		{MethodName: "GetTransaction", Handler: getTransactionHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "kasir/v1/kasir.json",
}

func RegisterKasirServer(s grpc.ServiceRegistrar, srv KasirServer) {
	s.RegisterService(&KasirServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

func getOrCreateSessionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetOrCreateSessionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KasirServer).GetOrCreateSession(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetOrCreateSession")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KasirServer).GetOrCreateSession(ctx, req.(*GetOrCreateSessionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func scanHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ScanRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KasirServer).Scan(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Scan")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KasirServer).Scan(ctx, req.(*ScanRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func payHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(PayRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KasirServer).Pay(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("Pay")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KasirServer).Pay(ctx, req.(*PayRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getTransactionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetTransactionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(KasirServer).GetTransaction(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod("GetTransaction")}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(KasirServer).GetTransaction(ctx, req.(*GetTransactionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// KasirClient calls kasir.v1.Kasir over a connection, forcing the JSON codec.
type KasirClient struct {
	cc grpc.ClientConnInterface
}

func NewKasirClient(cc grpc.ClientConnInterface) *KasirClient {
	return &KasirClient{cc: cc}
}

func (c *KasirClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, fullMethod(method), in, out, opts...)
}

func (c *KasirClient) GetOrCreateSession(ctx context.Context, in *GetOrCreateSessionRequest, opts ...grpc.CallOption) (*SessionResponse, error) {
	out := new(SessionResponse)
	if err := c.invoke(ctx, "GetOrCreateSession", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KasirClient) Scan(ctx context.Context, in *ScanRequest, opts ...grpc.CallOption) (*ProductResponse, error) {
	out := new(ProductResponse)
	if err := c.invoke(ctx, "Scan", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KasirClient) Pay(ctx context.Context, in *PayRequest, opts ...grpc.CallOption) (*domain.PaymentResult, error) {
	out := new(domain.PaymentResult)
	if err := c.invoke(ctx, "Pay", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *KasirClient) GetTransaction(ctx context.Context, in *GetTransactionRequest, opts ...grpc.CallOption) (*TransactionResponse, error) {
	out := new(TransactionResponse)
	if err := c.invoke(ctx, "GetTransaction", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}
