package grpc

import (
	"context"

	gogrpc "google.golang.org/grpc"
)

const ServiceName = "cart.v1.CartService"

type CartServiceServer interface {
	GetCart(context.Context, *GetCartRequest) (*CartResponse, error)
	AddItem(context.Context, *AddCartItemRequest) (*CartResponse, error)
	UpdateQuantity(context.Context, *UpdateQuantityRequest) (*CartResponse, error)
	RemoveItem(context.Context, *RemoveItemRequest) (*CartResponse, error)
	ClearCart(context.Context, *ClearCartRequest) (*CartResponse, error)
	GetSummary(context.Context, *GetSummaryRequest) (*SummaryResponse, error)
}

// CartServiceDesc describes the service by hand; messages are JSON, so no
// generated descriptor backs it.
var CartServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CartServiceServer)(nil),
	Methods: []gogrpc.MethodDesc{
		unary("GetCart", CartServiceServer.GetCart),
		unary("AddItem", CartServiceServer.AddItem),
		unary("UpdateQuantity", CartServiceServer.UpdateQuantity),
		unary("RemoveItem", CartServiceServer.RemoveItem),
		unary("ClearCart", CartServiceServer.ClearCart),
		unary("GetSummary", CartServiceServer.GetSummary),
	},
	Streams:  []gogrpc.StreamDesc{},
	Metadata: "cart/v1/cart.json",
}

func RegisterCartServiceServer(s gogrpc.ServiceRegistrar, srv CartServiceServer) {
	s.RegisterService(&CartServiceDesc, srv)
}

func unary[Req, Resp any](method string, call func(CartServiceServer, context.Context, *Req) (*Resp, error)) gogrpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	return gogrpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor gogrpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CartServiceServer), ctx, in)
			}
			info := &gogrpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CartServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

type CartServiceClient interface {
	GetCart(ctx context.Context, in *GetCartRequest, opts ...gogrpc.CallOption) (*CartResponse, error)
	AddItem(ctx context.Context, in *AddCartItemRequest, opts ...gogrpc.CallOption) (*CartResponse, error)
	UpdateQuantity(ctx context.Context, in *UpdateQuantityRequest, opts ...gogrpc.CallOption) (*CartResponse, error)
	RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...gogrpc.CallOption) (*CartResponse, error)
	ClearCart(ctx context.Context, in *ClearCartRequest, opts ...gogrpc.CallOption) (*CartResponse, error)
	GetSummary(ctx context.Context, in *GetSummaryRequest, opts ...gogrpc.CallOption) (*SummaryResponse, error)
}

type cartServiceClient struct {
	cc gogrpc.ClientConnInterface
}

func NewCartServiceClient(cc gogrpc.ClientConnInterface) CartServiceClient {
	return &cartServiceClient{cc: cc}
}

func (c *cartServiceClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...gogrpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "GetCart", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) AddItem(ctx context.Context, in *AddCartItemRequest, opts ...gogrpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "AddItem", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) UpdateQuantity(ctx context.Context, in *UpdateQuantityRequest, opts ...gogrpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "UpdateQuantity", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) RemoveItem(ctx context.Context, in *RemoveItemRequest, opts ...gogrpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "RemoveItem", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) ClearCart(ctx context.Context, in *ClearCartRequest, opts ...gogrpc.CallOption) (*CartResponse, error) {
	out := new(CartResponse)
	if err := c.invoke(ctx, "ClearCart", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) GetSummary(ctx context.Context, in *GetSummaryRequest, opts ...gogrpc.CallOption) (*SummaryResponse, error) {
	out := new(SummaryResponse)
	if err := c.invoke(ctx, "GetSummary", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *cartServiceClient) invoke(ctx context.Context, method string, in, out interface{}, opts []gogrpc.CallOption) error {
	opts = append([]gogrpc.CallOption{gogrpc.CallContentSubtype(codecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}
