// Package objrpc is a hand-rolled gRPC service exposing an objstore.Store
// for remote fetch, without a protoc/codegen step: request/response types
// are protobuf well-known wrapper types and the service descriptor is
// constructed by hand. This is the FetchService half of the wire transport;
// PeekService and PushService live in package wire and are framed with
// canon.CBOR instead, since they carry richer structured messages than a
// single bytes/string/bool value.
package objrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ObjectStoreServer is the server API for the object store gRPC service.
type ObjectStoreServer interface {
	Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error)
	Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error)
	Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error)
	// GetBundle takes a newline-separated list of id strings and returns a
	// deterministic TAR bundle (package objstore/bundle) containing all of
	// them, for fetching many objects in one round trip instead of one Get
	// per id.
	GetBundle(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error)
}

// UnimplementedObjectStoreServer can be embedded to have forward compatible implementations.
type UnimplementedObjectStoreServer struct{}

func (UnimplementedObjectStoreServer) Put(context.Context, *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Put not implemented")
}
func (UnimplementedObjectStoreServer) Get(context.Context, *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Get not implemented")
}
func (UnimplementedObjectStoreServer) Has(context.Context, *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	return nil, status.Error(codes.Unimplemented, "method Has not implemented")
}
func (UnimplementedObjectStoreServer) GetBundle(context.Context, *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	return nil, status.Error(codes.Unimplemented, "method GetBundle not implemented")
}

// RegisterObjectStoreServer registers the service on a gRPC server.
func RegisterObjectStoreServer(s grpc.ServiceRegistrar, srv ObjectStoreServer) {
	s.RegisterService(&ObjectStore_ServiceDesc, srv)
}

// ObjectStoreClient is the client API for the object store gRPC service.
type ObjectStoreClient interface {
	Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error)
	Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
	Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error)
	GetBundle(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error)
}

type objectStoreClient struct{ cc grpc.ClientConnInterface }

func NewObjectStoreClient(cc grpc.ClientConnInterface) ObjectStoreClient {
	return &objectStoreClient{cc: cc}
}

func (c *objectStoreClient) Put(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.StringValue, error) {
	out := new(wrapperspb.StringValue)
	if err := c.cc.Invoke(ctx, "/radlink.objrpc.v1.ObjectStore/Put", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *objectStoreClient) Get(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/radlink.objrpc.v1.ObjectStore/Get", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *objectStoreClient) Has(ctx context.Context, in *wrapperspb.StringValue, opts ...grpc.CallOption) (*wrapperspb.BoolValue, error) {
	out := new(wrapperspb.BoolValue)
	if err := c.cc.Invoke(ctx, "/radlink.objrpc.v1.ObjectStore/Has", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *objectStoreClient) GetBundle(ctx context.Context, in *wrapperspb.BytesValue, opts ...grpc.CallOption) (*wrapperspb.BytesValue, error) {
	out := new(wrapperspb.BytesValue)
	if err := c.cc.Invoke(ctx, "/radlink.objrpc.v1.ObjectStore/GetBundle", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _ObjectStore_Put_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectStoreServer).Put(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.objrpc.v1.ObjectStore/Put"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectStoreServer).Put(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ObjectStore_Get_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectStoreServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.objrpc.v1.ObjectStore/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectStoreServer).Get(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ObjectStore_Has_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectStoreServer).Has(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.objrpc.v1.ObjectStore/Has"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectStoreServer).Has(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func _ObjectStore_GetBundle_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ObjectStoreServer).GetBundle(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/radlink.objrpc.v1.ObjectStore/GetBundle"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ObjectStoreServer).GetBundle(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// ObjectStore_ServiceDesc is the grpc.ServiceDesc for the ObjectStore service.
var ObjectStore_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "radlink.objrpc.v1.ObjectStore",
	HandlerType: (*ObjectStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Put", Handler: _ObjectStore_Put_Handler},
		{MethodName: "Get", Handler: _ObjectStore_Get_Handler},
		{MethodName: "Has", Handler: _ObjectStore_Has_Handler},
		{MethodName: "GetBundle", Handler: _ObjectStore_GetBundle_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "objrpc.proto",
}
