package dispatch

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "formdesk.v1.DispatchService"

const (
	executeMethod        = "/" + ServiceName + "/Execute"
	relationEditorMethod = "/" + ServiceName + "/RelationEditor"
)

// DispatchServiceServer is the server API. Requests and responses are
// google.protobuf.Struct messages so collection data keeps its JSON shape.
type DispatchServiceServer interface {
	Execute(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RelationEditor(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes DispatchService for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*DispatchServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: executeHandler},
		{MethodName: "RelationEditor", Handler: relationEditorHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "formdesk/v1/dispatch.proto",
}

// RegisterDispatchServiceServer registers srv on s.
func RegisterDispatchServiceServer(s grpc.ServiceRegistrar, srv DispatchServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func executeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: executeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServiceServer).Execute(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func relationEditorHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DispatchServiceServer).RelationEditor(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: relationEditorMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DispatchServiceServer).RelationEditor(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Client calls DispatchService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient returns a client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Execute runs one button and returns the resulting intent.
func (c *Client) Execute(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, executeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// RelationEditor reads the elements of one owner's relation field.
func (c *Client) RelationEditor(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, relationEditorMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
