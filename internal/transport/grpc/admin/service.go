package admingrpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully-qualified gRPC service name of the admin API.
const ServiceName = "pbkv.admin.v1.AdminService"

const (
	methodGetNodeInfo  = "/" + ServiceName + "/GetNodeInfo"
	methodStartPrimary = "/" + ServiceName + "/StartPrimary"
	methodStartBackup  = "/" + ServiceName + "/StartBackup"
	methodAddBackup    = "/" + ServiceName + "/AddBackup"
)

// AdminServiceServer is the server API for the admin service. Messages are
// protobuf well-known types so no generated code is needed.
type AdminServiceServer interface {
	GetNodeInfo(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	StartPrimary(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	StartBackup(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	AddBackup(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
}

// RegisterAdminServiceServer registers srv with s.
func RegisterAdminServiceServer(s grpc.ServiceRegistrar, srv AdminServiceServer) {
	s.RegisterService(&adminServiceDesc, srv)
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AdminServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetNodeInfo",
			Handler: unaryHandler(methodGetNodeInfo, func(s AdminServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.GetNodeInfo(ctx, in)
			}),
		},
		{
			MethodName: "StartPrimary",
			Handler: unaryHandler(methodStartPrimary, func(s AdminServiceServer, ctx context.Context, in *emptypb.Empty) (proto.Message, error) {
				return s.StartPrimary(ctx, in)
			}),
		},
		{
			MethodName: "StartBackup",
			Handler: unaryHandler(methodStartBackup, func(s AdminServiceServer, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
				return s.StartBackup(ctx, in)
			}),
		},
		{
			MethodName: "AddBackup",
			Handler: unaryHandler(methodAddBackup, func(s AdminServiceServer, ctx context.Context, in *wrapperspb.StringValue) (proto.Message, error) {
				return s.AddBackup(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler adapts a typed method to grpc.MethodDesc.Handler, decoding the
// request into a fresh Req and routing through the server interceptor.
func unaryHandler[Req any, PReq interface {
	*Req
	proto.Message
}](
	fullMethod string,
	call func(AdminServiceServer, context.Context, PReq) (proto.Message, error),
) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PReq(new(Req))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AdminServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AdminServiceServer), ctx, req.(PReq))
		}
		return interceptor(ctx, in, info, handler)
	}
}
