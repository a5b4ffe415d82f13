package grpcapi

import (
	"context"

	"google.golang.org/grpc"
)

// OperationServiceServer is the interface Server implements. A real .proto
// would generate this; here it documents the hand-rolled contract that
// service_desc.go's ServiceDesc and RegisterOperationServiceServer expect.
type OperationServiceServer interface {
	StartOperation(context.Context, *StartOperationRequest) (*OperationResponse, error)
	GetOperation(context.Context, *GetOperationRequest) (*OperationResponse, error)
	CancelOperation(context.Context, *CancelOperationRequest) (*CancelOperationResponse, error)
	GetBalance(context.Context, *GetBalanceRequest) (*GetBalanceResponse, error)
	SubscribeProgress(*SubscribeProgressRequest, grpc.ServerStream) error
	SubscribeEvents(*SubscribeEventsRequest, grpc.ServerStream) error
}

const serviceName = "reel.v1.OperationService"

func _OperationService_StartOperation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartOperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).StartOperation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/StartOperation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).StartOperation(ctx, req.(*StartOperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_GetOperation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetOperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).GetOperation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetOperation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).GetOperation(ctx, req.(*GetOperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_GetBalance_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetBalanceRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).GetBalance(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/GetBalance"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).GetBalance(ctx, req.(*GetBalanceRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _OperationService_CancelOperation_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelOperationRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(OperationServiceServer).CancelOperation(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: serviceName + "/CancelOperation"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(OperationServiceServer).CancelOperation(ctx, req.(*CancelOperationRequest))
	}
	return interceptor(ctx, in, info, handler)
}

type operationServiceSubscribeProgressServer struct {
	grpc.ServerStream
}

func _OperationService_SubscribeProgress_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeProgressRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OperationServiceServer).SubscribeProgress(in, &operationServiceSubscribeProgressServer{stream})
}

type operationServiceSubscribeEventsServer struct {
	grpc.ServerStream
}

func _OperationService_SubscribeEvents_Handler(srv interface{}, stream grpc.ServerStream) error {
	in := new(SubscribeEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(OperationServiceServer).SubscribeEvents(in, &operationServiceSubscribeEventsServer{stream})
}

// ServiceDesc is the hand-built analogue of what protoc-gen-go-grpc would
// emit for a service with four unary RPCs and two server-streaming RPCs.
// See codec.go for why this is hand-rolled rather than generated.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OperationServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartOperation", Handler: _OperationService_StartOperation_Handler},
		{MethodName: "GetOperation", Handler: _OperationService_GetOperation_Handler},
		{MethodName: "CancelOperation", Handler: _OperationService_CancelOperation_Handler},
		{MethodName: "GetBalance", Handler: _OperationService_GetBalance_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "SubscribeProgress", Handler: _OperationService_SubscribeProgress_Handler, ServerStreams: true},
		{StreamName: "SubscribeEvents", Handler: _OperationService_SubscribeEvents_Handler, ServerStreams: true},
	},
	Metadata: "reel/operation_service.proto",
}

// RegisterOperationServiceServer mirrors the generated pb.RegisterXServer
// functions the teacher calls in its composition root.
func RegisterOperationServiceServer(s grpc.ServiceRegistrar, srv OperationServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}
