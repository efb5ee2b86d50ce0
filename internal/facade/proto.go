package facade

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// No .proto file backs this service: every RPC exchanges structpb.Struct,
// a protobuf message type the standard library codec already knows how to
// marshal, so the wire schema lives entirely in this package's encode/
// decode helpers rather than in generated code. The ServiceDesc below
// follows the shape protoc-gen-go-grpc emits for a hand-written service,
// down to the per-method handler wrapper convention.
const ServiceName = "raccoon.v1.AgentRuntime"

const (
	AgentRuntime_GetAgentConfig_FullMethodName  = "/" + ServiceName + "/GetAgentConfig"
	AgentRuntime_ValidateTools_FullMethodName   = "/" + ServiceName + "/ValidateTools"
	AgentRuntime_CreateSandbox_FullMethodName   = "/" + ServiceName + "/CreateSandbox"
	AgentRuntime_UploadFile_FullMethodName      = "/" + ServiceName + "/UploadFile"
	AgentRuntime_DestroySandbox_FullMethodName  = "/" + ServiceName + "/DestroySandbox"
	AgentRuntime_ExecuteAgent_FullMethodName    = "/" + ServiceName + "/ExecuteAgent"
	AgentRuntime_ExecuteCode_FullMethodName     = "/" + ServiceName + "/ExecuteCode"
)

// ServerStreamingServer is the server-side handle for both streaming RPCs.
// Every wire message in this service, request or response, is a
// structpb.Struct, so one alias covers ExecuteAgent and ExecuteCode alike.
type ServerStreamingServer = grpc.ServerStreamingServer[structpb.Struct]

// AgentRuntimeServer is the service this package implements. The two
// streaming methods each map one internal event to one SendMsg call; the
// rest are unary pass-throughs.
type AgentRuntimeServer interface {
	GetAgentConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ValidateTools(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSandbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UploadFile(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DestroySandbox(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExecuteAgent(*structpb.Struct, ServerStreamingServer) error
	ExecuteCode(*structpb.Struct, ServerStreamingServer) error
	mustEmbedUnimplementedServer()
}

// UnimplementedServer must be embedded by AgentRuntimeServer implementations
// to get forward-compatible behavior when a method is added to the
// interface later without a corresponding implementation.
type UnimplementedServer struct{}

func (UnimplementedServer) GetAgentConfig(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Errorf(codes.Unimplemented, "method GetAgentConfig not implemented")
}
func (UnimplementedServer) ValidateTools(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Errorf(codes.Unimplemented, "method ValidateTools not implemented")
}
func (UnimplementedServer) CreateSandbox(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Errorf(codes.Unimplemented, "method CreateSandbox not implemented")
}
func (UnimplementedServer) UploadFile(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Errorf(codes.Unimplemented, "method UploadFile not implemented")
}
func (UnimplementedServer) DestroySandbox(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, grpcstatus.Errorf(codes.Unimplemented, "method DestroySandbox not implemented")
}
func (UnimplementedServer) ExecuteAgent(*structpb.Struct, ServerStreamingServer) error {
	return grpcstatus.Errorf(codes.Unimplemented, "method ExecuteAgent not implemented")
}
func (UnimplementedServer) ExecuteCode(*structpb.Struct, ServerStreamingServer) error {
	return grpcstatus.Errorf(codes.Unimplemented, "method ExecuteCode not implemented")
}
func (UnimplementedServer) mustEmbedUnimplementedServer() {}

// RegisterAgentRuntimeServer registers srv with s under ServiceDesc.
func RegisterAgentRuntimeServer(s grpc.ServiceRegistrar, srv AgentRuntimeServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func _AgentRuntime_GetAgentConfig_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRuntimeServer).GetAgentConfig(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentRuntime_GetAgentConfig_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRuntimeServer).GetAgentConfig(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRuntime_ValidateTools_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRuntimeServer).ValidateTools(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentRuntime_ValidateTools_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRuntimeServer).ValidateTools(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRuntime_CreateSandbox_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRuntimeServer).CreateSandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentRuntime_CreateSandbox_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRuntimeServer).CreateSandbox(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRuntime_UploadFile_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRuntimeServer).UploadFile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentRuntime_UploadFile_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRuntimeServer).UploadFile(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRuntime_DestroySandbox_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentRuntimeServer).DestroySandbox(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AgentRuntime_DestroySandbox_FullMethodName}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AgentRuntimeServer).DestroySandbox(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func _AgentRuntime_ExecuteAgent_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentRuntimeServer).ExecuteAgent(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

func _AgentRuntime_ExecuteCode_Handler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(AgentRuntimeServer).ExecuteCode(m, &grpc.GenericServerStream[structpb.Struct, structpb.Struct]{ServerStream: stream})
}

// ServiceDesc is the hand-registered equivalent of what protoc-gen-go-grpc
// would emit for a service with two server-streaming methods and five
// unary ones.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentRuntimeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetAgentConfig", Handler: _AgentRuntime_GetAgentConfig_Handler},
		{MethodName: "ValidateTools", Handler: _AgentRuntime_ValidateTools_Handler},
		{MethodName: "CreateSandbox", Handler: _AgentRuntime_CreateSandbox_Handler},
		{MethodName: "UploadFile", Handler: _AgentRuntime_UploadFile_Handler},
		{MethodName: "DestroySandbox", Handler: _AgentRuntime_DestroySandbox_Handler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "ExecuteAgent", Handler: _AgentRuntime_ExecuteAgent_Handler, ServerStreams: true},
		{StreamName: "ExecuteCode", Handler: _AgentRuntime_ExecuteCode_Handler, ServerStreams: true},
	},
	Metadata: "raccoon/agent_runtime.proto",
}
