package transport

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "transport.RemoteWorker"

// RemoteWorkerServer is the contract the out-of-process worker binary
// implements, one method per §4.5.1 endpoint.
type RemoteWorkerServer interface {
	Execute(context.Context, *ExecuteRequest) (*ExecuteResponse, error)
	ExecuteStream(*ExecuteRequest, RemoteWorker_ExecuteStreamServer) error
	Cancel(context.Context, *CancelRequest) (*CancelResponse, error)
	CancelByJob(context.Context, *CancelByJobRequest) (*CancelByJobResponse, error)
	QueryStatus(context.Context, *QueryStatusRequest) (*QueryStatusResponse, error)
	GetCachedResult(context.Context, *GetCachedResultRequest) (*ExecuteResponse, error)
	Handshake(context.Context, *HandshakeRequest) (*HandshakeResponse, error)
}

// RemoteWorker_ExecuteStreamServer is the server-side handle for a
// streaming executeStream call.
type RemoteWorker_ExecuteStreamServer interface {
	Send(*StreamEvent) error
	grpc.ServerStream
}

type remoteWorkerExecuteStreamServer struct {
	grpc.ServerStream
}

func (s *remoteWorkerExecuteStreamServer) Send(m *StreamEvent) error {
	return s.ServerStream.SendMsg(m)
}

// RemoteWorkerClient is the client-side contract the transport uses to
// talk to the dispensed plugin.
type RemoteWorkerClient interface {
	Execute(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error)
	ExecuteStream(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (RemoteWorker_ExecuteStreamClient, error)
	Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error)
	CancelByJob(ctx context.Context, in *CancelByJobRequest, opts ...grpc.CallOption) (*CancelByJobResponse, error)
	QueryStatus(ctx context.Context, in *QueryStatusRequest, opts ...grpc.CallOption) (*QueryStatusResponse, error)
	GetCachedResult(ctx context.Context, in *GetCachedResultRequest, opts ...grpc.CallOption) (*ExecuteResponse, error)
	Handshake(ctx context.Context, in *HandshakeRequest, opts ...grpc.CallOption) (*HandshakeResponse, error)
}

// RemoteWorker_ExecuteStreamClient is the client-side handle for a
// streaming executeStream call.
type RemoteWorker_ExecuteStreamClient interface {
	Recv() (*StreamEvent, error)
	grpc.ClientStream
}

type remoteWorkerExecuteStreamClient struct {
	grpc.ClientStream
}

func (x *remoteWorkerExecuteStreamClient) Recv() (*StreamEvent, error) {
	m := new(StreamEvent)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type remoteWorkerClient struct {
	cc grpc.ClientConnInterface
}

// NewRemoteWorkerClient wraps a *grpc.ClientConn (as dispensed by
// go-plugin's GRPCClient callback) in a RemoteWorkerClient.
func NewRemoteWorkerClient(cc grpc.ClientConnInterface) RemoteWorkerClient {
	return &remoteWorkerClient{cc: cc}
}

func (c *remoteWorkerClient) Execute(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Execute", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteWorkerClient) ExecuteStream(ctx context.Context, in *ExecuteRequest, opts ...grpc.CallOption) (RemoteWorker_ExecuteStreamClient, error) {
	stream, err := c.cc.NewStream(ctx, &remoteWorkerServiceDesc.Streams[0], "/"+serviceName+"/ExecuteStream", opts...)
	if err != nil {
		return nil, err
	}
	x := &remoteWorkerExecuteStreamClient{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

func (c *remoteWorkerClient) Cancel(ctx context.Context, in *CancelRequest, opts ...grpc.CallOption) (*CancelResponse, error) {
	out := new(CancelResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Cancel", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteWorkerClient) CancelByJob(ctx context.Context, in *CancelByJobRequest, opts ...grpc.CallOption) (*CancelByJobResponse, error) {
	out := new(CancelByJobResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/CancelByJob", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteWorkerClient) QueryStatus(ctx context.Context, in *QueryStatusRequest, opts ...grpc.CallOption) (*QueryStatusResponse, error) {
	out := new(QueryStatusResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/QueryStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteWorkerClient) GetCachedResult(ctx context.Context, in *GetCachedResultRequest, opts ...grpc.CallOption) (*ExecuteResponse, error) {
	out := new(ExecuteResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/GetCachedResult", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *remoteWorkerClient) Handshake(ctx context.Context, in *HandshakeRequest, opts ...grpc.CallOption) (*HandshakeResponse, error) {
	out := new(HandshakeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/Handshake", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _RemoteWorker_Execute_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ExecuteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).Execute(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Execute"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).Execute(ctx, req.(*ExecuteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_Cancel_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).Cancel(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Cancel"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).Cancel(ctx, req.(*CancelRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_CancelByJob_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CancelByJobRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).CancelByJob(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/CancelByJob"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).CancelByJob(ctx, req.(*CancelByJobRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_QueryStatus_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(QueryStatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).QueryStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/QueryStatus"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).QueryStatus(ctx, req.(*QueryStatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_GetCachedResult_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetCachedResultRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).GetCachedResult(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetCachedResult"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).GetCachedResult(ctx, req.(*GetCachedResultRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_Handshake_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(HandshakeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(RemoteWorkerServer).Handshake(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/Handshake"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(RemoteWorkerServer).Handshake(ctx, req.(*HandshakeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _RemoteWorker_ExecuteStream_Handler(srv any, stream grpc.ServerStream) error {
	m := new(ExecuteRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(RemoteWorkerServer).ExecuteStream(m, &remoteWorkerExecuteStreamServer{stream})
}

var remoteWorkerServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*RemoteWorkerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Execute", Handler: _RemoteWorker_Execute_Handler},
		{MethodName: "Cancel", Handler: _RemoteWorker_Cancel_Handler},
		{MethodName: "CancelByJob", Handler: _RemoteWorker_CancelByJob_Handler},
		{MethodName: "QueryStatus", Handler: _RemoteWorker_QueryStatus_Handler},
		{MethodName: "GetCachedResult", Handler: _RemoteWorker_GetCachedResult_Handler},
		{MethodName: "Handshake", Handler: _RemoteWorker_Handshake_Handler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "ExecuteStream",
			Handler:       _RemoteWorker_ExecuteStream_Handler,
			ServerStreams: true,
		},
	},
	Metadata: "transport/remoteworker.proto",
}

// RegisterRemoteWorkerServer registers srv against s, the same role
// protoc-gen-go-grpc's generated RegisterXServer function plays.
func RegisterRemoteWorkerServer(s grpc.ServiceRegistrar, srv RemoteWorkerServer) {
	s.RegisterService(&remoteWorkerServiceDesc, srv)
}
