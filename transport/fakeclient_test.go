package transport

import (
	"context"

	"google.golang.org/grpc"
)

// fakeWorkerClient is a scriptable RemoteWorkerClient used across this
// package's tests, standing in for a dispensed go-plugin worker the way
// the teacher's own fake LLM providers stand in for a real API call.
type fakeWorkerClient struct {
	executeResp      *ExecuteResponse
	executeErr       error
	executeCalls     int
	cancelResp       *CancelResponse
	cancelByJobResp  *CancelByJobResponse
	cancelByJobErr   error
	queryStatusResp  *QueryStatusResponse
	queryStatusErr   error
	cachedResultResp *ExecuteResponse
	cachedResultErr  error
	handshakeResp    *HandshakeResponse
	handshakeErr     error
	streamEvents     []*StreamEvent
	streamErr        error
	streamCalls      int
}

func (c *fakeWorkerClient) Execute(_ context.Context, _ *ExecuteRequest, _ ...grpc.CallOption) (*ExecuteResponse, error) {
	c.executeCalls++
	return c.executeResp, c.executeErr
}

func (c *fakeWorkerClient) ExecuteStream(_ context.Context, _ *ExecuteRequest, _ ...grpc.CallOption) (RemoteWorker_ExecuteStreamClient, error) {
	c.streamCalls++
	if c.streamErr != nil {
		return nil, c.streamErr
	}
	return &fakeStreamClient{events: c.streamEvents}, nil
}

// fakeStreamClient replays a scripted event sequence. The embedded
// grpc.ClientStream is never touched — the executor only calls Recv.
type fakeStreamClient struct {
	grpc.ClientStream
	events []*StreamEvent
	pos    int
}

func (s *fakeStreamClient) Recv() (*StreamEvent, error) {
	if s.pos >= len(s.events) {
		return nil, context.Canceled
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (c *fakeWorkerClient) Cancel(_ context.Context, _ *CancelRequest, _ ...grpc.CallOption) (*CancelResponse, error) {
	return c.cancelResp, nil
}

func (c *fakeWorkerClient) CancelByJob(_ context.Context, _ *CancelByJobRequest, _ ...grpc.CallOption) (*CancelByJobResponse, error) {
	return c.cancelByJobResp, c.cancelByJobErr
}

func (c *fakeWorkerClient) QueryStatus(_ context.Context, _ *QueryStatusRequest, _ ...grpc.CallOption) (*QueryStatusResponse, error) {
	return c.queryStatusResp, c.queryStatusErr
}

func (c *fakeWorkerClient) GetCachedResult(_ context.Context, _ *GetCachedResultRequest, _ ...grpc.CallOption) (*ExecuteResponse, error) {
	return c.cachedResultResp, c.cachedResultErr
}

func (c *fakeWorkerClient) Handshake(_ context.Context, _ *HandshakeRequest, _ ...grpc.CallOption) (*HandshakeResponse, error) {
	return c.handshakeResp, c.handshakeErr
}
