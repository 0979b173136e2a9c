// Package transport implements the Remote Executor Transport (§4.5): the
// bridge between the orchestrator and an out-of-process worker that
// performs the actual model call, modeled as a go-plugin gRPC subprocess
// exactly as pkg/plugins/grpc/loader.go dispenses LLM/database/embedder
// plugins, here dispensing a RemoteWorker service instead.
package transport

// The RemoteWorker wire messages below are hand-maintained rather than
// protoc-generated: no protoc step runs in this environment, so these
// carry the same field shapes generated code would produce, marshaled
// over gRPC with the json codec in codec.go instead of the protobuf wire
// format. Any real worker binary dispensed against this service must link
// the same codec for the wire format to match.

// ExecuteRequest is the execute/executeStream request envelope (§4.5.1).
type ExecuteRequest struct {
	RequestID     string `json:"requestId"`
	RequestKey    string `json:"requestKey"`
	PayloadHash   string `json:"payloadHash"`
	OpenAIRequest []byte `json:"openaiRequest"`
	TaskType      string `json:"taskType"`
	Attempt       int32  `json:"attempt"`
	Mode          string `json:"mode"`
	TimeoutMs     int64  `json:"timeoutMs"`
	MaxAttempts   int32  `json:"maxAttempts"`
}

// RemoteError is the {code, message} pair a failed worker call returns.
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ExecuteResponse is the execute response envelope, also reused as the
// "final" payload of a completed stream and the result of
// getCachedResult.
type ExecuteResponse struct {
	OK      bool              `json:"ok"`
	Status  int32             `json:"status,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	JSON    []byte            `json:"json,omitempty"`
	Error   *RemoteError      `json:"error,omitempty"`
}

// StreamEvent is one incremental executeStream event. A non-final event
// carries Preview only; the terminal event carries Done=true and Final.
type StreamEvent struct {
	RequestID string           `json:"requestId"`
	Preview   string           `json:"preview,omitempty"`
	Done      bool             `json:"done,omitempty"`
	Final     *ExecuteResponse `json:"final,omitempty"`
}

// CancelRequest targets a single requestId.
type CancelRequest struct {
	RequestID string `json:"requestId"`
}

// CancelResponse acknowledges a cancel.
type CancelResponse struct {
	OK bool `json:"ok"`
}

// CancelByJobRequest targets every outstanding request for a jobId,
// bounded by MaxRequests.
type CancelByJobRequest struct {
	JobID       string `json:"jobId"`
	MaxRequests int32  `json:"maxRequests"`
}

// CancelByJobResponse reports how many requests were cancelled.
type CancelByJobResponse struct {
	Cancelled int32 `json:"cancelled"`
}

// QueryStatusRequest asks the worker for the current status of a batch of
// requestIds, used by recoverInflightRequests on restart.
type QueryStatusRequest struct {
	RequestIDs []string `json:"requestIds"`
}

// QueryStatusEntry is one requestId's reported status.
type QueryStatusEntry struct {
	RequestID string           `json:"requestId"`
	Status    string           `json:"status"`
	Result    *ExecuteResponse `json:"result,omitempty"`
}

// QueryStatusResponse is the batch response to QueryStatusRequest.
type QueryStatusResponse struct {
	Entries []QueryStatusEntry `json:"entries"`
}

// GetCachedResultRequest asks for a completed result the worker (or its
// own store) may still be holding for requestId.
type GetCachedResultRequest struct {
	RequestID string `json:"requestId"`
}

// HandshakeRequest is sent to request the worker's signed identity
// assertion before any execute/attach call is accepted.
type HandshakeRequest struct{}

// HandshakeResponse carries the worker's short-lived signed JWT (verified
// by HandshakeSigner.Verify in handshake.go) alongside the worker id it
// claims to be.
type HandshakeResponse struct {
	OK       bool   `json:"ok"`
	WorkerID string `json:"workerId"`
	Token    string `json:"token"`
}
