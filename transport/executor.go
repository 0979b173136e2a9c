package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/store"
)

// ExecuteParams is the input to Executor.Execute, matching the
// execute({requestId, requestKey, payloadHash, openaiRequest, taskType,
// attempt, mode, timeoutMs, maxAttempts}) endpoint of §4.5.1.
type ExecuteParams struct {
	RequestKey    string
	PayloadHash   string
	OpenAIRequest []byte
	TaskType      string
	Mode          model.InflightMode
	TimeoutMs     int64
	MaxAttempts   int
	JobID         string
	BlockID       string
	TabID         string
}

// Executor drives the §4.5.3 execute-core state machine over the
// dispatch queue and in-flight table: idempotent lookup by requestKey,
// local-waiter attach, cross-restart attach via queryStatus, and
// classified retry with capped exponential backoff.
type Executor struct {
	Client   RemoteWorkerClient
	Inflight store.InflightStore
	Queue    *DispatchQueue
	Now      func() int64

	mu      sync.Mutex
	waiters map[string]chan executeOutcome
}

type executeOutcome struct {
	resp *ExecuteResponse
	err  error
}

// NewExecutor builds an Executor with its waiter table initialized.
func NewExecutor(client RemoteWorkerClient, inflight store.InflightStore, queue *DispatchQueue, now func() int64) *Executor {
	return &Executor{
		Client:   client,
		Inflight: inflight,
		Queue:    queue,
		Now:      now,
		waiters:  make(map[string]chan executeOutcome),
	}
}

// Execute runs the §4.5.3 state machine for one requestKey: it returns
// the cached result immediately if the row is already done, attaches to
// an in-flight attempt (local or cross-process via queryStatus), or
// dispatches a fresh attempt and retries on a classified-retryable
// failure up to p.MaxAttempts (capped at 4).
func (e *Executor) Execute(ctx context.Context, p ExecuteParams) (*ExecuteResponse, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > 4 {
		maxAttempts = 4
	}

	row, err := e.Inflight.FindByKey(ctx, p.RequestKey)
	if err != nil {
		return nil, orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "find inflight row by key", err)
	}

	if row != nil {
		switch row.Status {
		case model.InflightDone:
			if p.PayloadHash == "" || row.PayloadHash == p.PayloadHash {
				return &ExecuteResponse{OK: true, JSON: row.RawResult}, nil
			}
		case model.InflightPending:
			if resp, attached, err := e.attach(ctx, row); attached {
				return resp, err
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		requestID := uuid.NewString()
		now := e.Now()
		if err := e.Inflight.Upsert(ctx, requestID, func(r *model.InflightRow) {
			r.RequestID = requestID
			r.RequestKey = p.RequestKey
			r.PayloadHash = p.PayloadHash
			r.TaskType = p.TaskType
			r.Attempt = attempt
			r.Status = model.InflightPending
			r.Mode = p.Mode
			r.Meta = model.InflightMeta{JobID: p.JobID, BlockID: p.BlockID}
			r.StartedAt = now
			r.AttemptDeadlineTs = now + p.TimeoutMs
			r.LeaseUntilTs = e.Inflight.NextLease(now, 30*time.Second)
		}); err != nil {
			return nil, orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "write pending inflight row", err)
		}

		resp, err := e.dispatch(ctx, requestID, p, attempt, maxAttempts)
		if err == nil {
			_ = e.Inflight.MarkDone(ctx, requestID, resp.JSON)
			return resp, nil
		}

		if code, ok := orcerr.CodeOf(err); ok && code == orcerr.CodeAborted {
			_ = e.Inflight.MarkCancelled(ctx, requestID)
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			_ = e.Inflight.MarkFailed(ctx, requestID, &model.LastError{Code: string(codeOf(err)), Message: err.Error()})
			return nil, err
		}

		backoff := time.Duration(250*(1<<uint(attempt-1))) * time.Millisecond
		if backoff > 2000*time.Millisecond {
			backoff = 2000 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// attach tries to join an already-pending row: a local waiter if this
// process dispatched it, otherwise a cross-process queryStatus probe
// (the restart-recovery path of §4.5.1's recoverInflightRequests, reused
// here for the "someone else in this process already has it pending"
// case too).
func (e *Executor) attach(ctx context.Context, row *model.InflightRow) (*ExecuteResponse, bool, error) {
	e.mu.Lock()
	ch, ok := e.waiters[row.RequestID]
	e.mu.Unlock()
	if ok {
		select {
		case out := <-ch:
			return out.resp, true, out.err
		case <-ctx.Done():
			return nil, true, ctx.Err()
		}
	}

	resp, err := e.Client.QueryStatus(ctx, &QueryStatusRequest{RequestIDs: []string{row.RequestID}})
	if err != nil || resp == nil || len(resp.Entries) == 0 {
		return nil, false, nil
	}
	entry := resp.Entries[0]
	switch entry.Status {
	case string(model.InflightDone):
		if entry.Result != nil {
			_ = e.Inflight.MarkDone(ctx, row.RequestID, entry.Result.JSON)
			return entry.Result, true, nil
		}
	case string(model.InflightPending):
		return nil, false, nil
	}
	return nil, false, nil
}

// dispatch enqueues the request, waits for a concurrency slot, and
// performs the actual worker call, registering a local waiter channel so
// a concurrent caller for the same requestKey can attach instead of
// double-dispatching.
func (e *Executor) dispatch(ctx context.Context, requestID string, p ExecuteParams, attempt, maxAttempts int) (*ExecuteResponse, error) {
	ch := make(chan executeOutcome, 1)
	e.mu.Lock()
	e.waiters[requestID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiters, requestID)
		e.mu.Unlock()
	}()

	if err := e.Queue.Enqueue(QueueEntry{RequestID: requestID, JobID: p.JobID, TabID: p.TabID}); err != nil {
		return nil, orcerr.Wrap(orcerr.CodeOffscreenBackpressure, err.Error(), err)
	}
	for {
		if _, ok := e.Queue.Next(); ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer e.Queue.Release()

	resp, err := e.Client.Execute(ctx, &ExecuteRequest{
		RequestID:     requestID,
		RequestKey:    p.RequestKey,
		PayloadHash:   p.PayloadHash,
		OpenAIRequest: p.OpenAIRequest,
		TaskType:      p.TaskType,
		Attempt:       int32(attempt),
		Mode:          string(p.Mode),
		TimeoutMs:     p.TimeoutMs,
		MaxAttempts:   int32(maxAttempts),
	})
	out := executeOutcome{resp: resp, err: nil}
	if err != nil {
		out.err = orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "remote worker execute call failed", err)
	} else if resp == nil || !resp.OK {
		msg := "remote worker reported failure"
		if resp != nil && resp.Error != nil {
			msg = resp.Error.Message
		}
		out.err = orcerr.New(orcerr.CodeOffscreenExecuteFailed, msg)
	}
	ch <- out
	return out.resp, out.err
}

// StreamHeartbeatIntervalMs throttles touchStreamHeartbeat during a
// streaming execute: at most one heartbeat per 120 ms burst of events
// (§4.5.1).
const StreamHeartbeatIntervalMs = 120

// ExecuteStream is Execute's streaming variant (§4.5.1): identical
// idempotent-by-key and retry semantics, but the worker call streams
// incremental events to onEvent and each event burst touches the
// in-flight row's stream heartbeat, at most once per
// StreamHeartbeatIntervalMs.
func (e *Executor) ExecuteStream(ctx context.Context, p ExecuteParams, onEvent func(StreamEvent)) (*ExecuteResponse, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > 4 {
		maxAttempts = 4
	}

	row, err := e.Inflight.FindByKey(ctx, p.RequestKey)
	if err != nil {
		return nil, orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "find inflight row by key", err)
	}
	if row != nil {
		switch row.Status {
		case model.InflightDone:
			if p.PayloadHash == "" || row.PayloadHash == p.PayloadHash {
				return &ExecuteResponse{OK: true, JSON: row.RawResult}, nil
			}
		case model.InflightPending:
			if resp, attached, err := e.attach(ctx, row); attached {
				return resp, err
			}
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		requestID := uuid.NewString()
		now := e.Now()
		if err := e.Inflight.Upsert(ctx, requestID, func(r *model.InflightRow) {
			r.RequestID = requestID
			r.RequestKey = p.RequestKey
			r.PayloadHash = p.PayloadHash
			r.TaskType = p.TaskType
			r.Attempt = attempt
			r.Status = model.InflightPending
			r.Mode = model.InflightStream
			r.Meta = model.InflightMeta{JobID: p.JobID, BlockID: p.BlockID}
			r.StartedAt = now
			r.AttemptDeadlineTs = now + p.TimeoutMs
			r.LeaseUntilTs = e.Inflight.NextLease(now, 30*time.Second)
		}); err != nil {
			return nil, orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "write pending inflight row", err)
		}

		resp, err := e.streamDispatch(ctx, requestID, p, attempt, maxAttempts, onEvent)
		if err == nil {
			_ = e.Inflight.MarkDone(ctx, requestID, resp.JSON)
			return resp, nil
		}

		if code, ok := orcerr.CodeOf(err); ok && code == orcerr.CodeAborted {
			_ = e.Inflight.MarkCancelled(ctx, requestID)
			return nil, err
		}

		lastErr = err
		if attempt == maxAttempts {
			_ = e.Inflight.MarkFailed(ctx, requestID, &model.LastError{Code: string(codeOf(err)), Message: err.Error()})
			return nil, err
		}

		backoff := time.Duration(250*(1<<uint(attempt-1))) * time.Millisecond
		if backoff > 2000*time.Millisecond {
			backoff = 2000 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, lastErr
}

// streamDispatch performs one streaming worker call: consume events until
// the terminal Done event, forwarding each to onEvent and heartbeating
// the in-flight row at most once per StreamHeartbeatIntervalMs.
func (e *Executor) streamDispatch(ctx context.Context, requestID string, p ExecuteParams, attempt, maxAttempts int, onEvent func(StreamEvent)) (*ExecuteResponse, error) {
	ch := make(chan executeOutcome, 1)
	e.mu.Lock()
	e.waiters[requestID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.waiters, requestID)
		e.mu.Unlock()
	}()

	if err := e.Queue.Enqueue(QueueEntry{RequestID: requestID, JobID: p.JobID, TabID: p.TabID}); err != nil {
		return nil, orcerr.Wrap(orcerr.CodeOffscreenBackpressure, err.Error(), err)
	}
	for {
		if _, ok := e.Queue.Next(); ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
	defer e.Queue.Release()

	stream, err := e.Client.ExecuteStream(ctx, &ExecuteRequest{
		RequestID:     requestID,
		RequestKey:    p.RequestKey,
		PayloadHash:   p.PayloadHash,
		OpenAIRequest: p.OpenAIRequest,
		TaskType:      p.TaskType,
		Attempt:       int32(attempt),
		Mode:          string(model.InflightStream),
		TimeoutMs:     p.TimeoutMs,
		MaxAttempts:   int32(maxAttempts),
	})
	if err != nil {
		out := executeOutcome{err: orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "remote worker executeStream call failed", err)}
		ch <- out
		return nil, out.err
	}

	var lastHeartbeat int64
	for {
		event, err := stream.Recv()
		if err != nil {
			out := executeOutcome{err: orcerr.Wrap(orcerr.CodeOffscreenPortDisconnected, "stream receive failed", err)}
			ch <- out
			return nil, out.err
		}
		if onEvent != nil {
			onEvent(*event)
		}
		if event.Done {
			out := executeOutcome{resp: event.Final}
			if event.Final == nil || !event.Final.OK {
				msg := "remote worker reported stream failure"
				if event.Final != nil && event.Final.Error != nil {
					msg = event.Final.Error.Message
				}
				out.err = orcerr.New(orcerr.CodeOffscreenExecuteFailed, msg)
			}
			ch <- out
			return out.resp, out.err
		}
		now := e.Now()
		if now-lastHeartbeat >= StreamHeartbeatIntervalMs {
			lastHeartbeat = now
			_ = e.Inflight.TouchStreamHeartbeat(ctx, requestID, event.Preview, e.Inflight.NextLease(now, 30*time.Second))
		}
	}
}

// Cancel cancels a single outstanding request (§4.5.1): the worker is
// told to abort it, the in-flight row moves to cancelled, and any local
// waiter is rejected with ABORTED.
func (e *Executor) Cancel(ctx context.Context, requestID string) error {
	if _, err := e.Client.Cancel(ctx, &CancelRequest{RequestID: requestID}); err != nil {
		return orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "cancel rpc failed", err)
	}
	_ = e.Inflight.MarkCancelled(ctx, requestID)
	e.mu.Lock()
	ch, ok := e.waiters[requestID]
	delete(e.waiters, requestID)
	e.mu.Unlock()
	if ok {
		select {
		case ch <- executeOutcome{err: orcerr.New(orcerr.CodeAborted, "request cancelled")}:
		default:
		}
	}
	return nil
}

func codeOf(err error) orcerr.Code {
	if code, ok := orcerr.CodeOf(err); ok {
		return code
	}
	return orcerr.CodeOffscreenExecuteFailed
}

// CancelByJobID cancels every outstanding request for jobID, both in the
// worker (via cancelByJobId) and locally in the in-flight table.
func (e *Executor) CancelByJobID(ctx context.Context, jobID string, maxRequests int) error {
	if _, err := e.Client.CancelByJob(ctx, &CancelByJobRequest{JobID: jobID, MaxRequests: int32(maxRequests)}); err != nil {
		return orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "cancelByJob rpc failed", err)
	}
	rows, err := e.Inflight.ListPending(ctx, maxRequests)
	if err != nil {
		return err
	}
	for _, row := range rows {
		if row.Meta.JobID != jobID {
			continue
		}
		_ = e.Inflight.MarkCancelled(ctx, row.RequestID)
		e.mu.Lock()
		ch, ok := e.waiters[row.RequestID]
		delete(e.waiters, row.RequestID)
		e.mu.Unlock()
		if ok {
			select {
			case ch <- executeOutcome{err: orcerr.New(orcerr.CodeAborted, "request cancelled with its job")}:
			default:
			}
		}
	}
	return nil
}

// GetCachedResult returns a completed result for requestID if one still
// exists, either locally or via the worker.
func (e *Executor) GetCachedResult(ctx context.Context, requestID string) (*ExecuteResponse, error) {
	row, err := e.Inflight.Get(ctx, requestID)
	if err == nil && row != nil && row.Status == model.InflightDone {
		return &ExecuteResponse{OK: true, JSON: row.RawResult}, nil
	}
	resp, err := e.Client.GetCachedResult(ctx, &GetCachedResultRequest{RequestID: requestID})
	if err != nil {
		return nil, orcerr.Wrap(orcerr.CodeOffscreenExecuteFailed, "getCachedResult rpc failed", err)
	}
	return resp, nil
}

// RecoverInflightRequests implements §4.5.1's restart-recovery endpoint:
// for every still-pending row (bounded by limit), query the worker's
// current status and either adopt a completed result, re-attach to a
// genuinely ongoing call, or mark the row OFFSCREEN_REQUEST_LOST.
func (e *Executor) RecoverInflightRequests(ctx context.Context, limit int) error {
	rows, err := e.Inflight.ListPending(ctx, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.RequestID
	}

	resp, err := e.Client.QueryStatus(ctx, &QueryStatusRequest{RequestIDs: ids})
	if err != nil {
		return fmt.Errorf("transport: recover inflight requests: %w", err)
	}

	statusByID := make(map[string]QueryStatusEntry, len(resp.Entries))
	for _, entry := range resp.Entries {
		statusByID[entry.RequestID] = entry
	}

	for _, row := range rows {
		entry, found := statusByID[row.RequestID]
		if !found {
			_ = e.Inflight.MarkFailed(ctx, row.RequestID, &model.LastError{
				Code:    string(orcerr.CodeOffscreenRequestLost),
				Message: "worker has no record of this request after restart",
			})
			continue
		}
		switch entry.Status {
		case string(model.InflightDone):
			if entry.Result != nil {
				_ = e.Inflight.MarkDone(ctx, row.RequestID, entry.Result.JSON)
			}
		case string(model.InflightPending):
			// Still genuinely running on the worker; leave pending so a
			// subsequent Execute call for the same key attaches via
			// queryStatus again instead of re-dispatching.
		default:
			_ = e.Inflight.MarkFailed(ctx, row.RequestID, &model.LastError{
				Code:    string(orcerr.CodeOffscreenRequestLost),
				Message: "worker reported a terminal non-done status on recovery: " + entry.Status,
			})
		}
	}
	return nil
}
