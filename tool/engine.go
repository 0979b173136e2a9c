package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestrator/internal/canonjson"
	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
)

// DefaultLeaseMs is the lease duration granted to side-effecting tool
// outputs (§4.2.5 step 3).
const DefaultLeaseMs = 30_000

// MinDebounceMs is the §5 "Coalesce debounce: floor 8 ms" rule.
const MinDebounceMs = 8

// ExecuteToolCallRequest is executeToolCall's argument object (§4.2.1).
type ExecuteToolCallRequest struct {
	Job        *model.Job
	Stage      string
	ResponseID string
	CallID     string
	ToolName   string
	ToolArgs   map[string]any
	ExecuteNow bool   // mirrors args.isFinal — bypasses coalescing and flushes first
	Source     Source // defaults to SourceModel when zero
}

// ExecuteToolCallResult is executeToolCall's return value (§4.2.1).
type ExecuteToolCallResult struct {
	OutputString string
	Status       model.TraceStatus
	ArgsHash     string
}

// Persist is the non-owning callback the engine uses to durably save the
// job after every transition it makes, matching the Design Notes' "AgentRunner
// holds a non-owning reference to the JobStore via a persistence callback"
// pattern — here reused for the execution engine, which owns the same
// persist-after-transition obligation (§5).
type Persist func(ctx context.Context, job *model.Job) error

// Engine is the Tool Execution Engine (§4.2): the per-job QoS layer in
// front of the Registry's tool implementations.
//
// Coalescing is drained lazily rather than by a background timer: a
// pending entry becomes "due" once debounceMs has elapsed since its last
// update, and the engine only notices that on the next call into it for
// the same tool (a fresh call, an isFinal flush, or the scheduler's
// periodic FlushDueCoalesced sweep). This keeps every state mutation on
// the single cooperative path a job is already processed on (§5) instead
// of introducing a goroutine that would race the job's owning scheduler
// tick.
type Engine struct {
	registry *Registry
	persist  Persist
	now      func() int64 // now in epoch milliseconds, injectable for tests

	tracer trace.Tracer
}

// NewEngine constructs an Engine. persist may be nil, in which case the
// engine mutates the in-memory job only (used by tests).
func NewEngine(registry *Registry, persist Persist) *Engine {
	return &Engine{
		registry: registry,
		persist:  persist,
		now:      func() int64 { return time.Now().UnixMilli() },
		tracer:   otel.Tracer("orchestrator/tool"),
	}
}

// ExecuteToolCall is the engine's single entry point (§4.2.1).
func (e *Engine) ExecuteToolCall(ctx context.Context, req ExecuteToolCallRequest) (ExecuteToolCallResult, error) {
	ctx, span := e.tracer.Start(ctx, "ToolExecutionEngine.ExecuteToolCall",
		trace.WithAttributes(attribute.String("tool.name", req.ToolName), attribute.String("tool.call_id", req.CallID)))
	defer span.End()

	job := req.Job
	state := job.AgentState
	tsStart := e.now()

	def, handler, ok := e.registry.Lookup(req.ToolName)
	if !ok {
		return e.cacheAndFail(ctx, req, tsStart, string(orcerr.CodeToolExecFailed), fmt.Sprintf("unknown tool %q", req.ToolName))
	}

	argsHash, err := canonjson.FNV1aHex(req.ToolName, req.ToolArgs)
	if err != nil {
		return e.cacheAndFail(ctx, req, tsStart, string(orcerr.CodeToolExecFailed), "failed to hash arguments")
	}

	if errs := ValidateArgs(def.ParametersJSONSchema, req.ToolArgs); len(errs) > 0 {
		return e.schemaInvalid(ctx, req, def, tsStart, argsHash, errs)
	}

	if result, hit, err := e.checkIdempotency(ctx, req, def, argsHash); hit {
		return result, err
	}

	isFinal, _ := req.ToolArgs["isFinal"].(bool)
	isFinal = isFinal || req.ExecuteNow
	coalesceEligible := def.QoS.CoalesceKey != "" && def.QoS.DebounceMs > 0
	var keyVal string
	if coalesceEligible {
		if v, ok := req.ToolArgs[def.QoS.CoalesceKey]; ok {
			keyVal = fmt.Sprint(v)
		} else {
			coalesceEligible = false
		}
	}

	if coalesceEligible && isFinal {
		entryKey := req.ToolName + ":" + keyVal
		if entry := state.ToolRuntime.CoalescedPending[entryKey]; entry != nil {
			return e.flushEntry(ctx, job, def, req, entryKey, entry, req.CallID, argsHash, tsStart)
		}
		// No pending entry: fall through to a direct, uncoalesced execution.
	} else if coalesceEligible && !isFinal {
		return e.acceptCoalesced(ctx, job, def, req, keyVal, argsHash, tsStart)
	}

	e.drainDueEntries(ctx, job, def, req.ToolName)

	return e.executeDirect(ctx, handler, job, def, req, argsHash, tsStart)
}

// checkIdempotency implements §4.2.2. The bool return is true whenever the
// call short-circuits (cache hit); the error is whatever ExecuteToolCall
// should return to its caller.
func (e *Engine) checkIdempotency(ctx context.Context, req ExecuteToolCallRequest, def model.ToolDefinition, argsHash string) (ExecuteToolCallResult, bool, error) {
	state := req.Job.AgentState
	now := e.now()

	switch def.Idempotency.Mode {
	case model.IdempotencyByCallID:
		out, ok := state.ToolOutputsByCallID[req.CallID]
		if !ok {
			return ExecuteToolCallResult{}, false, nil
		}
		if out.ExecutionState == model.ToolExecutionAcceptedPending && out.LeaseUntilTs > 0 && out.LeaseUntilTs < now {
			delete(state.ToolOutputsByCallID, req.CallID)
			return ExecuteToolCallResult{}, false, nil
		}
		e.appendTrace(req.Job, req, model.TraceSkipped, "", now, now, argsHash, 0, nil, 0)
		e.maybePersist(ctx, req.Job)
		return ExecuteToolCallResult{OutputString: out.OutputString, Status: model.TraceSkipped, ArgsHash: argsHash}, true, nil

	case model.IdempotencyByArgsHash:
		key := req.ToolName + ":" + argsHash
		cached, ok := state.ToolOutputsByArgsHash[key]
		if !ok {
			return ExecuteToolCallResult{}, false, nil
		}
		if def.QoS.CacheTtlMs > 0 && now-cached.Ts > def.QoS.CacheTtlMs {
			return ExecuteToolCallResult{}, false, nil
		}
		state.ToolOutputsByCallID[req.CallID] = model.ToolOutput{
			OutputString: cached.OutputString, ToolVersion: def.ToolVersion, ArgsHash: argsHash,
			Ts: now, ExecutionState: model.ToolExecutionCompleted,
		}
		e.appendTrace(req.Job, req, model.TraceSkipped, "", now, now, argsHash, 0, nil, 0)
		e.maybePersist(ctx, req.Job)
		return ExecuteToolCallResult{OutputString: cached.OutputString, Status: model.TraceSkipped, ArgsHash: argsHash}, true, nil

	default:
		return ExecuteToolCallResult{}, false, nil
	}
}

// queueDepth helpers keep the inc/dec pairing invariant (§3.1, §8,
// resolving Open Question 1: the coalesced-backpressure path always pairs).

func (e *Engine) incQueue(job *model.Job, tool string) int {
	job.AgentState.ToolRuntime.QueueDepthByTool[tool]++
	return job.AgentState.ToolRuntime.QueueDepthByTool[tool]
}

func (e *Engine) decQueue(job *model.Job, tool string) {
	d := job.AgentState.ToolRuntime.QueueDepthByTool[tool]
	if d > 0 {
		job.AgentState.ToolRuntime.QueueDepthByTool[tool] = d - 1
	}
}

func (e *Engine) addReport(job *model.Job, severity model.ReportSeverity, message string) {
	job.AgentState.Reports = append(job.AgentState.Reports, model.Report{Severity: severity, Message: message, Ts: e.now()})
}

func (e *Engine) schemaInvalid(ctx context.Context, req ExecuteToolCallRequest, def model.ToolDefinition, tsStart int64, argsHash string, errs []ValidationError) (ExecuteToolCallResult, error) {
	payload := map[string]any{
		"ok": false,
		"error": map[string]any{
			"code":    string(orcerr.CodeToolArgsInvalid),
			"message": "tool arguments failed schema validation",
			"paths":   validationPaths(errs),
		},
	}
	out := mustJSON(payload)
	e.cacheOutput(req.Job, req.CallID, out, def.ToolVersion, argsHash, 0)
	tsEnd := e.now()
	e.appendTrace(req.Job, req, model.TraceFailed, string(orcerr.CodeToolArgsInvalid), tsStart, tsEnd, argsHash, 0, nil, 0)
	e.maybePersist(ctx, req.Job)
	return ExecuteToolCallResult{OutputString: out, Status: model.TraceFailed, ArgsHash: argsHash}, nil
}

func validationPaths(errs []ValidationError) []string {
	paths := make([]string, 0, len(errs))
	for _, e := range errs {
		paths = append(paths, e.Path)
	}
	return paths
}

func (e *Engine) cacheAndFail(ctx context.Context, req ExecuteToolCallRequest, tsStart int64, code, message string) (ExecuteToolCallResult, error) {
	argsHash, _ := canonjson.FNV1aHex(req.ToolName, req.ToolArgs)
	out := mustJSON(map[string]any{"ok": false, "error": map[string]any{"code": code, "message": message}})
	e.cacheOutput(req.Job, req.CallID, out, "1.0.0", argsHash, 0)
	tsEnd := e.now()
	e.appendTrace(req.Job, req, model.TraceFailed, code, tsStart, tsEnd, argsHash, 0, nil, 0)
	e.maybePersist(ctx, req.Job)
	return ExecuteToolCallResult{OutputString: out, Status: model.TraceFailed, ArgsHash: argsHash}, nil
}

func (e *Engine) cacheOutput(job *model.Job, callID, output, toolVersion, argsHash string, leaseUntilTs int64) {
	job.AgentState.ToolOutputsByCallID[callID] = model.ToolOutput{
		OutputString: output, ToolVersion: toolVersion, ArgsHash: argsHash,
		Ts: e.now(), ExecutionState: model.ToolExecutionCompleted, LeaseUntilTs: leaseUntilTs,
	}
}

func (e *Engine) appendTrace(job *model.Job, req ExecuteToolCallRequest, status model.TraceStatus, errorCode string, tsStart, tsEnd int64, argsHash string, coalescedCount int, latencyMs *int64, leaseUntilTs int64) {
	state := job.AgentState
	qos := model.QoSTrace{
		QueueDepth: state.ToolRuntime.QueueDepthByTool[req.ToolName],
	}
	if def, ok := e.registry.Definition(req.ToolName); ok {
		qos.DebounceMs = def.QoS.DebounceMs
	}
	if coalescedCount > 0 {
		qos.CoalescedCount = coalescedCount
		qos.HasCoalesced = true
	}
	if latencyMs != nil {
		qos.LatencyMs = *latencyMs
		qos.HasLatency = true
	}
	rec := model.ToolTraceRecord{
		Seq:           state.NextTraceSeq(),
		TsStart:       tsStart,
		TsEnd:         tsEnd,
		ResponseID:    req.ResponseID,
		CallID:        req.CallID,
		Stage:         req.Stage,
		ToolName:      req.ToolName,
		ArgsHash:      argsHash,
		Status:        status,
		ErrorCode:     errorCode,
		QoS:           qos,
		LeaseUntilTs:  leaseUntilTs,
	}
	if def, ok := e.registry.Definition(req.ToolName); ok {
		rec.ToolVersion = def.ToolVersion
	}
	if out, ok := state.ToolOutputsByCallID[req.CallID]; ok {
		rec.ResultPreview = model.TruncatePreview(out.OutputString)
	}
	state.AppendTrace(rec)
}

func (e *Engine) maybePersist(ctx context.Context, job *model.Job) {
	if e.persist == nil {
		return
	}
	if err := e.persist(ctx, job); err != nil {
		e.addReport(job, model.ReportWarning, "persist after tool execution failed: "+err.Error())
	}
}

func mustJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return `{"ok":false,"error":{"code":"TOOL_EXEC_FAILED","message":"failed to serialize output"}}`
	}
	return string(raw)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// acceptCoalesced implements the non-final accept path of §4.2.4: merge
// into (or create) the pending entry for this key, cache a placeholder
// output under the call's own callId, and pair the queue-depth inc/dec
// around the acceptance itself (§8 invariant: inc/dec always pair).
func (e *Engine) acceptCoalesced(ctx context.Context, job *model.Job, def model.ToolDefinition, req ExecuteToolCallRequest, keyVal, argsHash string, tsStart int64) (ExecuteToolCallResult, error) {
	state := job.AgentState
	entryKey := req.ToolName + ":" + keyVal
	now := e.now()

	depth := e.incQueue(job, req.ToolName)
	exceeded := depth > def.EffectiveQueueDepthLimit()

	entry, exists := state.ToolRuntime.CoalescedPending[entryKey]
	if !exists {
		entry = &model.CoalesceEntry{StartedAt: now, DebounceMs: maxInt64(def.QoS.DebounceMs, MinDebounceMs)}
		state.ToolRuntime.CoalescedPending[entryKey] = entry
	}
	entry.CoalescedCount++
	entry.LastUpdateAt = now
	entry.LatestArgs = mustJSON(req.ToolArgs)
	entry.LatestCallID = req.CallID
	if len(entry.CallIDs) < model.MaxCoalesceCallIDs {
		entry.CallIDs = append(entry.CallIDs, req.CallID)
	}

	leaseUntil := now + maxInt64(DefaultLeaseMs, def.QoS.DebounceMs+1500)
	placeholder := mustJSON(map[string]any{"ok": true, "accepted": true, "coalesced": true})
	state.ToolOutputsByCallID[req.CallID] = model.ToolOutput{
		OutputString: placeholder, ToolVersion: def.ToolVersion, ArgsHash: argsHash,
		Ts: now, ExecutionState: model.ToolExecutionAcceptedPending, LeaseUntilTs: leaseUntil,
	}
	e.decQueue(job, req.ToolName)

	if exceeded {
		e.addReport(job, model.ReportWarning, fmt.Sprintf("tool %q queue depth exceeded its limit; call accepted as coalesced", req.ToolName))
	}

	e.appendTrace(job, req, model.TraceCoalesced, "", tsStart, now, argsHash, entry.CoalescedCount, nil, leaseUntil)
	e.maybePersist(ctx, job)
	return ExecuteToolCallResult{OutputString: placeholder, Status: model.TraceCoalesced, ArgsHash: argsHash}, nil
}

// drainDueEntries flushes any pending coalesce entries for toolName whose
// debounce window has elapsed, ahead of a direct (non-coalescing or
// final) call for the same tool (§4.2.4 step 5).
func (e *Engine) drainDueEntries(ctx context.Context, job *model.Job, def model.ToolDefinition, toolName string) {
	state := job.AgentState
	now := e.now()
	prefix := toolName + ":"
	for key, entry := range state.ToolRuntime.CoalescedPending {
		if len(key) < len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		if now-entry.LastUpdateAt < entry.DebounceMs {
			continue
		}
		e.flushDueEntry(ctx, job, def, toolName, key, entry)
	}
}

// FlushDueCoalesced lets the job runner proactively drain every tool's due
// coalesce entries on each scheduler tick, so a batch of debounced calls
// still resolves even if no further call for that tool ever arrives.
func (e *Engine) FlushDueCoalesced(ctx context.Context, job *model.Job) {
	state := job.AgentState
	now := e.now()
	for key, entry := range state.ToolRuntime.CoalescedPending {
		if now-entry.LastUpdateAt < entry.DebounceMs {
			continue
		}
		toolName := key
		if idx := indexColon(key); idx >= 0 {
			toolName = key[:idx]
		}
		def, _ := e.registry.Definition(toolName)
		e.flushDueEntry(ctx, job, def, toolName, key, entry)
	}
}

func indexColon(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == ':' {
			return i
		}
	}
	return -1
}

// flushDueEntry executes a coalesce entry's latest args once (not in
// response to any particular callId) and fans the result out to every
// call that was folded into it.
func (e *Engine) flushDueEntry(ctx context.Context, job *model.Job, def model.ToolDefinition, toolName, entryKey string, entry *model.CoalesceEntry) {
	_, handler, ok := e.registry.Lookup(toolName)
	if !ok {
		delete(job.AgentState.ToolRuntime.CoalescedPending, entryKey)
		return
	}
	var args map[string]any
	_ = json.Unmarshal([]byte(entry.LatestArgs), &args)
	argsHash, _ := canonjson.FNV1aHex(toolName, args)
	tsStart := e.now()

	depth := e.incQueue(job, toolName)
	exceeded := depth > def.EffectiveQueueDepthLimit()
	callIDs := append([]string(nil), entry.CallIDs...)
	delete(job.AgentState.ToolRuntime.CoalescedPending, entryKey)

	if exceeded {
		e.decQueue(job, toolName)
		out := mustJSON(map[string]any{"ok": false, "error": map[string]any{
			"code": string(orcerr.CodeToolQueueBackpressure), "message": "queue depth exceeded limit on coalesced flush",
			"suggestedActions": []string{"compress_context", "audit_progress"},
		}})
		for _, callID := range callIDs {
			e.cacheOutput(job, callID, out, def.ToolVersion, argsHash, 0)
		}
		rec := model.ToolTraceRecord{
			Seq: job.AgentState.NextTraceSeq(), TsStart: tsStart, TsEnd: e.now(), Stage: "", ToolName: toolName,
			ToolVersion: def.ToolVersion, ArgsHash: argsHash, Status: model.TraceFailed,
			ErrorCode: string(orcerr.CodeToolQueueBackpressure), ResultPreview: model.TruncatePreview(out),
			QoS: model.QoSTrace{QueueDepth: job.AgentState.ToolRuntime.QueueDepthByTool[toolName], DebounceMs: def.QoS.DebounceMs, CoalescedCount: entry.CoalescedCount, HasCoalesced: true},
		}
		if len(callIDs) > 0 {
			rec.CallID = callIDs[len(callIDs)-1]
		}
		job.AgentState.AppendTrace(rec)
		return
	}

	out, status, errorCode, leaseUntil := e.invoke(ctx, handler, job, def, toolName, args, SourceModel)
	e.decQueue(job, toolName)
	for _, callID := range callIDs {
		e.cacheOutput(job, callID, out, def.ToolVersion, argsHash, leaseUntil)
	}
	if def.Idempotency.Mode == model.IdempotencyByArgsHash && status == model.TraceOK {
		job.AgentState.ToolOutputsByArgsHash[toolName+":"+argsHash] = model.ArgsHashOutput{OutputString: out, Ts: e.now()}
	}
	latency := e.now() - tsStart
	rec := model.ToolTraceRecord{
		Seq: job.AgentState.NextTraceSeq(), TsStart: tsStart, TsEnd: e.now(), ToolName: toolName,
		ToolVersion: def.ToolVersion, ArgsHash: argsHash, Status: status, ErrorCode: errorCode,
		ResultPreview: model.TruncatePreview(out), LeaseUntilTs: leaseUntil,
		QoS: model.QoSTrace{QueueDepth: job.AgentState.ToolRuntime.QueueDepthByTool[toolName], DebounceMs: def.QoS.DebounceMs, CoalescedCount: entry.CoalescedCount, HasCoalesced: true, LatencyMs: latency, HasLatency: true},
	}
	if len(callIDs) > 0 {
		rec.CallID = callIDs[len(callIDs)-1]
	}
	job.AgentState.AppendTrace(rec)
}

// flushEntry handles an isFinal call that targets an already-pending
// coalesce entry: the final call's args supersede the entry and both the
// entry's accumulated callIds and the final callId receive the one
// execution's output (§4.2.4, §8 boundary case).
func (e *Engine) flushEntry(ctx context.Context, job *model.Job, def model.ToolDefinition, req ExecuteToolCallRequest, entryKey string, entry *model.CoalesceEntry, finalCallID, finalArgsHash string, tsStart int64) (ExecuteToolCallResult, error) {
	state := job.AgentState
	now := e.now()
	entry.LastUpdateAt = now
	entry.LatestArgs = mustJSON(req.ToolArgs)
	entry.LatestCallID = finalCallID
	entry.CoalescedCount++
	if len(entry.CallIDs) < model.MaxCoalesceCallIDs {
		entry.CallIDs = append(entry.CallIDs, finalCallID)
	}
	callIDs := entry.CallIDs
	delete(state.ToolRuntime.CoalescedPending, entryKey)

	_, handler, _ := e.registry.Lookup(req.ToolName)

	depth := e.incQueue(job, req.ToolName)
	if depth > def.EffectiveQueueDepthLimit() {
		e.decQueue(job, req.ToolName)
		out := mustJSON(map[string]any{"ok": false, "error": map[string]any{
			"code": string(orcerr.CodeToolQueueBackpressure), "message": "queue depth exceeded limit",
			"suggestedActions": []string{"compress_context", "audit_progress"},
		}})
		for _, callID := range callIDs {
			e.cacheOutput(job, callID, out, def.ToolVersion, finalArgsHash, 0)
		}
		e.addReport(job, model.ReportWarning, fmt.Sprintf("tool %q queue depth exceeded limit on final flush", req.ToolName))
		e.appendTrace(job, req, model.TraceFailed, string(orcerr.CodeToolQueueBackpressure), tsStart, e.now(), finalArgsHash, entry.CoalescedCount, nil, 0)
		e.maybePersist(ctx, job)
		return ExecuteToolCallResult{OutputString: out, Status: model.TraceFailed, ArgsHash: finalArgsHash}, nil
	}

	out, status, errorCode, leaseUntil := e.invoke(ctx, handler, job, def, req.ToolName, req.ToolArgs, req.Source)
	e.decQueue(job, req.ToolName)
	for _, callID := range callIDs {
		e.cacheOutput(job, callID, out, def.ToolVersion, finalArgsHash, leaseUntil)
	}
	if def.Idempotency.Mode == model.IdempotencyByArgsHash && status == model.TraceOK {
		state.ToolOutputsByArgsHash[req.ToolName+":"+finalArgsHash] = model.ArgsHashOutput{OutputString: out, Ts: e.now()}
	}
	latency := e.now() - tsStart
	e.appendTrace(job, req, status, errorCode, tsStart, e.now(), finalArgsHash, entry.CoalescedCount, &latency, leaseUntil)
	e.maybePersist(ctx, job)
	return ExecuteToolCallResult{OutputString: out, Status: status, ArgsHash: finalArgsHash}, nil
}

// executeDirect is the non-coalescing path of §4.2.3/§4.2.5: queue-depth
// admission, then a single real execution for this callId alone.
func (e *Engine) executeDirect(ctx context.Context, handler Handler, job *model.Job, def model.ToolDefinition, req ExecuteToolCallRequest, argsHash string, tsStart int64) (ExecuteToolCallResult, error) {
	depth := e.incQueue(job, req.ToolName)
	if depth > def.EffectiveQueueDepthLimit() {
		e.decQueue(job, req.ToolName)
		out := mustJSON(map[string]any{"ok": false, "error": map[string]any{
			"code": string(orcerr.CodeToolQueueBackpressure), "message": fmt.Sprintf("tool %q queue depth exceeded limit", req.ToolName),
			"suggestedActions": []string{"compress_context", "audit_progress"},
		}})
		e.cacheOutput(job, req.CallID, out, def.ToolVersion, argsHash, 0)
		e.addReport(job, model.ReportWarning, fmt.Sprintf("tool %q queue depth exceeded limit", req.ToolName))
		e.appendTrace(job, req, model.TraceFailed, string(orcerr.CodeToolQueueBackpressure), tsStart, e.now(), argsHash, 0, nil, 0)
		e.maybePersist(ctx, job)
		return ExecuteToolCallResult{OutputString: out, Status: model.TraceFailed, ArgsHash: argsHash}, nil
	}

	if def.QoS.MaxPayloadBytes > 0 {
		if raw, err := json.Marshal(req.ToolArgs); err == nil && int64(len(raw)) > def.QoS.MaxPayloadBytes {
			e.decQueue(job, req.ToolName)
			out := mustJSON(map[string]any{"ok": false, "error": map[string]any{
				"code": string(orcerr.CodeToolPayloadTooLarge), "message": "tool arguments exceed the configured payload limit",
			}})
			e.cacheOutput(job, req.CallID, out, def.ToolVersion, argsHash, 0)
			e.appendTrace(job, req, model.TraceFailed, string(orcerr.CodeToolPayloadTooLarge), tsStart, e.now(), argsHash, 0, nil, 0)
			e.maybePersist(ctx, job)
			return ExecuteToolCallResult{OutputString: out, Status: model.TraceFailed, ArgsHash: argsHash}, nil
		}
	}

	out, status, errorCode, leaseUntil := e.invoke(ctx, handler, job, def, req.ToolName, req.ToolArgs, req.Source)
	e.decQueue(job, req.ToolName)
	e.cacheOutput(job, req.CallID, out, def.ToolVersion, argsHash, leaseUntil)
	if def.Idempotency.Mode == model.IdempotencyByArgsHash && status == model.TraceOK {
		job.AgentState.ToolOutputsByArgsHash[req.ToolName+":"+argsHash] = model.ArgsHashOutput{OutputString: out, Ts: e.now()}
	}
	latency := e.now() - tsStart
	e.appendTrace(job, req, status, errorCode, tsStart, e.now(), argsHash, 0, &latency, leaseUntil)
	e.maybePersist(ctx, job)
	return ExecuteToolCallResult{OutputString: out, Status: status, ArgsHash: argsHash}, nil
}

// invoke calls the registered handler and normalizes its result into the
// engine's {ok, result|error} output envelope (§4.2.6: "unexpected
// exceptions are always cached by callId as {ok:false, error}").
func (e *Engine) invoke(ctx context.Context, handler Handler, job *model.Job, def model.ToolDefinition, toolName string, args map[string]any, source Source) (output string, status model.TraceStatus, errorCode string, leaseUntil int64) {
	if source == "" {
		source = SourceModel
	}
	result, err := handler(ctx, ExecuteRequest{Name: toolName, Arguments: args, Job: job, CallID: "", Source: source})
	if err != nil {
		code := string(orcerr.CodeToolExecFailed)
		if c, ok := orcerr.CodeOf(err); ok {
			code = string(c)
		}
		out := mustJSON(map[string]any{"ok": false, "error": map[string]any{"code": code, "message": err.Error()}})
		return out, model.TraceFailed, code, 0
	}
	if def.SideEffects.Category != model.SideEffectNone {
		leaseUntil = e.now() + DefaultLeaseMs
	}
	out := mustJSON(map[string]any{"ok": true, "result": result})
	return out, model.TraceOK, "", leaseUntil
}
