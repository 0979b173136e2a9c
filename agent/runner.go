// Package agent implements the three restart-safe agent loops — Planning,
// Execution and Proofreading — each a state machine over model turns with
// tool calling (§4.4).
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/tool"
)

// Loop tuning constants (§4.4, §5). These are the orchestrator's
// defaults; a future settings layer may override them per job.
const (
	MaxSteps                = 40
	MaxToolCalls            = 200
	MaxStepAttempts         = 3
	AutoCompressEvery       = 12
	MaxNoProgressIterations = 6

	// MaxIterationsPerTick bounds how many passes through a loop's body a
	// single Run{Planning,Execution,Proofreading} call may take before it
	// yields back to the scheduler (§4.4.1: "if per-tick iteration budget
	// reached: status := yielded"). This is what keeps one JobRunner.Step
	// call a single bounded piece of work (§4.6) instead of running a
	// loop to completion inside one scheduler tick.
	MaxIterationsPerTick = 10
)

// ModelTurn is one modelRequest(...) response, already split into its
// reasoning items and tool calls (extractToolCalls in §4.4.1).
type ModelTurn struct {
	ResponseID string
	Reasoning  []model.InputItem
	ToolCalls  []ToolCall
}

// ToolCall is one model-emitted function call.
type ToolCall struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ModelRequest is the modelRequest(...) argument object (§4.4.1).
type ModelRequest struct {
	Input              []model.InputItem
	ToolsSpec          []map[string]any
	PreviousResponseID string
	ToolChoice         string
	Settings           map[string]any
}

// ModelError classifies a failed model request well enough to detect a
// tool-state mismatch (§4.4.7): HTTP status 400 plus a code or message
// that names a tool/call_id/previous-response problem.
type ModelError struct {
	HTTPStatus int
	Code       string
	Message    string
	Err        error
}

func (e *ModelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("model request failed (status %d): %s: %v", e.HTTPStatus, e.Message, e.Err)
	}
	return fmt.Sprintf("model request failed (status %d): %s", e.HTTPStatus, e.Message)
}

func (e *ModelError) Unwrap() error { return e.Err }

func isToolStateMismatch(err error) bool {
	me, ok := err.(*ModelError)
	if !ok || me.HTTPStatus != 400 {
		return false
	}
	if strings.Contains(strings.ToLower(me.Code), "tool") {
		return true
	}
	msg := strings.ToLower(me.Message)
	for _, needle := range []string{"tool call", "tool output", "call_id", "previous_response_id"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return strings.Contains(msg, "previous response") && strings.Contains(msg, "not found")
}

// ModelClient performs the actual model call. The orchestration core
// never talks to a model provider directly — this is the seam the
// scheduler's ModelChooser (§5) sits behind. Adapters implementing it
// split the provider's raw output items with ExtractToolCalls.
type ModelClient interface {
	Request(ctx context.Context, req ModelRequest) (ModelTurn, error)
}

// ExtractToolCalls splits a raw model output item list into the tool
// calls to dispatch and the reasoning items to echo into the next turn's
// input (§4.4.1's extractToolCalls). Duplicate call_ids keep the first
// occurrence; text items are ignored (they are display output, not
// chained input).
func ExtractToolCalls(responseID string, items []model.InputItem) ModelTurn {
	turn := ModelTurn{ResponseID: responseID}
	seen := make(map[string]bool, len(items))
	for _, item := range items {
		switch item.Type {
		case model.InputFunctionCall:
			if seen[item.CallID] {
				continue
			}
			seen[item.CallID] = true
			var args map[string]any
			if item.Args != "" {
				_ = json.Unmarshal([]byte(item.Args), &args)
			}
			turn.ToolCalls = append(turn.ToolCalls, ToolCall{CallID: item.CallID, Name: item.Name, Args: args})
		case model.InputReasoning:
			turn.Reasoning = append(turn.Reasoning, item)
		}
	}
	return turn
}

// Runner drives the three agent loops for a job.
type Runner struct {
	registry *tool.Registry
	engine   *tool.Engine
	model    ModelClient
	persist  tool.Persist
	now      func() int64
	tracer   trace.Tracer
}

// NewRunner constructs a Runner.
func NewRunner(registry *tool.Registry, engine *tool.Engine, modelClient ModelClient, persist tool.Persist, now func() int64) *Runner {
	return &Runner{registry: registry, engine: engine, model: modelClient, persist: persist, now: now, tracer: otel.Tracer("orchestrator/agent")}
}

func (r *Runner) persistJob(ctx context.Context, job *model.Job) {
	if r.persist == nil {
		return
	}
	_ = r.persist(ctx, job)
}

// fallbackThreshold is clamp(4, maxSteps-1, 6): the earliest step at which
// the planning loop's no-call policy may invoke the forced-completion
// fallback (§4.4.3).
func fallbackThreshold(maxSteps int) int {
	v := maxSteps - 1
	if v < 4 {
		v = 4
	}
	if v > 6 {
		v = 6
	}
	return v
}

// sanitizePendingInput drops function_call_output items whose call_id is
// not in pendingToolCalls, and collapses duplicate outputs for the same
// call_id keeping the first occurrence (§4.4.2).
func sanitizePendingInput(job *model.Job, mode string, items []model.InputItem) []model.InputItem {
	state := job.AgentState
	seen := make(map[string]bool, len(items))
	var removed []string
	out := make([]model.InputItem, 0, len(items))
	for _, item := range items {
		if item.Type != model.InputFunctionCallOutput {
			out = append(out, item)
			continue
		}
		if _, ok := state.PendingToolCalls[item.CallID]; !ok {
			removed = append(removed, item.CallID)
			continue
		}
		if seen[item.CallID] {
			removed = append(removed, item.CallID)
			continue
		}
		seen[item.CallID] = true
		out = append(out, item)
	}
	if len(removed) > 0 {
		if len(removed) > 20 {
			removed = removed[:20]
		}
		state.RunnerWarnings = append(state.RunnerWarnings, model.RunnerWarning{
			Code: string(orcerr.CodeDroppedOrphanFunctionOutput), Mode: mode, RemovedCallIDs: removed, Ts: 0,
		})
	}
	return out
}

// buildRecoveryInput constructs the chain-reset input used after a
// tool-state mismatch (§4.4.7): the original input plus a synthetic user
// turn summarizing mode, phase, the last 12 trace entries, and any
// still-pending tool calls.
func buildRecoveryInput(job *model.Job, mode string, initial []model.InputItem) []model.InputItem {
	state := job.AgentState
	trace := state.ToolExecutionTrace
	if len(trace) > 12 {
		trace = trace[len(trace)-12:]
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Recovering from a tool-state mismatch in %s. Recent tool activity:\n", mode))
	for _, t := range trace {
		sb.WriteString(fmt.Sprintf("- %s(%s) -> %s\n", t.ToolName, t.CallID, t.Status))
	}
	if len(state.PendingToolCalls) > 0 {
		sb.WriteString("Still-pending tool calls:\n")
		for callID, pc := range state.PendingToolCalls {
			sb.WriteString(fmt.Sprintf("- %s: %s\n", callID, pc.ToolName))
		}
	}
	out := append([]model.InputItem{}, initial...)
	out = append(out, model.InputItem{Type: model.InputText, Text: sb.String()})
	return out
}

// appendReport is the agent.append_report tool invoked directly (not
// through the registry) by the loop driver itself for phase-transition
// bookkeeping identical to what a system-sourced tool call would record.
func appendReport(job *model.Job, severity model.ReportSeverity, message string) {
	job.AgentState.Reports = append(job.AgentState.Reports, model.Report{Severity: severity, Message: message})
}

func updateChecklist(job *model.Job, stage, status string) {
	job.AgentState.Checklist = append(job.AgentState.Checklist, model.ChecklistEntry{Stage: stage, Status: status})
}

// executeCall runs a single model-sourced tool call through the
// execution engine and registers it as pending beforehand, matching the
// registerPending → execute → append-output sequence of §4.4.1.
//
// It deliberately does NOT clear the call's pendingToolCalls entry once
// the tool has run: the entry must survive until the resulting
// function_call_output item has actually made it into a model request
// that sanitizePendingInput accepted (otherwise a restart or a retried
// turn would find the output missing and sanitizePendingInput would
// treat the very output this call just produced as an orphan). Clearing
// it is ack's job (§4.4.1's "ack(loop.awaitingAckCallIds)" step), called
// at the top of the next successful turn.
func (r *Runner) executeCall(ctx context.Context, job *model.Job, stage, responseID string, call ToolCall) model.InputItem {
	state := job.AgentState
	state.PendingToolCalls[call.CallID] = model.PendingToolCall{ToolName: call.Name, CreatedTs: r.now()}
	result, _ := r.engine.ExecuteToolCall(ctx, tool.ExecuteToolCallRequest{
		Job: job, Stage: stage, ResponseID: responseID, CallID: call.CallID, ToolName: call.Name, ToolArgs: call.Args,
	})
	return model.InputItem{Type: model.InputFunctionCallOutput, CallID: call.CallID, Name: call.Name, Output: result.OutputString}
}

// ack implements §4.4.1's "ack(loop.awaitingAckCallIds)" step: the given
// call IDs were appended as function_call_output items to the input of
// the turn that just succeeded, which means sanitizePendingInput already
// accepted them (their entries were still present in pendingToolCalls) and
// the model has now seen them. Only now is it safe to drop their
// pendingToolCalls bookkeeping entries.
func ack(job *model.Job, callIDs []string) {
	state := job.AgentState
	for _, callID := range callIDs {
		delete(state.PendingToolCalls, callID)
	}
}

// tickBudgetReached reports whether loop has exhausted its per-tick
// iteration budget (§4.4.1, §4.6), falling back to the package default
// when the loop record hasn't had one seeded onto it yet.
func tickBudgetReached(loop *model.LoopRecord) bool {
	limit := loop.MaxIterationsPerTick
	if limit <= 0 {
		limit = MaxIterationsPerTick
	}
	return loop.TickIterations() >= limit
}

func toolOK(output string) bool {
	return strings.Contains(output, `"ok":true`)
}
