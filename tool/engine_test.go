package tool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestrator/model"
)

func newTestJob() *model.Job {
	return model.NewJob("job-1", "tab-1", "fr")
}

func fakeClock(start int64) func() int64 {
	t := start
	return func() int64 { t++; return t }
}

func TestEngine_ExecuteToolCall_UnknownTool(t *testing.T) {
	reg := NewRegistry()
	e := NewEngine(reg, nil)
	job := newTestJob()

	res, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c1", ToolName: "nonexistent",
	})
	require.NoError(t, err)
	assert.Equal(t, model.TraceFailed, res.Status)
	assert.Contains(t, res.OutputString, "TOOL_EXEC_FAILED")
}

func TestEngine_ExecuteToolCall_SchemaInvalid(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name: "agent.test.needs_key",
		ParametersJSONSchema: map[string]any{
			"required": []any{"key"},
		},
	}, func(_ context.Context, call ExecuteRequest) (any, error) {
		return map[string]any{"ok": true, "key": call.Arguments["key"]}, nil
	}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	res, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c1", ToolName: "agent.test.needs_key", ToolArgs: map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TraceFailed, res.Status)
	assert.Contains(t, res.OutputString, "TOOL_ARGS_INVALID")
}

func TestEngine_ExecuteToolCall_IdempotentByCallID(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name:        "agent.test.once",
		Idempotency: model.Idempotency{Mode: model.IdempotencyByCallID},
	}, func(_ context.Context, _ ExecuteRequest) (any, error) {
		calls++
		return map[string]any{"ok": true, "n": calls}, nil
	}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	req := ExecuteToolCallRequest{Job: job, CallID: "c1", ToolName: "agent.test.once", ToolArgs: map[string]any{}}
	first, err := e.ExecuteToolCall(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.TraceOK, first.Status)

	second, err := e.ExecuteToolCall(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.TraceSkipped, second.Status)
	assert.Equal(t, first.OutputString, second.OutputString)
	assert.Equal(t, 1, calls, "handler only actually runs once for a repeated call_id")
}

func TestEngine_ExecuteToolCall_IdempotentByArgsHashSameArgsDifferentCallID(t *testing.T) {
	reg := NewRegistry()
	calls := 0
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name:        "agent.test.cacheable",
		Idempotency: model.Idempotency{Mode: model.IdempotencyByArgsHash},
	}, func(_ context.Context, _ ExecuteRequest) (any, error) {
		calls++
		return map[string]any{"ok": true, "n": calls}, nil
	}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	args := map[string]any{"x": "same"}
	_, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c1", ToolName: "agent.test.cacheable", ToolArgs: args,
	})
	require.NoError(t, err)

	second, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c2", ToolName: "agent.test.cacheable", ToolArgs: args,
	})
	require.NoError(t, err)
	assert.Equal(t, model.TraceSkipped, second.Status)
	assert.Equal(t, 1, calls, "distinct call_id with identical args hits the args-hash cache")
}

func TestEngine_ExecuteToolCall_QueueDepthBackpressure(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name: "agent.test.limited",
		QoS:  model.QoS{QueueDepthLimit: 10},
	}, func(_ context.Context, _ ExecuteRequest) (any, error) {
		return map[string]any{"ok": true}, nil
	}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	// Directly saturate the queue depth counter past the tool's limit, the
	// way a backlog of concurrently in-flight coalesced calls would.
	job.AgentState.ToolRuntime.QueueDepthByTool["agent.test.limited"] = 10

	res, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c1", ToolName: "agent.test.limited", ToolArgs: map[string]any{},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TraceFailed, res.Status)
	assert.Contains(t, res.OutputString, "TOOL_QUEUE_BACKPRESSURE")
}

func TestEngine_ExecuteToolCall_CoalescingAcceptsThenFlushesOnFinal(t *testing.T) {
	reg := NewRegistry()
	var executedArgs []string
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name: "page.apply_delta",
		QoS:  model.QoS{CoalesceKey: "key", DebounceMs: 400},
	}, func(_ context.Context, call ExecuteRequest) (any, error) {
		text, _ := call.Arguments["text"].(string)
		executedArgs = append(executedArgs, text)
		return map[string]any{"ok": true}, nil
	}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	// Two non-final calls coalesce without invoking the handler.
	for i, text := range []string{"v1", "v2"} {
		res, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
			Job: job, CallID: "c" + string(rune('1'+i)), ToolName: "page.apply_delta",
			ToolArgs: map[string]any{"key": "block-1", "text": text},
		})
		require.NoError(t, err)
		assert.Equal(t, model.TraceCoalesced, res.Status)
	}
	assert.Empty(t, executedArgs, "handler must not run until the final call")

	// A final call flushes the entry with its own (latest) args.
	res, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c3", ToolName: "page.apply_delta",
		ToolArgs: map[string]any{"key": "block-1", "text": "v3", "isFinal": true},
	})
	require.NoError(t, err)
	assert.Equal(t, model.TraceOK, res.Status)
	require.Len(t, executedArgs, 1)
	assert.Equal(t, "v3", executedArgs[0], "the final call's args supersede the coalesced ones")

	// All three call_ids, including the two coalesced ones, now have a
	// cached output for idempotent replay on restart.
	for _, callID := range []string{"c1", "c2", "c3"} {
		out, ok := job.AgentState.ToolOutputsByCallID[callID]
		require.True(t, ok, "callID %s should have a cached output", callID)
		assert.True(t, strings.Contains(out.OutputString, `"ok":true`))
	}
}

func TestEngine_ExecuteToolCall_AppendsBoundedTrace(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{Name: "agent.test.trace"},
		func(_ context.Context, _ ExecuteRequest) (any, error) {
			return map[string]any{"ok": true}, nil
		}))
	e := NewEngine(reg, nil)
	job := newTestJob()

	_, err := e.ExecuteToolCall(context.Background(), ExecuteToolCallRequest{
		Job: job, CallID: "c1", ToolName: "agent.test.trace", ToolArgs: map[string]any{},
	})
	require.NoError(t, err)
	require.Len(t, job.AgentState.ToolExecutionTrace, 1)
	assert.Equal(t, "agent.test.trace", job.AgentState.ToolExecutionTrace[0].ToolName)
	assert.Equal(t, model.TraceOK, job.AgentState.ToolExecutionTrace[0].Status)
}
