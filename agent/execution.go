package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/shaper"
	"github.com/kadirpekel/orchestrator/tool"
)

// RunExecution drives the Execution loop (§4.4.1, §4.4.4): translate
// blocks in batches, auto-compressing context periodically and bailing
// out under the loop guard or the no-progress watchdog.
func (r *Runner) RunExecution(ctx context.Context, job *model.Job) error {
	ctx, span := r.tracer.Start(ctx, "AgentRunner.RunExecution", trace.WithAttributes(attribute.String("job.id", job.JobID)))
	defer span.End()

	loop := job.AgentState.Execution
	loop.Status = model.LoopRunning
	loop.ResetTick()
	stepAttempt := 1

	for loop.Status == model.LoopRunning {
		if len(job.PendingBlockIDs) == 0 {
			r.systemCallIgnoreResult(ctx, job, "agent.append_report", map[string]any{"severity": "info", "message": "final"})
			r.systemCallIgnoreResult(ctx, job, "agent.update_checklist", map[string]any{"stage": "execute_batches", "status": "done"})
			updateChecklist(job, "execute_batches", "done")
			loop.Status = model.LoopDone
			r.persistJob(ctx, job)
			return nil
		}
		if job.Status != model.JobRunning {
			loop.Status = model.LoopStopped
			r.persistJob(ctx, job)
			return nil
		}
		if loop.ToolCallsExecuted >= MaxToolCalls {
			loop.Status = model.LoopFailed
			appendReport(job, model.ReportWarning, "execution loop guard stop")
			r.persistJob(ctx, job)
			return orcerr.New(orcerr.CodeAgentLoopGuardStop, "execution loop exceeded tool-call guard")
		}
		if tickBudgetReached(loop) {
			loop.Status = model.LoopYielded
			r.persistJob(ctx, job)
			return nil
		}
		loop.IncTick()

		if loop.Iteration > 0 && AutoCompressEvery > 0 && loop.Iteration%AutoCompressEvery == 0 {
			r.systemCallIgnoreResult(ctx, job, "agent.compress_context", map[string]any{})
		}

		pendingBefore := len(job.PendingBlockIDs)

		if loop.Iteration == 0 && len(loop.PendingInputItems) == 0 {
			loop.PendingInputItems = shaper.BuildInitialExecutionInput(job)
		}
		input := sanitizePendingInput(job, "execution", loop.PendingInputItems)
		turn, err := r.model.Request(ctx, ModelRequest{
			Input: input, ToolsSpec: r.registry.GetToolsSpec(model.ScopeExecution),
			PreviousResponseID: loop.PreviousResponseID, ToolChoice: "auto",
		})
		if err != nil {
			if isToolStateMismatch(err) && loop.PreviousResponseID != "" {
				loop.RecoveryAttempts++
				loop.PreviousResponseID = ""
				loop.PendingInputItems = buildRecoveryInput(job, "execution", input)
				appendReport(job, model.ReportWarning, "execution: recovered from tool-state mismatch")
				r.persistJob(ctx, job)
				continue
			}
			if stepAttempt < MaxStepAttempts {
				stepAttempt++
				r.persistJob(ctx, job)
				continue
			}
			loop.Status = model.LoopFailed
			r.persistJob(ctx, job)
			return orcerr.Wrap(orcerr.CodeExecutionRequestFailed, "execution model request failed", err)
		}
		stepAttempt = 1
		loop.LastResponseID = turn.ResponseID
		loop.PreviousResponseID = turn.ResponseID
		ack(job, loop.AwaitingAckCallIDs)
		loop.AwaitingAckCallIDs = nil

		if len(turn.ToolCalls) > 0 {
			var nextInput []model.InputItem
			var executedCallIDs []string
			nextInput = append(nextInput, turn.Reasoning...)
			for _, call := range turn.ToolCalls {
				out := r.executeCall(ctx, job, "execution", turn.ResponseID, call)
				nextInput = append(nextInput, out)
				executedCallIDs = append(executedCallIDs, call.CallID)
				loop.ToolCallsExecuted++
				r.persistJob(ctx, job)
			}
			loop.PendingInputItems = nextInput
			loop.AwaitingAckCallIDs = executedCallIDs
		} else {
			loop.PendingInputItems = nil
		}

		if len(job.PendingBlockIDs) < pendingBefore {
			loop.NoProgressIterations = 0
		} else {
			loop.NoProgressIterations++
			if loop.NoProgressIterations >= MaxNoProgressIterations {
				loop.Status = model.LoopFailed
				appendReport(job, model.ReportError, "execution loop made no progress")
				r.persistJob(ctx, job)
				return orcerr.New(orcerr.CodeAgentNoProgress, "execution loop made no progress")
			}
		}

		loop.Iteration++
		r.persistJob(ctx, job)
	}
	return nil
}

// systemCallIgnoreResult fires an orchestrator-internal bookkeeping call
// (final report, checklist update, context compression) through the same
// engine path model calls use, without gating the loop on its result.
func (r *Runner) systemCallIgnoreResult(ctx context.Context, job *model.Job, toolName string, args map[string]any) {
	_, _ = r.engine.ExecuteToolCall(ctx, tool.ExecuteToolCallRequest{
		Job: job, Stage: "execution", ToolName: toolName, ToolArgs: args, Source: tool.SourceSystem,
	})
}
