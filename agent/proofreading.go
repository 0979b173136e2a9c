package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/shaper"
)

// RunProofreading drives the Proofreading loop (§4.4.5): same structure as
// Execution, but its pending set is job.Proofreading.PendingBlockIDs and it
// only fires proof.finish once a plan has already been authored.
func (r *Runner) RunProofreading(ctx context.Context, job *model.Job) error {
	ctx, span := r.tracer.Start(ctx, "AgentRunner.RunProofreading", trace.WithAttributes(attribute.String("job.id", job.JobID)))
	defer span.End()

	loop := job.AgentState.ProofreadingExecution
	loop.Status = model.LoopRunning
	loop.ResetTick()
	stepAttempt := 1

	for loop.Status == model.LoopRunning {
		if len(job.Proofreading.PendingBlockIDs) == 0 && job.Proofreading.PlanAuthored {
			r.systemCallIgnoreResult(ctx, job, "proof.finish", map[string]any{})
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
			appendReport(job, model.ReportWarning, "proofreading loop guard stop")
			r.persistJob(ctx, job)
			return orcerr.New(orcerr.CodeAgentLoopGuardStop, "proofreading loop exceeded tool-call guard")
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

		pendingBefore := len(job.Proofreading.PendingBlockIDs)

		if loop.Iteration == 0 && len(loop.PendingInputItems) == 0 {
			loop.PendingInputItems = shaper.BuildInitialProofreadingInput(job)
		}
		input := sanitizePendingInput(job, "proofreading", loop.PendingInputItems)
		turn, err := r.model.Request(ctx, ModelRequest{
			Input: input, ToolsSpec: r.registry.GetToolsSpec(model.ScopeProofreading),
			PreviousResponseID: loop.PreviousResponseID, ToolChoice: "auto",
		})
		if err != nil {
			if isToolStateMismatch(err) && loop.PreviousResponseID != "" {
				loop.RecoveryAttempts++
				loop.PreviousResponseID = ""
				loop.PendingInputItems = buildRecoveryInput(job, "proofreading", input)
				appendReport(job, model.ReportWarning, "proofreading: recovered from tool-state mismatch")
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
			return orcerr.Wrap(orcerr.CodeProofreadingRequestFailed, "proofreading model request failed", err)
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
				out := r.executeCall(ctx, job, "proofreading", turn.ResponseID, call)
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

		if len(job.Proofreading.PendingBlockIDs) < pendingBefore {
			loop.NoProgressIterations = 0
		} else {
			loop.NoProgressIterations++
			if loop.NoProgressIterations >= MaxNoProgressIterations {
				loop.Status = model.LoopFailed
				appendReport(job, model.ReportError, "proofreading loop made no progress")
				r.persistJob(ctx, job)
				return orcerr.New(orcerr.CodeAgentNoProgress, "proofreading loop made no progress")
			}
		}

		loop.Iteration++
		r.persistJob(ctx, job)
	}
	return nil
}
