package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/shaper"
)

// RunPlanning drives the Planning loop to completion, to a guard stop, or
// to a single yield point, per the loop skeleton (§4.4.1) and the
// planning-specific no-call/post-tools policy (§4.4.3).
func (r *Runner) RunPlanning(ctx context.Context, job *model.Job) error {
	ctx, span := r.tracer.Start(ctx, "AgentRunner.RunPlanning", trace.WithAttributes(attribute.String("job.id", job.JobID)))
	defer span.End()

	loop := job.AgentState.PlanningLoop
	loop.Status = model.LoopRunning
	loop.ResetTick()
	stepAttempt := 1
	threshold := fallbackThreshold(MaxSteps)

	for loop.Status == model.LoopRunning {
		if loop.StepIndex >= MaxSteps || loop.ToolCallsExecuted >= MaxToolCalls {
			loop.Status = model.LoopGuardStop
			appendReport(job, model.ReportWarning, "planning loop guard stop")
			r.persistJob(ctx, job)
			return orcerr.New(orcerr.CodeAgentLoopGuardStop, "planning loop exceeded step or tool-call guard")
		}
		if tickBudgetReached(loop) {
			loop.Status = model.LoopYielded
			r.persistJob(ctx, job)
			return nil
		}
		loop.IncTick()

		if loop.StepIndex == 0 && len(loop.PendingInputItems) == 0 {
			loop.PendingInputItems = shaper.BuildInitialPlanningInput(job)
		}
		input := sanitizePendingInput(job, "planning", loop.PendingInputItems)
		turn, err := r.model.Request(ctx, ModelRequest{
			Input: input, ToolsSpec: r.registry.GetToolsSpec(model.ScopePlanning),
			PreviousResponseID: loop.PreviousResponseID, ToolChoice: "auto",
		})
		if err != nil {
			if isToolStateMismatch(err) && loop.PreviousResponseID != "" {
				loop.RecoveryAttempts++
				loop.PreviousResponseID = ""
				loop.PendingInputItems = buildRecoveryInput(job, "planning", input)
				appendReport(job, model.ReportWarning, "planning: recovered from tool-state mismatch")
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
			return orcerr.Wrap(orcerr.CodePlanningRequestFailed, "planning model request failed", err)
		}
		stepAttempt = 1
		loop.LastResponseID = turn.ResponseID
		loop.PreviousResponseID = turn.ResponseID
		ack(job, loop.AwaitingAckCallIDs)
		loop.AwaitingAckCallIDs = nil

		if len(turn.ToolCalls) == 0 {
			if done, ferr := r.planningNoCallPolicy(ctx, job, loop, threshold); ferr != nil {
				loop.Status = model.LoopFailed
				r.persistJob(ctx, job)
				return ferr
			} else if done {
				r.persistJob(ctx, job)
				return nil
			}
			loop.StepIndex++
			r.persistJob(ctx, job)
			continue
		}

		var nextInput []model.InputItem
		var executedCallIDs []string
		nextInput = append(nextInput, turn.Reasoning...)
		for _, call := range turn.ToolCalls {
			r.applyPlanningMarker(job, call)
			out := r.executeCall(ctx, job, "planning", turn.ResponseID, call)
			nextInput = append(nextInput, out)
			executedCallIDs = append(executedCallIDs, call.CallID)
			loop.ToolCallsExecuted++
			r.persistJob(ctx, job)
		}
		loop.AwaitingAckCallIDs = executedCallIDs

		if done, ferr := r.planningPostToolsPolicy(ctx, job, loop, threshold); ferr != nil {
			loop.Status = model.LoopFailed
			r.persistJob(ctx, job)
			return ferr
		} else if done {
			r.persistJob(ctx, job)
			return nil
		}

		loop.PendingInputItems = nextInput
		loop.StepIndex++
		r.persistJob(ctx, job)
	}
	return nil
}

// applyPlanningMarker sets the planningMarkers field a planning tool call
// satisfies, once observed (§3.1, §4.4.3).
func (r *Runner) applyPlanningMarker(job *model.Job, call ToolCall) {
	m := &job.AgentState.PlanningMarkers
	switch call.Name {
	case "agent.plan.preanalysis_read":
		m.PreanalysisReadByTool = true
	case "agent.plan.set_taxonomy":
		m.TaxonomySetByTool = true
	case "agent.plan.set_pipeline":
		m.PipelineSetByTool = true
	case "agent.plan.request_finish_analysis":
		m.FinishAnalysisRequestedByTool = true
	case "agent.ui.ask_user_categories":
		m.AskUserCategoriesByTool = true
	}
}

// planningNoCallPolicy implements §4.4.3's no-call branch. The bool
// return is true when the loop is finished (either done or handed off to
// the forced-completion fallback's own terminal outcome).
func (r *Runner) planningNoCallPolicy(ctx context.Context, job *model.Job, loop *model.LoopRecord, threshold int) (bool, error) {
	missing := job.AgentState.PlanningMarkers.Missing()

	if len(missing) > 0 && loop.StepIndex >= threshold {
		if err := r.runForcedCompletionFallback(ctx, job); err != nil {
			loop.Status = model.LoopFailed
			return true, err
		}
		if job.Status == model.JobAwaitingCategories {
			loop.Status = model.LoopDone
			return true, nil
		}
		loop.Status = model.LoopFailed
		return true, orcerr.New(orcerr.CodePlanningFallbackError, "forced completion fallback did not reach awaiting_categories")
	}

	if len(missing) > 0 {
		loop.PendingInputItems = []model.InputItem{{Type: model.InputText, Text: "Continue planning. Missing required tools: " + joinMissing(missing)}}
		return false, nil
	}
	if job.Status != model.JobAwaitingCategories {
		loop.PendingInputItems = []model.InputItem{{Type: model.InputText, Text: "Planning is not complete: call ask_user_categories after setting taxonomy and pipeline."}}
		return false, nil
	}
	loop.Status = model.LoopDone
	return true, nil
}

// planningPostToolsPolicy re-checks the missing-marker set after tool
// execution and applies the same fallback rule (§4.4.3 post-tools policy).
func (r *Runner) planningPostToolsPolicy(ctx context.Context, job *model.Job, loop *model.LoopRecord, threshold int) (bool, error) {
	return r.planningNoCallPolicy(ctx, job, loop, threshold)
}

func joinMissing(missing []string) string {
	out := ""
	for i, m := range missing {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}
