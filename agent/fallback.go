package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
	"github.com/kadirpekel/orchestrator/tool"
)

// fallbackCategoryFromHint maps a block's category hint to one of the
// fixed fallback taxonomy buckets (§4.4.6 step 2).
func fallbackCategoryFromHint(hint string) string {
	h := strings.ToLower(hint)
	switch {
	case strings.Contains(h, "heading"):
		return "headings"
	case strings.Contains(h, "code"):
		return "code"
	case strings.Contains(h, "nav"):
		return "navigation"
	case h == "table":
		return "tables"
	case strings.Contains(h, "button"), strings.Contains(h, "label"), strings.Contains(h, "input"), strings.Contains(h, "form"):
		return "ui_controls"
	default:
		return "main_content"
	}
}

// runForcedCompletionFallback executes the deterministic, system-sourced
// tool sequence that unblocks a stuck planner (§4.4.6). Any intermediate
// ok:false aborts and surfaces the tool's error code.
func (r *Runner) runForcedCompletionFallback(ctx context.Context, job *model.Job) error {
	appendReport(job, model.ReportWarning, "Planning fallback")

	categories, mapping := fallbackTaxonomy(job)
	if err := r.systemCall(ctx, job, "agent.plan.set_taxonomy", map[string]any{
		"categories": categories, "mapping": mapping,
	}, orcerr.CodePlanningFallbackTaxonomyFailed); err != nil {
		return err
	}
	job.AgentState.Taxonomy = model.Taxonomy{Categories: categories, Mapping: mapping}

	if err := r.systemCall(ctx, job, "agent.plan.set_pipeline", map[string]any{
		"strategy": "balanced", "glossaryEnabled": true, "qcLevel": "standard",
	}, orcerr.CodePlanningFallbackPipelineFailed); err != nil {
		return err
	}
	job.AgentState.Pipeline = model.PipelineStrategy{Strategy: "balanced", GlossaryEnabled: true, QCLevel: "standard"}

	if err := r.systemCall(ctx, job, "agent.plan.request_finish_analysis", map[string]any{
		"reason": "Fallback auto-complete planning",
	}, orcerr.CodePlanningFallbackFinishIncomplete); err != nil {
		return err
	}
	job.AgentState.PlanningMarkers.FinishAnalysisRequestedByTool = true
	job.AgentState.PlanningMarkers.FinishAnalysisOk = true

	if err := r.systemCall(ctx, job, "agent.ui.ask_user_categories", map[string]any{
		"categories": categories,
	}, orcerr.CodePlanningFallbackAskFailed); err != nil {
		return err
	}
	job.AgentState.PlanningMarkers.AskUserCategoriesByTool = true

	return nil
}

// fallbackTaxonomy builds the {categories, mapping} payload from block
// category hints, since there is no preRangesById in this system's block
// model — a block's own Category is used when set, otherwise its
// Meta["hint"].
func fallbackTaxonomy(job *model.Job) ([]string, map[string]string) {
	seen := make(map[string]bool)
	var categories []string
	mapping := make(map[string]string)
	for _, blockID := range job.PendingBlockIDs {
		block := job.BlocksByID[blockID]
		hint := ""
		if block != nil {
			if block.Category != "" {
				hint = block.Category
			} else if h, ok := block.Meta["hint"].(string); ok {
				hint = h
			}
		}
		category := fallbackCategoryFromHint(hint)
		mapping[blockID] = category
		if !seen[category] {
			seen[category] = true
			categories = append(categories, category)
		}
	}
	if len(categories) == 0 {
		categories = []string{"main_content"}
	}
	return categories, mapping
}

// systemCall runs one fallback step as a system-sourced tool call and
// classifies a non-ok result under the given fallback error code.
func (r *Runner) systemCall(ctx context.Context, job *model.Job, toolName string, args map[string]any, failCode orcerr.Code) error {
	result, err := r.engine.ExecuteToolCall(ctx, tool.ExecuteToolCallRequest{
		Job: job, Stage: "planning", ToolName: toolName, ToolArgs: args, Source: tool.SourceSystem,
	})
	if err != nil {
		return orcerr.Wrap(failCode, "forced completion fallback step failed: "+toolName, err)
	}
	var parsed struct {
		OK    bool `json:"ok"`
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if jsonErr := json.Unmarshal([]byte(result.OutputString), &parsed); jsonErr == nil && !parsed.OK {
		code := parsed.Error.Code
		if code == "" {
			code = string(failCode)
		}
		return orcerr.New(orcerr.Code(code), "forced completion fallback step "+toolName+" returned ok:false: "+parsed.Error.Message)
	}
	return nil
}
