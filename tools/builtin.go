// Package tools registers the built-in tool catalog the Agent Runner
// drives every job through: planning tools (taxonomy/pipeline/ask-user),
// bookkeeping tools (reports/checklist/audit/context-compression), and the
// page/proofreading tools exercised by the coalescing and idempotency
// tests. Domain-specific schema beyond tool-contract shape (concrete DOM
// diffing, translation prompt construction) is out of scope (spec §1) —
// these handlers implement only the contract the orchestration core
// depends on, grounded in the teacher's controltool/todotool handler shape
// (a tiny struct implementing Name/Schema/Call).
package tools

import (
	"context"
	"fmt"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/shaper"
	"github.com/kadirpekel/orchestrator/tool"
)

// PreanalysisReadArgs is agent.plan.preanalysis_read's (empty) argument
// shape.
type PreanalysisReadArgs struct{}

// TaxonomyArgs is agent.plan.set_taxonomy's argument shape.
type TaxonomyArgs struct {
	Categories []string          `json:"categories" jsonschema:"required"`
	Mapping    map[string]string `json:"mapping" jsonschema:"required"`
}

// PipelineArgs is agent.plan.set_pipeline's argument shape.
type PipelineArgs struct {
	Strategy        string `json:"strategy" jsonschema:"required"`
	GlossaryEnabled bool   `json:"glossaryEnabled"`
	QCLevel         string `json:"qcLevel"`
}

// FinishAnalysisArgs is agent.plan.request_finish_analysis's argument
// shape.
type FinishAnalysisArgs struct {
	Reason string `json:"reason"`
}

// AskUserCategoriesArgs is agent.ui.ask_user_categories's argument shape.
type AskUserCategoriesArgs struct {
	Categories []string `json:"categories"`
}

// ReportArgs is agent.append_report's argument shape.
type ReportArgs struct {
	Severity string `json:"severity" jsonschema:"required"`
	Message  string `json:"message" jsonschema:"required"`
}

// ChecklistArgs is agent.update_checklist's argument shape.
type ChecklistArgs struct {
	Stage  string `json:"stage" jsonschema:"required"`
	Status string `json:"status" jsonschema:"required"`
}

// CompressContextArgs is agent.compress_context's (empty) argument shape.
type CompressContextArgs struct{}

// AuditProgressArgs is agent.audit_progress's (empty) argument shape.
type AuditProgressArgs struct{}

// ApplyDeltaArgs is page.apply_delta's argument shape — the coalescing
// seed-test tool (§8 scenario 4): calls sharing the same Key collapse
// into one execution unless IsFinal.
type ApplyDeltaArgs struct {
	Key     string `json:"key" jsonschema:"required"`
	BlockID string `json:"blockId"`
	Text    string `json:"text"`
	IsFinal bool   `json:"isFinal"`
}

// ProofFinishArgs is proof.finish's (empty) argument shape.
type ProofFinishArgs struct{}

// modelNameKey is the call argument compress_context's handler reads to
// decide which tiktoken encoding shaper.CompressContext should use; when
// the argument is absent or empty the handler passes cl100k_base.
const modelNameKey = "model"

func mustSchema[T any]() map[string]any {
	schema, err := tool.GenerateSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("tools: generate schema: %v", err))
	}
	return schema
}

// RegisterBuiltins registers every built-in tool the Agent Runner's three
// phases rely on. Callers that need additional domain tools (real
// translate/diff-apply handlers) register them on the same Registry
// before starting a job; this only supplies the orchestration-core
// contract tools spec.md names explicitly (§6.1, §4.4.6, §4.4.3).
func RegisterBuiltins(reg *tool.Registry) error {
	registrations := []struct {
		def     model.ToolDefinition
		handler tool.Handler
	}{
		{
			def: model.ToolDefinition{
				Name: "agent.plan.preanalysis_read", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[PreanalysisReadArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
			},
			handler: handlePreanalysisRead,
		},
		{
			def: model.ToolDefinition{
				Name: "page.get_preanalysis", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[PreanalysisReadArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
			},
			handler: handleGetPreanalysis,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.plan.set_taxonomy", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[TaxonomyArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
				SideEffects:          model.SideEffects{Category: model.SideEffectStorageWrite},
			},
			handler: handleSetTaxonomy,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.plan.set_pipeline", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[PipelineArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
				SideEffects:          model.SideEffects{Category: model.SideEffectStorageWrite},
			},
			handler: handleSetPipeline,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.plan.request_finish_analysis", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[FinishAnalysisArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
			},
			handler: handleRequestFinishAnalysis,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.ui.ask_user_categories", Scope: []model.Scope{model.ScopePlanning},
				ParametersJSONSchema: mustSchema[AskUserCategoriesArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
				SideEffects:          model.SideEffects{Category: model.SideEffectStorageWrite},
			},
			handler: handleAskUserCategories,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.append_report", Scope: []model.Scope{model.ScopePlanning, model.ScopeExecution, model.ScopeProofreading},
				ParametersJSONSchema: mustSchema[ReportArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyNone},
			},
			handler: handleAppendReport,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.update_checklist", Scope: []model.Scope{model.ScopePlanning, model.ScopeExecution, model.ScopeProofreading},
				ParametersJSONSchema: mustSchema[ChecklistArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyNone},
			},
			handler: handleUpdateChecklist,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.compress_context", Scope: []model.Scope{model.ScopeExecution, model.ScopeProofreading},
				ParametersJSONSchema: mustSchema[CompressContextArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyNone},
			},
			handler: handleCompressContext,
		},
		{
			def: model.ToolDefinition{
				Name: "agent.audit_progress", Scope: []model.Scope{model.ScopeExecution, model.ScopeProofreading},
				ParametersJSONSchema: mustSchema[AuditProgressArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyNone},
			},
			handler: handleAuditProgress,
		},
		{
			def: model.ToolDefinition{
				Name: "page.apply_delta", Scope: []model.Scope{model.ScopeExecution},
				ParametersJSONSchema: mustSchema[ApplyDeltaArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
				SideEffects:          model.SideEffects{Category: model.SideEffectDOMWrite},
				QoS:                  model.QoS{CoalesceKey: "key", DebounceMs: 400, QueueDepthLimit: 200},
			},
			handler: handleApplyDelta,
		},
		{
			def: model.ToolDefinition{
				Name: "proof.finish", Scope: []model.Scope{model.ScopeProofreading},
				ParametersJSONSchema: mustSchema[ProofFinishArgs](),
				Idempotency:          model.Idempotency{Mode: model.IdempotencyByCallID},
				SideEffects:          model.SideEffects{Category: model.SideEffectStorageWrite},
			},
			handler: handleProofFinish,
		},
	}

	for _, r := range registrations {
		if err := reg.Register(r.def, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func handlePreanalysisRead(_ context.Context, call tool.ExecuteRequest) (any, error) {
	call.Job.AgentState.PlanningMarkers.PreanalysisReadByTool = true
	return map[string]any{"blocks": len(call.Job.PendingBlockIDs)}, nil
}

func handleGetPreanalysis(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	job.AgentState.PlanningMarkers.PreanalysisReadByTool = true
	hints := make(map[string]string, len(job.PendingBlockIDs))
	for _, id := range job.PendingBlockIDs {
		if b := job.BlocksByID[id]; b != nil {
			hints[id] = b.Category
		}
	}
	return map[string]any{"hints": hints}, nil
}

func handleSetTaxonomy(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	categories, _ := sliceStrings(call.Arguments["categories"])
	mapping, _ := mapStrings(call.Arguments["mapping"])
	job.AgentState.Taxonomy = model.Taxonomy{Categories: categories, Mapping: mapping}
	job.AgentState.PlanningMarkers.TaxonomySetByTool = true
	return map[string]any{"categories": categories}, nil
}

func handleSetPipeline(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	strategy, _ := call.Arguments["strategy"].(string)
	glossaryEnabled, _ := call.Arguments["glossaryEnabled"].(bool)
	qcLevel, _ := call.Arguments["qcLevel"].(string)
	job.AgentState.Pipeline = model.PipelineStrategy{Strategy: strategy, GlossaryEnabled: glossaryEnabled, QCLevel: qcLevel}
	job.AgentState.PlanningMarkers.PipelineSetByTool = true
	return map[string]any{"strategy": strategy}, nil
}

func handleRequestFinishAnalysis(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	job.AgentState.PlanningMarkers.FinishAnalysisRequestedByTool = true
	job.AgentState.PlanningMarkers.FinishAnalysisOk = true
	job.AgentState.Plan = model.PlanSummary{Authored: true, Summary: "Planning analysis finished."}
	return map[string]any{"ok": true}, nil
}

func handleAskUserCategories(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	categories, _ := sliceStrings(call.Arguments["categories"])
	if len(categories) == 0 {
		categories = shaper.SelectCategories(job)
	}
	job.SelectedCategories = categories
	job.AgentState.SelectedCategories = categories
	job.AgentState.PlanningMarkers.AskUserCategoriesByTool = true
	job.Status = model.JobAwaitingCategories
	return map[string]any{"categories": categories}, nil
}

func handleAppendReport(_ context.Context, call tool.ExecuteRequest) (any, error) {
	severity, _ := call.Arguments["severity"].(string)
	message, _ := call.Arguments["message"].(string)
	if severity == "" {
		severity = string(model.ReportInfo)
	}
	call.Job.AgentState.Reports = append(call.Job.AgentState.Reports, model.Report{
		Severity: model.ReportSeverity(severity), Message: message,
	})
	return map[string]any{"recorded": true}, nil
}

func handleUpdateChecklist(_ context.Context, call tool.ExecuteRequest) (any, error) {
	stage, _ := call.Arguments["stage"].(string)
	status, _ := call.Arguments["status"].(string)
	call.Job.AgentState.Checklist = append(call.Job.AgentState.Checklist, model.ChecklistEntry{Stage: stage, Status: status})
	return map[string]any{"recorded": true}, nil
}

func handleCompressContext(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	modelName := "cl100k_base"
	if v, ok := call.Arguments[modelNameKey].(string); ok && v != "" {
		modelName = v
	}
	summary := shaper.CompressContext(job, modelName)
	job.AgentState.ContextSummary = summary
	return map[string]any{"summaryLength": len(summary)}, nil
}

func handleAuditProgress(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	audit := shaper.BuildAudit(job)
	job.AgentState.Audits = append(job.AgentState.Audits, audit)
	return map[string]any{"audit": audit.Payload}, nil
}

func handleApplyDelta(_ context.Context, call tool.ExecuteRequest) (any, error) {
	job := call.Job
	blockID, _ := call.Arguments["blockId"].(string)
	isFinal, _ := call.Arguments["isFinal"].(bool)
	if blockID == "" || !isFinal {
		return map[string]any{"applied": false, "blockId": blockID}, nil
	}
	for i, id := range job.PendingBlockIDs {
		if id == blockID {
			job.PendingBlockIDs = append(job.PendingBlockIDs[:i], job.PendingBlockIDs[i+1:]...)
			job.CompletedBlocks = append(job.CompletedBlocks, blockID)
			break
		}
	}
	return map[string]any{"applied": true, "blockId": blockID}, nil
}

func handleProofFinish(_ context.Context, call tool.ExecuteRequest) (any, error) {
	call.Job.Status = model.JobDone
	return map[string]any{"ok": true}, nil
}

func sliceStrings(v any) ([]string, bool) {
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.([]string); ok {
			return s, true
		}
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out, true
}

func mapStrings(v any) (map[string]string, bool) {
	raw, ok := v.(map[string]any)
	if !ok {
		if m, ok := v.(map[string]string); ok {
			return m, true
		}
		return nil, false
	}
	out := make(map[string]string, len(raw))
	for k, val := range raw {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out, true
}
