// Package shaper implements the Translation Agent State Shaper (SPEC_FULL
// component 7): deterministic initial plan, glossary, category selection,
// checklist, audit, and context compression. These are the fallbacks that
// run when the LLM plan is unavailable or incomplete — the same role the
// teacher's pkg/context package plays in deterministically chunking and
// summarizing content before or instead of a model call.
package shaper

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/kadirpekel/orchestrator/model"
)

// categoryHints mirrors agent.fallbackCategoryFromHint's bucket rules; the
// shaper needs the same bucketing to build a deterministic initial plan
// before any model call has happened, independent of the planning loop's
// own forced-completion fallback.
func categoryFromHint(hint string) string {
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

// SelectCategories derives a deterministic category list from a job's
// pending blocks, deduplicated and sorted by name, for use as the seed of
// job.SelectedCategories before the model (or the planning fallback) has
// made its own choice.
func SelectCategories(job *model.Job) []string {
	seen := make(map[string]bool)
	var categories []string
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
		category := categoryFromHint(hint)
		if !seen[category] {
			seen[category] = true
			categories = append(categories, category)
		}
	}
	sort.Strings(categories)
	return categories
}

// BuildInitialGlossary seeds an empty glossary keyed by target language —
// the real glossary is populated by model tool calls during planning; this
// only guarantees the map is non-nil and carries the job's target
// language as a bootstrap entry, matching NewAgentState's "no nil-checks
// before first persist" discipline.
func BuildInitialGlossary(job *model.Job) map[string]string {
	return map[string]string{"__target_lang": job.TargetLang}
}

// BuildInitialPlan produces the deterministic fallback PlanSummary used
// when the model hasn't authored one yet (buildInitialInput's plan
// component, §4.4.1).
func BuildInitialPlan(job *model.Job) model.PlanSummary {
	categories := SelectCategories(job)
	return model.PlanSummary{
		Authored: false,
		Summary: fmt.Sprintf("Deterministic plan: %d pending blocks across categories [%s] to be translated into %s.",
			len(job.PendingBlockIDs), strings.Join(categories, ", "), job.TargetLang),
	}
}

// BuildInitialPlanningInput constructs the planning loop's first-turn
// input (the "buildInitialInput()" call of the §4.4.1 skeleton) out of the
// job's pending blocks and target language, with no model interaction.
func BuildInitialPlanningInput(job *model.Job) []model.InputItem {
	categories := SelectCategories(job)
	text := fmt.Sprintf(
		"Plan the translation of %d blocks into %s. Candidate categories: %s. "+
			"Call preanalysis_read, set_taxonomy, set_pipeline, request_finish_analysis, then ask_user_categories.",
		len(job.PendingBlockIDs), job.TargetLang, strings.Join(categories, ", "),
	)
	return []model.InputItem{{Type: model.InputText, Text: text}}
}

// BuildInitialExecutionInput constructs the execution loop's first-turn
// input from the job's selected categories and pending block count.
func BuildInitialExecutionInput(job *model.Job) []model.InputItem {
	text := fmt.Sprintf("Translate %d pending blocks into %s using categories %s.",
		len(job.PendingBlockIDs), job.TargetLang, strings.Join(job.SelectedCategories, ", "))
	return []model.InputItem{{Type: model.InputText, Text: text}}
}

// BuildInitialProofreadingInput constructs the proofreading loop's
// first-turn input from its own pending block set.
func BuildInitialProofreadingInput(job *model.Job) []model.InputItem {
	text := fmt.Sprintf("Proofread %d translated blocks for %s.", len(job.Proofreading.PendingBlockIDs), job.TargetLang)
	return []model.InputItem{{Type: model.InputText, Text: text}}
}

// DefaultChecklist returns the checklist stages a job is expected to pass
// through, seeded at preparing status so the UI has something to render
// before the first model turn completes.
func DefaultChecklist() []model.ChecklistEntry {
	return []model.ChecklistEntry{
		{Stage: "plan_taxonomy", Status: "pending"},
		{Stage: "plan_pipeline", Status: "pending"},
		{Stage: "execute_batches", Status: "pending"},
		{Stage: "proofread", Status: "pending"},
	}
}

// BuildAudit records a deterministic audit entry summarizing job progress,
// used by the "audit_progress" suggested action surfaced in
// TOOL_QUEUE_BACKPRESSURE errors (§4.2.3).
func BuildAudit(job *model.Job) model.Audit {
	return model.Audit{
		Kind: "progress",
		Payload: map[string]any{
			"pending":   len(job.PendingBlockIDs),
			"completed": len(job.CompletedBlocks),
			"failed":    len(job.FailedBlockIDs),
			"status":    string(job.Status),
		},
	}
}

// tokenCounterCache mirrors the teacher's per-model encoding cache
// (pkg/utils.TokenCounter) so repeated CompressContext calls within a job's
// lifetime don't re-initialize tiktoken's BPE tables.
var (
	tokenCounterCache = make(map[string]*tiktoken.Tiktoken)
	tokenCounterMu    sync.Mutex
)

func encodingFor(model string) *tiktoken.Tiktoken {
	tokenCounterMu.Lock()
	defer tokenCounterMu.Unlock()
	if enc, ok := tokenCounterCache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	tokenCounterCache[model] = enc
	return enc
}

// MaxContextTokens bounds agentState.contextSummary by token count rather
// than byte count (SPEC_FULL's DOMAIN STACK entry for tiktoken-go).
const MaxContextTokens = 2000

// CompressContext builds (or re-builds) job.AgentState.ContextSummary from
// the job's reports and trace tail, truncated to MaxContextTokens using an
// accurate tokenizer rather than a byte-length heuristic.
func CompressContext(job *model.Job, modelName string) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("job=%s status=%s pending=%d completed=%d failed=%d\n",
		job.JobID, job.Status, len(job.PendingBlockIDs), len(job.CompletedBlocks), len(job.FailedBlockIDs)))

	reports := job.AgentState.Reports
	if len(reports) > 20 {
		reports = reports[len(reports)-20:]
	}
	for _, r := range reports {
		sb.WriteString(fmt.Sprintf("[%s] %s\n", r.Severity, r.Message))
	}

	trace := job.AgentState.ToolExecutionTrace
	if len(trace) > 20 {
		trace = trace[len(trace)-20:]
	}
	for _, t := range trace {
		sb.WriteString(fmt.Sprintf("%s(%s)=%s\n", t.ToolName, t.CallID, t.Status))
	}

	text := sb.String()
	enc := encodingFor(modelName)
	if enc == nil {
		// No tokenizer available: fall back to a conservative byte bound.
		if len(text) > MaxContextTokens*4 {
			text = text[:MaxContextTokens*4]
		}
		return text
	}
	tokens := enc.Encode(text, nil, nil)
	if len(tokens) <= MaxContextTokens {
		return text
	}
	return enc.Decode(tokens[:MaxContextTokens])
}
