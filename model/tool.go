package model

// IdempotencyMode selects a tool's idempotency strategy (§4.2.2).
type IdempotencyMode string

const (
	IdempotencyNone       IdempotencyMode = "none"
	IdempotencyByCallID   IdempotencyMode = "by_call_id"
	IdempotencyByArgsHash IdempotencyMode = "by_args_hash"
)

// SideEffectCategory classifies a tool's observable side effect, which
// determines whether a successful execution gets a lease (§4.2.5 step 3).
type SideEffectCategory string

const (
	SideEffectNone         SideEffectCategory = "none"
	SideEffectDOMWrite     SideEffectCategory = "dom_write"
	SideEffectStorageWrite SideEffectCategory = "storage_write"
	SideEffectNetwork      SideEffectCategory = "network"
)

// Scope is a phase a tool is callable from.
type Scope string

const (
	ScopePlanning     Scope = "planning"
	ScopeExecution    Scope = "execution"
	ScopeProofreading Scope = "proofreading"
)

// QoS holds the queue/backpressure/coalescing/cache knobs for a tool
// (§4.2.3, §4.2.4).
type QoS struct {
	QueueDepthLimit int
	DebounceMs      int64
	CoalesceKey     string
	CacheTtlMs      int64
	MaxPayloadBytes int64
}

// Idempotency configures a tool's idempotency mode and (for by_args_hash)
// its cache TTL, which lives on QoS.CacheTtlMs.
type Idempotency struct {
	Mode IdempotencyMode
}

// SideEffects classifies the tool's observable effect.
type SideEffects struct {
	Category SideEffectCategory
}

// ToolDefinition is the registry's record for a single tool (§3.1).
type ToolDefinition struct {
	Name                 string
	Scope                []Scope
	ParametersJSONSchema map[string]any
	Idempotency          Idempotency
	QoS                  QoS
	SideEffects          SideEffects
	ToolVersion          string
}

// DefaultQueueDepthLimit and MinQueueDepthLimit implement the "default 200,
// minimum 10" rule of §4.2.3.
const (
	DefaultQueueDepthLimit = 200
	MinQueueDepthLimit     = 10
)

// EffectiveQueueDepthLimit clamps a tool's configured limit to the
// documented minimum, defaulting to DefaultQueueDepthLimit when unset.
func (t *ToolDefinition) EffectiveQueueDepthLimit() int {
	limit := t.QoS.QueueDepthLimit
	if limit == 0 {
		limit = DefaultQueueDepthLimit
	}
	if limit < MinQueueDepthLimit {
		limit = MinQueueDepthLimit
	}
	return limit
}

// InScope reports whether the tool is callable from the given phase.
func (t *ToolDefinition) InScope(s Scope) bool {
	for _, sc := range t.Scope {
		if sc == s {
			return true
		}
	}
	return false
}
