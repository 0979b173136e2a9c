// Package settings implements the Settings Policy (§4.9, SPEC_FULL
// component 9): it normalizes the raw key-value bag the SettingsStore
// hands back into a typed Profile plus per-area overrides, and maps that
// onto the effective reasoning/caching/routing/tool defaults the rest of
// the orchestration core consumes. It also migrates legacy setting keys
// so callers never have to special-case an old on-disk shape.
package settings

import (
	"fmt"
	"strings"
)

// Profile names a named bundle of effective defaults, mirroring the
// teacher's LLMConfig "provider implies defaults" pattern (pkg/config's
// SetDefaults methods) generalized from one axis (LLM provider) to the
// four axes this system cares about (reasoning, caching, routing, tools).
type Profile string

const (
	ProfileBalanced    Profile = "balanced"
	ProfileFast        Profile = "fast"
	ProfileThorough    Profile = "thorough"
	ProfileEconomy     Profile = "economy"
	DefaultProfile             = ProfileBalanced
)

var validProfiles = map[Profile]bool{
	ProfileBalanced: true,
	ProfileFast:     true,
	ProfileThorough: true,
	ProfileEconomy:  true,
}

// ReasoningDefaults controls how much the model is asked to "think" per
// turn, and the per-phase step/tool-call budgets the agent loops read
// their LoopRecord.Max* fields from.
type ReasoningDefaults struct {
	Effort               string `json:"effort"` // "low" | "medium" | "high"
	MaxSteps             int    `json:"maxSteps"`
	MaxToolCalls         int    `json:"maxToolCalls"`
	MaxIterationsPerTick int    `json:"maxIterationsPerTick"`
	MaxStepAttempts      int    `json:"maxStepAttempts"`
	MaxNoProgressIters   int    `json:"maxNoProgressIterations"`
	AutoCompressEvery    int    `json:"autoCompressEvery"`
}

// CachingDefaults controls the idempotency-cache TTLs the tool engine
// honors for by_args_hash tools, plus the default coalescing lease.
type CachingDefaults struct {
	ArgsHashCacheTtlMs int `json:"argsHashCacheTtlMs"`
	DefaultLeaseMs     int `json:"defaultLeaseMs"`
}

// RoutingDefaults selects how remote requests are dispatched — a thin
// policy layer in front of the pluggable ModelChooser (§1, out of scope
// beyond this contract) and the dispatch queue's concurrency knobs.
type RoutingDefaults struct {
	MaxConcurrentRequests int    `json:"maxConcurrentRequests"`
	MaxQueuedRequests     int    `json:"maxQueuedRequests"`
	TimeoutMs             int    `json:"timeoutMs"`
	Coordinator           string `json:"coordinator"` // "memory" | "etcd" | "consul" | "zookeeper"
}

// ToolDefaults controls the engine's default QoS envelope for tools that
// don't declare their own (§4.2.3).
type ToolDefaults struct {
	QueueDepthLimit int `json:"queueDepthLimit"`
	DebounceMs      int `json:"debounceMs"`
	MaxPayloadBytes int `json:"maxPayloadBytes"`
}

// Effective is the fully-resolved settings bundle the rest of the system
// consumes. It is pure data — computing it from raw settings is the only
// thing this package does with it.
type Effective struct {
	Profile  Profile           `json:"profile"`
	Reasoning ReasoningDefaults `json:"reasoning"`
	Caching   CachingDefaults   `json:"caching"`
	Routing   RoutingDefaults   `json:"routing"`
	Tools     ToolDefaults      `json:"tools"`
}

var profileDefaults = map[Profile]Effective{
	ProfileBalanced: {
		Profile: ProfileBalanced,
		Reasoning: ReasoningDefaults{
			Effort: "medium", MaxSteps: 24, MaxToolCalls: 120,
			MaxIterationsPerTick: 4, MaxStepAttempts: 3,
			MaxNoProgressIters: 4, AutoCompressEvery: 8,
		},
		Caching: CachingDefaults{ArgsHashCacheTtlMs: 60_000, DefaultLeaseMs: 15_000},
		Routing: RoutingDefaults{MaxConcurrentRequests: 2, MaxQueuedRequests: 120, TimeoutMs: 90_000, Coordinator: "memory"},
		Tools:   ToolDefaults{QueueDepthLimit: 200, DebounceMs: 400, MaxPayloadBytes: 262_144},
	},
	ProfileFast: {
		Profile: ProfileFast,
		Reasoning: ReasoningDefaults{
			Effort: "low", MaxSteps: 16, MaxToolCalls: 80,
			MaxIterationsPerTick: 6, MaxStepAttempts: 2,
			MaxNoProgressIters: 3, AutoCompressEvery: 6,
		},
		Caching: CachingDefaults{ArgsHashCacheTtlMs: 30_000, DefaultLeaseMs: 10_000},
		Routing: RoutingDefaults{MaxConcurrentRequests: 2, MaxQueuedRequests: 120, TimeoutMs: 45_000, Coordinator: "memory"},
		Tools:   ToolDefaults{QueueDepthLimit: 200, DebounceMs: 250, MaxPayloadBytes: 262_144},
	},
	ProfileThorough: {
		Profile: ProfileThorough,
		Reasoning: ReasoningDefaults{
			Effort: "high", MaxSteps: 40, MaxToolCalls: 200,
			MaxIterationsPerTick: 3, MaxStepAttempts: 4,
			MaxNoProgressIters: 6, AutoCompressEvery: 10,
		},
		Caching: CachingDefaults{ArgsHashCacheTtlMs: 120_000, DefaultLeaseMs: 20_000},
		Routing: RoutingDefaults{MaxConcurrentRequests: 1, MaxQueuedRequests: 120, TimeoutMs: 180_000, Coordinator: "memory"},
		Tools:   ToolDefaults{QueueDepthLimit: 200, DebounceMs: 500, MaxPayloadBytes: 524_288},
	},
	ProfileEconomy: {
		Profile: ProfileEconomy,
		Reasoning: ReasoningDefaults{
			Effort: "low", MaxSteps: 12, MaxToolCalls: 60,
			MaxIterationsPerTick: 4, MaxStepAttempts: 2,
			MaxNoProgressIters: 3, AutoCompressEvery: 4,
		},
		Caching: CachingDefaults{ArgsHashCacheTtlMs: 300_000, DefaultLeaseMs: 10_000},
		Routing: RoutingDefaults{MaxConcurrentRequests: 1, MaxQueuedRequests: 60, TimeoutMs: 45_000, Coordinator: "memory"},
		Tools:   ToolDefaults{QueueDepthLimit: 100, DebounceMs: 500, MaxPayloadBytes: 131_072},
	},
}

// legacyKeyAliases maps keys an older on-disk settings shape used to the
// current key, so stored user settings from before a rename still load.
// Grounded in the teacher's config migration comments in
// pkg/config/config.go ("Deprecated: use X instead").
var legacyKeyAliases = map[string]string{
	"reasoningEffort":        "profile.reasoning.effort",
	"maxAgentSteps":          "profile.reasoning.maxSteps",
	"cacheTtlMs":             "profile.caching.argsHashCacheTtlMs",
	"concurrentRequests":     "profile.routing.maxConcurrentRequests",
	"toolQueueLimit":         "profile.tools.queueDepthLimit",
	"debounceMs":             "profile.tools.debounceMs",
}

// UserSettings is the raw, possibly-stale document read from
// SettingsStore.Get. Unknown keys are ignored; missing keys fall back to
// profile defaults.
type UserSettings map[string]any

// NormalizeUserSettings migrates legacy keys, validates the selected
// profile, and returns a new, canonicalized UserSettings document. It is
// idempotent: normalizing an already-normalized document returns an
// equal document (§8 round-trip law).
func NormalizeUserSettings(raw UserSettings) UserSettings {
	out := make(UserSettings, len(raw))
	for k, v := range raw {
		key := k
		if migrated, ok := legacyKeyAliases[k]; ok {
			key = migrated
		}
		out[key] = v
	}

	profile, _ := out["profile"].(string)
	if profile == "" {
		out["profile"] = string(DefaultProfile)
	} else if !validProfiles[Profile(profile)] {
		out["profile"] = string(DefaultProfile)
	}

	return out
}

// ApplyUserPatch merges patch onto a normalized base and re-normalizes
// the result, so ApplyUserPatch(NormalizeUserSettings(S), nil) ==
// NormalizeUserSettings(S) (§8).
func ApplyUserPatch(base UserSettings, patch UserSettings) UserSettings {
	normalized := NormalizeUserSettings(base)
	if len(patch) == 0 {
		return normalized
	}
	merged := make(UserSettings, len(normalized)+len(patch))
	for k, v := range normalized {
		merged[k] = v
	}
	for k, v := range patch {
		key := k
		if migrated, ok := legacyKeyAliases[k]; ok {
			key = migrated
		}
		merged[key] = v
	}
	return NormalizeUserSettings(merged)
}

// Resolve computes the Effective bundle for a normalized UserSettings
// document: start from the selected profile's defaults, then apply any
// dotted "profile.<area>.<field>" overrides present in raw.
func Resolve(raw UserSettings) (Effective, error) {
	normalized := NormalizeUserSettings(raw)

	profile := Profile(fmt.Sprint(normalized["profile"]))
	base, ok := profileDefaults[profile]
	if !ok {
		return Effective{}, fmt.Errorf("settings: unknown profile %q", profile)
	}

	eff := base
	for k, v := range normalized {
		if !strings.HasPrefix(k, "profile.") {
			continue
		}
		applyOverride(&eff, strings.TrimPrefix(k, "profile."), v)
	}
	return eff, nil
}

func applyOverride(eff *Effective, path string, v any) {
	switch path {
	case "reasoning.effort":
		if s, ok := v.(string); ok {
			eff.Reasoning.Effort = s
		}
	case "reasoning.maxSteps":
		if n, ok := asInt(v); ok {
			eff.Reasoning.MaxSteps = n
		}
	case "reasoning.maxToolCalls":
		if n, ok := asInt(v); ok {
			eff.Reasoning.MaxToolCalls = n
		}
	case "reasoning.maxIterationsPerTick":
		if n, ok := asInt(v); ok {
			eff.Reasoning.MaxIterationsPerTick = n
		}
	case "reasoning.maxStepAttempts":
		if n, ok := asInt(v); ok {
			eff.Reasoning.MaxStepAttempts = n
		}
	case "reasoning.maxNoProgressIterations":
		if n, ok := asInt(v); ok {
			eff.Reasoning.MaxNoProgressIters = n
		}
	case "reasoning.autoCompressEvery":
		if n, ok := asInt(v); ok {
			eff.Reasoning.AutoCompressEvery = n
		}
	case "caching.argsHashCacheTtlMs":
		if n, ok := asInt(v); ok {
			eff.Caching.ArgsHashCacheTtlMs = n
		}
	case "caching.defaultLeaseMs":
		if n, ok := asInt(v); ok {
			eff.Caching.DefaultLeaseMs = n
		}
	case "routing.maxConcurrentRequests":
		if n, ok := asInt(v); ok {
			eff.Routing.MaxConcurrentRequests = n
		}
	case "routing.maxQueuedRequests":
		if n, ok := asInt(v); ok {
			eff.Routing.MaxQueuedRequests = n
		}
	case "routing.timeoutMs":
		if n, ok := asInt(v); ok {
			eff.Routing.TimeoutMs = n
		}
	case "routing.coordinator":
		if s, ok := v.(string); ok {
			eff.Routing.Coordinator = s
		}
	case "tools.queueDepthLimit":
		if n, ok := asInt(v); ok {
			eff.Tools.QueueDepthLimit = n
		}
	case "tools.debounceMs":
		if n, ok := asInt(v); ok {
			eff.Tools.DebounceMs = n
		}
	case "tools.maxPayloadBytes":
		if n, ok := asInt(v); ok {
			eff.Tools.MaxPayloadBytes = n
		}
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}
