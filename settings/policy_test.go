package settings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUserSettings_DefaultsProfile(t *testing.T) {
	out := NormalizeUserSettings(UserSettings{})
	assert.Equal(t, string(DefaultProfile), out["profile"])
}

func TestNormalizeUserSettings_RejectsUnknownProfile(t *testing.T) {
	out := NormalizeUserSettings(UserSettings{"profile": "bogus"})
	assert.Equal(t, string(DefaultProfile), out["profile"])
}

func TestNormalizeUserSettings_MigratesLegacyKeys(t *testing.T) {
	out := NormalizeUserSettings(UserSettings{"reasoningEffort": "high"})
	assert.Equal(t, "high", out["profile.reasoning.effort"])
	_, hasOld := out["reasoningEffort"]
	assert.False(t, hasOld)
}

func TestNormalizeUserSettings_RoundTripIdempotent(t *testing.T) {
	s := UserSettings{"profile": "thorough", "reasoningEffort": "high"}
	once := NormalizeUserSettings(s)
	twice := NormalizeUserSettings(once)
	assert.Equal(t, once, twice)
}

func TestApplyUserPatch_EmptyPatchIsNoop(t *testing.T) {
	base := NormalizeUserSettings(UserSettings{"profile": "fast"})
	patched := ApplyUserPatch(base, nil)
	assert.Equal(t, base, patched)
}

func TestApplyUserPatch_MergesAndMigrates(t *testing.T) {
	base := NormalizeUserSettings(UserSettings{"profile": "fast"})
	patched := ApplyUserPatch(base, UserSettings{"maxAgentSteps": 99})
	assert.Equal(t, "fast", patched["profile"])
	assert.Equal(t, 99, patched["profile.reasoning.maxSteps"])
}

func TestResolve_ProfileDefaults(t *testing.T) {
	eff, err := Resolve(UserSettings{"profile": "economy"})
	require.NoError(t, err)
	assert.Equal(t, ProfileEconomy, eff.Profile)
	assert.Equal(t, "low", eff.Reasoning.Effort)
	assert.Equal(t, 100, eff.Tools.QueueDepthLimit)
}

func TestResolve_OverridesApplyOnTopOfProfile(t *testing.T) {
	eff, err := Resolve(UserSettings{
		"profile":                       "balanced",
		"profile.reasoning.maxSteps":    50,
		"profile.tools.debounceMs":      999,
		"profile.routing.coordinator":   "etcd",
	})
	require.NoError(t, err)
	assert.Equal(t, 50, eff.Reasoning.MaxSteps)
	assert.Equal(t, 999, eff.Tools.DebounceMs)
	assert.Equal(t, "etcd", eff.Routing.Coordinator)
	// untouched fields keep the profile default
	assert.Equal(t, 120, eff.Reasoning.MaxToolCalls)
}

func TestResolve_UnknownProfileFallsBackToDefault(t *testing.T) {
	bad := UserSettings{"profile": "balanced"}
	bad["profile"] = "not-a-real-profile"
	// Resolve always normalizes first, and normalization replaces an
	// unknown profile with DefaultProfile, so this exercises the fallback
	// path rather than Resolve's own unknown-profile error.
	eff, err := Resolve(bad)
	require.NoError(t, err)
	assert.Equal(t, DefaultProfile, eff.Profile)
}
