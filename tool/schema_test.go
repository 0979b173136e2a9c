package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleArgs struct {
	Key   string `json:"key" jsonschema:"required"`
	Count int    `json:"count"`
}

func TestGenerateSchema_ReflectsRequiredFromTag(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	require.NoError(t, err)

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "key")
	assert.NotContains(t, required, "count")
}

func TestValidateArgs_RequiredFieldMissing(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	require.NoError(t, err)

	errs := ValidateArgs(schema, map[string]any{"count": float64(2)})
	require.Len(t, errs, 1)
	assert.Equal(t, "key", errs[0].Path)
}

func TestValidateArgs_TypeMismatch(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	require.NoError(t, err)

	errs := ValidateArgs(schema, map[string]any{"key": "ok", "count": "not-a-number"})
	require.Len(t, errs, 1)
	assert.Equal(t, "count", errs[0].Path)
}

func TestValidateArgs_ValidPasses(t *testing.T) {
	schema, err := GenerateSchema[sampleArgs]()
	require.NoError(t, err)

	errs := ValidateArgs(schema, map[string]any{"key": "ok", "count": float64(3)})
	assert.Empty(t, errs)
}

func TestValidateArgs_CapsAtMaxValidationErrors(t *testing.T) {
	schema := map[string]any{
		"required": []any{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"},
	}
	errs := ValidateArgs(schema, map[string]any{})
	assert.Len(t, errs, MaxValidationErrors)
}

func TestValidateArgs_ArrayItemValidation(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"categories": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}
	errs := ValidateArgs(schema, map[string]any{"categories": []any{"ok", 5}})
	require.Len(t, errs, 1)
	assert.Equal(t, "categories[1]", errs[0].Path)
}
