package canonjson

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_SortsObjectKeysAtEveryLevel(t *testing.T) {
	v := map[string]any{
		"z": 1,
		"a": map[string]any{"y": true, "b": "x"},
	}
	out, err := Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{"b":"x","y":true},"z":1}`, string(out))
}

func TestMarshal_StableAcrossEquivalentMapLiterals(t *testing.T) {
	a := map[string]any{"one": 1, "two": 2, "three": 3}
	b := map[string]any{"three": 3, "one": 1, "two": 2}
	outA, err := Marshal(a)
	require.NoError(t, err)
	outB, err := Marshal(b)
	require.NoError(t, err)
	assert.Equal(t, string(outA), string(outB))
}

func TestMarshal_Array(t *testing.T) {
	out, err := Marshal([]any{"a", 1, false, nil})
	require.NoError(t, err)
	assert.Equal(t, `["a",1,false,null]`, string(out))
}

func TestFNV1aHex_DeterministicAndOrderIndependent(t *testing.T) {
	h1, err := FNV1aHex("page.apply_delta", map[string]any{"key": "k1", "text": "hi"})
	require.NoError(t, err)
	h2, err := FNV1aHex("page.apply_delta", map[string]any{"text": "hi", "key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 8)
}

func TestFNV1aHex_DiffersOnToolNameOrArgs(t *testing.T) {
	h1, err := FNV1aHex("page.apply_delta", map[string]any{"key": "k1"})
	require.NoError(t, err)
	h2, err := FNV1aHex("page.apply_delta", map[string]any{"key": "k2"})
	require.NoError(t, err)
	h3, err := FNV1aHex("page.other_tool", map[string]any{"key": "k1"})
	require.NoError(t, err)

	assert.NotEqual(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
