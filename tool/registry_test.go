package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/orchestrator/model"
)

func noopHandler(_ context.Context, _ ExecuteRequest) (any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()
	def := model.ToolDefinition{Name: "agent.test.echo", Scope: []model.Scope{model.ScopePlanning}}
	require.NoError(t, reg.Register(def, noopHandler))

	gotDef, handler, ok := reg.Lookup("agent.test.echo")
	require.True(t, ok)
	assert.NotNil(t, handler)
	assert.Equal(t, "1.0.0", gotDef.ToolVersion, "unset ToolVersion defaults to 1.0.0 on registration")

	_, _, ok = reg.Lookup("does.not.exist")
	assert.False(t, ok)
}

func TestRegistry_Register_RejectsEmptyNameNilHandlerAndDuplicates(t *testing.T) {
	reg := NewRegistry()
	assert.Error(t, reg.Register(model.ToolDefinition{}, noopHandler))
	assert.Error(t, reg.Register(model.ToolDefinition{Name: "x"}, nil))

	def := model.ToolDefinition{Name: "agent.test.once"}
	require.NoError(t, reg.Register(def, noopHandler))
	assert.Error(t, reg.Register(def, noopHandler), "re-registering the same name is an error")
}

func TestRegistry_GetToolsSpec_FiltersByScope(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name: "planning.only", Scope: []model.Scope{model.ScopePlanning},
	}, noopHandler))
	require.NoError(t, reg.Register(model.ToolDefinition{
		Name: "execution.only", Scope: []model.Scope{model.ScopeExecution},
	}, noopHandler))

	planningSpecs := reg.GetToolsSpec(model.ScopePlanning)
	require.Len(t, planningSpecs, 1)
	assert.Equal(t, "planning.only", planningSpecs[0]["name"])

	executionSpecs := reg.GetToolsSpec(model.ScopeExecution)
	require.Len(t, executionSpecs, 1)
	assert.Equal(t, "execution.only", executionSpecs[0]["name"])
}

func TestRegistry_Execute_UnknownToolReturnsTypedError(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), ExecuteRequest{Name: "missing"})
	require.Error(t, err)
}

func TestRegistry_Execute_InvokesHandler(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{Name: "agent.test.echo"}, noopHandler))
	out, err := reg.Execute(context.Background(), ExecuteRequest{Name: "agent.test.echo"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, out)
}

func TestRegistry_Definition(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(model.ToolDefinition{Name: "agent.test.echo"}, noopHandler))
	def, ok := reg.Definition("agent.test.echo")
	require.True(t, ok)
	assert.Equal(t, "agent.test.echo", def.Name)

	_, ok = reg.Definition("missing")
	assert.False(t, ok)
}
