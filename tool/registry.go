package tool

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kadirpekel/orchestrator/model"
	"github.com/kadirpekel/orchestrator/orcerr"
)

// Source identifies who originated a tool call (§4.3): the model, or the
// orchestrator itself (system-sourced calls used by the forced-completion
// fallback and periodic context compression).
type Source string

const (
	SourceModel  Source = "model"
	SourceSystem Source = "system"
)

// Handler is a registered tool's implementation. It returns an object or
// string; the registry never stringifies the result — serialization is
// the execution engine's job (§4.3).
type Handler func(ctx context.Context, call ExecuteRequest) (any, error)

// ExecuteRequest is the registry's execute({...}) contract (§4.3).
type ExecuteRequest struct {
	Name      string
	Arguments map[string]any
	Job       *model.Job
	Settings  map[string]any
	CallID    string
	Source    Source
	RequestID string
}

// entry pairs a ToolDefinition with its handler.
type entry struct {
	def     model.ToolDefinition
	handler Handler
}

// Registry holds registered tool definitions and handlers, built on the
// same generic BaseRegistry[T] pattern used elsewhere in this codebase's
// lineage for pluggable-backend registries (database providers, lease
// coordinators).
type Registry struct {
	items map[string]entry
}

// NewRegistry returns an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]entry)}
}

// Register adds a tool definition and its handler. Names are normalized
// dotted namespaces (e.g. "agent.plan.set_taxonomy") and are not
// re-registered once present.
func (r *Registry) Register(def model.ToolDefinition, handler Handler) error {
	if def.Name == "" {
		return fmt.Errorf("tool: name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool: handler cannot be nil")
	}
	if _, exists := r.items[def.Name]; exists {
		return fmt.Errorf("tool: %q already registered", def.Name)
	}
	if def.ToolVersion == "" {
		def.ToolVersion = "1.0.0"
	}
	r.items[def.Name] = entry{def: def, handler: handler}
	return nil
}

// Lookup returns a tool's definition and handler by name.
func (r *Registry) Lookup(name string) (model.ToolDefinition, Handler, bool) {
	e, ok := r.items[name]
	if !ok {
		return model.ToolDefinition{}, nil, false
	}
	return e.def, e.handler, true
}

// GetToolsSpec returns the JSON descriptor of tools visible in the given
// phase (§4.3 getToolsSpec(scope)), one entry per registered tool whose
// Scope includes the phase.
func (r *Registry) GetToolsSpec(scope model.Scope) []map[string]any {
	var specs []map[string]any
	for _, e := range r.items {
		if !e.def.InScope(scope) {
			continue
		}
		specs = append(specs, map[string]any{
			"name":        e.def.Name,
			"parameters":  e.def.ParametersJSONSchema,
			"toolVersion": e.def.ToolVersion,
		})
	}
	return specs
}

// MCPTools renders the same scope-filtered tool set as MCP-compatible
// descriptors, so this registry can in principle be fronted by an MCP
// server without a second source of truth for tool shape.
func (r *Registry) MCPTools(scope model.Scope) []mcp.Tool {
	var out []mcp.Tool
	for _, e := range r.items {
		if !e.def.InScope(scope) {
			continue
		}
		schema := mcp.ToolInputSchema{Type: "object"}
		if props, ok := e.def.ParametersJSONSchema["properties"].(map[string]any); ok {
			schema.Properties = props
		}
		if req, ok := e.def.ParametersJSONSchema["required"].([]any); ok {
			for _, r := range req {
				if s, ok := r.(string); ok {
					schema.Required = append(schema.Required, s)
				}
			}
		}
		out = append(out, mcp.Tool{
			Name:        e.def.Name,
			Description: e.def.Name,
			InputSchema: schema,
		})
	}
	return out
}

// Execute runs a registered tool's handler. It does not enforce QoS,
// idempotency or tracing — those are ToolExecutionEngine's job; Execute is
// the pure invocation boundary (§4.3).
func (r *Registry) Execute(ctx context.Context, req ExecuteRequest) (any, error) {
	e, ok := r.items[req.Name]
	if !ok {
		return nil, orcerr.New(orcerr.CodeToolRegistryUnavailable, fmt.Sprintf("unknown tool %q", req.Name))
	}
	return e.handler(ctx, req)
}

// Definition returns the registered ToolDefinition, for callers (the
// execution engine) that need QoS/idempotency metadata without invoking
// the handler.
func (r *Registry) Definition(name string) (model.ToolDefinition, bool) {
	e, ok := r.items[name]
	return e.def, ok
}
