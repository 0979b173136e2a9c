// Package tool implements the Tool Registry (§4.3) and the Tool Execution
// Engine (§4.2): schema validation, idempotency, queue-depth backpressure,
// debounced coalescing, and standardized trace records.
package tool

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// GenerateSchema reflects a Go argument type into a JSON-schema map
// suitable for ToolDefinition.ParametersJSONSchema, using the same
// Reflector settings (inline, no $ref, required-from-tag) the rest of
// this codebase's ancestry uses for function-calling tool descriptors.
func GenerateSchema[T any]() (map[string]any, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("tool: marshal schema: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("tool: unmarshal schema: %w", err)
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m, nil
}

// ValidationError is one failed schema check, addressed by a JSON-pointer
// style path (e.g. "categories[0]", "mapping.block_3").
type ValidationError struct {
	Path    string
	Message string
}

// MaxValidationErrors is the §4.2.1 cap of "up to 8 error paths".
const MaxValidationErrors = 8

// ValidateArgs checks args against a parametersJsonSchema map. It supports
// the subset of JSON Schema the retrieved corpus actually generates via
// invopop/jsonschema (object/properties/required, type, enum, minimum,
// maximum, items) — no general-purpose JSON-schema validator library
// appears anywhere in the referenced example repositories (invopop's is a
// generator, not a validator), so this is a deliberately small
// hand-rolled checker rather than a fabricated dependency; see DESIGN.md.
func ValidateArgs(schema map[string]any, args map[string]any) []ValidationError {
	var errs []ValidationError
	validateObject("", schema, args, &errs)
	sort.Slice(errs, func(i, j int) bool { return errs[i].Path < errs[j].Path })
	if len(errs) > MaxValidationErrors {
		errs = errs[:MaxValidationErrors]
	}
	return errs
}

func validateObject(path string, schema map[string]any, value map[string]any, errs *[]ValidationError) {
	required, _ := schema["required"].([]any)
	for _, r := range required {
		name, _ := r.(string)
		if _, ok := value[name]; !ok {
			*errs = append(*errs, ValidationError{Path: joinPath(path, name), Message: "required field missing"})
		}
	}
	props, _ := schema["properties"].(map[string]any)
	for name, raw := range value {
		propSchema, ok := props[name].(map[string]any)
		if !ok {
			continue // unconstrained / additionalProperties
		}
		validateValue(joinPath(path, name), propSchema, raw, errs)
	}
}

func validateValue(path string, schema map[string]any, value any, errs *[]ValidationError) {
	if enum, ok := schema["enum"].([]any); ok {
		if !containsAny(enum, value) {
			*errs = append(*errs, ValidationError{Path: path, Message: "value not in enum"})
			return
		}
	}
	typ, _ := schema["type"].(string)
	switch typ {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			*errs = append(*errs, ValidationError{Path: path, Message: "expected object"})
			return
		}
		validateObject(path, schema, obj, errs)
	case "array":
		arr, ok := value.([]any)
		if !ok {
			*errs = append(*errs, ValidationError{Path: path, Message: "expected array"})
			return
		}
		itemSchema, _ := schema["items"].(map[string]any)
		if itemSchema != nil {
			for i, item := range arr {
				validateValue(fmt.Sprintf("%s[%d]", path, i), itemSchema, item, errs)
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			*errs = append(*errs, ValidationError{Path: path, Message: "expected string"})
		}
	case "number", "integer":
		n, ok := asFloat(value)
		if !ok {
			*errs = append(*errs, ValidationError{Path: path, Message: "expected number"})
			return
		}
		if min, ok := schema["minimum"]; ok {
			if minF, ok := asFloat(min); ok && n < minF {
				*errs = append(*errs, ValidationError{Path: path, Message: "below minimum"})
			}
		}
		if max, ok := schema["maximum"]; ok {
			if maxF, ok := asFloat(max); ok && n > maxF {
				*errs = append(*errs, ValidationError{Path: path, Message: "above maximum"})
			}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			*errs = append(*errs, ValidationError{Path: path, Message: "expected boolean"})
		}
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func containsAny(list []any, v any) bool {
	for _, item := range list {
		if fmt.Sprint(item) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
