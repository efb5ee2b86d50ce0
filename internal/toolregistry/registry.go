// Package toolregistry is the in-process table of tool name to schema and
// optional handler: register/unregister tools, validate arguments against
// a JSON-Schema fragment, and execute a tool's handler.
package toolregistry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/openraccoon/agent-runtime/internal/telemetry"
)

// Handler resolves a tool invocation locally. A nil handler means the tool
// is declared (has a schema, used for validation and for remote discovery
// bookkeeping) but not locally executable.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Sentinel errors distinguishing the three fatal Execute outcomes named in
// the component contract. Wrap these with fmt.Errorf("%w: ...") rather than
// constructing new error values so callers can errors.Is against them.
var (
	ErrUnknownTool      = errors.New("unknown tool")
	ErrValidationFailed = errors.New("tool validation failed")
	ErrNoHandler        = errors.New("no handler registered for tool")
)

// ToolInfo is one entry returned by GetAvailableTools.
type ToolInfo struct {
	Name   string
	Schema map[string]any
}

// Registry is safe for concurrent use. Callers are expected to treat
// register/unregister as a setup-phase concern, not racing with validate/execute.
type Registry struct {
	mu       sync.RWMutex
	schemas  map[string]map[string]any
	handlers map[string]Handler
	compiled map[string]*jsonschema.Schema
	tel      telemetry.Bundle
}

// New returns an empty Registry. tel receives structured logs and metrics
// for every Execute outcome.
func New(tel telemetry.Bundle) *Registry {
	return &Registry{
		schemas:  make(map[string]map[string]any),
		handlers: make(map[string]Handler),
		compiled: make(map[string]*jsonschema.Schema),
		tel:      tel,
	}
}

// Register records name's schema and optional handler, overwriting any
// prior entry under the same name. If schema compiles as a JSON-Schema
// document (beyond the flat properties/required shape Validate checks
// directly), the compiled form is cached for future deep validation via
// ValidateAgainstSchema; a schema that fails to compile is still
// registered — compilation is a best-effort enrichment, not a gate.
func (r *Registry) Register(name string, schema map[string]any, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.schemas[name] = schema
	delete(r.compiled, name)
	if handler != nil {
		r.handlers[name] = handler
	} else {
		delete(r.handlers, name)
	}

	if compiled, err := compileFragment(name, schema); err == nil {
		r.compiled[name] = compiled
	}
}

// Unregister removes name from the registry. It is idempotent.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, name)
	delete(r.handlers, name)
	delete(r.compiled, name)
}

// Validate checks args against name's registered schema and returns a list
// of human-readable error strings (empty when args is valid). An unknown
// tool yields exactly one error.
func (r *Registry) Validate(name string, args map[string]any) []string {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return []string{fmt.Sprintf("Unknown tool: %s", name)}
	}

	var errs []string

	required, _ := schema["required"].([]any)
	for _, req := range required {
		key, ok := req.(string)
		if !ok {
			continue
		}
		if _, present := args[key]; !present {
			errs = append(errs, fmt.Sprintf("Missing required argument: %s", key))
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	for argName, argValue := range args {
		propAny, ok := properties[argName]
		if !ok {
			continue
		}
		prop, ok := propAny.(map[string]any)
		if !ok {
			continue
		}
		expectedType, _ := prop["type"].(string)
		if expectedType == "" {
			continue
		}
		if !typeCheckers[expectedType] {
			continue // unrecognized type keyword: no constraint
		}
		if !matchesType(argValue, expectedType) {
			errs = append(errs, fmt.Sprintf("Argument %s must be %s, got %s", argName, expectedType, jsonTypeName(argValue)))
		}
	}

	return errs
}

// Execute validates args then invokes name's handler. It returns
// ErrUnknownTool, ErrValidationFailed, or ErrNoHandler (wrapped with
// context) for the three fatal outcomes, in that precedence order.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (any, error) {
	ctx, span := r.tel.Tracer.Start(ctx, "toolregistry.execute")
	start := time.Now()
	defer span.End()

	fail := func(outcome string, err error) (any, error) {
		r.tel.Logger.Warn(ctx, "tool execution rejected", "tool", name, "outcome", outcome, "err", err)
		r.tel.Metrics.IncCounter("tool_registry_execute_total", 1, "tool", name, "outcome", outcome)
		return nil, err
	}

	r.mu.RLock()
	_, known := r.schemas[name]
	r.mu.RUnlock()
	if !known {
		return fail("unknown_tool", fmt.Errorf("%w: %s", ErrUnknownTool, name))
	}

	if errs := r.Validate(name, args); len(errs) > 0 {
		return fail("validation_failed", fmt.Errorf("%w: %s", ErrValidationFailed, strings.Join(errs, "; ")))
	}

	r.mu.RLock()
	handler := r.handlers[name]
	r.mu.RUnlock()
	if handler == nil {
		return fail("no_handler", fmt.Errorf("%w: %s", ErrNoHandler, name))
	}

	result, err := handler(ctx, args)
	duration := time.Since(start)
	r.tel.Metrics.RecordTimer("tool_registry_execute_duration", duration, "tool", name)
	if err != nil {
		r.tel.Logger.Error(ctx, "tool handler returned error", "tool", name, "err", err)
		r.tel.Metrics.IncCounter("tool_registry_execute_total", 1, "tool", name, "outcome", "handler_error")
		return result, err
	}
	r.tel.Metrics.IncCounter("tool_registry_execute_total", 1, "tool", name, "outcome", "success")
	return result, nil
}

// ValidateAgainstSchema runs the deeper JSON-Schema compiled validation
// (nested objects, enums, patterns, and other keywords the flat Validate
// pass does not inspect) when name's schema compiled successfully. It
// returns nil if no compiled schema is available for name.
func (r *Registry) ValidateAgainstSchema(name string, args map[string]any) error {
	r.mu.RLock()
	schema, ok := r.compiled[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return schema.Validate(args)
}

// GetAvailableTools returns every registered tool's name and schema.
func (r *Registry) GetAvailableTools() []ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolInfo, 0, len(r.schemas))
	for name, schema := range r.schemas {
		out = append(out, ToolInfo{Name: name, Schema: schema})
	}
	return out
}

// HasTool reports whether name is registered.
func (r *Registry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.schemas[name]
	return ok
}

// ToolCount returns the number of registered tools.
func (r *Registry) ToolCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}

var typeCheckers = map[string]bool{
	"string":  true,
	"integer": true,
	"number":  true,
	"boolean": true,
	"array":   true,
	"object":  true,
}

// matchesType implements the JSON-Schema type keywords recognized by this
// registry. boolean is checked strictly: a Go bool only, never a truthy
// number or string.
func matchesType(value any, want string) bool {
	switch want {
	case "string":
		_, ok := value.(string)
		return ok
	case "integer":
		switch v := value.(type) {
		case int, int32, int64:
			return true
		case float64:
			return v == math.Trunc(v)
		case float32:
			return float64(v) == math.Trunc(float64(v))
		}
		return false
	case "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
			return true
		}
		return false
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	default:
		return true
	}
}

// jsonTypeName names value the way a JSON-Schema error message would,
// rather than exposing Go's internal type names.
func jsonTypeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case int, int32, int64, float32, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "dict"
	default:
		return fmt.Sprintf("%T", value)
	}
}

func compileFragment(name string, schema map[string]any) (*jsonschema.Schema, error) {
	if schema == nil {
		return nil, errors.New("empty schema")
	}
	c := jsonschema.NewCompiler()
	resourceName := fmt.Sprintf("tool:%s.json", name)
	if err := c.AddResource(resourceName, schema); err != nil {
		return nil, err
	}
	return c.Compile(resourceName)
}
