// Package tools defines the tools available to the agent and the
// registry the execution stage dispatches through.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nugget/hodie/internal/llm"
)

// RawArgumentsKey holds argument text that failed to decode as JSON.
const RawArgumentsKey = "_raw"

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                   `json:"name"`
	Description string                                                   `json:"description"`
	Parameters  map[string]any                                           `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`

	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
}

// Spec returns the descriptor offered to the model.
func (t *Tool) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: t.Name, Description: t.Description, Parameters: t.Parameters}
}

// compile builds the argument schema once. A tool without parameters
// accepts any object.
func (t *Tool) compile() error {
	t.schemaOnce.Do(func() {
		if len(t.Parameters) == 0 {
			return
		}
		b, err := json.Marshal(t.Parameters)
		if err != nil {
			t.schemaErr = fmt.Errorf("encode schema: %w", err)
			return
		}
		t.schema, t.schemaErr = jsonschema.CompileString(t.Name+".schema.json", string(b))
	})
	return t.schemaErr
}

// Validate checks args against the declared parameter schema. A schema
// that does not compile disables validation for the tool; Builder logs
// it at build time.
func (t *Tool) Validate(args map[string]any) error {
	if raw, ok := args[RawArgumentsKey]; ok && len(args) == 1 {
		return fmt.Errorf("arguments are not valid JSON: %v", raw)
	}
	if err := t.compile(); err != nil || t.schema == nil {
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}
	// Round-trip so numbers and nested values have the JSON types the
	// validator expects.
	b, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode arguments: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(b, &decoded); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	if err := t.schema.Validate(decoded); err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	return nil
}

// Registry holds available tools. It is built once by a [Builder] and
// read-only afterwards, so it is safe for concurrent use.
type Registry struct {
	ordered []*Tool
	byName  map[string]*Tool
}

// newRegistry indexes tools in the given order. Callers guarantee
// unique names.
func newRegistry(tools []*Tool) *Registry {
	r := &Registry{
		ordered: tools,
		byName:  make(map[string]*Tool, len(tools)),
	}
	for _, t := range tools {
		r.byName[t.Name] = t
	}
	return r
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// List returns all tools: static tools in declaration order, then
// discovered tools in provider order.
func (r *Registry) List() []*Tool {
	return append([]*Tool(nil), r.ordered...)
}

// Specs returns the descriptors offered to the model, in List order.
func (r *Registry) Specs() []llm.ToolSpec {
	specs := make([]llm.ToolSpec, 0, len(r.ordered))
	for _, t := range r.ordered {
		specs = append(specs, t.Spec())
	}
	return specs
}

// Names returns tool names in List order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, t := range r.ordered {
		names = append(names, t.Name)
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	return len(r.ordered)
}

// Execute runs a tool by name. An unknown name returns
// *ErrToolUnavailable; bad arguments, handler errors and handler
// panics return *ToolCallError.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (result string, err error) {
	tool, ok := r.byName[name]
	if !ok {
		return "", &ErrToolUnavailable{ToolName: name}
	}
	if tool.Handler == nil {
		return "", &ToolCallError{Tool: name, Err: errors.New("no handler")}
	}
	if err := tool.Validate(args); err != nil {
		return "", &ToolCallError{Tool: name, Err: err}
	}

	defer func() {
		if p := recover(); p != nil {
			result = ""
			err = &ToolCallError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	out, err := tool.Handler(ctx, args)
	if err != nil {
		return "", &ToolCallError{Tool: name, Err: err}
	}
	return out, nil
}
