package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned when a tool call targets a tool that
// is not present in the registry. The model named something that does
// not exist; the call fails but the batch continues.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("unknown tool %q", e.ToolName)
}

// ErrDuplicateTool marks a name declared twice across static tools and
// providers.
var ErrDuplicateTool = errors.New("duplicate tool name")

// RegistryError is a startup failure while building the registry: a
// name collision, or a provider that failed or timed out during
// discovery. The conversation loop must not start after one.
type RegistryError struct {
	Provider string // empty for collisions among static tools
	Tool     string // set for collisions
	Err      error
}

func (e *RegistryError) Error() string {
	switch {
	case e.Tool != "" && e.Provider != "":
		return fmt.Sprintf("tool registry: provider %q: tool %q: %v", e.Provider, e.Tool, e.Err)
	case e.Tool != "":
		return fmt.Sprintf("tool registry: tool %q: %v", e.Tool, e.Err)
	default:
		return fmt.Sprintf("tool registry: provider %q: %v", e.Provider, e.Err)
	}
}

func (e *RegistryError) Unwrap() error { return e.Err }

// ToolCallError is a single call's failure: invalid arguments, a
// handler error, or a recovered panic. The execution stage turns it
// into an error result for the model.
type ToolCallError struct {
	Tool string
	Err  error
}

func (e *ToolCallError) Error() string {
	return fmt.Sprintf("%s: %v", e.Tool, e.Err)
}

func (e *ToolCallError) Unwrap() error { return e.Err }
