// Package tools defines the uniform contract every assistant capability implements,
// the registry that maps names to tool constructors, and the runner that invokes a
// tool by name and normalizes its outcome into an ExecutionResult.
package tools

import "context"

// Params are the tool-specific arguments for one invocation. Tools validate them
// themselves; the Runner passes them through untouched.
type Params map[string]any

// Result is the tool-specific payload of a successful invocation.
type Result map[string]any

// Tool is an executable capability exposed to the agent loop.
type Tool interface {
	// Name returns the stable identifier used as the registry key.
	Name() string

	// Description is advertised to the calling agent.
	Description() string

	// Run executes the tool. Failure is reported through the returned error,
	// never through a result that looks successful.
	Run(ctx context.Context, params Params) (Result, error)
}

// SchemaProvider is implemented by tools that publish a JSON schema for their
// parameters. The schema is used for capability advertisement and by the tool's
// own validation through Schema.Validate.
type SchemaProvider interface {
	Schema() map[string]any
}

// Descriptor identifies a registry slot.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Constructor builds a fresh tool instance.
type Constructor func() Tool

// DescriptorOf returns the descriptor advertised by t.
func DescriptorOf(t Tool) Descriptor {
	return Descriptor{Name: t.Name(), Description: t.Description()}
}
