// Package agent connects the tool registry to the agentsdk-go runtime.
package agent

import (
	"context"
	"errors"

	"github.com/cexll/agentsdk-go/pkg/tool"

	"github.com/stellarlinkco/nova/internal/tools"
)

// ToolAdapter exposes one registry tool to the agent runtime. Every call goes
// through the Runner, so the model sees the same envelope as any other caller.
type ToolAdapter struct {
	runner *tools.Runner
	desc   tools.Descriptor
	schema *tool.JSONSchema
}

var _ tool.Tool = (*ToolAdapter)(nil)

// Adapters wraps every tool registered with the runner's registry, in
// registration order.
func Adapters(runner *tools.Runner) []tool.Tool {
	reg := runner.Registry()
	descs := reg.Descriptors()
	out := make([]tool.Tool, 0, len(descs))
	for _, d := range descs {
		ctor, ok := reg.Resolve(d.Name)
		if !ok {
			continue
		}
		out = append(out, &ToolAdapter{runner: runner, desc: d, schema: schemaOf(ctor)})
	}
	return out
}

func (a *ToolAdapter) Name() string        { return a.desc.Name }
func (a *ToolAdapter) Description() string { return a.desc.Description }
func (a *ToolAdapter) Schema() *tool.JSONSchema {
	return a.schema
}

func (a *ToolAdapter) Execute(ctx context.Context, params map[string]interface{}) (*tool.ToolResult, error) {
	res := a.runner.Execute(ctx, a.desc.Name, tools.Params(params))
	out := &tool.ToolResult{
		Success: res.OK,
		Output:  res.JSON(),
		Data:    res,
	}
	if !res.OK {
		out.Error = errors.New(res.Error)
	}
	return out, nil
}

// schemaOf asks a throwaway instance for its parameter schema. Tools without
// one accept an open object.
func schemaOf(ctor tools.Constructor) (schema *tool.JSONSchema) {
	schema = &tool.JSONSchema{Type: "object", Properties: map[string]interface{}{}}
	defer func() {
		if recover() != nil {
			schema = &tool.JSONSchema{Type: "object", Properties: map[string]interface{}{}}
		}
	}()

	sp, ok := ctor().(tools.SchemaProvider)
	if !ok {
		return schema
	}
	doc := sp.Schema()
	if props, ok := doc["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	switch req := doc["required"].(type) {
	case []string:
		schema.Required = append(schema.Required, req...)
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}
