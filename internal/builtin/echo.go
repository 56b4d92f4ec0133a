package builtin

import (
	"context"

	"github.com/stellarlinkco/nova/internal/tools"
)

type EchoTool struct{}

func (EchoTool) Name() string        { return "echo" }
func (EchoTool) Description() string { return "Returns the provided text." }

func (EchoTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []any{"text"},
	}
}

func (EchoTool) Run(_ context.Context, params tools.Params) (tools.Result, error) {
	v, ok := params["text"]
	if !ok {
		return nil, tools.Errorf("parameter %q is required", "text")
	}
	text, ok := v.(string)
	if !ok {
		return nil, tools.Errorf("parameter %q must be a string", "text")
	}
	return tools.Result{"text": text}, nil
}
