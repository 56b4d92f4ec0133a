package agent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/nova/internal/persona"
	"github.com/stellarlinkco/nova/internal/tools"
)

type schemaTool struct{}

func (schemaTool) Name() string        { return "greet" }
func (schemaTool) Description() string { return "says hello" }
func (schemaTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{"name": map[string]any{"type": "string"}},
		"required":   []any{"name"},
	}
}
func (schemaTool) Run(_ context.Context, p tools.Params) (tools.Result, error) {
	name, err := p.RequireString("name")
	if err != nil {
		return nil, err
	}
	return tools.Result{"greeting": "hello " + name}, nil
}

type plainTool struct{}

func (plainTool) Name() string        { return "plain" }
func (plainTool) Description() string { return "no schema" }
func (plainTool) Run(context.Context, tools.Params) (tools.Result, error) {
	return nil, errors.New("boom")
}

func newRunner(t *testing.T) *tools.Runner {
	t.Helper()
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Descriptor{Name: "greet", Description: "says hello"}, func() tools.Tool { return schemaTool{} }))
	require.NoError(t, reg.Register(tools.Descriptor{Name: "plain", Description: "no schema"}, func() tools.Tool { return plainTool{} }))
	return tools.NewRunner(reg)
}

func TestAdapters_SchemaAndOrder(t *testing.T) {
	adapters := Adapters(newRunner(t))
	require.Len(t, adapters, 2)

	assert.Equal(t, "greet", adapters[0].Name())
	assert.Equal(t, "says hello", adapters[0].Description())
	s := adapters[0].Schema()
	assert.Equal(t, "object", s.Type)
	assert.Equal(t, []string{"name"}, s.Required)
	assert.Contains(t, s.Properties, "name")

	s = adapters[1].Schema()
	assert.Equal(t, "object", s.Type)
	assert.Empty(t, s.Required)
}

func TestAdapter_ExecuteGoesThroughRunner(t *testing.T) {
	adapters := Adapters(newRunner(t))

	res, err := adapters[0].Execute(context.Background(), map[string]interface{}{"name": "nova"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Contains(t, res.Output, `"greeting":"hello nova"`)
	env := res.Data.(tools.ExecutionResult)
	assert.Equal(t, "greet", env.Tool)

	res, err = adapters[1].Execute(context.Background(), nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.EqualError(t, res.Error, "boom")
	assert.Contains(t, res.Output, `"error_kind":"ToolExecutionError"`)
}

func TestBuildSystemPrompt(t *testing.T) {
	ws := t.TempDir()
	assert.Empty(t, BuildSystemPrompt(ws, ""))

	require.NoError(t, os.WriteFile(filepath.Join(ws, "AGENTS.md"), []byte("agents"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "SOUL.md"), []byte("soul"), 0o644))
	got := BuildSystemPrompt(ws, "- name: Ada")
	assert.Equal(t, "agents\n\nsoul\n\n# Memory\n- name: Ada\n\n", got)
}

type fakeRuntime struct {
	resp *api.Response
	err  error
	req  api.Request
}

func (f *fakeRuntime) Run(_ context.Context, req api.Request) (*api.Response, error) {
	f.req = req
	return f.resp, f.err
}
func (f *fakeRuntime) Close() {}

func TestAsk(t *testing.T) {
	rt := &fakeRuntime{resp: &api.Response{Result: &api.Result{
		Output: "done",
		ToolCalls: []model.ToolCall{
			{Name: "shell"}, {Name: "echo"}, {Name: "shell"},
		},
	}}}
	out, used, err := Ask(context.Background(), rt, "hi", "s1")
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	assert.Equal(t, []string{"shell", "echo"}, used)
	assert.Equal(t, "s1", rt.req.SessionID)

	out, _, err = Ask(context.Background(), &fakeRuntime{}, "hi", "s1")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, _, err = Ask(context.Background(), &fakeRuntime{err: errors.New("down")}, "hi", "s1")
	assert.Error(t, err)
}

type fakeSDK struct {
	req    api.Request
	closed bool
}

func (f *fakeSDK) Run(_ context.Context, req api.Request) (*api.Response, error) {
	f.req = req
	return &api.Response{}, nil
}
func (f *fakeSDK) Close() error {
	f.closed = true
	return nil
}

func TestRuntimeAdapter_ForcesPersona(t *testing.T) {
	lib, err := persona.Load("", nil)
	require.NoError(t, err)
	sdk := &fakeSDK{}
	clock := time.Date(2026, 3, 14, 3, 0, 0, 0, time.Local)
	rt := &runtimeAdapter{rt: sdk, persona: lib, now: func() time.Time { return clock }}

	_, err = rt.Run(context.Background(), api.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"persona-night", "persona-night-peak"}, sdk.req.ForceSkills)

	clock = time.Date(2026, 3, 14, 11, 0, 0, 0, time.Local)
	_, err = rt.Run(context.Background(), api.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, []string{"persona-day"}, sdk.req.ForceSkills)

	_, err = rt.Run(context.Background(), api.Request{Prompt: "hi", ForceSkills: []string{"custom"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom"}, sdk.req.ForceSkills)

	rt.Close()
	assert.True(t, sdk.closed)
}
