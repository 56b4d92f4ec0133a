package agent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cexll/agentsdk-go/pkg/api"
	"github.com/cexll/agentsdk-go/pkg/model"
	"github.com/cexll/agentsdk-go/pkg/tool"

	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/persona"
)

// Runtime is the agent loop (allows mocking in tests).
type Runtime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close()
}

type sdkRuntime interface {
	Run(ctx context.Context, req api.Request) (*api.Response, error)
	Close() error
}

// runtimeAdapter forces the persona packs active at request time unless the
// caller picked skills itself.
type runtimeAdapter struct {
	rt      sdkRuntime
	persona *persona.Library
	now     func() time.Time
}

func (r *runtimeAdapter) Run(ctx context.Context, req api.Request) (*api.Response, error) {
	if len(req.ForceSkills) == 0 && r.persona != nil {
		req.ForceSkills = r.persona.Active(r.now())
	}
	return r.rt.Run(ctx, req)
}

func (r *runtimeAdapter) Close() {
	_ = r.rt.Close()
}

// RuntimeFactory creates a Runtime bound to the given tools.
type RuntimeFactory func(cfg *config.Config, sysPrompt string, tools []tool.Tool) (Runtime, error)

// NewRuntime builds the agentsdk-go runtime. Only the supplied tools are
// exposed; the SDK's own built-ins stay off.
func NewRuntime(cfg *config.Config, sysPrompt string, tools []tool.Tool) (Runtime, error) {
	var provider api.ModelFactory
	switch cfg.Provider.Type {
	case "openai":
		provider = &model.OpenAIProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	default: // "anthropic" or empty
		provider = &model.AnthropicProvider{
			APIKey:    cfg.Provider.APIKey,
			BaseURL:   cfg.Provider.BaseURL,
			ModelName: cfg.Agent.Model,
			MaxTokens: cfg.Agent.MaxTokens,
		}
	}

	lib, err := persona.Load(filepath.Join(cfg.Agent.Workspace, "personas"), nil)
	if err != nil {
		return nil, fmt.Errorf("load personas: %w", err)
	}

	rt, err := api.New(context.Background(), api.Options{
		ProjectRoot:   cfg.Agent.Workspace,
		ModelFactory:  provider,
		SystemPrompt:  sysPrompt,
		MaxIterations: cfg.Agent.MaxToolIterations,
		Tools:         tools,
		Skills:        lib.Registrations(),
	})
	if err != nil {
		return nil, fmt.Errorf("create runtime: %w", err)
	}
	return &runtimeAdapter{rt: rt, persona: lib, now: time.Now}, nil
}

// BuildSystemPrompt joins workspace AGENTS.md and SOUL.md with the memory context.
func BuildSystemPrompt(workspace, memoryContext string) string {
	var sb strings.Builder

	for _, name := range []string{"AGENTS.md", "SOUL.md"} {
		if data, err := os.ReadFile(filepath.Join(workspace, name)); err == nil {
			sb.Write(data)
			sb.WriteString("\n\n")
		}
	}

	if strings.TrimSpace(memoryContext) != "" {
		sb.WriteString("# Memory\n")
		sb.WriteString(memoryContext)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

// Ask sends prompt through rt and returns the final text plus the names of the
// tools the model called.
func Ask(ctx context.Context, rt Runtime, prompt, sessionID string) (string, []string, error) {
	resp, err := rt.Run(ctx, api.Request{Prompt: prompt, SessionID: sessionID})
	if err != nil {
		return "", nil, err
	}
	if resp == nil || resp.Result == nil {
		return "", nil, nil
	}
	var used []string
	seen := map[string]bool{}
	for _, call := range resp.Result.ToolCalls {
		if !seen[call.Name] {
			seen[call.Name] = true
			used = append(used, call.Name)
		}
	}
	return resp.Result.Output, used, nil
}
