// Package builtin holds the tools shipped with nova and their registrations.
package builtin

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

// Deps carries the collaborators built-in tools are constructed with.
type Deps struct {
	Gate                *safety.Gate
	ExecTimeout         time.Duration
	Workspace           string
	RestrictToWorkspace bool
	SearchBaseURL       string
	GeminiAPIKey        string
	GeminiBaseURL       string
	HTTPClient          *http.Client
	Memory              MemoryStore
	Logger              *zap.Logger
}

// DepsFromConfig fills Deps from cfg. Gate and Memory are wired by the caller.
func DepsFromConfig(cfg *config.Config) Deps {
	return Deps{
		ExecTimeout:         time.Duration(cfg.Tools.ExecTimeout) * time.Second,
		Workspace:           cfg.Agent.Workspace,
		RestrictToWorkspace: cfg.Tools.RestrictToWorkspace,
		SearchBaseURL:       cfg.Tools.SearchBaseURL,
		GeminiAPIKey:        cfg.Tools.GeminiAPIKey,
		GeminiBaseURL:       cfg.Tools.GeminiBaseURL,
	}
}

// Registrations lists every built-in tool. The shell tool is included only
// when a gate is configured and memory tools only when a store is.
func Registrations(d Deps) []tools.Registration {
	regs := []tools.Registration{
		register("echo", func() tools.Tool { return EchoTool{} }),
		register("file_ops", func() tools.Tool { return NewFileOpsTool(d.Workspace, d.RestrictToWorkspace) }),
		register("code_ops", func() tools.Tool { return NewCodeOpsTool(d.Workspace, d.RestrictToWorkspace) }),
		register("system_ops", func() tools.Tool { return NewSystemOpsTool() }),
		register("web_search", func() tools.Tool { return NewWebSearchTool(d.SearchBaseURL, d.HTTPClient) }),
		register("web_browser", func() tools.Tool { return NewWebBrowserTool(d.HTTPClient) }),
		register("gemini_vision", func() tools.Tool { return NewGeminiVisionTool(d.GeminiAPIKey, d.GeminiBaseURL, d.HTTPClient) }),
	}
	if d.Gate != nil {
		regs = append(regs, register(shellToolName, func() tools.Tool { return NewShellTool(d.Gate, d.ExecTimeout, d.Logger) }))
	}
	if d.Memory != nil {
		regs = append(regs,
			register("learn_fact", func() tools.Tool { return &LearnFactTool{store: d.Memory} }),
			register("search_memory", func() tools.Tool { return &SearchMemoryTool{store: d.Memory} }),
			register("memory_stats", func() tools.Tool { return &MemoryStatsTool{store: d.Memory} }),
		)
	}
	return regs
}

// Filter drops registrations whose descriptor name is in disabled.
func Filter(regs []tools.Registration, disabled []string) []tools.Registration {
	if len(disabled) == 0 {
		return regs
	}
	skip := make(map[string]bool, len(disabled))
	for _, name := range disabled {
		skip[name] = true
	}
	out := regs[:0:0]
	for _, r := range regs {
		if !skip[r.Descriptor.Name] {
			out = append(out, r)
		}
	}
	return out
}

// register leaves the description blank; Discover fills it from the tool.
func register(name string, ctor tools.Constructor) tools.Registration {
	return tools.Registration{Descriptor: tools.Descriptor{Name: name}, New: ctor}
}
