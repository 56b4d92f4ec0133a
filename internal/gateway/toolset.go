package gateway

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/builtin"
	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

// Environment variables that opt in to running non-whitelisted shell
// commands. The first one set wins.
var shellOverrideEnv = []string{"NOVA_SHELL_ALLOW", "SHELL_ALLOW"}

// Toolset is the discovered tool registry and everything needed to run it.
type Toolset struct {
	Registry *tools.Registry
	Runner   *tools.Runner
	Gate     *safety.Gate
	Report   tools.DiscoveryReport
}

// NewGate builds the shell safety gate from cfg: policy file, override
// (config flag or environment, read on every check) and the audit log.
func NewGate(cfg *config.Config, logger *zap.Logger) (*safety.Gate, error) {
	policy, err := safety.LoadPolicy(cfg.Tools.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load shell policy: %w", err)
	}
	env := safety.EnvOverride(shellOverrideEnv...)
	allow := cfg.Tools.ShellAllow
	return safety.NewGate(policy,
		safety.WithOverride(func() bool { return allow || env() }),
		safety.WithAuditor(safety.NewAuditLog(cfg.AuditLogPath())),
		safety.WithGateLogger(logger),
	), nil
}

// NewToolset discovers the built-in tools enabled by cfg. store may be nil,
// which leaves the memory tools out.
func NewToolset(cfg *config.Config, store builtin.MemoryStore, logger *zap.Logger) (*Toolset, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	gate, err := NewGate(cfg, logger)
	if err != nil {
		return nil, err
	}

	deps := builtin.DepsFromConfig(cfg)
	deps.Gate = gate
	deps.Logger = logger
	deps.Memory = store

	reg := tools.NewRegistry()
	report := tools.Discover(reg, builtin.Filter(builtin.Registrations(deps), cfg.Tools.Disabled), logger)
	return &Toolset{
		Registry: reg,
		Runner:   tools.NewRunner(reg, tools.WithLogger(logger)),
		Gate:     gate,
		Report:   report,
	}, nil
}
