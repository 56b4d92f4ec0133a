package safety

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Decision is the outcome of a safety evaluation.
type Decision int

const (
	Allowed Decision = iota
	BlockedDangerous
	BlockedNotWhitelisted
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "Allowed"
	case BlockedDangerous:
		return "BlockedDangerous"
	case BlockedNotWhitelisted:
		return "BlockedNotWhitelisted"
	}
	return "Unknown"
}

// Verdict explains a Decision.
type Verdict struct {
	Decision Decision
	// Token is the command word the whitelist was checked against.
	Token string
	// Rule is the matching denylist entry for BlockedDangerous.
	Rule string
	Note string
}

// Allowed reports whether the command may run.
func (v Verdict) Allowed() bool { return v.Decision == Allowed }

// Reason is the user-facing explanation of a blocked verdict.
func (v Verdict) Reason() string {
	switch v.Decision {
	case BlockedDangerous:
		return "Command blocked by safety policy (dangerous pattern detected: " + v.Rule + ")."
	case BlockedNotWhitelisted:
		return "Command not permitted: only a small whitelist is allowed. Set NOVA_SHELL_ALLOW=1 to opt in (risky)."
	}
	return ""
}

// Evaluate classifies command. The denylist is checked first and vetoes
// everything, including whitelisted commands and the override.
func Evaluate(p *Policy, command string, override bool) Verdict {
	if rule, ok := p.MatchDenylist(command); ok {
		return Verdict{Decision: BlockedDangerous, Rule: rule.Detail, Note: "blocked: dangerous pattern (" + rule.Detail + ")"}
	}

	token := FirstToken(command)
	if p.Whitelisted(token) {
		return Verdict{Decision: Allowed, Token: token, Note: "allowed: whitelisted"}
	}
	if override {
		return Verdict{Decision: Allowed, Token: token, Note: "allowed: override"}
	}
	return Verdict{Decision: BlockedNotWhitelisted, Token: token, Note: "blocked: not whitelisted and override not set"}
}

// Auditor persists audit records.
type Auditor interface {
	Append(rec Record) error
}

// Gate couples Evaluate with the process override flag and the audit log.
type Gate struct {
	policy   *Policy
	override func() bool
	audit    Auditor
	logger   *zap.Logger
	now      func() time.Time
}

// GateOption customizes a Gate.
type GateOption func(*Gate)

// WithOverride sets the override source. It is consulted on every check.
func WithOverride(fn func() bool) GateOption {
	return func(g *Gate) {
		if fn != nil {
			g.override = fn
		}
	}
}

// WithAuditor sets the audit sink.
func WithAuditor(a Auditor) GateOption {
	return func(g *Gate) { g.audit = a }
}

// WithGateLogger sets the logger used for audit failures.
func WithGateLogger(logger *zap.Logger) GateOption {
	return func(g *Gate) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGate builds a gate. Without options the override is off and nothing is audited.
func NewGate(policy *Policy, opts ...GateOption) *Gate {
	if policy == nil {
		policy = DefaultPolicy()
	}
	g := &Gate{
		policy:   policy,
		override: func() bool { return false },
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.Named("safety")
	return g
}

// Policy returns the gate's policy.
func (g *Gate) Policy() *Policy { return g.policy }

// Evaluate returns the verdict for command without auditing it.
func (g *Gate) Evaluate(command string) Verdict {
	return Evaluate(g.policy, command, g.override())
}

// Check evaluates command and appends an audit record. The verdict does not
// depend on whether the audit write succeeds.
func (g *Gate) Check(command string) Verdict {
	v := g.Evaluate(command)
	g.Record(command, v.Allowed(), v.Note)
	if !v.Allowed() {
		g.logger.Info("command blocked",
			zap.String("decision", v.Decision.String()),
			zap.String("token", v.Token),
			zap.String("rule", v.Rule),
		)
	}
	return v
}

// Record appends a free-form audit record, such as the outcome of an allowed
// command. Failures are logged and swallowed.
func (g *Gate) Record(command string, allowed bool, note string) {
	if g.audit == nil {
		return
	}
	rec := Record{Time: g.now().UTC(), Command: command, Allowed: allowed, Note: note}
	if err := g.audit.Append(rec); err != nil {
		g.logger.Warn("audit append failed", zap.Error(err))
	}
}

// ParseOverride interprets an override flag value.
func ParseOverride(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// EnvOverride reads the first set variable among keys on every call.
func EnvOverride(keys ...string) func() bool {
	return func() bool {
		for _, k := range keys {
			if v, ok := os.LookupEnv(k); ok {
				return ParseOverride(v)
			}
		}
		return false
	}
}
