// Package safety decides whether a shell command may run. The decision is a
// pure function of the command, the policy and the override flag; recording
// the decision in the audit log is a separate, best-effort step.
package safety

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Rule is one denylist entry. Patterns match case-insensitively anywhere in
// the command.
type Rule struct {
	Pattern *regexp.Regexp
	Detail  string
}

// DefaultWhitelist lists read-only informational commands.
var DefaultWhitelist = []string{
	"ls", "df", "du", "whoami", "uname", "uptime", "id", "ps", "echo", "stat", "date",
}

var defaultDenylist = []struct {
	expr   string
	detail string
}{
	{`\brm\s+-rf\b`, "recursive delete"},
	{`\bsudo\b`, "privilege escalation"},
	{`\bdd\b`, "raw device copy"},
	{`:\s*\(\)\s*\{\s*:\|:\s*&\s*\};\s*:`, "fork bomb"},
	{`>/dev/\w+`, "raw device write"},
	{`\bshutdown\b`, "shutdown"},
	{`\breboot\b`, "reboot"},
	{`\bmkfs\b`, "filesystem format"},
	{`\bchmod\s+0\b`, "permission reset"},
	{`\bchown\s+root\b`, "ownership change to root"},
}

// CompileRule builds a case-insensitive denylist rule.
func CompileRule(expr, detail string) (Rule, error) {
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return Rule{}, fmt.Errorf("compile denylist pattern %q: %w", expr, err)
	}
	if detail == "" {
		detail = expr
	}
	return Rule{Pattern: re, Detail: detail}, nil
}

// DefaultDenylist returns the built-in dangerous idioms.
func DefaultDenylist() []Rule {
	rules := make([]Rule, 0, len(defaultDenylist))
	for _, d := range defaultDenylist {
		rules = append(rules, Rule{Pattern: regexp.MustCompile("(?i)" + d.expr), Detail: d.detail})
	}
	return rules
}

// Policy holds the whitelist of first tokens and the denylist of patterns.
// It is immutable once built.
type Policy struct {
	whitelist map[string]struct{}
	denylist  []Rule
}

// NewPolicy builds a policy from explicit lists.
func NewPolicy(whitelist []string, denylist []Rule) *Policy {
	p := &Policy{whitelist: make(map[string]struct{}, len(whitelist))}
	for _, w := range whitelist {
		if w = strings.TrimSpace(w); w != "" {
			p.whitelist[w] = struct{}{}
		}
	}
	p.denylist = append(p.denylist, denylist...)
	return p
}

// DefaultPolicy returns the built-in whitelist and denylist.
func DefaultPolicy() *Policy {
	return NewPolicy(DefaultWhitelist, DefaultDenylist())
}

// Whitelisted reports whether token may run without the override.
func (p *Policy) Whitelisted(token string) bool {
	_, ok := p.whitelist[token]
	return ok
}

// Whitelist returns the sorted whitelist.
func (p *Policy) Whitelist() []string {
	out := make([]string, 0, len(p.whitelist))
	for w := range p.whitelist {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Denylist returns a copy of the denylist rules.
func (p *Policy) Denylist() []Rule {
	out := make([]Rule, len(p.denylist))
	copy(out, p.denylist)
	return out
}

// MatchDenylist returns the first rule matching command.
func (p *Policy) MatchDenylist(command string) (Rule, bool) {
	for _, r := range p.denylist {
		if r.Pattern.MatchString(command) {
			return r, true
		}
	}
	return Rule{}, false
}

// Whitelist modes for policy files.
const (
	WhitelistExtend  = "extend"
	WhitelistReplace = "replace"
)

// RuleSpec is a denylist entry as written in a policy file.
type RuleSpec struct {
	Pattern string `yaml:"pattern" toml:"pattern"`
	Detail  string `yaml:"detail" toml:"detail"`
}

// PolicyFile is the on-disk policy format. The whitelist either extends or
// replaces the built-in one; denylist entries are always added to the
// built-in denylist, which cannot be removed.
type PolicyFile struct {
	WhitelistMode string     `yaml:"whitelist_mode" toml:"whitelist_mode"`
	Whitelist     []string   `yaml:"whitelist" toml:"whitelist"`
	Denylist      []RuleSpec `yaml:"denylist" toml:"denylist"`
}

// LoadPolicy reads a YAML or TOML policy file and merges it onto the default
// policy. An empty path yields the default policy.
func LoadPolicy(path string) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultPolicy(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}

	var pf PolicyFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&pf); err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", path, err)
		}
	case ".toml":
		md, err := toml.Decode(string(data), &pf)
		if err != nil {
			return nil, fmt.Errorf("parse policy %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse policy %s: unknown keys %v", path, undecoded)
		}
	default:
		return nil, fmt.Errorf("unsupported policy format %q", filepath.Ext(path))
	}
	return pf.Apply(DefaultPolicy())
}

// Apply merges the file onto base and returns a new policy.
func (pf PolicyFile) Apply(base *Policy) (*Policy, error) {
	var whitelist []string
	switch strings.ToLower(strings.TrimSpace(pf.WhitelistMode)) {
	case "", WhitelistExtend:
		whitelist = append(base.Whitelist(), pf.Whitelist...)
	case WhitelistReplace:
		whitelist = pf.Whitelist
	default:
		return nil, fmt.Errorf("unknown whitelist_mode %q", pf.WhitelistMode)
	}

	denylist := base.Denylist()
	for _, spec := range pf.Denylist {
		if strings.TrimSpace(spec.Pattern) == "" {
			return nil, fmt.Errorf("denylist entry with empty pattern")
		}
		rule, err := CompileRule(spec.Pattern, spec.Detail)
		if err != nil {
			return nil, err
		}
		denylist = append(denylist, rule)
	}
	return NewPolicy(whitelist, denylist), nil
}
