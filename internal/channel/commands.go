package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

const commandHelp = `/tools - list registered tools
/run <tool> [json] - run a tool and show its result envelope
/check <command> - ask the shell gate without running anything
/help - this text`

// Reply is a command answer. Code replies hold a JSON envelope and are
// rendered preformatted by channels that can.
type Reply struct {
	Text string
	Code bool
}

// Commands answers slash commands against the tool runner and the shell
// gate without going through the agent.
type Commands struct {
	runner *tools.Runner
	gate   *safety.Gate
}

// NewCommands returns a command handler. gate may be nil, which disables
// /check.
func NewCommands(runner *tools.Runner, gate *safety.Gate) *Commands {
	return &Commands{runner: runner, gate: gate}
}

// Handle answers text when it is a known command. canRun gates /run: a
// channel that cannot tell who is talking must pass false.
func (c *Commands) Handle(ctx context.Context, text string, canRun bool) (Reply, bool) {
	if c == nil || c.runner == nil {
		return Reply{}, false
	}
	head, args, _ := strings.Cut(strings.TrimSpace(text), " ")
	// Group chats address commands as /cmd@botname.
	head, _, _ = strings.Cut(head, "@")
	args = strings.TrimSpace(args)

	switch head {
	case "/help":
		return Reply{Text: commandHelp}, true
	case "/tools":
		return Reply{Text: c.toolList()}, true
	case "/run":
		if !canRun {
			return Reply{Text: "/run is disabled on this channel until an allow-list is configured."}, true
		}
		return c.runTool(ctx, args), true
	case "/check":
		return c.checkShell(args), true
	}
	return Reply{}, false
}

func (c *Commands) toolList() string {
	descs := c.runner.Registry().Descriptors()
	if len(descs) == 0 {
		return "No tools registered."
	}
	lines := make([]string, 0, len(descs)+1)
	lines = append(lines, fmt.Sprintf("%d tools:", len(descs)))
	for _, d := range descs {
		lines = append(lines, "• "+d.Name+" - "+d.Description)
	}
	return strings.Join(lines, "\n")
}

func (c *Commands) runTool(ctx context.Context, args string) Reply {
	name, raw, _ := strings.Cut(args, " ")
	if name == "" {
		return Reply{Text: "usage: /run <tool> [json params]"}
	}
	params, err := tools.ParseParams([]byte(raw))
	if err != nil {
		return Reply{Text: "bad params: " + err.Error()}
	}
	return codeReply(c.runner.Execute(ctx, name, params))
}

func (c *Commands) checkShell(command string) Reply {
	if c.gate == nil {
		return Reply{Text: "The shell gate is not configured."}
	}
	if command == "" {
		return Reply{Text: "usage: /check <command>"}
	}
	v := c.gate.Evaluate(command)
	return codeReply(map[string]any{
		"command":  command,
		"allowed":  v.Allowed(),
		"decision": v.Decision.String(),
		"reason":   v.Reason(),
	})
}

func codeReply(v any) Reply {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return Reply{Text: err.Error()}
	}
	return Reply{Text: string(data), Code: true}
}
