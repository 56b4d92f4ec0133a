package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/agent"
	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/cron"
	"github.com/stellarlinkco/nova/internal/epistemic"
	"github.com/stellarlinkco/nova/internal/gateway"
	"github.com/stellarlinkco/nova/internal/httpapi"
	"github.com/stellarlinkco/nova/internal/logging"
	"github.com/stellarlinkco/nova/internal/memory"
	"github.com/stellarlinkco/nova/internal/persona"
	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

var errNoAPIKey = errors.New("API key not set. Run 'nova onboard' or set NOVA_API_KEY / ANTHROPIC_API_KEY")

// AgentOptions for running agent with custom dependencies
type AgentOptions struct {
	RuntimeFactory agent.RuntimeFactory
	Stdin          io.Reader
	Stdout         io.Writer
	Stderr         io.Writer
}

var rootCmd = &cobra.Command{
	Use:   "nova",
	Short: "nova - personal AI assistant",
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run agent in single message or REPL mode",
	RunE:  runAgent,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the full gateway (channels + cron + HTTP API)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config and workspace",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show nova status",
	RunE:  runStatus,
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run registered tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List discovered tools",
	Args:  cobra.NoArgs,
	RunE:  runToolsList,
}

var toolsRunCmd = &cobra.Command{
	Use:   "run <name> [params-json]",
	Short: "Run a tool and print its execution result",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runToolsRun,
}

var shellCmd = &cobra.Command{
	Use:   "shell",
	Short: "Shell safety gate utilities",
}

var shellCheckCmd = &cobra.Command{
	Use:   "check <command>",
	Short: "Show the gate decision for a command without running it",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runShellCheck,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Shell audit log utilities",
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent audit records",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Manage scheduled jobs",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runCronList,
}

var cronAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Schedule a tool run or an agent prompt",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronAdd,
}

var cronRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRemove,
}

var cronRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a tool job now and print its result",
	Args:  cobra.ExactArgs(1),
	RunE:  runCronRun,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE:  runToken,
}

var (
	messageFlag string
	tailFlag    int
	subjectFlag string
	ttlFlag     time.Duration

	cronFlags struct {
		expr    string
		every   time.Duration
		at      string
		tool    string
		params  string
		message string
		channel string
		to      string
	}
)

func init() {
	agentCmd.Flags().StringVarP(&messageFlag, "message", "m", "", "Single message to send")
	auditTailCmd.Flags().IntVarP(&tailFlag, "lines", "n", 20, "Number of records to show")
	tokenCmd.Flags().StringVar(&subjectFlag, "subject", "cli", "Token subject")
	tokenCmd.Flags().DurationVar(&ttlFlag, "ttl", config.DefaultTokenExpiryHours*time.Hour, "Token lifetime (0 for no expiry)")

	f := cronAddCmd.Flags()
	f.StringVar(&cronFlags.expr, "cron", "", "Six-field cron expression")
	f.DurationVar(&cronFlags.every, "every", 0, "Fixed interval")
	f.StringVar(&cronFlags.at, "at", "", "Run once at an RFC 3339 time")
	f.StringVar(&cronFlags.tool, "tool", "", "Tool to run")
	f.StringVar(&cronFlags.params, "params", "", "Tool params as JSON")
	f.StringVarP(&cronFlags.message, "message", "m", "", "Prompt for the agent")
	f.StringVar(&cronFlags.channel, "deliver", "", "Channel that receives the result")
	f.StringVar(&cronFlags.to, "to", "", "Chat ID on the delivery channel")
	cronCmd.AddCommand(cronListCmd, cronAddCmd, cronRemoveCmd, cronRunCmd)

	toolsCmd.AddCommand(toolsListCmd, toolsRunCmd)
	shellCmd.AddCommand(shellCheckCmd)
	auditCmd.AddCommand(auditTailCmd)
	rootCmd.AddCommand(agentCmd, gatewayCmd, onboardCmd, statusCmd, toolsCmd, shellCmd, auditCmd, cronCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger keeps the CLI quiet unless a level was chosen explicitly.
func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level := cfg.Log.Level
	if level == config.DefaultLogLevel {
		level = "warn"
	}
	return logging.New(level, cfg.Log.Encoding)
}

// session bundles what the local commands need: memory, tools and a logger.
type session struct {
	cfg     *config.Config
	logger  *zap.Logger
	mem     *memory.Engine
	toolset *gateway.Toolset
}

func openSession(cfg *config.Config) (*session, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	engine, err := memory.NewEngine(cfg.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("open memory: %w", err)
	}
	ts, err := gateway.NewToolset(cfg, engine, logger)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, mem: engine, toolset: ts}, nil
}

func (s *session) Close() {
	_ = s.mem.Close()
	_ = s.logger.Sync()
}

// runAgent is the command handler that uses default options
func runAgent(cmd *cobra.Command, args []string) error {
	return runAgentWithOptions(AgentOptions{})
}

// runAgentWithOptions runs the agent with injectable dependencies for testing
func runAgentWithOptions(opts AgentOptions) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Use injected factory or default
	factory := opts.RuntimeFactory
	if factory == nil {
		if cfg.Provider.APIKey == "" {
			return errNoAPIKey
		}
		factory = agent.NewRuntime
	}

	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	memCtx, err := s.mem.ContextForPrompt()
	if err != nil {
		s.logger.Warn("load memory context", zap.Error(err))
	}
	rt, err := factory(cfg, agent.BuildSystemPrompt(cfg.Agent.Workspace, memCtx), agent.Adapters(s.toolset.Runner))
	if err != nil {
		return err
	}
	defer rt.Close()

	// Use injected IO or defaults
	stdin := opts.Stdin
	if stdin == nil {
		stdin = os.Stdin
	}
	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	ctx := context.Background()
	ask := func(prompt, sessionID string) (string, error) {
		out, used, err := agent.Ask(ctx, rt, prompt, sessionID)
		if err != nil {
			return "", err
		}
		if out != "" {
			if err := s.mem.SaveConversation(prompt, out, used, map[string]any{"session": sessionID}); err != nil {
				s.logger.Warn("save conversation", zap.Error(err))
			}
			if _, err := epistemic.Learn(s.mem, prompt, out, used); err != nil {
				s.logger.Warn("learn from exchange", zap.Error(err))
			}
		}
		return out, nil
	}

	// Single message mode
	if messageFlag != "" {
		out, err := ask(messageFlag, "cli")
		if err != nil {
			return fmt.Errorf("agent error: %w", err)
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
		return nil
	}

	// REPL mode
	fmt.Fprintln(stdout, headingStyle.Render("nova agent")+labelStyle.Render(" (type 'exit' to quit)"))
	scanner := bufio.NewScanner(stdin)
	for {
		fmt.Fprint(stdout, "\n> ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		out, err := ask(input, "cli-repl")
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			continue
		}
		if out != "" {
			fmt.Fprintln(stdout, out)
		}
	}
	return nil
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Provider.APIKey == "" {
		return errNoAPIKey
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(context.Background())
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(cfgDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		if err := config.SaveConfig(config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ws := cfg.Agent.Workspace
	if err := os.MkdirAll(ws, 0755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}

	writeIfNotExists(out, filepath.Join(ws, "AGENTS.md"), defaultAgentsMD)
	writeIfNotExists(out, filepath.Join(ws, "SOUL.md"), defaultSoulMD)

	fmt.Fprintf(out, "Workspace ready: %s\n", ws)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set your API key\n", cfgPath)
	fmt.Fprintln(out, "  2. Or set NOVA_API_KEY environment variable")
	fmt.Fprintln(out, "  3. Run 'nova agent -m \"Hello\"' to test")

	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		printField(out, "Config", fmt.Sprintf("error (%v)", err))
		return nil
	}

	fmt.Fprintln(out, headingStyle.Render("nova status"))
	printField(out, "Config", config.ConfigPath())
	printField(out, "Workspace", cfg.Agent.Workspace)
	printField(out, "Model", cfg.Agent.Model)
	printField(out, "Provider", providerDisplay(cfg.Provider.Type))
	printField(out, "API Key", maskKey(cfg.Provider.APIKey))
	printField(out, "Telegram", fmt.Sprintf("enabled=%v", cfg.Channels.Telegram.Enabled))
	printField(out, "Web UI", fmt.Sprintf("enabled=%v", cfg.Channels.WebUI.Enabled))
	printField(out, "Gateway", gatewayDisplay(cfg.Gateway))
	printField(out, "Persona", persona.At(time.Now()).Mood())
	printField(out, "Shell", fmt.Sprintf("allow_all=%v audit=%s", cfg.Tools.ShellAllow, cfg.AuditLogPath()))
	if len(cfg.Tools.Disabled) > 0 {
		printField(out, "Disabled", strings.Join(cfg.Tools.Disabled, ", "))
	}

	if _, err := os.Stat(cfg.Agent.Workspace); err != nil {
		printField(out, "Workspace", "not found (run 'nova onboard')")
	}

	dbPath := cfg.MemoryDBPath()
	if _, err := os.Stat(dbPath); err != nil {
		printField(out, "Memory", "empty")
		return nil
	}
	engine, err := memory.NewEngine(dbPath)
	if err != nil {
		printField(out, "Memory", fmt.Sprintf("error (%v)", err))
		return nil
	}
	defer engine.Close()
	stats, err := engine.Stats()
	if err != nil {
		printField(out, "Memory", fmt.Sprintf("error (%v)", err))
		return nil
	}
	printField(out, "Memory", fmt.Sprintf("conversations=%d facts=%d profile=%d activity=%d",
		stats.Conversations, stats.Facts, stats.ProfileEntries, stats.Activities))

	return nil
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	out := cmd.OutOrStdout()
	descs := s.toolset.Registry.Descriptors()
	width := 0
	for _, d := range descs {
		if len(d.Name) > width {
			width = len(d.Name)
		}
	}
	fmt.Fprintln(out, headingStyle.Render(fmt.Sprintf("%d tools", len(descs))))
	for _, d := range descs {
		fmt.Fprintf(out, "  %s  %s\n", padRight(nameStyle.Render(d.Name), width), valueStyle.Render(d.Description))
	}
	for _, sk := range s.toolset.Report.Skipped {
		fmt.Fprintf(out, "  %s  %s\n", padRight(failStyle.Render(sk.Name), width), labelStyle.Render("skipped: "+sk.Reason))
	}
	return nil
}

func runToolsRun(cmd *cobra.Command, args []string) error {
	var raw []byte
	if len(args) > 1 {
		raw = []byte(args[1])
	}
	params, err := tools.ParseParams(raw)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	res := s.toolset.Runner.Execute(cmdContext(cmd), args[0], params)
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	if !res.OK {
		return fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
	}
	return nil
}

func runShellCheck(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gate, err := gateway.NewGate(cfg, zap.NewNop())
	if err != nil {
		return err
	}

	command := strings.Join(args, " ")
	v := gate.Evaluate(command)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", verdictBadge(v.Allowed()), valueStyle.Render(command))
	printField(out, "Decision", v.Decision.String())
	if v.Token != "" {
		printField(out, "Token", v.Token)
	}
	if v.Rule != "" {
		printField(out, "Rule", v.Rule)
	}
	if !v.Allowed() {
		printField(out, "Reason", v.Reason())
	}
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	records, err := safety.Tail(cfg.AuditLogPath(), tailFlag)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(records) == 0 {
		fmt.Fprintln(out, labelStyle.Render("no audit records"))
		return nil
	}
	for _, rec := range records {
		line := fmt.Sprintf("%s %s %s",
			labelStyle.Render(rec.Time.Local().Format(time.DateTime)),
			verdictBadge(rec.Allowed),
			valueStyle.Render(rec.Command))
		if rec.Note != "" {
			line += " " + labelStyle.Render("("+rec.Note+")")
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Gateway.APISecret == "" {
		return errors.New("gateway.apiSecret not set. Add it to the config or set NOVA_API_SECRET")
	}
	token, err := httpapi.IssueToken(cfg.Gateway.APISecret, subjectFlag, ttlFlag)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

// scheduleFromFlags builds exactly one of the --cron, --every and --at
// schedules.
func scheduleFromFlags() (cron.Schedule, error) {
	var picks []cron.Schedule
	if cronFlags.expr != "" {
		picks = append(picks, cron.Schedule{Kind: cron.KindCron, Expr: cronFlags.expr})
	}
	if cronFlags.every > 0 {
		picks = append(picks, cron.Schedule{Kind: cron.KindEvery, EveryMs: cronFlags.every.Milliseconds()})
	}
	if cronFlags.at != "" {
		at, err := time.Parse(time.RFC3339, cronFlags.at)
		if err != nil {
			return cron.Schedule{}, fmt.Errorf("--at: %w", err)
		}
		picks = append(picks, cron.Schedule{Kind: cron.KindAt, AtMs: at.UnixMilli()})
	}
	if len(picks) != 1 {
		return cron.Schedule{}, errors.New("pass exactly one of --cron, --every or --at")
	}
	return picks[0], nil
}

func runCronList(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	jobs := cron.New(cfg.CronStorePath(), cron.Options{}).Jobs()
	out := cmd.OutOrStdout()
	if len(jobs) == 0 {
		fmt.Fprintln(out, labelStyle.Render("no jobs"))
		return nil
	}
	for _, j := range jobs {
		what := j.Payload.Message
		if j.Payload.Tool != "" {
			what = "tool " + j.Payload.Tool
		}
		status := j.State.LastStatus
		if status == "" {
			status = "never run"
		}
		fmt.Fprintf(out, "%s %s  %s  %s  %s\n",
			enabledBadge(j.Enabled), nameStyle.Render(j.ID), valueStyle.Render(j.Name),
			labelStyle.Render(scheduleDisplay(j.Schedule)), labelStyle.Render(truncate(what, 40)+" ("+status+")"))
	}
	return nil
}

func scheduleDisplay(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMs) * time.Millisecond).String()
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMs).Local().Format(time.DateTime)
	default:
		return s.Expr
	}
}

func runCronAdd(cmd *cobra.Command, args []string) error {
	sched, err := scheduleFromFlags()
	if err != nil {
		return err
	}
	payload := cron.Payload{
		Tool:    cronFlags.tool,
		Message: cronFlags.message,
		Deliver: cronFlags.channel != "",
		Channel: cronFlags.channel,
		To:      cronFlags.to,
	}
	if cronFlags.params != "" {
		params, err := tools.ParseParams([]byte(cronFlags.params))
		if err != nil {
			return err
		}
		payload.Params = params
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	job, err := cron.New(cfg.CronStorePath(), cron.Options{}).Add(args[0], sched, payload)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("added"), nameStyle.Render(job.ID))
	return nil
}

func runCronRemove(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if !cron.New(cfg.CronStorePath(), cron.Options{}).Remove(args[0]) {
		return fmt.Errorf("job %s not found", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle.Render("removed"), nameStyle.Render(args[0]))
	return nil
}

// runCronRun runs a job locally. Message jobs need the gateway's agent and
// report an error here.
func runCronRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := openSession(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	sched := cron.New(cfg.CronStorePath(), cron.Options{Runner: s.toolset.Runner, Logger: s.logger})
	result, err := sched.RunNow(cmdContext(cmd), args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), result)
	return nil
}

func enabledBadge(on bool) string {
	if on {
		return okStyle.Render("ON ")
	}
	return failStyle.Render("OFF")
}

func gatewayDisplay(g config.GatewayConfig) string {
	auth := "tool routes off (no apiSecret)"
	if g.APISecret != "" {
		auth = "bearer auth"
	}
	return fmt.Sprintf("%s:%d, %s", g.Host, g.Port, auth)
}

func truncate(s string, n int) string {
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func providerDisplay(t string) string {
	if t == "" {
		return "anthropic (default)"
	}
	return t
}

func maskKey(key string) string {
	switch {
	case key == "":
		return "not set"
	case len(key) > 8:
		return key[:4] + "..." + key[len(key)-4:]
	default:
		return "set"
	}
}

func writeIfNotExists(w io.Writer, path, content string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		_ = os.WriteFile(path, []byte(content), 0644)
		fmt.Fprintf(w, "  Created: %s\n", path)
	}
}

const defaultAgentsMD = `# nova Agent

You are nova, a personal AI assistant.

You act through registered tools: shell commands, files, web search and
browsing, image analysis, and your long-term memory.

## Guidelines
- Be concise and helpful
- Use tools when a real answer needs them
- Shell commands pass a safety gate; if one is blocked, explain why and suggest an alternative
- Save facts the user shares with learn_fact and check memory before asking again
`

const defaultSoulMD = `# Soul

You are a capable personal assistant that helps with daily tasks,
research, coding, and general questions.

Your personality:
- Direct and efficient
- Technical when needed, simple when possible
- Friendly, with the occasional check-in when the user has been quiet
`
