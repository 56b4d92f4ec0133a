package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/agent"
	"github.com/stellarlinkco/nova/internal/bus"
	"github.com/stellarlinkco/nova/internal/channel"
	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/cron"
	"github.com/stellarlinkco/nova/internal/epistemic"
	"github.com/stellarlinkco/nova/internal/httpapi"
	"github.com/stellarlinkco/nova/internal/logging"
	"github.com/stellarlinkco/nova/internal/memory"
	"github.com/stellarlinkco/nova/internal/persona"
	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	agentErrorReply = "Sorry, I encountered an error processing your message."
	activityToolUse = "tool_use"
)

// Options for creating a Gateway
type Options struct {
	RuntimeFactory agent.RuntimeFactory
	SignalChan     chan os.Signal // for testing signal handling
	Logger         *zap.Logger
	// DisableHTTP skips the HTTP API listener.
	DisableHTTP bool
}

type Gateway struct {
	cfg        *config.Config
	logger     *zap.Logger
	bus        *bus.MessageBus
	runtime    agent.Runtime
	toolset    *Toolset
	channels   *channel.Manager
	cron       *cron.Scheduler
	mem        *memory.Engine
	http       *httpapi.Server
	noHTTP     bool
	lastSeen   atomic.Int64 // unix nanos of the last inbound message
	now        func() time.Time
	signalChan chan os.Signal // for testing
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = newLogger(cfg)
		if err != nil {
			return nil, err
		}
	}

	g := &Gateway{
		cfg:        cfg,
		logger:     logger.Named("gateway"),
		noHTTP:     opts.DisableHTTP,
		now:        time.Now,
		signalChan: opts.SignalChan,
	}
	g.lastSeen.Store(g.now().UnixNano())

	// Message bus
	g.bus = bus.NewMessageBus(config.DefaultBufSize)
	g.bus.SetLogger(logger)

	engine, err := memory.NewEngine(cfg.MemoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("create memory engine: %w", err)
	}
	g.mem = engine

	ts, err := NewToolset(cfg, engine, logger)
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	g.toolset = ts

	memCtx, err := engine.ContextForPrompt()
	if err != nil {
		g.logger.Warn("load memory context", zap.Error(err))
	}
	sysPrompt := agent.BuildSystemPrompt(cfg.Agent.Workspace, memCtx)

	// Create runtime using factory (allows injection for testing)
	factory := opts.RuntimeFactory
	if factory == nil {
		factory = agent.NewRuntime
	}
	rt, err := factory(cfg, sysPrompt, agent.Adapters(ts.Runner))
	if err != nil {
		_ = engine.Close()
		return nil, err
	}
	g.runtime = rt

	g.cron = cron.New(cfg.CronStorePath(), cron.Options{
		Runner:  ts.Runner,
		Prompt:  g.jobPrompt,
		Deliver: g.bus.PublishOutbound,
		Logger:  logger,
	})

	chMgr, err := channel.NewManager(cfg.Channels, g.bus, channel.NewCommands(ts.Runner, ts.Gate), logger)
	if err != nil {
		_ = engine.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	apiOpts := httpapi.Options{
		Runner:    ts.Runner,
		Gate:      ts.Gate,
		Chat:      g.chat,
		History:   engine.RecentConversations,
		UploadDir: filepath.Join(cfg.Agent.Workspace, "uploads"),
		Secret:    cfg.Gateway.APISecret,
		Logger:    logger,
	}
	if ws := chMgr.WebUI(); ws != nil {
		apiOpts.Socket = ws
	}
	g.http = httpapi.NewServer(apiOpts)

	return g, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return logger, nil
}

// Runner returns the gateway's tool runner.
func (g *Gateway) Runner() *tools.Runner { return g.toolset.Runner }

// Handler returns the HTTP API routes.
func (g *Gateway) Handler() http.Handler { return g.http.Handler() }

// runAgent asks the agent, records the exchange in memory and learns what it
// can from it.
func (g *Gateway) runAgent(ctx context.Context, prompt, sessionID string) (string, error) {
	result, used, err := agent.Ask(ctx, g.runtime, prompt, sessionID)
	if err != nil {
		return "", err
	}
	if g.mem != nil && result != "" {
		if err := g.mem.SaveConversation(prompt, result, used, map[string]any{"session": sessionID}); err != nil {
			g.logger.Warn("save conversation", zap.Error(err))
		}
		for _, name := range used {
			meta := map[string]any{"session": sessionID, "tool": name}
			if err := g.mem.LogActivity(activityToolUse, "ran the "+name+" tool", meta); err != nil {
				g.logger.Warn("log activity", zap.Error(err))
			}
		}
		n, err := epistemic.Learn(g.mem, prompt, result, used)
		if err != nil {
			g.logger.Warn("learn from exchange", zap.Error(err))
		}
		if n > 0 {
			g.logger.Debug("learned facts", zap.Int("count", n), zap.String("session", sessionID))
		}
	}
	return result, nil
}

func (g *Gateway) chat(ctx context.Context, sessionID, message string) (string, error) {
	g.touch()
	return g.runAgent(ctx, message, "http:"+sessionID)
}

// jobPrompt answers message jobs. The internal check-in message never
// reaches the agent.
func (g *Gateway) jobPrompt(ctx context.Context, job cron.Job) (string, error) {
	if job.Payload.Message == proactiveMsg {
		return g.checkIn(), nil
	}
	return g.runAgent(ctx, job.Payload.Message, "cron:"+job.ID)
}

func (g *Gateway) checkIn() string {
	if !persona.At(g.now()).ShouldCheckIn() {
		return ""
	}
	silence := g.now().Sub(time.Unix(0, g.lastSeen.Load()))
	var recent []memory.Activity
	if g.mem != nil {
		acts, err := g.mem.RecentActivity(24*time.Hour, 3)
		if err != nil {
			g.logger.Warn("load recent activity", zap.Error(err))
		}
		recent = acts
	}
	msg := checkInMessage(g.now(), silence, recent)
	if msg != "" {
		g.touch()
	}
	return msg
}

func (g *Gateway) touch() {
	g.lastSeen.Store(g.now().UnixNano())
}

// ensureProactiveJob installs the check-in job once when proactive mode is on.
func (g *Gateway) ensureProactiveJob() error {
	p := g.cfg.Proactive
	if !p.Enabled {
		return nil
	}
	if p.Channel == "" {
		return fmt.Errorf("proactive check-ins need a channel")
	}
	if p.To == "" && p.Channel != channel.WebUIName {
		return fmt.Errorf("proactive check-ins on %s need a recipient", p.Channel)
	}
	if _, ok := g.cron.Find(proactiveJobName); ok {
		return nil
	}
	_, err := g.cron.Add(proactiveJobName,
		cron.Schedule{Kind: cron.KindCron, Expr: p.Schedule},
		cron.Payload{Message: proactiveMsg, Deliver: true, Channel: p.Channel, To: p.To},
	)
	return err
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.Start(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	g.logger.Info("channels started", zap.Strings("channels", g.channels.Names()))

	if err := g.cron.Start(ctx); err != nil {
		g.logger.Warn("cron start", zap.Error(err))
	}
	if err := g.ensureProactiveJob(); err != nil {
		g.logger.Warn("ensure proactive job", zap.Error(err))
	}

	go g.processLoop(ctx)

	addr := net.JoinHostPort(g.cfg.Gateway.Host, strconv.Itoa(g.cfg.Gateway.Port))
	if !g.noHTTP {
		go func() {
			if err := g.http.ListenAndServe(ctx, addr); err != nil {
				g.logger.Error("http api stopped", zap.Error(err))
			}
		}()
	}

	g.logger.Info("running",
		zap.String("addr", addr),
		zap.Strings("tools", g.toolset.Registry.List()),
	)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	g.logger.Info("shutting down")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.touch()
			g.logger.Info("inbound",
				zap.String("channel", msg.Channel),
				zap.String("sender", msg.SenderID),
				zap.String("content", truncate(msg.Content, 80)),
			)

			result, err := g.runAgent(ctx, msg.Content, msg.SessionKey())
			if err != nil {
				g.logger.Warn("agent error", zap.Error(err))
				result = agentErrorReply
			}

			if result == "" {
				continue
			}
			err = g.bus.PublishOutbound(ctx, bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: result,
			})
			if err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) Shutdown() error {
	if g.cron != nil {
		g.cron.Stop()
	}
	if g.channels != nil {
		g.channels.Stop()
	}
	if g.runtime != nil {
		g.runtime.Close()
	}
	if g.mem != nil {
		if err := g.mem.Close(); err != nil {
			g.logger.Warn("close memory engine", zap.Error(err))
		}
	}
	g.logger.Info("shutdown complete")
	_ = g.logger.Sync()
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
