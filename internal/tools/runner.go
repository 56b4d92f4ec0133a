package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ExecutionResult is the envelope returned for every invocation. Exactly one of
// Result and Error is set: Result when OK, Error when not.
type ExecutionResult struct {
	OK         bool   `json:"ok"`
	Tool       string `json:"tool"`
	DurationMS int64  `json:"duration_ms"`
	Result     Result `json:"result"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// JSON renders the envelope for transports that carry text.
func (r ExecutionResult) JSON() string {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Sprintf(`{"ok":false,"tool":%q,"error":%q,"error_kind":%q}`, r.Tool, err.Error(), KindToolExecutionError)
	}
	return string(data)
}

// Runner is the single call surface the agent loop uses to invoke tools.
type Runner struct {
	registry *Registry
	logger   *zap.Logger
	now      func() time.Time
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock replaces time.Now for duration measurement.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRunner creates a runner over reg.
func NewRunner(reg *Registry, opts ...RunnerOption) *Runner {
	r := &Runner{registry: reg, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.Named("runner")
	return r
}

// Registry exposes the registry the runner resolves against.
func (r *Runner) Registry() *Registry {
	return r.registry
}

// Execute resolves name, runs a fresh instance of the tool with params and
// packages the outcome. It never panics and never returns a Go error: every
// failure is reported inside the envelope.
func (r *Runner) Execute(ctx context.Context, name string, params Params) ExecutionResult {
	reqID := uuid.NewString()
	log := r.logger.With(zap.String("request_id", reqID), zap.String("tool", name))

	ctor, ok := r.registry.Resolve(name)
	if !ok {
		log.Warn("tool not found")
		return failure(name, 0, fmt.Sprintf("unknown tool: %s", name), KindToolNotFound)
	}

	t, err := instantiate(ctor)
	if err != nil {
		log.Error("instantiate tool", zap.Error(err))
		return failure(name, 0, err.Error(), KindOf(err))
	}

	if params == nil {
		params = Params{}
	}

	start := r.now()
	res, err := invoke(ctx, t, params)
	elapsed := r.now().Sub(start)
	ms := durationMillis(elapsed)

	if err != nil {
		kind := KindOf(err)
		log.Info("tool failed", zap.String("error_kind", kind), zap.Int64("duration_ms", ms), zap.Error(err))
		return failure(name, ms, errorMessage(err), kind)
	}
	if res == nil {
		res = Result{}
	}
	log.Debug("tool succeeded", zap.Int64("duration_ms", ms))
	return ExecutionResult{OK: true, Tool: name, DurationMS: ms, Result: res}
}

func failure(name string, ms int64, msg, kind string) ExecutionResult {
	return ExecutionResult{OK: false, Tool: name, DurationMS: ms, Error: msg, ErrorKind: kind}
}

func errorMessage(err error) string {
	msg := err.Error()
	if msg == "" {
		return KindOf(err)
	}
	return msg
}

// panicError carries a recovered panic value.
type panicError struct {
	value any
}

func (p *panicError) Error() string { return fmt.Sprintf("tool panicked: %v", p.value) }

func (p *panicError) Kind() string { return KindPanic }

func instantiate(ctor Constructor) (t Tool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &panicError{value: p}
		}
	}()
	t = ctor()
	if t == nil {
		return nil, Errorf("constructor returned nil tool")
	}
	return t, nil
}

func invoke(ctx context.Context, t Tool, params Params) (res Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			res = nil
			err = &panicError{value: p}
		}
	}()
	return t.Run(ctx, params)
}

// durationMillis rounds up to whole milliseconds so that a call that took any
// time at all never reports zero. Negative spans (clock steps) clamp to zero.
func durationMillis(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	ms := d.Milliseconds()
	if d%time.Millisecond != 0 {
		ms++
	}
	return ms
}
