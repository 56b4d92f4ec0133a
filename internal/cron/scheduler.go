// Package cron runs persisted jobs that call a tool or prompt the agent and
// optionally deliver the result to a chat channel.
package cron

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/stellarlinkco/nova/internal/bus"
	"github.com/stellarlinkco/nova/internal/tools"
)

const stopGrace = 5 * time.Second

// PromptFunc answers a message payload. An empty reply records the run as
// skipped and delivers nothing.
type PromptFunc func(ctx context.Context, job Job) (string, error)

// DeliverFunc hands a job result to the outbound side of the bus.
type DeliverFunc func(ctx context.Context, msg bus.OutboundMessage) error

type Options struct {
	// Runner executes tool payloads.
	Runner  *tools.Runner
	Prompt  PromptFunc
	Deliver DeliverFunc
	Logger  *zap.Logger
}

// Scheduler fires jobs from a single robfig/cron engine and keeps their
// definitions and last outcome in a JSON store.
type Scheduler struct {
	store   store
	runner  *tools.Runner
	prompt  PromptFunc
	deliver DeliverFunc
	logger  *zap.Logger
	engine  *rcron.Cron

	mu      sync.Mutex
	jobs    []Job
	entries map[string]rcron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	loaded  bool
}

func New(storePath string, opts Options) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("cron")
	adapter := engineLog{logger.Sugar()}
	return &Scheduler{
		store:   store{path: storePath},
		runner:  opts.Runner,
		prompt:  opts.Prompt,
		deliver: opts.Deliver,
		logger:  logger,
		engine: rcron.New(
			rcron.WithParser(exprParser),
			rcron.WithChain(rcron.Recover(adapter), rcron.SkipIfStillRunning(adapter)),
			rcron.WithLogger(adapter),
		),
		entries: make(map[string]rcron.EntryID),
		ctx:     context.Background(),
	}
}

// Start loads the store, schedules enabled jobs and runs until ctx ends or
// Stop is called. Runs see a context canceled on stop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	for i := range s.jobs {
		if s.jobs[i].Enabled {
			s.scheduleLocked(s.jobs[i])
		}
	}
	count := len(s.jobs)
	runCtx := s.ctx
	s.mu.Unlock()

	s.engine.Start()
	s.logger.Info("started", zap.Int("jobs", count))
	go func() {
		<-runCtx.Done()
		s.halt()
	}()
	return nil
}

// Stop cancels running jobs and waits briefly for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.halt()
}

func (s *Scheduler) halt() {
	select {
	case <-s.engine.Stop().Done():
	case <-time.After(stopGrace):
		s.logger.Warn("jobs still running after stop")
	}
}

func (s *Scheduler) ensureLoaded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return nil
	}
	jobs, err := s.store.load()
	if err != nil {
		return fmt.Errorf("load jobs: %w", err)
	}
	s.jobs = append(jobs, s.jobs...)
	s.loaded = true
	return nil
}

// scheduleLocked registers job with the engine. An "at" job already past
// due fires right away.
func (s *Scheduler) scheduleLocked(job Job) {
	if _, ok := s.entries[job.ID]; ok {
		return
	}
	timing, err := job.Schedule.timing()
	if err != nil {
		s.logger.Warn("unschedulable job", zap.String("job", job.Name), zap.Error(err))
		return
	}
	id := job.ID
	if job.Schedule.Kind == KindAt && !time.Now().Before(time.UnixMilli(job.Schedule.AtMs)) {
		go s.fire(id)
		return
	}
	s.entries[id] = s.engine.Schedule(timing, rcron.FuncJob(func() { s.fire(id) }))
}

func (s *Scheduler) unscheduleLocked(id string) {
	if entry, ok := s.entries[id]; ok {
		s.engine.Remove(entry)
		delete(s.entries, id)
	}
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if _, err := s.RunNow(ctx, id); err != nil {
		s.logger.Warn("job failed", zap.String("id", id), zap.Error(err))
	}
}

// RunNow executes job id immediately, records the outcome and delivers the
// result when the payload asks for it.
func (s *Scheduler) RunNow(ctx context.Context, id string) (string, error) {
	if err := s.ensureLoaded(); err != nil {
		return "", err
	}
	job, ok := s.lookup(id)
	if !ok {
		return "", fmt.Errorf("job %s not found", id)
	}
	s.logger.Info("running", zap.String("job", job.Name), zap.String("id", id))

	result, err := s.execute(ctx, job)
	if err == nil && result != "" && job.Payload.Deliver {
		err = s.send(ctx, job.Payload, result)
	}
	s.record(id, result, err)
	return result, err
}

func (s *Scheduler) execute(ctx context.Context, job Job) (string, error) {
	if job.Payload.Tool != "" {
		if s.runner == nil {
			return "", fmt.Errorf("no tool runner for %q", job.Payload.Tool)
		}
		res := s.runner.Execute(ctx, job.Payload.Tool, tools.Params(job.Payload.Params))
		if !res.OK {
			return "", fmt.Errorf("%s: %s", res.ErrorKind, res.Error)
		}
		return res.JSON(), nil
	}
	if s.prompt == nil {
		return "", fmt.Errorf("no agent for message jobs")
	}
	return s.prompt(ctx, job)
}

func (s *Scheduler) send(ctx context.Context, p Payload, result string) error {
	if s.deliver == nil {
		return fmt.Errorf("no delivery configured for channel %q", p.Channel)
	}
	return s.deliver(ctx, bus.OutboundMessage{Channel: p.Channel, ChatID: p.To, Content: result})
}

func (s *Scheduler) record(id, result string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	job := &s.jobs[i]
	job.State.LastRunAtMs = time.Now().UnixMilli()
	job.State.Runs++
	switch {
	case runErr != nil:
		job.State.LastStatus, job.State.LastError = StatusError, runErr.Error()
	case result == "":
		job.State.LastStatus, job.State.LastError = StatusSkipped, ""
	default:
		job.State.LastStatus, job.State.LastError = StatusOK, ""
	}

	if job.Schedule.Kind == KindAt {
		s.unscheduleLocked(id)
		if job.DeleteAfterRun {
			s.jobs = slices.Delete(s.jobs, i, i+1)
		} else {
			job.Enabled = false
		}
	}
	s.persistLocked()
}

// Add validates, stores and schedules a new job.
func (s *Scheduler) Add(name string, schedule Schedule, payload Payload) (Job, error) {
	if err := schedule.Validate(); err != nil {
		return Job{}, err
	}
	if err := payload.validate(); err != nil {
		return Job{}, err
	}
	if err := s.ensureLoaded(); err != nil {
		return Job{}, err
	}

	job := NewJob(name, schedule, payload)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	if err := s.store.save(s.jobs); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return Job{}, fmt.Errorf("save jobs: %w", err)
	}
	s.scheduleLocked(job)
	return job, nil
}

// Remove deletes job id and reports whether it existed.
func (s *Scheduler) Remove(id string) bool {
	if err := s.ensureLoaded(); err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.unscheduleLocked(id)
	s.jobs = slices.Delete(s.jobs, i, i+1)
	s.persistLocked()
	return true
}

// Enable switches job id on or off.
func (s *Scheduler) Enable(id string, on bool) (Job, error) {
	if err := s.ensureLoaded(); err != nil {
		return Job{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return Job{}, fmt.Errorf("job %s not found", id)
	}
	s.jobs[i].Enabled = on
	if on {
		s.scheduleLocked(s.jobs[i])
	} else {
		s.unscheduleLocked(id)
	}
	s.persistLocked()
	return s.jobs[i], nil
}

// Jobs returns a snapshot of every stored job.
func (s *Scheduler) Jobs() []Job {
	if err := s.ensureLoaded(); err != nil {
		s.logger.Warn("load jobs", zap.Error(err))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.jobs)
}

// Find returns the first job called name.
func (s *Scheduler) Find(name string) (Job, bool) {
	for _, job := range s.Jobs() {
		if job.Name == name {
			return job, true
		}
	}
	return Job{}, false
}

func (s *Scheduler) lookup(id string) (Job, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.jobs[i], true
	}
	return Job{}, false
}

func (s *Scheduler) indexLocked(id string) int {
	return slices.IndexFunc(s.jobs, func(j Job) bool { return j.ID == id })
}

func (s *Scheduler) persistLocked() {
	if err := s.store.save(s.jobs); err != nil {
		s.logger.Warn("save jobs", zap.Error(err))
	}
}

// engineLog routes robfig/cron's own logging into zap.
type engineLog struct{ l *zap.SugaredLogger }

func (e engineLog) Info(msg string, kv ...any) { e.l.Debugw(msg, kv...) }

func (e engineLog) Error(err error, msg string, kv ...any) {
	e.l.Errorw(msg, append(kv, "error", err)...)
}
