package cron

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindCron  = "cron"
	KindEvery = "every"
	KindAt    = "at"
)

// Job outcomes recorded in JobState.LastStatus.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

var exprParser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Schedule says when a job fires: a six-field cron expression, a fixed
// interval, or once at a wall-clock instant.
type Schedule struct {
	Kind    string `json:"kind"`
	Expr    string `json:"expr,omitempty"`
	EveryMs int64  `json:"everyMs,omitempty"`
	AtMs    int64  `json:"atMs,omitempty"`
}

// Validate checks that the schedule can fire.
func (s Schedule) Validate() error {
	_, err := s.timing()
	return err
}

// timing turns every kind into a robfig schedule so one engine drives them.
func (s Schedule) timing() (rcron.Schedule, error) {
	switch s.Kind {
	case KindCron:
		sched, err := exprParser.Parse(s.Expr)
		if err != nil {
			return nil, fmt.Errorf("cron expression %q: %w", s.Expr, err)
		}
		return sched, nil
	case KindEvery:
		if s.EveryMs < 1000 {
			return nil, errors.New("every: interval must be at least one second")
		}
		return rcron.Every(time.Duration(s.EveryMs) * time.Millisecond), nil
	case KindAt:
		if s.AtMs <= 0 {
			return nil, errors.New("at: atMs must be set")
		}
		return onceAt(time.UnixMilli(s.AtMs)), nil
	}
	return nil, fmt.Errorf("unknown schedule kind %q", s.Kind)
}

// onceAt fires at one instant. A zero Next tells robfig never to run again.
type onceAt time.Time

func (o onceAt) Next(now time.Time) time.Time {
	at := time.Time(o)
	if now.Before(at) {
		return at
	}
	return time.Time{}
}

// Payload is what a job does when it fires. With Tool set it runs that tool
// with Params; otherwise Message goes to the agent as a prompt. Deliver sends
// a non-empty result to Channel/To.
type Payload struct {
	Message string         `json:"message,omitempty"`
	Tool    string         `json:"tool,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
	Deliver bool           `json:"deliver,omitempty"`
	Channel string         `json:"channel,omitempty"`
	To      string         `json:"to,omitempty"`
}

func (p Payload) validate() error {
	if p.Message == "" && p.Tool == "" {
		return errors.New("payload needs a message or a tool")
	}
	if p.Deliver && p.Channel == "" {
		return errors.New("delivery needs a channel")
	}
	return nil
}

type JobState struct {
	LastRunAtMs int64  `json:"lastRunAtMs,omitempty"`
	LastStatus  string `json:"lastStatus,omitempty"`
	LastError   string `json:"lastError,omitempty"`
	Runs        int    `json:"runs,omitempty"`
}

type Job struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Schedule       Schedule `json:"schedule"`
	Payload        Payload  `json:"payload"`
	State          JobState `json:"state"`
	CreatedAtMs    int64    `json:"createdAtMs"`
	DeleteAfterRun bool     `json:"deleteAfterRun,omitempty"`
}

// NewJob returns an enabled job with a fresh short ID.
func NewJob(name string, schedule Schedule, payload Payload) Job {
	return Job{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Enabled:     true,
		Schedule:    schedule,
		Payload:     payload,
		CreatedAtMs: time.Now().UnixMilli(),
	}
}
