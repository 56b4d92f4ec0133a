package tools

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRunner(t *testing.T, tools ...*stubTool) *Runner {
	t.Helper()
	reg := NewRegistry()
	for _, tool := range tools {
		tool := tool
		require.NoError(t, reg.Register(DescriptorOf(tool), func() Tool { return tool }))
	}
	return NewRunner(reg)
}

func TestRunner_ToolNotFound(t *testing.T) {
	r := newTestRunner(t)
	res := r.Execute(context.Background(), "nonexistent_tool", Params{})

	assert.False(t, res.OK)
	assert.Equal(t, "nonexistent_tool", res.Tool)
	assert.Equal(t, KindToolNotFound, res.ErrorKind)
	assert.NotEmpty(t, res.Error)
	assert.Nil(t, res.Result)
}

func TestRunner_Success(t *testing.T) {
	r := newTestRunner(t, &stubTool{
		name: "add",
		run: func(_ context.Context, p Params) (Result, error) {
			a, err := p.Int("a", 0)
			if err != nil {
				return nil, err
			}
			b, err := p.Int("b", 0)
			if err != nil {
				return nil, err
			}
			return Result{"sum": a + b}, nil
		},
	})

	res := r.Execute(context.Background(), "add", Params{"a": 2.0, "b": 3})
	require.True(t, res.OK, res.Error)
	assert.Equal(t, 5, res.Result["sum"])
	assert.Empty(t, res.Error)
	assert.Empty(t, res.ErrorKind)
	assert.GreaterOrEqual(t, res.DurationMS, int64(0))
}

func TestRunner_NilResultBecomesEmpty(t *testing.T) {
	r := newTestRunner(t, &stubTool{
		name: "quiet",
		run:  func(context.Context, Params) (Result, error) { return nil, nil },
	})
	res := r.Execute(context.Background(), "quiet", nil)
	require.True(t, res.OK)
	assert.NotNil(t, res.Result)
}

func TestRunner_ErrorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind string
	}{
		{"execution", Errorf("bad input"), KindToolExecutionError},
		{"plain", errors.New("boom"), KindToolExecutionError},
		{"not implemented", NotImplementedf("vision_chat"), KindNotImplemented},
		{"timeout", &TimeoutError{Op: "command", After: time.Second}, KindTimeout},
		{"deadline", context.DeadlineExceeded, KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRunner(t, &stubTool{
				name: "failing",
				run:  func(context.Context, Params) (Result, error) { return Result{"partial": true}, tt.err },
			})
			res := r.Execute(context.Background(), "failing", Params{})
			assert.False(t, res.OK)
			assert.Equal(t, tt.kind, res.ErrorKind)
			assert.NotEmpty(t, res.Error)
			assert.Nil(t, res.Result, "failed envelope must not carry a result")
			assert.GreaterOrEqual(t, res.DurationMS, int64(0))
		})
	}
}

func TestRunner_RecoversPanics(t *testing.T) {
	r := newTestRunner(t, &stubTool{
		name: "explode",
		run:  func(context.Context, Params) (Result, error) { panic("kaboom") },
	})
	res := r.Execute(context.Background(), "explode", Params{})
	assert.False(t, res.OK)
	assert.Equal(t, KindPanic, res.ErrorKind)
	assert.Contains(t, res.Error, "kaboom")
}

func TestRunner_ConstructorPanic(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "broken"}, func() Tool { panic("no deps") }))
	res := NewRunner(reg).Execute(context.Background(), "broken", Params{})
	assert.False(t, res.OK)
	assert.Equal(t, KindPanic, res.ErrorKind)
	assert.Zero(t, res.DurationMS)
}

func TestRunner_FreshInstancePerCall(t *testing.T) {
	reg := NewRegistry()
	var mu sync.Mutex
	built := 0
	require.NoError(t, reg.Register(Descriptor{Name: "counter"}, func() Tool {
		mu.Lock()
		built++
		mu.Unlock()
		return &stubTool{name: "counter"}
	}))
	r := NewRunner(reg)
	r.Execute(context.Background(), "counter", nil)
	r.Execute(context.Background(), "counter", nil)
	assert.Equal(t, 2, built)
}

func TestRunner_DurationMeasuredAroundRun(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	calls := 0
	clock := func() time.Time {
		calls++
		if calls == 1 {
			return base
		}
		return base.Add(1500 * time.Microsecond)
	}
	reg := NewRegistry()
	require.NoError(t, reg.Register(Descriptor{Name: "t"}, stubCtor("t")))
	res := NewRunner(reg, WithClock(clock)).Execute(context.Background(), "t", nil)
	require.True(t, res.OK)
	assert.Equal(t, int64(2), res.DurationMS)
	assert.Equal(t, 2, calls, "clock read only around Run")
}

func TestDurationMillis(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 0},
		{-5 * time.Millisecond, 0},
		{time.Nanosecond, 1},
		{999 * time.Microsecond, 1},
		{time.Millisecond, 1},
		{1001 * time.Microsecond, 2},
		{2 * time.Second, 2000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, durationMillis(tt.in), tt.in.String())
	}
}

func TestExecutionResult_JSON(t *testing.T) {
	ok := ExecutionResult{OK: true, Tool: "echo", DurationMS: 1, Result: Result{"text": "hi"}}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(ok.JSON()), &decoded))
	assert.Equal(t, true, decoded["ok"])
	assert.NotContains(t, decoded, "error")

	failed := ExecutionResult{Tool: "x", Error: "nope", ErrorKind: KindToolNotFound}
	decoded = nil
	require.NoError(t, json.Unmarshal([]byte(failed.JSON()), &decoded))
	assert.Nil(t, decoded["result"])
	assert.Equal(t, "ToolNotFound", decoded["error_kind"])
}

func TestRunner_Concurrent(t *testing.T) {
	r := newTestRunner(t, &stubTool{
		name: "echo",
		run: func(_ context.Context, p Params) (Result, error) {
			s, err := p.RequireString("text")
			return Result{"text": s}, err
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := r.Execute(context.Background(), "echo", Params{"text": "hi"})
			assert.True(t, res.OK)
			assert.Equal(t, "hi", res.Result["text"])
		}()
	}
	wg.Wait()
}
