package builtin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/nova/internal/safety"
	"github.com/stellarlinkco/nova/internal/tools"
)

type shellFixture struct {
	tool     *ShellTool
	audit    string
	override bool
}

func newShellFixture(t *testing.T) *shellFixture {
	t.Helper()
	f := &shellFixture{audit: filepath.Join(t.TempDir(), "shell_exec.log")}
	gate := safety.NewGate(safety.DefaultPolicy(),
		safety.WithOverride(func() bool { return f.override }),
		safety.WithAuditor(safety.NewAuditLog(f.audit)),
	)
	f.tool = NewShellTool(gate, 5*time.Second, nil)
	return f
}

func (f *shellFixture) records(t *testing.T) []safety.Record {
	t.Helper()
	recs, err := safety.ReadRecords(f.audit)
	require.NoError(t, err)
	return recs
}

func TestShell_WhitelistedCommandRuns(t *testing.T) {
	f := newShellFixture(t)
	res, err := f.tool.Run(context.Background(), tools.Params{"command": "echo hello"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "hello\n", res["stdout"])
	assert.Equal(t, 0, res["returncode"])
	assert.Equal(t, true, res["success"])

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].Allowed)
	assert.Equal(t, "allowed: whitelisted", recs[0].Note)
}

func TestShell_NonZeroExitIsStillAResult(t *testing.T) {
	f := newShellFixture(t)
	res, err := f.tool.Run(context.Background(), tools.Params{"command": "ls /definitely/not/here"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.NotEqual(t, 0, res["returncode"])
	assert.Equal(t, false, res["success"])
	assert.NotEmpty(t, res["stderr"])
}

func TestShell_DangerousCommandBlockedEvenWithOverride(t *testing.T) {
	f := newShellFixture(t)
	f.override = true
	res, err := f.tool.Run(context.Background(), tools.Params{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "BlockedDangerous", res["decision"])
	assert.Contains(t, res["error"], "recursive delete")

	recs := f.records(t)
	require.Len(t, recs, 1)
	assert.False(t, recs[0].Allowed)
	assert.Equal(t, "rm -rf /", recs[0].Command)
}

func TestShell_NotWhitelistedNeedsOverride(t *testing.T) {
	f := newShellFixture(t)
	res, err := f.tool.Run(context.Background(), tools.Params{"command": "printf nova"})
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "BlockedNotWhitelisted", res["decision"])

	f.override = true
	res, err = f.tool.Run(context.Background(), tools.Params{"command": "printf nova"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])
	assert.Equal(t, "nova", res["stdout"])

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, "allowed: override", recs[1].Note)
}

func TestShell_EmptyCommandNeverReachesGate(t *testing.T) {
	f := newShellFixture(t)
	for _, cmd := range []string{"", "   ", "\t\n"} {
		_, err := f.tool.Run(context.Background(), tools.Params{"command": cmd})
		var execErr *tools.ExecutionError
		require.True(t, errors.As(err, &execErr), "%q: %v", cmd, err)
		assert.Equal(t, "empty command", execErr.Error())
	}
	_, err := os.Stat(f.audit)
	assert.True(t, os.IsNotExist(err), "audit log must stay untouched")
}

func TestShell_TimeoutKillsProcessGroup(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("reads /proc")
	}
	f := newShellFixture(t)
	f.override = true
	pidFile := filepath.Join(t.TempDir(), "bg.pid")

	start := time.Now()
	_, err := f.tool.Run(context.Background(), tools.Params{
		"command": "sleep 30 & echo $! > " + pidFile + "; wait",
		"timeout": 1,
	})
	elapsed := time.Since(start)

	var timeoutErr *tools.TimeoutError
	require.True(t, errors.As(err, &timeoutErr), "got %v", err)
	assert.Equal(t, tools.KindTimeout, tools.KindOf(err))
	assert.Less(t, elapsed, 5*time.Second)

	raw, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	require.NoError(t, err)

	// The background sleep shares the shell's process group, so it must be
	// gone or at most awaiting its reaper.
	assert.Eventually(t, func() bool { return processDead(pid) }, 2*time.Second, 20*time.Millisecond,
		"background pid %d survived the timeout", pid)

	recs := f.records(t)
	require.Len(t, recs, 2)
	assert.Equal(t, "timeout", recs[1].Note)
}

// processDead reports whether pid no longer exists or is a zombie.
func processDead(pid int) bool {
	stat, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	// The state follows the parenthesised command name.
	i := strings.LastIndexByte(string(stat), ')')
	if i < 0 || i+2 >= len(stat) {
		return false
	}
	return stat[i+2] == 'Z'
}

func TestShell_ThroughRunner(t *testing.T) {
	f := newShellFixture(t)
	reg := tools.NewRegistry()
	tools.Discover(reg, Registrations(Deps{Gate: f.tool.gate, ExecTimeout: time.Second}), nil)
	runner := tools.NewRunner(reg)

	res := runner.Execute(context.Background(), "shell", tools.Params{"command": "echo hi"})
	require.True(t, res.OK, res.Error)
	assert.Equal(t, "hi\n", res.Result["stdout"])

	res = runner.Execute(context.Background(), "shell", tools.Params{"command": ""})
	assert.False(t, res.OK)
	assert.Equal(t, tools.KindToolExecutionError, res.ErrorKind)

	f.override = true
	res = runner.Execute(context.Background(), "shell", tools.Params{"command": "sleep 5"})
	assert.False(t, res.OK)
	assert.Equal(t, tools.KindTimeout, res.ErrorKind)
}

func TestShell_InvalidParams(t *testing.T) {
	f := newShellFixture(t)
	_, err := f.tool.Run(context.Background(), tools.Params{"command": 42})
	assert.Error(t, err)
	_, err = f.tool.Run(context.Background(), tools.Params{})
	assert.Error(t, err)
}
