package builtin

import (
	"bufio"
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"

	"github.com/stellarlinkco/nova/internal/tools"
)

// SystemOpsTool reports host statistics and launches applications on macOS.
type SystemOpsTool struct {
	goos     string
	procRoot string
	launch   func(ctx context.Context, app string) error
}

func NewSystemOpsTool() *SystemOpsTool {
	return &SystemOpsTool{goos: runtime.GOOS, procRoot: "/proc", launch: openApp}
}

func (t *SystemOpsTool) Name() string { return "system_ops" }
func (t *SystemOpsTool) Description() string {
	return "Check system stats (CPU/RAM/load) or open applications"
}

func (t *SystemOpsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{"type": "string", "enum": []any{"stats", "open_app"}},
			"app_name":  map[string]any{"type": "string"},
		},
		"required": []any{"operation"},
	}
}

func (t *SystemOpsTool) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	op, err := params.RequireString("operation")
	if err != nil {
		return nil, err
	}
	switch op {
	case "stats":
		return t.stats(), nil
	case "open_app":
		app, _, err := params.String("app_name")
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(app) == "" {
			return nil, tools.Errorf("app_name required for open_app")
		}
		if t.goos != "darwin" {
			return nil, tools.Errorf("app control only supported on macOS")
		}
		if err := t.launch(ctx, app); err != nil {
			return nil, tools.Errorf("failed to open %s: %w", app, err)
		}
		return tools.Result{"success": true, "message": "Opened " + app}, nil
	}
	return nil, tools.Errorf("unknown operation: %s", op)
}

func (t *SystemOpsTool) stats() tools.Result {
	res := tools.Result{
		"system":     t.goos,
		"arch":       runtime.GOARCH,
		"cpus":       runtime.NumCPU(),
		"goroutines": runtime.NumGoroutine(),
	}
	if host, err := os.Hostname(); err == nil {
		res["hostname"] = host
	}
	if load, ok := readLoadAvg(t.procRoot + "/loadavg"); ok {
		res["load_average"] = load
	}
	if total, avail, ok := readMemInfo(t.procRoot + "/meminfo"); ok && total > 0 {
		res["memory_total_kb"] = total
		res["memory_available_kb"] = avail
		used := float64(total-avail) / float64(total) * 100
		res["memory_percent"] = float64(int(used*10)) / 10
	}
	return res
}

func readLoadAvg(path string) ([]float64, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return nil, false
	}
	out := make([]float64, 0, 3)
	for _, f := range fields[:3] {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, false
		}
		out = append(out, v)
	}
	return out, true
}

func readMemInfo(path string) (total, available int64, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total = v
		case "MemAvailable:":
			available = v
		}
	}
	return total, available, total > 0
}

func openApp(ctx context.Context, app string) error {
	return exec.CommandContext(ctx, "open", "-a", app).Run()
}
