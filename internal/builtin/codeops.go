package builtin

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/stellarlinkco/nova/internal/tools"
)

var codeOpsSchema = tools.NewSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"operation":   map[string]any{"type": "string", "enum": []any{"append", "replace", "insert", "analyze"}},
		"path":        map[string]any{"type": "string"},
		"content":     map[string]any{"type": "string"},
		"old_text":    map[string]any{"type": "string"},
		"new_text":    map[string]any{"type": "string"},
		"line_number": map[string]any{"type": "integer", "minimum": 0},
	},
	"required": []any{"operation", "path"},
})

var (
	funcPattern   = regexp.MustCompile(`(?m)^\s*(?:def|func)\s+(?:\([^)]*\)\s*)?\w+`)
	typePattern   = regexp.MustCompile(`(?m)^\s*(?:class\s+\w+|type\s+\w+\s+(?:struct|interface)\b)`)
	importPattern = regexp.MustCompile(`(?m)^\s*(?:import|from\s+\S+\s+import)\b`)
)

// CodeOpsTool edits and inspects source files.
type CodeOpsTool struct {
	paths pathResolver
}

func NewCodeOpsTool(workspace string, restrict bool) *CodeOpsTool {
	return &CodeOpsTool{paths: pathResolver{workspace: workspace, restrict: restrict}}
}

func (t *CodeOpsTool) Name() string           { return "code_ops" }
func (t *CodeOpsTool) Description() string    { return "Edit, analyze, or refactor code files" }
func (t *CodeOpsTool) Schema() map[string]any { return codeOpsSchema.Document() }

func (t *CodeOpsTool) Run(_ context.Context, params tools.Params) (tools.Result, error) {
	if err := codeOpsSchema.Validate(params); err != nil {
		return nil, err
	}
	op, _, _ := params.String("operation")
	raw, _, _ := params.String("path")
	path, err := t.paths.resolve(raw)
	if err != nil {
		return nil, err
	}

	switch op {
	case "append":
		content, ok, _ := params.String("content")
		if !ok {
			return nil, tools.Errorf("content required")
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		if _, err := f.WriteString(content); err != nil {
			f.Close()
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		if err := f.Close(); err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		return tools.Result{"status": "appended", "path": path}, nil

	case "replace":
		oldText, _, _ := params.String("old_text")
		newText, hasNew, _ := params.String("new_text")
		if oldText == "" || !hasNew {
			return nil, tools.Errorf("old_text and new_text required")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		content := string(data)
		n := strings.Count(content, oldText)
		if n == 0 {
			return nil, tools.Errorf("text not found: %s", truncateRunes(oldText, 50))
		}
		if err := writeKeepingMode(path, strings.ReplaceAll(content, oldText, newText)); err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		return tools.Result{"status": "replaced", "path": path, "occurrences": n}, nil

	case "insert":
		if _, ok := params["line_number"]; !ok {
			return nil, tools.Errorf("line_number and content required")
		}
		line, err := params.Int("line_number", 0)
		if err != nil {
			return nil, err
		}
		content, ok, _ := params.String("content")
		if !ok {
			return nil, tools.Errorf("line_number and content required")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		lines := splitKeepEnds(string(data))
		if line > len(lines) {
			line = len(lines)
		}
		out := make([]string, 0, len(lines)+1)
		out = append(out, lines[:line]...)
		out = append(out, content+"\n")
		out = append(out, lines[line:]...)
		if err := writeKeepingMode(path, strings.Join(out, "")); err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		return tools.Result{"status": "inserted", "path": path, "line": line}, nil

	case "analyze":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, tools.Errorf("code operation failed: %w", err)
		}
		return tools.Result{"analysis": analyzeSource(string(data)), "path": path}, nil
	}
	return nil, tools.Errorf("unknown operation: %s", op)
}

func analyzeSource(content string) map[string]any {
	lines := strings.Split(content, "\n")
	nonEmpty, comments := 0, 0
	for _, l := range lines {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" {
			continue
		}
		nonEmpty++
		if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			comments++
		}
	}
	return map[string]any{
		"total_lines":     len(lines),
		"non_empty_lines": nonEmpty,
		"comment_lines":   comments,
		"functions":       len(funcPattern.FindAllString(content, -1)),
		"classes":         len(typePattern.FindAllString(content, -1)),
		"imports":         len(importPattern.FindAllString(content, -1)),
	}
}

func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

func writeKeepingMode(path, content string) error {
	mode := os.FileMode(0644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), mode)
}

func truncateRunes(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}
