package builtin

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/stellarlinkco/nova/internal/tools"
)

var fileOpsSchema = tools.NewSchema(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"operation":   map[string]any{"type": "string", "enum": []any{"read", "write", "move", "copy", "delete", "list"}},
		"path":        map[string]any{"type": "string"},
		"content":     map[string]any{"type": "string"},
		"destination": map[string]any{"type": "string"},
	},
	"required": []any{"operation", "path"},
})

// FileOpsTool reads, writes, moves, copies, deletes and lists files.
type FileOpsTool struct {
	paths pathResolver
}

func NewFileOpsTool(workspace string, restrict bool) *FileOpsTool {
	return &FileOpsTool{paths: pathResolver{workspace: workspace, restrict: restrict}}
}

func (t *FileOpsTool) Name() string { return "file_ops" }
func (t *FileOpsTool) Description() string {
	return "Read, write, move, copy, or delete files and folders"
}
func (t *FileOpsTool) Schema() map[string]any { return fileOpsSchema.Document() }

func (t *FileOpsTool) Run(_ context.Context, params tools.Params) (tools.Result, error) {
	if err := fileOpsSchema.Validate(params); err != nil {
		return nil, err
	}
	op, _, _ := params.String("operation")
	raw, _, _ := params.String("path")
	path, err := t.paths.resolve(raw)
	if err != nil {
		return nil, err
	}

	switch op {
	case "read":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		return tools.Result{"content": string(data), "path": path}, nil

	case "write":
		content, ok, _ := params.String("content")
		if !ok {
			return nil, tools.Errorf("content required for write operation")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		return tools.Result{"status": "written", "path": path}, nil

	case "move", "copy":
		dst, err := t.destination(params, op)
		if err != nil {
			return nil, err
		}
		if op == "move" {
			if err := os.Rename(path, dst); err != nil {
				return nil, tools.Errorf("file operation failed: %w", err)
			}
			return tools.Result{"status": "moved", "from": path, "to": dst}, nil
		}
		if err := copyPath(path, dst); err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		return tools.Result{"status": "copied", "from": path, "to": dst}, nil

	case "delete":
		if _, err := os.Lstat(path); err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		if err := os.RemoveAll(path); err != nil {
			return nil, tools.Errorf("file operation failed: %w", err)
		}
		return tools.Result{"status": "deleted", "path": path}, nil

	case "list":
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, tools.Errorf("%s is not a directory: %w", path, err)
		}
		items := make([]string, 0, len(entries))
		for _, e := range entries {
			items = append(items, e.Name())
		}
		sort.Strings(items)
		return tools.Result{"items": items, "count": len(items), "path": path}, nil
	}
	return nil, tools.Errorf("unknown operation: %s", op)
}

func (t *FileOpsTool) destination(params tools.Params, op string) (string, error) {
	raw, ok, _ := params.String("destination")
	if !ok || raw == "" {
		return "", tools.Errorf("destination required for %s operation", op)
	}
	return t.paths.resolve(raw)
}

func copyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode())
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
