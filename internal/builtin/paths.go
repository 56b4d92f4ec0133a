package builtin

import (
	"path/filepath"
	"strings"

	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/tools"
)

// pathResolver expands ~ and, when restricted, keeps paths inside the workspace.
type pathResolver struct {
	workspace string
	restrict  bool
}

func (r pathResolver) resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", tools.Errorf("path is required")
	}
	p = config.ExpandHome(p)
	if !filepath.IsAbs(p) && r.workspace != "" {
		p = filepath.Join(r.workspace, p)
	}
	p = filepath.Clean(p)
	if !r.restrict {
		return p, nil
	}
	root := filepath.Clean(r.workspace)
	if root == "" || root == "." {
		return "", tools.Errorf("workspace restriction is on but no workspace is configured")
	}
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", tools.Errorf("path %s is outside the workspace", p)
	}
	return p, nil
}
