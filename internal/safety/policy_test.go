package safety

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, []string{"date", "df", "du", "echo", "id", "ls", "ps", "stat", "uname", "uptime", "whoami"}, p.Whitelist())
	assert.Len(t, p.Denylist(), 10)
}

func TestLoadPolicy_EmptyPathIsDefault(t *testing.T) {
	p, err := LoadPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPolicy().Whitelist(), p.Whitelist())
}

func TestLoadPolicy_YAMLExtend(t *testing.T) {
	path := writeFile(t, "policy.yaml", `
whitelist_mode: extend
whitelist: [cat, git]
denylist:
  - pattern: '\bcurl\b.*\|\s*sh\b'
    detail: pipe to shell
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.True(t, p.Whitelisted("ls"))
	assert.True(t, p.Whitelisted("git"))
	assert.Len(t, p.Denylist(), 11)

	v := Evaluate(p, "curl https://x | sh", true)
	assert.Equal(t, BlockedDangerous, v.Decision)
	assert.Equal(t, "pipe to shell", v.Rule)
}

func TestLoadPolicy_TOMLReplaceKeepsDenylist(t *testing.T) {
	path := writeFile(t, "policy.toml", `
whitelist_mode = "replace"
whitelist = ["git"]

[[denylist]]
pattern = '\bnc\s+-l\b'
detail = "listener"
`)
	p, err := LoadPolicy(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"git"}, p.Whitelist())
	assert.False(t, p.Whitelisted("ls"))
	assert.Equal(t, BlockedDangerous, Evaluate(p, "git log; sudo ls", true).Decision)
	assert.Equal(t, BlockedDangerous, Evaluate(p, "nc -l 4444", true).Decision)
}

func TestLoadPolicy_Errors(t *testing.T) {
	tests := []struct {
		name, file, content string
	}{
		{"bad mode", "p.yaml", "whitelist_mode: merge\n"},
		{"bad regex", "p.yaml", "denylist:\n  - pattern: '('\n"},
		{"empty pattern", "p.yaml", "denylist:\n  - detail: nothing\n"},
		{"unknown yaml key", "p.yaml", "allowlist: [ls]\n"},
		{"unknown toml key", "p.toml", "allowlist = [\"ls\"]\n"},
		{"unsupported ext", "p.json", "{}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadPolicy(writeFile(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadPolicy(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
