package safety

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecord_FormatAndParse(t *testing.T) {
	ts := time.Date(2026, 3, 4, 5, 6, 7, 890, time.UTC)
	rec := Record{Time: ts, Command: `echo "a | b"` + "\nnext", Allowed: true, Note: "allowed: whitelisted"}

	line := rec.Format()
	assert.NotContains(t, line, "\n")
	assert.True(t, strings.HasPrefix(line, "2026-03-04T05:06:07.00000089Z | allowed=true | cmd="))
	assert.True(t, strings.HasSuffix(line, " | note=allowed: whitelisted"))

	parsed, err := ParseRecord(line)
	require.NoError(t, err)
	assert.True(t, parsed.Time.Equal(ts))
	assert.Equal(t, rec.Command, parsed.Command)
	assert.Equal(t, rec.Note, parsed.Note)
	assert.True(t, parsed.Allowed)
}

func TestRecord_NoteNewlinesFlattened(t *testing.T) {
	rec := Record{Time: time.Now(), Command: "x", Note: "exc:line1\nline2"}
	assert.Equal(t, 1, strings.Count(rec.Format()+"\n", "\n"))
}

func TestParseRecord_Malformed(t *testing.T) {
	for _, line := range []string{"", "garbage", "2026-01-01T00:00:00Z | allowed=maybe | cmd=\"x\" | note=y"} {
		_, err := ParseRecord(line)
		assert.Error(t, err, line)
	}
}

func TestAuditLog_AppendCreatesFileAndDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "shell_exec.log")
	log := NewAuditLog(path)
	require.NoError(t, log.Append(Record{Time: time.Now(), Command: "ls", Allowed: true, Note: "executing"}))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestAuditLog_ConcurrentAppendsStayWellFormed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := NewAuditLog(path)

	const n = 200
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("echo %d %s", i, strings.Repeat("x", 512))
			assert.NoError(t, log.Append(Record{Time: time.Now(), Command: cmd, Allowed: i%2 == 0, Note: "executing"}))
		}(i)
	}
	wg.Wait()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, n)
	for _, line := range lines {
		_, err := ParseRecord(line)
		assert.NoError(t, err)
	}
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	log := NewAuditLog(path)
	for i := 0; i < 5; i++ {
		require.NoError(t, log.Append(Record{Time: time.Now(), Command: fmt.Sprintf("cmd-%d", i), Note: "n"}))
	}

	recs, err := Tail(path, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "cmd-3", recs[0].Command)
	assert.Equal(t, "cmd-4", recs[1].Command)

	recs, err = Tail(filepath.Join(t.TempDir(), "none.log"), 3)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
