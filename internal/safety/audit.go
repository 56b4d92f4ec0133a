package safety

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record is one audit log line.
type Record struct {
	Time    time.Time
	Command string
	Allowed bool
	Note    string
}

// Format renders the record as a single line without the trailing newline.
func (r Record) Format() string {
	note := strings.NewReplacer("\r", " ", "\n", " ").Replace(r.Note)
	return fmt.Sprintf("%s | allowed=%t | cmd=%s | note=%s",
		r.Time.UTC().Format(time.RFC3339Nano), r.Allowed, strconv.Quote(r.Command), note)
}

// ParseRecord parses a line produced by Format.
func ParseRecord(line string) (Record, error) {
	var rec Record
	ts, rest, ok := strings.Cut(line, " | allowed=")
	if !ok {
		return rec, fmt.Errorf("audit line: missing allowed field")
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return rec, fmt.Errorf("audit line: %w", err)
	}
	allowed, rest, ok := strings.Cut(rest, " | cmd=")
	if !ok {
		return rec, fmt.Errorf("audit line: missing cmd field")
	}
	b, err := strconv.ParseBool(allowed)
	if err != nil {
		return rec, fmt.Errorf("audit line: %w", err)
	}
	quoted, err := strconv.QuotedPrefix(rest)
	if err != nil {
		return rec, fmt.Errorf("audit line: %w", err)
	}
	cmd, _ := strconv.Unquote(quoted)
	note, ok := strings.CutPrefix(rest[len(quoted):], " | note=")
	if !ok {
		return rec, fmt.Errorf("audit line: missing note field")
	}
	return Record{Time: t, Command: cmd, Allowed: b, Note: note}, nil
}

// AuditLog appends records to a file. Each record is written with a single
// write on an O_APPEND descriptor under a mutex, so concurrent appends from
// this process never interleave within a line.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

// NewAuditLog returns a log writing to path. The file is created on first append.
func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

// Path returns the log location.
func (l *AuditLog) Path() string { return l.path }

// Append writes rec as one line.
func (l *AuditLog) Append(rec Record) error {
	line := rec.Format() + "\n"

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.WriteString(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("write audit log: %w", err)
	}
	return f.Close()
}

// ReadRecords returns every parseable record in the file, oldest first.
// A missing file yields no records.
func ReadRecords(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var records []Record
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		rec, err := ParseRecord(sc.Text())
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	if err := sc.Err(); err != nil {
		return records, fmt.Errorf("read audit log: %w", err)
	}
	return records, nil
}

// Tail returns the last n records.
func Tail(path string, n int) ([]Record, error) {
	records, err := ReadRecords(path)
	if err != nil || n <= 0 || len(records) <= n {
		return records, err
	}
	return records[len(records)-n:], nil
}
