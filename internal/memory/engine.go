package memory

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Fixed-width UTC timestamps keep lexical and chronological order aligned.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Engine struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db, now: time.Now}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			user_message TEXT NOT NULL,
			response TEXT NOT NULL,
			tools_used TEXT NOT NULL DEFAULT '[]',
			context TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_ts ON conversations(timestamp)`,
		`CREATE TABLE IF NOT EXISTS knowledge (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			fact_type TEXT NOT NULL,
			content TEXT NOT NULL UNIQUE,
			source TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 1.0
		)`,
		`CREATE TABLE IF NOT EXISTS profile (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS activity (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp TEXT NOT NULL,
			activity_type TEXT NOT NULL,
			description TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_activity_ts ON activity(timestamp)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (e *Engine) stamp() string {
	return e.now().UTC().Format(timeLayout)
}

// SaveConversation stores one user/assistant exchange.
func (e *Engine) SaveConversation(userMessage, response string, toolsUsed []string, context map[string]any) error {
	if toolsUsed == nil {
		toolsUsed = []string{}
	}
	if context == nil {
		context = map[string]any{}
	}
	toolsJSON, err := json.Marshal(toolsUsed)
	if err != nil {
		return fmt.Errorf("marshal tools used: %w", err)
	}
	ctxJSON, err := json.Marshal(context)
	if err != nil {
		return fmt.Errorf("marshal context: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.db.Exec(`
		INSERT INTO conversations (timestamp, user_message, response, tools_used, context)
		VALUES (?, ?, ?, ?, ?)
	`, e.stamp(), userMessage, response, string(toolsJSON), string(ctxJSON))
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

// LearnFact records a fact. Re-learning identical content refreshes its
// confidence and timestamp; created reports whether a new row was inserted.
func (e *Engine) LearnFact(factType, content, source string, confidence float64) (created bool, err error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return false, fmt.Errorf("learn fact: empty content")
	}
	if strings.TrimSpace(factType) == "" {
		factType = "general"
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	ts := e.stamp()
	res, err := e.db.Exec(`
		INSERT INTO knowledge (timestamp, fact_type, content, source, confidence)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(content) DO NOTHING
	`, ts, factType, content, source, confidence)
	if err != nil {
		return false, fmt.Errorf("learn fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}
	if _, err := e.db.Exec(`
		UPDATE knowledge SET confidence = ?, timestamp = ? WHERE content = ?
	`, confidence, ts, content); err != nil {
		return false, fmt.Errorf("refresh fact: %w", err)
	}
	return false, nil
}

// SearchMemory matches query as a substring of conversations and facts.
func (e *Engine) SearchMemory(query string, limit int) ([]SearchHit, error) {
	if limit <= 0 {
		limit = 10
	}
	pattern := "%" + escapeLike(query) + "%"

	hits := make([]SearchHit, 0, limit)
	rows, err := e.db.Query(`
		SELECT timestamp, user_message, response FROM conversations
		WHERE user_message LIKE ? ESCAPE '\' OR response LIKE ? ESCAPE '\'
		ORDER BY id DESC
		LIMIT ?
	`, pattern, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	for rows.Next() {
		h := SearchHit{Type: HitConversation}
		if err := rows.Scan(&h.Timestamp, &h.User, &h.Response); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	rows, err = e.db.Query(`
		SELECT timestamp, fact_type, content FROM knowledge
		WHERE content LIKE ? ESCAPE '\'
		ORDER BY confidence DESC, id DESC
		LIMIT ?
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("search knowledge: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		h := SearchHit{Type: HitKnowledge}
		if err := rows.Scan(&h.Timestamp, &h.FactType, &h.Content); err != nil {
			return nil, fmt.Errorf("scan knowledge: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// RecentConversations returns up to limit exchanges, oldest first.
func (e *Engine) RecentConversations(limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := e.db.Query(`
		SELECT id, timestamp, user_message, response, tools_used, context FROM conversations
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var toolsJSON, ctxJSON string
		if err := rows.Scan(&c.ID, &c.Timestamp, &c.UserMessage, &c.Response, &toolsJSON, &ctxJSON); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		_ = json.Unmarshal([]byte(toolsJSON), &c.ToolsUsed)
		_ = json.Unmarshal([]byte(ctxJSON), &c.Context)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (e *Engine) UpdateProfile(key, value string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("update profile: empty key")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.Exec(`
		INSERT INTO profile (key, value, updated) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated = excluded.updated
	`, key, value, e.stamp())
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return nil
}

func (e *Engine) GetProfile(key string) (string, bool, error) {
	var value string
	err := e.db.QueryRow(`SELECT value FROM profile WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get profile: %w", err)
	}
	return value, true, nil
}

// Profile returns every profile entry keyed by name.
func (e *Engine) Profile() (map[string]string, error) {
	rows, err := e.db.Query(`SELECT key, value FROM profile ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	defer rows.Close()
	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (e *Engine) LogActivity(activityType, description string, metadata map[string]any) error {
	if metadata == nil {
		metadata = map[string]any{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err = e.db.Exec(`
		INSERT INTO activity (timestamp, activity_type, description, metadata) VALUES (?, ?, ?, ?)
	`, e.stamp(), activityType, description, string(metaJSON))
	if err != nil {
		return fmt.Errorf("log activity: %w", err)
	}
	return nil
}

// RecentActivity returns activity newer than the given window, newest first.
func (e *Engine) RecentActivity(since time.Duration, limit int) ([]Activity, error) {
	if limit <= 0 {
		limit = 20
	}
	cutoff := e.now().Add(-since).UTC().Format(timeLayout)
	rows, err := e.db.Query(`
		SELECT id, timestamp, activity_type, description, metadata FROM activity
		WHERE timestamp >= ?
		ORDER BY id DESC
		LIMIT ?
	`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var metaJSON string
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Type, &a.Description, &metaJSON); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		_ = json.Unmarshal([]byte(metaJSON), &a.Metadata)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ContextForPrompt renders profile, high-confidence facts and the last few
// exchanges as a markdown block for the system prompt. Empty when nothing is stored.
func (e *Engine) ContextForPrompt() (string, error) {
	var sb strings.Builder

	profile, err := e.Profile()
	if err != nil {
		return "", err
	}
	if len(profile) > 0 {
		sb.WriteString("## User Profile\n")
		keys := make([]string, 0, len(profile))
		for k := range profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %s\n", k, profile[k])
		}
	}

	rows, err := e.db.Query(`
		SELECT fact_type, content FROM knowledge
		WHERE confidence >= 0.7
		ORDER BY confidence DESC, id DESC
		LIMIT 10
	`)
	if err != nil {
		return "", fmt.Errorf("load facts: %w", err)
	}
	var facts []string
	for rows.Next() {
		var ft, content string
		if err := rows.Scan(&ft, &content); err != nil {
			rows.Close()
			return "", fmt.Errorf("scan fact: %w", err)
		}
		facts = append(facts, fmt.Sprintf("- [%s] %s", ft, content))
	}
	rows.Close()
	if len(facts) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Known Facts\n")
		sb.WriteString(strings.Join(facts, "\n"))
		sb.WriteString("\n")
	}

	recent, err := e.RecentConversations(3)
	if err != nil {
		return "", err
	}
	if len(recent) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("## Recent Conversations\n")
		for _, c := range recent {
			fmt.Fprintf(&sb, "- User: %s\n  Assistant: %s\n", truncate(c.UserMessage, 200), truncate(c.Response, 200))
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (e *Engine) Stats() (Stats, error) {
	var s Stats
	queries := []struct {
		sql  string
		dest *int
	}{
		{`SELECT COUNT(*) FROM conversations`, &s.Conversations},
		{`SELECT COUNT(*) FROM knowledge`, &s.Facts},
		{`SELECT COUNT(*) FROM profile`, &s.ProfileEntries},
		{`SELECT COUNT(*) FROM activity`, &s.Activities},
	}
	for _, q := range queries {
		if err := e.db.QueryRow(q.sql).Scan(q.dest); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return s, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n]) + "..."
}
