package builtin

import (
	"context"

	"github.com/stellarlinkco/nova/internal/memory"
	"github.com/stellarlinkco/nova/internal/tools"
)

// MemoryStore is the subset of the memory engine the memory tools need.
type MemoryStore interface {
	LearnFact(factType, content, source string, confidence float64) (bool, error)
	SearchMemory(query string, limit int) ([]memory.SearchHit, error)
	Stats() (memory.Stats, error)
}

type LearnFactTool struct{ store MemoryStore }

func (t *LearnFactTool) Name() string { return "learn_fact" }
func (t *LearnFactTool) Description() string {
	return "Remember a fact about the user (preference, habit, detail) for future conversations"
}

func (t *LearnFactTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content":    map[string]any{"type": "string"},
			"fact_type":  map[string]any{"type": "string"},
			"source":     map[string]any{"type": "string"},
			"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		},
		"required": []any{"content"},
	}
}

func (t *LearnFactTool) Run(_ context.Context, params tools.Params) (tools.Result, error) {
	content, err := params.RequireString("content")
	if err != nil {
		return nil, err
	}
	factType, _, err := params.String("fact_type")
	if err != nil {
		return nil, err
	}
	source, _, err := params.String("source")
	if err != nil {
		return nil, err
	}
	if source == "" {
		source = "conversation"
	}
	confidence, err := params.Float("confidence", 1.0)
	if err != nil {
		return nil, err
	}
	if confidence < 0 || confidence > 1 {
		return nil, tools.Errorf("confidence must be between 0 and 1")
	}
	created, err := t.store.LearnFact(factType, content, source, confidence)
	if err != nil {
		return nil, tools.Errorf("%w", err)
	}
	status := "updated"
	if created {
		status = "learned"
	}
	return tools.Result{"status": status, "content": content}, nil
}

type SearchMemoryTool struct{ store MemoryStore }

func (t *SearchMemoryTool) Name() string { return "search_memory" }
func (t *SearchMemoryTool) Description() string {
	return "Search past conversations and learned facts"
}

func (t *SearchMemoryTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string"},
			"limit": map[string]any{"type": "integer", "minimum": 1},
		},
		"required": []any{"query"},
	}
}

func (t *SearchMemoryTool) Run(_ context.Context, params tools.Params) (tools.Result, error) {
	query, err := params.RequireString("query")
	if err != nil {
		return nil, err
	}
	limit, err := params.Int("limit", 10)
	if err != nil {
		return nil, err
	}
	hits, err := t.store.SearchMemory(query, limit)
	if err != nil {
		return nil, tools.Errorf("%w", err)
	}
	if hits == nil {
		hits = []memory.SearchHit{}
	}
	return tools.Result{"query": query, "results": hits, "count": len(hits)}, nil
}

type MemoryStatsTool struct{ store MemoryStore }

func (t *MemoryStatsTool) Name() string        { return "memory_stats" }
func (t *MemoryStatsTool) Description() string { return "Report how much the assistant remembers" }

func (t *MemoryStatsTool) Run(_ context.Context, _ tools.Params) (tools.Result, error) {
	s, err := t.store.Stats()
	if err != nil {
		return nil, tools.Errorf("%w", err)
	}
	return tools.Result{
		"conversations":   s.Conversations,
		"facts":           s.Facts,
		"profile_entries": s.ProfileEntries,
		"activities":      s.Activities,
	}, nil
}
