package builtin

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	webTimeout      = 10 * time.Second
	fetchLimit      = 10000
	relatedLimit    = 5
	browserAgent    = "Mozilla/5.0 (compatible; Nova/1.0)"
	maxResponseBody = 4 << 20
)

// WebSearchTool queries the DuckDuckGo instant answer API and fetches pages.
type WebSearchTool struct {
	baseURL string
	client  *http.Client
}

func NewWebSearchTool(baseURL string, client *http.Client) *WebSearchTool {
	if baseURL == "" {
		baseURL = "https://api.duckduckgo.com/"
	}
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	return &WebSearchTool{baseURL: baseURL, client: client}
}

func (t *WebSearchTool) Name() string { return "web_search" }
func (t *WebSearchTool) Description() string {
	return "Search the web using DuckDuckGo or fetch webpage content"
}

func (t *WebSearchTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{"type": "string", "enum": []any{"search", "fetch"}},
			"query":     map[string]any{"type": "string"},
			"url":       map[string]any{"type": "string"},
		},
		"required": []any{"operation"},
	}
}

func (t *WebSearchTool) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	op, err := params.RequireString("operation")
	if err != nil {
		return nil, err
	}
	switch op {
	case "search":
		query, err := params.RequireString("query")
		if err != nil {
			return nil, tools.Errorf("query required for search")
		}
		return t.search(ctx, query)
	case "fetch":
		target, err := params.RequireString("url")
		if err != nil {
			return nil, tools.Errorf("url required for fetch")
		}
		return t.fetch(ctx, target)
	}
	return nil, tools.Errorf("unknown operation: %s", op)
}

func (t *WebSearchTool) search(ctx context.Context, query string) (tools.Result, error) {
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	u := t.baseURL
	if strings.Contains(u, "?") {
		u += "&" + q.Encode()
	} else {
		u += "?" + q.Encode()
	}
	_, body, err := get(ctx, t.client, u)
	if err != nil {
		return nil, tools.Errorf("web operation failed: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return nil, tools.Errorf("web operation failed: search response is not JSON")
	}

	parsed := gjson.ParseBytes(body)
	related := make([]map[string]any, 0, relatedLimit)
	parsed.Get("RelatedTopics").ForEach(func(_, topic gjson.Result) bool {
		if len(related) >= relatedLimit {
			return false
		}
		related = append(related, map[string]any{
			"text": topic.Get("Text").String(),
			"url":  topic.Get("FirstURL").String(),
		})
		return true
	})

	return tools.Result{
		"abstract":     parsed.Get("Abstract").String(),
		"abstract_url": parsed.Get("AbstractURL").String(),
		"answer":       parsed.Get("Answer").String(),
		"related":      related,
	}, nil
}

func (t *WebSearchTool) fetch(ctx context.Context, target string) (tools.Result, error) {
	status, body, err := get(ctx, t.client, target)
	if err != nil {
		return nil, tools.Errorf("web operation failed: %w", err)
	}
	return tools.Result{
		"status_code": status,
		"content":     truncateRunes(string(body), fetchLimit),
		"url":         target,
	}, nil
}

func get(ctx context.Context, client *http.Client, target string) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, webTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("User-Agent", browserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}
