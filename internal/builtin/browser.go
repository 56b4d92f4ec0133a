package builtin

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	linkLimit    = 50
	textLimit    = 5000
	dataLimit    = 20
	articleLimit = 8000
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)
	pricePattern = regexp.MustCompile(`\$\d+(?:\.\d{2})?`)
)

// WebBrowserTool loads pages and extracts content from them. The current page
// lives on the instance, so it persists only within one invocation; pass url
// to load a page as part of any action.
type WebBrowserTool struct {
	client *http.Client

	currentURL string
	doc        *html.Node
}

func NewWebBrowserTool(client *http.Client) *WebBrowserTool {
	if client == nil {
		client = &http.Client{Timeout: webTimeout}
	}
	return &WebBrowserTool{client: client}
}

func (t *WebBrowserTool) Name() string { return "web_browser" }
func (t *WebBrowserTool) Description() string {
	return "Browse the web: navigate sites, read articles, extract links, text and data"
}

func (t *WebBrowserTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type": "string",
				"enum": []any{"navigate", "extract_links", "extract_text", "extract_data", "search_page", "get_article"},
			},
			"url":       map[string]any{"type": "string"},
			"selector":  map[string]any{"type": "string", "description": "tag, #id or .class"},
			"data_type": map[string]any{"type": "string", "enum": []any{"emails", "prices", "images"}},
			"query":     map[string]any{"type": "string"},
		},
		"required": []any{"action"},
	}
}

func (t *WebBrowserTool) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	action, err := params.RequireString("action")
	if err != nil {
		return nil, err
	}
	target, _, err := params.String("url")
	if err != nil {
		return nil, err
	}
	if action == "navigate" || action == "get_article" {
		if strings.TrimSpace(target) == "" {
			return nil, tools.Errorf("url required for %s", action)
		}
	}
	if target != "" {
		if err := t.load(ctx, target); err != nil {
			return nil, tools.Errorf("browser error: %w", err)
		}
	}

	switch action {
	case "navigate":
		return t.summary(), nil
	case "extract_links":
		if t.doc == nil {
			return nil, tools.Errorf("no page loaded, navigate first")
		}
		return t.links(), nil
	case "extract_text":
		if t.doc == nil {
			return nil, tools.Errorf("no page loaded, navigate first")
		}
		selector, _, _ := params.String("selector")
		return t.text(selector), nil
	case "extract_data":
		if t.doc == nil {
			return nil, tools.Errorf("no page loaded, navigate first")
		}
		dataType, _, _ := params.String("data_type")
		return t.data(dataType)
	case "search_page":
		if t.doc == nil {
			return nil, tools.Errorf("no page loaded, navigate first")
		}
		query, err := params.RequireString("query")
		if err != nil {
			return nil, err
		}
		text := strings.ToLower(textContent(t.doc, nil))
		q := strings.ToLower(query)
		n := strings.Count(text, q)
		return tools.Result{"found": n > 0, "count": n, "query": query}, nil
	case "get_article":
		return t.article(), nil
	}
	return nil, tools.Errorf("unknown action: %s", action)
}

func (t *WebBrowserTool) load(ctx context.Context, target string) error {
	status, body, err := get(ctx, t.client, target)
	if err != nil {
		return err
	}
	if status >= http.StatusBadRequest {
		return fmt.Errorf("GET %s: status %d", target, status)
	}
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	t.currentURL = target
	t.doc = doc
	return nil
}

func (t *WebBrowserTool) summary() tools.Result {
	title := "No title"
	if n := findFirst(t.doc, func(n *html.Node) bool { return n.DataAtom == atom.Title }); n != nil {
		title = strings.TrimSpace(textContent(n, nil))
	}
	description := ""
	if n := findFirst(t.doc, func(n *html.Node) bool {
		return n.DataAtom == atom.Meta && strings.EqualFold(attr(n, "name"), "description")
	}); n != nil {
		description = attr(n, "content")
	}
	return tools.Result{
		"url":          t.currentURL,
		"title":        title,
		"description":  description,
		"links_count":  len(findAll(t.doc, isTag(atom.A))),
		"images_count": len(findAll(t.doc, isTag(atom.Img))),
		"status":       "loaded",
	}
}

func (t *WebBrowserTool) links() tools.Result {
	var links []map[string]any
	for _, a := range findAll(t.doc, isTag(atom.A)) {
		href := attr(a, "href")
		text := strings.TrimSpace(textContent(a, nil))
		if text != "" && strings.HasPrefix(href, "http") {
			links = append(links, map[string]any{"text": text, "url": href})
		}
	}
	total := len(links)
	if len(links) > linkLimit {
		links = links[:linkLimit]
	}
	return tools.Result{"links": links, "total_count": total}
}

var boilerplate = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Footer: true, atom.Header: true,
}

func (t *WebBrowserTool) text(selector string) tools.Result {
	root := t.doc
	if selector != "" {
		root = findFirst(t.doc, matchSelector(selector))
	}
	clean := ""
	if root != nil {
		clean = cleanLines(textContent(root, boilerplate), 0)
	}
	return tools.Result{
		"text":        truncateRunes(clean, textLimit),
		"full_length": len([]rune(clean)),
	}
}

func (t *WebBrowserTool) data(dataType string) (tools.Result, error) {
	var results []any
	switch dataType {
	case "emails":
		seen := map[string]bool{}
		for _, m := range emailPattern.FindAllString(textContent(t.doc, nil), -1) {
			if !seen[m] && len(results) < dataLimit {
				seen[m] = true
				results = append(results, m)
			}
		}
	case "prices":
		for _, m := range pricePattern.FindAllString(textContent(t.doc, nil), dataLimit) {
			results = append(results, m)
		}
	case "images":
		for _, img := range findAll(t.doc, isTag(atom.Img)) {
			src := attr(img, "src")
			if src == "" {
				continue
			}
			results = append(results, map[string]any{"src": src, "alt": attr(img, "alt")})
			if len(results) >= dataLimit {
				break
			}
		}
	default:
		return nil, tools.Errorf("unknown data_type: %q", dataType)
	}
	if results == nil {
		results = []any{}
	}
	return tools.Result{"data_type": dataType, "results": results, "count": len(results)}, nil
}

var articleSkip = map[atom.Atom]bool{
	atom.Script: true, atom.Style: true, atom.Nav: true, atom.Footer: true, atom.Aside: true,
}

func (t *WebBrowserTool) article() tools.Result {
	root := findFirst(t.doc, isTag(atom.Article))
	if root == nil {
		root = findFirst(t.doc, func(n *html.Node) bool {
			if n.DataAtom != atom.Main && n.DataAtom != atom.Div {
				return false
			}
			return hasClass(n, "content") || hasClass(n, "post") || hasClass(n, "entry")
		})
	}
	if root == nil {
		root = t.doc
	}
	title := "No title"
	if h1 := findFirst(t.doc, isTag(atom.H1)); h1 != nil {
		title = strings.TrimSpace(textContent(h1, nil))
	}
	lines := strings.Split(cleanLines(textContent(root, articleSkip), 20), "\n")
	if len(lines) == 1 && lines[0] == "" {
		lines = nil
	}
	return tools.Result{
		"url":        t.currentURL,
		"title":      title,
		"content":    truncateRunes(strings.Join(lines, "\n\n"), articleLimit),
		"paragraphs": len(lines),
	}
}

func isTag(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

// matchSelector supports a single tag, #id or .class selector.
func matchSelector(sel string) func(*html.Node) bool {
	sel = strings.TrimSpace(sel)
	switch {
	case strings.HasPrefix(sel, "#"):
		id := sel[1:]
		return func(n *html.Node) bool { return n.Type == html.ElementNode && attr(n, "id") == id }
	case strings.HasPrefix(sel, "."):
		class := sel[1:]
		return func(n *html.Node) bool { return n.Type == html.ElementNode && hasClass(n, class) }
	}
	tag := strings.ToLower(sel)
	return func(n *html.Node) bool { return n.Type == html.ElementNode && n.Data == tag }
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func findAll(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && match(n) {
			out = append(out, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	if n != nil {
		walk(n)
	}
	return out
}

// textContent joins text nodes with newlines, skipping subtrees whose tag is in skip.
func textContent(n *html.Node, skip map[atom.Atom]bool) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skip[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

// cleanLines trims each line and drops those not longer than minLen.
func cleanLines(text string, minLen int) string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || (minLen > 0 && len([]rune(line)) <= minLen) {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
