package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stellarlinkco/nova/internal/tools"
)

const testPage = `<!doctype html>
<html><head><title>Nova Test Page</title>
<meta name="description" content="A page for tests">
<script>var hidden = "script text";</script></head>
<body>
<header>Site header</header>
<nav><a href="https://example.com/nav">Nav link</a></nav>
<h1>Main Headline</h1>
<article>
<p>This is the first paragraph of the article, long enough to keep.</p>
<p>Short one.</p>
<p>Contact sales@example.com or support@example.com for pricing at $19.99 and $5.</p>
<aside>Related stuff that should be skipped entirely.</aside>
</article>
<div id="extra" class="box note">Extra box text</div>
<a href="/relative">Relative</a>
<a href="https://example.com/one">One</a>
<a href="https://example.com/empty"></a>
<img src="/a.png" alt="A"><img src="/b.png">
<footer>Footer text</footer>
</body></html>`

func pageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		default:
			w.Header().Set("Content-Type", "text/html")
			io.WriteString(w, testPage)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestWebSearch_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		topics := make([]map[string]string, 0, 8)
		for i := 0; i < 8; i++ {
			topics = append(topics, map[string]string{"Text": "topic", "FirstURL": "https://d.example/t"})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"Abstract":      "Go is a language.",
			"AbstractURL":   "https://go.dev",
			"Answer":        "",
			"RelatedTopics": topics,
		})
	}))
	defer srv.Close()

	ws := NewWebSearchTool(srv.URL+"/", srv.Client())
	res, err := ws.Run(context.Background(), tools.Params{"operation": "search", "query": "golang"})
	require.NoError(t, err)
	assert.Equal(t, "Go is a language.", res["abstract"])
	assert.Equal(t, "https://go.dev", res["abstract_url"])
	assert.Len(t, res["related"], 5)
}

func TestWebSearch_FetchTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Nova")
		io.WriteString(w, strings.Repeat("a", fetchLimit+500))
	}))
	defer srv.Close()

	ws := NewWebSearchTool("", srv.Client())
	res, err := ws.Run(context.Background(), tools.Params{"operation": "fetch", "url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, res["status_code"])
	assert.Len(t, res["content"], fetchLimit)
}

func TestWebSearch_Errors(t *testing.T) {
	ws := NewWebSearchTool("http://127.0.0.1:1/", nil)
	for _, p := range []tools.Params{
		{"operation": "search"},
		{"operation": "fetch"},
		{"operation": "crawl"},
		{"operation": "search", "query": "x"},
	} {
		_, err := ws.Run(context.Background(), p)
		assert.Equal(t, tools.KindToolExecutionError, tools.KindOf(err), "%v", p)
	}
}

func TestWebBrowser_NavigateAndExtract(t *testing.T) {
	srv := pageServer(t)
	b := NewWebBrowserTool(srv.Client())
	ctx := context.Background()

	res, err := b.Run(ctx, tools.Params{"action": "navigate", "url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Nova Test Page", res["title"])
	assert.Equal(t, "A page for tests", res["description"])
	assert.Equal(t, 4, res["links_count"])
	assert.Equal(t, 2, res["images_count"])

	res, err = b.Run(ctx, tools.Params{"action": "extract_links"})
	require.NoError(t, err)
	assert.Equal(t, 2, res["total_count"])

	res, err = b.Run(ctx, tools.Params{"action": "extract_text"})
	require.NoError(t, err)
	text := res["text"].(string)
	assert.Contains(t, text, "Main Headline")
	assert.NotContains(t, text, "script text")
	assert.NotContains(t, text, "Footer text")
	assert.NotContains(t, text, "Site header")

	res, err = b.Run(ctx, tools.Params{"action": "extract_text", "selector": "#extra"})
	require.NoError(t, err)
	assert.Equal(t, "Extra box text", res["text"])
	res, err = b.Run(ctx, tools.Params{"action": "extract_text", "selector": ".note"})
	require.NoError(t, err)
	assert.Equal(t, "Extra box text", res["text"])

	res, err = b.Run(ctx, tools.Params{"action": "extract_data", "data_type": "emails"})
	require.NoError(t, err)
	assert.Equal(t, []any{"sales@example.com", "support@example.com"}, res["results"])

	res, err = b.Run(ctx, tools.Params{"action": "extract_data", "data_type": "prices"})
	require.NoError(t, err)
	assert.Equal(t, []any{"$19.99", "$5"}, res["results"])

	res, err = b.Run(ctx, tools.Params{"action": "extract_data", "data_type": "images"})
	require.NoError(t, err)
	assert.Equal(t, 2, res["count"])

	res, err = b.Run(ctx, tools.Params{"action": "search_page", "query": "EXAMPLE.COM"})
	require.NoError(t, err)
	assert.Equal(t, true, res["found"])
	assert.Equal(t, 2, res["count"])
}

func TestWebBrowser_Article(t *testing.T) {
	srv := pageServer(t)
	b := NewWebBrowserTool(srv.Client())
	res, err := b.Run(context.Background(), tools.Params{"action": "get_article", "url": srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "Main Headline", res["title"])
	content := res["content"].(string)
	assert.Contains(t, content, "first paragraph")
	assert.NotContains(t, content, "Short one.")
	assert.NotContains(t, content, "Related stuff")
	assert.Equal(t, 2, res["paragraphs"])
}

func TestWebBrowser_Errors(t *testing.T) {
	srv := pageServer(t)
	b := NewWebBrowserTool(srv.Client())
	ctx := context.Background()

	_, err := b.Run(ctx, tools.Params{"action": "extract_links"})
	assert.ErrorContains(t, err, "no page loaded")
	_, err = b.Run(ctx, tools.Params{"action": "navigate"})
	assert.ErrorContains(t, err, "url required")
	_, err = b.Run(ctx, tools.Params{"action": "navigate", "url": srv.URL + "/missing"})
	assert.ErrorContains(t, err, "status 404")
	_, err = b.Run(ctx, tools.Params{"action": "extract_data", "url": srv.URL, "data_type": "phones"})
	assert.ErrorContains(t, err, "unknown data_type")
	_, err = b.Run(ctx, tools.Params{"action": "fly"})
	assert.Error(t, err)
}

func TestWebBrowser_StateIsPerInstance(t *testing.T) {
	srv := pageServer(t)
	reg := tools.NewRegistry()
	tools.Discover(reg, Registrations(Deps{HTTPClient: srv.Client()}), nil)
	runner := tools.NewRunner(reg)

	res := runner.Execute(context.Background(), "web_browser", tools.Params{"action": "navigate", "url": srv.URL})
	require.True(t, res.OK, res.Error)
	res = runner.Execute(context.Background(), "web_browser", tools.Params{"action": "extract_links"})
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "no page loaded")
}

func TestGeminiVision(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/"+geminiModel+":generateContent", r.URL.Path)
		assert.Equal(t, "k", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"forty-two"}]}}]}`)
	}))
	defer srv.Close()

	g := NewGeminiVisionTool("k", srv.URL, srv.Client())
	res, err := g.Run(context.Background(), tools.Params{"operation": "ask", "question": "meaning of life?"})
	require.NoError(t, err)
	assert.Equal(t, "forty-two", res["answer"])
	assert.Contains(t, got["contents"], any(map[string]any{"parts": []any{map[string]any{"text": "meaning of life?"}}}))
}

func TestGeminiVision_Errors(t *testing.T) {
	_, err := NewGeminiVisionTool("", "", nil).Run(context.Background(), tools.Params{"operation": "ask", "question": "q"})
	assert.ErrorContains(t, err, "GEMINI_API_KEY")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"API key not valid"}}`)
	}))
	defer srv.Close()
	g := NewGeminiVisionTool("bad", srv.URL, srv.Client())
	_, err = g.Run(context.Background(), tools.Params{"operation": "ask", "question": "q"})
	assert.ErrorContains(t, err, "API key not valid")

	_, err = g.Run(context.Background(), tools.Params{"operation": "analyze_image"})
	assert.ErrorContains(t, err, "image_path or image_url")
}
