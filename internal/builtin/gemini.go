package builtin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/stellarlinkco/nova/internal/config"
	"github.com/stellarlinkco/nova/internal/tools"
)

const (
	geminiModel        = "gemini-2.0-flash"
	geminiTimeout      = 30 * time.Second
	geminiVideoTimeout = 60 * time.Second
	maxImageBytes      = 20 << 20
)

// GeminiVisionTool sends images, videos and questions to the Gemini
// generateContent API.
type GeminiVisionTool struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewGeminiVisionTool(apiKey, baseURL string, client *http.Client) *GeminiVisionTool {
	if baseURL == "" {
		baseURL = config.DefaultGeminiBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &GeminiVisionTool{apiKey: apiKey, baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *GeminiVisionTool) Name() string { return "gemini_vision" }
func (t *GeminiVisionTool) Description() string {
	return "Analyze images, videos, or ask Gemini questions"
}

func (t *GeminiVisionTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation":  map[string]any{"type": "string", "enum": []any{"analyze_image", "analyze_video", "ask"}},
			"image_path": map[string]any{"type": "string"},
			"image_url":  map[string]any{"type": "string"},
			"video_url":  map[string]any{"type": "string"},
			"prompt":     map[string]any{"type": "string"},
			"question":   map[string]any{"type": "string"},
		},
		"required": []any{"operation"},
	}
}

func (t *GeminiVisionTool) Run(ctx context.Context, params tools.Params) (tools.Result, error) {
	if t.apiKey == "" {
		return nil, tools.Errorf("GEMINI_API_KEY not set")
	}
	op, err := params.RequireString("operation")
	if err != nil {
		return nil, err
	}
	prompt, _, _ := params.String("prompt")

	switch op {
	case "analyze_image":
		if prompt == "" {
			prompt = "Describe this image in detail"
		}
		data, source, err := t.imageBytes(ctx, params)
		if err != nil {
			return nil, err
		}
		parts := []any{
			map[string]any{"text": prompt},
			map[string]any{"inline_data": map[string]any{
				"mime_type": http.DetectContentType(data),
				"data":      base64.StdEncoding.EncodeToString(data),
			}},
		}
		text, err := t.generate(ctx, parts, geminiTimeout)
		if err != nil {
			return nil, err
		}
		return tools.Result{"analysis": text, "source": source, "model": geminiModel}, nil

	case "analyze_video":
		videoURL, err := params.RequireString("video_url")
		if err != nil {
			return nil, err
		}
		if prompt == "" {
			prompt = "Describe what happens in this video"
		}
		parts := []any{
			map[string]any{"text": prompt},
			map[string]any{"file_data": map[string]any{"file_uri": videoURL, "mime_type": "video/mp4"}},
		}
		text, err := t.generate(ctx, parts, geminiVideoTimeout)
		if err != nil {
			return nil, err
		}
		return tools.Result{"analysis": text, "video_url": videoURL, "model": geminiModel}, nil

	case "ask":
		question, err := params.RequireString("question")
		if err != nil {
			return nil, err
		}
		text, err := t.generate(ctx, []any{map[string]any{"text": question}}, geminiTimeout)
		if err != nil {
			return nil, err
		}
		return tools.Result{"answer": text, "model": geminiModel}, nil
	}
	return nil, tools.Errorf("unknown operation: %s", op)
}

func (t *GeminiVisionTool) imageBytes(ctx context.Context, params tools.Params) ([]byte, string, error) {
	if path, ok, _ := params.String("image_path"); ok && path != "" {
		data, err := os.ReadFile(config.ExpandHome(path))
		if err != nil {
			return nil, "", tools.Errorf("read image: %w", err)
		}
		return data, "file", nil
	}
	if u, ok, _ := params.String("image_url"); ok && u != "" {
		status, data, err := get(ctx, t.client, u)
		if err != nil {
			return nil, "", tools.Errorf("download image: %w", err)
		}
		if status >= http.StatusBadRequest {
			return nil, "", tools.Errorf("download image: status %d", status)
		}
		if len(data) > maxImageBytes {
			return nil, "", tools.Errorf("image exceeds %d bytes", maxImageBytes)
		}
		return data, "url", nil
	}
	return nil, "", tools.Errorf("provide either image_path or image_url")
}

func (t *GeminiVisionTool) generate(ctx context.Context, parts []any, timeout time.Duration) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"contents": []any{map[string]any{"parts": parts}},
	})
	if err != nil {
		return "", tools.Errorf("encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	endpoint := t.baseURL + "/models/" + geminiModel + ":generateContent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", tools.Errorf("gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", tools.Errorf("gemini API error: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return "", tools.Errorf("gemini API error: %w", err)
	}

	parsed := gjson.ParseBytes(body)
	if msg := parsed.Get("error.message"); msg.Exists() {
		return "", tools.Errorf("gemini API error: %s", msg.String())
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", tools.Errorf("gemini API error: status %d", resp.StatusCode)
	}
	text := parsed.Get("candidates.0.content.parts.0.text")
	if !text.Exists() {
		return "", tools.Errorf("gemini API error: response has no candidate text")
	}
	return text.String(), nil
}
