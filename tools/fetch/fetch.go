// Package fetch provides an HTTP GET tool for agents.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loomlabs/loom"
)

const (
	maxBody    = 1 << 20
	maxContent = 8000
)

// Tool fetches URLs and returns their text content.
type Tool struct {
	client *http.Client
}

// Option configures a Tool.
type Option func(*Tool)

// WithClient replaces the default HTTP client.
func WithClient(c *http.Client) Option {
	return func(t *Tool) { t.client = c }
}

// New creates a fetch tool with a 15-second timeout.
func New(opts ...Option) *Tool {
	t := &Tool{client: &http.Client{Timeout: 15 * time.Second}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ loom.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []loom.ToolDefinition {
	return []loom.ToolDefinition{{
		Name:        "fetch_url",
		Description: "Fetch a URL and return its text content. Use for reading web pages, articles, documentation.",
		Parameters:  json.RawMessage(`{"type":"object","properties":{"url":{"type":"string","description":"URL to fetch"}},"required":["url"]}`),
	}}
}

func (t *Tool) Invoke(ctx context.Context, name string, input map[string]any) ([]loom.Message, error) {
	rawURL, _ := input["url"].(string)
	if rawURL == "" {
		return nil, &loom.ErrTool{Name: name, Message: "url is required"}
	}
	content, err := t.fetch(ctx, rawURL)
	if err != nil {
		return nil, &loom.ErrTool{Name: name, Message: err.Error()}
	}
	if len(content) > maxContent {
		content = content[:maxContent] + "\n... (truncated)"
	}
	return []loom.Message{loom.NewMessage(loom.RoleTool, loom.TextBlock{Text: content})}, nil
}

func (t *Tool) fetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; LoomBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", fmt.Errorf("read error: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}
