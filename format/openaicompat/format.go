package openaicompat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loomlabs/loom"
)

// Formatter implements loom.Formatter for the OpenAI chat dialect.
// The zero value is ready to use.
type Formatter struct{}

var _ loom.Formatter = (*Formatter)(nil)

// New returns a ready Formatter.
func New() *Formatter {
	return &Formatter{}
}

// Format converts a conversation into OpenAI chat messages, one JSON
// document per message. Thinking blocks never travel back to the
// vendor; a tool message expands into one wire message per tool result
// so tool_call_id stays one-to-one.
func (f *Formatter) Format(messages []loom.Message) ([]json.RawMessage, error) {
	var out []json.RawMessage
	for _, m := range messages {
		wires, err := formatMessage(m)
		if err != nil {
			return nil, err
		}
		for _, wire := range wires {
			raw, err := json.Marshal(wire)
			if err != nil {
				return nil, err
			}
			out = append(out, raw)
		}
	}
	return out, nil
}

func formatMessage(m loom.Message) ([]Message, error) {
	switch m.Role {
	case loom.RoleSystem:
		return []Message{{Role: "system", Content: m.Text(), Name: m.Name}}, nil

	case loom.RoleTool:
		results := m.ToolResults()
		if len(results) == 0 {
			// tool message without a result block degrades to plain text
			return []Message{{Role: "tool", Content: m.Text(), Name: m.Name}}, nil
		}
		msgs := make([]Message, 0, len(results))
		for _, r := range results {
			msgs = append(msgs, Message{
				Role:       "tool",
				Content:    resultText(r),
				ToolCallID: r.ID,
				Name:       r.Name,
			})
		}
		return msgs, nil

	case loom.RoleAssistant:
		msg := Message{Role: "assistant", Content: m.Text(), Name: m.Name}
		for _, use := range m.ToolUses() {
			msg.ToolCalls = append(msg.ToolCalls, ToolCallRequest{
				ID:   use.ID,
				Type: "function",
				Function: FunctionCall{
					Name:      use.Name,
					Arguments: string(use.Arguments()),
				},
			})
		}
		return []Message{msg}, nil

	default: // user
		blocks, hasMedia, err := contentBlocks(m)
		if err != nil {
			return nil, err
		}
		if !hasMedia {
			return []Message{{Role: "user", Content: m.Text(), Name: m.Name}}, nil
		}
		return []Message{{Role: "user", Content: blocks, Name: m.Name}}, nil
	}
}

// contentBlocks renders a user message as typed blocks. hasMedia
// reports whether any image is present; text-only messages go out as a
// plain string instead.
func contentBlocks(m loom.Message) ([]ContentBlock, bool, error) {
	var blocks []ContentBlock
	hasMedia := false
	for _, b := range m.Content {
		switch v := b.(type) {
		case loom.TextBlock:
			blocks = append(blocks, ContentBlock{Type: "text", Text: v.Text})
		case loom.ImageBlock:
			url, err := imageURL(v.Source)
			if err != nil {
				return nil, false, err
			}
			blocks = append(blocks, ContentBlock{Type: "image_url", ImageURL: &ImageURL{URL: url}})
			hasMedia = true
		}
	}
	return blocks, hasMedia, nil
}

// imageURL resolves an image source to something the vendor accepts.
// Inline data becomes a data URI. Remote URLs and data URIs pass
// through untouched; anything else is treated as a local file path,
// read, and inlined with the media type inferred from its extension.
func imageURL(src loom.ImageSource) (string, error) {
	if src.Kind == loom.ImageSourceBase64 {
		return "data:" + src.MediaType + ";base64," + src.Data, nil
	}
	url := src.URL
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") || strings.HasPrefix(url, "data:") {
		return url, nil
	}
	mediaType, err := mediaTypeFor(url)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(url)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", url, err)
	}
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func mediaTypeFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png", nil
	case ".jpg", ".jpeg":
		return "image/jpeg", nil
	case ".webp":
		return "image/webp", nil
	case ".gif":
		return "image/gif", nil
	default:
		return "", fmt.Errorf("unsupported image extension in %s", path)
	}
}

func resultText(r loom.ToolResultBlock) string {
	var parts []string
	for _, b := range r.Output {
		if tb, ok := b.(loom.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolDefs converts loom tool definitions to the OpenAI tool format,
// for model implementations assembling a full request body.
func ToolDefs(tools []loom.ToolDefinition) []Tool {
	out := make([]Tool, 0, len(tools))
	for _, t := range tools {
		params := t.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{}`)
		}
		out = append(out, Tool{
			Type: "function",
			Function: Function{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}
