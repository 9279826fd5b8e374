package loom

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ContentBlock is one typed unit of message content. The concrete types
// are TextBlock, ThinkingBlock, ToolUseBlock, ToolResultBlock and
// ImageBlock; the set is closed.
type ContentBlock interface {
	isContentBlock()
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

func (TextBlock) isContentBlock() {}

// ThinkingBlock carries model reasoning that is kept out of the final
// answer surface.
type ThinkingBlock struct {
	Thinking string
}

func (ThinkingBlock) isContentBlock() {}

// ToolUseBlock is a model request to invoke a tool. Input holds the
// decoded arguments; RawInput preserves the provider's verbatim JSON
// when it is available.
type ToolUseBlock struct {
	ID       string
	Name     string
	Input    map[string]any
	RawInput json.RawMessage
}

func (ToolUseBlock) isContentBlock() {}

// Arguments returns the tool arguments as JSON, preferring the verbatim
// provider payload over a re-encoding of the decoded map.
func (b ToolUseBlock) Arguments() json.RawMessage {
	if len(b.RawInput) > 0 {
		return b.RawInput
	}
	if len(b.Input) > 0 {
		if raw, err := json.Marshal(b.Input); err == nil {
			return raw
		}
	}
	return json.RawMessage("{}")
}

// ToolResultBlock carries the outcome of one tool invocation. ID matches
// the ToolUseBlock that requested it.
type ToolResultBlock struct {
	ID     string
	Name   string
	Output []ContentBlock
}

func (ToolResultBlock) isContentBlock() {}

// ImageSourceKind discriminates how image bytes are referenced.
type ImageSourceKind string

const (
	ImageSourceBase64 ImageSourceKind = "base64"
	ImageSourceURL    ImageSourceKind = "url"
)

// ImageSource points at image data either inline (base64) or by URL.
type ImageSource struct {
	Kind      ImageSourceKind
	MediaType string
	Data      string
	URL       string
}

// ImageBlock is image content.
type ImageBlock struct {
	Source ImageSource
}

func (ImageBlock) isContentBlock() {}

// Base64Image builds an ImageBlock from inline base64 data.
func Base64Image(mediaType, data string) ImageBlock {
	return ImageBlock{Source: ImageSource{Kind: ImageSourceBase64, MediaType: mediaType, Data: data}}
}

// URLImage builds an ImageBlock referencing a remote image.
func URLImage(url string) ImageBlock {
	return ImageBlock{Source: ImageSource{Kind: ImageSourceURL, URL: url}}
}

// Message is one entry in a conversation. Messages are treated as
// immutable once appended to a log; mutating helpers return copies.
type Message struct {
	ID       string
	Role     Role
	Name     string
	Content  []ContentBlock
	Metadata map[string]string
}

// NewMessage builds a message with a fresh id.
func NewMessage(role Role, blocks ...ContentBlock) Message {
	return Message{ID: NewID(), Role: role, Content: blocks}
}

// UserMessage builds a user message with a single text block.
func UserMessage(text string) Message {
	return NewMessage(RoleUser, TextBlock{Text: text})
}

// SystemMessage builds a system message with a single text block.
func SystemMessage(text string) Message {
	return NewMessage(RoleSystem, TextBlock{Text: text})
}

// AssistantMessage builds an assistant message with a single text block.
func AssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, TextBlock{Text: text})
}

// ToolMessage builds a tool message holding one tool result.
func ToolMessage(toolUseID, name string, output ...ContentBlock) Message {
	return NewMessage(RoleTool, ToolResultBlock{ID: toolUseID, Name: name, Output: output})
}

// Text joins the message's text blocks with newlines. Thinking, tool and
// image blocks are excluded.
func (m Message) Text() string {
	var parts []string
	for _, b := range m.Content {
		if t, ok := b.(TextBlock); ok {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Thinking joins the message's thinking blocks with newlines.
func (m Message) Thinking() string {
	var parts []string
	for _, b := range m.Content {
		if t, ok := b.(ThinkingBlock); ok {
			parts = append(parts, t.Thinking)
		}
	}
	return strings.Join(parts, "\n")
}

// ToolUses returns the tool-use blocks in content order.
func (m Message) ToolUses() []ToolUseBlock {
	var uses []ToolUseBlock
	for _, b := range m.Content {
		if u, ok := b.(ToolUseBlock); ok {
			uses = append(uses, u)
		}
	}
	return uses
}

// ToolResults returns the tool-result blocks in content order.
func (m Message) ToolResults() []ToolResultBlock {
	var results []ToolResultBlock
	for _, b := range m.Content {
		if r, ok := b.(ToolResultBlock); ok {
			results = append(results, r)
		}
	}
	return results
}

// WithMetadata returns a copy of the message with key set. The original
// message and its metadata map are left untouched.
func (m Message) WithMetadata(key, value string) Message {
	meta := make(map[string]string, len(m.Metadata)+1)
	for k, v := range m.Metadata {
		meta[k] = v
	}
	meta[key] = value
	m.Metadata = meta
	return m
}

// meta reads a metadata key, tolerating a nil map.
func (m Message) meta(key string) string {
	if m.Metadata == nil {
		return ""
	}
	return m.Metadata[key]
}

const (
	blockTypeText       = "text"
	blockTypeThinking   = "thinking"
	blockTypeToolUse    = "tool_use"
	blockTypeToolResult = "tool_result"
	blockTypeImage      = "image"
)

// blockEnvelope is the wire shape for a content block. A single struct
// with a type discriminator keeps the codec in one place.
type blockEnvelope struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	RawInput  json.RawMessage `json:"raw_input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Output    []blockEnvelope `json:"output,omitempty"`
	Source    *ImageSource    `json:"source,omitempty"`
}

func toEnvelope(b ContentBlock) (blockEnvelope, error) {
	switch v := b.(type) {
	case TextBlock:
		return blockEnvelope{Type: blockTypeText, Text: v.Text}, nil
	case ThinkingBlock:
		return blockEnvelope{Type: blockTypeThinking, Thinking: v.Thinking}, nil
	case ToolUseBlock:
		return blockEnvelope{Type: blockTypeToolUse, ID: v.ID, Name: v.Name, Input: v.Input, RawInput: v.RawInput}, nil
	case ToolResultBlock:
		out := make([]blockEnvelope, 0, len(v.Output))
		for _, ob := range v.Output {
			env, err := toEnvelope(ob)
			if err != nil {
				return blockEnvelope{}, err
			}
			out = append(out, env)
		}
		return blockEnvelope{Type: blockTypeToolResult, ToolUseID: v.ID, Name: v.Name, Output: out}, nil
	case ImageBlock:
		src := v.Source
		return blockEnvelope{Type: blockTypeImage, Source: &src}, nil
	default:
		return blockEnvelope{}, fmt.Errorf("unsupported content block %T", b)
	}
}

func fromEnvelope(env blockEnvelope) (ContentBlock, error) {
	switch env.Type {
	case blockTypeText:
		return TextBlock{Text: env.Text}, nil
	case blockTypeThinking:
		return ThinkingBlock{Thinking: env.Thinking}, nil
	case blockTypeToolUse:
		return ToolUseBlock{ID: env.ID, Name: env.Name, Input: env.Input, RawInput: env.RawInput}, nil
	case blockTypeToolResult:
		out := make([]ContentBlock, 0, len(env.Output))
		for _, oe := range env.Output {
			b, err := fromEnvelope(oe)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
		return ToolResultBlock{ID: env.ToolUseID, Name: env.Name, Output: out}, nil
	case blockTypeImage:
		if env.Source == nil {
			return nil, fmt.Errorf("image block missing source")
		}
		return ImageBlock{Source: *env.Source}, nil
	default:
		return nil, fmt.Errorf("unknown content block type %q", env.Type)
	}
}

type messageEnvelope struct {
	ID       string            `json:"id"`
	Role     Role              `json:"role"`
	Name     string            `json:"name,omitempty"`
	Content  []blockEnvelope   `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// MarshalJSON encodes the message with a type discriminator per block.
func (m Message) MarshalJSON() ([]byte, error) {
	env := messageEnvelope{ID: m.ID, Role: m.Role, Name: m.Name, Metadata: m.Metadata}
	env.Content = make([]blockEnvelope, 0, len(m.Content))
	for _, b := range m.Content {
		be, err := toEnvelope(b)
		if err != nil {
			return nil, err
		}
		env.Content = append(env.Content, be)
	}
	return json.Marshal(env)
}

// UnmarshalJSON decodes a message, rejecting unknown block types.
func (m *Message) UnmarshalJSON(data []byte) error {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	out := Message{ID: env.ID, Role: env.Role, Name: env.Name, Metadata: env.Metadata}
	out.Content = make([]ContentBlock, 0, len(env.Content))
	for _, be := range env.Content {
		b, err := fromEnvelope(be)
		if err != nil {
			return err
		}
		out.Content = append(out.Content, b)
	}
	*m = out
	return nil
}
