package openaicompat

import (
	"encoding/base64"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loomlabs/loom"
)

func formatOne(t *testing.T, m loom.Message) []Message {
	t.Helper()
	raws, err := New().Format([]loom.Message{m})
	if err != nil {
		t.Fatal(err)
	}
	wires := make([]Message, len(raws))
	for i, raw := range raws {
		if err := json.Unmarshal(raw, &wires[i]); err != nil {
			t.Fatal(err)
		}
	}
	return wires
}

func TestFormatRoles(t *testing.T) {
	raws, err := New().Format([]loom.Message{
		loom.SystemMessage("be brief"),
		loom.UserMessage("hi"),
		loom.AssistantMessage("hello"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 3 {
		t.Fatalf("got %d wire messages, want 3", len(raws))
	}

	wantRoles := []string{"system", "user", "assistant"}
	wantText := []string{"be brief", "hi", "hello"}
	for i, raw := range raws {
		var wire Message
		if err := json.Unmarshal(raw, &wire); err != nil {
			t.Fatal(err)
		}
		if wire.Role != wantRoles[i] {
			t.Errorf("message %d role = %q, want %q", i, wire.Role, wantRoles[i])
		}
		if wire.Content != wantText[i] {
			t.Errorf("message %d content = %v, want %q", i, wire.Content, wantText[i])
		}
	}
}

func TestFormatAssistantToolCalls(t *testing.T) {
	m := loom.NewMessage(loom.RoleAssistant,
		loom.TextBlock{Text: "checking"},
		loom.ToolUseBlock{ID: "c1", Name: "search", RawInput: json.RawMessage(`{"q":"go"}`)},
	)

	wires := formatOne(t, m)
	if len(wires) != 1 {
		t.Fatalf("got %d wire messages, want 1", len(wires))
	}
	wire := wires[0]
	if wire.Content != "checking" {
		t.Errorf("content = %v, want checking", wire.Content)
	}
	if len(wire.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(wire.ToolCalls))
	}
	call := wire.ToolCalls[0]
	if call.ID != "c1" || call.Type != "function" {
		t.Errorf("call = %q/%q, want c1/function", call.ID, call.Type)
	}
	if call.Function.Name != "search" || call.Function.Arguments != `{"q":"go"}` {
		t.Errorf("function = %q(%s)", call.Function.Name, call.Function.Arguments)
	}
}

func TestFormatToolResultsFanOut(t *testing.T) {
	m := loom.NewMessage(loom.RoleTool,
		loom.ToolResultBlock{ID: "c1", Name: "search", Output: []loom.ContentBlock{
			loom.TextBlock{Text: "row one"},
			loom.TextBlock{Text: "row two"},
		}},
		loom.ToolResultBlock{ID: "c2", Name: "fetch", Output: []loom.ContentBlock{
			loom.TextBlock{Text: "body"},
		}},
	)

	wires := formatOne(t, m)
	if len(wires) != 2 {
		t.Fatalf("got %d wire messages, want 2", len(wires))
	}
	if wires[0].ToolCallID != "c1" || wires[0].Content != "row one\nrow two" {
		t.Errorf("first result = %q %v", wires[0].ToolCallID, wires[0].Content)
	}
	if wires[0].Role != "tool" || wires[0].Name != "search" {
		t.Errorf("first result role/name = %q/%q", wires[0].Role, wires[0].Name)
	}
	if wires[1].ToolCallID != "c2" || wires[1].Content != "body" {
		t.Errorf("second result = %q %v", wires[1].ToolCallID, wires[1].Content)
	}
}

func TestFormatToolMessageWithoutResults(t *testing.T) {
	wires := formatOne(t, loom.NewMessage(loom.RoleTool, loom.TextBlock{Text: "raw text"}))

	if len(wires) != 1 {
		t.Fatalf("got %d wire messages, want 1", len(wires))
	}
	if wires[0].Role != "tool" || wires[0].Content != "raw text" {
		t.Errorf("wire = %q %v", wires[0].Role, wires[0].Content)
	}
	if wires[0].ToolCallID != "" {
		t.Errorf("tool_call_id = %q, want empty", wires[0].ToolCallID)
	}
}

func TestFormatDropsThinking(t *testing.T) {
	m := loom.NewMessage(loom.RoleAssistant,
		loom.ThinkingBlock{Thinking: "secret chain"},
		loom.TextBlock{Text: "clean answer"},
	)

	raws, err := New().Format([]loom.Message{m})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raws[0]), "secret chain") {
		t.Error("thinking content leaked onto the wire")
	}
	var wire Message
	if err := json.Unmarshal(raws[0], &wire); err != nil {
		t.Fatal(err)
	}
	if wire.Content != "clean answer" {
		t.Errorf("content = %v, want clean answer", wire.Content)
	}
}

func TestFormatInlineImage(t *testing.T) {
	m := loom.NewMessage(loom.RoleUser,
		loom.TextBlock{Text: "what is this"},
		loom.Base64Image("image/png", "AAAA"),
	)

	raws, err := New().Format([]loom.Message{m})
	if err != nil {
		t.Fatal(err)
	}
	var wire struct {
		Content []ContentBlock `json:"content"`
	}
	if err := json.Unmarshal(raws[0], &wire); err != nil {
		t.Fatal(err)
	}
	if len(wire.Content) != 2 {
		t.Fatalf("got %d blocks, want 2", len(wire.Content))
	}
	if wire.Content[0].Type != "text" || wire.Content[0].Text != "what is this" {
		t.Errorf("block 0 = %+v", wire.Content[0])
	}
	if wire.Content[1].Type != "image_url" {
		t.Fatalf("block 1 type = %q, want image_url", wire.Content[1].Type)
	}
	if got := wire.Content[1].ImageURL.URL; got != "data:image/png;base64,AAAA" {
		t.Errorf("image url = %q", got)
	}
}

func TestFormatTextOnlyUserStaysString(t *testing.T) {
	raws, err := New().Format([]loom.Message{loom.UserMessage("plain")})
	if err != nil {
		t.Fatal(err)
	}
	var wire struct {
		Content any `json:"content"`
	}
	if err := json.Unmarshal(raws[0], &wire); err != nil {
		t.Fatal(err)
	}
	if _, ok := wire.Content.(string); !ok {
		t.Errorf("content is %T, want string", wire.Content)
	}
}

func TestImageURLPassthrough(t *testing.T) {
	tests := []string{
		"https://example.com/cat.png",
		"http://example.com/cat.png",
		"data:image/png;base64,AAAA",
	}
	for _, url := range tests {
		got, err := imageURL(loom.URLImage(url).Source)
		if err != nil {
			t.Fatal(err)
		}
		if got != url {
			t.Errorf("imageURL(%q) = %q, want passthrough", url, got)
		}
	}
}

func TestImageURLInlinesLocalFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shot.png")
	payload := []byte{0x89, 'P', 'N', 'G'}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := imageURL(loom.URLImage(path).Source)
	if err != nil {
		t.Fatal(err)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(payload)
	if got != want {
		t.Errorf("imageURL = %q, want %q", got, want)
	}
}

func TestImageURLErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		want string
	}{
		{"unsupported extension", "diagram.bmp", "unsupported image extension"},
		{"missing file", filepath.Join(t.TempDir(), "gone.png"), "read image"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := imageURL(loom.URLImage(tt.path).Source)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestMediaTypeFor(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"a.png", "image/png"},
		{"a.jpg", "image/jpeg"},
		{"a.JPEG", "image/jpeg"},
		{"a.webp", "image/webp"},
		{"a.gif", "image/gif"},
	}
	for _, tt := range tests {
		got, err := mediaTypeFor(tt.path)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("mediaTypeFor(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestToolDefs(t *testing.T) {
	defs := ToolDefs([]loom.ToolDefinition{
		{Name: "search", Description: "Searches the index.", Parameters: json.RawMessage(`{"type":"object"}`)},
		{Name: "noop"},
	})

	if len(defs) != 2 {
		t.Fatalf("got %d tools, want 2", len(defs))
	}
	if defs[0].Type != "function" || defs[0].Function.Name != "search" {
		t.Errorf("tool 0 = %+v", defs[0])
	}
	if string(defs[0].Function.Parameters) != `{"type":"object"}` {
		t.Errorf("parameters = %s", defs[0].Function.Parameters)
	}
	if string(defs[1].Function.Parameters) != `{}` {
		t.Errorf("empty parameters = %s, want {}", defs[1].Function.Parameters)
	}
}
