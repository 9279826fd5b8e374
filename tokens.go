package loom

import "unicode/utf8"

// Token estimation is heuristic. The counts only gate compression
// triggers, so they must be cheap, deterministic and monotone in
// content length rather than provider-accurate.
const (
	tokenMessageOverhead = 4
	tokenToolOverhead    = 10
	tokenImageFlat       = 1600
)

// textTokens approximates prose at 2.5 characters per token, rounded up.
func textTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s)*2 + 4) / 5
}

// thinkingTokens approximates reasoning text at 3 characters per token,
// rounded up.
func thinkingTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 2) / 3
}

// EstimateTokens approximates the prompt cost of a message slice. An
// empty message still costs the per-message overhead.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += estimateMessage(m)
	}
	return total
}

func estimateMessage(m Message) int {
	total := tokenMessageOverhead + textTokens(m.Name)
	for _, b := range m.Content {
		total += blockTokens(b)
	}
	return total
}

func blockTokens(b ContentBlock) int {
	switch v := b.(type) {
	case TextBlock:
		return textTokens(v.Text)
	case ThinkingBlock:
		return thinkingTokens(v.Thinking)
	case ToolUseBlock:
		return tokenToolOverhead + textTokens(v.Name) + textTokens(string(v.Arguments()))
	case ToolResultBlock:
		total := tokenToolOverhead + textTokens(v.Name)
		for _, ob := range v.Output {
			total += blockTokens(ob)
		}
		return total
	case ImageBlock:
		return tokenImageFlat
	default:
		return 0
	}
}

// MessagesCharCount sums MessageCharCount over a slice.
func MessagesCharCount(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += MessageCharCount(m)
	}
	return total
}

// MessageCharCount counts the content runes of a message. Ids, roles
// and metadata do not count; an empty message counts zero.
func MessageCharCount(m Message) int {
	total := 0
	for _, b := range m.Content {
		total += blockCharCount(b)
	}
	return total
}

func blockCharCount(b ContentBlock) int {
	switch v := b.(type) {
	case TextBlock:
		return utf8.RuneCountInString(v.Text)
	case ThinkingBlock:
		return utf8.RuneCountInString(v.Thinking)
	case ToolUseBlock:
		return utf8.RuneCountInString(v.Name) + utf8.RuneCountInString(string(v.Arguments()))
	case ToolResultBlock:
		total := utf8.RuneCountInString(v.Name)
		for _, ob := range v.Output {
			total += blockCharCount(ob)
		}
		return total
	case ImageBlock:
		return len(v.Source.Data) + len(v.Source.URL)
	default:
		return 0
	}
}
