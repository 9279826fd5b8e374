package loom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Metadata keys and tags marking compression artifacts in the working
// set. Tagged messages are never selected for compression again.
const (
	metaTag    = "compression"
	metaHandle = "offload_handle"

	tagToolRunSummary      = "tool_invocation_summary"
	tagConversationSummary = "conversation_summary"
	tagCompressedLarge     = "compressed_large_message"
	tagCompressedRound     = "compressed_current_round"
	tagOffloadPlaceholder  = "offload_placeholder"
)

func (m *AutoContextMemory) needsCompression() bool {
	if m.working.Len() <= m.msgThreshold {
		return false
	}
	return float64(EstimateTokens(m.working.messages)) > m.tokenRatio*float64(m.maxTokens)
}

// compressOnce applies the first applicable strategy and reports
// whether the working set was rewritten. Callers re-evaluate the
// budget after every rewrite.
func (m *AutoContextMemory) compressOnce(ctx context.Context) bool {
	strategies := []func(context.Context) bool{
		m.compressToolRun,
		m.offloadPreviousLarge,
		m.offloadCurrentLarge,
		m.summarizePreviousRounds,
		m.summarizeLargeMessage,
		m.collapseCurrentRound,
	}
	for _, strategy := range strategies {
		if strategy(ctx) {
			return true
		}
	}
	return false
}

// protectedFrom is the first index of the verbatim tail window.
func (m *AutoContextMemory) protectedFrom() int {
	n := m.working.Len() - m.lastKeep
	if n < 0 {
		return 0
	}
	return n
}

func latestIndex(msgs []Message, role Role) int {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == role {
			return i
		}
	}
	return -1
}

// isToolTraffic reports whether a message belongs to a tool exchange:
// an assistant message requesting tools or a tool message answering.
func isToolTraffic(m Message) bool {
	if m.Role == RoleTool {
		return true
	}
	return m.Role == RoleAssistant && len(m.ToolUses()) > 0
}

func isCompressionArtifact(m Message) bool {
	return m.meta(metaTag) != ""
}

// offloadable reports whether a message may be detached from the
// working set: oversize, not an artifact, and not load-bearing for
// role pairing. System messages and pending tool requests stay.
func (m *AutoContextMemory) offloadable(msg Message) bool {
	if isCompressionArtifact(msg) {
		return false
	}
	if msg.Role == RoleSystem {
		return false
	}
	if msg.Role == RoleAssistant && len(msg.ToolUses()) > 0 {
		return false
	}
	return MessageCharCount(msg) > m.largePayload
}

// compressToolRun summarizes the longest consecutive tool exchange
// that completed before the latest user message.
func (m *AutoContextMemory) compressToolRun(ctx context.Context) bool {
	if m.model == nil {
		return false
	}
	msgs := m.working.messages
	lu := latestIndex(msgs, RoleUser)
	if lu < 0 {
		return false
	}
	limit := min(lu, m.protectedFrom())

	bestStart, bestLen := -1, 0
	start := -1
	for i := 0; i <= limit; i++ {
		if i < limit && isToolTraffic(msgs[i]) && !isCompressionArtifact(msgs[i]) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start < 0 {
			continue
		}
		end := i - 1
		// keep a trailing tool request paired with results beyond the run
		for end >= start && msgs[end].Role == RoleAssistant && len(msgs[end].ToolUses()) > 0 {
			end--
		}
		if runLen := end - start + 1; runLen >= m.minToolRun && runLen > bestLen {
			bestStart, bestLen = start, runLen
		}
		start = -1
	}
	if bestStart < 0 {
		return false
	}
	bestEnd := bestStart + bestLen - 1

	span := msgs[bestStart : bestEnd+1]
	summary, err := m.summarize(ctx, m.prompts.ToolInvocation, span)
	if err != nil {
		m.recordFailure(CompressionToolInvocation, err)
		return false
	}
	handle := m.offloadStore(span)
	replacement := NewMessage(RoleAssistant, TextBlock{Text: summary + reloadHint("Full tool transcript", handle)}).
		WithMetadata(metaTag, tagToolRunSummary).
		WithMetadata(metaHandle, handle)
	m.rewrite(CompressionToolInvocation, bestStart, bestEnd, replacement, handle)
	return true
}

// offloadPreviousLarge swaps one oversize message from an earlier
// round for a short placeholder. No model involved.
func (m *AutoContextMemory) offloadPreviousLarge(_ context.Context) bool {
	msgs := m.working.messages
	la := latestIndex(msgs, RoleAssistant)
	if la < 0 {
		return false
	}
	limit := min(la, m.protectedFrom())
	if lu := latestIndex(msgs, RoleUser); lu >= 0 {
		limit = min(limit, lu)
	}
	for i := 0; i < limit; i++ {
		if m.offloadable(msgs[i]) {
			return m.offloadAt(i)
		}
	}
	return false
}

// offloadCurrentLarge is offloadPreviousLarge for the round in
// progress: oversize messages between the latest user message and the
// latest assistant reply.
func (m *AutoContextMemory) offloadCurrentLarge(_ context.Context) bool {
	msgs := m.working.messages
	lu := latestIndex(msgs, RoleUser)
	la := latestIndex(msgs, RoleAssistant)
	if lu < 0 || la <= lu {
		return false
	}
	limit := min(la, m.protectedFrom())
	for i := lu + 1; i < limit; i++ {
		if m.offloadable(msgs[i]) {
			return m.offloadAt(i)
		}
	}
	return false
}

func (m *AutoContextMemory) offloadAt(i int) bool {
	src := m.working.messages[i]
	handle := m.offloadStore([]Message{src})
	text := fmt.Sprintf("[%d characters offloaded under uuid:%s. Call reload_messages with that uuid to restore the content.]",
		MessageCharCount(src), handle)
	m.rewrite(CompressionLargePayloadOffload, i, i, replacementFor(src, text, tagOffloadPlaceholder, handle), handle)
	return true
}

type roundSpan struct {
	start, end int
}

// roundSpans finds completed rounds before the latest user message
// whose closing assistant reply was not adjacent to the opening user
// message. Trailing tool results are absorbed into the span; rounds
// reaching into the protected tail are skipped.
func roundSpans(msgs []Message, latestUser, limit int) []roundSpan {
	var spans []roundSpan
	for u := 0; u < latestUser; u++ {
		if msgs[u].Role != RoleUser {
			continue
		}
		next := u + 1
		for next < len(msgs) && msgs[next].Role != RoleUser {
			next++
		}
		a := -1
		for j := u + 1; j < next; j++ {
			if msgs[j].Role == RoleAssistant {
				a = j
			}
		}
		if a > u+1 {
			end := a
			for end+1 < next && msgs[end+1].Role == RoleTool {
				end++
			}
			if end < limit {
				spans = append(spans, roundSpan{start: u, end: end})
			}
		}
		u = next - 1
	}
	return spans
}

// summarizePreviousRounds folds every completed exchange that needed
// tool work into one summary message each. Pairs are processed newest
// first so the indices of earlier pairs stay valid.
func (m *AutoContextMemory) summarizePreviousRounds(ctx context.Context) bool {
	if m.model == nil {
		return false
	}
	msgs := m.working.messages
	lu := latestIndex(msgs, RoleUser)
	if lu < 0 {
		return false
	}
	limit := min(lu, m.protectedFrom())
	pairs := roundSpans(msgs, lu, limit)
	if len(pairs) == 0 {
		return false
	}

	rewrote := false
	for i := len(pairs) - 1; i >= 0; i-- {
		p := pairs[i]
		span := m.working.messages[p.start : p.end+1]
		summary, err := m.summarize(ctx, m.prompts.PreviousRound, span)
		if err != nil {
			m.recordFailure(CompressionPreviousRound, err)
			continue
		}
		handle := m.offloadStore(span)
		replacement := NewMessage(RoleAssistant, TextBlock{Text: summary + reloadHint("Original exchange", handle)}).
			WithMetadata(metaTag, tagConversationSummary).
			WithMetadata(metaHandle, handle)
		m.rewrite(CompressionPreviousRound, p.start, p.end, replacement, handle)
		rewrote = true
	}
	return rewrote
}

// summarizeLargeMessage compresses one oversize message of the round
// in progress through the model, keeping a reload handle.
func (m *AutoContextMemory) summarizeLargeMessage(ctx context.Context) bool {
	if m.model == nil {
		return false
	}
	msgs := m.working.messages
	lu := latestIndex(msgs, RoleUser)
	if lu < 0 {
		return false
	}
	limit := m.protectedFrom()
	for i := lu + 1; i < limit; i++ {
		if !m.offloadable(msgs[i]) {
			continue
		}
		src := msgs[i]
		summary, err := m.summarize(ctx, m.prompts.LargeMessage, []Message{src})
		if err != nil {
			m.recordFailure(CompressionCurrentRoundLarge, err)
			return false
		}
		handle := m.offloadStore([]Message{src})
		text := summary + reloadHint("Original content", handle)
		m.rewrite(CompressionCurrentRoundLarge, i, i, replacementFor(src, text, tagCompressedLarge, handle), handle)
		return true
	}
	return false
}

// collapseCurrentRound folds the tool traffic of the round in progress
// into a single summary so the model can continue from a compact
// state.
func (m *AutoContextMemory) collapseCurrentRound(ctx context.Context) bool {
	if m.model == nil {
		return false
	}
	msgs := m.working.messages
	lu := latestIndex(msgs, RoleUser)
	if lu < 0 {
		return false
	}
	limit := m.protectedFrom()
	first, last := -1, -1
	for i := lu + 1; i < limit; i++ {
		if isToolTraffic(msgs[i]) && !isCompressionArtifact(msgs[i]) {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return false
	}
	for last >= first && msgs[last].Role == RoleAssistant && len(msgs[last].ToolUses()) > 0 {
		last--
	}
	if last < first {
		return false
	}

	span := msgs[first : last+1]
	summary, err := m.summarize(ctx, m.prompts.CurrentRound, span)
	if err != nil {
		m.recordFailure(CompressionCurrentRound, err)
		return false
	}
	handle := m.offloadStore(span)
	replacement := NewMessage(RoleAssistant, TextBlock{Text: summary + reloadHint("Tool activity", handle)}).
		WithMetadata(metaTag, tagCompressedRound).
		WithMetadata(metaHandle, handle)
	m.rewrite(CompressionCurrentRound, first, last, replacement, handle)
	return true
}

// replacementFor keeps the source message's envelope (role, name,
// tool-result ids) while swapping its content for text. Pairing with
// an earlier tool request survives the rewrite that way.
func replacementFor(src Message, text, tag, handle string) Message {
	var out Message
	if results := src.ToolResults(); len(results) > 0 {
		blocks := make([]ContentBlock, 0, len(results))
		for _, r := range results {
			blocks = append(blocks, ToolResultBlock{ID: r.ID, Name: r.Name, Output: []ContentBlock{TextBlock{Text: text}}})
		}
		out = NewMessage(src.Role, blocks...)
	} else {
		out = NewMessage(src.Role, TextBlock{Text: text})
	}
	out.Name = src.Name
	return out.WithMetadata(metaTag, tag).WithMetadata(metaHandle, handle)
}

func reloadHint(what, handle string) string {
	return fmt.Sprintf("\n\n%s preserved under uuid:%s. Call reload_messages with that uuid to restore it.", what, handle)
}

// summarize runs the span through the summarizer model. The attached
// plan, when present, is prepended as a hint message.
func (m *AutoContextMemory) summarize(ctx context.Context, prompt string, span []Message) (string, error) {
	if m.model == nil {
		return "", errors.New("no summarizer model attached")
	}
	var input []Message
	if hint := m.planHint(); hint != "" {
		input = append(input, UserMessage(hint))
	}
	input = append(input, UserMessage(prompt+"\n\n"+renderTranscript(span)))
	resp, err := Complete(ctx, m.model, ChatRequest{Messages: input})
	if err != nil {
		return "", err
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", errors.New("summarizer returned no text")
	}
	return text, nil
}

func (m *AutoContextMemory) planHint() string {
	if m.plan == nil {
		return ""
	}
	rendered := m.plan.Render()
	if rendered == "" {
		return ""
	}
	return "The plan below is the task in progress. Keep the summary aligned with it.\n\n" + rendered
}

func (m *AutoContextMemory) offloadStore(span []Message) string {
	handle := NewID()
	cp := make([]Message, len(span))
	copy(cp, span)
	m.offload[handle] = cp
	return handle
}

// rewrite replaces [start, end] with one message and records the audit
// event anchored to the surviving neighbors.
func (m *AutoContextMemory) rewrite(kind CompressionKind, start, end int, replacement Message, handle string) {
	msgs := m.working.messages
	var prevID, nextID string
	if start > 0 {
		prevID = msgs[start-1].ID
	}
	if end+1 < len(msgs) {
		nextID = msgs[end+1].ID
	}
	before := EstimateTokens(msgs)
	m.working.ReplaceRange(start, end, []Message{replacement})
	after := EstimateTokens(m.working.messages)

	meta := map[string]string{
		eventMetaTokenBefore: strconv.Itoa(before),
		eventMetaTokenAfter:  strconv.Itoa(after),
	}
	if handle != "" {
		meta[eventMetaHandle] = handle
	}
	m.events = append(m.events, CompressionEvent{
		Kind:            kind,
		Timestamp:       NowUnix(),
		CompressedCount: end - start + 1,
		PreviousID:      prevID,
		NextID:          nextID,
		CompressedID:    replacement.ID,
		Metadata:        meta,
	})
	m.logger.Debug("compressed working set",
		"kind", string(kind),
		"count", end-start+1,
		"tokens_before", before,
		"tokens_after", after)
}

func (m *AutoContextMemory) recordFailure(kind CompressionKind, err error) {
	m.events = append(m.events, CompressionEvent{
		Kind:      kind,
		Timestamp: NowUnix(),
		Metadata:  map[string]string{eventMetaError: err.Error()},
	})
	m.logger.Warn("compression strategy failed", "kind", string(kind), "error", err)
}

// renderTranscript flattens messages into labeled plain text for the
// summarizer and the reload tool. Thinking blocks stay out of
// transcripts.
func renderTranscript(messages []Message) string {
	var b strings.Builder
	for i, msg := range messages {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString("[")
		b.WriteString(strings.ToUpper(string(msg.Role)))
		if msg.Name != "" {
			b.WriteString(" ")
			b.WriteString(msg.Name)
		}
		b.WriteString("]\n")
		renderBlocks(&b, msg.Content)
	}
	return b.String()
}

func renderBlocks(b *strings.Builder, blocks []ContentBlock) {
	for _, blk := range blocks {
		switch v := blk.(type) {
		case TextBlock:
			b.WriteString(v.Text)
			b.WriteString("\n")
		case ToolUseBlock:
			fmt.Fprintf(b, "calling %s with %s\n", v.Name, string(v.Arguments()))
		case ToolResultBlock:
			fmt.Fprintf(b, "[result %s]\n", v.Name)
			renderBlocks(b, v.Output)
		case ImageBlock:
			b.WriteString("[image]\n")
		}
	}
}
