package loom

// CompressionPrompts holds the instructions handed to the summarizer
// model by the compression strategies. Zero-value fields fall back to
// the defaults below.
type CompressionPrompts struct {
	// ToolInvocation summarizes a consecutive run of tool calls and
	// their results from an earlier round.
	ToolInvocation string
	// PreviousRound summarizes one completed user/assistant exchange.
	PreviousRound string
	// LargeMessage compresses a single oversize message in the
	// current round.
	LargeMessage string
	// CurrentRound collapses the tool traffic of the round in
	// progress.
	CurrentRound string
}

const (
	defaultToolInvocationPrompt = `Summarize the following tool invocations and their results. Preserve every concrete fact: names, values, identifiers, file paths, errors, and conclusions drawn from them. State plainly which calls failed. Do not invent detail that is not present.`

	defaultPreviousRoundPrompt = `Summarize the following exchange between the user and the assistant. Keep the user's request, the decisions made, and the final outcome. Preserve identifiers and values that later turns may refer back to.`

	defaultLargeMessagePrompt = `Compress the following message. Keep every fact, identifier, and value needed to continue the task; drop repetition and boilerplate. Answer with the compressed content only.`

	defaultCurrentRoundPrompt = `The task below is still in progress. Summarize the tool activity so far so the work can continue: what was tried, what succeeded, what failed, and what remains open. Preserve identifiers and values the next steps will need.`
)

// withDefaults returns a copy with unset prompts replaced by defaults.
func (p CompressionPrompts) withDefaults() CompressionPrompts {
	if p.ToolInvocation == "" {
		p.ToolInvocation = defaultToolInvocationPrompt
	}
	if p.PreviousRound == "" {
		p.PreviousRound = defaultPreviousRoundPrompt
	}
	if p.LargeMessage == "" {
		p.LargeMessage = defaultLargeMessagePrompt
	}
	if p.CurrentRound == "" {
		p.CurrentRound = defaultCurrentRoundPrompt
	}
	return p
}
