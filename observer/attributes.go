package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for model and tool observability spans and metrics.
var (
	AttrModelName = attribute.Key("model.name")

	AttrTokensInput  = attribute.Key("model.tokens.input")
	AttrTokensOutput = attribute.Key("model.tokens.output")
	AttrCostUSD      = attribute.Key("model.cost_usd")

	AttrStreamChunks = attribute.Key("model.stream_chunks")

	AttrToolName        = attribute.Key("tool.name")
	AttrToolStatus      = attribute.Key("tool.status")
	AttrToolResultCount = attribute.Key("tool.result_count")
)
