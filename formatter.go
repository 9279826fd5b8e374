package loom

import (
	"encoding/json"
	"time"
)

// Formatter converts between the neutral message model and one
// vendor's wire shapes. Format owns the vendor's role-remapping rules;
// ParseResponse owns response decoding. Round-tripping a text-only
// conversation must preserve the text modulo those remappings.
type Formatter interface {
	Format(messages []Message) ([]json.RawMessage, error)
	ParseResponse(raw json.RawMessage, startTime time.Time) (ChatResponse, error)
}
