package loom

import (
	"time"

	"github.com/google/uuid"
)

// NewID generates a globally unique, time-sortable UUIDv7 (RFC 9562).
// Used for message ids, run ids, and offload handles.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// NowUnix returns the current time as a Unix timestamp in seconds.
func NowUnix() int64 {
	return time.Now().Unix()
}
