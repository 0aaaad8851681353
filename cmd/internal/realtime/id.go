package realtime

import (
	"time"

	"batepapo/cmd/internal/ids"
)

// NewSessionID returns a ULID used as live session id.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEnvelopeID returns a ULID used as envelope id, so envelopes sort by
// creation time in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
