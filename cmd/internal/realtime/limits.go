package realtime

import "time"

const (
	// Max bytes per websocket frame read. Clients only send heartbeats.
	maxFrameBytes = 4 << 10 // 4 KiB
)

const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limit (client events per window).
	rateLimitEvents = 30
	rateLimitWindow = 10 * time.Second
)
