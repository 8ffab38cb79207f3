// Package constants defines magic numbers and default values shared by the
// ship and offshore binaries.
package constants

import "time"

// Listen ports and link defaults.
const (
	DefaultOffshorePort  = 9999
	DefaultShipProxyPort = 8080

	// DefaultMaxFrameBytes caps a single frame's payload. REDESIGN FLAG (a):
	// the wire format itself has no built-in cap, so we enforce one here and
	// treat an overrun as a fatal ProtocolError.
	DefaultMaxFrameBytes = 64 * 1024 * 1024 // 64MB

	// DefaultReconnectDelay is the floor wait before the ship retries a
	// dropped link.
	DefaultReconnectDelay = 1 * time.Second

	// DefaultPendingTimeout bounds how long a queued transaction waits for a
	// link to exist before failing with an Upstream error (REDESIGN FLAG (b)).
	DefaultPendingTimeout = 15 * time.Second
)

// Connection timeouts, reused by the origin dialer.
const (
	DefaultConnTimeout = 10 * time.Second
	DefaultReadTimeout = 30 * time.Second
)

// HTTP limits.
const (
	MaxContentLength = 1024 * 1024 * 1024 * 1024 // 1TB
	MaxHeaderBytes   = 64 * 1024
)

// Buffer limits.
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024 // 4MB
)
