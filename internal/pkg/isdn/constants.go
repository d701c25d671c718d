package isdn

import "time"

// Default protocol timer values
const (
	DefaultT302 = 15 * time.Second  // overlap receive
	DefaultT303 = 4 * time.Second   // SETUP without answer
	DefaultT304 = 30 * time.Second  // overlap send
	DefaultT305 = 30 * time.Second  // DISCONNECT without answer
	DefaultT308 = 4 * time.Second   // RELEASE without answer
	DefaultT309 = 90 * time.Second  // data link down
	DefaultT313 = 4 * time.Second   // CONNECT without CONNECT ACK
	DefaultT314 = 4 * time.Second   // segment reassembly
	DefaultT316 = 120 * time.Second // RESTART without RESTART ACK
)

// Default controller settings
const (
	DefaultChannelSync    = 300 * time.Second
	DefaultRestartRetries = 2
	DefaultMaxSegments    = 8
	DefaultMaxDisplay     = 34
	ExtendedMaxDisplay    = 82
	DefaultMaxUserData    = 260
)

// BroadcastTEI addresses every terminal of a BRI bus.
const BroadcastTEI uint8 = 127
