package engine

import "sync/atomic"

// Counters tracks engine activity using atomic counters.
// All fields are safe for concurrent access.
type Counters struct {
	FramesRecv      atomic.Uint32 // Frames read from the transport
	AdminSent       atomic.Uint32 // Admin requests sent
	TraceroutesSent atomic.Uint32 // Traceroute requests sent
	KeysHarvested   atomic.Uint32 // Session passkeys stored or replaced
	ToggleAttempts  atomic.Uint32 // SetConfig writes sent
	ToggleFailures  atomic.Uint32 // Writes whose read-back did not match

	SamplesAccepted   atomic.Uint32 // Samples added to the statistics
	RejectedFloor     atomic.Uint32 // Samples carrying an SNR floor reading
	RejectedRoute     atomic.Uint32 // Samples failing route validation
	RejectedDecode    atomic.Uint32 // Traceroute payloads that did not parse
	RejectedDuplicate atomic.Uint32 // Responses already seen
	RecordErrors      atomic.Uint32 // Failed sink writes
}

// CountersSnapshot is a plain-value copy of Counters for reading.
type CountersSnapshot struct {
	FramesRecv      uint32
	AdminSent       uint32
	TraceroutesSent uint32
	KeysHarvested   uint32
	ToggleAttempts  uint32
	ToggleFailures  uint32

	SamplesAccepted   uint32
	RejectedFloor     uint32
	RejectedRoute     uint32
	RejectedDecode    uint32
	RejectedDuplicate uint32
	RecordErrors      uint32
}

// Snapshot returns a consistent point-in-time copy of all counters.
func (c *Counters) Snapshot() CountersSnapshot {
	return CountersSnapshot{
		FramesRecv:        c.FramesRecv.Load(),
		AdminSent:         c.AdminSent.Load(),
		TraceroutesSent:   c.TraceroutesSent.Load(),
		KeysHarvested:     c.KeysHarvested.Load(),
		ToggleAttempts:    c.ToggleAttempts.Load(),
		ToggleFailures:    c.ToggleFailures.Load(),
		SamplesAccepted:   c.SamplesAccepted.Load(),
		RejectedFloor:     c.RejectedFloor.Load(),
		RejectedRoute:     c.RejectedRoute.Load(),
		RejectedDecode:    c.RejectedDecode.Load(),
		RejectedDuplicate: c.RejectedDuplicate.Load(),
		RecordErrors:      c.RecordErrors.Load(),
	}
}

// Reset zeroes all counters.
func (c *Counters) Reset() {
	c.FramesRecv.Store(0)
	c.AdminSent.Store(0)
	c.TraceroutesSent.Store(0)
	c.KeysHarvested.Store(0)
	c.ToggleAttempts.Store(0)
	c.ToggleFailures.Store(0)
	c.SamplesAccepted.Store(0)
	c.RejectedFloor.Store(0)
	c.RejectedRoute.Store(0)
	c.RejectedDecode.Store(0)
	c.RejectedDuplicate.Store(0)
	c.RecordErrors.Store(0)
}
