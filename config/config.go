// Package config holds the compile-time constants and runtime-tunable
// parameters shared by the link, com-sm, and usb-sm packages.
package config

import "time"

// Link-layer timing and transport parameters.
const (
	// BaudRate is the serial transport's line rate.
	BaudRate = 1_000_000

	// HeartbeatPeriod bounds how long WRITE waits for a queued message
	// before sending a bare ACK, and how long READ waits for the peer's turn.
	HeartbeatPeriod = 1000 * time.Millisecond

	// MinBackoff and MaxBackoff bound the randomized BACKOFF read timeout.
	MinBackoff = 100 * time.Millisecond
	MaxBackoff = 1000 * time.Millisecond

	// PreSendDelay is the mandatory pause before replying in BACKOFF, giving
	// the peer time to finish flushing its own receiver.
	PreSendDelay = 15 * time.Millisecond

	// EntryFlushDelay is the mandatory pause on BACKOFF entry before the
	// transport is flushed, avoiding a read of one's own reflected signal.
	EntryFlushDelay = 10 * time.Millisecond

	// PayloadReadTimeout bounds reading a message's fixed payload in READ.
	PayloadReadTimeout = 10 * time.Millisecond

	// QueueDepth is the capacity of each inter-state-machine queue.
	QueueDepth = 10

	// QueueSlotSize is the byte size of one queue slot (1 header + up to 8
	// payload bytes, sized for the worst case keyboard report).
	QueueSlotSize = 9
)

// USB-SM timing parameters.
const (
	// UnknownPollIdle is the idle delay in the UNKNOWN role, chosen to yield
	// responsively without starving the watchdog.
	UnknownPollIdle = 10 * time.Millisecond

	// RolePollIdle is the com_to_usb dequeue wait used by every role other
	// than UNKNOWN.
	RolePollIdle = 10 * time.Millisecond

	// EnumerationPause is how long USB-SM waits after installing a device
	// personality for host-side enumeration to complete.
	EnumerationPause = 1000 * time.Millisecond

	// HostEventPollIdle is the drain interval for the private host-event queue.
	HostEventPollIdle = 10 * time.Millisecond
)

// Bridge gathers the overridable subset of the above for constructing a
// Link/ComSM/USBSM triple without a global default. Zero value fields fall
// back to the package constants.
type Bridge struct {
	HeartbeatPeriod time.Duration
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithHeartbeat overrides the heartbeat period.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Bridge) { b.HeartbeatPeriod = d }
}

// WithBackoff overrides the BACKOFF timeout range.
func WithBackoff(min, max time.Duration) Option {
	return func(b *Bridge) {
		b.MinBackoff = min
		b.MaxBackoff = max
	}
}

// New builds a Bridge configuration, applying opts over the package defaults.
func New(opts ...Option) Bridge {
	b := Bridge{
		HeartbeatPeriod: HeartbeatPeriod,
		MinBackoff:      MinBackoff,
		MaxBackoff:      MaxBackoff,
	}
	for _, opt := range opts {
		opt(&b)
	}
	return b
}
