// Package comsm implements the communication state machine: half-duplex
// link rendezvous (BACKOFF), inbound turn handling (READ), and outbound
// turn handling (WRITE). It owns the serial transport exclusively and
// never touches USB hardware directly.
package comsm

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/link"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
)

// RoleSource exposes the USB-SM's current role to COM-SM without either
// side sharing a lock; usb_state is written only by USB-SM and read here,
// so the one-byte role variable stays tear-free.
type RoleSource interface {
	Role() proto.Role
}

// state is one of the three COM-SM states.
type state uint8

const (
	stateBackoff state = iota
	stateRead
	stateWrite
)

// ComSM is the communication state machine for one bridge endpoint.
type ComSM struct {
	link *link.Link
	role RoleSource
	cfg  config.Bridge

	// usbToCom carries messages USB-SM wants transmitted; comToUsb carries
	// decoded inbound messages destined for USB-SM. Both are sized
	// config.QueueDepth by the caller.
	usbToCom <-chan proto.Message
	comToUsb chan<- proto.Message

	state   state
	message proto.Message
}

// New constructs a ComSM bound to l, reading the peer's role from role and
// exchanging messages with USB-SM over the given queues.
func New(l *link.Link, role RoleSource, usbToCom <-chan proto.Message, comToUsb chan<- proto.Message, cfg config.Bridge) *ComSM {
	if cfg.HeartbeatPeriod == 0 {
		cfg.HeartbeatPeriod = config.HeartbeatPeriod
	}
	if cfg.MinBackoff == 0 {
		cfg.MinBackoff = config.MinBackoff
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = config.MaxBackoff
	}
	return &ComSM{
		link:     l,
		role:     role,
		cfg:      cfg,
		usbToCom: usbToCom,
		comToUsb: comToUsb,
		state:    stateBackoff,
	}
}

// Run drives the state machine until ctx is cancelled.
func (c *ComSM) Run(ctx context.Context) {
	for ctx.Err() == nil {
		switch c.state {
		case stateBackoff:
			c.runBackoff(ctx)
		case stateRead:
			c.runRead(ctx)
		case stateWrite:
			c.runWrite(ctx)
		}
	}
}

// runBackoff implements the BACKOFF state: recover from startup or
// desync by waiting out a random timeout for the peer to speak first, with
// the mandatory pre-flush delay to avoid reading a reflected transmission.
func (c *ComSM) runBackoff(ctx context.Context) {
	select {
	case <-time.After(config.EntryFlushDelay):
	case <-ctx.Done():
		return
	}
	if err := c.link.Flush(); err != nil {
		pkg.LogDebug(pkg.ComponentComSM, "flush error in BACKOFF", "error", err)
	}

	backoff := c.cfg.MinBackoff + time.Duration(rand.Int64N(int64(c.cfg.MaxBackoff-c.cfg.MinBackoff)))
	pkg.LogDebug(pkg.ComponentComSM, "BACKOFF reading", "timeout", backoff)
	h := c.link.ReadHeader(ctx, backoff)

	switch h {
	case proto.Hello:
		pkg.LogInfo(pkg.ComponentComSM, "received HELLO, replying HEARD")
		c.delayThenSendHeader(ctx, proto.Heard)
		c.state = stateRead
	case proto.Heard:
		pkg.LogInfo(pkg.ComponentComSM, "received HEARD, asserting STATE")
		c.delayThenSendState(ctx)
		c.state = stateRead
	case proto.NoHeader:
		pkg.LogDebug(pkg.ComponentComSM, "no header received, sending HELLO")
		c.delayThenSendHeader(ctx, proto.Hello)
	default: // ErrHeader or any unexpected header
		pkg.LogDebug(pkg.ComponentComSM, "framing error or unexpected header, sending HELLO", "header", h)
		c.delayThenSendHeader(ctx, proto.Hello)
	}
}

// delayThenSendHeader waits the mandatory pre-send delay, giving the peer
// time to finish flushing, then sends a bare header.
func (c *ComSM) delayThenSendHeader(ctx context.Context, h proto.Header) {
	select {
	case <-time.After(config.PreSendDelay):
	case <-ctx.Done():
		return
	}
	if err := c.link.SendHeader(h); err != nil {
		pkg.LogWarn(pkg.ComponentComSM, "send_header failed", "header", h, "error", err)
	}
}

// delayThenSendState waits the mandatory pre-send delay, then asserts the
// current USB role via a STATE message.
func (c *ComSM) delayThenSendState(ctx context.Context) {
	select {
	case <-time.After(config.PreSendDelay):
	case <-ctx.Done():
		return
	}
	msg := proto.StateMessage(c.role.Role())
	if err := c.link.SendHeader(msg.Header); err != nil {
		pkg.LogWarn(pkg.ComponentComSM, "send_header failed", "error", err)
		return
	}
	if err := c.link.SendData(msg.Payload[:], msg.Len()); err != nil {
		pkg.LogWarn(pkg.ComponentComSM, "send_data failed", "error", err)
	}
}

// runRead implements the READ state: await the peer's turn, decode
// whatever arrives, and reconcile roles on STATE.
func (c *ComSM) runRead(ctx context.Context) {
	if err := c.link.Flush(); err != nil {
		pkg.LogDebug(pkg.ComponentComSM, "flush error in READ", "error", err)
	}

	h := c.link.ReadHeader(ctx, 2*c.cfg.HeartbeatPeriod)
	switch h {
	case proto.Ack:
		c.state = stateWrite
		return

	case proto.Update:
		c.readPayloadAndForward(ctx, h, 1)
		c.state = stateWrite
		return

	case proto.ReportMouse:
		c.readPayloadAndForward(ctx, h, 4)
		c.state = stateWrite
		return

	case proto.ReportKeyboard:
		c.readPayloadAndForward(ctx, h, 8)
		c.state = stateWrite
		return

	case proto.State:
		c.handleState(ctx)
		c.state = stateWrite
		return

	default:
		pkg.LogInfo(pkg.ComponentComSM, "timeout or unexpected header in READ, returning to BACKOFF", "header", h)
		c.state = stateBackoff
	}
}

// readPayloadAndForward reads n payload bytes for header h and hands the
// full message to USB-SM. com_to_usb sends never drop a message: the
// send blocks if the queue is full.
func (c *ComSM) readPayloadAndForward(ctx context.Context, h proto.Header, n int) {
	c.message.Header = h
	got := c.link.ReadData(ctx, c.message.Payload[:n], n, config.PayloadReadTimeout)
	if got != 2*n {
		pkg.LogDebug(pkg.ComponentComSM, "short payload read, dropping message", "header", h)
		return
	}
	select {
	case c.comToUsb <- c.message:
	case <-ctx.Done():
	}
}

// handleState implements the STATE reconciliation handshake: compare the
// peer's asserted role against the mirror of our own role, and force both
// ends to UNKNOWN on mismatch.
func (c *ComSM) handleState(ctx context.Context) {
	var payload [1]byte
	got := c.link.ReadData(ctx, payload[:], 1, config.PayloadReadTimeout)
	if got != 2 {
		pkg.LogDebug(pkg.ComponentComSM, "short STATE payload read, dropping")
		return
	}

	peerAsserted := proto.Role(payload[0])
	desired := c.role.Role().Mirror()

	if peerAsserted == desired {
		pkg.LogDebug(pkg.ComponentComSM, "STATE matches, proceeding")
		return
	}

	pkg.LogInfo(pkg.ComponentComSM, "STATE mismatch, reasserting and aborting to UNKNOWN",
		"peer_asserted", peerAsserted, "desired", desired)

	msg := proto.StateMessage(c.role.Role())
	if err := c.link.SendHeader(msg.Header); err != nil {
		pkg.LogWarn(pkg.ComponentComSM, "send_header failed", "error", err)
		return
	}
	if err := c.link.SendData(msg.Payload[:], msg.Len()); err != nil {
		pkg.LogWarn(pkg.ComponentComSM, "send_data failed", "error", err)
		return
	}

	select {
	case c.comToUsb <- msg: // tells USB-SM to reset to UNKNOWN
	case <-ctx.Done():
	}
}

// runWrite implements the WRITE state: take our turn, sending whatever
// USB-SM queued or a bare ACK heartbeat otherwise.
func (c *ComSM) runWrite(ctx context.Context) {
	var msg proto.Message
	var ok bool

	if c.role.Role().IsDevice() {
		// DEVICE_*: we consume the HID reports the peer produces, and
		// USB-SM only rarely queues an UPDATE, so poll without blocking
		// and never stall the turn waiting on input that may never come.
		select {
		case msg, ok = <-c.usbToCom:
		default:
		}
	} else {
		// UNKNOWN or HOST_*: a HOST_* endpoint produces the reports from
		// its locally attached device, so wait up to one heartbeat period
		// for USB-SM to have something to say.
		select {
		case msg, ok = <-c.usbToCom:
		case <-time.After(c.cfg.HeartbeatPeriod):
		case <-ctx.Done():
			return
		}
	}

	if ok {
		if err := c.link.SendHeader(msg.Header); err != nil {
			pkg.LogWarn(pkg.ComponentComSM, "send_header failed", "error", err)
			c.state = stateRead
			return
		}
		if err := c.link.SendData(msg.Payload[:], msg.Len()); err != nil {
			pkg.LogWarn(pkg.ComponentComSM, "send_data failed", "error", err)
		}
	} else {
		if err := c.link.SendHeader(proto.Ack); err != nil {
			pkg.LogWarn(pkg.ComponentComSM, "heartbeat send_header failed", "error", err)
		}
	}
	c.state = stateRead
}
