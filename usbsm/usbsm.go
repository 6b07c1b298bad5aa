// Package usbsm implements the USB state machine: it holds the
// endpoint's current USB role, installs and uninstalls host or device
// personalities in response to local USB events and UPDATE messages from
// COM-SM, and forwards HID reports between the USB side and the link
// side. USB-SM owns the USB host/device stacks exclusively and never
// touches the serial transport directly.
package usbsm

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
)

// DeviceKind identifies which HID/MSC personality a connection presents,
// independent of which side (host or device) observes it.
type DeviceKind uint8

// Device kind values used by DetectDevice and host events.
const (
	KindNone DeviceKind = iota
	KindMouse
	KindKeyboard
	KindDatastick
)

// String renders a device kind for logging.
func (k DeviceKind) String() string {
	switch k {
	case KindMouse:
		return "MOUSE"
	case KindKeyboard:
		return "KEYBOARD"
	case KindDatastick:
		return "DATASTICK"
	default:
		return "NONE"
	}
}

// DeviceSide is the capability surface for presenting a USB device
// personality to a locally attached computer. Install is implicit in
// each Enumerate call; USB-SM is responsible for calling Disconnect
// before switching personalities — never double-installing.
type DeviceSide interface {
	EnumerateAsMouse(ctx context.Context) error
	EnumerateAsKeyboard(ctx context.Context) error
	EnumerateAsDatastick(ctx context.Context) error
	Disconnect() error

	// DetectHost reports whether a host computer is currently present.
	// This models a VBUS-sense capability; implementations that only have
	// this via enumeration as some device class should fall back to that,
	// but USB-SM itself never fakes an enumeration purely to call this.
	DetectHost() bool

	SendMouseReport(ctx context.Context, r proto.MouseReport) error
	SendKeyboardReport(ctx context.Context, r proto.KeyboardReport) error
}

// HostEventKind identifies the kind of asynchronous event the host
// controller raised.
type HostEventKind uint8

// Host event kinds.
const (
	HostEventConnected HostEventKind = iota
	HostEventDisconnected
	HostEventInputReport
)

// HostEvent is one record from the host controller's private event queue.
type HostEvent struct {
	Kind   HostEventKind
	Device DeviceKind
	Report []byte // valid when Kind == HostEventInputReport
}

// HostSide is the capability surface for hosting a locally attached
// physical HID/MSC device.
type HostSide interface {
	Install(ctx context.Context) error
	Uninstall() error

	// DetectDevice polls the currently attached device's class, or
	// KindNone if nothing is attached.
	DetectDevice() DeviceKind

	// Events returns the private bounded queue of asynchronous host-stack
	// events (connect/disconnect/input report). USB-SM drains at most one
	// per loop iteration so the host stack's own callback thread is never
	// blocked processing them inline.
	Events() <-chan HostEvent
}

// USBSM is the USB state machine for one bridge endpoint.
type USBSM struct {
	device DeviceSide
	host   HostSide

	role atomic.Uint32

	usbToCom chan<- proto.Message
	comToUsb <-chan proto.Message
}

// New constructs a USBSM starting in the UNKNOWN role.
func New(device DeviceSide, host HostSide, usbToCom chan<- proto.Message, comToUsb <-chan proto.Message) *USBSM {
	u := &USBSM{device: device, host: host, usbToCom: usbToCom, comToUsb: comToUsb}
	u.role.Store(uint32(proto.Unknown))
	return u
}

// Role returns the current USB role. It is safe to call concurrently from
// COM-SM; usb_state is written only here.
func (u *USBSM) Role() proto.Role {
	return proto.Role(u.role.Load())
}

func (u *USBSM) setRole(r proto.Role) {
	pkg.LogInfo(pkg.ComponentUSBSM, "role transition", "from", u.Role(), "to", r)
	u.role.Store(uint32(r))
}

// Run drives the state machine until ctx is cancelled.
func (u *USBSM) Run(ctx context.Context) {
	for ctx.Err() == nil {
		waitTime := config.RolePollIdle
		if u.Role() == proto.Unknown {
			waitTime = config.UnknownPollIdle
		}

		msg, header := u.recv(ctx, waitTime)

		switch u.Role() {
		case proto.Unknown:
			u.handleUnknown(ctx, header, msg)
		case proto.DeviceUnknown:
			u.handleDeviceUnknown(ctx, header, msg)
		case proto.DeviceDatastick:
			u.handleDeviceDatastick(ctx, header, msg)
		case proto.DeviceKeyboard:
			u.handleDeviceKeyboard(ctx, header, msg)
		case proto.DeviceMouse:
			u.handleDeviceMouse(ctx, header, msg)
		case proto.HostUnknown:
			u.handleHostUnknown(ctx, header, msg)
		case proto.HostDatastick:
			u.handleHostRole(ctx, header, msg)
		case proto.HostKeyboard:
			u.handleHostKeyboard(ctx, header, msg)
		case proto.HostMouse:
			u.handleHostMouse(ctx, header, msg)
		}
	}
}

// recv dequeues one message from com_to_usb, waiting up to waitTime. It
// returns proto.NoHeader, not the message's own header field, when nothing
// arrived. NO_HEADER and HOST_CONNECTED happen to share the integer 0, so
// msg.Payload is never read unless header itself warrants it.
func (u *USBSM) recv(ctx context.Context, waitTime time.Duration) (proto.Message, proto.Header) {
	if waitTime <= 0 {
		select {
		case msg := <-u.comToUsb:
			return msg, msg.Header
		default:
			return proto.Message{}, proto.NoHeader
		}
	}

	timer := time.NewTimer(waitTime)
	defer timer.Stop()
	select {
	case msg := <-u.comToUsb:
		return msg, msg.Header
	case <-timer.C:
		return proto.Message{}, proto.NoHeader
	case <-ctx.Done():
		return proto.Message{}, proto.NoHeader
	}
}

// sendUpdateBlocking posts an UPDATE to usb_to_com with an unbounded wait:
// dropped role-change notifications are never acceptable.
func (u *USBSM) sendUpdateBlocking(ctx context.Context, up proto.Update) {
	msg := proto.UpdateMessage(up)
	pkg.LogInfo(pkg.ComponentUSBSM, "emitting UPDATE", "update", up)
	select {
	case u.usbToCom <- msg:
	case <-ctx.Done():
	}
}

// sendReportNonBlocking posts a HID report to usb_to_com without waiting:
// dropping reports under backpressure is acceptable, blocking USB-SM on
// a full queue is not.
func (u *USBSM) sendReportNonBlocking(msg proto.Message) {
	select {
	case u.usbToCom <- msg:
	default:
		pkg.LogDebug(pkg.ComponentUSBSM, "usb_to_com full, dropping report", "header", msg.Header)
	}
}

func payloadUpdate(msg proto.Message) proto.Update {
	return proto.Update(msg.Payload[0])
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
