// Package proto defines the wire vocabulary shared between the
// communication state machine and the USB state machine: link headers,
// UPDATE payload values, USB roles, and the fixed-size queue slot that
// carries a decoded message between the two.
package proto

// Header identifies the kind of a link message. NoHeader and ErrHeader are
// sentinels produced locally by the framer on timeout/short-read; they are
// never transmitted.
type Header uint8

// Header alphabet. Values are a dense enumeration; only stability within a
// build matters, not any particular numbering.
const (
	NoHeader Header = iota // sentinel: nothing received in time
	ErrHeader               // sentinel: framing error detected
	Hello                   // link rendezvous probe
	Heard                   // reply to Hello
	Ack                     // heartbeat / "your turn"
	State                   // asserts sender's current USB role
	Update                  // notifies peer of a local USB event
	ReportMouse             // HID mouse report
	ReportKeyboard          // HID keyboard report
)

// String renders a header for logging.
func (h Header) String() string {
	switch h {
	case NoHeader:
		return "NO_HEADER"
	case ErrHeader:
		return "ERROR"
	case Hello:
		return "HELLO"
	case Heard:
		return "HEARD"
	case Ack:
		return "ACK"
	case State:
		return "STATE"
	case Update:
		return "UPDATE"
	case ReportMouse:
		return "REPORT_MOUSE"
	case ReportKeyboard:
		return "REPORT_KEYBOARD"
	default:
		return "UNKNOWN_HEADER"
	}
}

// PayloadLen returns the number of semantic payload bytes that follow this
// header on the wire. Headers with no fixed payload, including the two
// sentinels, return 0.
func (h Header) PayloadLen() int {
	switch h {
	case State, Update:
		return 1
	case ReportMouse:
		return 4
	case ReportKeyboard:
		return 8
	default:
		return 0
	}
}

// Update identifies the kind of local USB event an UPDATE message reports.
type Update uint8

// UPDATE payload values.
const (
	HostConnected Update = iota
	HostDisconnected
	MouseConnected
	KeyboardConnected
	DatastickConnected
	DeviceDisconnected
)

// String renders an update kind for logging.
func (u Update) String() string {
	switch u {
	case HostConnected:
		return "HOST_CONNECTED"
	case HostDisconnected:
		return "HOST_DISCONNECTED"
	case MouseConnected:
		return "MOUSE_CONNECTED"
	case KeyboardConnected:
		return "KEYBOARD_CONNECTED"
	case DatastickConnected:
		return "DATASTICK_CONNECTED"
	case DeviceDisconnected:
		return "DEVICE_DISCONNECTED"
	default:
		return "UNKNOWN_UPDATE"
	}
}

// Role is one of the nine mutually exclusive USB roles an endpoint can
// hold.
type Role uint8

// USB roles.
const (
	Unknown Role = iota
	DeviceUnknown
	DeviceDatastick
	DeviceKeyboard
	DeviceMouse
	HostUnknown
	HostDatastick
	HostKeyboard
	HostMouse
)

// String renders a role for logging.
func (r Role) String() string {
	switch r {
	case Unknown:
		return "UNKNOWN"
	case DeviceUnknown:
		return "DEVICE_UNKNOWN"
	case DeviceDatastick:
		return "DEVICE_DATASTICK"
	case DeviceKeyboard:
		return "DEVICE_KEYBOARD"
	case DeviceMouse:
		return "DEVICE_MOUSE"
	case HostUnknown:
		return "HOST_UNKNOWN"
	case HostDatastick:
		return "HOST_DATASTICK"
	case HostKeyboard:
		return "HOST_KEYBOARD"
	case HostMouse:
		return "HOST_MOUSE"
	default:
		return "UNKNOWN_ROLE"
	}
}

// IsHost reports whether r is one of the HOST_* roles.
func (r Role) IsHost() bool {
	return r >= HostUnknown
}

// IsDevice reports whether r is one of the DEVICE_* roles.
func (r Role) IsDevice() bool {
	return r >= DeviceUnknown && r < HostUnknown
}

// Mirror returns the role the peer endpoint must hold for the pair to
// stay consistent: if this endpoint is HOST_X the peer must be DEVICE_X,
// and vice versa.
func (r Role) Mirror() Role {
	switch r {
	case DeviceUnknown:
		return HostUnknown
	case DeviceDatastick:
		return HostDatastick
	case DeviceKeyboard:
		return HostKeyboard
	case DeviceMouse:
		return HostMouse
	case HostUnknown:
		return DeviceUnknown
	case HostDatastick:
		return DeviceDatastick
	case HostKeyboard:
		return DeviceKeyboard
	case HostMouse:
		return DeviceMouse
	default:
		return Unknown
	}
}

// SlotSize is the fixed size of a queue slot: 1 header byte plus up to 8
// payload bytes, sized for the worst case (keyboard report).
const SlotSize = 9

// Message is one slot's worth of decoded link traffic, passed by value
// between COM-SM and USB-SM over the usb_to_com / com_to_usb queues.
// Bytes beyond Header.PayloadLen() are undefined and must not be read.
type Message struct {
	Header  Header
	Payload [SlotSize - 1]byte
}

// Len returns the number of meaningful payload bytes in m.
func (m *Message) Len() int {
	return m.Header.PayloadLen()
}

// MouseReport is the 4-byte HID mouse report payload.
type MouseReport struct {
	Buttons uint8
	DX      int8
	DY      int8
	Wheel   int8
}

// MarshalTo writes the report into the message's payload bytes.
func (r MouseReport) MarshalTo(m *Message) {
	m.Header = ReportMouse
	m.Payload[0] = r.Buttons
	m.Payload[1] = byte(r.DX)
	m.Payload[2] = byte(r.DY)
	m.Payload[3] = byte(r.Wheel)
}

// MouseReportFrom decodes a mouse report from a message's payload.
func MouseReportFrom(m *Message) MouseReport {
	return MouseReport{
		Buttons: m.Payload[0],
		DX:      int8(m.Payload[1]),
		DY:      int8(m.Payload[2]),
		Wheel:   int8(m.Payload[3]),
	}
}

// KeyboardReport is the 8-byte HID boot keyboard report payload.
type KeyboardReport struct {
	Modifier uint8
	Reserved uint8
	Keycodes [6]uint8
}

// MarshalTo writes the report into the message's payload bytes.
func (r KeyboardReport) MarshalTo(m *Message) {
	m.Header = ReportKeyboard
	m.Payload[0] = r.Modifier
	m.Payload[1] = r.Reserved
	copy(m.Payload[2:8], r.Keycodes[:])
}

// KeyboardReportFrom decodes a keyboard report from a message's payload.
func KeyboardReportFrom(m *Message) KeyboardReport {
	var r KeyboardReport
	r.Modifier = m.Payload[0]
	r.Reserved = m.Payload[1]
	copy(r.Keycodes[:], m.Payload[2:8])
	return r
}

// UpdateMessage builds an UPDATE message for u.
func UpdateMessage(u Update) Message {
	var m Message
	m.Header = Update
	m.Payload[0] = uint8(u)
	return m
}

// StateMessage builds a STATE message asserting role r.
func StateMessage(r Role) Message {
	var m Message
	m.Header = State
	m.Payload[0] = uint8(r)
	return m
}
