package usbsm

import (
	"context"
	"time"

	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
)

// handleUnknown implements the UNKNOWN role.
func (u *USBSM) handleUnknown(ctx context.Context, header proto.Header, msg proto.Message) {
	switch {
	case header == proto.Update && payloadUpdate(msg) == proto.HostConnected:
		// The peer has found a host, so we must present a device
		// interface to our local USB device: we must host.
		if err := u.device.Disconnect(); err != nil {
			pkg.LogError(pkg.ComponentUSBSM, "disconnect_device failed", "error", err)
		}
		if err := u.host.Install(ctx); err != nil {
			pkg.LogError(pkg.ComponentUSBSM, "host_install failed", "error", err)
			return
		}
		u.setRole(proto.HostUnknown)

	case u.device.DetectHost():
		u.sendUpdateBlocking(ctx, proto.HostConnected)
		u.setRole(proto.DeviceUnknown)
	}

	// Unconditional idle regardless of which branch fired above, matching
	// state_machine_usb.c's UNKNOWN case.
	sleep(ctx, config.UnknownPollIdle)
}

// handleDeviceUnknown implements the DEVICE_UNKNOWN role.
func (u *USBSM) handleDeviceUnknown(ctx context.Context, header proto.Header, msg proto.Message) {
	if header == proto.Update {
		if err := u.device.Disconnect(); err != nil {
			pkg.LogError(pkg.ComponentUSBSM, "disconnect_device failed", "error", err)
		}
		switch payloadUpdate(msg) {
		case proto.MouseConnected:
			if err := u.device.EnumerateAsMouse(ctx); err != nil {
				pkg.LogError(pkg.ComponentUSBSM, "enumerate_as_mouse failed", "error", err)
				return
			}
			u.setRole(proto.DeviceMouse)
			sleep(ctx, config.EnumerationPause)
		case proto.KeyboardConnected:
			if err := u.device.EnumerateAsKeyboard(ctx); err != nil {
				pkg.LogError(pkg.ComponentUSBSM, "enumerate_as_keyboard failed", "error", err)
				return
			}
			u.setRole(proto.DeviceKeyboard)
			sleep(ctx, config.EnumerationPause)
		case proto.DatastickConnected:
			if err := u.device.EnumerateAsDatastick(ctx); err != nil {
				pkg.LogError(pkg.ComponentUSBSM, "enumerate_as_datastick failed", "error", err)
				return
			}
			u.setRole(proto.DeviceDatastick)
			sleep(ctx, config.EnumerationPause)
		}
		return
	}

	if !u.device.DetectHost() {
		u.setRole(proto.Unknown)
		u.sendUpdateBlocking(ctx, proto.HostDisconnected)
	}
}

// handleDeviceExit is the shared DEVICE_{MOUSE,KEYBOARD,DATASTICK}
// exit-condition pattern: return to DEVICE_UNKNOWN on an explicit
// DEVICE_DISCONNECTED update, or fall all the way back to UNKNOWN if the
// local host itself vanished.
func (u *USBSM) handleDeviceExit(ctx context.Context, header proto.Header, msg proto.Message) {
	if header == proto.Update && payloadUpdate(msg) == proto.DeviceDisconnected {
		if err := u.device.Disconnect(); err != nil {
			pkg.LogError(pkg.ComponentUSBSM, "disconnect_device failed", "error", err)
		}
		u.setRole(proto.DeviceUnknown)
		return
	}

	if !u.device.DetectHost() {
		if err := u.device.Disconnect(); err != nil {
			pkg.LogError(pkg.ComponentUSBSM, "disconnect_device failed", "error", err)
		}
		u.setRole(proto.Unknown)
		u.sendUpdateBlocking(ctx, proto.HostDisconnected)
	}
}

// handleDeviceDatastick implements the DEVICE_DATASTICK role. Payload
// forwarding does not apply here: Mass Storage traffic runs over its own
// bulk endpoints on the device stack, entirely independent of the HID
// report path COM-SM carries.
func (u *USBSM) handleDeviceDatastick(ctx context.Context, header proto.Header, msg proto.Message) {
	u.handleDeviceExit(ctx, header, msg)
}

// handleDeviceKeyboard implements the DEVICE_KEYBOARD role.
func (u *USBSM) handleDeviceKeyboard(ctx context.Context, header proto.Header, msg proto.Message) {
	if header == proto.ReportKeyboard {
		report := proto.KeyboardReportFrom(&msg)
		if err := u.device.SendKeyboardReport(ctx, report); err != nil {
			pkg.LogWarn(pkg.ComponentUSBSM, "send_keyboard_report failed", "error", err)
		}
	}
	u.handleDeviceExit(ctx, header, msg)
}

// handleDeviceMouse implements the DEVICE_MOUSE role.
func (u *USBSM) handleDeviceMouse(ctx context.Context, header proto.Header, msg proto.Message) {
	if header == proto.ReportMouse {
		report := proto.MouseReportFrom(&msg)
		if err := u.device.SendMouseReport(ctx, report); err != nil {
			pkg.LogWarn(pkg.ComponentUSBSM, "send_mouse_report failed", "error", err)
		}
	}
	u.handleDeviceExit(ctx, header, msg)
}

// handleHostUnknown implements the HOST_UNKNOWN role.
func (u *USBSM) handleHostUnknown(ctx context.Context, header proto.Header, msg proto.Message) {
	switch u.host.DetectDevice() {
	case KindMouse:
		u.setRole(proto.HostMouse)
		u.sendUpdateBlocking(ctx, proto.MouseConnected)
	case KindKeyboard:
		u.setRole(proto.HostKeyboard)
		u.sendUpdateBlocking(ctx, proto.KeyboardConnected)
	case KindDatastick:
		u.setRole(proto.HostDatastick)
		u.sendUpdateBlocking(ctx, proto.DatastickConnected)
	case KindNone:
		// stay in HOST_UNKNOWN
	}

	u.handleHostDisconnect(ctx, header, msg)
	u.handleHosting(ctx)
}

// handleHostDisconnect is the shared HOST_* reaction to the peer
// announcing its own host has gone away: uninstall and fall back to
// UNKNOWN.
func (u *USBSM) handleHostDisconnect(ctx context.Context, header proto.Header, msg proto.Message) {
	if header != proto.Update || payloadUpdate(msg) != proto.HostDisconnected {
		return
	}
	if err := u.host.Uninstall(); err != nil {
		pkg.LogError(pkg.ComponentUSBSM, "host_uninstall failed", "error", err)
	}
	u.setRole(proto.Unknown)
}

// handleHostRole implements the shared HOST_{KEYBOARD,MOUSE,DATASTICK}
// pattern: fall back to HOST_UNKNOWN when the device disappears, or to
// UNKNOWN on HOST_DISCONNECTED, servicing host-stack events either way.
func (u *USBSM) handleHostRole(ctx context.Context, header proto.Header, msg proto.Message) {
	if u.host.DetectDevice() == KindNone {
		u.setRole(proto.HostUnknown)
		u.sendUpdateBlocking(ctx, proto.DeviceDisconnected)
	}
	u.handleHostDisconnect(ctx, header, msg)
	u.handleHosting(ctx)
}

// handleHostKeyboard implements HOST_KEYBOARD.
func (u *USBSM) handleHostKeyboard(ctx context.Context, header proto.Header, msg proto.Message) {
	u.handleHostRole(ctx, header, msg)
}

// handleHostMouse implements HOST_MOUSE.
func (u *USBSM) handleHostMouse(ctx context.Context, header proto.Header, msg proto.Message) {
	u.handleHostRole(ctx, header, msg)
}

// handleHosting services the private host-event queue: at most one event
// is drained per loop iteration with a 10ms poll. Input reports become
// REPORT_MOUSE/REPORT_KEYBOARD messages posted to usb_to_com without
// blocking.
func (u *USBSM) handleHosting(ctx context.Context) {
	var ev HostEvent
	select {
	case ev = <-u.host.Events():
	case <-time.After(config.HostEventPollIdle):
		return
	case <-ctx.Done():
		return
	}

	if ev.Kind != HostEventInputReport {
		return
	}

	var msg proto.Message
	switch ev.Device {
	case KindMouse:
		if len(ev.Report) < 4 {
			return
		}
		report := proto.MouseReport{
			Buttons: ev.Report[0],
			DX:      int8(ev.Report[1]),
			DY:      int8(ev.Report[2]),
			Wheel:   int8(ev.Report[3]),
		}
		report.MarshalTo(&msg)
	case KindKeyboard:
		if len(ev.Report) < 8 {
			return
		}
		var kc [6]uint8
		copy(kc[:], ev.Report[2:8])
		report := proto.KeyboardReport{Modifier: ev.Report[0], Reserved: ev.Report[1], Keycodes: kc}
		report.MarshalTo(&msg)
	default:
		return
	}

	u.sendReportNonBlocking(msg)
}
