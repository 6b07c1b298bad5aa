package usbsm

import (
	"context"
	"sync"

	"github.com/ardnew/hidlink/host"
	"github.com/ardnew/hidlink/host/hal"
	"github.com/ardnew/hidlink/pkg"
)

// HID/MSC interface classification constants, as seen from the host side.
const (
	ifaceClassHID = 0x03
	ifaceClassMSC = 0x08

	hidProtocolKeyboard = 0x01
	hidProtocolMouse    = 0x02

	mscSubclassSCSI     = 0x06
	mscProtocolBulkOnly = 0x50
)

// hostEventQueueDepth is the capacity of the private host-event queue, a
// bounded queue distinct from usb_to_com.
const hostEventQueueDepth = 10

// Host adapts the local USB host controller HAL to the HostSide
// capability surface: it classifies whatever device enumerates and, once
// classified, polls its interrupt IN endpoint for input reports, posting
// them to the private host-event queue.
type Host struct {
	hal hal.HostHAL

	mu     sync.Mutex
	h      *host.Host
	ctx    context.Context
	cancel context.CancelFunc
	events chan HostEvent

	dev  *host.Device
	kind DeviceKind
}

// NewHost constructs a Host adapter bound to h.
func NewHost(h hal.HostHAL) *Host {
	return &Host{hal: h, events: make(chan HostEvent, hostEventQueueDepth)}
}

// Install starts the host controller.
func (a *Host) Install(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := host.New(a.hal)
	runCtx, cancel := context.WithCancel(ctx)
	h.SetOnDeviceConnect(func(dev *host.Device) {
		a.onConnect(dev)
	})
	h.SetOnDeviceDisconnect(func(dev *host.Device) {
		a.onDisconnect(dev)
	})

	if err := h.Start(runCtx); err != nil {
		cancel()
		return err
	}

	a.h = h
	a.ctx = runCtx
	a.cancel = cancel
	a.dev = nil
	a.kind = KindNone
	return nil
}

// Uninstall stops the host controller and discards any classified device.
func (a *Host) Uninstall() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.dev = nil
	a.kind = KindNone
	if a.h == nil {
		return nil
	}
	h := a.h
	a.h = nil
	return h.Stop()
}

// DetectDevice classifies the currently attached device, if any.
func (a *Host) DetectDevice() DeviceKind {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.kind
}

// Events returns the private host-event queue.
func (a *Host) Events() <-chan HostEvent {
	return a.events
}

func classify(dev *host.Device) DeviceKind {
	for _, iface := range dev.Interfaces() {
		switch iface.InterfaceClass {
		case ifaceClassHID:
			switch iface.InterfaceProtocol {
			case hidProtocolKeyboard:
				return KindKeyboard
			case hidProtocolMouse:
				return KindMouse
			}
		case ifaceClassMSC:
			if iface.InterfaceSubClass == mscSubclassSCSI && iface.InterfaceProtocol == mscProtocolBulkOnly {
				return KindDatastick
			}
		}
	}
	return KindNone
}

func reportEndpoint(dev *host.Device) (addr uint8, ok bool) {
	for _, ep := range dev.Endpoints() {
		if ep.EndpointAddress&0x80 != 0 {
			return ep.EndpointAddress, true
		}
	}
	return 0, false
}

func (a *Host) onConnect(dev *host.Device) {
	kind := classify(dev)
	if kind == KindNone {
		return
	}

	a.mu.Lock()
	a.dev = dev
	a.kind = kind
	ctx := a.ctx
	a.mu.Unlock()

	pkg.LogInfo(pkg.ComponentUSBSM, "host classified device", "kind", kind,
		"vendor", a.vendorName(dev.VendorID()), "product", a.productName(dev.VendorID(), dev.ProductID()))

	select {
	case a.events <- HostEvent{Kind: HostEventConnected, Device: kind}:
	default:
	}

	if kind != KindDatastick && ctx != nil {
		go a.pollReports(ctx, dev, kind)
	}
}

func (a *Host) onDisconnect(dev *host.Device) {
	a.mu.Lock()
	if a.dev == dev {
		a.dev = nil
		a.kind = KindNone
	}
	a.mu.Unlock()

	select {
	case a.events <- HostEvent{Kind: HostEventDisconnected}:
	default:
	}
}

// pollReports repeatedly polls the device's interrupt IN endpoint and
// surfaces each report as a host-event. It exits when the device
// disconnects or the host context is cancelled.
func (a *Host) pollReports(ctx context.Context, dev *host.Device, kind DeviceKind) {
	addr, ok := reportEndpoint(dev)
	if !ok {
		return
	}

	buf := make([]byte, 8)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		n, err := dev.InterruptTransfer(ctx, addr, buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		a.mu.Lock()
		stillCurrent := a.dev == dev
		a.mu.Unlock()
		if !stillCurrent {
			return
		}

		report := make([]byte, n)
		copy(report, buf[:n])
		select {
		case a.events <- HostEvent{Kind: HostEventInputReport, Device: kind, Report: report}:
		default:
			pkg.LogDebug(pkg.ComponentUSBSM, "host event queue full, dropping report")
		}
	}
}

var _ HostSide = (*Host)(nil)
