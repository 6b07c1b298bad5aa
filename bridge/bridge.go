// Package bridge wires COM-SM and USB-SM together around the two
// inter-state-machine queues, the Go analogue of main.c's task creation
// and queue setup. COM-SM and USB-SM each run in their own goroutine;
// this package owns neither the transport nor the USB stacks, only
// their coordination.
package bridge

import (
	"context"
	"sync"

	"github.com/ardnew/hidlink/comsm"
	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/link"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
	"github.com/ardnew/hidlink/usbsm"
)

// Bridge couples one ComSM/USBSM pair over two bounded queues:
// usb_to_com carries USB-SM's outbound UPDATEs and reports, com_to_usb
// carries COM-SM's decoded inbound traffic.
type Bridge struct {
	com *comsm.ComSM
	usb *usbsm.USBSM
}

// New constructs a Bridge over l using device/host as the USB-SM's
// capability surface, with cfg controlling link timing.
func New(l *link.Link, device usbsm.DeviceSide, host usbsm.HostSide, cfg config.Bridge) *Bridge {
	usbToCom := make(chan proto.Message, config.QueueDepth)
	comToUsb := make(chan proto.Message, config.QueueDepth)

	usb := usbsm.New(device, host, usbToCom, comToUsb)
	com := comsm.New(l, usb, usbToCom, comToUsb, cfg)

	return &Bridge{com: com, usb: usb}
}

// Run starts both state machines and blocks until ctx is cancelled and
// both have returned. COM-SM and USB-SM run concurrently, one per
// logical core on the original firmware, coordinating only through the
// queues and the shared role byte.
func (b *Bridge) Run(ctx context.Context) {
	pkg.LogInfo(pkg.ComponentBridge, "bridge starting")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.com.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		b.usb.Run(ctx)
	}()

	wg.Wait()
	pkg.LogInfo(pkg.ComponentBridge, "bridge stopped")
}

// Role returns the endpoint's current USB role, useful for diagnostics.
func (b *Bridge) Role() proto.Role {
	return b.usb.Role()
}
