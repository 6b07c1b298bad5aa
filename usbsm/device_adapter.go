package usbsm

import (
	"context"
	"sync"

	"github.com/ardnew/hidlink/device"
	"github.com/ardnew/hidlink/device/class/hid"
	"github.com/ardnew/hidlink/device/class/msc"
	"github.com/ardnew/hidlink/device/hal"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
)

// datastickBlocks and datastickBlockSize size the in-memory volume
// presented by DEVICE_DATASTICK; large enough to format, small enough to
// keep resident.
const (
	datastickBlocks    = 4096
	datastickBlockSize = 512
)

// Device adapts the local USB device controller HAL to the DeviceSide
// capability surface: it builds a fresh device.Device/device.Stack for
// whichever personality USB-SM enumerates and tears it down on
// Disconnect: installing a personality is implicit in each Enumerate call.
type Device struct {
	hal                hal.DeviceHAL
	vendorID           uint16
	productID          uint16
	manufacturer       string
	product            string
	serial             string

	mu       sync.Mutex
	stack    *device.Stack
	hidDrv   *hid.HID
	mscDrv   *msc.MSC
	mscStop  context.CancelFunc
}

// NewDevice constructs a Device bound to h, presenting vendorID/productID
// and the given descriptor strings for every personality it enumerates.
func NewDevice(h hal.DeviceHAL, vendorID, productID uint16, manufacturer, product, serial string) *Device {
	return &Device{
		hal:          h,
		vendorID:     vendorID,
		productID:    productID,
		manufacturer: manufacturer,
		product:      product,
		serial:       serial,
	}
}

// Disconnect tears down whichever personality is currently installed, if
// any. Calling Disconnect with nothing installed is a no-op.
func (d *Device) Disconnect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.disconnectLocked()
}

func (d *Device) disconnectLocked() error {
	if d.mscStop != nil {
		d.mscStop()
		d.mscStop = nil
	}
	d.hidDrv = nil
	d.mscDrv = nil
	if d.stack == nil {
		return nil
	}
	err := d.stack.Stop()
	d.stack = nil
	return err
}

// DetectHost reports whether VBUS/a host is present, independent of
// whether a personality is currently installed.
func (d *Device) DetectHost() bool {
	return d.hal.IsConnected()
}

func (d *Device) builder(product string) *device.DeviceBuilder {
	return device.NewDeviceBuilder().
		WithVendorProduct(d.vendorID, d.productID).
		WithStrings(d.manufacturer, product, d.serial).
		AddConfiguration(1)
}

// EnumerateAsMouse installs a HID boot-protocol mouse personality.
func (d *Device) EnumerateAsMouse(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.disconnectLocked(); err != nil {
		return err
	}

	drv := hid.New(hid.MouseReportDescriptor)
	builder := d.builder(d.product)
	drv.ConfigureDevice(builder, 0x81, hid.SubclassBoot, hid.ProtocolMouse)

	dev, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	if err := drv.AttachToInterface(dev, 1, 0); err != nil {
		return err
	}

	stack := device.NewStack(dev, d.hal)
	drv.SetStack(stack)
	if err := stack.Start(ctx); err != nil {
		return err
	}

	d.stack = stack
	d.hidDrv = drv
	pkg.LogInfo(pkg.ComponentUSBSM, "device enumerated as mouse")
	return nil
}

// EnumerateAsKeyboard installs a HID boot-protocol keyboard personality.
func (d *Device) EnumerateAsKeyboard(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.disconnectLocked(); err != nil {
		return err
	}

	drv := hid.New(hid.KeyboardReportDescriptor)
	builder := d.builder(d.product)
	drv.ConfigureDevice(builder, 0x81, hid.SubclassBoot, hid.ProtocolKeyboard)

	dev, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	if err := drv.AttachToInterface(dev, 1, 0); err != nil {
		return err
	}

	stack := device.NewStack(dev, d.hal)
	drv.SetStack(stack)
	if err := stack.Start(ctx); err != nil {
		return err
	}

	d.stack = stack
	d.hidDrv = drv
	pkg.LogInfo(pkg.ComponentUSBSM, "device enumerated as keyboard")
	return nil
}

// EnumerateAsDatastick installs a Mass Storage Bulk-Only Transport
// personality backed by an in-memory volume.
func (d *Device) EnumerateAsDatastick(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.disconnectLocked(); err != nil {
		return err
	}

	storage := msc.NewMemoryStorage(uint64(datastickBlocks)*datastickBlockSize, datastickBlockSize)
	drv := msc.New(storage, "HIDLINK ", "BRIDGE DATASTICK")

	builder := d.builder(d.product)
	drv.ConfigureDevice(builder, 0x81, 0x01)

	dev, err := builder.Build(ctx)
	if err != nil {
		return err
	}
	if err := drv.AttachToInterface(dev, 1, 0); err != nil {
		return err
	}

	stack := device.NewStack(dev, d.hal)
	drv.SetStack(stack)
	if err := stack.Start(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	go func() {
		if err := drv.Run(runCtx); err != nil && runCtx.Err() == nil {
			pkg.LogWarn(pkg.ComponentUSBSM, "datastick transport loop exited", "error", err)
		}
	}()

	d.stack = stack
	d.mscDrv = drv
	d.mscStop = cancel
	pkg.LogInfo(pkg.ComponentUSBSM, "device enumerated as datastick")
	return nil
}

// SendMouseReport forwards a mouse report to the host, if a mouse
// personality is currently installed.
func (d *Device) SendMouseReport(ctx context.Context, r proto.MouseReport) error {
	d.mu.Lock()
	drv := d.hidDrv
	d.mu.Unlock()
	if drv == nil {
		return pkg.ErrNotConfigured
	}
	report := hid.MouseReport{Buttons: r.Buttons, X: r.DX, Y: r.DY, Wheel: r.Wheel}
	return drv.SendMouseReport(ctx, &report)
}

// SendKeyboardReport forwards a keyboard report to the host, if a
// keyboard personality is currently installed.
func (d *Device) SendKeyboardReport(ctx context.Context, r proto.KeyboardReport) error {
	d.mu.Lock()
	drv := d.hidDrv
	d.mu.Unlock()
	if drv == nil {
		return pkg.ErrNotConfigured
	}
	report := hid.KeyboardReport{Modifiers: r.Modifier, Reserved: r.Reserved, Keys: r.Keycodes}
	return drv.SendKeyboardReport(ctx, &report)
}

var _ DeviceSide = (*Device)(nil)
