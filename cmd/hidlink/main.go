//go:build linux

// Command hidlink runs one endpoint of the half-duplex HID bridge: it reads
// a serial link to/from the peer endpoint, and mirrors whichever HID/MSC
// device is locally attached to whichever personality its peer needs
// presented to its own host, or vice versa.
//
// Usage:
//
//	hidlink [options] <serial-device>
//
// Options:
//
//	-v                  enable verbose (debug) logging
//	-json               use JSON log format
//	-device-bus dir     FIFO bus directory for the local device-side HAL
//	-host-bus dir       FIFO bus directory for the local host-side HAL
//	-usb-host-hal kind  host-side HAL: "fifo" (default) or "linux"
//	-vendor id          device-side vendor ID presented to the peer (hex)
//	-product id         device-side product ID presented to the peer (hex)
//	-cpuprofile path    write a CPU profile to path (requires -tags profile)
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ardnew/hidlink/bridge"
	"github.com/ardnew/hidlink/config"
	devicehal "github.com/ardnew/hidlink/device/hal/fifo"
	hostfifo "github.com/ardnew/hidlink/host/hal/fifo"
	"github.com/ardnew/hidlink/link"
	"github.com/ardnew/hidlink/link/serial"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/pkg/prof"
	"github.com/ardnew/hidlink/usbsm"
)

// component identifies this executable for structured logging.
const component = pkg.ComponentBridge

func main() {
	verbose := flag.Bool("v", false, "enable verbose (debug) logging")
	jsonLog := flag.Bool("json", false, "use JSON log format")
	deviceBus := flag.String("device-bus", "", "FIFO bus directory for the local device-side HAL")
	hostBus := flag.String("host-bus", "", "FIFO bus directory for the local host-side HAL")
	usbHostHAL := flag.String("usb-host-hal", "fifo", `host-side HAL: "fifo" or "linux"`)
	vendorFlag := flag.String("vendor", "1d50", "device-side vendor ID presented to the peer (hex)")
	productFlag := flag.String("product", "6018", "device-side product ID presented to the peer (hex)")
	cpuProfile := flag.String("cpuprofile", "", "write a CPU profile to path")
	flag.Parse()

	if *verbose {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if *jsonLog {
		pkg.SetLogFormat(pkg.LogFormatJSON)
	}

	if flag.NArg() < 1 {
		pkg.LogError(component, "missing serial device argument",
			"usage", "hidlink [options] <serial-device>")
		os.Exit(1)
	}
	serialPath := flag.Arg(0)

	vendorID, err := parseHexID(*vendorFlag)
	if err != nil {
		pkg.LogError(component, "invalid -vendor", "error", err)
		os.Exit(1)
	}
	productID, err := parseHexID(*productFlag)
	if err != nil {
		pkg.LogError(component, "invalid -product", "error", err)
		os.Exit(1)
	}

	if *cpuProfile != "" {
		if err := prof.StartCPU(*cpuProfile); err != nil {
			pkg.LogError(component, "failed to start CPU profile", "error", err)
			os.Exit(1)
		}
		defer prof.StopCPU()
	}

	transport, err := serial.Open(serialPath)
	if err != nil {
		pkg.LogError(component, "failed to open serial device", "path", serialPath, "error", err)
		os.Exit(1)
	}
	defer transport.Close()

	host, err := newHostSide(*usbHostHAL, *hostBus)
	if err != nil {
		pkg.LogError(component, "failed to configure host HAL", "error", err)
		os.Exit(1)
	}

	dev := usbsm.NewDevice(
		devicehal.New(*deviceBus),
		vendorID, productID,
		"hidlink", "hidlink bridge", serialNumber(serialPath),
	)

	cfg := config.New()
	b := bridge.New(link.New(transport), dev, host, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		pkg.LogInfo(component, "shutting down")
		cancel()
	}()

	pkg.LogInfo(component, "starting bridge", "serial", serialPath,
		"vendor", fmt.Sprintf("%04x", vendorID), "product", fmt.Sprintf("%04x", productID))
	b.Run(ctx)
}

func parseHexID(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}

// serialNumber derives a stable USB serial-number string from the serial
// device path so repeated runs against the same port present consistently.
func serialNumber(path string) string {
	if len(path) > 8 {
		return path[len(path)-8:]
	}
	return path
}

func newHostSide(kind, busDir string) (usbsm.HostSide, error) {
	switch kind {
	case "fifo":
		return usbsm.NewHost(hostfifo.NewHostHAL(busDir)), nil
	case "linux":
		return newLinuxHostSide()
	default:
		return nil, fmt.Errorf("unknown -usb-host-hal %q", kind)
	}
}
