//go:build linux

package main

import (
	hostlinux "github.com/ardnew/hidlink/host/hal/linux"
	"github.com/ardnew/hidlink/usbsm"
)

// newLinuxHostSide wraps the usbfs-backed Linux host HAL, for running
// against a real USB host controller instead of the FIFO test HAL.
func newLinuxHostSide() (usbsm.HostSide, error) {
	return usbsm.NewHost(hostlinux.NewHostHAL()), nil
}
