//go:build linux

package usbsm

import "github.com/ardnew/hidlink/pkg/linux/usbid"

var usbidDB = usbid.New()

func init() {
	usbidDB.Load()
}

func (a *Host) vendorName(vid uint16) string {
	return usbidDB.LookupVendor(vid)
}

func (a *Host) productName(vid, pid uint16) string {
	return usbidDB.LookupProduct(vid, pid)
}
