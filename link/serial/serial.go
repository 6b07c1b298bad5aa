//go:build linux

// Package serial adapts a real 8N1 UART to link.Transport using
// github.com/daedaluz/goserial, the termios-based serial port library
// retrieved alongside the Linux usbfs host HAL.
package serial

import (
	"context"
	"time"

	goserial "github.com/daedaluz/goserial"

	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/pkg"
)

// Transport implements link.Transport over a real serial device node.
type Transport struct {
	port *goserial.Port
}

// Open opens path as 8N1, no flow control, at config.BaudRate.
func Open(path string) (*Transport, error) {
	opts := goserial.NewOptions().SetReadTimeout(0)
	port, err := goserial.Open(path, opts)
	if err != nil {
		return nil, err
	}

	if err := port.MakeRaw(); err != nil {
		port.Close()
		return nil, err
	}

	attrs, err := port.GetAttr2()
	if err != nil {
		port.Close()
		return nil, err
	}
	attrs.SetCustomSpeed(config.BaudRate)
	attrs.Cflag &= ^(goserial.CSIZE | goserial.PARENB | goserial.CSTOPB)
	attrs.Cflag |= goserial.CS8 | goserial.CLOCAL | goserial.CREAD
	if err := port.SetAttr2(goserial.TCSANOW, attrs); err != nil {
		port.Close()
		return nil, err
	}

	pkg.LogInfo(pkg.ComponentLink, "serial port opened", "path", path, "baud", config.BaudRate)
	return &Transport{port: port}, nil
}

// Write writes buf to the port in full.
func (t *Transport) Write(buf []byte) error {
	_, err := t.port.Write(buf)
	return err
}

// Flush discards unread input buffered by the kernel tty layer.
func (t *Transport) Flush() error {
	return t.port.Flush(goserial.TCIFLUSH)
}

// Read copies up to n bytes into dest, honoring ctx's deadline.
func (t *Transport) Read(ctx context.Context, dest []byte, n int) (int, error) {
	timeout := time.Duration(-1)
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout < 0 {
			timeout = 0
		}
	}

	got := 0
	for got < n {
		if err := ctx.Err(); err != nil {
			return got, nil
		}
		m, err := t.port.ReadTimeout(dest[got:n], timeout)
		if err != nil {
			return got, err
		}
		if m == 0 {
			return got, nil
		}
		got += m
	}
	return got, nil
}

// Close releases the underlying file descriptor.
func (t *Transport) Close() error {
	return t.port.Close()
}
