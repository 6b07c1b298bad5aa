package comsm

import (
	"context"
	"testing"
	"time"

	"github.com/ardnew/hidlink/config"
	"github.com/ardnew/hidlink/link"
	"github.com/ardnew/hidlink/link/memtransport"
	"github.com/ardnew/hidlink/proto"
)

type fixedRole struct{ r proto.Role }

func (f fixedRole) Role() proto.Role { return f.r }

func newComSM(t *testing.T, l *link.Link, role proto.Role) (*ComSM, chan proto.Message, chan proto.Message) {
	t.Helper()
	usbToCom := make(chan proto.Message, config.QueueDepth)
	comToUsb := make(chan proto.Message, config.QueueDepth)
	cfg := config.New(config.WithBackoff(5*time.Millisecond, 15*time.Millisecond))
	return New(l, fixedRole{role}, usbToCom, comToUsb, cfg), usbToCom, comToUsb
}

// TestColdRendezvous exercises a cold start: both endpoints start in
// BACKOFF with an empty wire and converge to alternating ACKs.
func TestColdRendezvous(t *testing.T) {
	ta, tb := memtransport.Pair()
	la, lb := link.New(ta), link.New(tb)

	a, usbToComA, comToUsbA := newComSM(t, la, proto.Unknown)
	b, usbToComB, comToUsbB := newComSM(t, lb, proto.Unknown)
	_ = usbToComA
	_ = usbToComB

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go a.Run(ctx)
	go b.Run(ctx)

	// Neither side emits a role-change UPDATE, so no STATE mismatch should
	// ever be posted to either USB-SM queue once both roles are UNKNOWN.
	select {
	case m := <-comToUsbA:
		t.Fatalf("unexpected message to A's USB-SM: %+v", m)
	case <-time.After(500 * time.Millisecond):
	}
	select {
	case m := <-comToUsbB:
		t.Fatalf("unexpected message to B's USB-SM: %+v", m)
	case <-time.After(10 * time.Millisecond):
	}
}

// TestStateMismatchForcesUnknown exercises a peer asserting a STATE that
// doesn't mirror our role, which causes us to reassert our own STATE
// and notify USB-SM to reset.
func TestStateMismatchForcesUnknown(t *testing.T) {
	ta, tb := memtransport.Pair()
	la := link.New(ta)
	lb := link.New(tb)

	a, _, comToUsbA := newComSM(t, la, proto.HostMouse)
	a.state = stateRead

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.runRead(ctx)
		close(done)
	}()

	// Peer asserts DEVICE_KEYBOARD; A's desired peer state is DEVICE_MOUSE.
	msg := proto.StateMessage(proto.DeviceKeyboard)
	if err := lb.SendHeader(msg.Header); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if err := lb.SendData(msg.Payload[:], msg.Len()); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	<-done
	if a.state != stateWrite {
		t.Fatalf("state = %v, want stateWrite", a.state)
	}

	select {
	case got := <-comToUsbA:
		if got.Header != proto.State {
			t.Fatalf("forwarded header = %v, want STATE", got.Header)
		}
		if proto.Role(got.Payload[0]) != proto.HostMouse {
			t.Fatalf("forwarded role = %v, want HOST_MOUSE", proto.Role(got.Payload[0]))
		}
	case <-time.After(time.Second):
		t.Fatal("expected a STATE message forwarded to USB-SM")
	}

	// A should have replied with its own STATE on the wire.
	h := lb.ReadHeader(ctx, 200*time.Millisecond)
	if h != proto.State {
		t.Fatalf("peer-observed reply header = %v, want STATE", h)
	}
}

// TestMouseReportForwarding exercises the report path in isolation: a
// REPORT_MOUSE arriving in READ is decoded and forwarded
// intact to USB-SM.
func TestMouseReportForwarding(t *testing.T) {
	ta, tb := memtransport.Pair()
	la := link.New(ta)
	lb := link.New(tb)

	a, _, comToUsbA := newComSM(t, la, proto.DeviceMouse)
	a.state = stateRead

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		a.runRead(ctx)
		close(done)
	}()

	report := proto.MouseReport{Buttons: 0x01, DX: 5, DY: -3, Wheel: 0}
	var msg proto.Message
	report.MarshalTo(&msg)
	if err := lb.SendHeader(msg.Header); err != nil {
		t.Fatalf("SendHeader: %v", err)
	}
	if err := lb.SendData(msg.Payload[:], msg.Len()); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	<-done

	select {
	case got := <-comToUsbA:
		gotReport := proto.MouseReportFrom(&got)
		if gotReport != report {
			t.Fatalf("forwarded report = %+v, want %+v", gotReport, report)
		}
	case <-time.After(time.Second):
		t.Fatal("expected mouse report forwarded to USB-SM")
	}
}
