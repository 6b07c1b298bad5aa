// Package link implements the framed, FEC-protected byte I/O that sits
// between the communication state machine and a raw serial transport.
// Every semantic byte is carried as two Hamming(7,4) carrier bytes
// produced by the fec package; Link strips the framing back off on read.
package link

import (
	"context"
	"time"

	"github.com/ardnew/hidlink/fec"
	"github.com/ardnew/hidlink/pkg"
	"github.com/ardnew/hidlink/proto"
)

// Transport is the raw byte-oriented serial connection Link runs over.
// Implementations must never buffer partial reads across calls: a short
// read discards whatever arrived.
type Transport interface {
	// Write writes buf in full or returns an error.
	Write(buf []byte) error

	// Flush discards any unread input and reflected transmissions.
	Flush() error

	// Read blocks until either n bytes have arrived, the deadline elapses,
	// or an error occurs, returning the number of bytes copied into dest.
	// A timeout is not itself an error: Read returns the partial (possibly
	// zero) count with a nil error.
	Read(ctx context.Context, dest []byte, n int) (int, error)
}

// Link wraps a Transport with the Hamming(7,4) framing contract.
type Link struct {
	t Transport

	carrier [2 * (proto.SlotSize)]byte
	decoded [proto.SlotSize]byte
}

// New wraps t in a Link.
func New(t Transport) *Link {
	return &Link{t: t}
}

// SendHeader encodes and transmits a single header byte.
func (l *Link) SendHeader(h proto.Header) error {
	hi, lo := fec.EncodeByte(byte(h))
	var buf [2]byte
	buf[0], buf[1] = hi, lo
	if err := l.t.Write(buf[:]); err != nil {
		return err
	}
	return l.t.Flush()
}

// SendData encodes and transmits n bytes of buf.
func (l *Link) SendData(buf []byte, n int) error {
	carrier := fec.EncodeBytes(l.carrier[:0], buf[:n])
	if err := l.t.Write(carrier); err != nil {
		return err
	}
	return l.t.Flush()
}

// ReadHeader attempts to read and decode a single header byte within
// timeout. It returns proto.NoHeader if nothing arrived and proto.ErrHeader
// if exactly one of the two carrier bytes arrived.
func (l *Link) ReadHeader(ctx context.Context, timeout time.Duration) proto.Header {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var buf [2]byte
	n, err := l.t.Read(rctx, buf[:], 2)
	if err != nil {
		pkg.LogDebug(pkg.ComponentLink, "read_header error", "error", err)
	}
	switch n {
	case 2:
		return proto.Header(fec.DecodeByte(buf[0], buf[1]))
	case 1:
		return proto.ErrHeader
	default:
		return proto.NoHeader
	}
}

// ReadData attempts to read and decode n payload bytes into dest within
// timeout. It returns the number of carrier bytes actually read (not the
// decoded byte count); on a short read dest is left untouched and the
// partial data is discarded.
func (l *Link) ReadData(ctx context.Context, dest []byte, n int, timeout time.Duration) int {
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	want := 2 * n
	carrier := l.carrier[:want]
	got, err := l.t.Read(rctx, carrier, want)
	if err != nil {
		pkg.LogDebug(pkg.ComponentLink, "read_data error", "error", err)
	}
	if got == want {
		decoded := fec.DecodeBytes(l.decoded[:0], carrier[:got])
		copy(dest[:n], decoded)
	}
	return got
}

// Flush discards any unread input on the underlying transport.
func (l *Link) Flush() error {
	return l.t.Flush()
}
