// Package transport carries ATT PDUs between a GATT server and its peers.
//
// A Conn has packet semantics: every Write sends one whole PDU and every Read returns one
// whole PDU. The Linux L2CAP channel gives this natively; stream transports used for
// development and testing frame PDUs themselves (see NewLineConn).
package transport

import (
	"context"
	"errors"
	"io"
	"net"
)

var (
	// ErrClosed is returned by operations on a closed Conn or Listener.
	ErrClosed = errors.New("transport closed")
	// ErrUnsupported is returned when a transport is not available on this platform.
	ErrUnsupported = errors.New("transport not supported on this platform")
	// ErrPacketTooLarge is returned by Read when the caller's buffer cannot hold a whole PDU.
	// The buffer is filled with the PDU's leading octets and the rest is discarded, so the
	// connection stays usable.
	ErrPacketTooLarge = errors.New("packet does not fit the read buffer")
)

// Conn is one bearer between the server and a single peer.
type Conn interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
}

// Listener accepts peer connections.
type Listener interface {
	// Accept blocks until a peer connects, ctx is done or the listener is closed.
	Accept(ctx context.Context) (Conn, error)
	Close() error
	Addr() net.Addr
}

// Addr is a net.Addr for transports without a native address type.
type Addr struct {
	Net  string
	Name string
}

// readPacket copies pkt into b, truncating it with ErrPacketTooLarge when it does not fit.
func readPacket(b, pkt []byte) (int, error) {
	n := copy(b, pkt)
	if n < len(pkt) {
		return n, ErrPacketTooLarge
	}
	return n, nil
}

func (a Addr) Network() string { return a.Net }
func (a Addr) String() string  { return a.Name }
