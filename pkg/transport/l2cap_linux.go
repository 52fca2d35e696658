//go:build linux

package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sys/unix"
)

const (
	// attCID is the fixed L2CAP channel of the Attribute Protocol on LE links.
	attCID = 0x0004

	bdaddrLEPublic = 0x01
)

// L2CAPListener accepts LE peers on the ATT fixed channel through the Linux Bluetooth
// stack. The adapter must be powered and advertising; bluetoothd's own GATT server must
// not hold the channel.
type L2CAPListener struct {
	fd int

	mu     sync.Mutex
	closed bool
}

// ListenL2CAP binds the ATT channel on any local adapter.
func ListenL2CAP() (Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, unix.BTPROTO_L2CAP)
	if err != nil {
		return nil, fmt.Errorf("l2cap socket: %w", err)
	}
	sa := &unix.SockaddrL2{CID: attCID, AddrType: bdaddrLEPublic}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("l2cap bind: %w", err)
	}
	if err := unix.Listen(fd, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("l2cap listen: %w", err)
	}
	return &L2CAPListener{fd: fd}, nil
}

func (l *L2CAPListener) Accept(ctx context.Context) (Conn, error) {
	stop := context.AfterFunc(ctx, func() {
		_ = unix.Shutdown(l.fd, unix.SHUT_RDWR)
	})
	defer stop()

	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if l.isClosed() || errors.Is(err, unix.EBADF) || errors.Is(err, unix.EINVAL) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("l2cap accept: %w", err)
	}
	return &l2capConn{fd: nfd, remote: peerAddr(sa)}, nil
}

func (l *L2CAPListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	_ = unix.Shutdown(l.fd, unix.SHUT_RDWR)
	return unix.Close(l.fd)
}

func (l *L2CAPListener) Addr() net.Addr {
	return Addr{Net: "l2cap", Name: fmt.Sprintf("cid 0x%04X", attCID)}
}

func (l *L2CAPListener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

type l2capConn struct {
	fd     int
	remote net.Addr

	closeOnce sync.Once
}

func (c *l2capConn) Read(b []byte) (int, error) {
	n, err := unix.Read(c.fd, b)
	if err != nil {
		if errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOTCONN) {
			return 0, ErrClosed
		}
		return 0, err
	}
	if n == 0 {
		return 0, ErrClosed
	}
	return n, nil
}

func (c *l2capConn) Write(b []byte) (int, error) {
	n, err := unix.Write(c.fd, b)
	if err != nil && (errors.Is(err, unix.EBADF) || errors.Is(err, unix.ENOTCONN)) {
		return 0, ErrClosed
	}
	return n, err
}

func (c *l2capConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = unix.Shutdown(c.fd, unix.SHUT_RDWR)
		err = unix.Close(c.fd)
	})
	return err
}

func (c *l2capConn) RemoteAddr() net.Addr { return c.remote }

// peerAddr renders the peer BD_ADDR, stored little-endian by the kernel.
func peerAddr(sa unix.Sockaddr) net.Addr {
	l2, ok := sa.(*unix.SockaddrL2)
	if !ok {
		return Addr{Net: "l2cap", Name: "unknown"}
	}
	a := l2.Addr
	return Addr{Net: "l2cap", Name: fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", a[5], a[4], a[3], a[2], a[1], a[0])}
}
