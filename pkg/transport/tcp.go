package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// TCPListener accepts peers over TCP, each framed as a LineConn. It lets desktop tools
// and tests drive the server without a Bluetooth controller.
type TCPListener struct {
	ln *net.TCPListener
}

// ListenTCP listens on address, for example "127.0.0.1:7001".
func ListenTCP(address string) (*TCPListener, error) {
	addr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return nil, err
	}
	ln, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &TCPListener{ln: ln}, nil
}

func (l *TCPListener) Accept(ctx context.Context) (Conn, error) {
	// Unblock Accept when ctx is done.
	stop := context.AfterFunc(ctx, func() {
		_ = l.ln.SetDeadline(time.Now())
	})
	defer stop()

	c, err := l.ln.AcceptTCP()
	if err != nil {
		if ctx.Err() != nil {
			_ = l.ln.SetDeadline(time.Time{})
			return nil, ctx.Err()
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	_ = c.SetNoDelay(true)
	return NewLineConn(c, c.RemoteAddr()), nil
}

func (l *TCPListener) Close() error {
	return l.ln.Close()
}

func (l *TCPListener) Addr() net.Addr {
	return l.ln.Addr()
}
