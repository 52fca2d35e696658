package transport

import (
	"context"
	"net"
	"sync"
)

// SingleListener yields one pre-established connection, then blocks until closed.
type SingleListener struct {
	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
	addr      net.Addr
}

// NewSingleListener serves conn to the first Accept.
func NewSingleListener(conn Conn) *SingleListener {
	l := &SingleListener{
		conns: make(chan Conn, 1),
		done:  make(chan struct{}),
		addr:  conn.RemoteAddr(),
	}
	l.conns <- conn
	return l
}

func (l *SingleListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	default:
	}
	select {
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *SingleListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *SingleListener) Addr() net.Addr { return l.addr }
