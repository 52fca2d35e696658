package transport

import (
	"context"
	"net"
	"sync"
)

// pipeDepth is the number of PDUs either direction of a pipe buffers before Write blocks.
const pipeDepth = 64

type pipeEnd struct {
	rx     <-chan []byte
	tx     chan<- []byte
	local  Addr
	remote Addr

	// closed is shared by both ends: closing either end closes the pipe.
	closed    chan struct{}
	closeOnce *sync.Once
}

// Pipe returns two connected in-memory ends. Unlike net.Pipe, writes are buffered and
// packet boundaries are preserved.
func Pipe() (Conn, Conn) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	closed := make(chan struct{})
	once := &sync.Once{}

	a := &pipeEnd{rx: ba, tx: ab, local: Addr{"pipe", "server"}, remote: Addr{"pipe", "central"}, closed: closed, closeOnce: once}
	b := &pipeEnd{rx: ab, tx: ba, local: Addr{"pipe", "central"}, remote: Addr{"pipe", "server"}, closed: closed, closeOnce: once}
	return a, b
}

func (p *pipeEnd) Read(b []byte) (int, error) {
	select {
	case pkt := <-p.rx:
		return readPacket(b, pkt)
	case <-p.closed:
		// Drain whatever the peer wrote before closing.
		select {
		case pkt := <-p.rx:
			return readPacket(b, pkt)
		default:
			return 0, ErrClosed
		}
	}
}

func (p *pipeEnd) Write(b []byte) (int, error) {
	pkt := make([]byte, len(b))
	copy(pkt, b)

	select {
	case <-p.closed:
		return 0, ErrClosed
	default:
	}
	select {
	case p.tx <- pkt:
		return len(b), nil
	case <-p.closed:
		return 0, ErrClosed
	}
}

func (p *pipeEnd) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *pipeEnd) RemoteAddr() net.Addr { return p.remote }

// PipeListener hands out the server ends of pipes created by Dial.
type PipeListener struct {
	conns     chan Conn
	done      chan struct{}
	closeOnce sync.Once
}

// NewPipeListener returns an in-memory listener.
func NewPipeListener() *PipeListener {
	return &PipeListener{
		conns: make(chan Conn),
		done:  make(chan struct{}),
	}
}

// Dial connects a new peer and returns its end. It blocks until the server accepts.
func (l *PipeListener) Dial(ctx context.Context) (Conn, error) {
	server, central := Pipe()
	select {
	case l.conns <- server:
		return central, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *PipeListener) Accept(ctx context.Context) (Conn, error) {
	select {
	case c := <-l.conns:
		return c, nil
	case <-l.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *PipeListener) Close() error {
	l.closeOnce.Do(func() { close(l.done) })
	return nil
}

func (l *PipeListener) Addr() net.Addr { return Addr{"pipe", "pipe"} }
