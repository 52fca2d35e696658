package testutils

import (
	"errors"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/srg/gattsrv/pkg/att"
	"github.com/srg/gattsrv/pkg/transport"
)

// DefaultExpectTimeout bounds how long Expect waits for the server.
const DefaultExpectTimeout = 2 * time.Second

// Central is a scripted peer on the client side of a bearer. It sends PDUs encoded for the
// largest MTU and collects whatever the server writes back.
type Central struct {
	t    require.TestingT
	conn transport.Conn
	rx   chan []byte
	done chan struct{}
}

// NewCentral starts collecting the server's PDUs from conn.
func NewCentral(t require.TestingT, conn transport.Conn) *Central {
	c := &Central{
		t:    t,
		conn: conn,
		rx:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go c.read()
	return c
}

func (c *Central) read() {
	defer close(c.done)
	buf := make([]byte, att.MaxMTU)
	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			return
		}
		c.rx <- append([]byte(nil), buf[:n]...)
	}
}

// Send encodes p and writes it to the server.
func (c *Central) Send(p att.PDU) {
	b, err := att.Encode(p, att.MaxMTU)
	require.NoError(c.t, err, "MUST encode %s", p.Opcode())
	c.SendRaw(b)
}

// SendRaw writes b to the server unchanged.
func (c *Central) SendRaw(b []byte) {
	_, err := c.conn.Write(b)
	require.NoError(c.t, err, "MUST write to the server")
}

// ExpectRaw returns the next PDU bytes the server wrote.
func (c *Central) ExpectRaw() []byte {
	select {
	case b := <-c.rx:
		return b
	case <-time.After(DefaultExpectTimeout):
		require.FailNow(c.t, "server MUST answer", "nothing received within %s", DefaultExpectTimeout)
		return nil
	}
}

// Expect returns the next PDU the server wrote, decoded.
func (c *Central) Expect() att.PDU {
	b := c.ExpectRaw()
	p, err := att.Decode(b)
	require.NoError(c.t, err, "server MUST send a well formed PDU: % X", b)
	return p
}

// Request sends p and returns the server's answer.
func (c *Central) Request(p att.PDU) att.PDU {
	c.Send(p)
	return c.Expect()
}

// ExpectNothing asserts the server writes nothing for d.
func (c *Central) ExpectNothing(d time.Duration) {
	select {
	case b := <-c.rx:
		require.FailNow(c.t, "server MUST stay silent", "received % X", b)
	case <-time.After(d):
	}
}

// ExpectClosed asserts the server closes the bearer.
func (c *Central) ExpectClosed() {
	select {
	case <-c.done:
	case <-time.After(DefaultExpectTimeout):
		require.FailNow(c.t, "server MUST close the connection")
	}
}

// Close disconnects from the server.
func (c *Central) Close() error {
	err := c.conn.Close()
	if errors.Is(err, transport.ErrClosed) {
		return nil
	}
	return err
}

// ExpectAs returns the next PDU, which must be of type P.
func ExpectAs[P att.PDU](c *Central) P {
	p := c.Expect()
	typed, ok := p.(P)
	require.True(c.t, ok, "server MUST answer with %T, got %T %+v", *new(P), p, p)
	return typed
}
