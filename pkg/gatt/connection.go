package gatt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/srg/gattsrv/internal/groutine"
	"github.com/srg/gattsrv/pkg/att"
	"github.com/srg/gattsrv/pkg/transport"
)

// State is the protocol state of a Connection.
type State int32

const (
	// StateAwaitingMTU is the initial state; requests are served at the default MTU.
	StateAwaitingMTU State = iota
	// StateReady is entered on the MTU exchange or on the first other request.
	StateReady
	// StateClosed is final.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingMTU:
		return "awaiting-mtu"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Connection runs the ATT server state machine for one peer.
//
// A single loop owns the transport writes and the session state. It takes one inbound PDU
// at a time from the reader goroutine, and the reader does not read the next PDU until the
// loop has answered the previous one, which keeps requests strictly serialized. Between
// inbound PDUs the loop serves Notify and Indicate pushes from the application.
type Connection[T comparable] struct {
	conn   transport.Conn
	db     *Database
	tokens *Tokens[T]
	opts   Options
	logger *logrus.Entry

	state atomic.Int32
	mtu   atomic.Uint32

	// subscriptions is written by the loop and read by application goroutines.
	subscriptions *hashmap.Map[uint16, Subscription]

	// Loop owned.
	pending  *outgoing
	queue    *indicationQueue
	prepared []PreparedWrite
	timer    *time.Timer

	inbound chan []byte
	ack     chan struct{}
	readErr chan error
	pushes  chan *outgoing
	events  chan Event[T]

	running   atomic.Bool
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

// NewConnection serves db over conn. db must be owned by this connection (see
// Database.Clone); tokens come from the Registration that built it. opts is used as given.
func NewConnection[T comparable](conn transport.Conn, db *Database, tokens *Tokens[T], opts Options, logger *logrus.Logger) *Connection[T] {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.normalized()

	c := &Connection[T]{
		conn:          conn,
		db:            db,
		tokens:        tokens,
		opts:          opts,
		logger:        logger.WithField("remote", conn.RemoteAddr().String()),
		subscriptions: hashmap.New[uint16, Subscription](),
		queue:         newIndicationQueue(opts.IndicationQueueDepth),
		inbound:       make(chan []byte),
		ack:           make(chan struct{}, 1),
		readErr:       make(chan error, 1),
		pushes:        make(chan *outgoing, opts.PushBuffer),
		events:        make(chan Event[T], opts.EventBuffer),
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.mtu.Store(att.DefaultMTU)
	return c
}

// Outgoing returns the handle used to push notifications and indications.
func (c *Connection[T]) Outgoing() Outgoing[T] {
	return Outgoing[T]{c: c}
}

// Subscription reports the peer's current CCCD flags for token's characteristic.
func (c *Connection[T]) Subscription(token T) (Subscription, error) {
	return c.Outgoing().Subscription(token)
}

// State returns the current protocol state.
func (c *Connection[T]) State() State {
	return State(c.state.Load())
}

// MTU returns the ATT_MTU in effect.
func (c *Connection[T]) MTU() int {
	return int(c.mtu.Load())
}

// RemoteAddr returns the peer's transport address.
func (c *Connection[T]) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Database returns the database the connection serves.
func (c *Connection[T]) Database() *Database {
	return c.db
}

// Done is closed once the connection has shut down.
func (c *Connection[T]) Done() <-chan struct{} {
	return c.done
}

// Run serves the peer until the transport ends, ctx is done or Close is called. A peer
// disconnect and Close yield nil; a transport failure or an unconfirmed indication
// (ErrTransactionTimeout) is returned. On return the transport is closed, the event stream
// has ended and every pending indication has failed with ErrConnectionClosed.
func (c *Connection[T]) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		select {
		case <-c.closing:
			return ErrConnectionClosed
		default:
			return ErrAlreadyRunning
		}
	}

	c.logger.Info("Connection started")
	groutine.Go(ctx, "att-reader:"+c.conn.RemoteAddr().String(), c.readLoop)

	err := c.loop(ctx)
	c.shutdown(err)
	return err
}

// Close stops the connection and waits for it to shut down.
func (c *Connection[T]) Close() error {
	c.closeOnce.Do(func() { close(c.closing) })
	if c.running.CompareAndSwap(false, true) {
		c.shutdown(nil)
	}
	<-c.done
	return nil
}

func (c *Connection[T]) readLoop(ctx context.Context) {
	defer c.logger.WithField("goroutine", groutine.GetName(ctx)).Trace("Reader stopped")

	// One octet past the largest MTU, so an oversized PDU always arrives longer than the
	// MTU in effect and is rejected by handle.
	buf := make([]byte, att.MaxMTU+1)
	for {
		n, err := c.conn.Read(buf)
		if err != nil && (n == 0 || !errors.Is(err, transport.ErrPacketTooLarge)) {
			c.readErr <- err
			return
		}
		pkt := append([]byte(nil), buf[:n]...)

		select {
		case c.inbound <- pkt:
		case <-c.done:
			return
		}
		select {
		case <-c.ack:
		case <-c.done:
			return
		}
	}
}

func (c *Connection[T]) loop(ctx context.Context) error {
	for {
		select {
		case <-c.closing:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-c.readErr:
			if errors.Is(err, io.EOF) || errors.Is(err, transport.ErrClosed) {
				c.logger.Info("Peer disconnected")
				return nil
			}
			c.logger.WithError(err).Error("Transport read failed")
			return fmt.Errorf("read: %w", err)
		case pkt := <-c.inbound:
			err := c.handle(ctx, pkt)
			c.ack <- struct{}{}
			if err != nil {
				return err
			}
		case out := <-c.pushes:
			if err := c.push(out); err != nil {
				return err
			}
		case <-c.timeout():
			c.logger.WithField("handle", fmt.Sprintf("0x%04X", c.pending.handle)).
				Error("Indication was not confirmed in time")
			return ErrTransactionTimeout
		}
	}
}

// shutdown runs once, from Run or from Close when Run never started.
func (c *Connection[T]) shutdown(cause error) {
	c.state.Store(int32(StateClosed))
	c.stopTimer()

	if c.pending != nil {
		c.pending.confirmed <- ErrConnectionClosed
		c.pending = nil
	}
	for {
		out, ok := c.queue.pop()
		if !ok {
			break
		}
		out.confirmed <- ErrConnectionClosed
	}
	c.prepared = nil

	close(c.events)
	if err := c.conn.Close(); err != nil {
		c.logger.WithError(err).Debug("Transport close failed")
	}
	close(c.done)

	// Pushes still buffered observe done in submit.
	for {
		select {
		case out := <-c.pushes:
			out.accepted <- ErrConnectionClosed
		default:
			entry := c.logger
			if cause != nil {
				entry = entry.WithError(cause)
			}
			entry.Info("Connection closed")
			return
		}
	}
}

// handle serves one inbound PDU. Only transport failures are returned.
func (c *Connection[T]) handle(ctx context.Context, pkt []byte) error {
	if len(pkt) > c.MTU() {
		return c.rejectOversized(att.Opcode(pkt[0]))
	}
	p, err := att.Decode(pkt)
	if err != nil {
		return c.rejectUndecodable(err)
	}
	op := p.Opcode()
	c.logger.WithField("opcode", op).Trace("Received PDU")

	if _, ok := p.(*att.HandleValueConfirmation); ok {
		return c.confirm()
	}

	resp, err := c.serve(ctx, p)
	if err != nil {
		var attErr *att.Error
		if !errors.As(err, &attErr) {
			attErr = att.NewError(att.ErrUnlikely, 0)
		}
		c.logger.WithFields(logrus.Fields{
			"opcode": op,
			"handle": fmt.Sprintf("0x%04X", attErr.Handle),
			"code":   attErr.Code,
		}).Debug("Request failed")
		resp = &att.ErrorResponse{RequestOpcode: op, Handle: attErr.Handle, Code: attErr.Code}
	}
	if op.IsRequest() && c.State() == StateAwaitingMTU {
		c.state.CompareAndSwap(int32(StateAwaitingMTU), int32(StateReady))
	}
	if resp == nil {
		return nil
	}
	return c.send(resp)
}

// rejectUndecodable answers a request that failed to decode. Commands and PDUs that are
// not requests are dropped: they have no response channel.
// rejectOversized answers a request longer than the MTU with Invalid PDU. Other PDUs are
// dropped.
func (c *Connection[T]) rejectOversized(op att.Opcode) error {
	if op == 0 || !op.IsRequest() {
		c.logger.WithField("opcode", op).Warn("Dropped PDU longer than the MTU")
		return nil
	}
	c.logger.WithField("opcode", op).Warn("Rejected request longer than the MTU")
	return c.send(&att.ErrorResponse{RequestOpcode: op, Code: att.ErrInvalidPDU})
}

func (c *Connection[T]) rejectUndecodable(err error) error {
	var decodeErr *att.DecodeError
	if !errors.As(err, &decodeErr) {
		return err
	}
	op := decodeErr.Opcode
	entry := c.logger.WithError(err).WithField("opcode", op)
	if op == 0 || !op.IsRequest() {
		entry.Warn("Dropped undecodable PDU")
		return nil
	}

	code := att.ErrInvalidPDU
	if errors.Is(err, att.ErrUnknownOpcode) {
		code = att.ErrRequestNotSupported
	}
	entry.Warn("Rejected undecodable request")
	return c.send(&att.ErrorResponse{RequestOpcode: op, Code: code})
}

// send encodes p at the current MTU and writes it.
func (c *Connection[T]) send(p att.PDU) error {
	b, err := att.Encode(p, c.MTU())
	if err != nil {
		// Handlers size every response to the MTU; reaching this is a bug, not a peer error.
		return fmt.Errorf("encode %s: %w", p.Opcode(), err)
	}
	if _, err := c.conn.Write(b); err != nil {
		c.logger.WithError(err).Error("Transport write failed")
		return fmt.Errorf("write: %w", err)
	}
	c.logger.WithField("opcode", p.Opcode()).Trace("Sent PDU")
	return nil
}

func (c *Connection[T]) timeout() <-chan time.Time {
	if c.timer == nil {
		return nil
	}
	return c.timer.C
}

func (c *Connection[T]) startTimer() {
	if c.opts.ResponseTimeout > 0 {
		c.timer = time.NewTimer(c.opts.ResponseTimeout)
	}
}

func (c *Connection[T]) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
