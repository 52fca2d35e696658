package gatt

import (
	"context"
	"errors"

	"github.com/hedzr/go-ringbuf/v2/mpmc"

	"github.com/srg/gattsrv/pkg/att"
)

// Subscription is the peer's Client Characteristic Configuration for one characteristic.
type Subscription struct {
	Notify   bool
	Indicate bool
}

// Outgoing is the application's handle for server initiated updates on one connection.
// It is safe for concurrent use.
type Outgoing[T comparable] struct {
	c *Connection[T]
}

// Notify stores value as the characteristic's value and sends it as a Handle Value
// Notification. It fails with ErrNotSubscribed, sending nothing, while the peer has not
// enabled notifications. Delivery is not acknowledged.
//
// Notify waits for the connection loop, which stalls while the event stream is full. Do not
// call it from the goroutine that drains Events; use NotifyContext to bound the wait.
func (o Outgoing[T]) Notify(token T, value []byte) error {
	return o.NotifyContext(context.Background(), token, value)
}

// NotifyContext is Notify that gives up with ctx.Err() when ctx is done first. The value
// may still be sent after that.
func (o Outgoing[T]) NotifyContext(ctx context.Context, token T, value []byte) error {
	_, err := o.c.submit(ctx, pushNotify, token, value)
	return err
}

// Indicate stores value and sends it as a Handle Value Indication, or queues it behind the
// indication awaiting confirmation. A full queue fails with ErrIndicationQueueFull.
// Indicate returns once the indication is sent or queued; see IndicateWait.
//
// Like Notify it must not be called from the goroutine draining Events.
func (o Outgoing[T]) Indicate(token T, value []byte) error {
	return o.IndicateContext(context.Background(), token, value)
}

// IndicateContext is Indicate that gives up with ctx.Err() when ctx is done first.
func (o Outgoing[T]) IndicateContext(ctx context.Context, token T, value []byte) error {
	_, err := o.c.submit(ctx, pushIndicate, token, value)
	return err
}

// IndicateWait is Indicate that also waits for the peer's confirmation.
func (o Outgoing[T]) IndicateWait(ctx context.Context, token T, value []byte) error {
	out, err := o.c.submit(ctx, pushIndicate, token, value)
	if err != nil {
		return err
	}
	select {
	case err := <-out.confirmed:
		return o.c.tokenError(token, err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscription reports the peer's current CCCD flags for token's characteristic.
func (o Outgoing[T]) Subscription(token T) (Subscription, error) {
	h, ok := o.c.tokens.Handle(token)
	if !ok {
		return Subscription{}, &TokenError[T]{Token: token, Err: ErrUnknownToken}
	}
	s, _ := o.c.subscriptions.Get(h)
	return s, nil
}

type pushKind uint8

const (
	pushNotify pushKind = iota
	pushIndicate
)

// outgoing is one Notify or Indicate call travelling to the engine loop.
type outgoing struct {
	kind   pushKind
	handle uint16
	value  []byte

	// accepted receives once the engine sent, queued or rejected the push.
	accepted chan error
	// confirmed receives once an indication is confirmed or abandoned.
	confirmed chan error
}

func (c *Connection[T]) submit(ctx context.Context, kind pushKind, token T, value []byte) (*outgoing, error) {
	h, ok := c.tokens.Handle(token)
	if !ok {
		return nil, &TokenError[T]{Token: token, Err: ErrUnknownToken}
	}
	need := PropNotify
	if kind == pushIndicate {
		need = PropIndicate
	}
	if a, _ := c.db.At(h); a.Props&need == 0 {
		return nil, &TokenError[T]{Token: token, Err: ErrPropertyNotSupported}
	}
	if err := c.db.SetValue(h, value); err != nil {
		return nil, err
	}

	out := &outgoing{
		kind:      kind,
		handle:    h,
		value:     cloneBytes(value),
		accepted:  make(chan error, 1),
		confirmed: make(chan error, 1),
	}
	select {
	case c.pushes <- out:
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case err := <-out.accepted:
		return out, c.tokenError(token, err)
	case <-c.done:
		return nil, ErrConnectionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection[T]) tokenError(token T, err error) error {
	if errors.Is(err, ErrNotSubscribed) || errors.Is(err, ErrIndicationQueueFull) {
		return &TokenError[T]{Token: token, Err: err}
	}
	return err
}

// indicationQueue is the FIFO of indications waiting for the pending one to be confirmed.
// The ring overwrites its oldest entry when full, so it is sized past depth and the
// depth is enforced here.
type indicationQueue struct {
	ring  mpmc.RichOverlappedRingBuffer[*outgoing]
	depth int
	n     int
}

func newIndicationQueue(depth int) *indicationQueue {
	return &indicationQueue{
		ring:  mpmc.NewOverlappedRingBuffer[*outgoing](uint32(depth+1) * 2),
		depth: depth,
	}
}

func (q *indicationQueue) push(o *outgoing) error {
	if q.n >= q.depth {
		return ErrIndicationQueueFull
	}
	if _, err := q.ring.EnqueueM(o); err != nil {
		return err
	}
	q.n++
	return nil
}

func (q *indicationQueue) pop() (*outgoing, bool) {
	if q.n == 0 || q.ring.IsEmpty() {
		return nil, false
	}
	o, err := q.ring.Dequeue()
	if err != nil {
		return nil, false
	}
	q.n--
	return o, true
}

func (q *indicationQueue) len() int {
	return q.n
}

// push serves one Notify or Indicate call on the loop. Only transport failures are returned.
func (c *Connection[T]) push(out *outgoing) error {
	sub, _ := c.subscriptions.Get(out.handle)

	if out.kind == pushNotify {
		if !sub.Notify {
			out.accepted <- ErrNotSubscribed
			return nil
		}
		err := c.send(&att.HandleValueNotification{Handle: out.handle, Value: truncate(out.value, c.MTU()-3)})
		out.accepted <- err
		return err
	}

	if !sub.Indicate {
		out.accepted <- ErrNotSubscribed
		return nil
	}
	if c.pending != nil {
		out.accepted <- c.queue.push(out)
		return nil
	}
	err := c.sendIndication(out)
	out.accepted <- err
	return err
}

// sendIndication sends out and makes it the pending indication.
func (c *Connection[T]) sendIndication(out *outgoing) error {
	if err := c.send(&att.HandleValueIndication{Handle: out.handle, Value: truncate(out.value, c.MTU()-3)}); err != nil {
		return err
	}
	c.pending = out
	c.startTimer()
	return nil
}

// confirm handles a Handle Value Confirmation: the pending indication completes and the
// next queued one, if its peer is still subscribed, is sent.
func (c *Connection[T]) confirm() error {
	if c.pending == nil {
		c.logger.Warn("Ignored confirmation without a pending indication")
		return nil
	}
	c.stopTimer()
	c.pending.confirmed <- nil
	c.pending = nil

	for {
		next, ok := c.queue.pop()
		if !ok {
			return nil
		}
		if sub, _ := c.subscriptions.Get(next.handle); !sub.Indicate {
			next.confirmed <- ErrNotSubscribed
			continue
		}
		if err := c.sendIndication(next); err != nil {
			next.confirmed <- err
			return err
		}
		return nil
	}
}
