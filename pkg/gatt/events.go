package gatt

import (
	"context"
	"fmt"
	"iter"
)

// EventKind discriminates Event.
type EventKind uint8

const (
	// EventWrite reports a peer write applied to the database.
	EventWrite EventKind = iota + 1
	// EventSubscription reports a change of a characteristic's CCCD.
	EventSubscription
)

func (k EventKind) String() string {
	switch k {
	case EventWrite:
		return "write"
	case EventSubscription:
		return "subscription"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is an application relevant outcome of an inbound PDU.
//
// Write events carry the attribute handle written and, when it is a tokenized
// characteristic value, its token. Subscription events carry the value handle whose CCCD
// changed together with the new flags.
type Event[T comparable] struct {
	Kind     EventKind
	Handle   uint16
	Token    T
	HasToken bool

	// Value is the attribute value after the write.
	Value []byte
	// Command is set when the write arrived as a Write Command, which the peer does not
	// expect to be acknowledged.
	Command bool

	Notify   bool
	Indicate bool
}

func (e Event[T]) String() string {
	target := fmt.Sprintf("0x%04X", e.Handle)
	if e.HasToken {
		target = fmt.Sprintf("%v (0x%04X)", e.Token, e.Handle)
	}
	switch e.Kind {
	case EventWrite:
		return fmt.Sprintf("write %s = % X", target, e.Value)
	case EventSubscription:
		return fmt.Sprintf("subscription %s notify=%t indicate=%t", target, e.Notify, e.Indicate)
	default:
		return fmt.Sprintf("%s %s", e.Kind, target)
	}
}

// Events yields events in the order the engine produced them and ends when the connection
// closes. It never reports errors; Run's result does.
//
// Only one consumer should iterate: every event is delivered once.
func (c *Connection[T]) Events() iter.Seq[Event[T]] {
	return func(yield func(Event[T]) bool) {
		for e := range c.events {
			if !yield(e) {
				return
			}
		}
	}
}

// emit hands e to the application, blocking until it is taken or the connection stops.
func (c *Connection[T]) emit(ctx context.Context, e Event[T]) {
	e.Token, e.HasToken = c.tokens.Token(e.Handle)
	select {
	case c.events <- e:
	case <-c.closing:
	case <-ctx.Done():
	}
}
