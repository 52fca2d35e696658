package gatt

import (
	"time"

	"github.com/mcuadros/go-defaults"

	"github.com/srg/gattsrv/pkg/att"
)

// Options tune one connection. Use DefaultOptions as the starting point: zero values are
// taken literally, so an IndicationQueueDepth of 0 rejects every indication issued while
// another one is unconfirmed.
type Options struct {
	// ServerMaxMTU is the Server Rx MTU answered to Exchange MTU Requests, within [23, 517].
	ServerMaxMTU int `default:"517"`

	// IndicationQueueDepth is how many indications may wait behind the pending one before
	// Indicate fails with ErrIndicationQueueFull.
	IndicationQueueDepth int `default:"4"`

	// PrepareQueueDepth bounds the Prepare Write queue; beyond it the peer gets Prepare Queue Full.
	PrepareQueueDepth int `default:"32"`

	// EventBuffer is the capacity of the event channel. The engine blocks on a full channel,
	// so the application must keep draining Events.
	EventBuffer int `default:"64"`

	// PushBuffer is how many Notify/Indicate calls may be handed to the engine before callers block.
	PushBuffer int `default:"16"`

	// ResponseTimeout closes the connection when an indication stays unconfirmed this long.
	// Zero disables the timeout.
	ResponseTimeout time.Duration `default:"30s"`
}

// DefaultOptions returns the options every field of which carries its default.
func DefaultOptions() Options {
	var o Options
	defaults.SetDefaults(&o)
	return o
}

func (o Options) normalized() Options {
	o.ServerMaxMTU = min(max(o.ServerMaxMTU, att.DefaultMTU), att.MaxMTU)
	o.IndicationQueueDepth = max(o.IndicationQueueDepth, 0)
	o.PrepareQueueDepth = max(o.PrepareQueueDepth, 0)
	o.EventBuffer = max(o.EventBuffer, 0)
	o.PushBuffer = max(o.PushBuffer, 0)
	o.ResponseTimeout = max(o.ResponseTimeout, 0)
	return o
}
