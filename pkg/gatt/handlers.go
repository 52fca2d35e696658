package gatt

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/srg/gattsrv/pkg/att"
)

// serve dispatches a decoded PDU. A nil response means nothing is sent back; an *att.Error
// becomes an Error Response for the request.
func (c *Connection[T]) serve(ctx context.Context, p att.PDU) (att.PDU, error) {
	mtu := c.MTU()

	switch req := p.(type) {
	case *att.ExchangeMTURequest:
		return c.exchangeMTU(req), nil

	case *att.FindInformationRequest:
		entries, err := c.db.FindInformation(req.StartHandle, req.EndHandle, mtu-2)
		if err != nil {
			return nil, err
		}
		return &att.FindInformationResponse{Entries: entries}, nil

	case *att.FindByTypeValueRequest:
		ranges, err := c.db.FindByTypeValue(req.StartHandle, req.EndHandle, req.Type, req.Value, mtu-1)
		if err != nil {
			return nil, err
		}
		return &att.FindByTypeValueResponse{Ranges: ranges}, nil

	case *att.ReadByTypeRequest:
		entries, err := c.db.ReadByType(req.StartHandle, req.EndHandle, req.Type, mtu-2)
		if err != nil {
			return nil, err
		}
		return &att.ReadByTypeResponse{Entries: entries}, nil

	case *att.ReadByGroupTypeRequest:
		entries, err := c.db.ReadByGroupType(req.StartHandle, req.EndHandle, req.Type, mtu-2)
		if err != nil {
			return nil, err
		}
		return &att.ReadByGroupTypeResponse{Entries: entries}, nil

	case *att.ReadRequest:
		v, err := c.db.Read(req.Handle, mtu-1)
		if err != nil {
			return nil, err
		}
		return &att.ReadResponse{Value: v}, nil

	case *att.ReadBlobRequest:
		v, err := c.db.ReadBlob(req.Handle, req.Offset, mtu-1)
		if err != nil {
			return nil, err
		}
		return &att.ReadBlobResponse{Value: v}, nil

	case *att.ReadMultipleRequest:
		v, err := c.db.ReadMultiple(req.Handles, mtu-1)
		if err != nil {
			return nil, err
		}
		return &att.ReadMultipleResponse{Values: v}, nil

	case *att.WriteRequest:
		if err := c.write(ctx, req.Handle, req.Value, false); err != nil {
			return nil, err
		}
		return &att.WriteResponse{}, nil

	case *att.WriteCommand:
		if err := c.write(ctx, req.Handle, req.Value, true); err != nil {
			c.logger.WithError(err).Debug("Ignored failed write command")
		}
		return nil, nil

	case *att.SignedWriteCommand:
		c.logger.WithField("handle", fmt.Sprintf("0x%04X", req.Handle)).Debug("Ignored signed write command")
		return nil, nil

	case *att.PrepareWriteRequest:
		if err := c.prepareWrite(req); err != nil {
			return nil, err
		}
		return &att.PrepareWriteResponse{Handle: req.Handle, Offset: req.Offset, Value: req.Value}, nil

	case *att.ExecuteWriteRequest:
		if err := c.executeWrite(ctx, req.Flags); err != nil {
			return nil, err
		}
		return &att.ExecuteWriteResponse{}, nil

	default:
		op := p.Opcode()
		if op.IsRequest() {
			return nil, att.NewError(att.ErrRequestNotSupported, 0)
		}
		c.logger.WithField("opcode", op).Warn("Dropped unexpected PDU")
		return nil, nil
	}
}

func (c *Connection[T]) exchangeMTU(req *att.ExchangeMTURequest) att.PDU {
	client := max(int(req.ClientRxMTU), att.DefaultMTU)
	mtu := min(client, c.opts.ServerMaxMTU)

	c.mtu.Store(uint32(mtu))
	c.state.Store(int32(StateReady))
	c.logger.WithFields(logrus.Fields{"client": req.ClientRxMTU, "mtu": mtu}).Info("MTU exchanged")
	return &att.ExchangeMTUResponse{ServerRxMTU: uint16(mtu)}
}

func (c *Connection[T]) write(ctx context.Context, h uint16, v []byte, command bool) error {
	if err := c.db.Write(h, v); err != nil {
		return err
	}
	c.written(ctx, h, command)
	return nil
}

// written surfaces a committed write. A CCCD write updates the subscription of the
// characteristic it belongs to; any other write becomes a write event.
func (c *Connection[T]) written(ctx context.Context, h uint16, command bool) {
	a, _ := c.db.At(h)
	v, _ := c.db.Value(h)
	if a.Kind == KindCCCD {
		cfg := binary.LittleEndian.Uint16(v)
		c.subscribe(ctx, a.Owner, Subscription{
			Notify:   cfg&cccdNotify != 0,
			Indicate: cfg&cccdIndicate != 0,
		})
		return
	}
	c.emit(ctx, Event[T]{Kind: EventWrite, Handle: h, Value: v, Command: command})
}

func (c *Connection[T]) subscribe(ctx context.Context, h uint16, s Subscription) {
	if old, _ := c.subscriptions.Get(h); old == s {
		return
	}
	c.subscriptions.Set(h, s)
	c.logger.WithFields(logrus.Fields{
		"handle":   fmt.Sprintf("0x%04X", h),
		"notify":   s.Notify,
		"indicate": s.Indicate,
	}).Info("Subscription changed")
	c.emit(ctx, Event[T]{Kind: EventSubscription, Handle: h, Notify: s.Notify, Indicate: s.Indicate})
}

func (c *Connection[T]) prepareWrite(req *att.PrepareWriteRequest) error {
	if err := c.db.CheckWrite(req.Handle); err != nil {
		return err
	}
	if len(c.prepared) >= c.opts.PrepareQueueDepth {
		return att.NewError(att.ErrPrepareQueueFull, req.Handle)
	}
	c.prepared = append(c.prepared, PreparedWrite{
		Handle: req.Handle,
		Offset: req.Offset,
		Value:  cloneBytes(req.Value),
	})
	return nil
}

// executeWrite applies or discards the prepare queue. Either way the queue is emptied.
func (c *Connection[T]) executeWrite(ctx context.Context, flags att.ExecuteFlag) error {
	writes := c.prepared
	c.prepared = nil
	if flags == att.ExecuteCancel || len(writes) == 0 {
		return nil
	}
	handles, err := c.db.ExecuteWrites(writes)
	if err != nil {
		return err
	}
	for _, h := range handles {
		c.written(ctx, h, false)
	}
	return nil
}
