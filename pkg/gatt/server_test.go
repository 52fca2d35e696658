package gatt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/gattsrv/internal/testutils"
	"github.com/srg/gattsrv/pkg/att"
	"github.com/srg/gattsrv/pkg/transport"
)

// TestServer_Serve verifies the accept loop runs independent connections.
//
// GOAL: Ensure each peer gets its own connection, handler and database copy
//
// TEST SCENARIO: Two centrals connect → one writes the device name → the other still reads the original →
// handler sees the write event → closing the listener ends Serve
func TestServer_Serve(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	listener := transport.NewPipeListener()
	server := NewServer(listener, fullProfile(t), DefaultOptions(), helper.Logger)

	writes := make(chan Event[string], 4)
	handler := func(ctx context.Context, c *Connection[string]) {
		for e := range c.Events() {
			if e.Kind == EventWrite {
				writes <- e
			}
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, handler) }()

	dial := func() *testutils.Central {
		conn, err := listener.Dial(ctx)
		require.NoError(t, err, "MUST connect to the server")
		central := testutils.NewCentral(t, conn)
		t.Cleanup(func() { _ = central.Close() })
		return central
	}
	first, second := dial(), dial()

	resp := first.Request(&att.WriteRequest{Handle: 3, Value: []byte("first")})
	require.IsType(t, &att.WriteResponse{}, resp)

	select {
	case e := <-writes:
		assert.Equal(t, "name", e.Token)
		assert.Equal(t, []byte("first"), e.Value)
	case <-time.After(testutils.DefaultExpectTimeout):
		t.Fatal("handler MUST receive the write event")
	}

	resp = second.Request(&att.FindByTypeValueRequest{StartHandle: 1, EndHandle: 0xFFFF, Type: PrimaryServiceUUID, Value: []byte{0x00, 0x18}})
	assert.Equal(t, &att.FindByTypeValueResponse{Ranges: []att.HandleRange{{Found: 1, GroupEnd: 5}}}, resp)

	template, _ := server.Database().Value(3)
	assert.Equal(t, []byte("gattsrv"), template, "template database MUST stay untouched")

	require.NoError(t, first.Close())
	require.NoError(t, second.Close())
	require.NoError(t, server.Close())

	select {
	case err := <-served:
		assert.NoError(t, err, "closing the listener MUST end Serve cleanly")
	case <-time.After(testutils.DefaultExpectTimeout):
		t.Fatal("Serve MUST return once the listener and connections are closed")
	}
}

func TestServer_ServeCancelled(t *testing.T) {
	listener := transport.NewPipeListener()
	server := NewServer(listener, genericAccess(t), DefaultOptions(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- server.Serve(ctx, nil) }()

	conn, err := listener.Dial(ctx)
	require.NoError(t, err)
	central := testutils.NewCentral(t, conn)

	resp := central.Request(&att.ReadRequest{Handle: 5})
	assert.Equal(t, &att.ReadResponse{Value: []byte{0xC0, 0x03}}, resp, "connections without a handler MUST still be served")

	cancel()
	select {
	case err := <-served:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(testutils.DefaultExpectTimeout):
		t.Fatal("Serve MUST return on cancellation")
	}
	central.ExpectClosed()
}
