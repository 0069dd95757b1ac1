package transport

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"

	"github.com/domsolutions/grpctransport/metadata"
)

// newConnPair wires a ClientConn to a ServerConn over an in-memory
// listener, the same substitute collaborator the teacher's own
// client_test.go/server_test.go use in place of a real socket.
func newConnPair(t *testing.T) (*ClientConn, *ServerConn, *fasthttputil.InmemoryListener) {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()

	serverAccepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverAccepted <- c
		}
	}()

	cc := NewClientConn(ClientConnOptions{
		Connector: func(ctx context.Context) (net.Conn, error) { return ln.Dial() },
		Authority: "test.local",
	})

	go func() { _ = cc.Run(context.Background()) }()

	serverConn := <-serverAccepted
	sc := NewServerConn(serverConn, ServerConnOptions{})
	go func() { _ = sc.Run() }()

	return cc, sc, ln
}

func waitForEvent[T Event](t *testing.T, events <-chan Event, timeout time.Duration) T {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before observing %T", *new(T))
			}
			if typed, ok := ev.(T); ok {
				return typed
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %T", *new(T))
		}
	}
}

func TestClientServerHandshakeSucceeds(t *testing.T) {
	cc, sc, ln := newConnPair(t)
	defer ln.Close()

	waitForEvent[EventConnectSucceeded](t, cc.Events(), time.Second)
	waitForEvent[EventConnectSucceeded](t, sc.Events(), time.Second)
}

func TestClientInitiatedCloseIsGraceful(t *testing.T) {
	cc, sc, ln := newConnPair(t)
	defer ln.Close()

	waitForEvent[EventConnectSucceeded](t, cc.Events(), time.Second)
	waitForEvent[EventConnectSucceeded](t, sc.Events(), time.Second)

	cc.Close()

	closed := waitForEvent[EventClosed](t, cc.Events(), 2*time.Second)
	assert.Equal(t, ReasonInitiatedLocally, closed.Reason.Kind)

	serverClosed := waitForEvent[EventClosed](t, sc.Events(), 2*time.Second)
	require.NotNil(t, serverClosed)
}

func TestNewStreamFailsOnClosedConnection(t *testing.T) {
	cc, _, ln := newConnPair(t)
	defer ln.Close()

	waitForEvent[EventConnectSucceeded](t, cc.Events(), time.Second)

	cc.Close()
	waitForEvent[EventClosed](t, cc.Events(), 2*time.Second)

	_, err := cc.NewStream(metadata.MD{}, "/pkg.Service/Method")
	require.Error(t, err)
}
