package transport

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp/fasthttputil"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/domsolutions/grpctransport/keepalive"
	"github.com/domsolutions/grpctransport/metadata"
)

// encodeValidRequestHeaders builds a HEADERS block that passes §4.3's
// request-admission checks (content-type, :method/:scheme/:path), so a
// rawPeer can open a stream the server actually keeps open instead of
// rejecting at admission time.
func encodeValidRequestHeaders(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	fields := []hpack.HeaderField{
		{Name: metadata.PseudoMethod, Value: "POST"},
		{Name: metadata.PseudoScheme, Value: "http"},
		{Name: metadata.PseudoPath, Value: "/pkg.Service/Method"},
		{Name: metadata.PseudoAuthority, Value: "test.local"},
		{Name: metadata.HeaderContentType, Value: "application/grpc"},
	}
	for _, f := range fields {
		require.NoError(t, enc.WriteField(f))
	}
	return buf.Bytes()
}

// newTrailersOnlyResponse builds a minimal successful gRPC response used by
// scenario tests that just need a stream to close cleanly.
func newTrailersOnlyResponse() *metadata.OutgoingResponse {
	resp := metadata.NewOutgoingResponse()
	resp.SetTrailers("0", "")
	return resp
}

// eventLog records every event a connection emits from the moment it is
// attached, so a test can assert both "this happened" and "this did not
// happen within a window" without the single-consumer races waitForEvent's
// one-shot drain would otherwise risk. Safe to attach any time after
// construction: the events channel is buffered 1 and the owning loop
// blocks on send until read, so nothing is lost.
type eventLog struct {
	mu   sync.Mutex
	list []Event
	done chan struct{}
}

func recordEvents(events <-chan Event) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for ev := range events {
			l.mu.Lock()
			l.list = append(l.list, ev)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) snapshot() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.list))
	copy(out, l.list)
	return out
}

func findEvent[T Event](list []Event) (T, bool) {
	for _, ev := range list {
		if typed, ok := ev.(T); ok {
			return typed, true
		}
	}
	var zero T
	return zero, false
}

// waitUntil polls cond until it reports true or timeout elapses, failing
// the test in the latter case.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition not met within %s", timeout)
		}
		time.Sleep(time.Millisecond)
	}
}

// newConnPairOpts is newConnPair generalized to accept caller-supplied
// options, so scenario tests can exercise short-lived idle/keepalive
// timers without waiting on production-scale durations.
func newConnPairOpts(t *testing.T, ccOpts ClientConnOptions, scOpts ServerConnOptions) (*ClientConn, *ServerConn, *fasthttputil.InmemoryListener) {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()

	serverAccepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			serverAccepted <- c
		}
	}()

	ccOpts.Connector = func(ctx context.Context) (net.Conn, error) { return ln.Dial() }
	if ccOpts.Authority == "" {
		ccOpts.Authority = "test.local"
	}
	cc := NewClientConn(ccOpts)
	go func() { _ = cc.Run(context.Background()) }()

	serverConn := <-serverAccepted
	sc := NewServerConn(serverConn, scOpts)
	go func() { _ = sc.Run() }()

	return cc, sc, ln
}

// TestIdleShutdownWithNoStreams covers S1: a connection with no open
// streams closes itself once maxIdleTime elapses, with ReasonIdleTimeout.
func TestIdleShutdownWithNoStreams(t *testing.T) {
	cc, _, ln := newConnPairOpts(t, ClientConnOptions{MaxIdleTime: 30 * time.Millisecond}, ServerConnOptions{})
	defer ln.Close()

	waitForEvent[EventConnectSucceeded](t, cc.Events(), time.Second)

	closed := waitForEvent[EventClosed](t, cc.Events(), 2*time.Second)
	assert.Equal(t, ReasonIdleTimeout, closed.Reason.Kind)
	assert.True(t, closed.Reason.WasIdle)
}

// TestIdleTimerCancelledByOpenStream covers S2: opening a stream suppresses
// the idle timer, and closing the last stream restarts it.
func TestIdleTimerCancelledByOpenStream(t *testing.T) {
	cc, sc, ln := newConnPairOpts(t, ClientConnOptions{MaxIdleTime: 40 * time.Millisecond}, ServerConnOptions{})
	defer ln.Close()

	ccEvents := recordEvents(cc.Events())
	waitUntil(t, time.Second, func() bool {
		_, ok := findEvent[EventConnectSucceeded](ccEvents.snapshot())
		return ok
	})

	s, err := cc.NewStream(metadata.MD{}, "/pkg.Service/Method")
	require.NoError(t, err)

	// Fetch the server's view of the stream before it closes, to avoid
	// racing its removal from sc's stream set below.
	waitUntil(t, time.Second, func() bool { return sc.Stream(s.ID()) != nil })
	srvStream := sc.Stream(s.ID())
	require.NotNil(t, srvStream)

	// While the stream stays open, the idle timer must not fire.
	time.Sleep(80 * time.Millisecond)
	_, closedYet := findEvent[EventClosed](ccEvents.snapshot())
	assert.False(t, closedYet, "idle timer must be cancelled while a stream is open")

	// Drive the RPC to completion so the stream count drops back to 0.
	require.NoError(t, cc.WriteMessage(s, false, []byte("req"), true))

	for range srvStream.RecvMessages() {
	}

	resp := newTrailersOnlyResponse()
	require.NoError(t, sc.WriteResponse(s.ID(), resp, true))

	_ = s.Err()

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := findEvent[EventClosed](ccEvents.snapshot())
		return ok
	})
	closed, _ := findEvent[EventClosed](ccEvents.snapshot())
	assert.Equal(t, ReasonIdleTimeout, closed.Reason.Kind, "idle timer must restart once the stream count reaches 0 again")
}

// TestKeepaliveAckLoopKeepsConnectionAlive covers S3: as long as every
// keep-alive ping is acked in time, the connection never closes.
func TestKeepaliveAckLoopKeepsConnectionAlive(t *testing.T) {
	cc, _, ln := newConnPairOpts(t, ClientConnOptions{
		Keepalive: keepalive.ClientParameters{Time: 15 * time.Millisecond, Timeout: 50 * time.Millisecond, PermitWithoutStream: true},
	}, ServerConnOptions{
		// Permit the client's ping cadence so the server's ping policing
		// (receivedPing) does not end the connection with too_many_pings.
		Enforcement: keepalive.EnforcementPolicy{MinTime: time.Millisecond, PermitWithoutStream: true},
	})
	defer ln.Close()

	events := recordEvents(cc.Events())
	waitUntil(t, time.Second, func() bool {
		_, ok := findEvent[EventConnectSucceeded](events.snapshot())
		return ok
	})

	// The server's handleFrame acks every inbound PING automatically, so
	// surviving several send intervals proves the ack loop never trips
	// the client's keep-alive timeout.
	time.Sleep(10 * 15 * time.Millisecond)

	_, closed := findEvent[EventClosed](events.snapshot())
	assert.False(t, closed, "acked keep-alive pings must never close the connection")

	cc.Close()
	waitUntil(t, 2*time.Second, func() bool {
		_, ok := findEvent[EventClosed](events.snapshot())
		return ok
	})
}

// rawPeer drives raw HTTP/2 frames over one side of a net.Pipe, standing in
// for a peer that deliberately misbehaves (e.g. never acks a PING) in ways
// a real ClientConn/ServerConn would not, per S4/S5/S6.
type rawPeer struct {
	fr     *http2.Framer
	frames chan http2.Frame
}

func newRawPeer(conn net.Conn) *rawPeer {
	p := &rawPeer{fr: http2.NewFramer(conn, conn), frames: make(chan http2.Frame, 16)}
	go func() {
		for {
			f, err := p.fr.ReadFrame()
			if err != nil {
				close(p.frames)
				return
			}
			p.frames <- f
		}
	}()
	return p
}

func (p *rawPeer) waitFor(t *testing.T, timeout time.Duration, match func(http2.Frame) bool) http2.Frame {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case f, ok := <-p.frames:
			if !ok {
				t.Fatalf("peer connection closed before observing expected frame")
			}
			if match(f) {
				return f
			}
		case <-deadline:
			t.Fatalf("timed out waiting for frame")
		}
	}
}

func isGoAway(f http2.Frame) bool {
	_, ok := f.(*http2.GoAwayFrame)
	return ok
}

func isPingNoAck(f http2.Frame) bool {
	p, ok := f.(*http2.PingFrame)
	return ok && !p.IsAck()
}

// TestKeepaliveTimeoutClosesConnection covers S4: a client-initiated ping
// that is never acked closes the connection with ReasonKeepaliveTimeout
// once keepaliveTimeout elapses.
func TestKeepaliveTimeoutClosesConnection(t *testing.T) {
	clientSide, peerSide := net.Pipe()
	defer clientSide.Close()
	defer peerSide.Close()

	peer := newRawPeer(peerSide)
	go func() { _ = peer.fr.WriteSettings() }()

	cc := NewClientConn(ClientConnOptions{
		Connector: func(ctx context.Context) (net.Conn, error) { return clientSide, nil },
		Authority: "test.local",
		Keepalive: keepalive.ClientParameters{Time: 20 * time.Millisecond, Timeout: 20 * time.Millisecond, PermitWithoutStream: true},
	})

	done := make(chan error, 1)
	go func() { done <- cc.Run(context.Background()) }()

	waitForEvent[EventConnectSucceeded](t, cc.Events(), time.Second)

	// Observe the outbound PING but never ack it.
	peer.waitFor(t, time.Second, isPingNoAck)

	closed := waitForEvent[EventClosed](t, cc.Events(), 2*time.Second)
	assert.Equal(t, ReasonKeepaliveTimeout, closed.Reason.Kind)

	<-done
}

// TestServerTwoPhaseGoAwayNoStreams covers S5: with no open streams, the
// idle timer starts graceful shutdown, the server sends GOAWAY(lastStreamID
// =MAX) then a PING; once that PING is acked, the server sends the second
// GOAWAY(lastStreamID=0) and the connection closes.
func TestServerTwoPhaseGoAwayNoStreams(t *testing.T) {
	serverSide, peerSide := net.Pipe()
	defer serverSide.Close()
	defer peerSide.Close()

	peer := newRawPeer(peerSide)
	go func() { _ = peer.fr.WriteSettings() }()

	sc := NewServerConn(serverSide, ServerConnOptions{
		Keepalive: keepalive.ServerParameters{MaxConnectionIdle: 30 * time.Millisecond},
	})
	events := recordEvents(sc.Events())
	go func() { _ = sc.Run() }()

	first := peer.waitFor(t, 2*time.Second, isGoAway).(*http2.GoAwayFrame)
	assert.Equal(t, uint32(gracefulGoAwayStreamID), first.LastStreamID)
	assert.Equal(t, http2.ErrCodeNo, first.ErrCode)

	ping := peer.waitFor(t, 2*time.Second, isPingNoAck).(*http2.PingFrame)
	require.NoError(t, peer.fr.WritePing(true, ping.Data))

	second := peer.waitFor(t, 2*time.Second, isGoAway).(*http2.GoAwayFrame)
	assert.Equal(t, uint32(0), second.LastStreamID)

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := findEvent[EventClosed](events.snapshot())
		return ok
	})
}

// TestServerTwoPhaseGoAwayStreamOpenedBeforeAck covers S6: a stream opened
// after the first GOAWAY but before the ping ack is still reflected in the
// second GOAWAY's lastStreamID, and the connection only closes once that
// stream subsequently closes.
func TestServerTwoPhaseGoAwayStreamOpenedBeforeAck(t *testing.T) {
	serverSide, peerSide := net.Pipe()
	defer serverSide.Close()
	defer peerSide.Close()

	peer := newRawPeer(peerSide)
	go func() { _ = peer.fr.WriteSettings() }()

	sc := NewServerConn(serverSide, ServerConnOptions{
		Keepalive: keepalive.ServerParameters{MaxConnectionIdle: 30 * time.Millisecond},
	})
	events := recordEvents(sc.Events())
	go func() { _ = sc.Run() }()

	peer.waitFor(t, 2*time.Second, isGoAway)
	ping := peer.waitFor(t, 2*time.Second, isPingNoAck).(*http2.PingFrame)

	// Open a stream before acking the ping.
	require.NoError(t, peer.fr.WriteHeaders(http2.HeadersFrameParam{StreamID: 1, BlockFragment: encodeValidRequestHeaders(t), EndHeaders: true}))
	require.NoError(t, peer.fr.WritePing(true, ping.Data))

	second := peer.waitFor(t, 2*time.Second, isGoAway).(*http2.GoAwayFrame)
	assert.Equal(t, uint32(1), second.LastStreamID, "the second GOAWAY must reflect the stream opened before the ack")

	// The connection must not close while that stream is still open.
	time.Sleep(30 * time.Millisecond)
	_, closedYet := findEvent[EventClosed](events.snapshot())
	assert.False(t, closedYet, "must not close until the stream opened before the ack also closes")

	require.NoError(t, peer.fr.WriteRSTStream(1, http2.ErrCodeCancel))

	waitUntil(t, 2*time.Second, func() bool {
		_, ok := findEvent[EventClosed](events.snapshot())
		return ok
	})
}
