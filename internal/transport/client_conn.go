package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fastrand"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/domsolutions/grpctransport/encoding"
	"github.com/domsolutions/grpctransport/internal/grpclog"
	"github.com/domsolutions/grpctransport/keepalive"
	"github.com/domsolutions/grpctransport/metadata"
	"github.com/domsolutions/grpctransport/status"
)

// Connector dials the next transport-layer connection for a ClientConn. It
// is the injection point that keeps TLS/TCP dialing ("assumed provided",
// §1) out of this package.
type Connector func(ctx context.Context) (net.Conn, error)

// ClientConnOptions configures a ClientConn, mirroring the teacher's
// ConnOpts/ClientOpts struct-of-options idiom.
type ClientConnOptions struct {
	Connector Connector
	Authority string
	Scheme    string // "http" or "https"

	Keepalive   keepalive.ClientParameters
	MaxIdleTime time.Duration

	MaxMessageSize int

	// PreferredEncoding is the compression algorithm this connection asks
	// for on outbound requests, subject to the peer's advertised
	// grpc-accept-encoding (§4.3's "Compression negotiation"). Empty means
	// "identity".
	PreferredEncoding string

	Logger grpclog.Logger
}

func (o *ClientConnOptions) defaults() {
	if o.Scheme == "" {
		o.Scheme = "https"
	}
	if o.Logger == nil {
		o.Logger = grpclog.Default
	}
	if o.Keepalive.Timeout <= 0 {
		o.Keepalive.Timeout = 20 * time.Second
	}
}

// ClientConn is the client-side connection manager (C1): it drives one
// outbound HTTP/2 connection from dial through preface to graceful close,
// emitting ConnectionEvents in order.
type ClientConn struct {
	opts ClientConnOptions

	mu    sync.Mutex // guards state, streams, nextStreamID, closeReason (§5)
	state connState
	streams        streamSet
	nextStreamID   uint32
	closeReason    CloseReason
	closeStarted   bool
	acceptEncoding []string // most recent peer grpc-accept-encoding, if any

	writeMu sync.Mutex // serializes all frame writes onto the wire
	conn    net.Conn
	fr      *http2.Framer

	events chan Event

	closeRequested chan struct{}
	closeOnce      sync.Once

	peerLocal  Peer
	peerRemote Peer
}

// NewClientConn allocates a ClientConn; call Run to drive it.
func NewClientConn(opts ClientConnOptions) *ClientConn {
	opts.defaults()
	return &ClientConn{
		opts:           opts,
		nextStreamID:   1,
		events:         make(chan Event, 1),
		closeRequested: make(chan struct{}),
	}
}

// Events returns the single-consumer event channel.
func (cc *ClientConn) Events() <-chan Event { return cc.events }

// LocalPeer and RemotePeer return free-form diagnostic peer strings,
// populated once the connection is established.
func (cc *ClientConn) LocalPeer() Peer  { return cc.peerLocal }
func (cc *ClientConn) RemotePeer() Peer { return cc.peerRemote }

func (cc *ClientConn) emit(ev Event) {
	cc.events <- ev
}

// Run drives the connection: dial, handshake, then serve until closed.
// It returns once the connection is fully closed (or failed to connect).
func (cc *ClientConn) Run(ctx context.Context) error {
	conn, err := cc.opts.Connector(ctx)
	if err != nil {
		cc.emit(EventConnectFailed{Err: status.Wrap(status.Unavailable, "connect failed", err)})
		close(cc.events)
		return err
	}

	cc.conn = conn
	cc.fr = http2.NewFramer(conn, conn)
	cc.peerLocal = Peer{Addr: conn.LocalAddr().String()}
	cc.peerRemote = Peer{Addr: conn.RemoteAddr().String(), Authority: cc.opts.Authority}

	if err := cc.handshake(); err != nil {
		_ = conn.Close()
		cc.emit(EventConnectFailed{Err: status.Wrap(status.Unavailable, "handshake failed", err)})
		close(cc.events)
		return err
	}

	cc.mu.Lock()
	cc.state = stateConnected
	cc.mu.Unlock()
	cc.emit(EventConnectSucceeded{})

	reason := cc.serve(ctx)

	cc.mu.Lock()
	cc.state = stateClosed
	cc.mu.Unlock()

	cc.emit(EventClosed{Reason: reason})
	close(cc.events)

	return reason.Err
}

// handshake sends the client's SETTINGS and blocks until the server's
// first SETTINGS frame arrives — the "preface ready" rule from §4.1. Any
// error (including the peer closing before SETTINGS) surfaces to Run as a
// connect failure, never a Closed event, per the readiness rule.
func (cc *ClientConn) handshake() error {
	if err := cc.fr.WriteSettings(); err != nil {
		return err
	}

	for {
		f, err := cc.fr.ReadFrame()
		if err != nil {
			return fmt.Errorf("the server accepted the TCP connection but closed the connection before completing the HTTP/2 connection preface: %w", err)
		}

		if sf, ok := f.(*http2.SettingsFrame); ok && !sf.IsAck() {
			return cc.writeSettingsAck()
		}
		// Anything else before the first SETTINGS (e.g. a stray
		// WINDOW_UPDATE) is tolerated; only SETTINGS unblocks readiness.
	}
}

func (cc *ClientConn) writeSettingsAck() error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return cc.fr.WriteSettingsAck()
}

// serve is the event loop: a single goroutine (this one) owns every state
// transition from here until the connection closes, per §5.
func (cc *ClientConn) serve(ctx context.Context) CloseReason {
	frameCh := make(chan http2.Frame, 16)
	readErrCh := make(chan error, 1)
	go cc.readLoop(frameCh, readErrCh)

	idle := newLoopTimer(cc.opts.MaxIdleTime)
	if cc.opts.MaxIdleTime > 0 {
		idle.Start()
	}

	var kaSend, kaTimeout *loopTimer
	if cc.opts.Keepalive.Time > 0 {
		kaSend = newLoopTimer(cc.opts.Keepalive.Time)
		kaTimeout = newLoopTimer(cc.opts.Keepalive.Timeout)
		if cc.opts.Keepalive.PermitWithoutStream || cc.openStreamCount() > 0 {
			kaSend.Start()
		}
	}

	defer func() {
		idle.Cancel()
		if kaSend != nil {
			kaSend.Cancel()
		}
		if kaTimeout != nil {
			kaTimeout.Cancel()
		}
		cc.cancelAllStreams()
		_ = cc.conn.Close()
	}()

	var pingData [8]byte

	for {
		var idleCh, kaSendCh, kaTimeoutCh <-chan time.Time
		if idle.Armed() {
			idleCh = idle.C()
		}
		if kaSend != nil && kaSend.Armed() {
			kaSendCh = kaSend.C()
		}
		if kaTimeout != nil && kaTimeout.Armed() {
			kaTimeoutCh = kaTimeout.C()
		}

		select {
		case <-ctx.Done():
			return cc.upgradeReason(CloseReason{Kind: ReasonInitiatedLocally})

		case <-cc.closeRequested:
			cc.writeGoAway(http2.ErrCodeNo, "")
			return cc.drainUntilQuiet(frameCh, readErrCh, cc.upgradeReason(CloseReason{Kind: ReasonInitiatedLocally}))

		case <-idleCh:
			idle.Fired()
			if cc.openStreamCount() == 0 {
				cc.writeGoAway(http2.ErrCodeNo, "idle")
				return cc.upgradeReason(CloseReason{Kind: ReasonIdleTimeout, WasIdle: true})
			}

		case <-kaSendCh:
			kaSend.Fired()
			binary.BigEndian.PutUint32(pingData[0:4], fastrand.Uint32())
			binary.BigEndian.PutUint32(pingData[4:8], fastrand.Uint32())
			if err := cc.writePing(false, pingData); err != nil {
				return cc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err, WasIdle: cc.openStreamCount() == 0})
			}
			kaTimeout.Start()

		case <-kaTimeoutCh:
			kaTimeout.Fired()
			cc.emit(EventGoingAway{Code: http2.ErrCodeNo, Msg: "keepalive_expired"})
			cc.writeGoAway(http2.ErrCodeNo, "keepalive_expired")
			return cc.upgradeReason(CloseReason{Kind: ReasonKeepaliveTimeout, WasIdle: cc.openStreamCount() == 0})

		case err := <-readErrCh:
			return cc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err, WasIdle: cc.openStreamCount() == 0})

		case f := <-frameCh:
			if done, reason := cc.handleFrame(f, idle, kaSend, kaTimeout); done {
				return reason
			}
		}
	}
}

// drainUntilQuiet waits (briefly) for open streams to finish after a
// locally-initiated graceful close before returning, approximating
// "close when streams quiesce" (§4.1).
func (cc *ClientConn) drainUntilQuiet(frameCh <-chan http2.Frame, readErrCh <-chan error, reason CloseReason) CloseReason {
	for cc.openStreamCount() > 0 {
		select {
		case f := <-frameCh:
			cc.handleFrame(f, nil, nil, nil)
		case err := <-readErrCh:
			return cc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err})
		case <-time.After(5 * time.Second):
			return reason
		}
	}
	return reason
}

func (cc *ClientConn) handleFrame(f http2.Frame, idle, kaSend, kaTimeout *loopTimer) (done bool, reason CloseReason) {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if !fr.IsAck() {
			_ = cc.writeSettingsAck()
		}
	case *http2.PingFrame:
		if fr.IsAck() {
			if kaTimeout != nil {
				kaTimeout.Cancel()
				if kaSend != nil {
					kaSend.Start()
				}
			}
		} else {
			_ = cc.writePing(true, fr.Data)
		}
	case *http2.GoAwayFrame:
		return cc.handleGoAway(fr)
	case *http2.WindowUpdateFrame:
		// Flow-control bookkeeping only; never closes the connection on
		// its own (§4.1 "inbound stream-level HTTP/2 errors are
		// ignored").
	case *http2.RSTStreamFrame:
		cc.mu.Lock()
		s := cc.streams.Get(fr.StreamID)
		cc.mu.Unlock()
		if s != nil {
			s.Cancel()
			cc.closeStream(s, errStreamRSTReceived)
		}
		if idle != nil && idle.duration > 0 && cc.openStreamCount() == 0 {
			idle.Start()
		}
	case *http2.HeadersFrame, *http2.DataFrame:
		cc.deliverToStream(f)
		if idle != nil && idle.duration > 0 && cc.openStreamCount() == 0 {
			idle.Start()
		}
	}
	return false, CloseReason{}
}

func (cc *ClientConn) handleGoAway(fr *http2.GoAwayFrame) (bool, CloseReason) {
	if fr.ErrCode == http2.ErrCodeNo {
		cc.emit(EventGoingAway{Code: fr.ErrCode, Msg: string(fr.DebugData())})
		cc.mu.Lock()
		cc.state = stateClosing
		cc.mu.Unlock()
		cc.writeGoAway(http2.ErrCodeNo, "")
		if cc.openStreamCount() == 0 {
			return true, cc.upgradeReason(CloseReason{Kind: ReasonRemote})
		}
		return false, CloseReason{}
	}

	// Non-noError GOAWAY: upgrade immediately to a hard close, even if
	// already gracefully closing.
	cc.emit(EventGoingAway{Code: fr.ErrCode, Msg: string(fr.DebugData())})
	return true, cc.upgradeReason(CloseReason{Kind: ReasonRemote})
}

func (cc *ClientConn) deliverToStream(f http2.Frame) {
	var id uint32
	switch fr := f.(type) {
	case *http2.HeadersFrame:
		id = fr.StreamID
	case *http2.DataFrame:
		id = fr.StreamID
	default:
		return
	}

	cc.mu.Lock()
	s := cc.streams.Get(id)
	cc.mu.Unlock()
	if s == nil {
		return
	}

	switch fr := f.(type) {
	case *http2.HeadersFrame:
		cc.handleResponseHeaders(s, fr)
	case *http2.DataFrame:
		msgs, err := s.reasm.Write(fr.Data())
		if err != nil {
			cc.closeStream(s, status.Wrap(status.Internal, "failed to decode message", err))
			return
		}
		for _, m := range msgs {
			s.recvMessages <- m
		}
		if fr.StreamEnded() {
			cc.closeStream(s, nil)
		}
	}
}

// handleResponseHeaders decodes a response (or trailers-only) HEADERS block
// and, once the RPC has actually finished, surfaces its outcome: a non-200
// HTTP status maps through status.FromHTTPStatus, and grpc-status/
// grpc-message trailers map straight to a *status.Error (§4.3's "Response
// decoding (client)", §7's "RPCs completing after an unrecoverable error
// surface the mapped grpc-status code with any metadata trailers").
func (cc *ClientConn) handleResponseHeaders(s *Stream, fr *http2.HeadersFrame) {
	resp, err := metadata.DecodeIncomingResponse(fr.HeaderBlockFragment(), defaultHPACKTableSize)
	if err != nil {
		cc.closeStream(s, status.Wrap(status.Internal, "failed to decode response headers", err))
		return
	}

	if v := resp.Header.Peek(metadata.HeaderGRPCAcceptEncoding); len(v) > 0 {
		cc.mu.Lock()
		cc.acceptEncoding = splitEncodingList(string(v))
		cc.mu.Unlock()
	}

	switch {
	case resp.HasTrailers:
		var rpcErr error
		if code, perr := strconv.Atoi(resp.GRPCStatus); perr == nil && status.Code(code) != status.OK {
			rpcErr = status.New(status.Code(code), resp.GRPCMessage)
		}
		cc.closeStream(s, rpcErr)
	case resp.HTTPStatus != 0 && resp.HTTPStatus != 200:
		cc.closeStream(s, status.New(status.FromHTTPStatus(resp.HTTPStatus), fmt.Sprintf("unexpected HTTP status %d", resp.HTTPStatus)))
	case fr.StreamEnded():
		cc.closeStream(s, nil)
	}
}

func (cc *ClientConn) closeStream(s *Stream, err error) {
	s.SetState(StreamClosed)
	s.Finish(err)

	cc.mu.Lock()
	cc.streams.Delete(s.id)
	cc.mu.Unlock()
}

func (cc *ClientConn) openStreamCount() int {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.streams.Len()
}

// cancelAllStreams fires every still-open stream's cancellation handle;
// see ServerConn.cancelAllStreams for the same rationale on the other side.
func (cc *ClientConn) cancelAllStreams() {
	cc.mu.Lock()
	open := make([]*Stream, cc.streams.Len())
	copy(open, cc.streams.list)
	cc.mu.Unlock()
	for _, s := range open {
		s.Cancel()
	}
}

// upgradeReason applies the §4.1/§8 precedence rule: among every close
// cause observed before the terminal emit, the highest-precedence one
// wins, and the first error observed is never overwritten by a later one.
func (cc *ClientConn) upgradeReason(candidate CloseReason) CloseReason {
	cc.mu.Lock()
	defer cc.mu.Unlock()

	if !cc.closeStarted || higherPrecedence(cc.closeReason, candidate) {
		if cc.closeReason.Kind == ReasonUnexpectedError && cc.closeReason.Err != nil && candidate.Kind == ReasonUnexpectedError {
			// first error wins among unexpected errors specifically
		} else {
			cc.closeReason = candidate
		}
	}
	cc.closeStarted = true
	return cc.closeReason
}

func (cc *ClientConn) readLoop(out chan<- http2.Frame, errCh chan<- error) {
	for {
		f, err := cc.fr.ReadFrame()
		if err != nil {
			errCh <- err
			return
		}
		select {
		case out <- f:
		}
	}
}

func (cc *ClientConn) writeGoAway(code http2.ErrCode, msg string) {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	_ = cc.fr.WriteGoAway(cc.lastProcessedStreamID(), code, []byte(msg))
}

func (cc *ClientConn) lastProcessedStreamID() uint32 {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	var max uint32
	cc.streams.Each(func(s *Stream) {
		if s.id > max {
			max = s.id
		}
	})
	return max
}

func (cc *ClientConn) writePing(ack bool, data [8]byte) error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return cc.fr.WritePing(ack, data)
}

// Close enqueues a graceful-close request; idempotent.
func (cc *ClientConn) Close() {
	cc.closeOnce.Do(func() { close(cc.closeRequested) })
}

// ErrUnavailable is returned by NewStream when the connection is not yet
// connected or already closed; a closing connection returns a
// "Transport is shutting down." error instead.
var ErrUnavailable = status.New(status.Unavailable, "Transport is shut down.")
var errShuttingDown = status.New(status.Unavailable, "Transport is shutting down.")

// NewStream opens a new HTTP/2 stream for an RPC, per §4.1's
// makeStream contract.
func (cc *ClientConn) NewStream(md metadata.MD, fullMethod string) (*Stream, error) {
	cc.mu.Lock()
	switch cc.state {
	case stateClosing:
		cc.mu.Unlock()
		return nil, errShuttingDown
	case stateClosed:
		cc.mu.Unlock()
		return nil, ErrUnavailable
	case stateNotConnected:
		cc.mu.Unlock()
		return nil, ErrUnavailable
	}

	id := cc.nextStreamID
	cc.nextStreamID += 2
	s := NewStream(id, 1<<20, cc.opts.MaxMessageSize)
	accepted := cc.acceptEncoding
	cc.streams.Insert(s)
	cc.mu.Unlock()

	req := metadata.NewOutgoingRequest(cc.opts.Authority, fullMethod, cc.opts.Scheme)
	req.Header.Set(metadata.HeaderContentType, "application/grpc")
	req.Header.Set(metadata.HeaderGRPCAcceptEncoding, strings.Join(encoding.Names(), ","))
	s.Encoding = encoding.NegotiateOutbound(cc.opts.PreferredEncoding, accepted)
	if s.Encoding != "identity" {
		req.Header.Set(metadata.HeaderGRPCEncoding, s.Encoding)
	}
	md.Range(func(k, v string) { req.Header.Add(k, v) })

	var headerBlock bytes.Buffer
	enc := hpack.NewEncoder(&headerBlock)
	if err := req.EncodeTo(enc); err != nil {
		cc.mu.Lock()
		cc.streams.Delete(id)
		cc.mu.Unlock()
		return nil, err
	}

	cc.writeMu.Lock()
	err := cc.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: headerBlock.Bytes(),
		EndHeaders:    true,
	})
	cc.writeMu.Unlock()
	if err != nil {
		cc.mu.Lock()
		cc.streams.Delete(id)
		cc.mu.Unlock()
		return nil, err
	}

	s.SetState(StreamClientOpenServerIdle)
	return s, nil
}

// WriteMessage sends one gRPC-framed message on s.
func (cc *ClientConn) WriteMessage(s *Stream, compressed bool, payload []byte, endStream bool) error {
	cc.writeMu.Lock()
	defer cc.writeMu.Unlock()
	return cc.fr.WriteData(s.id, endStream, EncodeMessage(compressed, payload))
}

