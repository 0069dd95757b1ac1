package transport

import (
	"bytes"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fastrand"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/domsolutions/grpctransport/credentials"
	"github.com/domsolutions/grpctransport/encoding"
	"github.com/domsolutions/grpctransport/internal/grpclog"
	"github.com/domsolutions/grpctransport/keepalive"
	"github.com/domsolutions/grpctransport/metadata"
	"github.com/domsolutions/grpctransport/status"
)

// gracefulGoAwayStreamID is the sentinel last-stream-id sent in the first
// of the two GOAWAY frames gRFC A9 prescribes: "accept everything already
// in flight", before the second GOAWAY names the true high-water mark.
const gracefulGoAwayStreamID = 0x7fffffff

// ServerConnOptions configures a ServerConn.
type ServerConnOptions struct {
	Keepalive   keepalive.ServerParameters
	Enforcement keepalive.EnforcementPolicy

	// Credentials, when non-nil and RequireALPN is set, is consulted once
	// after the TLS handshake completes (§4.2's requireALPN check).
	Credentials *credentials.Options

	MaxMessageSize int

	Logger grpclog.Logger
}

func (o *ServerConnOptions) defaults() {
	if o.Logger == nil {
		o.Logger = grpclog.Default
	}
	o.Keepalive.FillDefaults()
	o.Enforcement.FillDefaults()
}

// ServerConn is the server-side connection manager (C2): it owns one
// accepted HTTP/2 connection from preface through graceful shutdown,
// applying gRFC A8 ping policing and gRFC A9's two-phase GOAWAY.
type ServerConn struct {
	opts ServerConnOptions

	mu               sync.Mutex // guards state, streams, closeReason (§5)
	state            connState
	streams          streamSet
	highestStreamID  uint32
	closeReason      CloseReason
	closeStarted     bool
	gracefulStarted  bool

	writeMu sync.Mutex
	conn    net.Conn
	fr      *http2.Framer

	events chan Event

	closeRequested chan struct{}
	closeOnce      sync.Once

	pingStrikes    int32
	pingOutstand   int32 // atomic bool: server-initiated ping awaiting ack
	lastClientPing atomicTime

	peerLocal  Peer
	peerRemote Peer
}

// atomicTime stores a time.Time behind an atomic.Value so receivedPing's
// enforcement check never races the loop goroutine. A box (rather than
// the bare time.Time) lets Clear distinguish "never set" from the zero
// time without atomic.Value's no-nil-after-first-store restriction.
type atomicTime struct {
	v atomic.Value // pingTimeBox
}

type pingTimeBox struct {
	t  time.Time
	ok bool
}

func (t *atomicTime) Store(v time.Time) { t.v.Store(pingTimeBox{t: v, ok: true}) }
func (t *atomicTime) Clear()            { t.v.Store(pingTimeBox{}) }
func (t *atomicTime) Load() (time.Time, bool) {
	b, _ := t.v.Load().(pingTimeBox)
	return b.t, b.ok
}

// NewServerConn allocates a ServerConn bound to an already-accepted conn.
func NewServerConn(conn net.Conn, opts ServerConnOptions) *ServerConn {
	opts.defaults()
	sc := &ServerConn{
		opts:           opts,
		conn:           conn,
		fr:             http2.NewFramer(conn, conn),
		events:         make(chan Event, 1),
		closeRequested: make(chan struct{}),
		peerLocal:      Peer{Addr: conn.LocalAddr().String()},
		peerRemote:     Peer{Addr: conn.RemoteAddr().String()},
	}
	return sc
}

func (sc *ServerConn) Events() <-chan Event { return sc.events }
func (sc *ServerConn) LocalPeer() Peer      { return sc.peerLocal }
func (sc *ServerConn) RemotePeer() Peer     { return sc.peerRemote }

func (sc *ServerConn) emit(ev Event) { sc.events <- ev }

// Run performs the ALPN/requireALPN check (if applicable), the HTTP/2
// preface handshake, then serves the connection until it closes.
func (sc *ServerConn) Run() error {
	if tlsConn, ok := sc.conn.(*tls.Conn); ok && sc.opts.Credentials != nil {
		err := tlsConn.Handshake()
		if err == nil {
			err = sc.opts.Credentials.CheckALPN(tlsConn.ConnectionState())
		}
		if err != nil {
			_ = sc.conn.Close()
			sc.emit(EventConnectFailed{Err: status.Wrap(status.Unavailable, "ALPN check failed", err)})
			close(sc.events)
			return err
		}
	}

	if err := sc.handshake(); err != nil {
		_ = sc.conn.Close()
		sc.emit(EventConnectFailed{Err: status.Wrap(status.Unavailable, "handshake failed", err)})
		close(sc.events)
		return err
	}

	sc.mu.Lock()
	sc.state = stateConnected
	sc.mu.Unlock()
	sc.emit(EventConnectSucceeded{})

	reason := sc.serve()

	sc.mu.Lock()
	sc.state = stateClosed
	sc.mu.Unlock()

	sc.emit(EventClosed{Reason: reason})
	close(sc.events)
	return reason.Err
}

func (sc *ServerConn) handshake() error {
	if err := sc.fr.WriteSettings(); err != nil {
		return err
	}
	for {
		f, err := sc.fr.ReadFrame()
		if err != nil {
			return fmt.Errorf("client disconnected before completing the HTTP/2 connection preface: %w", err)
		}
		if sf, ok := f.(*http2.SettingsFrame); ok && !sf.IsAck() {
			sc.receivedSettings()
			return sc.writeSettingsAck()
		}
	}
}

func (sc *ServerConn) writeSettingsAck() error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.fr.WriteSettingsAck()
}

// receivedSettings is called once, when the first SETTINGS frame from the
// client has been received; it has no effect.
func (sc *ServerConn) receivedSettings() {}

func (sc *ServerConn) serve() CloseReason {
	frameCh := make(chan http2.Frame, 16)
	readErrCh := make(chan error, 1)
	go sc.readLoop(frameCh, readErrCh)

	idle := newLoopTimer(sc.opts.Keepalive.MaxConnectionIdle)
	age := newLoopTimer(sc.opts.Keepalive.MaxConnectionAge)
	grace := newLoopTimer(sc.opts.Keepalive.MaxConnectionAgeGrace)

	var kaSend, kaTimeout *loopTimer
	if sc.opts.Keepalive.Time > 0 {
		kaSend = newLoopTimer(sc.opts.Keepalive.Time)
		kaTimeout = newLoopTimer(sc.opts.Keepalive.Timeout)
		kaSend.Start()
	}

	if sc.opts.Keepalive.MaxConnectionIdle > 0 {
		idle.Start()
	}
	if sc.opts.Keepalive.MaxConnectionAge > 0 {
		age.Start()
	}

	defer func() {
		idle.Cancel()
		age.Cancel()
		grace.Cancel()
		if kaSend != nil {
			kaSend.Cancel()
		}
		if kaTimeout != nil {
			kaTimeout.Cancel()
		}
		sc.cancelAllStreams()
		_ = sc.conn.Close()
	}()

	var pingData [8]byte

	for {
		var idleCh, ageCh, graceCh, kaSendCh, kaTimeoutCh <-chan time.Time
		if idle.Armed() {
			idleCh = idle.C()
		}
		if age.Armed() {
			ageCh = age.C()
		}
		if grace.Armed() {
			graceCh = grace.C()
		}
		if kaSend != nil && kaSend.Armed() {
			kaSendCh = kaSend.C()
		}
		if kaTimeout != nil && kaTimeout.Armed() {
			kaTimeoutCh = kaTimeout.C()
		}

		select {
		case <-sc.closeRequested:
			return sc.drainUntilQuiet(frameCh, readErrCh, sc.upgradeReason(CloseReason{Kind: ReasonInitiatedLocally}))

		case <-idleCh:
			idle.Fired()
			if sc.openStreamCount() == 0 {
				sc.startGracefulShutdown()
			}

		case <-ageCh:
			age.Fired()
			sc.startGracefulShutdown()

		case <-graceCh:
			grace.Fired()
			return sc.upgradeReason(CloseReason{Kind: ReasonInitiatedLocally, WasIdle: sc.openStreamCount() == 0})

		case <-kaSendCh:
			kaSend.Fired()
			binary.BigEndian.PutUint32(pingData[0:4], fastrand.Uint32())
			binary.BigEndian.PutUint32(pingData[4:8], fastrand.Uint32())
			if err := sc.writePing(false, pingData); err != nil {
				return sc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err})
			}
			kaTimeout.Start()

		case <-kaTimeoutCh:
			kaTimeout.Fired()
			return sc.upgradeReason(CloseReason{Kind: ReasonKeepaliveTimeout, WasIdle: sc.openStreamCount() == 0})

		case err := <-readErrCh:
			return sc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err, WasIdle: sc.openStreamCount() == 0})

		case f := <-frameCh:
			if done, reason := sc.handleFrame(f, idle, kaSend, kaTimeout); done {
				return reason
			}
			// The grace period runs from the second GOAWAY, which is sent
			// once the goaway ping has been acked.
			sc.mu.Lock()
			secondGoAwaySent := sc.gracefulStarted && atomic.LoadInt32(&sc.pingOutstand) == 0
			sc.mu.Unlock()
			if secondGoAwaySent && !grace.Armed() {
				grace.Start()
			}
			if sc.gracefullyDone() {
				return sc.upgradeReason(CloseReason{Kind: ReasonInitiatedLocally})
			}
		}
	}
}

func (sc *ServerConn) gracefullyDone() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.state == stateClosing && sc.streams.Len() == 0 && atomic.LoadInt32(&sc.pingOutstand) == 0
}

// drainUntilQuiet blocks until the two-phase GOAWAY handshake has fully
// completed: the goaway ping must be acked (receivedPingAck's "close
// immediately iff no streams remain open", §4.2) and every open stream must
// have drained, not merely the latter — a connection idle at the moment
// shutdown starts would otherwise close having sent only the first GOAWAY.
func (sc *ServerConn) drainUntilQuiet(frameCh <-chan http2.Frame, readErrCh <-chan error, reason CloseReason) CloseReason {
	sc.startGracefulShutdown()
	for atomic.LoadInt32(&sc.pingOutstand) != 0 || sc.openStreamCount() > 0 {
		select {
		case f := <-frameCh:
			sc.handleFrame(f, nil, nil, nil)
		case err := <-readErrCh:
			return sc.upgradeReason(CloseReason{Kind: ReasonUnexpectedError, Err: err})
		case <-time.After(sc.gracePeriod()):
			return reason
		}
	}
	return reason
}

func (sc *ServerConn) gracePeriod() time.Duration {
	if sc.opts.Keepalive.MaxConnectionAgeGrace > 0 {
		return sc.opts.Keepalive.MaxConnectionAgeGrace
	}
	return 10 * time.Second
}

// startGracefulShutdown sends the first of the two GOAWAY frames gRFC A9
// requires: an immediate GOAWAY naming the maximum stream ID, so the peer
// knows every already-open stream will still be served, followed by a
// PING whose ack triggers the second, true-last-stream-id GOAWAY in
// handleFrame's PingFrame case.
func (sc *ServerConn) startGracefulShutdown() {
	sc.mu.Lock()
	if sc.gracefulStarted {
		sc.mu.Unlock()
		return
	}
	sc.gracefulStarted = true
	sc.state = stateClosing
	sc.mu.Unlock()

	sc.writeMu.Lock()
	_ = sc.fr.WriteGoAway(gracefulGoAwayStreamID, http2.ErrCodeNo, nil)
	sc.writeMu.Unlock()

	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], fastrand.Uint32())
	binary.BigEndian.PutUint32(data[4:8], fastrand.Uint32())
	atomic.StoreInt32(&sc.pingOutstand, 1)
	_ = sc.writePing(false, data)
}

func (sc *ServerConn) finishGracefulShutdown() {
	sc.mu.Lock()
	last := sc.highestStreamID
	sc.mu.Unlock()

	sc.writeMu.Lock()
	_ = sc.fr.WriteGoAway(last, http2.ErrCodeNo, nil)
	sc.writeMu.Unlock()
}

func (sc *ServerConn) handleFrame(f http2.Frame, idle, kaSend, kaTimeout *loopTimer) (done bool, reason CloseReason) {
	switch fr := f.(type) {
	case *http2.SettingsFrame:
		if !fr.IsAck() {
			_ = sc.writeSettingsAck()
		}
	case *http2.PingFrame:
		if fr.IsAck() {
			if atomic.CompareAndSwapInt32(&sc.pingOutstand, 1, 0) {
				sc.finishGracefulShutdown()
			}
			if kaTimeout != nil {
				kaTimeout.Cancel()
				if kaSend != nil {
					kaSend.Start()
				}
			}
		} else {
			if bad := sc.receivedPing(); bad {
				sc.writeGoAway(http2.ErrCodeEnhanceYourCalm, "too_many_pings")
				return true, CloseReason{Kind: ReasonInitiatedLocally}
			}
			_ = sc.writePing(true, fr.Data)
		}
	case *http2.HeadersFrame:
		sc.streamOpened(fr.StreamID)
		if idle != nil && idle.duration > 0 {
			idle.Cancel()
		}
		sc.handleHeaders(fr)
	case *http2.DataFrame, *http2.WindowUpdateFrame:
		sc.deliverToStream(f)
	case *http2.RSTStreamFrame:
		sc.mu.Lock()
		s := sc.streams.Get(fr.StreamID)
		sc.mu.Unlock()
		if s != nil {
			s.Cancel()
		}
		sc.streamClosedWithErr(fr.StreamID, errStreamRSTReceived)
		if idle != nil && idle.duration > 0 && sc.openStreamCount() == 0 {
			idle.Start()
		}
	case *http2.GoAwayFrame:
		// The client is shutting down; nothing left to serve once its
		// already-open streams finish.
		if sc.openStreamCount() == 0 {
			return true, sc.upgradeReason(CloseReason{Kind: ReasonRemote})
		}
	}
	return false, CloseReason{}
}

// receivedPing applies gRFC A8's policing rule: strikes accumulate when a
// client ping arrives sooner than the enforcement policy allows, and the
// third bad ping (strikes > MaxServerPingStrikes), i.e. the fourth ping of a
// tight burst, earns GOAWAY(enhance_your_calm).
func (sc *ServerConn) receivedPing() (tooMany bool) {
	now := time.Now()
	last, had := sc.lastClientPing.Load()
	sc.lastClientPing.Store(now)

	minInterval := sc.opts.Enforcement.MinTime
	if sc.openStreamCount() == 0 {
		if !sc.opts.Enforcement.PermitWithoutStream {
			minInterval = keepalive.MinPingIntervalWithoutCalls
		}
	}

	if had && now.Sub(last) < minInterval {
		n := atomic.AddInt32(&sc.pingStrikes, 1)
		return n > keepalive.MaxServerPingStrikes
	}

	atomic.StoreInt32(&sc.pingStrikes, 0)
	return false
}

// resetKeepaliveState clears accumulated ping strikes after the server
// flushes a HEADERS or DATA frame (§4.2): legitimate outbound activity
// proves the connection is live, so a client that then pings tightly
// again starts policing from a clean slate.
func (sc *ServerConn) resetKeepaliveState() {
	atomic.StoreInt32(&sc.pingStrikes, 0)
	sc.lastClientPing.Clear()
}

func (sc *ServerConn) streamOpened(id uint32) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if id > sc.highestStreamID {
		sc.highestStreamID = id
	}
	if sc.streams.Get(id) == nil {
		s := NewStream(id, 1<<20, sc.opts.MaxMessageSize)
		s.SetState(StreamClientOpenServerIdle)
		sc.streams.Insert(s)
	}
}

func (sc *ServerConn) streamClosed(id uint32) {
	sc.streamClosedWithErr(id, nil)
}

// streamClosedWithErr removes the stream from the live set and delivers err
// as its terminal Finish value — nil for a clean half-close, a concrete
// error for RST_STREAM or an admission failure.
func (sc *ServerConn) streamClosedWithErr(id uint32, err error) {
	sc.mu.Lock()
	s := sc.streams.Delete(id)
	sc.mu.Unlock()
	if s != nil {
		s.SetState(StreamClosed)
		s.Finish(err)
	}
}

// cancelAllStreams fires every still-open stream's cancellation handle
// (§4.3: local shutdown is one of the three triggers, alongside inbound
// RST_STREAM and ChannelShouldQuiesce).
func (sc *ServerConn) cancelAllStreams() {
	sc.mu.Lock()
	open := make([]*Stream, sc.streams.Len())
	copy(open, sc.streams.list)
	sc.mu.Unlock()
	for _, s := range open {
		s.Cancel()
	}
}

// handleHeaders implements §4.3's "Request admission (server)" rules for
// the HEADERS frame that opens (or, if malformed, attempts to reopen) a
// stream: content-type, :method/:scheme/:path, and grpc-encoding are
// validated before anything is handed to the application, and a second
// HEADERS frame on an already-admitted stream is a protocol violation.
func (sc *ServerConn) handleHeaders(fr *http2.HeadersFrame) {
	sc.mu.Lock()
	s := sc.streams.Get(fr.StreamID)
	sc.mu.Unlock()
	if s == nil {
		return
	}

	if s.headersFinished {
		sc.writeRSTStream(fr.StreamID, http2.ErrCodeProtocol)
		s.Cancel()
		sc.streamClosedWithErr(fr.StreamID, errStreamUnexpectedClose)
		return
	}

	req, err := metadata.DecodeIncomingRequest(fr.HeaderBlockFragment(), defaultHPACKTableSize)
	if err != nil {
		sc.writeRSTStream(fr.StreamID, http2.ErrCodeProtocol)
		sc.streamClosedWithErr(fr.StreamID, status.Wrap(status.Internal, "failed to decode request headers", err))
		return
	}
	s.headersFinished = true

	if ct := req.ContentType(); !strings.HasPrefix(ct, "application/grpc") {
		_ = sc.WriteResponse(fr.StreamID, &metadata.OutgoingResponse{HTTPStatus: 415}, true)
		sc.streamClosedWithErr(fr.StreamID, status.New(status.Internal, "unsupported content-type "+ct))
		return
	}

	if req.Method != "POST" || (req.Scheme != "http" && req.Scheme != "https") || req.Path == "" {
		resp := metadata.NewOutgoingResponse()
		resp.SetTrailers(strconv.Itoa(int(status.InvalidArgument)), "malformed gRPC request headers")
		_ = sc.WriteResponse(fr.StreamID, resp, true)
		sc.streamClosedWithErr(fr.StreamID, status.New(status.InvalidArgument, "malformed gRPC request headers"))
		return
	}

	clientRequested, _ := req.GRPCEncoding()
	if clientRequested != "" {
		if _, supported := encoding.Lookup(clientRequested); !supported {
			resp := metadata.NewOutgoingResponse()
			resp.SetTrailers(strconv.Itoa(int(status.Unimplemented)), "unsupported grpc-encoding "+clientRequested)
			resp.Header.Set(metadata.HeaderGRPCAcceptEncoding, strings.Join(encoding.Names(), ","))
			_ = sc.WriteResponse(fr.StreamID, resp, true)
			sc.streamClosedWithErr(fr.StreamID, status.New(status.Unimplemented, "unsupported grpc-encoding "+clientRequested))
			return
		}
	}

	var accepted []string
	if v := req.Header.Peek(metadata.HeaderGRPCAcceptEncoding); len(v) > 0 {
		accepted = splitEncodingList(string(v))
	}
	s.Encoding = encoding.NegotiateOutbound(clientRequested, accepted)

	if raw, ok := req.GRPCTimeout(); ok {
		if d, ok := parseGRPCTimeout(raw); ok {
			s.Deadline = time.Now().Add(d)
		}
	}

	if fr.StreamEnded() {
		sc.streamClosed(fr.StreamID)
	}
}

func splitEncodingList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// grpcTimeoutUnits maps a grpc-timeout header's trailing unit byte to its
// time.Duration multiplier, per the wire format: up to 8 ASCII digits
// followed by one of H/M/S/m/u/n.
var grpcTimeoutUnits = map[byte]time.Duration{
	'H': time.Hour,
	'M': time.Minute,
	'S': time.Second,
	'm': time.Millisecond,
	'u': time.Microsecond,
	'n': time.Nanosecond,
}

// parseGRPCTimeout decodes a grpc-timeout header value into a duration.
func parseGRPCTimeout(v string) (time.Duration, bool) {
	if len(v) < 2 {
		return 0, false
	}
	unit, ok := grpcTimeoutUnits[v[len(v)-1]]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v[:len(v)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

func (sc *ServerConn) deliverToStream(f http2.Frame) {
	var id uint32
	switch fr := f.(type) {
	case *http2.DataFrame:
		id = fr.StreamID
	case *http2.WindowUpdateFrame:
		id = fr.StreamID
	default:
		return
	}
	if id == 0 {
		return
	}

	sc.mu.Lock()
	s := sc.streams.Get(id)
	sc.mu.Unlock()
	if s == nil {
		return
	}

	switch fr := f.(type) {
	case *http2.DataFrame:
		msgs, err := s.reasm.Write(fr.Data())
		if err != nil {
			sc.writeRSTStream(id, http2.ErrCodeFlowControl)
			sc.streamClosedWithErr(id, status.Wrap(status.Internal, "failed to decode message", err))
			return
		}
		for _, m := range msgs {
			s.recvMessages <- m
		}
		if fr.StreamEnded() {
			sc.streamClosed(id)
		}
	}
}

func (sc *ServerConn) openStreamCount() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.streams.Len()
}

func (sc *ServerConn) upgradeReason(candidate CloseReason) CloseReason {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if !sc.closeStarted || higherPrecedence(sc.closeReason, candidate) {
		if sc.closeReason.Kind == ReasonUnexpectedError && sc.closeReason.Err != nil && candidate.Kind == ReasonUnexpectedError {
			// first error wins among unexpected errors specifically
		} else {
			sc.closeReason = candidate
		}
	}
	sc.closeStarted = true
	return sc.closeReason
}

func (sc *ServerConn) readLoop(out chan<- http2.Frame, errCh chan<- error) {
	for {
		f, err := sc.fr.ReadFrame()
		if err != nil {
			errCh <- err
			return
		}
		out <- f
	}
}

func (sc *ServerConn) writeGoAway(code http2.ErrCode, msg string) {
	sc.mu.Lock()
	last := sc.highestStreamID
	sc.mu.Unlock()

	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.fr.WriteGoAway(last, code, []byte(msg))
}

func (sc *ServerConn) writePing(ack bool, data [8]byte) error {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	return sc.fr.WritePing(ack, data)
}

func (sc *ServerConn) writeRSTStream(id uint32, code http2.ErrCode) {
	sc.writeMu.Lock()
	defer sc.writeMu.Unlock()
	_ = sc.fr.WriteRSTStream(id, code)
}

// Close requests a graceful shutdown (gRFC A9); idempotent.
func (sc *ServerConn) Close() {
	sc.closeOnce.Do(func() { close(sc.closeRequested) })
}

// WriteResponse writes the response HEADERS for stream id. For a 200-OK
// gRPC response it stamps the grpc-encoding header with the algorithm
// negotiated for this stream during admission (§4.3), unless the caller
// already set one explicitly.
func (sc *ServerConn) WriteResponse(id uint32, resp *metadata.OutgoingResponse, endStream bool) error {
	if resp.HTTPStatus == 200 && len(resp.Header.Peek(metadata.HeaderGRPCEncoding)) == 0 {
		sc.mu.Lock()
		s := sc.streams.Get(id)
		sc.mu.Unlock()
		if s != nil && s.Encoding != "" && s.Encoding != "identity" {
			resp.Header.Set(metadata.HeaderGRPCEncoding, s.Encoding)
		}
	}

	var headerBlock bytes.Buffer
	enc := hpack.NewEncoder(&headerBlock)
	if err := resp.EncodeTo(enc); err != nil {
		return err
	}

	sc.writeMu.Lock()
	err := sc.fr.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      id,
		BlockFragment: headerBlock.Bytes(),
		EndHeaders:    true,
		EndStream:     endStream,
	})
	sc.writeMu.Unlock()
	if err == nil {
		sc.resetKeepaliveState()
	}
	return err
}

// WriteMessage sends one gRPC-framed message on stream id.
func (sc *ServerConn) WriteMessage(id uint32, compressed bool, payload []byte, endStream bool) error {
	sc.writeMu.Lock()
	err := sc.fr.WriteData(id, endStream, EncodeMessage(compressed, payload))
	sc.writeMu.Unlock()
	if err == nil {
		sc.resetKeepaliveState()
	}
	return err
}

// Stream returns the live Stream for id, if still open.
func (sc *ServerConn) Stream(id uint32) *Stream {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.streams.Get(id)
}
