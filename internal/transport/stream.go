package transport

import (
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// errStreamRSTReceived and errStreamUnexpectedClose are the stable error
// strings §6 promises a caller for a stream torn down by an inbound
// RST_STREAM or a protocol violation, rather than a clean half-close.
var (
	errStreamRSTReceived     = errors.New("Stream unexpectedly closed: a RST_STREAM frame was received.")
	errStreamUnexpectedClose = errors.New("Stream unexpectedly closed.")
)

// StreamState realizes the shared RPC stream state machine from §3,
// generalized from the teacher's StreamState enum (stream.go) to the split
// client/server half-close variants gRPC needs.
type StreamState int8

const (
	StreamClientIdle StreamState = iota
	StreamClientOpenServerIdle
	StreamClientOpenServerOpen
	StreamHalfClosedLocal
	StreamHalfClosedRemote
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamClientIdle:
		return "ClientIdle"
	case StreamClientOpenServerIdle:
		return "ClientOpenServerIdle"
	case StreamClientOpenServerOpen:
		return "ClientOpenServerOpen"
	case StreamHalfClosedLocal:
		return "HalfClosedLocal"
	case StreamHalfClosedRemote:
		return "HalfClosedRemote"
	case StreamClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// cancelFunc is the edge-triggered cancellation handle §4.3 requires: an
// inbound RST_STREAM, a ChannelShouldQuiesce signal, or local shutdown all
// fire it exactly once; repeat triggers are no-ops.
type cancelFunc struct {
	once sync.Once
	fn   func()
}

func (c *cancelFunc) fire() {
	c.once.Do(func() {
		if c.fn != nil {
			c.fn()
		}
	})
}

// Stream is one HTTP/2/gRPC stream multiplexed onto a connection. Fields
// are only ever touched from the owning connection's single loop
// goroutine, per §5; outward-facing channels are the sole exception.
type Stream struct {
	id uint32

	state     int32 // StreamState, atomic so readers outside the loop can peek
	startedAt time.Time

	headersFinished bool
	window          int64

	// Encoding is the negotiated outbound compression algorithm for this
	// stream (§4.3's "Compression negotiation"): the server's response
	// grpc-encoding, or the client's request grpc-encoding. Empty until
	// negotiated; "identity" once negotiation has run and chosen no
	// compression.
	Encoding string

	// Deadline is the server-side deadline derived from the inbound
	// request's grpc-timeout header (§4.3's "Timeout propagation
	// (server)"), zero if the client sent none.
	Deadline time.Time

	cancel cancelFunc

	// reasm reassembles the gRPC length-prefix codec (§4.3) across DATA
	// frame boundaries.
	reasm *MessageReassembler

	recvMessages chan Message
	errs         chan error

	closeOnce sync.Once
}

// NewStream allocates a Stream with the given initial flow-control window
// and a maximum inbound message size (0 means unlimited).
func NewStream(id uint32, window int32, maxMessageSize int) *Stream {
	return &Stream{
		id:           id,
		state:        int32(StreamClientIdle),
		window:       int64(window),
		reasm:        NewMessageReassembler(maxMessageSize),
		recvMessages: make(chan Message, 4),
		errs:         make(chan error, 1),
	}
}

func (s *Stream) ID() uint32 { return s.id }

func (s *Stream) State() StreamState { return StreamState(atomic.LoadInt32(&s.state)) }

func (s *Stream) SetState(st StreamState) { atomic.StoreInt32(&s.state, int32(st)) }

// RecvMessages returns the channel of reassembled inbound messages; it is
// closed when the stream finishes (see Finish).
func (s *Stream) RecvMessages() <-chan Message { return s.recvMessages }

// Err returns the terminal error delivered by Finish (nil for a clean
// end). It must only be read after RecvMessages has been drained and
// closed.
func (s *Stream) Err() error { return <-s.errs }

// OnCancel registers fn as the cancellation action; it fires at most once.
func (s *Stream) OnCancel(fn func()) { s.cancel.fn = fn }

// Cancel fires the stream's cancellation handle (edge-triggered).
func (s *Stream) Cancel() { s.cancel.fire() }

// Finish delivers a terminal error (nil for a clean end) to the stream's
// caller-facing channel and closes it — mirrors the teacher's Conn.finish.
func (s *Stream) Finish(err error) {
	s.closeOnce.Do(func() {
		s.errs <- err
		close(s.errs)
		close(s.recvMessages)
	})
}

// streamSet is a sorted slice of open streams, generalized from the
// teacher's Streams type (streams.go) with O(log n) lookup; insert and
// delete shift the slice.
type streamSet struct {
	list []*Stream
}

func (ss *streamSet) search(id uint32) int {
	return sort.Search(len(ss.list), func(i int) bool { return ss.list[i].id >= id })
}

func (ss *streamSet) Get(id uint32) *Stream {
	i := ss.search(id)
	if i < len(ss.list) && ss.list[i].id == id {
		return ss.list[i]
	}
	return nil
}

func (ss *streamSet) Insert(s *Stream) {
	i := ss.search(s.id)
	if i == len(ss.list) {
		ss.list = append(ss.list, s)
		return
	}
	ss.list = append(ss.list, nil)
	copy(ss.list[i+1:], ss.list[i:])
	ss.list[i] = s
}

func (ss *streamSet) Delete(id uint32) *Stream {
	i := ss.search(id)
	if i < len(ss.list) && ss.list[i].id == id {
		s := ss.list[i]
		ss.list = append(ss.list[:i], ss.list[i+1:]...)
		return s
	}
	return nil
}

func (ss *streamSet) Len() int { return len(ss.list) }

func (ss *streamSet) Each(f func(*Stream)) {
	for _, s := range ss.list {
		f(s)
	}
}
