package grpctransport

import (
	"crypto/tls"
	"net"

	"github.com/domsolutions/grpctransport/credentials"
	"github.com/domsolutions/grpctransport/internal/grpclog"
	"github.com/domsolutions/grpctransport/internal/transport"
	"github.com/domsolutions/grpctransport/keepalive"
	"github.com/domsolutions/grpctransport/metadata"
)

func newOutgoingResponseWithStatus(httpStatus int) *metadata.OutgoingResponse {
	resp := metadata.NewOutgoingResponse()
	resp.HTTPStatus = httpStatus
	return resp
}

// ServerOptions configures a Server.
type ServerOptions struct {
	// TLS, when non-nil, terminates TLS (and checks ALPN, if
	// TLS.RequireALPN) on every accepted connection before the HTTP/2
	// preface begins. Nil serves plaintext ("h2c").
	TLS *credentials.Options

	Keepalive      keepalive.ServerParameters
	Enforcement    keepalive.EnforcementPolicy
	MaxMessageSize int

	Logger grpclog.Logger

	// Handler is invoked once per accepted connection, in its own
	// goroutine, with the live ServerConn.
	Handler func(*ServerConn)
}

// ServerConn is the server-side counterpart to Conn.
type ServerConn struct {
	sc *transport.ServerConn
}

func (s *ServerConn) Events() <-chan transport.Event { return s.sc.Events() }
func (s *ServerConn) Close()                         { s.sc.Close() }
func (s *ServerConn) LocalPeer() transport.Peer       { return s.sc.LocalPeer() }
func (s *ServerConn) RemotePeer() transport.Peer      { return s.sc.RemotePeer() }

// Stream returns the live server-side stream for id, or nil if it has
// already closed.
func (s *ServerConn) Stream(id uint32) *transport.Stream { return s.sc.Stream(id) }

// WriteResponse writes response headers for stream id.
func (s *ServerConn) WriteResponse(id uint32, status int, endStream bool) error {
	resp := newOutgoingResponseWithStatus(status)
	return s.sc.WriteResponse(id, resp, endStream)
}

// WriteMessage sends one gRPC-framed message on stream id.
func (s *ServerConn) WriteMessage(id uint32, payload []byte, compressed, endStream bool) error {
	return s.sc.WriteMessage(id, compressed, payload, endStream)
}

// Serve accepts connections from ln until it returns an error (including
// ln.Close from another goroutine), driving each one as a ServerConn and
// invoking opts.Handler for it. It mirrors the teacher's Server.Serve
// accept loop (server.go), generalized to the gRPC handshake/shutdown
// rules C2 implements.
func Serve(ln net.Listener, opts ServerOptions) error {
	for {
		raw, err := ln.Accept()
		if err != nil {
			return err
		}

		conn := raw
		if opts.TLS != nil {
			conn = tls.Server(raw, opts.TLS.Build())
		}

		sc := transport.NewServerConn(conn, transport.ServerConnOptions{
			Keepalive:      opts.Keepalive,
			Enforcement:    opts.Enforcement,
			Credentials:    opts.TLS,
			MaxMessageSize: opts.MaxMessageSize,
			Logger:         opts.Logger,
		})

		go func() {
			wrapped := &ServerConn{sc: sc}
			go func() { _ = sc.Run() }()
			if opts.Handler != nil {
				opts.Handler(wrapped)
			}
		}()
	}
}
