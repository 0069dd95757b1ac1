package metadata

import (
	"github.com/valyala/fasthttp"
	"golang.org/x/net/http2/hpack"
)

// Request-side pseudo-header and well-known gRPC header names.
const (
	PseudoMethod    = ":method"
	PseudoScheme    = ":scheme"
	PseudoPath      = ":path"
	PseudoAuthority = ":authority"

	HeaderContentType        = "content-type"
	HeaderTE                 = "te"
	HeaderGRPCEncoding       = "grpc-encoding"
	HeaderGRPCAcceptEncoding = "grpc-accept-encoding"
	HeaderGRPCTimeout        = "grpc-timeout"
)

// OutgoingRequest is the set of pseudo-headers plus the regular header
// container gRPC sends when opening a stream. Regular (non-pseudo)
// headers are held in a *fasthttp.RequestHeader exactly the way the
// teacher's Conn.writeRequest builds them, so the same AddBytesKV/VisitAll
// machinery carries over unchanged.
type OutgoingRequest struct {
	Method    string
	Scheme    string
	Path      string
	Authority string

	Header fasthttp.RequestHeader
}

// NewOutgoingRequest builds the header set for a unary/streaming RPC call.
func NewOutgoingRequest(authority, fullMethod, scheme string) *OutgoingRequest {
	r := &OutgoingRequest{
		Method:    "POST",
		Scheme:    scheme,
		Path:      fullMethod,
		Authority: authority,
	}
	r.Header.Set(HeaderTE, "trailers")
	return r
}

// EncodeTo writes the pseudo-headers (in the canonical order the teacher
// uses: authority, method, path, scheme) followed by every regular header,
// to enc.
func (r *OutgoingRequest) EncodeTo(enc *hpack.Encoder) error {
	fields := []hpack.HeaderField{
		{Name: PseudoAuthority, Value: r.Authority},
		{Name: PseudoMethod, Value: r.Method},
		{Name: PseudoPath, Value: r.Path},
		{Name: PseudoScheme, Value: r.Scheme},
	}
	for _, f := range fields {
		if err := enc.WriteField(f); err != nil {
			return err
		}
	}

	var werr error
	r.Header.VisitAll(func(k, v []byte) {
		if werr != nil {
			return
		}
		werr = enc.WriteField(hpack.HeaderField{Name: string(lower(k)), Value: string(v)})
	})
	return werr
}

// IncomingRequest is the decoded form of a server-received HEADERS block:
// the four pseudo-headers, plus a *fasthttp.RequestHeader carrying every
// other field, mirroring serverConn.handleHeaderFrame's switch on the
// pseudo-header name.
type IncomingRequest struct {
	Method    string
	Scheme    string
	Path      string
	Authority string

	Header fasthttp.RequestHeader
}

// DecodeIncomingRequest decodes a HEADERS payload into an IncomingRequest.
// maxTableSize is the HPACK dynamic table size negotiated over SETTINGS.
func DecodeIncomingRequest(payload []byte, maxTableSize uint32) (*IncomingRequest, error) {
	req := &IncomingRequest{}

	dec := hpack.NewDecoder(maxTableSize, func(f hpack.HeaderField) {
		if len(f.Name) > 0 && f.Name[0] == ':' {
			switch f.Name {
			case PseudoMethod:
				req.Method = f.Value
			case PseudoScheme:
				req.Scheme = f.Value
			case PseudoPath:
				req.Path = f.Value
			case PseudoAuthority:
				req.Authority = f.Value
			}
			return
		}

		req.Header.Add(f.Name, f.Value)
	})
	defer dec.Close()

	if _, err := dec.Write(payload); err != nil {
		return nil, err
	}

	return req, nil
}

// ContentType returns the content-type header value.
func (r *IncomingRequest) ContentType() string {
	return string(r.Header.ContentType())
}

// GRPCEncoding returns the grpc-encoding header value, if present.
func (r *IncomingRequest) GRPCEncoding() (string, bool) {
	v := r.Header.Peek(HeaderGRPCEncoding)
	if v == nil {
		return "", false
	}
	return string(v), true
}

// GRPCTimeout returns the raw grpc-timeout header value, if present.
func (r *IncomingRequest) GRPCTimeout() (string, bool) {
	v := r.Header.Peek(HeaderGRPCTimeout)
	if v == nil {
		return "", false
	}
	return string(v), true
}

func lower(b []byte) []byte {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out[i] = c
	}
	return out
}
