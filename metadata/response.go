package metadata

import (
	"strconv"

	"github.com/valyala/fasthttp"
	"golang.org/x/net/http2/hpack"
)

// Response-side pseudo-header and trailer names.
const (
	PseudoStatus = ":status"

	HeaderGRPCStatus  = "grpc-status"
	HeaderGRPCMessage = "grpc-message"
)

// OutgoingResponse is the header set a server writes back: an HTTP status
// pseudo-header plus a *fasthttp.ResponseHeader for everything else,
// mirroring serverConn.fasthttpResponseHeaders exactly (status first,
// Connection/Transfer-Encoding stripped, then every remaining header).
type OutgoingResponse struct {
	HTTPStatus int
	Header     fasthttp.ResponseHeader
}

// NewOutgoingResponse builds a 200-OK response header set, the only status
// gRPC ever uses for a response that carries gRPC framing (non-200 is
// reserved for the non-gRPC failure paths in §4.3).
func NewOutgoingResponse() *OutgoingResponse {
	r := &OutgoingResponse{HTTPStatus: 200}
	r.Header.SetContentType("application/grpc")
	return r
}

// SetTrailers stamps the grpc-status/grpc-message trailers.
func (r *OutgoingResponse) SetTrailers(code, message string) {
	r.Header.Set(HeaderGRPCStatus, code)
	if message != "" {
		r.Header.Set(HeaderGRPCMessage, message)
	}
}

// EncodeTo writes :status followed by every regular header to enc, in the
// same shape as the teacher's fasthttpResponseHeaders.
func (r *OutgoingResponse) EncodeTo(enc *hpack.Encoder) error {
	if err := enc.WriteField(hpack.HeaderField{
		Name:  PseudoStatus,
		Value: strconv.Itoa(r.HTTPStatus),
	}); err != nil {
		return err
	}

	r.Header.Del("Connection")
	r.Header.Del("Transfer-Encoding")

	var werr error
	r.Header.VisitAll(func(k, v []byte) {
		if werr != nil {
			return
		}
		werr = enc.WriteField(hpack.HeaderField{Name: string(lower(k)), Value: string(v)})
	})
	return werr
}

// IncomingResponse is the client-side decoded form of a response HEADERS
// (or trailers-only HEADERS) block.
type IncomingResponse struct {
	HTTPStatus int
	Header     fasthttp.ResponseHeader

	GRPCStatus  string
	GRPCMessage string
	HasTrailers bool
}

// DecodeIncomingResponse decodes a HEADERS/trailers payload.
func DecodeIncomingResponse(payload []byte, maxTableSize uint32) (*IncomingResponse, error) {
	resp := &IncomingResponse{}

	dec := hpack.NewDecoder(maxTableSize, func(f hpack.HeaderField) {
		switch f.Name {
		case PseudoStatus:
			if n, err := strconv.Atoi(f.Value); err == nil {
				resp.HTTPStatus = n
			}
		case HeaderGRPCStatus:
			resp.GRPCStatus = f.Value
			resp.HasTrailers = true
		case HeaderGRPCMessage:
			resp.GRPCMessage = f.Value
			resp.HasTrailers = true
		default:
			if len(f.Name) > 0 && f.Name[0] == ':' {
				return
			}
			resp.Header.Add(f.Name, f.Value)
		}
	})
	defer dec.Close()

	if _, err := dec.Write(payload); err != nil {
		return nil, err
	}

	return resp, nil
}
