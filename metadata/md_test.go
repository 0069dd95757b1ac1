package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMDAppendBinary(t *testing.T) {
	var md MD
	md.AppendBinary("trace-id", []byte{0x01, 0x02, 0xff})

	vals := md.Get("trace-id-bin")
	require.Len(t, vals, 1)

	decoded, ok := md.GetBinary("trace-id")
	require.True(t, ok)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, decoded)
}

func TestMDEqualIgnoresOrder(t *testing.T) {
	var a, b MD
	a.Append("X-A", "1")
	a.Append("x-b", "2")

	b.Append("x-b", "2")
	b.Append("x-a", "1")

	assert.True(t, Equal(a, b))

	b.Append("x-c", "3")
	assert.False(t, Equal(a, b))
}

func TestOutgoingIncomingRequestRoundTrip(t *testing.T) {
	req := NewOutgoingRequest("example.com:443", "/pkg.Service/Method", "https")
	req.Header.Set(HeaderContentType, "application/grpc")
	req.Header.Set(HeaderGRPCEncoding, "gzip")
	req.Header.Add("x-custom", "value")

	buf := encodeRequestForTest(t, req)

	decoded, err := DecodeIncomingRequest(buf, 4096)
	require.NoError(t, err)

	assert.Equal(t, "POST", decoded.Method)
	assert.Equal(t, "https", decoded.Scheme)
	assert.Equal(t, "/pkg.Service/Method", decoded.Path)
	assert.Equal(t, "example.com:443", decoded.Authority)
	assert.Equal(t, "application/grpc", decoded.ContentType())

	enc, ok := decoded.GRPCEncoding()
	require.True(t, ok)
	assert.Equal(t, "gzip", enc)
}

func TestOutgoingIncomingResponseRoundTrip(t *testing.T) {
	resp := NewOutgoingResponse()
	resp.SetTrailers("0", "")

	buf := encodeResponseForTest(t, resp)

	decoded, err := DecodeIncomingResponse(buf, 4096)
	require.NoError(t, err)

	assert.Equal(t, 200, decoded.HTTPStatus)
	assert.True(t, decoded.HasTrailers)
	assert.Equal(t, "0", decoded.GRPCStatus)
}
