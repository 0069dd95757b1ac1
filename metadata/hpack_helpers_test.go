package metadata

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2/hpack"
)

func encodeRequestForTest(t *testing.T, req *OutgoingRequest) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	require.NoError(t, req.EncodeTo(enc))
	return buf.Bytes()
}

func encodeResponseForTest(t *testing.T, resp *OutgoingResponse) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := hpack.NewEncoder(&buf)
	require.NoError(t, resp.EncodeTo(enc))
	return buf.Bytes()
}
