package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeMessageRoundTrip(t *testing.T) {
	payload := []byte("hello, grpc")
	wire := EncodeMessage(true, payload)

	r := NewMessageReassembler(0)
	msgs, err := r.Write(wire)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	assert.True(t, msgs[0].Compressed)
	assert.Equal(t, payload, msgs[0].Payload)
}

func TestMessageReassemblerAcrossFrameBoundaries(t *testing.T) {
	payload := []byte("split across several DATA frames")
	wire := EncodeMessage(false, payload)

	r := NewMessageReassembler(0)

	var got []Message
	for i := 0; i < len(wire); i++ {
		msgs, err := r.Write(wire[i : i+1])
		require.NoError(t, err)
		got = append(got, msgs...)
	}

	require.Len(t, got, 1)
	assert.Equal(t, payload, got[0].Payload)
}

func TestMessageReassemblerMultipleMessages(t *testing.T) {
	wire := append(EncodeMessage(false, []byte("one")), EncodeMessage(true, []byte("two"))...)

	r := NewMessageReassembler(0)
	msgs, err := r.Write(wire)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, "one", string(msgs[0].Payload))
	assert.False(t, msgs[0].Compressed)
	assert.Equal(t, "two", string(msgs[1].Payload))
	assert.True(t, msgs[1].Compressed)
}

func TestMessageReassemblerEnforcesMaxSize(t *testing.T) {
	wire := EncodeMessage(false, make([]byte, 100))

	r := NewMessageReassembler(10)
	_, err := r.Write(wire)
	require.Error(t, err)

	var tooLarge ErrMessageTooLarge
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 100, tooLarge.Size)
	assert.Equal(t, 10, tooLarge.Max)
}
