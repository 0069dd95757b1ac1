package transport

import (
	"encoding/binary"
	"fmt"
)

// msgHeaderLen is the gRPC length-prefix header: 1-byte compressed flag,
// 4-byte big-endian length (§4.3).
const msgHeaderLen = 5

// defaultHPACKTableSize is the HPACK dynamic table size assumed for
// decoding until a connection's SETTINGS_HEADER_TABLE_SIZE negotiation is
// tracked explicitly; matches the HTTP/2 default (RFC 7540 §6.5.2).
const defaultHPACKTableSize = 4096

// ErrMessageTooLarge is raised when a decoded message would exceed the
// configured maximum, without delivering the partial message (§4.3).
type ErrMessageTooLarge struct {
	Size, Max int
}

func (e ErrMessageTooLarge) Error() string {
	return fmt.Sprintf("rpc: failed to decode message: received message of size %d exceeds max %d", e.Size, e.Max)
}

// EncodeMessage wraps payload in the gRPC length-prefix frame.
func EncodeMessage(compressed bool, payload []byte) []byte {
	out := make([]byte, msgHeaderLen+len(payload))
	if compressed {
		out[0] = 1
	}
	binary.BigEndian.PutUint32(out[1:5], uint32(len(payload)))
	copy(out[5:], payload)
	return out
}

// MessageReassembler buffers inbound DATA-frame bytes across frame
// boundaries and emits only complete (compressed, payload) messages,
// generalizing the teacher's Conn.readStream DATA handling (which appended
// straight to an HTTP body) to gRPC's explicit length-prefix framing.
type MessageReassembler struct {
	maxSize int

	buf       []byte
	haveHead  bool
	wantLen   uint32
	compFlag  bool
}

// NewMessageReassembler builds a reassembler enforcing maxSize per message.
func NewMessageReassembler(maxSize int) *MessageReassembler {
	return &MessageReassembler{maxSize: maxSize}
}

// Message is one fully reassembled gRPC message.
type Message struct {
	Compressed bool
	Payload    []byte
}

// Write appends newly received bytes and returns every message completed
// by them, in order. An error means the stream must be aborted without
// delivering a partial message, per §4.3.
func (m *MessageReassembler) Write(b []byte) ([]Message, error) {
	m.buf = append(m.buf, b...)

	var out []Message
	for {
		if !m.haveHead {
			if len(m.buf) < msgHeaderLen {
				return out, nil
			}
			m.compFlag = m.buf[0] != 0
			m.wantLen = binary.BigEndian.Uint32(m.buf[1:5])
			if m.maxSize > 0 && int(m.wantLen) > m.maxSize {
				return out, ErrMessageTooLarge{Size: int(m.wantLen), Max: m.maxSize}
			}
			m.buf = m.buf[msgHeaderLen:]
			m.haveHead = true
		}

		if uint32(len(m.buf)) < m.wantLen {
			return out, nil
		}

		payload := make([]byte, m.wantLen)
		copy(payload, m.buf[:m.wantLen])
		m.buf = m.buf[m.wantLen:]
		m.haveHead = false

		out = append(out, Message{Compressed: m.compFlag, Payload: payload})
	}
}
