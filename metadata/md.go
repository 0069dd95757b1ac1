// Package metadata models gRPC metadata: ordered (key, value) pairs where
// keys are lowercase ASCII and values are either UTF-8 text or, for keys
// ending in "-bin", base64-encoded binary blobs. It also bridges the
// HTTP/2 pseudo-headers gRPC relies on (:method, :scheme, :path,
// :authority, plus the HTTP response status) to and from HPACK using
// golang.org/x/net/http2/hpack, and reuses fasthttp's header containers
// (the same ones the teacher used to bridge HTTP/2 frames to request and
// response objects) to hold the non-pseudo header set on each side.
package metadata

import (
	"encoding/base64"
	"strings"
)

// MD is an ordered multimap of gRPC metadata entries.
type MD struct {
	keys   []string
	values []string
}

// New builds an MD from a map, lowercasing keys. Map iteration order is
// non-deterministic; callers that care about wire order should use Append.
func New(m map[string]string) MD {
	md := MD{}
	for k, v := range m {
		md.Append(k, v)
	}
	return md
}

// Append adds a (key, value) pair, lowercasing the key and storing value
// unchanged. AppendBinary is the variant that takes raw bytes for a "-bin"
// key and base64-encodes them.
func (md *MD) Append(key, value string) {
	md.keys = append(md.keys, strings.ToLower(key))
	md.values = append(md.values, value)
}

// AppendBinary adds a binary metadata entry, base64-encoding value and
// suffixing the key with "-bin" if it isn't already.
func (md *MD) AppendBinary(key string, value []byte) {
	key = strings.ToLower(key)
	if !strings.HasSuffix(key, "-bin") {
		key += "-bin"
	}
	md.Append(key, base64.StdEncoding.EncodeToString(value))
}

// Get returns all values for key, in insertion order.
func (md MD) Get(key string) []string {
	key = strings.ToLower(key)
	var out []string
	for i, k := range md.keys {
		if k == key {
			out = append(out, md.values[i])
		}
	}
	return out
}

// GetBinary returns the decoded value of the first "-bin" entry for key.
func (md MD) GetBinary(key string) ([]byte, bool) {
	key = strings.ToLower(key)
	if !strings.HasSuffix(key, "-bin") {
		key += "-bin"
	}
	vals := md.Get(key)
	if len(vals) == 0 {
		return nil, false
	}
	b, err := base64.StdEncoding.DecodeString(vals[0])
	if err != nil {
		return nil, false
	}
	return b, true
}

// Len returns the number of entries.
func (md MD) Len() int { return len(md.keys) }

// Range visits every (key, value) pair in insertion order.
func (md MD) Range(f func(key, value string)) {
	for i := range md.keys {
		f(md.keys[i], md.values[i])
	}
}

// Equal reports whether a and b hold the same entries after lowercasing
// keys, independent of order — the round-trip law §8 requires of
// decode(encode(M)).
func Equal(a, b MD) bool {
	if a.Len() != b.Len() {
		return false
	}
	count := make(map[string]int, a.Len())
	for i := range a.keys {
		count[a.keys[i]+"\x00"+a.values[i]]++
	}
	for i := range b.keys {
		count[b.keys[i]+"\x00"+b.values[i]]--
	}
	for _, c := range count {
		if c != 0 {
			return false
		}
	}
	return true
}
