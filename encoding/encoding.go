// Package encoding provides the compressor registry C3 consults when
// negotiating grpc-encoding/grpc-accept-encoding. Message (de)serialization
// itself is out of scope (§1); this only covers the wire-level compression
// layer named in §4.3.
package encoding

import (
	"compress/gzip"
	"io"
	"sync"
)

// Compressor compresses and decompresses gRPC message payloads.
type Compressor interface {
	Name() string
	Compress(w io.Writer) (io.WriteCloser, error)
	Decompress(r io.Reader) (io.Reader, error)
}

var (
	mu       sync.RWMutex
	registry = map[string]Compressor{}
)

// Register adds c to the registry, keyed by c.Name(). Re-registering a
// name replaces the previous entry.
func Register(c Compressor) {
	mu.Lock()
	defer mu.Unlock()
	registry[c.Name()] = c
}

// Lookup returns the compressor registered under name, if any.
func Lookup(name string) (Compressor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	c, ok := registry[name]
	return c, ok
}

// Names returns every registered compressor name, used to build the
// grpc-accept-encoding header.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	return names
}

func init() {
	Register(identityCompressor{})
	Register(gzipCompressor{})
}

type identityCompressor struct{}

func (identityCompressor) Name() string { return "identity" }

func (identityCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return nopWriteCloser{w}, nil
}

func (identityCompressor) Decompress(r io.Reader) (io.Reader, error) { return r, nil }

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

type gzipCompressor struct{}

func (gzipCompressor) Name() string { return "gzip" }

func (gzipCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return gzip.NewWriter(w), nil
}

func (gzipCompressor) Decompress(r io.Reader) (io.Reader, error) {
	return gzip.NewReader(r)
}

// NegotiateOutbound picks the outbound compression algorithm per §4.3:
// the client's requested encoding if both sides support it (it is
// registered here and listed in clientAccepted, or clientAccepted is
// empty), else the first registered name in clientAccepted, falling back
// to identity.
func NegotiateOutbound(clientRequested string, clientAccepted []string) string {
	if clientRequested != "" {
		if _, ok := Lookup(clientRequested); ok {
			listed := len(clientAccepted) == 0
			for _, name := range clientAccepted {
				listed = listed || name == clientRequested
			}
			if listed {
				return clientRequested
			}
		}
	}
	for _, name := range clientAccepted {
		if _, ok := Lookup(name); ok {
			return name
		}
	}
	return "identity"
}
