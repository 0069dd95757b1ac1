// Package grpclog defines the small logging seam C1/C2/C3 use instead of
// calling the standard logger directly, mirroring the injected
// fasthttp.Logger field on the teacher's Server/serverConn types.
package grpclog

import (
	"log"
	"os"
)

// Logger is the minimal interface every connection manager depends on.
type Logger interface {
	Printf(format string, args ...interface{})
}

// Default wraps the standard library logger with the same prefix style the
// teacher's package-level logger used ("[HTTP/2] ").
var Default Logger = stdLogger{log.New(os.Stderr, "[grpctransport] ", log.LstdFlags)}

type stdLogger struct{ *log.Logger }

func (s stdLogger) Printf(format string, args ...interface{}) {
	s.Logger.Printf(format, args...)
}

// Discard silently drops every message; useful for quiet tests.
var Discard Logger = discardLogger{}

type discardLogger struct{}

func (discardLogger) Printf(string, ...interface{}) {}
