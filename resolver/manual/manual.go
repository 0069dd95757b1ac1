// Package manual provides a push-mode test double resolver, letting tests
// drive the channel's resolver-consumption loop (§4.4) by hand instead of
// through DNS or a static list.
package manual

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/domsolutions/grpctransport/resolver"
)

// Resolver is a push-mode resolver.Resolver a test controls directly via
// UpdateState/ReportError/Close.
type Resolver struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []item
	closed bool
}

type item struct {
	result resolver.Result
	err    error
}

// NewResolver returns a ready-to-use manual resolver.
func NewResolver() *Resolver {
	r := &Resolver{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// UpdateState pushes a successful result to whoever is blocked in Next.
func (r *Resolver) UpdateState(result resolver.Result) {
	r.push(item{result: result})
}

// ReportError pushes an error to whoever is blocked in Next.
func (r *Resolver) ReportError(err error) {
	r.push(item{err: err})
}

func (r *Resolver) push(it item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.queue = append(r.queue, it)
	r.cond.Signal()
}

// Mode reports Push: Next blocks for an update rather than re-resolving.
func (r *Resolver) Mode() resolver.UpdateMode { return resolver.Push }

// Close ends the subscription; any blocked or future Next calls return
// io.EOF-equivalent end-of-sequence behavior via ErrClosed.
func (r *Resolver) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.cond.Broadcast()
}

// ErrClosed is returned by Next after Close, representing clean
// end-of-sequence for a push-mode subscription; it wraps io.EOF.
var ErrClosed = fmt.Errorf("manual: resolver subscription closed: %w", io.EOF)

// Next blocks until an update, error, Close, or ctx cancellation.
func (r *Resolver) Next(ctx context.Context) (resolver.Result, error) {
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.cond.Broadcast()
			r.mu.Unlock()
		case <-done:
		}
	}()
	defer close(done)

	r.mu.Lock()
	defer r.mu.Unlock()

	for len(r.queue) == 0 && !r.closed {
		if ctx.Err() != nil {
			return resolver.Result{}, ctx.Err()
		}
		r.cond.Wait()
	}

	if len(r.queue) == 0 {
		return resolver.Result{}, ErrClosed
	}

	it := r.queue[0]
	r.queue = r.queue[1:]

	return it.result, it.err
}
