// Package resolver defines the name-resolution abstraction (C4): the
// contract a NameResolver fulfills to produce the endpoints a channel
// connects to, in either pull or push mode, and the scheme registry used
// to pick a Builder for a target.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/domsolutions/grpctransport/address"
)

// UpdateMode distinguishes the two consumption models named in §4.4.
type UpdateMode int

const (
	// Pull means every Next call performs a fresh resolution.
	Pull UpdateMode = iota
	// Push means Next blocks until an update arrives on a subscription.
	Push
)

// ServiceConfigState wraps a resolver-supplied service config result. A nil
// *ServiceConfigState means "the resolver does not supply configuration".
type ServiceConfigState struct {
	// Config is kept as an opaque JSON document: this core does not
	// interpret load-balancing policy configuration (Non-goals, §1).
	Config json.RawMessage
	Err    error
}

// Result is one produced NameResolutionResult.
type Result struct {
	Endpoints     []address.Endpoint
	ServiceConfig *ServiceConfigState
}

// Target identifies what a Resolver should resolve: a parsed "scheme://authority/endpoint" URI.
type Target struct {
	Scheme    string
	Authority string
	Endpoint  string
}

// Resolver is a live, per-target resolver instance.
type Resolver interface {
	// Next returns the next NameResolutionResult.
	//
	// In Pull mode it must never signal end-of-sequence: it returns a
	// result or an error, every call. In Push mode it blocks until an
	// update or the subscription closes, in which case it returns
	// Result{} and an error for which errors.Is(err, io.EOF) holds.
	//
	// A context cancellation propagates verbatim: the caller must not
	// call Next again afterward, and must not call Close-triggered reuse.
	Next(ctx context.Context) (Result, error)

	// Mode reports whether this resolver is Pull or Push.
	Mode() UpdateMode

	// Close releases resources backing this resolver instance. After
	// Close, Next must not be called again.
	Close()
}

// Builder constructs fresh Resolver instances for a Target.
type Builder interface {
	// Build returns a new, independent Resolver for target. Called again
	// by the channel after an error or (push-mode) clean end-of-sequence,
	// per the re-iterability requirement in §4.4.
	Build(target Target) (Resolver, error)

	// Scheme is the URI scheme this builder handles, e.g. "dns".
	Scheme() string
}

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

// Register adds b to the scheme registry, keyed by b.Scheme().
func Register(b Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[b.Scheme()] = b
}

// Get returns the builder registered for scheme, if any.
func Get(scheme string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[scheme]
	return b, ok
}

// ParseTarget splits a "scheme://authority/endpoint" string into a Target.
// Targets with no "://" are treated as passthrough endpoints with an empty
// scheme and authority, matching how a bare "host:port" is handled.
func ParseTarget(target string) Target {
	scheme, rest, ok := strings.Cut(target, "://")
	if !ok {
		return Target{Endpoint: target}
	}

	authority, endpoint, ok := strings.Cut(rest, "/")
	if !ok {
		return Target{Scheme: scheme, Endpoint: rest}
	}

	return Target{Scheme: scheme, Authority: authority, Endpoint: endpoint}
}

// ErrBuilderNotFound is returned by Build helpers that look a builder up
// by target scheme.
type ErrBuilderNotFound struct{ Scheme string }

func (e ErrBuilderNotFound) Error() string {
	return fmt.Sprintf("resolver: no builder registered for scheme %q", e.Scheme)
}

// Build resolves target's scheme to a Builder and builds a Resolver.
func Build(target Target) (Resolver, error) {
	b, ok := Get(target.Scheme)
	if !ok {
		return nil, ErrBuilderNotFound{Scheme: target.Scheme}
	}
	return b.Build(target)
}
