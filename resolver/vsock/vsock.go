//go:build linux

// Package vsock implements the "vsock://contextID:port" resolver for
// virtual-socket transports, POSIX-only per §6.
package vsock

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/domsolutions/grpctransport/address"
	"github.com/domsolutions/grpctransport/resolver"
)

// Scheme is the URI scheme this package's Builder registers under.
const Scheme = "vsock"

func init() {
	resolver.Register(builder{})
}

type builder struct{}

func (builder) Scheme() string { return Scheme }

func (builder) Build(target resolver.Target) (resolver.Resolver, error) {
	parts := strings.SplitN(target.Endpoint, ":", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("vsock: malformed endpoint %q, want contextID:port", target.Endpoint)
	}

	cid, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("vsock: invalid context id: %w", err)
	}
	port, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return nil, fmt.Errorf("vsock: invalid port: %w", err)
	}

	return &vsockResolver{
		authority: target.Endpoint,
		result: resolver.Result{Endpoints: []address.Endpoint{
			{Addresses: []address.SocketAddress{address.Vsock(uint32(cid), uint32(port))}},
		}},
	}, nil
}

type vsockResolver struct {
	authority string
	result    resolver.Result
}

func (r *vsockResolver) Mode() resolver.UpdateMode { return resolver.Pull }
func (r *vsockResolver) Close()                    {}
func (r *vsockResolver) Authority() string          { return r.authority }

func (r *vsockResolver) Next(ctx context.Context) (resolver.Result, error) {
	select {
	case <-ctx.Done():
		return resolver.Result{}, ctx.Err()
	default:
	}
	return r.result, nil
}
