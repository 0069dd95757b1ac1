// Package passthrough implements the static-list resolvers named in §6:
// ipv4://, ipv6:// and unix:// targets that resolve to a fixed set of
// endpoints once, in pull mode (each Next call simply replays the same
// endpoints — there is nothing to re-resolve).
package passthrough

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/domsolutions/grpctransport/address"
	"github.com/domsolutions/grpctransport/resolver"
)

const (
	SchemeIPv4 = "ipv4"
	SchemeIPv6 = "ipv6"
	SchemeUnix = "unix"
)

func init() {
	resolver.Register(staticBuilder{scheme: SchemeIPv4})
	resolver.Register(staticBuilder{scheme: SchemeIPv6})
	resolver.Register(staticBuilder{scheme: SchemeUnix})
}

type staticBuilder struct{ scheme string }

func (b staticBuilder) Scheme() string { return b.scheme }

func (b staticBuilder) Build(target resolver.Target) (resolver.Resolver, error) {
	switch b.scheme {
	case SchemeUnix:
		path := target.Endpoint
		if target.Authority != "" {
			path = target.Authority + "/" + target.Endpoint
		}
		return &staticResolver{
			authority: path,
			result: resolver.Result{Endpoints: []address.Endpoint{
				{Addresses: []address.SocketAddress{address.Unix(path)}},
			}},
		}, nil
	default:
		return buildIPList(b.scheme, target)
	}
}

func buildIPList(scheme string, target resolver.Target) (resolver.Resolver, error) {
	parts := strings.Split(target.Endpoint, ",")
	addrs := make([]address.SocketAddress, 0, len(parts))

	for _, p := range parts {
		host, portStr, err := net.SplitHostPort(p)
		if err != nil {
			return nil, err
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, err
		}

		if scheme == SchemeIPv6 {
			addrs = append(addrs, address.IPv6(host, port, ""))
		} else {
			addrs = append(addrs, address.IPv4(host, port))
		}
	}

	endpoints := make([]address.Endpoint, len(addrs))
	for i, a := range addrs {
		endpoints[i] = address.Endpoint{Addresses: []address.SocketAddress{a}}
	}

	return &staticResolver{
		authority: target.Endpoint,
		result:    resolver.Result{Endpoints: endpoints},
	}, nil
}

// staticResolver always returns the same Result; it is pull-mode per the
// resolver.Resolver contract, but "fresh resolution" degenerates to a
// no-op replay since the address list is fixed at Build time.
type staticResolver struct {
	authority string
	result    resolver.Result
}

func (r *staticResolver) Mode() resolver.UpdateMode { return resolver.Pull }
func (r *staticResolver) Close()                    {}
func (r *staticResolver) Authority() string          { return r.authority }

func (r *staticResolver) Next(ctx context.Context) (resolver.Result, error) {
	select {
	case <-ctx.Done():
		return resolver.Result{}, ctx.Err()
	default:
	}
	return r.result, nil
}
