// Package dns implements the "dns://host[:port]" NameResolver, the
// primary pull-mode resolver named in §6. Each Next call performs a fresh
// lookup via stdlib net.Resolver — the "DNS resolver's OS-level lookup
// call" the core treats as an external collaborator (§1).
package dns

import (
	"context"
	"net"
	"strconv"

	"github.com/domsolutions/grpctransport/address"
	"github.com/domsolutions/grpctransport/resolver"
)

const defaultPort = "443"

// Scheme is the URI scheme this package's Builder registers under.
const Scheme = "dns"

func init() {
	resolver.Register(NewBuilder(nil))
}

type builder struct {
	res *net.Resolver
}

// NewBuilder returns a resolver.Builder backed by res. A nil res uses
// net.DefaultResolver.
func NewBuilder(res *net.Resolver) resolver.Builder {
	if res == nil {
		res = net.DefaultResolver
	}
	return &builder{res: res}
}

func (b *builder) Scheme() string { return Scheme }

func (b *builder) Build(target resolver.Target) (resolver.Resolver, error) {
	host, port, err := net.SplitHostPort(target.Endpoint)
	if err != nil {
		host, port = target.Endpoint, defaultPort
	}

	authority := host
	if port != defaultPort {
		authority = net.JoinHostPort(host, port)
	}

	return &dnsResolver{res: b.res, host: host, port: port, authority: authority}, nil
}

type dnsResolver struct {
	res       *net.Resolver
	host      string
	port      string
	authority string
}

func (r *dnsResolver) Mode() resolver.UpdateMode { return resolver.Pull }

func (r *dnsResolver) Close() {}

func (r *dnsResolver) Next(ctx context.Context) (resolver.Result, error) {
	ips, err := r.res.LookupIPAddr(ctx, r.host)
	if err != nil {
		return resolver.Result{}, err
	}

	portNum, err := strconv.Atoi(r.port)
	if err != nil {
		return resolver.Result{}, err
	}

	endpoints := make([]address.Endpoint, 0, len(ips))
	for _, ip := range ips {
		var addr address.SocketAddress
		if ip.IP.To4() != nil {
			addr = address.IPv4(ip.IP.String(), portNum)
		} else {
			addr = address.IPv6(ip.IP.String(), portNum, ip.Zone)
		}
		endpoints = append(endpoints, address.Endpoint{Addresses: []address.SocketAddress{addr}})
	}

	return resolver.Result{Endpoints: endpoints}, nil
}

// Authority returns the logical authority this resolver was built for:
// host[:port], omitting the default port, per §6.
func (r *dnsResolver) Authority() string { return r.authority }
