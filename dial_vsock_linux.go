//go:build linux

package grpctransport

import (
	"context"
	"net"

	"github.com/domsolutions/grpctransport/address"
	vsockdial "github.com/domsolutions/grpctransport/resolver/vsock"
)

func dialVsock(_ context.Context, addr address.SocketAddress) (net.Conn, error) {
	cid, port, _ := addr.ContextID()
	return vsockdial.Dial(cid, port)
}
