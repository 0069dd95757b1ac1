//go:build !linux

package grpctransport

import (
	"context"
	"fmt"
	"net"

	"github.com/domsolutions/grpctransport/address"
)

func dialVsock(_ context.Context, addr address.SocketAddress) (net.Conn, error) {
	return nil, fmt.Errorf("grpctransport: vsock transport is only available on linux")
}
