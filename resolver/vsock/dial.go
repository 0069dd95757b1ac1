//go:build linux

package vsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Dial opens a raw AF_VSOCK socket to (contextID, port) and wraps it as a
// net.Conn, the POSIX-only transport primitive §6 calls for.
func Dial(contextID, port uint32) (net.Conn, error) {
	fd, err := unix.Socket(unix.AF_VSOCK, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("vsock: socket: %w", err)
	}

	sa := &unix.SockaddrVM{CID: contextID, Port: port}
	if err := unix.Connect(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("vsock: connect: %w", err)
	}

	f := os.NewFile(uintptr(fd), fmt.Sprintf("vsock:%d:%d", contextID, port))
	conn, err := net.FileConn(f)
	_ = f.Close()
	if err != nil {
		return nil, fmt.Errorf("vsock: FileConn: %w", err)
	}

	return conn, nil
}
