//go:build !windows

package lidgren

import (
	"net"

	"golang.org/x/sys/unix"
)

// setBroadcast toggles SO_BROADCAST on conn's underlying file
// descriptor so unconnected sends to a subnet broadcast address are
// permitted (spec.md §6 "BroadcastAddress").
func setBroadcast(conn *net.UDPConn, enable bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, boolToInt(enable))
	})
	if err != nil {
		return err
	}
	return sockErr
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
