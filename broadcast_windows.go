//go:build windows

package lidgren

import (
	"net"

	"golang.org/x/sys/windows"
)

// setBroadcast toggles SO_BROADCAST on conn's underlying socket
// handle (spec.md §6 "BroadcastAddress").
func setBroadcast(conn *net.UDPConn, enable bool) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = windows.SetsockoptInt(windows.Handle(fd), windows.SOL_SOCKET, windows.SO_BROADCAST, boolToInt(enable))
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
