package lidgren

import (
	"net"

	"github.com/OneOfOne/xxhash"
)

// derivePeerUniqueID hashes this peer's bound local endpoint together
// with the host's network interface hardware addresses into a stable
// 64-bit identifier (spec.md §6 "Peer identity"). It is not
// cryptographically meaningful — only collision-resistant enough to
// tell two peers apart in logs and application-level routing.
func derivePeerUniqueID(conn *net.UDPConn) uint64 {
	h := xxhash.New64()
	if la := conn.LocalAddr(); la != nil {
		_, _ = h.Write([]byte(la.String()))
	}
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if len(iface.HardwareAddr) > 0 {
				_, _ = h.Write(iface.HardwareAddr)
			}
		}
	}
	return h.Sum64()
}
