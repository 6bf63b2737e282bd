// Package lidgren implements a connection-oriented reliable messaging
// layer over UDP: per-channel delivery semantics (unreliable,
// unreliable-sequenced, reliable-unordered, reliable-sequenced,
// reliable-ordered), connect/disconnect handshaking, MTU discovery,
// keepalive and RTT estimation, fragmentation/reassembly, and NAT
// traversal helpers.
//
// A Peer owns one UDP endpoint, a set of Connections keyed by remote
// address, and a single network worker goroutine. A separate read
// goroutine performs the socket reads and hands each datagram to the
// worker; the worker is the only goroutine that parses datagrams and
// mutates connection state. Socket writes are not confined to either
// goroutine. Application goroutines deposit outgoing messages and drain
// incoming messages through the concurrent queues exposed on Peer.
package lidgren
