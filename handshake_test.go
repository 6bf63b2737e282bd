package lidgren

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestPortRebindReKeysPendingHandshake exercises spec.md §4.8's
// port-rebind detection: a ConnectResponse arriving from a different
// port than the one the initial Connect targeted must still complete
// the handshake, re-keying the connection to the new endpoint.
func TestPortRebindReKeysPendingHandshake(t *testing.T) {
	client := newLoopbackPeer(t, "lidgren-test")

	dialedAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:19191")
	require.NoError(t, err)

	c := newConnection(client, dialedAddr, true)
	c.handshakeNonce = "rebind-test-nonce"
	c.setStatus(StatusInitiatedConnect)
	client.registerConnection(c)
	client.registerPendingHandshake(c)

	b := NewBitBuffer()
	b.WriteString("lidgren-test")
	b.WriteString("rebind-test-nonce")
	b.WriteVarBytes(nil)

	reboundAddr, err := net.ResolveUDPAddr("udp", "127.0.0.1:19192")
	require.NoError(t, err)

	client.handleUnmatchedConnectResponse(reboundAddr, b.Data(), time.Now())

	require.Equal(t, StatusConnected, c.Status())
	require.Equal(t, reboundAddr.String(), c.RemoteAddr.String())

	_, stillPending := client.lookupPendingHandshake("rebind-test-nonce")
	require.False(t, stillPending, "completed handshake must be removed from the pending registry")

	_, stillAtOldAddr := client.lookupConnection(dialedAddr)
	require.False(t, stillAtOldAddr)

	got, ok := client.lookupConnection(reboundAddr)
	require.True(t, ok)
	require.Same(t, c, got)
}

// TestUnmatchedConnectResponseWithUnknownNonceIsIgnored guards against
// a stray ConnectResponse being mistaken for a rebind of some other
// pending handshake.
func TestUnmatchedConnectResponseWithUnknownNonceIsIgnored(t *testing.T) {
	client := newLoopbackPeer(t, "lidgren-test")

	b := NewBitBuffer()
	b.WriteString("lidgren-test")
	b.WriteString("some-other-nonce")
	b.WriteVarBytes(nil)

	addr, err := net.ResolveUDPAddr("udp", "127.0.0.1:19193")
	require.NoError(t, err)

	require.NotPanics(t, func() {
		client.handleUnmatchedConnectResponse(addr, b.Data(), time.Now())
	})
	_, ok := client.lookupConnection(addr)
	require.False(t, ok)
}
