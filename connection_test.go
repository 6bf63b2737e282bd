package lidgren

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newLoopbackPeer(t *testing.T, appID string) *Peer {
	t.Helper()
	cfg := NewConfiguration(appID)
	cfg.LocalAddress = "127.0.0.1"
	cfg.Port = 0
	cfg.PingInterval = 50 * time.Millisecond
	cfg.ConnectionTimeout = 2 * time.Second
	p := NewPeer(cfg)
	require.NoError(t, p.Start())
	t.Cleanup(func() { p.Shutdown("test teardown") })
	return p
}

func TestHandshakeReachesConnectedOnBothSides(t *testing.T) {
	server := newLoopbackPeer(t, "lidgren-test")
	client := newLoopbackPeer(t, "lidgren-test")

	clientConn, err := client.Connect(server.conn.LocalAddr().String(), []byte("hi"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(server.Connections()) == 1 && server.Connections()[0].Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHandshakeRejectsAppIdentifierMismatch(t *testing.T) {
	server := newLoopbackPeer(t, "server-app")
	client := newLoopbackPeer(t, "different-app")

	clientConn, err := client.Connect(server.conn.LocalAddr().String(), nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReliableOrderedMessageDeliveredInOrder(t *testing.T) {
	server := newLoopbackPeer(t, "lidgren-test")
	client := newLoopbackPeer(t, "lidgren-test")

	clientConn, err := client.Connect(server.conn.LocalAddr().String(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	for i := 0; i < 5; i++ {
		require.NoError(t, clientConn.Send(ReliableOrdered, 0, []byte{byte(i)}))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var got []byte
	for len(got) < 5 {
		msg, err := server.ReadMessage(ctx)
		require.NoError(t, err)
		if !msg.IsData() {
			// StatusChanged events are released too by default.
			server.ReleaseMessage(msg)
			continue
		}
		got = append(got, msg.Payload.Data()[0])
		server.ReleaseMessage(msg)
	}
	require.Equal(t, []byte{0, 1, 2, 3, 4}, got)
}

func TestEnqueueOutgoingFragmentsOversizedPayload(t *testing.T) {
	server := newLoopbackPeer(t, "lidgren-test")
	client := newLoopbackPeer(t, "lidgren-test")

	clientConn, err := client.Connect(server.conn.LocalAddr().String(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	big := make([]byte, 6000)
	for i := range big {
		big[i] = byte(i)
	}
	require.NoError(t, clientConn.Send(ReliableOrdered, 0, big))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var msg *IncomingMessage
	for msg == nil {
		m, err := server.ReadMessage(ctx)
		require.NoError(t, err)
		if m.IsData() {
			msg = m
		} else {
			server.ReleaseMessage(m)
		}
	}
	require.Equal(t, big, msg.Payload.Data())
}

func TestDisconnectFromApplicationGoroutineIsHandledByWorker(t *testing.T) {
	server := newLoopbackPeer(t, "lidgren-test")
	client := newLoopbackPeer(t, "lidgren-test")

	clientConn, err := client.Connect(server.conn.LocalAddr().String(), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusConnected
	}, 2*time.Second, 5*time.Millisecond)

	// Called directly from the test goroutine, not the worker: Disconnect
	// must still only ever mutate state via the owning Peer's worker.
	clientConn.Disconnect("bye")

	require.Eventually(t, func() bool {
		return clientConn.Status() == StatusDisconnected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStatusChangedEventIsReleasedWhenEnabled(t *testing.T) {
	server := newLoopbackPeer(t, "lidgren-test")
	client := newLoopbackPeer(t, "lidgren-test")

	_, err := client.Connect(server.conn.LocalAddr().String(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sawStatusChanged := false
	for !sawStatusChanged {
		msg, err := server.ReadMessage(ctx)
		require.NoError(t, err)
		if msg.Type == MsgStatusChanged {
			sawStatusChanged = true
		}
		server.ReleaseMessage(msg)
	}
}

func TestChannelSlotAndWireChannelIDRoundTrip(t *testing.T) {
	for _, m := range []DeliveryMethod{Unreliable, UnreliableSequenced, ReliableUnordered, ReliableSequenced, ReliableOrdered} {
		for sub := 0; sub < 3; sub++ {
			id := wireChannelID(m, sub)
			gotMethod, gotSub := channelFromWireID(id)
			require.Equal(t, m, gotMethod)
			require.Equal(t, sub, gotSub)
		}
	}
}
