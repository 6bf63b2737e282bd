package lidgren

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReliableUnorderedReceiverChannelDedupesAndAlwaysAcks(t *testing.T) {
	ch := newReliableUnorderedReceiverChannel()

	delivered, ack := ch.receive(5, false, []byte("a"))
	require.True(t, ack)
	require.Len(t, delivered, 1)

	delivered, ack = ch.receive(5, false, []byte("a"))
	require.True(t, ack, "duplicates still ack so the sender stops retransmitting")
	require.Empty(t, delivered)
}

func TestUnreliableSequencedReceiverChannelDropsStale(t *testing.T) {
	ch := &unreliableSequencedReceiverChannel{}

	delivered, ack := ch.receive(10, false, []byte("a"))
	require.False(t, ack)
	require.Len(t, delivered, 1)

	delivered, _ = ch.receive(5, false, []byte("b"))
	require.Empty(t, delivered, "an older sequence number must be dropped")

	delivered, _ = ch.receive(11, false, []byte("c"))
	require.Len(t, delivered, 1, "a newer sequence number is accepted")
}

func TestReliableSequencedReceiverChannelAcksEvenWhenDropped(t *testing.T) {
	ch := &reliableSequencedReceiverChannel{}

	_, ack := ch.receive(3, false, []byte("a"))
	require.True(t, ack)

	delivered, ack := ch.receive(2, false, []byte("b"))
	require.True(t, ack, "a stale message is still acked")
	require.Empty(t, delivered)
}

func TestReliableOrderedReceiverChannelWithholdsAndDrains(t *testing.T) {
	ch := newReliableOrderedReceiverChannel(4)

	delivered, ack := ch.receive(2, false, []byte("c"))
	require.True(t, ack)
	require.Empty(t, delivered, "sequence 2 arrives before 0 and 1, so it is withheld")

	delivered, _ = ch.receive(0, false, []byte("a"))
	require.Len(t, delivered, 1)
	require.Equal(t, []byte("a"), delivered[0].Payload)

	delivered, _ = ch.receive(1, false, []byte("b"))
	require.Len(t, delivered, 2, "filling the gap at 1 must cascade-release the withheld 2")
	require.Equal(t, []byte("b"), delivered[0].Payload)
	require.Equal(t, []byte("c"), delivered[1].Payload)
}

func TestReliableOrderedReceiverChannelOutOfWindowIsDroppedNotDelivered(t *testing.T) {
	ch := newReliableOrderedReceiverChannel(4)

	delivered, ack := ch.receive(99, false, []byte("too far ahead"))
	require.True(t, ack)
	require.Empty(t, delivered)
}
