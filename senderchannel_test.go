package lidgren

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedResendDelay() time.Duration { return 100 * time.Millisecond }

func newTestReliableChannel() (*MessagePool, *reliableSenderChannel) {
	pool := NewMessagePool()
	ch := newReliableSenderChannel(pool, 4, fixedResendDelay)
	return pool, ch
}

func TestReliableSenderChannelWindowLimitsAdmission(t *testing.T) {
	pool, ch := newTestReliableChannel()
	require.Equal(t, 4, ch.allowedSends())

	now := time.Now()
	var sent []uint16
	emit := func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
		sent = append(sent, seq)
	}

	for i := 0; i < 6; i++ {
		m := pool.GetOutgoing()
		m.Type = msgUserBase
		ch.enqueue(m)
	}
	ch.sendQueued(now, emit)

	require.Len(t, sent, 4, "only window-size messages should be admitted per pass")
	require.Equal(t, 0, ch.allowedSends())
	require.Equal(t, 2, ch.q.len(), "the rest stay queued until the window drains")
}

func TestReliableSenderChannelInOrderAckAdvancesWindow(t *testing.T) {
	pool, ch := newTestReliableChannel()
	now := time.Now()
	emit := func(uint16, bool, *OutgoingMessage, bool) {}

	for i := 0; i < 3; i++ {
		m := pool.GetOutgoing()
		ch.enqueue(m)
	}
	ch.sendQueued(now, emit)
	require.Equal(t, uint16(3), ch.sendStart)
	require.Equal(t, uint16(0), ch.windowStart)

	good := ch.receiveAcknowledge(now, 0, emit)
	require.True(t, good)
	require.Equal(t, uint16(1), ch.windowStart)
	require.Equal(t, 2, ch.allowedSends()) // one slot freed by the ack
}

func TestReliableSenderChannelEarlyAckTriggersImmediateRetransmit(t *testing.T) {
	pool, ch := newTestReliableChannel()
	now := time.Now()

	var resent []uint16
	emit := func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
		if resend {
			resent = append(resent, seq)
		}
	}

	for i := 0; i < 3; i++ {
		m := pool.GetOutgoing()
		ch.enqueue(m)
	}
	ch.sendQueued(now, emit)

	// Ack sequence 2 early: 0 and 1 are still outstanding and old
	// enough to trigger the hole-in-sequence heuristic.
	later := now.Add(50 * time.Millisecond)
	ch.receiveAcknowledge(later, 2, emit)

	require.Contains(t, resent, uint16(0))
	require.Contains(t, resent, uint16(1))
	require.True(t, ch.acked[2])

	// Once 0 and 1 finally ack, the window should jump straight past
	// the already-acked slot 2.
	ch.receiveAcknowledge(later, 0, emit)
	ch.receiveAcknowledge(later, 1, emit)
	require.Equal(t, uint16(3), ch.windowStart)
}

func TestReliableSenderChannelDuplicateAckIsIdempotent(t *testing.T) {
	pool, ch := newTestReliableChannel()
	now := time.Now()
	emit := func(uint16, bool, *OutgoingMessage, bool) {}

	m := pool.GetOutgoing()
	ch.enqueue(m)
	ch.sendQueued(now, emit)

	require.True(t, ch.receiveAcknowledge(now, 0, emit))
	require.False(t, ch.receiveAcknowledge(now, 0, emit), "a repeated ack is a no-op, not a crash")
}

func TestReliableSenderChannelResendsAfterDelayElapses(t *testing.T) {
	pool, ch := newTestReliableChannel()
	now := time.Now()

	var resends int
	emit := func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
		if resend {
			resends++
		}
	}

	m := pool.GetOutgoing()
	ch.enqueue(m)
	ch.sendQueued(now, emit)
	require.Equal(t, 0, resends)

	ch.sendQueued(now.Add(50*time.Millisecond), emit)
	require.Equal(t, 0, resends, "resend delay has not elapsed yet")

	ch.sendQueued(now.Add(150*time.Millisecond), emit)
	require.Equal(t, 1, resends)
}

func TestUnreliableSenderChannelNeverStores(t *testing.T) {
	pool := NewMessagePool()
	ch := newUnreliableSenderChannel(pool)
	require.Equal(t, 1<<30, ch.allowedSends())

	sentCount := 0
	emit := func(uint16, bool, *OutgoingMessage, bool) { sentCount++ }

	for i := 0; i < 10; i++ {
		ch.enqueue(pool.GetOutgoing())
	}
	ch.sendQueued(time.Now(), emit)
	require.Equal(t, 10, sentCount)
	require.Equal(t, 0, ch.q.len())
}
