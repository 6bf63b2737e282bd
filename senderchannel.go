package lidgren

import (
	"sync"
	"time"
)

// emitFunc hands one message to the connection for wire encoding and
// transmission; resend is true when this is a retransmission of an
// already-assigned sequence number.
type emitFunc func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool)

// senderChannel is the send side of one (delivery-class, sub-channel)
// pair (spec.md §4.3). All implementations are safe for concurrent
// enqueue from application goroutines; sendQueued/receiveAcknowledge
// are called only by the owning connection's worker goroutine.
type senderChannel interface {
	enqueue(msg *OutgoingMessage)
	sendQueued(now time.Time, emit emitFunc)
	receiveAcknowledge(now time.Time, seq uint16, emit emitFunc) (goodRTTSample bool)
	allowedSends() int
	reset()
}

// fifo is a mutex-protected outgoing message queue: the
// multi-producer/single-consumer boundary between application
// goroutines (producers) and the network worker (sole consumer),
// spec.md §5.
type fifo struct {
	mu    sync.Mutex
	items []*OutgoingMessage
}

func (f *fifo) push(m *OutgoingMessage) {
	f.mu.Lock()
	f.items = append(f.items, m)
	f.mu.Unlock()
}

func (f *fifo) pop() (*OutgoingMessage, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.items) == 0 {
		return nil, false
	}
	m := f.items[0]
	f.items = f.items[1:]
	return m, true
}

func (f *fifo) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fifo) reset(pool *MessagePool) {
	f.mu.Lock()
	items := f.items
	f.items = nil
	f.mu.Unlock()
	for _, m := range items {
		m.release(pool)
	}
}

// unreliableSenderChannel drains its FIFO every pass with no storage
// and no acknowledgement (spec.md §4.3 "Unreliable").
type unreliableSenderChannel struct {
	pool *MessagePool
	q    fifo
}

func newUnreliableSenderChannel(pool *MessagePool) *unreliableSenderChannel {
	return &unreliableSenderChannel{pool: pool}
}

func (c *unreliableSenderChannel) enqueue(m *OutgoingMessage) { c.q.push(m) }

func (c *unreliableSenderChannel) sendQueued(now time.Time, emit emitFunc) {
	for {
		m, ok := c.q.pop()
		if !ok {
			return
		}
		emit(0, false, m, false)
		m.release(c.pool)
	}
}

func (c *unreliableSenderChannel) receiveAcknowledge(time.Time, uint16, emitFunc) bool { return false }
func (c *unreliableSenderChannel) allowedSends() int                        { return 1 << 30 }
func (c *unreliableSenderChannel) reset()                                  { c.q.reset(c.pool) }

// unreliableSequencedSenderChannel assigns a monotonically increasing
// sequence per message so the receiver can discard stale ones, but
// never retransmits (spec.md §4.3 "UnreliableSequenced").
type unreliableSequencedSenderChannel struct {
	pool *MessagePool
	q    fifo
	seq  uint16
}

func newUnreliableSequencedSenderChannel(pool *MessagePool) *unreliableSequencedSenderChannel {
	return &unreliableSequencedSenderChannel{pool: pool}
}

func (c *unreliableSequencedSenderChannel) enqueue(m *OutgoingMessage) { c.q.push(m) }

func (c *unreliableSequencedSenderChannel) sendQueued(now time.Time, emit emitFunc) {
	for {
		m, ok := c.q.pop()
		if !ok {
			return
		}
		emit(c.seq, false, m, false)
		c.seq = seqAdd(c.seq, 1)
		m.release(c.pool)
	}
}

func (c *unreliableSequencedSenderChannel) receiveAcknowledge(time.Time, uint16, emitFunc) bool {
	return false
}
func (c *unreliableSequencedSenderChannel) allowedSends() int                        { return 1 << 30 }
func (c *unreliableSequencedSenderChannel) reset() {
	c.q.reset(c.pool)
	c.seq = 0
}

// reliableSenderChannel implements the Selective-Repeat sender core
// shared by ReliableUnordered, ReliableSequenced and ReliableOrdered
// (spec.md §4.3). It differs only by windowSize (all 64 by default)
// and by the receiver-side semantics, which live in receiverchannel.go.
type reliableSenderChannel struct {
	pool       *MessagePool
	windowSize int
	resendDelay func() time.Duration

	q           fifo
	windowStart uint16
	sendStart   uint16
	acked       []bool // indexed by seq % N, true once acknowledged
	stored      []*StoredMessage
}

func newReliableSenderChannel(pool *MessagePool, windowSize int, resendDelay func() time.Duration) *reliableSenderChannel {
	return &reliableSenderChannel{
		pool:        pool,
		windowSize:  windowSize,
		resendDelay: resendDelay,
		acked:       make([]bool, NumSequenceNumbers),
		stored:      make([]*StoredMessage, windowSize),
	}
}

func (c *reliableSenderChannel) enqueue(m *OutgoingMessage) { c.q.push(m) }

// allowedSends is W minus the number of currently occupied window
// slots (spec.md §4.3 "Allowed sends").
func (c *reliableSenderChannel) allowedSends() int {
	occupied := relativeSeq(c.sendStart, c.windowStart)
	return c.windowSize - occupied
}

func (c *reliableSenderChannel) sendQueued(now time.Time, emit emitFunc) {
	delay := c.resendDelay()

	// 1. Resend any occupied slot whose resend delay has elapsed.
	for _, sm := range c.stored {
		if sm == nil {
			continue
		}
		if now.Sub(sm.LastSent) > delay {
			sm.NumSent++
			sm.LastSent = now
			emit(sm.Sequence, false, sm.Message, true)
		}
	}

	// 2. Admit new messages from the FIFO while the window has room.
	for c.allowedSends() > 0 {
		m, ok := c.q.pop()
		if !ok {
			break
		}
		seq := c.sendStart
		c.sendStart = seqAdd(c.sendStart, 1)
		sm := &StoredMessage{Message: m, Sequence: seq, LastSent: now, NumSent: 1}
		c.stored[seq%uint16(c.windowSize)] = sm
		emit(seq, false, m, false)
	}
}

// destore removes the stored slot at seq (if any), decrementing the
// message's reference count.
func (c *reliableSenderChannel) destore(seq uint16) *StoredMessage {
	slot := seq % uint16(c.windowSize)
	sm := c.stored[slot]
	if sm == nil || sm.Sequence != seq {
		return nil
	}
	c.stored[slot] = nil
	sm.Message.release(c.pool)
	return sm
}

// receiveAcknowledge processes one acked sequence number (spec.md
// §4.3 "Ack handling"). It reports whether this ack is a "good RTT
// sample" that should reset the connection's timeout deadline.
func (c *reliableSenderChannel) receiveAcknowledge(now time.Time, seq uint16, emit emitFunc) bool {
	rel := relativeSeq(seq, c.windowStart)
	if rel < 0 {
		return false // late or duplicate ack: idempotent no-op
	}

	goodSample := false
	if rel == 0 {
		if sm := c.destore(c.windowStart); sm != nil {
			goodSample = goodRTTSample(sm, now)
		}
		c.acked[c.windowStart] = false
		c.windowStart = seqAdd(c.windowStart, 1)
		// Advance further while the next slot was already
		// flagged acked by an earlier early ack.
		for c.acked[c.windowStart] {
			c.acked[c.windowStart] = false
			if sm := c.destore(c.windowStart); sm != nil {
				goodSample = goodSample || goodRTTSample(sm, now)
			}
			c.windowStart = seqAdd(c.windowStart, 1)
		}
		return goodSample
	}

	// Early ack: flag it, then apply the hole-in-sequence
	// retransmit heuristic to everything still outstanding before it.
	if !c.acked[seq] {
		c.acked[seq] = true
		delay := c.resendDelay()
		s := c.windowStart
		for relativeSeq(s, c.windowStart) < rel {
			if !c.acked[s] {
				if sm := c.stored[s%uint16(c.windowSize)]; sm != nil && sm.Sequence == s && sm.NumSent == 1 {
					if now.Sub(sm.LastSent) >= time.Duration(float64(delay)*0.35) {
						sm.NumSent++
						sm.LastSent = now
						emit(sm.Sequence, false, sm.Message, true)
					}
				}
			}
			s = seqAdd(s, 1)
		}
	}
	return false
}

// goodRTTSample implements spec.md §4.3's "if any destored message
// had num_sent == 1 and now − last_sent < 2.0s, reset the connection
// timeout (good RTT sample)".
func goodRTTSample(sm *StoredMessage, now time.Time) bool {
	return sm.NumSent == 1 && now.Sub(sm.LastSent) < 2*time.Second
}

func (c *reliableSenderChannel) reset() {
	c.q.reset(c.pool)
	for i, sm := range c.stored {
		if sm != nil {
			sm.Message.release(c.pool)
			c.stored[i] = nil
		}
	}
	for i := range c.acked {
		c.acked[i] = false
	}
	c.windowStart = 0
	c.sendStart = 0
}
