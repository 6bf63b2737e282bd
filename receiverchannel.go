package lidgren

// deliveredMessage is one payload a receiverChannel has decided is
// ready for the application (or for fragment reassembly).
type deliveredMessage struct {
	Sequence uint16
	Payload  []byte
	Fragment bool
}

// receiverChannel is the receive side of one (delivery-class,
// sub-channel) pair (spec.md §4.4). receive is called once per
// arriving message on this channel, in the worker goroutine only.
type receiverChannel interface {
	receive(seq uint16, fragment bool, payload []byte) (delivered []deliveredMessage, shouldAck bool)
	reset()
}

// unreliableReceiverChannel delivers every arrival immediately, with
// no dedupe and no ack (spec.md §4.4 "Unreliable").
type unreliableReceiverChannel struct{}

func (c *unreliableReceiverChannel) receive(seq uint16, fragment bool, payload []byte) ([]deliveredMessage, bool) {
	return []deliveredMessage{{Sequence: seq, Payload: payload, Fragment: fragment}}, false
}
func (c *unreliableReceiverChannel) reset() {}

// unreliableSequencedReceiverChannel accepts a message only if it is
// newer than the last accepted one (spec.md §4.4
// "UnreliableSequenced"); no ack.
type unreliableSequencedReceiverChannel struct {
	hasReceived bool
	lastSeq     uint16
}

func (c *unreliableSequencedReceiverChannel) receive(seq uint16, fragment bool, payload []byte) ([]deliveredMessage, bool) {
	if c.hasReceived && relativeSeq(seq, c.lastSeq) <= 0 {
		return nil, false
	}
	c.hasReceived = true
	c.lastSeq = seq
	return []deliveredMessage{{Sequence: seq, Payload: payload, Fragment: fragment}}, false
}
func (c *unreliableSequencedReceiverChannel) reset() { *c = unreliableSequencedReceiverChannel{} }

// reliableUnorderedReceiverChannel delivers immediately, deduping
// with a bitvector sized NumSequenceNumbers, and always acks (spec.md
// §4.4 "ReliableUnordered").
type reliableUnorderedReceiverChannel struct {
	seen []bool
}

func newReliableUnorderedReceiverChannel() *reliableUnorderedReceiverChannel {
	return &reliableUnorderedReceiverChannel{seen: make([]bool, NumSequenceNumbers)}
}

func (c *reliableUnorderedReceiverChannel) receive(seq uint16, fragment bool, payload []byte) ([]deliveredMessage, bool) {
	if c.seen[seq] {
		return nil, true // duplicate: still ack (idempotent re-ack), don't re-deliver
	}
	c.seen[seq] = true
	return []deliveredMessage{{Sequence: seq, Payload: payload, Fragment: fragment}}, true
}
func (c *reliableUnorderedReceiverChannel) reset() {
	for i := range c.seen {
		c.seen[i] = false
	}
}

// reliableSequencedReceiverChannel uses the same accept-if-newer test
// as UnreliableSequenced, but always acks, including for dropped
// duplicates (spec.md §4.4 "ReliableSequenced").
type reliableSequencedReceiverChannel struct {
	hasReceived bool
	lastSeq     uint16
}

func (c *reliableSequencedReceiverChannel) receive(seq uint16, fragment bool, payload []byte) ([]deliveredMessage, bool) {
	if c.hasReceived && relativeSeq(seq, c.lastSeq) <= 0 {
		return nil, true
	}
	c.hasReceived = true
	c.lastSeq = seq
	return []deliveredMessage{{Sequence: seq, Payload: payload, Fragment: fragment}}, true
}
func (c *reliableSequencedReceiverChannel) reset() { *c = reliableSequencedReceiverChannel{} }

// withheldMessage is a buffered early arrival (inside the window but
// ahead of the next expected sequence) on a ReliableOrdered channel,
// waiting for the gap before it to fill.
type withheldMessage struct {
	present  bool
	payload  []byte
	fragment bool
}

// reliableOrderedReceiverChannel releases messages in strictly
// ascending sequence order, buffering early arrivals in a ring the
// size of the sender's window (spec.md §4.4 "ReliableOrdered").
type reliableOrderedReceiverChannel struct {
	windowSize  int
	windowStart uint16
	withheld    []withheldMessage
}

func newReliableOrderedReceiverChannel(windowSize int) *reliableOrderedReceiverChannel {
	return &reliableOrderedReceiverChannel{
		windowSize: windowSize,
		withheld:   make([]withheldMessage, windowSize),
	}
}

func (c *reliableOrderedReceiverChannel) receive(seq uint16, fragment bool, payload []byte) ([]deliveredMessage, bool) {
	rel := relativeSeq(seq, c.windowStart)
	w := uint16(c.windowSize)

	if rel < 0 || rel >= c.windowSize {
		// Out of window: either an already-delivered duplicate or
		// implausibly far in the future. Ack but do not deliver.
		return nil, true
	}

	if rel == 0 {
		delivered := []deliveredMessage{{Sequence: seq, Payload: payload, Fragment: fragment}}
		c.windowStart = seqAdd(c.windowStart, 1)
		for {
			slot := c.windowStart % w
			if !c.withheld[slot].present {
				break
			}
			wm := c.withheld[slot]
			c.withheld[slot] = withheldMessage{}
			delivered = append(delivered, deliveredMessage{Sequence: c.windowStart, Payload: wm.payload, Fragment: wm.fragment})
			c.windowStart = seqAdd(c.windowStart, 1)
		}
		return delivered, true
	}

	// 0 < rel < W: buffer it if the slot is free.
	slot := seq % w
	if !c.withheld[slot].present {
		c.withheld[slot] = withheldMessage{present: true, payload: payload, fragment: fragment}
	}
	return nil, true
}

func (c *reliableOrderedReceiverChannel) reset() {
	c.windowStart = 0
	for i := range c.withheld {
		c.withheld[i] = withheldMessage{}
	}
}
