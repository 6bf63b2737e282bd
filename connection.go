package lidgren

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionStats holds the running per-connection counters exposed to
// the embedder through Connection.Stats. They are not part of the
// peer-level VictoriaMetrics exposition in stats.go.
type ConnectionStats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	MessagesResent   uint64
	BytesSent        uint64
	BytesReceived    uint64
}

// Connection is one remote endpoint's handshake state, channel set and
// RTT/MTU estimators (spec.md §3 "Connection", §4.6). All mutation
// happens on the owning Peer's single worker goroutine; fields read by
// application goroutines (Status, Stats, AverageRTT) are guarded by
// mu.
type Connection struct {
	peer       *Peer
	RemoteAddr *net.UDPAddr

	mu     sync.RWMutex
	status ConnectionStatus

	isInitiator    bool
	localHailData  []byte
	remoteHailData []byte
	handshakeNonce string
	handshakeAttempts int
	nextHandshakeResend time.Time
	denyReason     string

	senders   [totalChannelSlots()]senderChannel
	receivers [totalChannelSlots()]receiverChannel

	pendingAcksMu sync.Mutex
	pendingAcks   []ackPair

	fragments           *fragmentReassembler
	nextFragmentGroupID uint32

	lastSent     time.Time
	lastReceived time.Time
	lastPingSent time.Time
	pingNumber   byte
	averageRTT   time.Duration
	haveRTT      bool

	mtuState mtuProbeState

	stats ConnectionStats
}

func newConnection(p *Peer, addr *net.UDPAddr, isInitiator bool) *Connection {
	c := &Connection{
		peer:        p,
		RemoteAddr:  addr,
		isInitiator: isInitiator,
		status:      StatusNone,
		fragments:   newFragmentReassembler(DefaultMaxFragmentGroups),
		averageRTT:  200 * time.Millisecond,
		mtuState:    newMTUProbeState(p.config.MaximumTransmissionUnit),
		lastReceived: time.Now(),
	}
	for m := Unreliable; m <= ReliableOrdered; m++ {
		off := m.channelOffset()
		for i := 0; i < m.numChannels(); i++ {
			c.senders[off+i] = newSenderChannelFor(m, p.messagePool, c.resendDelay)
			c.receivers[off+i] = newReceiverChannelFor(m)
		}
	}
	return c
}

func newSenderChannelFor(m DeliveryMethod, pool *MessagePool, resendDelay func() time.Duration) senderChannel {
	switch m {
	case Unreliable:
		return newUnreliableSenderChannel(pool)
	case UnreliableSequenced:
		return newUnreliableSequencedSenderChannel(pool)
	default:
		return newReliableSenderChannel(pool, DefaultWindowSize, resendDelay)
	}
}

func newReceiverChannelFor(m DeliveryMethod) receiverChannel {
	switch m {
	case Unreliable:
		return &unreliableReceiverChannel{}
	case UnreliableSequenced:
		return &unreliableSequencedReceiverChannel{}
	case ReliableUnordered:
		return newReliableUnorderedReceiverChannel()
	case ReliableSequenced:
		return &reliableSequencedReceiverChannel{}
	default:
		return newReliableOrderedReceiverChannel(DefaultWindowSize)
	}
}

// Status returns the connection's current lifecycle state (spec.md
// §4.6). Safe for concurrent use.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Connection) setStatus(s ConnectionStatus) {
	c.mu.Lock()
	old := c.status
	c.status = s
	c.mu.Unlock()
	if old != s {
		c.peer.postStatusChanged(c, s)
	}
}

// AverageRTT returns the smoothed round-trip-time estimate (spec.md
// §4.8 "Heartbeat").
func (c *Connection) AverageRTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.averageRTT
}

// currentMTU returns the MTU safe to use for outgoing datagrams right
// now. Reads are locked because mtuState is mutated by the worker
// goroutine (maybeProbeMTU, handleExpandMTUSuccess) while this is
// called from application goroutines via Send.
func (c *Connection) currentMTU() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mtuState.current()
}

// Stats returns a snapshot of this connection's traffic counters.
func (c *Connection) Stats() ConnectionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// resendDelay implements spec.md §4.3's resend-delay formula:
// max(0.04, 2*rtt + 0.01), recomputed from the current RTT estimate on
// every call so it tracks network conditions.
func (c *Connection) resendDelay() time.Duration {
	c.mu.RLock()
	rtt := c.averageRTT
	c.mu.RUnlock()
	d := 2*rtt + 10*time.Millisecond
	floor := 40 * time.Millisecond
	if d < floor {
		return floor
	}
	return d
}

// updateRTT folds one RTT sample into the smoothed estimate using
// spec.md §4.8's exponential average: avg = avg*0.7 + sample*0.3.
func (c *Connection) updateRTT(sample time.Duration) {
	c.mu.Lock()
	if !c.haveRTT {
		c.averageRTT = sample
		c.haveRTT = true
	} else {
		c.averageRTT = time.Duration(float64(c.averageRTT)*0.7 + float64(sample)*0.3)
	}
	c.mu.Unlock()
}

// resetTimeout is called whenever any packet (or a "good RTT sample"
// ack, spec.md §4.3) arrives, postponing the connection timeout.
func (c *Connection) resetTimeout(now time.Time) {
	c.mu.Lock()
	c.lastReceived = now
	c.mu.Unlock()
}

// timedOut reports whether no packet has arrived within
// ConnectionTimeout (spec.md §4.6 "Timeout").
func (c *Connection) timedOut(now time.Time, timeout time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return now.Sub(c.lastReceived) > timeout
}

// channelSlot maps a delivery method and application sub-channel
// number to this connection's flat array index, wrapping the
// sub-channel modulo the class's available count (spec.md §3 "Channel
// identity").
func channelSlot(m DeliveryMethod, subChannel int) int {
	n := m.numChannels()
	if n == 0 {
		n = 1
	}
	return m.channelOffset() + (subChannel % n)
}

// wireChannelID packs (delivery method, sub-channel) into the single
// byte used in Acknowledge payloads and to pick a user message type
// tag (spec.md §3, §4.2).
func wireChannelID(m DeliveryMethod, subChannel int) byte {
	return byte(channelSlot(m, subChannel))
}

func channelFromWireID(id byte) (DeliveryMethod, int) {
	slot := int(id)
	for m := ReliableOrdered; ; m-- {
		if slot >= m.channelOffset() {
			return m, slot - m.channelOffset()
		}
		if m == Unreliable {
			break
		}
	}
	return Unreliable, 0
}

// enqueueAck batches one (channel, sequence) pair for the next
// Acknowledge datagram the heartbeat flushes (spec.md §4.4, §4.8
// "Ack packing").
func (c *Connection) enqueueAck(channel byte, seq uint16) {
	c.pendingAcksMu.Lock()
	c.pendingAcks = append(c.pendingAcks, ackPair{Channel: channel, Sequence: seq})
	c.pendingAcksMu.Unlock()
}

// drainPendingAcks removes and returns every batched ack pair.
func (c *Connection) drainPendingAcks() []ackPair {
	c.pendingAcksMu.Lock()
	defer c.pendingAcksMu.Unlock()
	if len(c.pendingAcks) == 0 {
		return nil
	}
	p := c.pendingAcks
	c.pendingAcks = nil
	return p
}

// enqueueOutgoing hands a payload to its delivery class's sender
// channel, splitting it into fragments first if it would not fit in a
// single datagram at the connection's current MTU (spec.md §4.5,
// §4.6).
func (c *Connection) enqueueOutgoing(method DeliveryMethod, subChannel int, payload []byte) error {
	slot := channelSlot(method, subChannel)
	ch := c.senders[slot]

	maxChunk := c.currentMTU() - wireHeaderSize - fragmentHeaderSlop
	if maxChunk < 1 {
		maxChunk = 1
	}

	if len(payload) <= maxChunk {
		m := c.peer.messagePool.GetOutgoing()
		m.Type = userMessageType(method, subChannel)
		m.Payload.WriteBytes(payload)
		ch.enqueue(m)
		return nil
	}

	if !method.isReliable() {
		return ErrMessageTooLarge
	}

	groupID := atomic.AddUint32(&c.nextFragmentGroupID, 1) - 1
	chunks := splitFragments(groupID, payload, maxChunk)
	for _, chunk := range chunks {
		m := c.peer.messagePool.GetOutgoing()
		m.Type = userMessageType(method, subChannel)
		m.Payload = chunk
		ch.enqueue(m)
	}
	return nil
}

// userMessageType derives the wire type tag for a user payload
// message from its channel identity (spec.md §3 "Message type tags").
func userMessageType(m DeliveryMethod, subChannel int) MessageType {
	return msgUserBase + MessageType(channelSlot(m, subChannel))
}

// heartbeatTick drains every sender channel's queue, folds in any
// pending acks, sends a ping if due, and checks for timeout (spec.md
// §4.8 "Heartbeat"). It is called only from the owning Peer's worker
// goroutine.
func (c *Connection) heartbeatTick(now time.Time) {
	status := c.Status()
	if status == StatusNone || status == StatusDisconnected {
		return
	}

	emit := func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
		c.sendMessage(seq, fragment, msg, resend)
	}
	for _, ch := range c.senders {
		if ch != nil {
			ch.sendQueued(now, emit)
		}
	}

	if status == StatusConnected {
		c.maybePing(now)
		c.maybeProbeMTU(now)
		if c.timedOut(now, c.peer.config.ConnectionTimeout) {
			c.beginDisconnect(ErrConnectionTimedOut.Error())
			return
		}
	}

	c.flushAcks(now)
}

// sendMessage encodes one message and writes it to the socket,
// updating traffic counters (spec.md §4.2, §5).
func (c *Connection) sendMessage(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
	var dgram []byte
	dgram = encodeWireHeader(dgram, msg.Type, fragment, seq, msg.Payload.LengthBits())
	dgram = append(dgram, msg.Payload.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)

	c.mu.Lock()
	c.lastSent = time.Now()
	c.stats.MessagesSent++
	c.stats.BytesSent += uint64(len(dgram))
	if resend {
		c.stats.MessagesResent++
	}
	c.mu.Unlock()
	if resend {
		c.peer.stats.resends.Inc()
	}
}

// flushAcks packs every batched ack pair into as many Acknowledge
// messages as fit the current MTU and sends them (spec.md §4.2, §4.4).
func (c *Connection) flushAcks(now time.Time) {
	pairs := c.drainPendingAcks()
	if len(pairs) == 0 {
		return
	}
	maxPairs := (c.mtuState.current() - wireHeaderSize) / ackRecordSize
	if maxPairs < 1 {
		maxPairs = 1
	}
	for len(pairs) > 0 {
		n := len(pairs)
		if n > maxPairs {
			n = maxPairs
		}
		batch := pairs[:n]
		pairs = pairs[n:]

		b := encodeAckPayload(batch)
		var dgram []byte
		dgram = encodeWireHeader(dgram, MsgAcknowledge, false, 0, b.LengthBits())
		dgram = append(dgram, b.Data()...)
		c.peer.writeTo(c.RemoteAddr, dgram)
	}
}

// maybePing sends a MsgPing if PingInterval has elapsed since the
// last one (spec.md §4.8).
func (c *Connection) maybePing(now time.Time) {
	if now.Sub(c.lastPingSent) < c.peer.config.PingInterval {
		return
	}
	c.lastPingSent = now
	c.pingNumber++

	b := NewBitBuffer()
	b.WriteByte(c.pingNumber)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgPing, false, 0, b.LengthBits())
	dgram = append(dgram, b.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// receiveDatagram demultiplexes every message in one arriving datagram
// to its handler (spec.md §4.2, §4.6, §4.8). Called only from the
// worker goroutine.
func (c *Connection) receiveDatagram(data []byte, now time.Time) {
	c.resetTimeout(now)
	c.mu.Lock()
	c.stats.BytesReceived += uint64(len(data))
	c.mu.Unlock()

	splitDatagram(data, func(h wireHeader, payload []byte) {
		c.dispatchMessage(h, payload, now)
	}, func(err error) {
		c.peer.postWarning(c, "%s from %s", err, c.RemoteAddr)
	})
}

func (c *Connection) dispatchMessage(h wireHeader, payload []byte, now time.Time) {
	switch {
	case h.Type == MsgPing:
		c.handlePing(payload)
		return
	case h.Type == MsgPong:
		c.handlePongPayload(payload, now)
		return
	case h.Type == MsgAcknowledge:
		c.handleAcknowledge(payload, now)
		return
	case h.Type == MsgExpandMTURequest:
		c.handleExpandMTURequest(payload)
		return
	case h.Type == MsgExpandMTUSuccess:
		c.handleExpandMTUSuccess(payload)
		return
	case h.Type == MsgConnect, h.Type == MsgConnectResponse, h.Type == MsgConnectEstablished, h.Type == MsgDisconnect:
		c.handleHandshakeMessage(h, payload, now)
		return
	case h.Type >= msgUserBase:
		c.handleUserMessage(h, payload, now)
		return
	default:
		c.peer.postWarning(c, "unknown message type %d in reserved range from %s", h.Type, c.RemoteAddr)
	}
}

func (c *Connection) handlePing(payload []byte) {
	b := NewBitBufferFromBytes(payload)
	num, _ := b.ReadByte()
	resp := NewBitBuffer()
	resp.WriteByte(num)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgPong, false, 0, resp.LengthBits())
	dgram = append(dgram, resp.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// handlePongPayload handles a Pong reply to a ping we sent in
// maybePing, computing the RTT sample from the locally recorded send
// time (spec.md §4.8).
func (c *Connection) handlePongPayload(payload []byte, now time.Time) {
	b := NewBitBufferFromBytes(payload)
	num, err := b.ReadByte()
	if err != nil || num != c.pingNumber {
		return
	}
	c.updateRTT(now.Sub(c.lastPingSent))
	c.resetTimeout(now)
}

func (c *Connection) handleAcknowledge(payload []byte, now time.Time) {
	for _, p := range decodeAckPayload(payload) {
		m, sub := channelFromWireID(p.Channel)
		slot := channelSlot(m, sub)
		ch := c.senders[slot]
		if ch == nil {
			continue
		}
		emit := func(seq uint16, fragment bool, msg *OutgoingMessage, resend bool) {
			c.sendMessage(seq, fragment, msg, resend)
		}
		if ch.receiveAcknowledge(now, p.Sequence, emit) {
			c.resetTimeout(now)
		}
	}
}

// handleUserMessage routes an application payload message to its
// receiver channel, reassembling fragments as needed, and delivers
// whatever the channel releases to the peer's incoming queue (spec.md
// §4.4, §4.5).
func (c *Connection) handleUserMessage(h wireHeader, payload []byte, now time.Time) {
	slot := int(h.Type - msgUserBase)
	if slot < 0 || slot >= totalChannelSlots() {
		return
	}
	method, sub := channelFromWireID(byte(slot))
	rc := c.receivers[slot]
	if rc == nil {
		return
	}

	// Every chunk — fragment or not — runs through the receiver
	// channel's own ordering/dedupe/ack logic first, exactly like any
	// other message on this channel (spec.md §4.4). Reassembly is a
	// second pass applied only to what the channel decides to
	// release, so a fragmented ReliableOrdered message still holds its
	// place in delivery order and every chunk's sequence number still
	// gets acked individually.
	delivered, shouldAck := rc.receive(h.Sequence, h.Fragment, payload)
	if shouldAck {
		c.enqueueAck(byte(slot), h.Sequence)
	}
	for _, d := range delivered {
		payload, isFragment := d.Payload, d.Fragment
		if d.Fragment {
			fb := NewBitBufferFromBytes(d.Payload)
			fh, err := decodeFragmentHeader(fb)
			if err != nil {
				continue
			}
			chunkStart := len(d.Payload) - fb.RemainingBits()/8
			complete, done := c.fragments.receive(fh, d.Payload[chunkStart:])
			if !done {
				continue
			}
			payload, isFragment = complete, false
		}

		im := c.peer.messagePool.GetIncoming()
		im.Type = h.Type
		im.Sequence = d.Sequence
		im.SenderConn = c
		im.SenderEndpoint = c.RemoteAddr.String()
		im.ReceiveTime = now
		im.IsFragment = isFragment
		im.Delivery = method
		im.Channel = sub
		*im.Payload = *NewBitBufferFromBytes(payload)
		c.mu.Lock()
		c.stats.MessagesReceived++
		c.mu.Unlock()
		c.peer.deliverIncoming(im)
	}
}

// beginDisconnect transitions to Disconnecting, sends a Disconnect
// notice, then immediately marks the connection Disconnected and
// removes it from the peer (spec.md §4.6).
func (c *Connection) beginDisconnect(reason string) {
	if c.Status() == StatusDisconnected || c.Status() == StatusDisconnecting {
		return
	}
	c.setStatus(StatusDisconnecting)
	c.denyReason = reason

	b := NewBitBuffer()
	b.WriteString(reason)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgDisconnect, false, 0, b.LengthBits())
	dgram = append(dgram, b.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)

	c.setStatus(StatusDisconnected)
	c.peer.forgetConnection(c)
}

// Disconnect requests a graceful teardown with reason sent to the
// peer (spec.md §4.6 "Disconnect"). Safe to call from any goroutine:
// the actual state transition is performed by the owning Peer's
// worker goroutine, never by the caller (spec.md §5 "single-writer
// worker").
func (c *Connection) Disconnect(reason string) {
	select {
	case c.peer.disconnectCh <- disconnectRequest{conn: c, reason: reason}:
	case <-c.peer.stopCh:
	}
}

// Send enqueues payload for delivery on the given method/sub-channel,
// fragmenting it first if it exceeds the current MTU (spec.md §4.6
// "SendMessage"). Returns ErrMessageTooLarge if it cannot be sent
// unreliably at this MTU.
func (c *Connection) Send(method DeliveryMethod, subChannel int, payload []byte) error {
	if c.Status() != StatusConnected {
		return ErrNotRunning
	}
	return c.enqueueOutgoing(method, subChannel, payload)
}
