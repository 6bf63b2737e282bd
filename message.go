package lidgren

import (
	"sync"
	"sync/atomic"
	"time"
)

// OutgoingMessage is an application (or library-control) payload
// pending transmission. Because one message may be stored in several
// retransmission slots at once — e.g. sent unreliably to many
// connections, or sitting in more than one sender channel's window
// slot — its lifetime is governed by an explicit reference count
// rather than by a single owner (spec.md §3 "Outgoing message", §9
// "Reference-counted recycling").
type OutgoingMessage struct {
	Type    MessageType
	Payload *BitBuffer

	refs int32
	sent bool
}

// addRef marks one more pending use of m (one retransmission slot, or
// one recipient).
func (m *OutgoingMessage) addRef() { atomic.AddInt32(&m.refs, 1) }

// release drops one use of m; once the count reaches zero the message
// is returned to its pool. Returns true if this call recycled it.
func (m *OutgoingMessage) release(pool *MessagePool) bool {
	n := atomic.AddInt32(&m.refs, -1)
	if n < 0 {
		panic(ErrPoolMisuse)
	}
	if n == 0 {
		pool.putOutgoing(m)
		return true
	}
	return false
}

// IncomingMessage is a parsed message released to the application via
// Peer.ReadMessage (spec.md §3 "Incoming message").
type IncomingMessage struct {
	Type         MessageType
	Payload      *BitBuffer
	Sequence     uint16
	SenderConn   *Connection
	SenderEndpoint string
	ReceiveTime  time.Time
	IsFragment   bool

	// Delivery is the application-facing delivery class for user
	// payload messages; zero value for library messages.
	Delivery DeliveryMethod
	Channel  int
}

// IsData reports whether m carries application payload, as opposed to
// a library event such as StatusChanged, WarningMessage, Discovery*, or
// a NAT helper message (spec.md §6 "IncomingMessageType").
func (m *IncomingMessage) IsData() bool {
	return m.Type >= msgUserBase
}

// StoredMessage is a reliable sender channel's retransmission record:
// a reference to the outgoing message plus its assigned sequence
// number and resend bookkeeping (spec.md §3 "Stored reliable
// message"). It occupies slot seq % windowSize in its channel's
// window while unacked.
type StoredMessage struct {
	Message  *OutgoingMessage
	Sequence uint16
	LastSent time.Time
	NumSent  int
}

// MessagePool recycles Outgoing and Incoming messages via sync.Pool,
// avoiding per-datagram allocation on the hot path (spec.md §5
// "Resource policy"). A message is returned to the pool exactly once,
// enforced by OutgoingMessage's reference count.
type MessagePool struct {
	outgoing sync.Pool
	incoming sync.Pool
}

// NewMessagePool returns a ready-to-use pool.
func NewMessagePool() *MessagePool {
	p := &MessagePool{}
	p.outgoing.New = func() any { return &OutgoingMessage{} }
	p.incoming.New = func() any { return &IncomingMessage{} }
	return p
}

// GetOutgoing returns a zeroed OutgoingMessage with refs=1 (the
// caller's own reference; additional uses must addRef explicitly).
func (p *MessagePool) GetOutgoing() *OutgoingMessage {
	m := p.outgoing.Get().(*OutgoingMessage)
	m.Type = 0
	m.sent = false
	m.refs = 1
	if m.Payload == nil {
		m.Payload = NewBitBuffer()
	} else {
		*m.Payload = BitBuffer{}
	}
	return m
}

func (p *MessagePool) putOutgoing(m *OutgoingMessage) {
	p.outgoing.Put(m)
}

// GetIncoming returns a zeroed IncomingMessage.
func (p *MessagePool) GetIncoming() *IncomingMessage {
	m := p.incoming.Get().(*IncomingMessage)
	*m = IncomingMessage{Payload: m.Payload}
	if m.Payload == nil {
		m.Payload = NewBitBuffer()
	} else {
		*m.Payload = BitBuffer{}
	}
	return m
}

// PutIncoming returns an IncomingMessage to the pool once the
// application has finished reading it.
func (p *MessagePool) PutIncoming(m *IncomingMessage) {
	p.incoming.Put(m)
}
