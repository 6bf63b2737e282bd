package lidgren

import "time"

// Sequence numbers are 15-bit, modulo NumSequenceNumbers.
const (
	seqNumberBits     = 15
	NumSequenceNumbers = 1 << seqNumberBits // 32768
	seqNumberMask     = NumSequenceNumbers - 1
)

// Per-delivery-class sub-channel counts (spec.md §3).
const (
	NumUnreliableChannels          = 1
	NumUnreliableSequencedChannels = 32
	NumReliableUnorderedChannels   = 1
	NumReliableSequencedChannels   = 32
	NumReliableOrderedChannels     = 32
)

// Selective-repeat window sizes (spec.md §4.3).
const (
	DefaultWindowSize = 64
)

// MessageType is the 8-bit tag at the head of every wire message
// (spec.md §3, §4.2).
type MessageType byte

const (
	MsgLibraryError MessageType = iota
	MsgConnect
	MsgConnectResponse
	MsgConnectEstablished
	MsgDisconnect
	MsgPing
	MsgPong
	MsgExpandMTURequest
	MsgExpandMTUSuccess
	MsgAcknowledge
	MsgDiscovery
	MsgDiscoveryResponse
	MsgNatIntroduction
	MsgNatIntroductionConfirmRequest
	MsgNatPunchMessage

	// MsgStatusChanged and MsgWarningMessage never cross the wire; they
	// tag IncomingMessages synthesized locally for the application, the
	// same way NetIncomingMessageType.StatusChanged/WarningMessage work
	// in the original library (spec.md §7, §6 "IncomingMessageType").
	MsgStatusChanged  MessageType = 60
	MsgWarningMessage MessageType = 61

	// msgUserBase is the first message type tag reserved for
	// application payload. The concrete tag for a user message is
	// msgUserBase + method.channelOffset() + subChannel, so
	// every (delivery-class, sub-channel) pair gets a distinct tag.
	msgUserBase MessageType = 64
)

// IncomingMessageType is a bitmask selecting which non-data library
// events Configuration.EnabledMessageTypes releases to the application
// via ReadMessage, rather than only logging them (spec.md §6
// "IncomingMessageType", §7 "User-visible failure behaviour").
type IncomingMessageType uint32

const (
	IncomingDiscoveryResponse IncomingMessageType = 1 << iota
	IncomingNatIntroductionSuccess
	IncomingWarningMessage
	IncomingStatusChanged
)

// IncomingMessageTypeAll enables every optional event type; it is
// Configuration's default (spec.md §6).
const IncomingMessageTypeAll = IncomingDiscoveryResponse | IncomingNatIntroductionSuccess | IncomingWarningMessage | IncomingStatusChanged

// DeliveryMethod is the delivery-class half of a channel identity
// (spec.md §3 "Channel identity").
type DeliveryMethod byte

const (
	Unreliable DeliveryMethod = iota
	UnreliableSequenced
	ReliableUnordered
	ReliableSequenced
	ReliableOrdered
)

func (m DeliveryMethod) String() string {
	switch m {
	case Unreliable:
		return "Unreliable"
	case UnreliableSequenced:
		return "UnreliableSequenced"
	case ReliableUnordered:
		return "ReliableUnordered"
	case ReliableSequenced:
		return "ReliableSequenced"
	case ReliableOrdered:
		return "ReliableOrdered"
	default:
		return "Unknown"
	}
}

func (m DeliveryMethod) isReliable() bool {
	return m == ReliableUnordered || m == ReliableSequenced || m == ReliableOrdered
}

func (m DeliveryMethod) isSequenced() bool {
	return m == UnreliableSequenced || m == ReliableSequenced || m == ReliableOrdered
}

func (m DeliveryMethod) numChannels() int {
	switch m {
	case Unreliable:
		return NumUnreliableChannels
	case UnreliableSequenced:
		return NumUnreliableSequencedChannels
	case ReliableUnordered:
		return NumReliableUnorderedChannels
	case ReliableSequenced:
		return NumReliableSequencedChannels
	case ReliableOrdered:
		return NumReliableOrderedChannels
	default:
		return 0
	}
}

// channelOffset returns the starting slot of m's sub-channels within a
// connection's flat per-class channel arrays.
func (m DeliveryMethod) channelOffset() int {
	off := 0
	for dc := Unreliable; dc < m; dc++ {
		off += dc.numChannels()
	}
	return off
}

func totalChannelSlots() int {
	return ReliableOrdered.channelOffset() + ReliableOrdered.numChannels()
}

// Header sizes (spec.md §4.2).
const (
	wireHeaderSize     = 5 // type(1) + fragment-flag|seqlo(1) + seqhi(1) + lengthBits(2)
	ackRecordSize      = 3 // channel(1) + sequence(2)
	fragmentHeaderSlop = 12 // conservative budget for the 4 varints prepended to a fragment chunk
)

// Connection defaults, mirrored from spec.md §6/§4.6/§4.7.
const (
	DefaultPingInterval            = 4 * time.Second
	DefaultConnectionTimeout       = 25 * time.Second
	DefaultResendHandshakeInterval = 3 * time.Second
	DefaultMaxHandshakeAttempts    = 5
	DefaultMTU                     = 1408
	DefaultMTUFloor                = 512
	DefaultMTUCeiling              = 1408
	DefaultExpandMTUFailAttempts   = 5
	DefaultExpandMTUFrequency      = 2 * time.Second
	DefaultReceiveBufferSize       = 131071
	DefaultSendBufferSize          = 131071
)

// ConnectionStatus is the handshake/lifecycle state of a Connection
// (spec.md §4.6).
type ConnectionStatus byte

const (
	StatusNone ConnectionStatus = iota
	StatusInitiatedConnect
	StatusReceivedInitiation
	StatusRespondedAwaitingApproval
	StatusRespondedConnect
	StatusConnected
	StatusDisconnecting
	StatusDisconnected
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusNone:
		return "None"
	case StatusInitiatedConnect:
		return "InitiatedConnect"
	case StatusReceivedInitiation:
		return "ReceivedInitiation"
	case StatusRespondedAwaitingApproval:
		return "RespondedAwaitingApproval"
	case StatusRespondedConnect:
		return "RespondedConnect"
	case StatusConnected:
		return "Connected"
	case StatusDisconnecting:
		return "Disconnecting"
	case StatusDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}
