package lidgren

import (
	"fmt"
	"net"
	"time"
)

// handleDatagram is the entry point for every datagram the socket
// delivers: route it to an existing connection if one is bound to
// this address, otherwise treat it as unconnected traffic (handshake
// opener, discovery, NAT helper) (spec.md §4.6, §4.8, §12).
func (p *Peer) handleDatagram(data []byte, addr *net.UDPAddr, now time.Time) {
	if c, ok := p.lookupConnection(addr); ok {
		c.receiveDatagram(data, now)
		return
	}

	splitDatagram(data, func(h wireHeader, payload []byte) {
		switch h.Type {
		case MsgConnect:
			p.acceptConnect(addr, h, payload, now)
		case MsgDiscovery:
			p.handleDiscovery(addr, payload)
		case MsgDiscoveryResponse:
			if p.config.EnabledMessageTypes&IncomingDiscoveryResponse != 0 {
				p.deliverUnconnected(h.Type, addr, payload, now)
			}
		case MsgConnectResponse:
			p.handleUnmatchedConnectResponse(addr, payload, now)
		case MsgNatIntroduction:
			p.handleNatIntroduction(payload)
		case MsgNatIntroductionConfirmRequest:
			p.handleNatIntroductionConfirmRequest(addr, payload)
		case MsgNatPunchMessage:
			p.handleNatPunch(addr, payload)
		default:
			// Any other unconnected traffic (library or user-tagged)
			// is released to the application as-is, e.g. a stray
			// broadcast query (spec.md §6 "Unconnected receive").
			p.deliverUnconnected(h.Type, addr, payload, now)
		}
	}, func(err error) {
		p.postWarning(nil, "%s from %s", err, addr)
	})
}

// handleUnmatchedConnectResponse handles a ConnectResponse whose
// source address doesn't match any registered connection: the
// responder may have answered from a different port than the one the
// initial Connect targeted (common behind NAT). It is matched against
// the pending-handshake registry by nonce and, if found, handed to the
// connection to re-key and complete (spec.md §4.8 "Port-rebind
// detection").
func (p *Peer) handleUnmatchedConnectResponse(addr *net.UDPAddr, payload []byte, now time.Time) {
	b := NewBitBufferFromBytes(payload)
	if _, err := b.ReadString(); err != nil { // appID, re-verified below
		return
	}
	nonce, err := b.ReadString()
	if err != nil {
		return
	}
	c, ok := p.lookupPendingHandshake(nonce)
	if !ok {
		return
	}
	c.handleConnectResponseFrom(addr, payload, now)
}

// acceptConnect creates the receiving-side Connection for a fresh
// handshake opener and routes the Connect message into it (spec.md
// §4.6 "ReceivedInitiation").
func (p *Peer) acceptConnect(addr *net.UDPAddr, h wireHeader, payload []byte, now time.Time) {
	c := newConnection(p, addr, false)
	p.registerConnection(c)
	c.handleConnect(payload, now)
}

// deliverUnconnected releases an unconnected message (one with no
// bound Connection) to the application, e.g. a DiscoveryResponse
// arriving at a client (spec.md §6).
func (p *Peer) deliverUnconnected(typ MessageType, addr *net.UDPAddr, payload []byte, now time.Time) {
	im := p.messagePool.GetIncoming()
	im.Type = typ
	im.SenderConn = nil
	im.SenderEndpoint = addr.String()
	im.ReceiveTime = now
	*im.Payload = *NewBitBufferFromBytes(payload)
	p.deliverIncoming(im)
}

// handleDiscovery answers a local-network discovery probe with a
// DiscoveryResponse (spec.md §12 "Discovery responder", supplemented
// feature).
func (p *Peer) handleDiscovery(addr *net.UDPAddr, payload []byte) {
	if p.discoveryHandler == nil {
		return
	}
	resp := p.discoveryHandler(payload)
	if resp == nil {
		return
	}
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgDiscoveryResponse, false, 0, len(resp)*8)
	dgram = append(dgram, resp...)
	p.writeTo(addr, dgram)
}

// DiscoverLocalPeers broadcasts a Discovery probe to the configured
// broadcast address and port, soliciting DiscoveryResponse messages
// from any listening peer (spec.md §12).
func (p *Peer) DiscoverLocalPeers(port int) error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", p.config.BroadcastAddress, port))
	if err != nil {
		return err
	}
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgDiscovery, false, 0, 0)
	p.writeTo(addr, dgram)
	return nil
}

// SetDiscoveryHandler installs the callback used to answer Discovery
// probes; it receives the probe payload and returns the response
// payload to send, or nil to ignore the probe.
func (p *Peer) SetDiscoveryHandler(fn func(request []byte) []byte) {
	p.discoveryHandler = fn
}

// natIntroductionRequest is sent to a rendezvous peer, asking it to
// introduce two connected clients to each other for NAT punch-through
// (spec.md §12 "NAT introduction/punch", supplemented feature).
type natIntroductionRequest struct {
	ClientInternal string
	ClientExternal string
	HostInternal   string
	HostExternal   string
	Token          string
}

// RequestNatIntroduction asks this peer (acting as rendezvous server,
// already connected to both endpoints) to introduce hostAddr and
// clientAddr to each other.
func (p *Peer) RequestNatIntroduction(hostAddr, clientAddr *net.UDPAddr, token string) error {
	if _, ok := p.lookupConnection(hostAddr); !ok {
		return ErrNoConnection
	}
	if _, ok := p.lookupConnection(clientAddr); !ok {
		return ErrNoConnection
	}

	toHost := NewBitBuffer()
	toHost.WriteString(clientAddr.String())
	toHost.WriteString(token)
	var d1 []byte
	d1 = encodeWireHeader(d1, MsgNatIntroduction, false, 0, toHost.LengthBits())
	d1 = append(d1, toHost.Data()...)
	p.writeTo(hostAddr, d1)

	toClient := NewBitBuffer()
	toClient.WriteString(hostAddr.String())
	toClient.WriteString(token)
	var d2 []byte
	d2 = encodeWireHeader(d2, MsgNatIntroduction, false, 0, toClient.LengthBits())
	d2 = append(d2, toClient.Data()...)
	p.writeTo(clientAddr, d2)
	return nil
}

// handleNatIntroduction is received by each of the two endpoints being
// introduced: it names the peer to punch towards.
func (p *Peer) handleNatIntroduction(payload []byte) {
	b := NewBitBufferFromBytes(payload)
	targetStr, err1 := b.ReadString()
	token, err2 := b.ReadString()
	if err1 != nil || err2 != nil {
		return
	}
	target, err := net.ResolveUDPAddr("udp", targetStr)
	if err != nil {
		return
	}
	punch := NewBitBuffer()
	punch.WriteString(token)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgNatPunchMessage, false, 0, punch.LengthBits())
	dgram = append(dgram, punch.Data()...)
	p.writeTo(target, dgram)
}

func (p *Peer) handleNatIntroductionConfirmRequest(addr *net.UDPAddr, payload []byte) {
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgNatIntroductionConfirmRequest, false, 0, len(payload)*8)
	dgram = append(dgram, payload...)
	p.writeTo(addr, dgram)
}

// handleNatPunch receives the actual hole-punch datagram from the
// other introduced endpoint; its mere arrival has already opened the
// NAT mapping, so it is simply released to the application to trigger
// a Connect attempt.
func (p *Peer) handleNatPunch(addr *net.UDPAddr, payload []byte) {
	if p.config.EnabledMessageTypes&IncomingNatIntroductionSuccess == 0 {
		return
	}
	p.deliverUnconnected(MsgNatPunchMessage, addr, payload, time.Now())
}
