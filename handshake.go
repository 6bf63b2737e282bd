package lidgren

import (
	"net"
	"time"

	"github.com/google/uuid"
)

// Connect initiates a handshake to remoteAddr, carrying the given
// hail payload in the initial Connect message (spec.md §4.6
// "InitiatedConnect"). The returned Connection is usable immediately
// for inspection; Send will return ErrNotRunning until it reaches
// StatusConnected.
func (p *Peer) Connect(remoteAddr string, hail []byte) (*Connection, error) {
	addr, err := resolveUDPAddr(remoteAddr)
	if err != nil {
		return nil, err
	}
	c := newConnection(p, addr, true)
	c.localHailData = hail
	c.handshakeNonce = uuid.NewString()
	c.setStatus(StatusInitiatedConnect)
	// c is not yet visible to the worker goroutine, so setting these
	// fields here is safe; registration and the first Connect send
	// happen on the worker to preserve its sole-mutator invariant.
	select {
	case p.connectCh <- c:
	case <-p.stopCh:
		return nil, ErrShutdown
	}
	return c, nil
}

// handshakeBackoff doubles ResendHandshakeInterval with each attempt
// (spec.md §4.6 "Handshake retry").
func (c *Connection) handshakeBackoff() time.Duration {
	n := c.handshakeAttempts - 1 // attempts already counts the send being scheduled
	if n < 0 {
		n = 0
	}
	return c.peer.config.ResendHandshakeInterval * time.Duration(uint(1)<<uint(n))
}

func (c *Connection) sendConnect() {
	c.handshakeAttempts++
	c.nextHandshakeResend = time.Now().Add(c.handshakeBackoff())

	b := NewBitBuffer()
	b.WriteString(c.peer.config.AppIdentifier)
	b.WriteString(c.handshakeNonce)
	b.WriteVarBytes(c.localHailData)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgConnect, false, 0, b.LengthBits())
	dgram = append(dgram, b.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// handleHandshakeMessage processes the Connect/ConnectResponse/
// ConnectEstablished/Disconnect exchange (spec.md §4.6).
func (c *Connection) handleHandshakeMessage(h wireHeader, payload []byte, now time.Time) {
	switch h.Type {
	case MsgConnect:
		c.handleConnect(payload, now)
	case MsgConnectResponse:
		c.handleConnectResponse(payload, now)
	case MsgConnectEstablished:
		c.handleConnectEstablished(now)
	case MsgDisconnect:
		c.handleDisconnectMessage(payload)
	}
}

func (c *Connection) handleConnect(payload []byte, now time.Time) {
	if c.Status() != StatusNone {
		return
	}
	b := NewBitBufferFromBytes(payload)
	appID, err1 := b.ReadString()
	nonce, err2 := b.ReadString()
	hail, err3 := b.ReadVarBytes()
	if err1 != nil || err2 != nil || err3 != nil {
		c.setStatus(StatusDisconnected)
		c.peer.forgetConnection(c)
		return
	}
	if appID != c.peer.config.AppIdentifier {
		c.denyConnect(ErrAppIdentifierMismatch.Error())
		return
	}
	// c is already registered, so the count includes it.
	if c.peer.config.MaximumConnections > 0 && c.peer.connectionCount() > c.peer.config.MaximumConnections {
		c.denyConnect(ErrServerFull.Error())
		return
	}

	c.handshakeNonce = nonce
	c.remoteHailData = hail
	c.resetTimeout(now)

	if c.peer.config.EnableApproval {
		c.setStatus(StatusRespondedAwaitingApproval)
		return
	}
	c.approve()
}

// Approve admits a connection held at StatusRespondedAwaitingApproval
// (spec.md §12, EnableApproval). No-op at any other status.
func (c *Connection) Approve() {
	if c.Status() != StatusRespondedAwaitingApproval {
		return
	}
	c.approve()
}

// Deny rejects a connection held at StatusRespondedAwaitingApproval,
// sending reason back to the remote peer.
func (c *Connection) Deny(reason string) {
	if c.Status() != StatusRespondedAwaitingApproval {
		return
	}
	c.denyConnect(reason)
}

func (c *Connection) approve() {
	c.setStatus(StatusRespondedConnect)
	c.sendConnectResponse()
}

func (c *Connection) denyConnect(reason string) {
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

func (c *Connection) sendConnectResponse() {
	c.handshakeAttempts++
	c.nextHandshakeResend = time.Now().Add(c.handshakeBackoff())

	b := NewBitBuffer()
	b.WriteString(c.peer.config.AppIdentifier)
	b.WriteString(c.handshakeNonce)
	b.WriteVarBytes(c.localHailData)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgConnectResponse, false, 0, b.LengthBits())
	dgram = append(dgram, b.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// handleConnectResponse processes a ConnectResponse arriving from the
// address this Connection is already registered under.
func (c *Connection) handleConnectResponse(payload []byte, now time.Time) {
	c.handleConnectResponseFrom(c.RemoteAddr, payload, now)
}

// handleConnectResponseFrom completes the initiator side of the
// handshake. addr is the datagram's actual source, which may differ
// from c.RemoteAddr when the responder replied from a different port
// than the one the original Connect was sent to; in that case the
// connection is re-keyed to the new endpoint once the nonce has been
// verified (spec.md §4.8 "Port-rebind detection").
func (c *Connection) handleConnectResponseFrom(addr *net.UDPAddr, payload []byte, now time.Time) {
	if c.Status() != StatusInitiatedConnect {
		return
	}
	b := NewBitBufferFromBytes(payload)
	appID, err1 := b.ReadString()
	nonce, err2 := b.ReadString()
	hail, err3 := b.ReadVarBytes()
	if err1 != nil || err2 != nil || err3 != nil {
		return
	}
	if appID != c.peer.config.AppIdentifier || nonce != c.handshakeNonce {
		return
	}
	if addr.String() != c.RemoteAddr.String() {
		c.peer.logger.Info().Str("dialed", c.RemoteAddr.String()).Str("responded_from", addr.String()).
			Msg("lidgren: re-keying connection to rebound port")
		c.peer.rekeyConnection(c, addr)
	}
	c.peer.forgetPendingHandshake(nonce)
	c.remoteHailData = hail
	c.resetTimeout(now)
	c.setStatus(StatusConnected)

	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgConnectEstablished, false, 0, 0)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

func (c *Connection) handleConnectEstablished(now time.Time) {
	if c.Status() != StatusRespondedConnect {
		return
	}
	c.resetTimeout(now)
	c.setStatus(StatusConnected)
}

func (c *Connection) handleDisconnectMessage(payload []byte) {
	b := NewBitBufferFromBytes(payload)
	reason, err := b.ReadString()
	if err != nil || reason == "" {
		reason = ErrConnectionDenied.Error()
	}
	c.denyReason = reason
	c.setStatus(StatusDisconnected)
	c.peer.forgetConnection(c)
}

// retryHandshake resends the in-flight Connect/ConnectResponse if
// ResendHandshakeInterval has elapsed, doubling the interval each
// attempt up to MaximumHandshakeAttempts (spec.md §4.6 "Handshake
// retry").
func (c *Connection) retryHandshake(now time.Time) {
	status := c.Status()
	if status != StatusInitiatedConnect && status != StatusRespondedConnect {
		return
	}
	if now.Before(c.nextHandshakeResend) {
		return
	}
	if c.handshakeAttempts >= c.peer.config.MaximumHandshakeAttempts {
		c.denyReason = ErrHandshakeTimedOut.Error()
		c.setStatus(StatusDisconnected)
		c.peer.forgetConnection(c)
		return
	}
	if status == StatusInitiatedConnect {
		c.sendConnect()
	} else {
		c.sendConnectResponse()
	}
}
