package lidgren

import "time"

// mtuProbeState drives the MTU expansion binary search of spec.md
// §4.7: starting from the floor MTU, probe successively larger sizes
// and accept the largest one that round-trips an ExpandMTUSuccess,
// never probing more often than ExpandMTUFrequency.
//
// The search is a classic binary search between [accepted, ceiling]:
// each probe targets the midpoint; a success moves the floor up, a
// run of ExpandMTUFailAttempts timeouts moves the ceiling down and
// retries the new midpoint. This resolves the spec's Open Question in
// favor of a bounded number of probe sizes (about log2(ceiling-floor),
// each sent up to ExpandMTUFailAttempts times when unanswered) instead
// of a linear step walk.
type mtuProbeState struct {
	accepted     int
	ceiling      int
	probing      int
	lastProbeAt  time.Time
	failCount    int
	done         bool
}

func newMTUProbeState(configured int) mtuProbeState {
	if configured <= 0 {
		configured = DefaultMTU
	}
	return mtuProbeState{accepted: DefaultMTUFloor, ceiling: configured}
}

// current is the MTU safe to use for outgoing datagrams right now.
func (s *mtuProbeState) current() int {
	if s.accepted <= 0 {
		return DefaultMTUFloor
	}
	return s.accepted
}

// maybeProbeMTU issues the next ExpandMTURequest probe if one is due
// and the search has not converged (spec.md §4.7).
func (c *Connection) maybeProbeMTU(now time.Time) {
	if !c.peer.config.AutoExpandMTU {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.mtuState
	if s.done || s.accepted >= s.ceiling {
		s.done = true
		return
	}
	if now.Sub(s.lastProbeAt) < c.peer.config.ExpandMTUFrequency {
		return
	}

	if s.probing == 0 {
		s.probing = (s.accepted + s.ceiling + 1) / 2
	} else {
		// Previous probe never got a reply: shrink the ceiling and
		// retry the new midpoint, bounding the total attempts.
		s.failCount++
		if s.failCount >= c.peer.config.ExpandMTUFailAttempts {
			s.ceiling = s.probing - 1
			s.failCount = 0
			s.probing = 0
			if s.accepted >= s.ceiling {
				s.done = true
				return
			}
			s.probing = (s.accepted + s.ceiling + 1) / 2
		}
	}

	s.lastProbeAt = now
	padding := make([]byte, s.probing-wireHeaderSize)
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgExpandMTURequest, false, 0, len(padding)*8)
	dgram = append(dgram, padding...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// handleExpandMTURequest answers a peer's probe: if the whole
// datagram arrived intact, the path supports this size, so echo it
// back as a success (spec.md §4.7).
func (c *Connection) handleExpandMTURequest(payload []byte) {
	size := wireHeaderSize + len(payload)
	b := NewBitBuffer()
	b.WriteUInt32(uint32(size))
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgExpandMTUSuccess, false, 0, b.LengthBits())
	dgram = append(dgram, b.Data()...)
	c.peer.writeTo(c.RemoteAddr, dgram)
}

// handleExpandMTUSuccess accepts the confirmed size as the new MTU
// and advances the binary search.
func (c *Connection) handleExpandMTUSuccess(payload []byte) {
	b := NewBitBufferFromBytes(payload)
	size, err := b.ReadUInt32()
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := &c.mtuState
	if int(size) > s.accepted && int(size) <= s.ceiling {
		s.accepted = int(size)
	}
	s.probing = 0
	s.failCount = 0
	if s.accepted >= s.ceiling {
		s.done = true
	}
}
