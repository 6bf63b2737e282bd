package lidgren

// DefaultMaxFragmentGroups bounds how many incomplete reassembly
// groups a connection will track at once; the oldest is evicted to
// make room for a new one (spec.md §4.5 "bounded eviction").
const DefaultMaxFragmentGroups = 64

// splitFragments slices a large outgoing payload into chunks, each
// prefixed with a fragmentHeader, sized so that header+chunk never
// exceeds chunkByteSize bytes of raw payload (spec.md §4.5).
//
// groupID identifies the reassembly group on the receiving end; the
// caller is responsible for allocating one per fragmented message.
func splitFragments(groupID uint32, payload []byte, chunkByteSize int) []*BitBuffer {
	if chunkByteSize <= 0 {
		chunkByteSize = 1
	}
	totalBits := uint32(len(payload)) * 8
	numChunks := (len(payload) + chunkByteSize - 1) / chunkByteSize
	if numChunks == 0 {
		numChunks = 1
	}

	chunks := make([]*BitBuffer, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * chunkByteSize
		end := start + chunkByteSize
		if end > len(payload) {
			end = len(payload)
		}
		b := NewBitBuffer()
		encodeFragmentHeader(b, fragmentHeader{
			GroupID:       groupID,
			TotalBits:     totalBits,
			ChunkByteSize: uint32(chunkByteSize),
			ChunkNumber:   uint32(i),
		})
		b.WriteBytes(payload[start:end])
		chunks = append(chunks, b)
	}
	return chunks
}

// fragmentGroup accumulates chunks of one fragmented incoming message
// until every chunk has arrived (spec.md §4.5 "FragmentGroup").
type fragmentGroup struct {
	groupID       uint32
	totalChunks   int
	chunkByteSize int
	totalBits     uint32
	received      []bool
	haveCount     int
	assembly      []byte
}

func newFragmentGroup(h fragmentHeader) *fragmentGroup {
	chunkSize := int(h.ChunkByteSize)
	if chunkSize <= 0 {
		chunkSize = 1
	}
	totalBytes := int(lengthBytes(int(h.TotalBits)))
	totalChunks := (totalBytes + chunkSize - 1) / chunkSize
	if totalChunks == 0 {
		totalChunks = 1
	}
	return &fragmentGroup{
		groupID:       h.GroupID,
		totalChunks:   totalChunks,
		chunkByteSize: chunkSize,
		totalBits:     h.TotalBits,
		received:      make([]bool, totalChunks),
		assembly:      make([]byte, totalBytes),
	}
}

// addChunk stores one chunk's payload bytes. It reports the fully
// reassembled message once every chunk has arrived.
func (g *fragmentGroup) addChunk(h fragmentHeader, chunkPayload []byte) (complete []byte, done bool) {
	idx := int(h.ChunkNumber)
	if idx < 0 || idx >= g.totalChunks {
		return nil, false
	}
	if !g.received[idx] {
		g.received[idx] = true
		g.haveCount++
		start := idx * g.chunkByteSize
		copy(g.assembly[start:], chunkPayload)
	}
	if g.haveCount < g.totalChunks {
		return nil, false
	}
	return g.assembly, true
}

// fragmentReassembler tracks in-flight fragment groups per connection,
// evicting the oldest when the bound is reached (spec.md §4.5).
type fragmentReassembler struct {
	maxGroups int
	order     []uint32
	groups    map[uint32]*fragmentGroup
}

func newFragmentReassembler(maxGroups int) *fragmentReassembler {
	if maxGroups <= 0 {
		maxGroups = DefaultMaxFragmentGroups
	}
	return &fragmentReassembler{
		maxGroups: maxGroups,
		groups:    make(map[uint32]*fragmentGroup),
	}
}

// receive feeds one arriving fragment chunk into its group, creating
// the group on first sight. It returns the reassembled payload once
// complete, at which point the group is dropped.
func (r *fragmentReassembler) receive(h fragmentHeader, chunkPayload []byte) (complete []byte, done bool) {
	g, ok := r.groups[h.GroupID]
	if !ok {
		g = newFragmentGroup(h)
		r.groups[h.GroupID] = g
		r.order = append(r.order, h.GroupID)
		r.evictIfNeeded()
	}
	payload, done := g.addChunk(h, chunkPayload)
	if done {
		delete(r.groups, h.GroupID)
	}
	return payload, done
}

// evictIfNeeded drops the oldest incomplete group once the tracked
// count exceeds maxGroups.
func (r *fragmentReassembler) evictIfNeeded() {
	for len(r.groups) > r.maxGroups && len(r.order) > 0 {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.groups, oldest)
	}
}

func (r *fragmentReassembler) reset() {
	r.order = nil
	r.groups = make(map[uint32]*fragmentGroup)
}
