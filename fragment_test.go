package lidgren

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAndReassembleFragmentsRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 200) // 3200 bytes
	chunks := splitFragments(7, payload, 500)
	require.Greater(t, len(chunks), 1)

	r := newFragmentReassembler(DefaultMaxFragmentGroups)
	var got []byte
	var done bool
	for _, chunk := range chunks {
		chunk.ResetRead()
		h, err := decodeFragmentHeader(chunk)
		require.NoError(t, err)
		body, err := chunk.ReadBytes(chunk.RemainingBits() / 8)
		require.NoError(t, err)
		got, done = r.receive(h, body)
	}
	require.True(t, done)
	require.Equal(t, payload, got)
}

func TestFragmentReassemblerOutOfOrderChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("xyz123"), 100)
	chunks := splitFragments(1, payload, 64)
	require.Greater(t, len(chunks), 2)

	// Feed the chunks in reverse order.
	r := newFragmentReassembler(DefaultMaxFragmentGroups)
	var got []byte
	var done bool
	for i := len(chunks) - 1; i >= 0; i-- {
		chunk := chunks[i]
		chunk.ResetRead()
		h, err := decodeFragmentHeader(chunk)
		require.NoError(t, err)
		body, err := chunk.ReadBytes(chunk.RemainingBits() / 8)
		require.NoError(t, err)
		got, done = r.receive(h, body)
	}
	require.True(t, done)
	require.Equal(t, payload, got)
}

func TestFragmentReassemblerEvictsOldestGroupWhenFull(t *testing.T) {
	r := newFragmentReassembler(2)

	// Start three groups, each missing their second chunk, so none
	// completes and the bound forces eviction of the oldest (group 0).
	for _, h := range []fragmentHeader{
		{GroupID: 0, TotalBits: 16, ChunkByteSize: 1, ChunkNumber: 0},
		{GroupID: 1, TotalBits: 16, ChunkByteSize: 1, ChunkNumber: 0},
		{GroupID: 2, TotalBits: 16, ChunkByteSize: 1, ChunkNumber: 0},
	} {
		_, done := r.receive(h, []byte{0xAA})
		require.False(t, done)
	}

	require.LessOrEqual(t, len(r.groups), 2)
	_, stillTracked := r.groups[0]
	require.False(t, stillTracked, "the oldest group must have been evicted")
}
