package lidgren

import "testing"

func TestWireHeaderRoundTrip(t *testing.T) {
	cases := []struct {
		typ      MessageType
		fragment bool
		seq      uint16
		bits     int
	}{
		{MsgPing, false, 0, 0},
		{MsgAcknowledge, true, 1, 128},
		{msgUserBase, false, 32767, 65535},
		{msgUserBase, true, 16384, 9001},
	}
	for _, c := range cases {
		data := encodeWireHeader(nil, c.typ, c.fragment, c.seq, c.bits)
		if len(data) != wireHeaderSize {
			t.Fatalf("header length = %d, want %d", len(data), wireHeaderSize)
		}
		h, ok := parseWireHeader(data)
		if !ok {
			t.Fatalf("parseWireHeader failed for %+v", c)
		}
		if h.Type != c.typ || h.Fragment != c.fragment || h.Sequence != c.seq || h.PayloadBits != c.bits {
			t.Errorf("got %+v, want %+v", h, c)
		}
	}
}

func TestWireHeaderTooShort(t *testing.T) {
	if _, ok := parseWireHeader([]byte{1, 2, 3}); ok {
		t.Errorf("expected failure parsing a too-short header")
	}
}

func TestSplitDatagramDropsTruncatedTail(t *testing.T) {
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgPing, false, 0, 8)
	dgram = append(dgram, 0xAB)
	// second message claims 16 bits of payload but only provides 0.
	dgram = encodeWireHeader(dgram, MsgPong, false, 1, 16)

	var got []wireHeader
	var gotErr error
	splitDatagram(dgram, func(h wireHeader, payload []byte) {
		got = append(got, h)
	}, func(err error) {
		gotErr = err
	})
	if len(got) != 1 {
		t.Fatalf("got %d messages, want 1 (truncated tail must be dropped)", len(got))
	}
	if got[0].Type != MsgPing {
		t.Errorf("got type %v, want MsgPing", got[0].Type)
	}
	if gotErr != ErrMalformedHeader {
		t.Errorf("got error %v, want ErrMalformedHeader", gotErr)
	}
}

func TestSplitDatagramReportsTrailingGarbage(t *testing.T) {
	var dgram []byte
	dgram = encodeWireHeader(dgram, MsgPing, false, 0, 0)
	dgram = append(dgram, 0x01, 0x02) // fewer bytes than a full header

	var calls int
	var gotErr error
	splitDatagram(dgram, func(h wireHeader, payload []byte) {
		calls++
	}, func(err error) {
		gotErr = err
	})
	if calls != 1 {
		t.Fatalf("got %d messages, want 1", calls)
	}
	if gotErr != ErrMalformedHeader {
		t.Errorf("got error %v, want ErrMalformedHeader for trailing garbage", gotErr)
	}
}

func TestAckPayloadRoundTrip(t *testing.T) {
	pairs := []ackPair{
		{Channel: 3, Sequence: 1},
		{Channel: 3, Sequence: 2},
		{Channel: 9, Sequence: 32767},
	}
	data := encodeAckPayload(pairs).Data()
	got := decodeAckPayload(data)
	if len(got) != len(pairs) {
		t.Fatalf("got %d pairs, want %d", len(got), len(pairs))
	}
	for i := range pairs {
		if got[i] != pairs[i] {
			t.Errorf("pair[%d] = %+v, want %+v", i, got[i], pairs[i])
		}
	}
}

func TestFragmentHeaderRoundTrip(t *testing.T) {
	h := fragmentHeader{GroupID: 42, TotalBits: 1 << 20, ChunkByteSize: 1024, ChunkNumber: 7}
	b := NewBitBuffer()
	encodeFragmentHeader(b, h)
	b.ResetRead()
	got, err := decodeFragmentHeader(b)
	if err != nil {
		t.Fatalf("decodeFragmentHeader: %v", err)
	}
	if got != h {
		t.Errorf("got %+v, want %+v", got, h)
	}
}
