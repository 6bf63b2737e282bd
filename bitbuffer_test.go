package lidgren

import "testing"

func TestBitBufferBitsRoundTrip(t *testing.T) {
	for _, n := range []int{1, 3, 7, 8, 9, 15, 16, 17, 31, 32, 33, 63, 64} {
		b := NewBitBuffer()
		var v uint64
		if n < 64 {
			v = (uint64(1) << uint(n)) - 1
		} else {
			v = ^uint64(0)
		}
		b.WriteBits(v, n)
		if b.LengthBits() != n {
			t.Fatalf("n=%d: writer bit length = %d, want %d", n, b.LengthBits(), n)
		}
		got, err := b.ReadBits(n)
		if err != nil {
			t.Fatalf("n=%d: ReadBits: %v", n, err)
		}
		if got != v {
			t.Errorf("n=%d: read %d, want %d", n, got, v)
		}
	}
}

func TestBitBufferByteBoolRoundTrip(t *testing.T) {
	b := NewBitBuffer()
	b.WriteBool(true)
	b.WriteByte(0xAB)
	b.WriteBool(false)
	b.WriteByte(0xCD)

	if v, _ := b.ReadBool(); v != true {
		t.Errorf("ReadBool = %v, want true", v)
	}
	if v, _ := b.ReadByte(); v != 0xAB {
		t.Errorf("ReadByte = %#x, want 0xAB", v)
	}
	if v, _ := b.ReadBool(); v != false {
		t.Errorf("ReadBool = %v, want false", v)
	}
	if v, _ := b.ReadByte(); v != 0xCD {
		t.Errorf("ReadByte = %#x, want 0xCD", v)
	}
}

func TestBitBufferVarUInt32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 127, 128, 300, 16383, 16384, 1 << 20, 1<<32 - 1}
	for _, v := range cases {
		b := NewBitBuffer()
		b.WriteVarUInt32(v)
		got, err := b.ReadVarUInt32()
		if err != nil {
			t.Fatalf("v=%d: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: read %d", v, got)
		}
	}
}

func TestBitBufferVarUInt64RoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 1 << 40, ^uint64(0)}
	for _, v := range cases {
		b := NewBitBuffer()
		b.WriteVarUInt64(v)
		got, err := b.ReadVarUInt64()
		if err != nil {
			t.Fatalf("v=%d: %v", v, err)
		}
		if got != v {
			t.Errorf("v=%d: read %d", v, got)
		}
	}
}

func TestBitBufferFloatRoundTrip(t *testing.T) {
	b := NewBitBuffer()
	b.WriteFloat32(3.14159)
	b.WriteFloat64(-2.71828182845)
	f32, err := b.ReadFloat32()
	if err != nil || f32 != float32(3.14159) {
		t.Errorf("ReadFloat32 = %v, %v", f32, err)
	}
	f64, err := b.ReadFloat64()
	if err != nil || f64 != -2.71828182845 {
		t.Errorf("ReadFloat64 = %v, %v", f64, err)
	}
}

func TestBitBufferStringRoundTrip(t *testing.T) {
	cases := []string{"", "hello", "unicode: éè中文"}
	for _, s := range cases {
		b := NewBitBuffer()
		b.WriteString(s)
		got, err := b.ReadString()
		if err != nil {
			t.Fatalf("%q: %v", s, err)
		}
		if got != s {
			t.Errorf("read %q, want %q", got, s)
		}
	}
}

func TestBitBufferVarBytesRoundTrip(t *testing.T) {
	b := NewBitBuffer()
	payload := []byte{1, 2, 3, 4, 5, 0xFF}
	b.WriteVarBytes(payload)
	got, err := b.ReadVarBytes()
	if err != nil {
		t.Fatalf("ReadVarBytes: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("read %v, want %v", got, payload)
	}
}

func TestBitBufferRangedInt32RoundTrip(t *testing.T) {
	b := NewBitBuffer()
	b.WriteRangedInt32(42, 0, 100)
	b.WriteRangedInt32(-5, -10, 10)
	v1, err := b.ReadRangedInt32(0, 100)
	if err != nil || v1 != 42 {
		t.Errorf("v1 = %v, %v", v1, err)
	}
	v2, err := b.ReadRangedInt32(-10, 10)
	if err != nil || v2 != -5 {
		t.Errorf("v2 = %v, %v", v2, err)
	}
}

func TestBitBufferMixedFieldsRoundTrip(t *testing.T) {
	b := NewBitBuffer()
	b.WriteByte(0x7C)
	b.WriteBool(true)
	b.WriteBits(0x15, 7)
	b.WriteUInt16(1500)
	b.WriteVarUInt32(987654)
	b.WriteString("mixed")

	if by, _ := b.ReadByte(); by != 0x7C {
		t.Errorf("byte = %#x", by)
	}
	if v, _ := b.ReadBool(); !v {
		t.Errorf("bool = %v", v)
	}
	if v, _ := b.ReadBits(7); v != 0x15 {
		t.Errorf("bits = %#x", v)
	}
	if v, _ := b.ReadUInt16(); v != 1500 {
		t.Errorf("u16 = %v", v)
	}
	if v, _ := b.ReadVarUInt32(); v != 987654 {
		t.Errorf("varint = %v", v)
	}
	if s, _ := b.ReadString(); s != "mixed" {
		t.Errorf("string = %q", s)
	}
}

func TestBitBufferOverflow(t *testing.T) {
	b := NewBitBuffer()
	b.WriteByte(1)
	if _, err := b.ReadBits(16); err == nil {
		t.Errorf("expected overflow error")
	}
}
