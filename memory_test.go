package wasmop

import "testing"

func TestMemoryReadWriteUint32(t *testing.T) {
	mem := &Memory{ByteMemory(make([]byte, 16))}

	mem.PutUint32(0xdeadbeef, 4)
	if got := mem.ReadUint32(4); got != 0xdeadbeef {
		t.Errorf("ReadUint32 = %#x, want %#x", got, 0xdeadbeef)
	}
}

func TestMemoryReadWriteUint64(t *testing.T) {
	mem := &Memory{ByteMemory(make([]byte, 16))}

	mem.PutUint64(0x0123456789abcdef, 0)
	if got := mem.ReadUint64(0); got != 0x0123456789abcdef {
		t.Errorf("ReadUint64 = %#x, want %#x", got, 0x0123456789abcdef)
	}
}

func TestMemoryReadWriteUint8(t *testing.T) {
	mem := &Memory{ByteMemory(make([]byte, 4))}

	mem.PutUint8(0x7f, 2)
	if got := mem.ReadUint8(2); got != 0x7f {
		t.Errorf("ReadUint8 = %#x, want %#x", got, 0x7f)
	}
}

func TestMemoryReadAtWriteAt(t *testing.T) {
	mem := &Memory{ByteMemory(make([]byte, 32))}

	payload := []byte("hello world")
	n, err := mem.WriteAt(payload, 8)
	if err != nil {
		t.Fatalf("WriteAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("WriteAt wrote %d bytes, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	n, err = mem.ReadAt(out, 8)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("ReadAt read %d bytes, want %d", n, len(payload))
	}
	if string(out) != "hello world" {
		t.Errorf("ReadAt = %q, want %q", out, "hello world")
	}
}

func TestByteMemoryLenCap(t *testing.T) {
	m := ByteMemory(make([]byte, 4, 8))
	if m.Len() != 4 {
		t.Errorf("Len() = %d, want 4", m.Len())
	}
	if m.Cap() != 8 {
		t.Errorf("Cap() = %d, want 8", m.Cap())
	}
}
