package wasmop

import (
	"encoding/binary"

	"github.com/bytecodealliance/wasmtime-go/v37"
)

// MemorySlice represents an underlying slice of a guest's linear memory. An
// implementation of MemorySlice is wrapped by Memory, which adds convenience
// accessors for reading and writing the primitive values the ABI trades in.
type MemorySlice interface {
	Data() []byte
	Len() int
	Cap() int
}

// ByteMemory is a MemorySlice backed by a plain Go slice, used by tests that
// exercise Memory's accessors without standing up a wasmtime store.
type ByteMemory []byte

func (m ByteMemory) Data() []byte { return m }
func (m ByteMemory) Len() int     { return len(m) }
func (m ByteMemory) Cap() int     { return cap(m) }

// wasmMemory is a MemorySlice backed by a live guest instance's exported
// memory. Every access goes through the owning store, per wasmtime-go/v37's
// store-based API: a *wasmtime.Memory carries no data of its own.
type wasmMemory struct {
	store wasmtime.Storelike
	mem   *wasmtime.Memory
}

func (m *wasmMemory) Len() int {
	return int(m.mem.DataSize(m.store))
}

func (m *wasmMemory) Cap() int {
	return int(m.mem.DataSize(m.store))
}

func (m *wasmMemory) Data() []byte {
	return m.mem.UnsafeData(m.store)
}

// grow extends the underlying memory by delta 64KiB pages, returning the
// previous size in pages.
func (m *wasmMemory) grow(delta uint64) (uint64, error) {
	return m.mem.Grow(m.store, delta)
}

// Memory wraps a MemorySlice with convenience functions for reading and
// writing the fixed-width fields the ABI and the wire codec need.
type Memory struct {
	MemorySlice
}

func (m *Memory) ReadUint8(offset int64) uint8 {
	return m.Data()[offset]
}

func (m *Memory) ReadUint32(offset int64) uint32 {
	return binary.LittleEndian.Uint32(m.Data()[offset:])
}

func (m *Memory) ReadUint64(offset int64) uint64 {
	return binary.LittleEndian.Uint64(m.Data()[offset:])
}

func (m *Memory) PutUint8(v uint8, offset int64) {
	m.Data()[offset] = v
}

func (m *Memory) PutUint32(v uint32, offset int64) {
	binary.LittleEndian.PutUint32(m.Data()[offset:], v)
}

func (m *Memory) PutUint64(v uint64, offset int64) {
	binary.LittleEndian.PutUint64(m.Data()[offset:], v)
}

func (m *Memory) ReadAt(p []byte, offset int64) (int, error) {
	n := copy(p, m.Data()[offset:])
	return n, nil
}

func (m *Memory) WriteAt(p []byte, offset int64) (int, error) {
	n := copy(m.Data()[offset:], p)
	return n, nil
}
