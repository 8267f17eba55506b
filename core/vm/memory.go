package vm

import "github.com/holiman/uint256"

// memory is the interpreter's byte-addressable scratch space, grown lazily
// to exactly the highest byte touched (not rounded up to a 32-byte word),
// driven from MLOAD/MSTORE/CODECOPY-family opcodes.
type memory struct {
	store []byte
}

func newMemory() *memory {
	return &memory{}
}

func (m *memory) Len() int {
	return len(m.store)
}

// Resize grows the backing store to at least size bytes, zero-filling the
// new region. It never shrinks: the EVM memory model is monotone within one
// call frame.
func (m *memory) Resize(size uint64) {
	if uint64(len(m.store)) >= size {
		return
	}
	grown := make([]byte, size)
	copy(grown, m.store)
	m.store = grown
}

// Set writes data into the memory region [offset, offset+len(data)),
// resizing first if needed.
func (m *memory) Set(offset, size uint64, data []byte) {
	if size == 0 {
		return
	}
	m.Resize(offset + size)
	copy(m.store[offset:offset+size], data)
}

// Set32 stores val as a 32-byte big-endian word at offset, the shape MSTORE
// needs.
func (m *memory) Set32(offset uint64, val *uint256.Int) {
	m.Resize(offset + 32)
	b := val.Bytes32()
	copy(m.store[offset:offset+32], b[:])
}

// GetCopy returns an owned copy of [offset, offset+size). Reads past the
// grown region return zero bytes, matching EVM semantics.
func (m *memory) GetCopy(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	out := make([]byte, size)
	if offset >= uint64(len(m.store)) {
		return out
	}
	end := offset + size
	if end > uint64(len(m.store)) {
		end = uint64(len(m.store))
	}
	copy(out, m.store[offset:end])
	return out
}

// GetPtr returns a slice view (no copy) of [offset, offset+size), used by
// opcode handlers that only read the region within the current step.
func (m *memory) GetPtr(offset, size uint64) []byte {
	if size == 0 {
		return nil
	}
	m.Resize(offset + size)
	return m.store[offset : offset+size]
}
