package memory

import (
	"github.com/wippyai/wasm-hostbridge/errors"
)

// Bytes is an in-process Backing over a plain byte slice.
type Bytes []byte

// Read implements Backing.
func (b Bytes) Read(offset, byteCount uint32) ([]byte, bool) {
	end := uint64(offset) + uint64(byteCount)
	if end > uint64(len(b)) {
		return nil, false
	}
	return b[offset:end], true
}

// Write implements Backing.
func (b Bytes) Write(offset uint32, v []byte) bool {
	end := uint64(offset) + uint64(len(v))
	if end > uint64(len(b)) {
		return false
	}
	copy(b[offset:end], v)
	return true
}

// Size implements Backing.
func (b Bytes) Size() uint32 {
	return uint32(len(b))
}

// Region confines a view to a guest buffer of capacity bytes at base.
// Offsets are relative to base, and the capacity is checked before the view
// is touched so an oversized write never reaches guest memory.
type Region struct {
	view     *View
	base     uint32
	capacity uint32
}

// NewRegion fails with out_of_bounds if the buffer does not lie inside view.
func NewRegion(view *View, base, capacity uint32) (*Region, error) {
	if uint64(base)+uint64(capacity) > uint64(view.Len()) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, "region", uint64(base), uint64(capacity), uint64(view.Len()))
	}
	return &Region{view: view, base: base, capacity: capacity}, nil
}

// Base returns the buffer's offset in linear memory.
func (r *Region) Base() uint32 { return r.base }

// Capacity returns the buffer size in bytes.
func (r *Region) Capacity() uint32 { return r.capacity }

// WriteAt writes data at offset within the buffer.
func (r *Region) WriteAt(offset uint32, data []byte) error {
	if uint64(offset)+uint64(len(data)) > uint64(r.capacity) {
		return errors.OutOfBounds(errors.PhaseMemory, "write_at", uint64(offset), uint64(len(data)), uint64(r.capacity))
	}
	return r.view.Write(r.base+offset, data)
}

// ReadAt returns a copy of length bytes at offset within the buffer.
func (r *Region) ReadAt(offset, length uint32) ([]byte, error) {
	if uint64(offset)+uint64(length) > uint64(r.capacity) {
		return nil, errors.OutOfBounds(errors.PhaseMemory, "read_at", uint64(offset), uint64(length), uint64(r.capacity))
	}
	return r.view.Read(r.base+offset, length)
}
