// Package memory provides bounds-checked, generation-stamped views over
// guest linear memory.
//
// A View is borrowed: it is valid only until the next guest call, because a
// call can grow memory and relocate its backing buffer. Each view records the
// generation of its Epoch at acquisition and refuses every access once the
// epoch has moved on.
package memory

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// Backing is the subset of wazero's api.Memory a View needs.
type Backing interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	Size() uint32
}

// Epoch exposes the current generation of whatever owns the memory.
type Epoch interface {
	Generation() uint64
}

// Clock is a monotonically increasing generation counter.
type Clock struct {
	gen atomic.Uint64
}

// Generation returns the current generation.
func (c *Clock) Generation() uint64 {
	return c.gen.Load()
}

// Advance moves to the next generation, invalidating every view stamped
// with an older one.
func (c *Clock) Advance() uint64 {
	return c.gen.Add(1)
}

// View is a borrowed window over linear memory.
type View struct {
	mem   Backing
	epoch Epoch
	gen   uint64
	size  uint32
}

// NewView captures mem's current size and epoch's current generation.
func NewView(mem Backing, epoch Epoch) *View {
	return &View{
		mem:   mem,
		epoch: epoch,
		gen:   epoch.Generation(),
		size:  mem.Size(),
	}
}

// Len returns the memory length in bytes at acquisition.
func (v *View) Len() uint32 {
	return v.size
}

// Size implements hostbridge.MemorySizer.
func (v *View) Size() uint32 {
	return v.size
}

// Generation returns the generation the view was stamped with.
func (v *View) Generation() uint64 {
	return v.gen
}

// Valid reports whether no guest call happened since acquisition.
func (v *View) Valid() bool {
	return v.epoch.Generation() == v.gen
}

func (v *View) check(op string, offset uint32, length uint64) error {
	if cur := v.epoch.Generation(); cur != v.gen {
		return errors.StaleView(op, v.gen, cur)
	}
	if uint64(offset)+length > uint64(v.size) {
		return errors.OutOfBounds(errors.PhaseMemory, op, uint64(offset), length, uint64(v.size))
	}
	return nil
}

// Read returns a copy of length bytes at offset.
func (v *View) Read(offset, length uint32) ([]byte, error) {
	b, err := v.Slice(offset, length)
	if err != nil {
		return nil, err
	}
	out := make([]byte, length)
	copy(out, b)
	return out, nil
}

// Slice returns length bytes at offset without copying. The slice aliases
// guest memory and must not be used after the next guest call.
func (v *View) Slice(offset, length uint32) ([]byte, error) {
	if err := v.check("read", offset, uint64(length)); err != nil {
		return nil, err
	}
	b, ok := v.mem.Read(offset, length)
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseMemory, "read", uint64(offset), uint64(length), uint64(v.mem.Size()))
	}
	return b, nil
}

// Write copies data verbatim to offset.
func (v *View) Write(offset uint32, data []byte) error {
	if err := v.check("write", offset, uint64(len(data))); err != nil {
		return err
	}
	if !v.mem.Write(offset, data) {
		return errors.OutOfBounds(errors.PhaseMemory, "write", uint64(offset), uint64(len(data)), uint64(v.mem.Size()))
	}
	return nil
}

// ReadU8 reads one byte.
func (v *View) ReadU8(offset uint32) (uint8, error) {
	b, err := v.Slice(offset, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadU32 reads a little-endian uint32.
func (v *View) ReadU32(offset uint32) (uint32, error) {
	b, err := v.Slice(offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadU64 reads a little-endian uint64.
func (v *View) ReadU64(offset uint32) (uint64, error) {
	b, err := v.Slice(offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// WriteU8 writes one byte.
func (v *View) WriteU8(offset uint32, value uint8) error {
	return v.Write(offset, []byte{value})
}

// WriteU32 writes a little-endian uint32.
func (v *View) WriteU32(offset uint32, value uint32) error {
	return v.Write(offset, binary.LittleEndian.AppendUint32(nil, value))
}

// WriteU64 writes a little-endian uint64.
func (v *View) WriteU64(offset uint32, value uint64) error {
	return v.Write(offset, binary.LittleEndian.AppendUint64(nil, value))
}
