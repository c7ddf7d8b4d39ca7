package runtime

import (
	"context"

	hostbridge "github.com/wippyai/wasm-hostbridge"
	"github.com/wippyai/wasm-hostbridge/codec"
	"github.com/wippyai/wasm-hostbridge/engine"
	"github.com/wippyai/wasm-hostbridge/errors"
	"github.com/wippyai/wasm-hostbridge/memory"
)

// BufferSpec describes a fixed-capacity buffer a guest keeps in its linear
// memory and the conventions its exports use for payloads.
type BufferSpec struct {
	// PointerExport returns the buffer's offset, e.g.
	// get_wasm_memory_buffer_pointer.
	PointerExport string
	Capacity      uint32
	// Input is how the host hands payloads to the guest.
	Input codec.Convention
	// Output is how the guest hands payloads back.
	Output codec.Convention
}

// Result is what a guest export left in the buffer.
type Result struct {
	Data []byte
	// Length is the count the export returned.
	Length uint32
}

// GuestBuffer exchanges payloads through a guest buffer. The pointer and
// the memory view are fetched again for every operation, because any guest
// call may move either.
type GuestBuffer struct {
	inst *Instance
	spec BufferSpec
}

// Buffer returns a GuestBuffer over spec. The pointer export must exist and
// return a single i32.
func (i *Instance) Buffer(spec BufferSpec) (*GuestBuffer, error) {
	if spec.Capacity == 0 {
		return nil, errors.InvalidInput(errors.PhaseConfig, "buffer capacity must be positive")
	}
	ft, err := i.module.exportType(spec.PointerExport)
	if err != nil {
		return nil, err
	}
	if len(ft.Params) != 0 || len(ft.Results) != 1 || hostbridge.ValueType(ft.Results[0]) != hostbridge.ValueTypeI32 {
		return nil, errors.New(errors.PhaseConfig, errors.KindTypeMismatch).
			Path(spec.PointerExport).
			Detail("pointer export must be () -> (i32), is %s", ft).
			Build()
	}
	spec.PointerExport = i.module.exportName(spec.PointerExport)
	return &GuestBuffer{inst: i, spec: spec}, nil
}

// Spec returns the buffer's spec.
func (b *GuestBuffer) Spec() BufferSpec { return b.spec }

// Pointer calls the pointer export.
func (b *GuestBuffer) Pointer(ctx context.Context) (uint32, error) {
	v, err := b.inst.inst.CallScalar(ctx, b.spec.PointerExport)
	if err != nil {
		return 0, err
	}
	return v.U32(), nil
}

// region fetches the pointer, then a fresh view, in that order.
func (b *GuestBuffer) region(ctx context.Context) (*memory.Region, error) {
	ptr, err := b.Pointer(ctx)
	if err != nil {
		return nil, err
	}
	view, err := b.inst.inst.Memory(0)
	if err != nil {
		return nil, b.fail(err)
	}
	region, err := memory.NewRegion(view, ptr, b.spec.Capacity)
	if err != nil {
		return nil, b.fail(err)
	}
	return region, nil
}

func (b *GuestBuffer) fail(err error) error {
	return b.inst.inst.Store().Fail(err)
}

// Write encodes payload with the Input convention and copies it into the
// buffer. It returns the payload length to pass to the guest, which never
// counts a terminator. Nothing is written when the payload does not fit.
func (b *GuestBuffer) Write(ctx context.Context, payload []byte) (uint32, error) {
	c := codec.Codec{Capacity: b.spec.Capacity, Convention: b.spec.Input}
	enc, err := c.Encode(payload)
	if err != nil {
		return 0, b.fail(err)
	}
	region, err := b.region(ctx)
	if err != nil {
		return 0, err
	}
	if err := region.WriteAt(0, enc); err != nil {
		return 0, b.fail(err)
	}
	b.inst.inst.Store().Observer().ObserveMemory(engine.DirectionWrite, len(enc))
	return c.PayloadLength(payload), nil
}

// Read decodes the buffer with the Output convention. For terminated
// payloads length bounds the scan (and is capped at the capacity); for
// length-prefixed ones it is the exact payload length.
func (b *GuestBuffer) Read(ctx context.Context, length uint32) ([]byte, error) {
	if b.spec.Output == codec.LengthPrefixed && length > b.spec.Capacity {
		return nil, b.fail(errors.OutOfBounds(errors.PhaseDecode, "read", 0, uint64(length), uint64(b.spec.Capacity)))
	}
	region, err := b.region(ctx)
	if err != nil {
		return nil, err
	}
	n := min(length, b.spec.Capacity)
	raw, err := region.ReadAt(0, n)
	if err != nil {
		return nil, b.fail(err)
	}
	c := codec.Codec{Capacity: b.spec.Capacity, Convention: b.spec.Output}
	out, err := c.Decode(raw, n)
	if err != nil {
		return nil, b.fail(err)
	}
	b.inst.inst.Store().Observer().ObserveMemory(engine.DirectionRead, len(raw))
	return out, nil
}

// Exchange writes payload, calls export with its length and reads back the
// number of bytes the export returns.
func (b *GuestBuffer) Exchange(ctx context.Context, export string, payload []byte) (*Result, error) {
	n, err := b.Write(ctx, payload)
	if err != nil {
		return nil, err
	}
	ret, err := b.inst.inst.CallScalar(ctx, b.inst.module.exportName(export), hostbridge.ValueFromRaw(hostbridge.ValueTypeI32, uint64(n)))
	if err != nil {
		return nil, err
	}
	if ret.Type != hostbridge.ValueTypeI32 {
		return nil, b.fail(errors.ArityMismatch(export, []any{n}, "export must return an i32 length"))
	}
	data, err := b.Read(ctx, ret.U32())
	if err != nil {
		return nil, err
	}
	return &Result{Data: data, Length: ret.U32()}, nil
}
