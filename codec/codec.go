// Package codec translates host byte sequences to and from their
// representation inside a fixed-capacity guest buffer.
//
// Two conventions are supported because guests disagree on them: a
// terminated payload ends with a single zero byte, a length-prefixed payload
// has its length carried out of band, usually as the export's argument or
// return value. Call sites must say which one a given export uses.
package codec

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/wippyai/wasm-hostbridge/errors"
)

// Terminator ends a terminated payload.
const Terminator byte = 0x00

// Convention selects how a payload's end is found.
type Convention int

const (
	// Terminated payloads end at the first zero byte.
	Terminated Convention = iota
	// LengthPrefixed payloads are exactly as long as a count passed
	// alongside them.
	LengthPrefixed
)

func (c Convention) String() string {
	switch c {
	case Terminated:
		return "terminated"
	case LengthPrefixed:
		return "length"
	}
	return fmt.Sprintf("convention(%d)", int(c))
}

// ParseConvention accepts "terminated" (or "nul", "cstring") and "length"
// (or "length-prefixed", "counted").
func ParseConvention(s string) (Convention, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "terminated", "nul", "cstring":
		return Terminated, nil
	case "length", "length-prefixed", "length_prefixed", "counted":
		return LengthPrefixed, nil
	}
	return 0, errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("unknown buffer convention %q", s))
}

// MarshalText implements encoding.TextMarshaler.
func (c Convention) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Convention) UnmarshalText(text []byte) error {
	v, err := ParseConvention(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// EncodeTerminated returns data followed by a single terminator.
// Fails with capacity_exceeded when len(data)+1 > capacity.
func EncodeTerminated(data []byte, capacity uint32) ([]byte, error) {
	need := uint64(len(data)) + 1
	if need > uint64(capacity) {
		return nil, errors.CapacityExceeded("encode_terminated", need, uint64(capacity))
	}
	out := make([]byte, len(data)+1)
	copy(out, data)
	out[len(data)] = Terminator
	return out, nil
}

// DecodeTerminated scans buf from offset 0 for the terminator, looking at no
// more than maxScan bytes, and returns a copy of the bytes before it.
func DecodeTerminated(buf []byte, maxScan uint32) ([]byte, error) {
	limit := len(buf)
	if uint64(maxScan) < uint64(limit) {
		limit = int(maxScan)
	}
	i := bytes.IndexByte(buf[:limit], Terminator)
	if i < 0 {
		return nil, errors.UnterminatedBuffer(maxScan)
	}
	return bytes.Clone(buf[:i]), nil
}

// EncodeLengthPrefixed returns data unchanged; its length travels with the
// call. Fails with capacity_exceeded when len(data) > capacity.
func EncodeLengthPrefixed(data []byte, capacity uint32) ([]byte, error) {
	if uint64(len(data)) > uint64(capacity) {
		return nil, errors.CapacityExceeded("encode_length_prefixed", uint64(len(data)), uint64(capacity))
	}
	return bytes.Clone(data), nil
}

// DecodeLengthPrefixed returns a copy of the first knownLength bytes of buf.
func DecodeLengthPrefixed(buf []byte, knownLength uint32) ([]byte, error) {
	if uint64(knownLength) > uint64(len(buf)) {
		return nil, errors.OutOfBounds(errors.PhaseDecode, "decode_length_prefixed", 0, uint64(knownLength), uint64(len(buf)))
	}
	out := make([]byte, knownLength)
	copy(out, buf)
	return out, nil
}

// Codec binds a convention to a buffer capacity.
type Codec struct {
	Capacity   uint32
	Convention Convention
}

// Encode encodes data for a guest buffer of c.Capacity bytes.
func (c Codec) Encode(data []byte) ([]byte, error) {
	if c.Convention == Terminated {
		return EncodeTerminated(data, c.Capacity)
	}
	return EncodeLengthPrefixed(data, c.Capacity)
}

// Decode decodes raw guest bytes. n is the scan limit for terminated
// payloads and the exact length for length-prefixed ones.
func (c Codec) Decode(raw []byte, n uint32) ([]byte, error) {
	if c.Convention == Terminated {
		return DecodeTerminated(raw, n)
	}
	return DecodeLengthPrefixed(raw, n)
}

// PayloadLength is the count passed to the guest for data: the raw length,
// without the terminator, under both conventions.
func (c Codec) PayloadLength(data []byte) uint32 {
	return uint32(len(data))
}
