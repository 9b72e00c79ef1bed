package codec

import "encoding/binary"

// SetDeltaHeaderSize is the size of the add_count/del_count header.
const SetDeltaHeaderSize = 16

// SetDelta is a decoded set merge operand.
//
// Add and Del are strictly ascending. Applying it to a set s yields
// (s - Del) ∪ Add.
type SetDelta struct {
	Add []uint64
	Del []uint64
}

// SetDeltaSize returns the encoded size of a delta with the given counts.
func SetDeltaSize(adds, dels int) int {
	return SetDeltaHeaderSize + 8*(adds+dels)
}

// Size returns the encoded size of d.
func (d SetDelta) Size() int {
	return SetDeltaSize(len(d.Add), len(d.Del))
}

// IsEmpty reports whether d neither adds nor deletes anything.
func (d SetDelta) IsEmpty() bool {
	return len(d.Add) == 0 && len(d.Del) == 0
}

// AppendTo appends the encoded delta to dst.
func (d SetDelta) AppendTo(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(d.Add)))
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(d.Del)))
	dst = AppendUint64s(dst, d.Add)
	return AppendUint64s(dst, d.Del)
}

// Encode returns the encoded delta.
func (d SetDelta) Encode() []byte {
	return d.AppendTo(make([]byte, 0, d.Size()))
}

// Apply returns (state - d.Del) ∪ d.Add.
func (d SetDelta) Apply(state []uint64) []uint64 {
	if len(d.Del) > 0 {
		state = Difference(make([]uint64, 0, len(state)), state, d.Del)
	}
	if len(d.Add) > 0 {
		state = Union(make([]uint64, 0, len(state)+len(d.Add)), state, d.Add)
	}
	return state
}

// DecodeSetDelta decodes and validates a set delta operand.
func DecodeSetDelta(b []byte) (SetDelta, error) {
	if len(b) < SetDeltaHeaderSize {
		return SetDelta{}, malformed("set delta", "length %d is shorter than header", len(b))
	}
	adds := binary.LittleEndian.Uint64(b[0:])
	dels := binary.LittleEndian.Uint64(b[8:])

	capacity := uint64(len(b)-SetDeltaHeaderSize) / 8
	if adds > capacity || dels > capacity-adds {
		return SetDelta{}, malformed("set delta", "counts %d+%d exceed payload of %d values", adds, dels, capacity)
	}
	if want := SetDeltaSize(int(adds), int(dels)); want != len(b) {
		return SetDelta{}, malformed("set delta", "length %d, want %d", len(b), want)
	}

	body := b[SetDeltaHeaderSize:]
	d := SetDelta{
		Add: make([]uint64, adds),
		Del: make([]uint64, dels),
	}
	for i := range d.Add {
		d.Add[i] = binary.LittleEndian.Uint64(body[i*8:])
	}
	body = body[adds*8:]
	for i := range d.Del {
		d.Del[i] = binary.LittleEndian.Uint64(body[i*8:])
	}

	if i := firstUnsorted(d.Add); i >= 0 {
		return SetDelta{}, malformed("set delta", "add element %d is not strictly ascending", i)
	}
	if i := firstUnsorted(d.Del); i >= 0 {
		return SetDelta{}, malformed("set delta", "del element %d is not strictly ascending", i)
	}
	return d, nil
}

// SingleAdd returns an operand adding v.
func SingleAdd(v uint64) []byte {
	return SetDelta{Add: []uint64{v}}.Encode()
}

// SingleDelete returns an operand deleting v.
func SingleDelete(v uint64) []byte {
	return SetDelta{Del: []uint64{v}}.Encode()
}
