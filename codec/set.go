package codec

import "encoding/binary"

// AppendUint64s appends vals as a raw little-endian u64 array.
func AppendUint64s(dst []byte, vals []uint64) []byte {
	for _, v := range vals {
		dst = binary.LittleEndian.AppendUint64(dst, v)
	}
	return dst
}

// EncodeUint64s encodes vals as a raw little-endian u64 array.
func EncodeUint64s(vals []uint64) []byte {
	return AppendUint64s(make([]byte, 0, 8*len(vals)), vals)
}

// DecodeUint64s decodes a raw little-endian u64 array without checking order.
func DecodeUint64s(b []byte) ([]uint64, error) {
	if len(b)%8 != 0 {
		return nil, malformed("u64 array", "length %d is not a multiple of 8", len(b))
	}
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(b[i*8:])
	}
	return out, nil
}

// DecodeSet decodes a raw set value and verifies it is strictly ascending.
// A nil or empty input decodes to an empty set.
func DecodeSet(b []byte) ([]uint64, error) {
	vals, err := DecodeUint64s(b)
	if err != nil {
		return nil, err
	}
	if i := firstUnsorted(vals); i >= 0 {
		return nil, malformed("set", "element %d is not strictly ascending", i)
	}
	return vals, nil
}

// IsSortedUnique reports whether vals is strictly ascending.
func IsSortedUnique(vals []uint64) bool {
	return firstUnsorted(vals) < 0
}

func firstUnsorted(vals []uint64) int {
	for i := 1; i < len(vals); i++ {
		if vals[i-1] >= vals[i] {
			return i
		}
	}
	return -1
}

// Union appends the sorted union of a and b to dst.
//
// Both inputs must be ascending. Equal values, whether across the inputs or
// repeated within one of them, are emitted once.
func Union(dst, a, b []uint64) []uint64 {
	start := len(dst)
	emit := func(v uint64) {
		if len(dst) > start && dst[len(dst)-1] == v {
			return
		}
		dst = append(dst, v)
	}

	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] < b[j]:
			emit(a[i])
			i++
		case b[j] < a[i]:
			emit(b[j])
			j++
		default:
			emit(a[i])
			i++
			j++
		}
	}
	for ; i < len(a); i++ {
		emit(a[i])
	}
	for ; j < len(b); j++ {
		emit(b[j])
	}
	return dst
}

// Difference appends the elements of a that are not in b to dst.
// Both inputs must be strictly ascending.
func Difference(dst, a, b []uint64) []uint64 {
	i, j := 0, 0
	for i < len(a) {
		if j == len(b) {
			return append(dst, a[i:]...)
		}
		switch {
		case a[i] < b[j]:
			dst = append(dst, a[i])
			i++
		case b[j] < a[i]:
			j++
		default:
			i++
			j++
		}
	}
	return dst
}
