package codec

import (
	"encoding/binary"
	"math"
)

// ElementHeaderSize is the packed size of a blob map element header.
const ElementHeaderSize = 12

// Element is one entry of a blob map value or operand.
//
// Value aliases the buffer it was decoded from.
type Element struct {
	Key       uint64
	Value     []byte
	Tombstone bool
}

// Put returns a live element.
func Put(key uint64, value []byte) Element {
	return Element{Key: key, Value: value}
}

// Tombstone returns an element erasing key.
func Tombstone(key uint64) Element {
	return Element{Key: key, Tombstone: true}
}

// Size returns the encoded size of e.
func (e Element) Size() int {
	if e.Tombstone {
		return ElementHeaderSize
	}
	return ElementHeaderSize + len(e.Value)
}

// AppendElement appends the packed encoding of e to dst.
func AppendElement(dst []byte, e Element) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, e.Key)
	if e.Tombstone {
		return binary.LittleEndian.AppendUint32(dst, uint32(0xffffffff))
	}
	dst = binary.LittleEndian.AppendUint32(dst, uint32(int32(len(e.Value))))
	return append(dst, e.Value...)
}

// EncodeElements packs elems, which must already be ordered by strictly
// increasing key.
func EncodeElements(elems []Element) []byte {
	size := 0
	for _, e := range elems {
		size += e.Size()
	}
	dst := make([]byte, 0, size)
	for _, e := range elems {
		dst = AppendElement(dst, e)
	}
	return dst
}

// ValidElementValue reports whether v fits the signed 32-bit size field.
func ValidElementValue(v []byte) bool {
	return len(v) <= math.MaxInt32
}

// ElementIterator walks a packed blob map without copying.
//
//	it := codec.NewElementIterator(value)
//	for it.Next() {
//	    e := it.Element()
//	}
//	if err := it.Err(); err != nil { ... }
type ElementIterator struct {
	data    []byte
	off     int
	cur     Element
	started bool
	err     error
}

// NewElementIterator returns an iterator over data.
func NewElementIterator(data []byte) *ElementIterator {
	return &ElementIterator{data: data}
}

// Next advances to the next element. It returns false at the end of the
// input or when the input is malformed; check Err afterwards.
func (it *ElementIterator) Next() bool {
	if it.err != nil || it.off == len(it.data) {
		return false
	}
	rest := it.data[it.off:]
	if len(rest) < ElementHeaderSize {
		it.err = malformed("blob map", "truncated header at offset %d", it.off)
		return false
	}
	key := binary.LittleEndian.Uint64(rest)
	size := int32(binary.LittleEndian.Uint32(rest[8:]))
	if it.started && key <= it.cur.Key {
		it.err = malformed("blob map", "key %d at offset %d does not follow %d", key, it.off, it.cur.Key)
		return false
	}

	e := Element{Key: key}
	n := ElementHeaderSize
	if size < 0 {
		e.Tombstone = true
	} else {
		if int64(size) > int64(len(rest)-ElementHeaderSize) {
			it.err = malformed("blob map", "value of %d bytes at offset %d overruns input", size, it.off)
			return false
		}
		n += int(size)
		e.Value = rest[ElementHeaderSize:n:n]
	}

	it.cur = e
	it.started = true
	it.off += n
	return true
}

// Element returns the current element.
func (it *ElementIterator) Element() Element { return it.cur }

// Err returns the first decoding error.
func (it *ElementIterator) Err() error { return it.err }

// DecodeElements decodes and validates a whole blob map.
func DecodeElements(data []byte) ([]Element, error) {
	var out []Element
	it := NewElementIterator(data)
	for it.Next() {
		out = append(out, it.Element())
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
