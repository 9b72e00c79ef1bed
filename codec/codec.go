// Package codec centralizes the binary layouts shared by the merge operators
// and the bulk-load writers.
//
// All multi-byte integers inside values and operands are little-endian.
// Engine keys are big-endian so that bytewise key order equals numeric order.
//
// Layouts:
//
//	raw set value   [v0 u64][v1 u64]...                 strictly ascending
//	set delta       [add_count u64][del_count u64][add...][del...]
//	blob map        [key u64][value_size i32][value...]... strictly ascending keys,
//	                negative value_size marks a tombstone without payload
//
// Changing any of these is a breaking change for files already written.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// KeySize is the encoded size of an engine key.
const KeySize = 8

// ErrMalformedOperand is returned when a value or operand violates its
// size or ordering invariants.
var ErrMalformedOperand = errors.New("codec: malformed operand")

// MalformedError describes why an encoded value was rejected.
//
// It matches ErrMalformedOperand with errors.Is.
type MalformedError struct {
	Kind   string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("codec: malformed %s: %s", e.Kind, e.Reason)
}

// Is reports whether target is ErrMalformedOperand.
func (e *MalformedError) Is(target error) bool { return target == ErrMalformedOperand }

func malformed(kind, format string, args ...any) error {
	return &MalformedError{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// EncodeKey returns the big-endian engine key for k.
func EncodeKey(k uint64) []byte {
	return AppendKey(make([]byte, 0, KeySize), k)
}

// AppendKey appends the big-endian engine key for k to dst.
func AppendKey(dst []byte, k uint64) []byte {
	return binary.BigEndian.AppendUint64(dst, k)
}

// DecodeKey parses a big-endian engine key.
func DecodeKey(b []byte) (uint64, error) {
	if len(b) != KeySize {
		return 0, malformed("key", "length %d, want %d", len(b), KeySize)
	}
	return binary.BigEndian.Uint64(b), nil
}
