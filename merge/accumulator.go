package merge

import (
	"encoding/binary"

	"github.com/hupe1980/kvingest/codec"
)

// AccumulatorOperatorName is the persisted name of AccumulatorOperator.
const AccumulatorOperatorName = "uint64-add"

// AccumulatorOperator sums 8-byte little-endian deltas into an 8-byte
// little-endian counter. An absent counter starts at zero. Sums wrap.
//
// It has no partial merge: operands are only ever summed by FullMerge.
type AccumulatorOperator struct{}

var _ Operator = AccumulatorOperator{}

// Name implements Operator.
func (AccumulatorOperator) Name() string { return AccumulatorOperatorName }

// FullMerge returns existing plus every operand.
func (AccumulatorOperator) FullMerge(_, existing []byte, operands [][]byte) ([]byte, error) {
	var sum uint64
	if existing != nil {
		v, err := DecodeCounter(existing)
		if err != nil {
			return nil, err
		}
		sum = v
	}
	for _, raw := range operands {
		d, err := DecodeCounter(raw)
		if err != nil {
			return nil, err
		}
		sum += d
	}
	return EncodeCounter(sum), nil
}

// PartialMerge always declines.
func (AccumulatorOperator) PartialMerge(_, _, _ []byte) ([]byte, bool) {
	return nil, false
}

// EncodeCounter encodes a counter value or delta.
func EncodeCounter(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), v)
}

// DecodeCounter decodes a counter value or delta.
func DecodeCounter(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, &codec.MalformedError{Kind: "counter", Reason: "length is not 8"}
	}
	return binary.LittleEndian.Uint64(b), nil
}
