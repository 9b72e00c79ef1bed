package merge

import (
	"github.com/hupe1980/kvingest/codec"
)

// BlobMapOperatorName is the persisted name of BlobMapOperator.
const BlobMapOperatorName = "uint64-blob-map"

// BlobMapOperator merges ordered u64 → bytes maps with tombstone deletes.
//
// Operands are packed codec.Element sequences. A later element for a key
// replaces an earlier one. Tombstones survive partial merges and are only
// dropped by FullMerge, because a partial merge cannot know whether an older
// value still holds the key.
type BlobMapOperator struct{}

var (
	_ Operator    = BlobMapOperator{}
	_ MultiMerger = BlobMapOperator{}
)

// Name implements Operator.
func (BlobMapOperator) Name() string { return BlobMapOperatorName }

// FullMerge applies operands to existing and emits the live elements in
// ascending key order. existing must not contain tombstones.
func (BlobMapOperator) FullMerge(_, existing []byte, operands [][]byte) ([]byte, error) {
	state, err := codec.DecodeElements(existing)
	if err != nil {
		return nil, err
	}
	for _, e := range state {
		if e.Tombstone {
			return nil, &codec.MalformedError{Kind: "blob map", Reason: "base value contains a tombstone"}
		}
	}

	for _, raw := range operands {
		next, err := codec.DecodeElements(raw)
		if err != nil {
			return nil, err
		}
		state = overlay(state, next)
	}

	live := state[:0:0]
	for _, e := range state {
		if !e.Tombstone {
			live = append(live, e)
		}
	}
	return codec.EncodeElements(live), nil
}

// PartialMerge returns the override union of left and right, keeping
// tombstones.
func (op BlobMapOperator) PartialMerge(key, left, right []byte) ([]byte, bool) {
	return op.PartialMergeMulti(key, [][]byte{left, right})
}

// PartialMergeMulti folds operands, oldest first, into one override union.
func (BlobMapOperator) PartialMergeMulti(_ []byte, operands [][]byte) ([]byte, bool) {
	var state []codec.Element
	for _, raw := range operands {
		next, err := codec.DecodeElements(raw)
		if err != nil {
			return nil, false
		}
		state = overlay(state, next)
	}
	return codec.EncodeElements(state), true
}

// overlay merges two key-ordered element lists; on equal keys newer wins.
func overlay(older, newer []codec.Element) []codec.Element {
	if len(older) == 0 {
		return newer
	}
	if len(newer) == 0 {
		return older
	}

	out := make([]codec.Element, 0, len(older)+len(newer))
	i, j := 0, 0
	for i < len(older) && j < len(newer) {
		switch {
		case older[i].Key < newer[j].Key:
			out = append(out, older[i])
			i++
		case newer[j].Key < older[i].Key:
			out = append(out, newer[j])
			j++
		default:
			out = append(out, newer[j])
			i++
			j++
		}
	}
	out = append(out, older[i:]...)
	return append(out, newer[j:]...)
}
