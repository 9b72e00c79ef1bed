package merge

import (
	"github.com/RoaringBitmap/roaring/v2/roaring64"

	"github.com/hupe1980/kvingest/codec"
)

// SetOperatorName is the persisted name of SetOperator.
const SetOperatorName = "uint64-set"

// SetOperator merges codec.SetDelta operands into sorted u64 set values.
type SetOperator struct{}

var _ Operator = SetOperator{}

// Name implements Operator.
func (SetOperator) Name() string { return SetOperatorName }

// FullMerge applies each delta in order: state = (state - del) ∪ add.
func (SetOperator) FullMerge(_, existing []byte, operands [][]byte) ([]byte, error) {
	state, err := codec.DecodeSet(existing)
	if err != nil {
		return nil, err
	}
	for _, raw := range operands {
		d, err := codec.DecodeSetDelta(raw)
		if err != nil {
			return nil, err
		}
		state = d.Apply(state)
	}
	return codec.EncodeUint64s(state), nil
}

// PartialMerge combines two deltas:
//
//	add = (left.add - right.del) ∪ right.add
//	del = (left.del - right.add) ∪ right.del
func (SetOperator) PartialMerge(_, left, right []byte) ([]byte, bool) {
	l, err := codec.DecodeSetDelta(left)
	if err != nil {
		return nil, false
	}
	r, err := codec.DecodeSetDelta(right)
	if err != nil {
		return nil, false
	}
	return CombineSetDeltas(l, r).Encode(), true
}

// CombineSetDeltas returns the delta equivalent to applying l then r.
func CombineSetDeltas(l, r codec.SetDelta) codec.SetDelta {
	add := codec.Difference(make([]uint64, 0, len(l.Add)), l.Add, r.Del)
	del := codec.Difference(make([]uint64, 0, len(l.Del)), l.Del, r.Add)
	return codec.SetDelta{
		Add: codec.Union(make([]uint64, 0, len(add)+len(r.Add)), add, r.Add),
		Del: codec.Union(make([]uint64, 0, len(del)+len(r.Del)), del, r.Del),
	}
}

// EncodeBitmap encodes bm as a set value.
func EncodeBitmap(bm *roaring64.Bitmap) []byte {
	if bm == nil {
		return nil
	}
	return codec.EncodeUint64s(bm.ToArray())
}

// DeltaFromBitmaps builds a delta adding every member of add and deleting
// every member of del that add does not contain.
func DeltaFromBitmaps(add, del *roaring64.Bitmap) codec.SetDelta {
	var d codec.SetDelta
	if add != nil {
		d.Add = add.ToArray()
	}
	if del != nil {
		if add != nil {
			del = roaring64.AndNot(del, add)
		}
		d.Del = del.ToArray()
	}
	return d
}
