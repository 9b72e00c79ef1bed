package merge

import (
	"math/rand/v2"
	"testing"

	"github.com/RoaringBitmap/roaring/v2/roaring64"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/kvingest/codec"
)

func decodeBitmap(value []byte) (*roaring64.Bitmap, error) {
	vals, err := codec.DecodeSet(value)
	if err != nil {
		return nil, err
	}
	bm := roaring64.New()
	bm.AddMany(vals)
	return bm, nil
}

func decodeSet(t *testing.T, b []byte) []uint64 {
	t.Helper()
	vals, err := codec.DecodeSet(b)
	require.NoError(t, err)
	return vals
}

func TestSetOperator_FullMerge(t *testing.T) {
	op := SetOperator{}
	base := codec.EncodeUint64s([]uint64{5, 6, 7})

	out, err := op.FullMerge(nil, base, [][]byte{
		codec.SetDelta{Add: []uint64{1, 2, 3}, Del: []uint64{4, 5}}.Encode(),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2, 3, 6, 7}, decodeSet(t, out))

	out, err = op.FullMerge(nil, out, [][]byte{
		codec.SetDelta{Add: []uint64{2, 5}, Del: []uint64{1, 4, 7}}.Encode(),
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2, 3, 5, 6}, decodeSet(t, out))
}

func TestSetOperator_SingleOperands(t *testing.T) {
	op := SetOperator{}

	out, err := op.FullMerge(nil, codec.EncodeUint64s([]uint64{5}), [][]byte{codec.SingleAdd(7)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{5, 7}, decodeSet(t, out))

	out, err = op.FullMerge(nil, out, [][]byte{codec.SingleDelete(5)})
	require.NoError(t, err)
	assert.Equal(t, []uint64{7}, decodeSet(t, out))

	out, err = op.FullMerge(nil, nil, [][]byte{codec.SingleDelete(5)})
	require.NoError(t, err)
	assert.Empty(t, decodeSet(t, out))
}

func TestSetOperator_MalformedOperand(t *testing.T) {
	op := SetOperator{}

	_, err := op.FullMerge(nil, nil, [][]byte{{1, 2, 3}})
	assert.ErrorIs(t, err, codec.ErrMalformedOperand)

	_, err = op.FullMerge(nil, codec.EncodeUint64s([]uint64{3, 1}), nil)
	assert.ErrorIs(t, err, codec.ErrMalformedOperand)

	_, ok := op.PartialMerge(nil, []byte{1}, codec.SingleAdd(1))
	assert.False(t, ok)
}

func TestSetOperator_PartialMerge(t *testing.T) {
	op := SetOperator{}
	left := codec.SetDelta{Add: []uint64{1, 2}, Del: []uint64{3, 4}}.Encode()
	right := codec.SetDelta{Add: []uint64{4, 5}, Del: []uint64{2, 6}}.Encode()

	merged, ok := op.PartialMerge(nil, left, right)
	require.True(t, ok)

	d, err := codec.DecodeSetDelta(merged)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 4, 5}, d.Add)
	assert.Equal(t, []uint64{2, 3, 6}, d.Del)
}

func randomDelta(r *rand.Rand, universe uint64) (codec.SetDelta, *roaring64.Bitmap, *roaring64.Bitmap) {
	add, del := roaring64.New(), roaring64.New()
	for range r.IntN(8) {
		add.Add(r.Uint64N(universe))
	}
	for range r.IntN(8) {
		del.Add(r.Uint64N(universe))
	}
	// Overlapping add/del are legal operands; add wins when applied.
	return codec.SetDelta{Add: add.ToArray(), Del: del.ToArray()}, add, del
}

// Every bracketing of partial merges folded into a full merge must equal the
// sequential full merge, which in turn must match a bitmap oracle.
func TestSetOperator_PartialMergeAssociativity(t *testing.T) {
	op := SetOperator{}
	r := rand.New(rand.NewPCG(7, 11))

	for range 500 {
		oracle := roaring64.New()
		for range r.IntN(10) {
			oracle.Add(r.Uint64N(32))
		}
		base := EncodeBitmap(oracle)

		var ops [][]byte
		for range 3 {
			d, add, del := randomDelta(r, 32)
			oracle.AndNot(del)
			oracle.Or(add)
			ops = append(ops, d.Encode())
		}

		sequential, err := op.FullMerge(nil, base, ops)
		require.NoError(t, err)
		assert.Equal(t, oracle.ToArray(), decodeSet(t, sequential))

		l, ok := op.PartialMerge(nil, ops[0], ops[1])
		require.True(t, ok)
		leftAssoc, ok := op.PartialMerge(nil, l, ops[2])
		require.True(t, ok)

		rr, ok := op.PartialMerge(nil, ops[1], ops[2])
		require.True(t, ok)
		rightAssoc, ok := op.PartialMerge(nil, ops[0], rr)
		require.True(t, ok)

		for _, operands := range [][][]byte{
			{leftAssoc},
			{rightAssoc},
			{l, ops[2]},
			{ops[0], rr},
		} {
			got, err := op.FullMerge(nil, base, operands)
			require.NoError(t, err)
			assert.Equal(t, sequential, got)
		}

		multi, ok := PartialMergeMulti(op, nil, ops)
		require.True(t, ok)
		got, err := op.FullMerge(nil, base, [][]byte{multi})
		require.NoError(t, err)
		assert.Equal(t, sequential, got)
	}
}

func TestBitmapHelpers(t *testing.T) {
	bm, err := decodeBitmap(codec.EncodeUint64s([]uint64{1, 9, 1 << 40}))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), bm.GetCardinality())
	assert.True(t, bm.Contains(1<<40))

	assert.Equal(t, codec.EncodeUint64s([]uint64{1, 9, 1 << 40}), EncodeBitmap(bm))
	assert.Nil(t, EncodeBitmap(nil))

	d := DeltaFromBitmaps(roaring64.BitmapOf(1, 2), roaring64.BitmapOf(2, 3))
	assert.Equal(t, []uint64{1, 2}, d.Add)
	assert.Equal(t, []uint64{3}, d.Del)
}
