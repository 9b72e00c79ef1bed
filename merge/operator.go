// Package merge implements the merge operators the storage engine invokes
// when it reads or compacts keys that carry merge operands.
//
// An operator defines how a delta ("operand") is applied to a stored value:
//
//	FullMerge(existing, [o1, o2, ...]) -> value
//	PartialMerge(o1, o2)               -> operand, ok
//
// Every operator that supports partial merging satisfies
//
//	FullMerge(base, [PartialMerge(o1, o2)] + rest) == FullMerge(base, [o1, o2] + rest)
//
// so operands may be combined pairwise in any bracketing before they reach
// a base value.
//
// Operators are passed to the engine explicitly through a Registry at open
// time; nothing registers itself globally.
package merge

// Operator is the merge operator contract.
//
// Implementations must be safe for concurrent use.
type Operator interface {
	// Name identifies the operator. It is persisted in bulk-load files and
	// must not change once data has been written.
	Name() string

	// FullMerge applies operands, oldest first, to existing. A nil existing
	// value means the key is absent.
	FullMerge(key, existing []byte, operands [][]byte) ([]byte, error)

	// PartialMerge combines two adjacent operands, left being the older.
	// ok is false when the operator cannot combine them; both operands must
	// then be kept.
	PartialMerge(key, left, right []byte) (merged []byte, ok bool)
}

// MultiMerger is implemented by operators that can combine a whole operand
// list more efficiently than a pairwise fold.
type MultiMerger interface {
	PartialMergeMulti(key []byte, operands [][]byte) (merged []byte, ok bool)
}

// PartialMergeMulti combines operands, oldest first, into a single operand.
//
// A single operand is returned unchanged. ok is false when operands is empty
// or the operator refuses any of the pairwise steps.
func PartialMergeMulti(op Operator, key []byte, operands [][]byte) ([]byte, bool) {
	switch len(operands) {
	case 0:
		return nil, false
	case 1:
		return operands[0], true
	}

	if mm, ok := op.(MultiMerger); ok {
		return mm.PartialMergeMulti(key, operands)
	}

	acc := operands[0]
	for _, next := range operands[1:] {
		merged, ok := op.PartialMerge(key, acc, next)
		if !ok {
			return nil, false
		}
		acc = merged
	}
	return acc, true
}
