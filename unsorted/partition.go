package unsorted

// Block is the half-open record range [Start, End) emitted into one file.
type Block struct {
	Start int
	End   int
}

// Len returns the number of records in the block.
func (b Block) Len() int { return b.End - b.Start }

// Partition cuts sorted recs into consecutive blocks of about target
// records. A block is extended past target until the key changes, so no
// key spans two blocks. A block that reaches the end of recs takes the
// remainder. A non-positive target yields a single block.
func Partition(recs []Record, target int) []Block {
	if len(recs) == 0 {
		return nil
	}
	if target <= 0 {
		target = len(recs)
	}

	blocks := make([]Block, 0, (len(recs)+target-1)/target)
	for start := 0; start < len(recs); {
		end := len(recs)
		if len(recs)-start > target {
			end = start + target
			for end < len(recs) && recs[end-1].Key == recs[end].Key {
				end++
			}
		}
		blocks = append(blocks, Block{Start: start, End: end})
		start = end
	}
	return blocks
}

// BlockRecords converts a target block size in bytes to records, rounding
// up to whole records.
func BlockRecords(targetBytes int64) int {
	if targetBytes <= 0 {
		return 0
	}
	return int((targetBytes + RecordSize - 1) / RecordSize)
}
