package unsorted

import (
	"fmt"

	"github.com/hupe1980/kvingest/bulk"
	"github.com/hupe1980/kvingest/codec"
)

// Mode selects how a key's values reach the engine.
type Mode uint8

const (
	// ModeMerge emits add-only set operands that are merged with whatever
	// the engine already holds.
	ModeMerge Mode = iota
	// ModePut emits the collected values as the full set. Only valid when
	// the target key space is known to be empty.
	ModePut
)

func (m Mode) String() string {
	switch m {
	case ModeMerge:
		return "merge"
	case ModePut:
		return "put"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Combiner emits sorted set records one key at a time. It reuses its
// buffers between keys and is not safe for concurrent use.
type Combiner struct {
	mode   Mode
	values []uint64
	key    [codec.KeySize]byte
	buf    []byte
}

// NewCombiner returns a Combiner for mode.
func NewCombiner(mode Mode) *Combiner {
	return &Combiner{mode: mode}
}

// AppendKey writes the key at the front of sorted recs to w, collapsing
// equal values, and returns the number of records consumed.
func (c *Combiner) AppendKey(w bulk.Writer, recs []Record) (int, error) {
	n := KeyRun(recs)
	if n == 0 {
		return 0, nil
	}

	c.values = c.values[:0]
	for i, r := range recs[:n] {
		if i > 0 && r.Value == recs[i-1].Value {
			continue
		}
		c.values = append(c.values, r.Value)
	}

	key := codec.AppendKey(c.key[:0], recs[0].Key)
	switch c.mode {
	case ModePut:
		c.buf = codec.AppendUint64s(c.buf[:0], c.values)
		return n, w.Put(key, c.buf)
	default:
		c.buf = codec.SetDelta{Add: c.values}.AppendTo(c.buf[:0])
		return n, w.Merge(key, c.buf)
	}
}

// AppendAll writes every key of sorted recs to w.
func (c *Combiner) AppendAll(w bulk.Writer, recs []Record) error {
	for len(recs) > 0 {
		n, err := c.AppendKey(w, recs)
		if err != nil {
			return err
		}
		recs = recs[n:]
	}
	return nil
}
