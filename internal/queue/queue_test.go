package queue

import (
	"math/rand/v2"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeap_PopsInOrder(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 1))
	h := NewMin(0, func(a, b int) bool { return a < b })

	var want []int
	for range 500 {
		v := r.IntN(100)
		want = append(want, v)
		h.Push(v)
	}
	slices.Sort(want)

	var got []int
	for h.Len() > 0 {
		v, ok := h.Pop()
		require.True(t, ok)
		got = append(got, v)
	}
	assert.Equal(t, want, got)

	_, ok := h.Pop()
	assert.False(t, ok)
	_, ok = h.Top()
	assert.False(t, ok)
}

func TestHeap_ReplaceTop(t *testing.T) {
	h := NewMin(4, func(a, b int) bool { return a < b })
	for _, v := range []int{5, 1, 3} {
		h.Push(v)
	}

	top, _ := h.Top()
	assert.Equal(t, 1, top)

	h.ReplaceTop(9)
	top, _ = h.Top()
	assert.Equal(t, 3, top)
	assert.Equal(t, 3, h.Len())

	h.Reset()
	assert.Equal(t, 0, h.Len())
	h.ReplaceTop(2)
	top, _ = h.Top()
	assert.Equal(t, 2, top)
}
