package compress

import (
	"bytes"
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compressible(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i / 64 % 7)
	}
	return data
}

func incompressible(n int) []byte {
	rng := rand.New(rand.NewPCG(1, 2))
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(rng.Uint32())
	}
	return data
}

func TestWriterReader_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty":          nil,
		"small":          []byte("hello"),
		"compressible":   compressible(3*DefaultBlockSize + 17),
		"incompressible": incompressible(DefaultBlockSize + 5),
	}

	for _, typ := range []Type{None, LZ4, ZSTD} {
		for name, data := range inputs {
			t.Run(typ.String()+"/"+name, func(t *testing.T) {
				var framed bytes.Buffer
				w := NewWriter(&framed, typ, 0)
				n, err := w.Write(data)
				require.NoError(t, err)
				assert.Equal(t, len(data), n)
				require.NoError(t, w.Close())
				assert.Equal(t, int64(framed.Len()), w.Written())

				got, err := io.ReadAll(NewReader(&framed, typ))
				require.NoError(t, err)
				assert.True(t, bytes.Equal(data, got))
			})
		}
	}
}

func TestWriter_CompressesRepetitiveData(t *testing.T) {
	data := compressible(DefaultBlockSize)
	for _, typ := range []Type{LZ4, ZSTD} {
		var framed bytes.Buffer
		w := NewWriter(&framed, typ, 0)
		_, err := w.Write(data)
		require.NoError(t, err)
		require.NoError(t, w.Close())
		assert.Less(t, framed.Len(), len(data)/2, typ.String())
	}
}

func TestWriter_KeepsIncompressibleBlocksRaw(t *testing.T) {
	data := incompressible(1000)
	var framed bytes.Buffer
	w := NewWriter(&framed, ZSTD, 0)
	_, err := w.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.Equal(t, blockHeaderSize+len(data), framed.Len())
	assert.Equal(t, data, framed.Bytes()[blockHeaderSize:])
}

func TestWriter_SmallBlocksAndPartialWrites(t *testing.T) {
	data := compressible(10_000)
	var framed bytes.Buffer
	w := NewWriter(&framed, LZ4, 1024)
	for i := 0; i < len(data); i += 333 {
		_, err := w.Write(data[i:min(i+333, len(data))])
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	got, err := io.ReadAll(NewReader(&framed, LZ4))
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestReader_Corrupt(t *testing.T) {
	var framed bytes.Buffer
	w := NewWriter(&framed, ZSTD, 0)
	_, err := w.Write(compressible(5000))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	truncated := framed.Bytes()[:framed.Len()-3]
	_, err = io.ReadAll(NewReader(bytes.NewReader(truncated), ZSTD))
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = io.ReadAll(NewReader(bytes.NewReader([]byte{1, 2, 3}), LZ4))
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseType(t *testing.T) {
	for _, typ := range []Type{None, LZ4, ZSTD} {
		got, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
	}
	got, err := ParseType("")
	require.NoError(t, err)
	assert.Equal(t, None, got)

	_, err = ParseType("brotli")
	assert.ErrorIs(t, err, ErrUnknownType)
	assert.Equal(t, "Type(9)", Type(9).String())
}
