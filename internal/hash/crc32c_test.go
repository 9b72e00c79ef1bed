package hash

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCRC32C_KnownVector(t *testing.T) {
	assert.Equal(t, uint32(0xE3069283), CRC32C([]byte("123456789")))
	assert.Equal(t, uint32(0), CRC32C(nil))
}

func TestWriter_MatchesOneShot(t *testing.T) {
	data := strings.Repeat("bulk-load file ", 1000)

	var dst bytes.Buffer
	w := NewWriter(&dst)
	n, err := io.Copy(w, strings.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, int64(len(data)), n)
	assert.Equal(t, int64(len(data)), w.Count())
	assert.Equal(t, CRC32C([]byte(data)), w.Sum32())
	assert.Equal(t, data, dst.String())
}
