// Package compress frames published bulk-load files into independently
// compressed blocks.
//
// Each block is stored as
//
//	[uncompressed size u32][stored size u32][data]
//
// with little-endian sizes. A stored size of 0 marks a block kept raw
// because compression saved less than 10%.
package compress

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type identifies the block compression algorithm.
type Type uint8

const (
	// None stores files unframed.
	None Type = 0
	// LZ4 is fast block compression.
	LZ4 Type = 1
	// ZSTD trades speed for a better ratio.
	ZSTD Type = 2
)

// DefaultBlockSize is the uncompressed size of a block.
const DefaultBlockSize = 256 * 1024

const (
	blockHeaderSize = 8
	maxBlockSize    = 64 << 20
)

var (
	// ErrCorrupt is returned for malformed framed data.
	ErrCorrupt = errors.New("compress: corrupt block")
	// ErrUnknownType is returned for an unsupported compression type.
	ErrUnknownType = errors.New("compress: unknown type")
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType parses a type name as returned by String.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(s) {
	case "", "none":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return ZSTD, nil
	default:
		return None, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil)
	return dec
}

// appendBlock appends the framed form of data to dst.
func appendBlock(dst, data []byte, t Type) ([]byte, error) {
	var compressed []byte
	switch t {
	case LZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, err
		}
		compressed = buf[:n]
	case ZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
	}

	raw := len(compressed) == 0 || float64(len(compressed)) > float64(len(data))*0.9

	var hdr [blockHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:], uint32(len(data)))
	if raw {
		dst = append(dst, hdr[:]...)
		return append(dst, data...), nil
	}
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(compressed)))
	dst = append(dst, hdr[:]...)
	return append(dst, compressed...), nil
}

func decodeBlock(dst, stored []byte, size uint32, t Type) ([]byte, error) {
	switch t {
	case LZ4:
		dst = dst[:size]
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(n) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return dst, nil
	case ZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(stored, dst[:0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != size {
			return nil, fmt.Errorf("%w: size mismatch", ErrCorrupt)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, t)
	}
}

// Writer compresses everything written to it block by block. With type
// None it passes writes through unchanged.
type Writer struct {
	w         io.Writer
	t         Type
	blockSize int
	buf       []byte
	out       []byte
	written   int64
	err       error
}

// NewWriter creates a Writer. A blockSize <= 0 selects DefaultBlockSize.
func NewWriter(w io.Writer, t Type, blockSize int) *Writer {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Writer{
		w:         w,
		t:         t,
		blockSize: blockSize,
	}
}

// Write implements io.Writer.
func (c *Writer) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.t == None {
		n, err := c.w.Write(p)
		c.written += int64(n)
		c.err = err
		return n, err
	}

	total := 0
	for len(p) > 0 {
		if c.buf == nil {
			c.buf = make([]byte, 0, c.blockSize)
		}
		n := min(c.blockSize-len(c.buf), len(p))
		c.buf = append(c.buf, p[:n]...)
		total += n
		p = p[n:]
		if len(c.buf) == c.blockSize {
			if err := c.flush(); err != nil {
				return total, err
			}
		}
	}
	return total, nil
}

func (c *Writer) flush() error {
	if len(c.buf) == 0 {
		return nil
	}
	out, err := appendBlock(c.out[:0], c.buf, c.t)
	if err != nil {
		c.err = err
		return err
	}
	c.out = out
	n, err := c.w.Write(out)
	c.written += int64(n)
	if err != nil {
		c.err = err
		return err
	}
	c.buf = c.buf[:0]
	return nil
}

// Close flushes the last block. It does not close the underlying writer.
func (c *Writer) Close() error {
	if c.err != nil {
		return c.err
	}
	return c.flush()
}

// Written returns the number of bytes written to the underlying writer.
func (c *Writer) Written() int64 { return c.written }

// Reader decompresses framed data written by Writer.
type Reader struct {
	r   *bufio.Reader
	t   Type
	buf []byte
	in  []byte
	pos int
	err error
}

// NewReader returns a reader of the uncompressed contents of r. With type
// None it returns r itself.
func NewReader(r io.Reader, t Type) io.Reader {
	if t == None {
		return r
	}
	return &Reader{r: bufio.NewReader(r), t: t}
}

// Read implements io.Reader.
func (c *Reader) Read(p []byte) (int, error) {
	for c.pos == len(c.buf) {
		if c.err != nil {
			return 0, c.err
		}
		if err := c.next(); err != nil {
			c.buf, c.pos = c.buf[:0], 0
			c.err = err
		}
	}
	n := copy(p, c.buf[c.pos:])
	c.pos += n
	return n, nil
}

func (c *Reader) next() error {
	var hdr [blockHeaderSize]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: truncated header", ErrCorrupt)
	}
	size := binary.LittleEndian.Uint32(hdr[0:])
	stored := binary.LittleEndian.Uint32(hdr[4:])
	if size > maxBlockSize || stored > maxBlockSize {
		return fmt.Errorf("%w: block of %d bytes", ErrCorrupt, max(size, stored))
	}

	if cap(c.buf) < int(size) {
		c.buf = make([]byte, size)
	}
	c.buf = c.buf[:size]
	c.pos = 0

	if stored == 0 {
		if _, err := io.ReadFull(c.r, c.buf); err != nil {
			return fmt.Errorf("%w: truncated block", ErrCorrupt)
		}
		return nil
	}

	if cap(c.in) < int(stored) {
		c.in = make([]byte, stored)
	}
	c.in = c.in[:stored]
	if _, err := io.ReadFull(c.r, c.in); err != nil {
		return fmt.Errorf("%w: truncated block", ErrCorrupt)
	}
	out, err := decodeBlock(c.buf, c.in, size, c.t)
	if err != nil {
		return err
	}
	c.buf = out
	return nil
}
