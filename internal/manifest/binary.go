package manifest

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/hupe1980/kvingest/internal/compress"
	"github.com/hupe1980/kvingest/internal/hash"
)

const (
	binaryMagic   = 0x4B56494E // "KVIN"
	binaryVersion = 1
	headerSize    = 16

	maxPayloadSize = 256 << 20
)

// WriteBinary writes the manifest in binary format.
func (m *Manifest) WriteBinary(w io.Writer) error {
	pb := newPayloadBuffer(make([]byte, 0, 64+len(m.Files)*96))

	pb.writeUint64(m.ID)
	pb.writeUint64(uint64(m.CreatedAt.UnixNano()))
	pb.writeString(m.Operator)
	pb.writeUint32(uint32(len(m.Files)))

	for _, f := range m.Files {
		pb.writeString(f.Name)
		pb.writeUint64(uint64(f.Size))
		pb.writeUint64(uint64(f.StoredSize))
		pb.writeUint8(uint8(f.Compression))
		pb.writeUint32(f.CRC32C)
		pb.writeBytes(f.Smallest)
		pb.writeBytes(f.Largest)
		pb.writeUint64(f.Puts)
		pb.writeUint64(f.Merges)
		pb.writeUint64(f.Deletes)
	}

	if pb.err != nil {
		return pb.err
	}

	payload := pb.buf
	header := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(header[0:4], binaryMagic)
	binary.LittleEndian.PutUint32(header[4:8], binaryVersion)
	binary.LittleEndian.PutUint32(header[8:12], hash.CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadBinary reads a manifest written by WriteBinary.
func ReadBinary(r io.Reader) (*Manifest, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	if magic := binary.LittleEndian.Uint32(header[0:4]); magic != binaryMagic {
		return nil, fmt.Errorf("%w: invalid magic %x", ErrCorrupt, magic)
	}
	version := binary.LittleEndian.Uint32(header[4:8])
	if version != binaryVersion {
		return nil, fmt.Errorf("%w: %d", ErrIncompatibleVersion, version)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])
	if length > maxPayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes", ErrCorrupt, length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if hash.CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	pb := newPayloadBuffer(payload)
	m := &Manifest{Version: int(version)}

	m.ID = pb.readUint64()
	m.CreatedAt = time.Unix(0, int64(pb.readUint64()))
	m.Operator = pb.readString()

	n := pb.readUint32()
	if uint64(n) > uint64(len(payload)) {
		return nil, fmt.Errorf("%w: %d files", ErrCorrupt, n)
	}
	m.Files = make([]FileInfo, n)
	for i := range m.Files {
		f := &m.Files[i]
		f.Name = pb.readString()
		f.Size = int64(pb.readUint64())
		f.StoredSize = int64(pb.readUint64())
		f.Compression = compress.Type(pb.readUint8())
		f.CRC32C = pb.readUint32()
		f.Smallest = pb.readBytes()
		f.Largest = pb.readBytes()
		f.Puts = pb.readUint64()
		f.Merges = pb.readUint64()
		f.Deletes = pb.readUint64()
	}

	if pb.err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, pb.err)
	}
	return m, nil
}

type payloadBuffer struct {
	buf []byte
	pos int
	err error
}

func newPayloadBuffer(b []byte) *payloadBuffer {
	return &payloadBuffer{buf: b}
}

func (p *payloadBuffer) writeUint8(v uint8) {
	if p.err != nil {
		return
	}
	p.buf = append(p.buf, v)
}

func (p *payloadBuffer) writeUint32(v uint32) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, v)
}

func (p *payloadBuffer) writeUint64(v uint64) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint64(p.buf, v)
}

func (p *payloadBuffer) writeString(s string) {
	if p.err != nil {
		return
	}
	if len(s) > 65535 {
		p.err = fmt.Errorf("string too long: %d", len(s))
		return
	}
	p.buf = binary.LittleEndian.AppendUint16(p.buf, uint16(len(s)))
	p.buf = append(p.buf, s...)
}

func (p *payloadBuffer) writeBytes(b []byte) {
	if p.err != nil {
		return
	}
	p.buf = binary.LittleEndian.AppendUint32(p.buf, uint32(len(b)))
	p.buf = append(p.buf, b...)
}

func (p *payloadBuffer) next(n int) []byte {
	if p.err != nil {
		return nil
	}
	if n < 0 || p.pos+n > len(p.buf) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	b := p.buf[p.pos : p.pos+n]
	p.pos += n
	return b
}

func (p *payloadBuffer) readUint8() uint8 {
	b := p.next(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (p *payloadBuffer) readUint32() uint32 {
	b := p.next(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (p *payloadBuffer) readUint64() uint64 {
	b := p.next(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (p *payloadBuffer) readString() string {
	b := p.next(2)
	if b == nil {
		return ""
	}
	return string(p.next(int(binary.LittleEndian.Uint16(b))))
}

func (p *payloadBuffer) readBytes() []byte {
	b := p.next(4)
	if b == nil {
		return nil
	}
	n := binary.LittleEndian.Uint32(b)
	if uint64(n) > uint64(len(p.buf)) {
		p.err = io.ErrUnexpectedEOF
		return nil
	}
	v := p.next(int(n))
	if len(v) == 0 {
		return nil
	}
	return append([]byte(nil), v...)
}
