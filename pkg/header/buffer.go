package header

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrShortBuffer is returned when a Reader has fewer bytes than a field needs.
var ErrShortBuffer = errors.New("header: insufficient data in buffer")

// Buffer appends big-endian fields. Integer fields written through
// WriteUInteger and friends honour the varint setting.
type Buffer struct {
	data   []byte
	varint bool
}

// NewBuffer returns a Buffer pre-allocated with the given capacity.
func NewBuffer(capacity int, varint bool) *Buffer {
	return &Buffer{data: make([]byte, 0, capacity), varint: varint}
}

// Bytes returns the accumulated encoded bytes.
func (b *Buffer) Bytes() []byte { return b.data }

// Len returns the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// WriteUint8 appends a single byte.
func (b *Buffer) WriteUint8(v uint8) { b.data = append(b.data, v) }

// WriteUint16 appends a 16-bit unsigned integer.
func (b *Buffer) WriteUint16(v uint16) { b.data = binary.BigEndian.AppendUint16(b.data, v) }

// WriteUint32 appends a 32-bit unsigned integer.
func (b *Buffer) WriteUint32(v uint32) { b.data = binary.BigEndian.AppendUint32(b.data, v) }

// WriteUint64 appends a 64-bit unsigned integer.
func (b *Buffer) WriteUint64(v uint64) { b.data = binary.BigEndian.AppendUint64(b.data, v) }

// WriteRaw appends p unchanged.
func (b *Buffer) WriteRaw(p []byte) { b.data = append(b.data, p...) }

// WriteUInteger appends a MAL UInteger: 4 bytes fixed or an unsigned varint.
func (b *Buffer) WriteUInteger(v uint32) {
	if b.varint {
		b.data = binary.AppendUvarint(b.data, uint64(v))
		return
	}
	b.WriteUint32(v)
}

// WriteUShort appends a MAL UShort: 2 bytes fixed or an unsigned varint.
func (b *Buffer) WriteUShort(v uint16) {
	if b.varint {
		b.data = binary.AppendUvarint(b.data, uint64(v))
		return
	}
	b.WriteUint16(v)
}

// WriteString appends a UInteger length followed by the UTF-8 bytes.
func (b *Buffer) WriteString(s string) {
	b.WriteUInteger(uint32(len(s)))
	b.data = append(b.data, s...)
}

// WriteBlob appends a UInteger length followed by p.
func (b *Buffer) WriteBlob(p []byte) {
	b.WriteUInteger(uint32(len(p)))
	b.data = append(b.data, p...)
}

// Reader decodes fields written by Buffer without copying the input.
type Reader struct {
	data   []byte
	offset int
	varint bool
}

// NewReader wraps data for decoding.
func NewReader(data []byte, varint bool) *Reader {
	return &Reader{data: data, varint: varint}
}

// Offset returns the current read position.
func (r *Reader) Offset() int { return r.offset }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.data) - r.offset }

func (r *Reader) need(n int) (int, error) {
	if n < 0 || r.offset+n > len(r.data) {
		return 0, ErrShortBuffer
	}
	off := r.offset
	r.offset += n
	return off, nil
}

// ReadUint8 reads a single byte.
func (r *Reader) ReadUint8() (uint8, error) {
	off, err := r.need(1)
	if err != nil {
		return 0, err
	}
	return r.data[off], nil
}

// ReadUint16 reads a 16-bit unsigned integer.
func (r *Reader) ReadUint16() (uint16, error) {
	off, err := r.need(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.data[off:]), nil
}

// ReadUint32 reads a 32-bit unsigned integer.
func (r *Reader) ReadUint32() (uint32, error) {
	off, err := r.need(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.data[off:]), nil
}

// ReadUint64 reads a 64-bit unsigned integer.
func (r *Reader) ReadUint64() (uint64, error) {
	off, err := r.need(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.data[off:]), nil
}

// ReadRaw returns the next n bytes as a view into the input.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	off, err := r.need(n)
	if err != nil {
		return nil, err
	}
	return r.data[off : off+n], nil
}

func (r *Reader) readUvarint(max uint64) (uint64, error) {
	v, n := binary.Uvarint(r.data[r.offset:])
	if n == 0 {
		return 0, ErrShortBuffer
	}
	if n < 0 || v > max {
		return 0, fmt.Errorf("header: varint overflows %d", max)
	}
	r.offset += n
	return v, nil
}

// ReadUInteger reads a MAL UInteger.
func (r *Reader) ReadUInteger() (uint32, error) {
	if r.varint {
		v, err := r.readUvarint(0xFFFFFFFF)
		return uint32(v), err
	}
	return r.ReadUint32()
}

// ReadUShort reads a MAL UShort.
func (r *Reader) ReadUShort() (uint16, error) {
	if r.varint {
		v, err := r.readUvarint(0xFFFF)
		return uint16(v), err
	}
	return r.ReadUint16()
}

// ReadString reads a length-prefixed string. The string owns its bytes.
func (r *Reader) ReadString() (string, error) {
	n, err := r.ReadUInteger()
	if err != nil {
		return "", err
	}
	raw, err := r.ReadRaw(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ReadBlob reads a length-prefixed byte slice into a new slice.
func (r *Reader) ReadBlob() ([]byte, error) {
	n, err := r.ReadUInteger()
	if err != nil {
		return nil, err
	}
	raw, err := r.ReadRaw(int(n))
	if err != nil {
		return nil, err
	}
	blob := make([]byte, len(raw))
	copy(blob, raw)
	return blob, nil
}
