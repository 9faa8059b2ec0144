// pkg/codec/codec.go
// Package codec implements a simple length-prefixed binary
// serialization: fixed-width big-endian integers, and strings /
// byte-blobs carrying a 4-byte big-endian length prefix. Every encoded
// type pre-calculates its size so callers can allocate buffers
// exactly once.
package codec

import (
	"encoding/binary"

	"golang.org/x/xerrors"
)

// ErrShortBuffer is returned when a Reader runs out of bytes mid-decode.
var ErrShortBuffer = xerrors.New("codec: short buffer")

// Writer accumulates an encoded value into a pre-sized buffer.
type Writer struct {
	buf []byte
}

// NewWriter allocates a Writer with capacity for exactly n bytes.
func NewWriter(n int) *Writer {
	return &Writer{buf: make([]byte, 0, n)}
}

func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

// WriteRaw appends bytes with no length prefix (fixed-width fields,
// e.g. a 16-byte Ref, whose size is implied by the field's type).
func (w *Writer) WriteRaw(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteBytes appends a 4-byte big-endian length prefix followed by b.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUint32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString is WriteBytes for a string, avoiding a throwaway []byte copy.
func (w *Writer) WriteString(s string) {
	w.WriteUint32(uint32(len(s)))
	w.buf = append(w.buf, s...)
}

// Reader consumes a byte slice left to right, tracking its cursor.
type Reader struct {
	buf []byte
	pos int
}

func NewReader(b []byte) *Reader {
	return &Reader{buf: b}
}

func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

func (r *Reader) ReadUint64() (uint64, error) {
	if r.Remaining() < 8 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) ReadUint32() (uint32, error) {
	if r.Remaining() < 4 {
		return 0, ErrShortBuffer
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadRaw reads exactly n bytes with no length prefix.
func (r *Reader) ReadRaw(n int) ([]byte, error) {
	if r.Remaining() < n {
		return nil, ErrShortBuffer
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *Reader) ReadBytes() ([]byte, error) {
	n, err := r.ReadUint32()
	if err != nil {
		return nil, err
	}
	return r.ReadRaw(int(n))
}

func (r *Reader) ReadString() (string, error) {
	b, err := r.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Encodable is implemented by every type this system writes to the KV:
// the op/undo/node-record family in pkg/treeengine and pkg/tracker.
type Encodable interface {
	ByteSize() int
	Encode(w *Writer)
}

type Decodable interface {
	Decode(r *Reader) error
}

// Encode pre-sizes a Writer from v.ByteSize() and returns the encoded bytes.
func Encode(v Encodable) []byte {
	w := NewWriter(v.ByteSize())
	v.Encode(w)
	return w.Bytes()
}
