// Package bitstream provides bit-level readers and writers used to pack
// events into packets.
package bitstream

import (
	"bytes"
	"errors"
	"io"
	"math"

	"github.com/icza/bitio"
)

var (
	// ErrShortRead occurs when a read requests more bits than remain in the stream.
	ErrShortRead = errors.New("bitstream: read past end of stream")

	// ErrOutOfRange occurs when a value does not fit the requested encoding.
	ErrOutOfRange = errors.New("bitstream: value out of range")

	// ErrTooLong occurs when a string or byte slice exceeds its declared maximum length.
	ErrTooLong = errors.New("bitstream: value too long")
)

// Writer writes bit-level fields into an in-memory buffer.
type Writer struct {
	buf  bytes.Buffer
	w    *bitio.Writer
	bits int
	tail byte // bits of the unfinished byte, cached inside bitio
}

// NewWriter creates an empty Writer.
func NewWriter() *Writer {
	bw := &Writer{}
	bw.w = bitio.NewWriter(&bw.buf)
	return bw
}

// Len returns the number of bits written so far.
func (bw *Writer) Len() int { return bw.bits }

// WriteBits writes the n lowest bits of v (n <= 64).
func (bw *Writer) WriteBits(v uint64, n uint8) error {
	if n == 0 {
		return nil
	}
	if n > 64 {
		return ErrOutOfRange
	}
	if n < 64 {
		v &= (uint64(1) << n) - 1
	}
	if err := bw.w.WriteBits(v, n); err != nil {
		return err
	}
	bw.trackTail(v, n)
	bw.bits += int(n)
	return nil
}

func (bw *Writer) trackTail(v uint64, n uint8) {
	rem := uint8((bw.bits + int(n)) % 8)
	switch {
	case rem == 0:
		bw.tail = 0
	case n >= rem:
		bw.tail = byte(v & (uint64(1)<<rem - 1))
	default:
		bw.tail = byte((uint64(bw.tail)<<n | v) & (uint64(1)<<rem - 1))
	}
}

// WriteBool writes a single flag bit.
func (bw *Writer) WriteBool(b bool) error {
	var v uint64
	if b {
		v = 1
	}
	return bw.WriteBits(v, 1)
}

// WriteUint writes an unsigned value using n bits. Values that do not fit are rejected.
func (bw *Writer) WriteUint(v uint64, n uint8) error {
	if n < 64 && v>>n != 0 {
		return ErrOutOfRange
	}
	return bw.WriteBits(v, n)
}

// WriteInt writes a two's complement signed value using n bits.
func (bw *Writer) WriteInt(v int64, n uint8) error {
	if n == 0 || n > 64 {
		return ErrOutOfRange
	}
	if n < 64 {
		lim := int64(1) << (n - 1)
		if v < -lim || v >= lim {
			return ErrOutOfRange
		}
	}
	return bw.WriteBits(uint64(v), n)
}

// WriteRanged writes v in [min, max] using the minimum number of bits for the range.
func (bw *Writer) WriteRanged(v, min, max uint32) error {
	if min > max || v < min || v > max {
		return ErrOutOfRange
	}
	return bw.WriteBits(uint64(v-min), RangeBits(min, max))
}

// WriteFloat writes f in [0, 1] quantized to n bits.
func (bw *Writer) WriteFloat(f float32, n uint8) error {
	if n == 0 || n > 32 || f < 0 || f > 1 {
		return ErrOutOfRange
	}
	max := float64(uint64(1)<<n - 1)
	return bw.WriteBits(uint64(math.Round(float64(f)*max)), n)
}

// WriteSignedFloat writes f in [-1, 1] quantized to n bits.
func (bw *Writer) WriteSignedFloat(f float32, n uint8) error {
	if f < -1 || f > 1 {
		return ErrOutOfRange
	}
	return bw.WriteFloat((f+1)/2, n)
}

// WriteString writes a length-prefixed string. maxLen bounds the length prefix.
func (bw *Writer) WriteString(s string, maxLen int) error {
	return bw.WriteBytes([]byte(s), maxLen)
}

// WriteBytes writes a length-prefixed byte slice. maxLen bounds the length prefix.
func (bw *Writer) WriteBytes(b []byte, maxLen int) error {
	if len(b) > maxLen {
		return ErrTooLong
	}
	if err := bw.WriteRanged(uint32(len(b)), 0, uint32(maxLen)); err != nil {
		return err
	}
	for _, c := range b {
		if err := bw.WriteBits(uint64(c), 8); err != nil {
			return err
		}
	}
	return nil
}

// WriteStream appends every bit written to o.
func (bw *Writer) WriteStream(o *Writer) error {
	data, n := o.Bytes(), o.Len()
	r := bitio.NewReader(bytes.NewReader(data))
	for n > 0 {
		chunk := uint8(64)
		if n < 64 {
			chunk = uint8(n)
		}
		v, err := r.ReadBits(chunk)
		if err != nil {
			return err
		}
		if err := bw.WriteBits(v, chunk); err != nil {
			return err
		}
		n -= int(chunk)
	}
	return nil
}

// Bytes returns the written bits, zero padded to a whole byte.
// The writer remains usable; the returned slice is a copy.
func (bw *Writer) Bytes() []byte {
	out := make([]byte, bw.buf.Len(), bw.buf.Len()+1)
	copy(out, bw.buf.Bytes())
	if rem := bw.bits % 8; rem != 0 {
		out = append(out, bw.tail<<uint(8-rem))
	}
	return out
}

// Reset discards everything written.
func (bw *Writer) Reset() {
	bw.buf.Reset()
	bw.w = bitio.NewWriter(&bw.buf)
	bw.bits = 0
	bw.tail = 0
}

// Reader reads bit-level fields from a byte slice.
type Reader struct {
	r     *bitio.Reader
	total int
	read  int
}

// NewReader creates a Reader over data; all len(data)*8 bits are readable.
func NewReader(data []byte) *Reader {
	return NewReaderBits(data, len(data)*8)
}

// NewReaderBits creates a Reader that exposes only the first nbits of data.
func NewReaderBits(data []byte, nbits int) *Reader {
	if nbits > len(data)*8 {
		nbits = len(data) * 8
	}
	return &Reader{r: bitio.NewReader(bytes.NewReader(data)), total: nbits}
}

// Remaining returns the number of unread bits.
func (br *Reader) Remaining() int { return br.total - br.read }

// Consumed returns the number of bits read so far.
func (br *Reader) Consumed() int { return br.read }

// ReadBits reads n bits (n <= 64).
func (br *Reader) ReadBits(n uint8) (uint64, error) {
	if n == 0 {
		return 0, nil
	}
	if n > 64 {
		return 0, ErrOutOfRange
	}
	if int(n) > br.Remaining() {
		return 0, ErrShortRead
	}
	v, err := br.r.ReadBits(n)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, ErrShortRead
		}
		return 0, err
	}
	br.read += int(n)
	return v, nil
}

// ReadBool reads a single flag bit.
func (br *Reader) ReadBool() (bool, error) {
	v, err := br.ReadBits(1)
	return v == 1, err
}

// ReadUint reads an unsigned value of n bits.
func (br *Reader) ReadUint(n uint8) (uint64, error) { return br.ReadBits(n) }

// ReadInt reads a two's complement signed value of n bits.
func (br *Reader) ReadInt(n uint8) (int64, error) {
	if n == 0 || n > 64 {
		return 0, ErrOutOfRange
	}
	v, err := br.ReadBits(n)
	if err != nil {
		return 0, err
	}
	if n < 64 && v&(uint64(1)<<(n-1)) != 0 {
		v |= ^uint64(0) << n
	}
	return int64(v), nil
}

// ReadRanged reads a value written with WriteRanged.
func (br *Reader) ReadRanged(min, max uint32) (uint32, error) {
	if min > max {
		return 0, ErrOutOfRange
	}
	v, err := br.ReadBits(RangeBits(min, max))
	if err != nil {
		return 0, err
	}
	if v > uint64(max-min) {
		return 0, ErrOutOfRange
	}
	return uint32(v) + min, nil
}

// ReadFloat reads a value written with WriteFloat.
func (br *Reader) ReadFloat(n uint8) (float32, error) {
	if n == 0 || n > 32 {
		return 0, ErrOutOfRange
	}
	v, err := br.ReadBits(n)
	if err != nil {
		return 0, err
	}
	return float32(float64(v) / float64(uint64(1)<<n-1)), nil
}

// ReadSignedFloat reads a value written with WriteSignedFloat.
func (br *Reader) ReadSignedFloat(n uint8) (float32, error) {
	f, err := br.ReadFloat(n)
	if err != nil {
		return 0, err
	}
	return f*2 - 1, nil
}

// ReadString reads a value written with WriteString.
func (br *Reader) ReadString(maxLen int) (string, error) {
	b, err := br.ReadBytes(maxLen)
	return string(b), err
}

// ReadBytes reads a value written with WriteBytes.
func (br *Reader) ReadBytes(maxLen int) ([]byte, error) {
	n, err := br.ReadRanged(0, uint32(maxLen))
	if err != nil {
		return nil, err
	}
	if int(n)*8 > br.Remaining() {
		return nil, ErrShortRead
	}
	b := make([]byte, n)
	for i := range b {
		v, err := br.ReadBits(8)
		if err != nil {
			return nil, err
		}
		b[i] = byte(v)
	}
	return b, nil
}

// RangeBits returns the number of bits needed to hold any value in [min, max].
func RangeBits(min, max uint32) uint8 {
	return BitsFor(uint64(max - min))
}

// BitsFor returns the number of bits needed to hold v.
func BitsFor(v uint64) uint8 {
	var n uint8
	for v != 0 {
		n++
		v >>= 1
	}
	return n
}
