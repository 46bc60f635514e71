package protocol

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"time"
)

// Writer encodes AMQP primitive types in network byte order. Writes go to
// the underlying writer, or to an internal buffer while buffering is enabled.
type Writer struct {
	w         io.Writer
	buf       bytes.Buffer
	buffering bool
	scratch   [8]byte
}

// NewWriter creates a new Writer on top of w
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// EnableBuffering starts accumulating writes in memory. Buffering does not
// nest.
func (w *Writer) EnableBuffering() error {
	if w.buffering {
		return encodingErrorf("enable buffering", "buffering already enabled")
	}
	w.buf.Reset()
	w.buffering = true
	return nil
}

// DisableBuffering stops buffering and returns a copy of everything written
// since EnableBuffering.
func (w *Writer) DisableBuffering() []byte {
	w.buffering = false
	out := make([]byte, w.buf.Len())
	copy(out, w.buf.Bytes())
	w.buf.Reset()
	return out
}

// Buffering reports whether writes are currently buffered
func (w *Writer) Buffering() bool {
	return w.buffering
}

// Write writes raw bytes
func (w *Writer) Write(p []byte) (int, error) {
	if w.buffering {
		return w.buf.Write(p)
	}
	return w.w.Write(p)
}

func (w *Writer) write(p []byte) error {
	_, err := w.Write(p)
	return err
}

// WriteOctet writes a single byte
func (w *Writer) WriteOctet(v uint8) error {
	w.scratch[0] = v
	return w.write(w.scratch[:1])
}

// WriteShort writes a 16-bit unsigned integer
func (w *Writer) WriteShort(v uint16) error {
	binary.BigEndian.PutUint16(w.scratch[:2], v)
	return w.write(w.scratch[:2])
}

// WriteLong writes a 32-bit unsigned integer
func (w *Writer) WriteLong(v uint32) error {
	binary.BigEndian.PutUint32(w.scratch[:4], v)
	return w.write(w.scratch[:4])
}

// WriteLongLong writes a 64-bit unsigned integer
func (w *Writer) WriteLongLong(v uint64) error {
	binary.BigEndian.PutUint64(w.scratch[:8], v)
	return w.write(w.scratch[:8])
}

// WriteShortStr writes a short string (max 255 bytes)
func (w *Writer) WriteShortStr(s string) error {
	if len(s) > math.MaxUint8 {
		return encodingErrorf("short string", "length %d exceeds 255", len(s))
	}
	if err := w.WriteOctet(uint8(len(s))); err != nil {
		return err
	}
	return w.write([]byte(s))
}

// WriteLongStr writes a long string
func (w *Writer) WriteLongStr(data []byte) error {
	if uint64(len(data)) > math.MaxUint32 {
		return encodingErrorf("long string", "length %d exceeds 2^32-1", len(data))
	}
	if err := w.WriteLong(uint32(len(data))); err != nil {
		return err
	}
	return w.write(data)
}

// WriteBits packs consecutive bit arguments into octets, LSB first, eight
// per octet.
// Example: [true, false, true] -> 0b00000101
func (w *Writer) WriteBits(flags ...bool) error {
	var packed byte
	bitPos := 0

	for i, flag := range flags {
		if flag {
			packed |= 1 << uint(bitPos)
		}
		bitPos++

		if bitPos == 8 || i == len(flags)-1 {
			if err := w.WriteOctet(packed); err != nil {
				return err
			}
			packed = 0
			bitPos = 0
		}
	}

	return nil
}

// WriteTimestamp writes seconds since the epoch as a 64-bit integer
func (w *Writer) WriteTimestamp(t time.Time) error {
	return w.WriteLongLong(uint64(t.Unix()))
}

// WriteTable writes a field table with its 32-bit length prefix. The table is
// validated completely before anything is written.
func (w *Writer) WriteTable(t Table) error {
	data, err := PackFieldTable(t)
	if err != nil {
		return err
	}
	return w.write(data)
}

// Reader decodes AMQP primitive types. It reads straight from the source, or
// from a previously filled input buffer in buffered mode, and counts every
// byte it hands out.
type Reader struct {
	r        io.Reader
	buf      []byte
	pos      int
	buffered bool
	consumed int
	scratch  [8]byte
}

// NewReader creates a new Reader on top of r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// NewBytesReader creates a Reader in buffered mode over data
func NewBytesReader(data []byte) *Reader {
	return &Reader{buf: data, buffered: true}
}

// Buffer reads exactly n bytes from the source and serves subsequent reads
// from them.
func (r *Reader) Buffer(n uint32) error {
	if r.buffered {
		return NewProtocolError("input already buffered")
	}
	data := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r.r, data); err != nil {
			return err
		}
	}
	r.buf = data
	r.pos = 0
	r.buffered = true
	return nil
}

// Unbuffer leaves buffered mode and returns how many buffered bytes were
// never read. They are discarded.
func (r *Reader) Unbuffer() int {
	left := len(r.buf) - r.pos
	r.buf = nil
	r.pos = 0
	r.buffered = r.r == nil
	return left
}

// Remaining returns the number of unread bytes in buffered mode
func (r *Reader) Remaining() int {
	if !r.buffered {
		return 0
	}
	return len(r.buf) - r.pos
}

// Consumed returns the number of bytes handed out since creation or the
// last ResetConsumed.
func (r *Reader) Consumed() int {
	return r.consumed
}

// ResetConsumed zeroes the consumed byte counter
func (r *Reader) ResetConsumed() {
	r.consumed = 0
}

// Read implements io.Reader
func (r *Reader) Read(p []byte) (int, error) {
	if err := r.read(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (r *Reader) read(p []byte) error {
	if r.buffered {
		if len(r.buf)-r.pos < len(p) {
			return NewProtocolError("truncated payload: need %d bytes, have %d", len(p), len(r.buf)-r.pos)
		}
		copy(p, r.buf[r.pos:])
		r.pos += len(p)
	} else {
		if _, err := io.ReadFull(r.r, p); err != nil {
			return err
		}
	}
	r.consumed += len(p)
	return nil
}

// ReadOctet reads a single byte
func (r *Reader) ReadOctet() (uint8, error) {
	if err := r.read(r.scratch[:1]); err != nil {
		return 0, err
	}
	return r.scratch[0], nil
}

// ReadShort reads a 16-bit unsigned integer
func (r *Reader) ReadShort() (uint16, error) {
	if err := r.read(r.scratch[:2]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.scratch[:2]), nil
}

// ReadLong reads a 32-bit unsigned integer
func (r *Reader) ReadLong() (uint32, error) {
	if err := r.read(r.scratch[:4]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.scratch[:4]), nil
}

// ReadLongLong reads a 64-bit unsigned integer
func (r *Reader) ReadLongLong() (uint64, error) {
	if err := r.read(r.scratch[:8]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.scratch[:8]), nil
}

// ReadShortStr reads a short string
func (r *Reader) ReadShortStr() (string, error) {
	length, err := r.ReadOctet()
	if err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if err := r.read(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ReadLongStr reads a long string
func (r *Reader) ReadLongStr() ([]byte, error) {
	length, err := r.ReadLong()
	if err != nil {
		return nil, err
	}
	if r.buffered && int64(length) > int64(len(r.buf)-r.pos) {
		return nil, NewProtocolError("long string length %d exceeds payload", length)
	}
	buf := make([]byte, length)
	if err := r.read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadBits reads n packed bit arguments
func (r *Reader) ReadBits(n int) ([]bool, error) {
	flags := make([]bool, n)
	var packed byte
	for i := 0; i < n; i++ {
		if i%8 == 0 {
			b, err := r.ReadOctet()
			if err != nil {
				return nil, err
			}
			packed = b
		}
		flags[i] = packed&(1<<uint(i%8)) != 0
	}
	return flags, nil
}

// ReadBool reads a single bit argument stored in its own octet
func (r *Reader) ReadBool() (bool, error) {
	b, err := r.ReadOctet()
	return b&1 != 0, err
}

// ReadTimestamp reads seconds since the epoch
func (r *Reader) ReadTimestamp() (time.Time, error) {
	v, err := r.ReadLongLong()
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(int64(v), 0), nil
}

// ReadTable reads a field table
func (r *Reader) ReadTable() (Table, error) {
	t, _, err := UnpackFieldTable(r)
	return t, err
}

// CheckOctet verifies v fits an octet
func CheckOctet(v int64) error {
	if v < 0 || v > math.MaxUint8 {
		return encodingErrorf("octet", "value %d out of range [0, 255]", v)
	}
	return nil
}

// CheckShort verifies v fits a short
func CheckShort(v int64) error {
	if v < 0 || v > math.MaxUint16 {
		return encodingErrorf("short", "value %d out of range [0, 65535]", v)
	}
	return nil
}

// CheckLong verifies v fits a long
func CheckLong(v int64) error {
	if v < 0 || v > math.MaxUint32 {
		return encodingErrorf("long", "value %d out of range [0, 4294967295]", v)
	}
	return nil
}
