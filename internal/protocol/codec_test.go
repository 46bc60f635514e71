package protocol

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegersAreBigEndian(t *testing.T) {
	buf := &bytes.Buffer{}
	w := NewWriter(buf)

	require.NoError(t, w.WriteOctet(0xAB))
	require.NoError(t, w.WriteShort(0x0102))
	require.NoError(t, w.WriteLong(0x01020304))
	require.NoError(t, w.WriteLongLong(0x0102030405060708))

	assert.Equal(t, []byte{
		0xAB,
		0x01, 0x02,
		0x01, 0x02, 0x03, 0x04,
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08,
	}, buf.Bytes())

	r := NewBytesReader(buf.Bytes())
	o, err := r.ReadOctet()
	require.NoError(t, err)
	s, err := r.ReadShort()
	require.NoError(t, err)
	l, err := r.ReadLong()
	require.NoError(t, err)
	ll, err := r.ReadLongLong()
	require.NoError(t, err)

	assert.Equal(t, uint8(0xAB), o)
	assert.Equal(t, uint16(0x0102), s)
	assert.Equal(t, uint32(0x01020304), l)
	assert.Equal(t, uint64(0x0102030405060708), ll)
	assert.Equal(t, 15, r.Consumed())
	assert.Equal(t, 0, r.Remaining())
}

func TestShortStringEncodingDecoding(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "empty string", input: ""},
		{name: "short string", input: "hello"},
		{name: "max length", input: string(make([]byte, 255))},
		{name: "too long", input: string(make([]byte, 256)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			err := NewWriter(buf).WriteShortStr(tt.input)

			if tt.wantErr {
				var encErr *EncodingError
				require.True(t, errors.As(err, &encErr), "got %v", err)
				assert.Zero(t, buf.Len(), "nothing may be written on failure")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1+len(tt.input), buf.Len())

			r := NewBytesReader(buf.Bytes())
			decoded, err := r.ReadShortStr()
			require.NoError(t, err)
			assert.Equal(t, tt.input, decoded)
			assert.Equal(t, buf.Len(), r.Consumed())
		})
	}
}

func TestLongStringEncodingDecoding(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
	}{
		{"empty", []byte{}},
		{"small data", []byte("hello world")},
		{"large data", make([]byte, 10000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, NewWriter(buf).WriteLongStr(tt.input))

			r := NewBytesReader(buf.Bytes())
			decoded, err := r.ReadLongStr()
			require.NoError(t, err)
			assert.Equal(t, tt.input, decoded)
			assert.Equal(t, 4+len(tt.input), r.Consumed())
		})
	}
}

func TestLongStringLengthBeyondPayload(t *testing.T) {
	r := NewBytesReader([]byte{0x00, 0x00, 0x10, 0x00, 'a', 'b'})
	_, err := r.ReadLongStr()

	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr), "got %v", err)
}

func TestBitPacking(t *testing.T) {
	tests := []struct {
		name  string
		flags []bool
		want  []byte
	}{
		{"single true", []bool{true}, []byte{0x01}},
		{"lsb first", []bool{true, false, true}, []byte{0x05}},
		{"all false", []bool{false, false, false, false}, []byte{0x00}},
		{"eight", []bool{true, true, true, true, true, true, true, true}, []byte{0xFF}},
		{"nine spills", []bool{false, false, false, false, false, false, false, true, true}, []byte{0x80, 0x01}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, NewWriter(buf).WriteBits(tt.flags...))
			assert.Equal(t, tt.want, buf.Bytes())

			flags, err := NewBytesReader(buf.Bytes()).ReadBits(len(tt.flags))
			require.NoError(t, err)
			assert.Equal(t, tt.flags, flags)
		})
	}
}

func TestTimestampSeconds(t *testing.T) {
	buf := &bytes.Buffer{}
	ts := time.Unix(1609459200, 0)
	require.NoError(t, NewWriter(buf).WriteTimestamp(ts))
	assert.Equal(t, []byte{0, 0, 0, 0, 0x5F, 0xEE, 0x66, 0x00}, buf.Bytes())

	got, err := NewBytesReader(buf.Bytes()).ReadTimestamp()
	require.NoError(t, err)
	assert.True(t, ts.Equal(got))
}

func TestWriterBuffering(t *testing.T) {
	out := &bytes.Buffer{}
	w := NewWriter(out)

	require.NoError(t, w.EnableBuffering())
	assert.True(t, w.Buffering())

	err := w.EnableBuffering()
	var encErr *EncodingError
	require.True(t, errors.As(err, &encErr), "nested buffering must fail")

	require.NoError(t, w.WriteShort(60))
	require.NoError(t, w.WriteShortStr("q1"))
	assert.Zero(t, out.Len(), "buffered writes must not reach the sink")

	payload := w.DisableBuffering()
	assert.False(t, w.Buffering())
	assert.Equal(t, []byte{0x00, 0x3C, 0x02, 'q', '1'}, payload)

	require.NoError(t, w.WriteLong(uint32(len(payload))))
	_, err = w.Write(payload)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0, 5, 0x00, 0x3C, 0x02, 'q', '1'}, out.Bytes())
}

func TestReaderBuffering(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3, 4, 5}))

	require.NoError(t, r.Buffer(3))
	assert.Equal(t, 3, r.Remaining())

	v, err := r.ReadShort()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0102), v)

	assert.Equal(t, 1, r.Unbuffer(), "one buffered byte left unread")

	b, err := r.ReadOctet()
	require.NoError(t, err)
	assert.Equal(t, uint8(4), b)
	assert.Equal(t, 3, r.Consumed())
}

func TestReaderBufferShortRead(t *testing.T) {
	r := NewReader(bytes.NewReader([]byte{1, 2, 3, 4, 5}))
	require.NoError(t, r.Buffer(3))

	_, err := r.ReadLong()
	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr), "got %v", err)
}

func TestRangeChecks(t *testing.T) {
	tests := []struct {
		name  string
		check func(int64) error
		ok    []int64
		bad   []int64
	}{
		{"octet", CheckOctet, []int64{0, 255}, []int64{-1, 256}},
		{"short", CheckShort, []int64{0, 65535}, []int64{-1, 65536}},
		{"long", CheckLong, []int64{0, 4294967295}, []int64{-1, 4294967296}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, v := range tt.ok {
				assert.NoError(t, tt.check(v), "value %d", v)
			}
			for _, v := range tt.bad {
				var encErr *EncodingError
				assert.True(t, errors.As(tt.check(v), &encErr), "value %d", v)
			}
		})
	}
}

func TestMethodIDString(t *testing.T) {
	assert.Equal(t, "queue.declare-ok", ID(ClassQueue, MethodQueueDeclareOk).String())
	assert.Equal(t, "99.1", ID(99, 1).String())
	assert.Equal(t, "tx", ClassName(ClassTx))
}

func BenchmarkWriteShortStr(b *testing.B) {
	w := NewWriter(&bytes.Buffer{})
	for i := 0; i < b.N; i++ {
		_ = w.EnableBuffering()
		_ = w.WriteShortStr("amq.direct")
		_ = w.DisableBuffering()
	}
}
