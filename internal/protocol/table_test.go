package protocol

import (
	"bytes"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var unixSeconds = cmp.Transformer("unix", func(ts Timestamp) int64 {
	return time.Time(ts).Unix()
})

func TestFieldRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		field Field
		size  int
	}{
		{"bool true", Boolean(true), 1},
		{"bool false", Boolean(false), 1},
		{"int8 min", Int8(math.MinInt8), 1},
		{"int8 max", Int8(math.MaxInt8), 1},
		{"uint8 max", Uint8(math.MaxUint8), 1},
		{"int16 min", Int16(math.MinInt16), 2},
		{"int16 -1", Int16(-1), 2},
		{"uint16 max", Uint16(math.MaxUint16), 2},
		{"int32 min", Int32(math.MinInt32), 4},
		{"int32 max", Int32(math.MaxInt32), 4},
		{"uint32 max", Uint32(math.MaxUint32), 4},
		{"int64 min", Int64(math.MinInt64), 8},
		{"float", Float(3.25), 4},
		{"double", Double(2.718281828), 8},
		{"decimal", Decimal{Scale: 2, Value: -12345}, 5},
		{"short string", ShortString("amq.direct"), 11},
		{"long string", LongString("hello world"), 15},
		{"empty long string", LongString{}, 4},
		{"timestamp", Timestamp(time.Unix(1234567890, 0)), 8},
		{"void", Void{}, 0},
		{"array", Array{Int32(1), LongString("two"), Boolean(true)}, 4 + 5 + 8 + 2},
		{"empty array", Array{}, 4},
		{"table", Table{"k": Int32(7)}, 4 + 2 + 1 + 4},
		{"nested", Table{"outer": Table{"inner": ShortString("v")}}, 4 + 6 + 1 + 4 + 6 + 1 + 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			require.NoError(t, EncodeField(NewWriter(buf), tt.field))
			require.Equal(t, 1+tt.size, buf.Len())
			assert.Equal(t, byte(tt.field.FieldType()), buf.Bytes()[0])

			r := NewBytesReader(buf.Bytes())
			decoded, n, err := DecodeField(r)
			require.NoError(t, err)
			assert.Equal(t, buf.Len(), n, "reported size")
			assert.Equal(t, buf.Len(), r.Consumed(), "bytes actually read")

			if diff := cmp.Diff(tt.field, decoded, unixSeconds); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSignedShortWireForm(t *testing.T) {
	signed, err := PackValue(FieldInt16, -1)
	require.NoError(t, err)
	unsigned, err := PackValue(FieldUint16, 65535)
	require.NoError(t, err)

	assert.Equal(t, []byte{0xFF, 0xFF}, signed)
	assert.Equal(t, []byte{0xFF, 0xFF}, unsigned)

	v, n, err := UnpackValue(FieldInt16, NewBytesReader(signed))
	require.NoError(t, err)
	assert.Equal(t, Int16(-1), v)
	assert.Equal(t, 2, n)

	v, _, err = UnpackValue(FieldUint16, NewBytesReader(unsigned))
	require.NoError(t, err)
	assert.Equal(t, Uint16(65535), v)

	v, _, err = UnpackValue(FieldInt32, NewBytesReader([]byte{0x80, 0, 0, 0}))
	require.NoError(t, err)
	assert.Equal(t, Int32(math.MinInt32), v)
}

func TestConvertRangeChecks(t *testing.T) {
	tests := []struct {
		name  string
		typ   FieldType
		value interface{}
		ok    bool
	}{
		{"int8 fits", FieldInt8, -128, true},
		{"int8 overflow", FieldInt8, 128, false},
		{"uint8 negative", FieldUint8, -1, false},
		{"int16 overflow", FieldInt16, 32768, false},
		{"uint16 fits", FieldUint16, 65535, true},
		{"uint16 overflow", FieldUint16, 65536, false},
		{"int32 underflow", FieldInt32, int64(math.MinInt32) - 1, false},
		{"uint32 fits", FieldUint32, uint32(math.MaxUint32), true},
		{"uint32 overflow", FieldUint32, int64(math.MaxUint32) + 1, false},
		{"short string too long", FieldShortString, string(make([]byte, 256)), false},
		{"bool from int", FieldBoolean, 1, false},
		{"timestamp", FieldTimestamp, time.Now(), true},
		{"void from value", FieldVoid, 1, false},
		{"unknown tag", FieldType('Z'), 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Convert(tt.typ, tt.value)
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			var encErr *EncodingError
			assert.True(t, errors.As(err, &encErr), "got %v", err)
		})
	}
}

func TestTableEncodingIsDeterministic(t *testing.T) {
	table := Table{
		"b": Int32(2),
		"a": Boolean(true),
		"c": LongString("x"),
	}

	first, err := PackFieldTable(table)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := PackFieldTable(table)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}

	assert.Equal(t, []byte{
		0, 0, 0, 19,
		1, 'a', 't', 1,
		1, 'b', 'I', 0, 0, 0, 2,
		1, 'c', 'S', 0, 0, 0, 1, 'x',
	}, first)
}

func TestTableLengthAccounting(t *testing.T) {
	data, err := PackFieldTable(Table{"x-max-length": Int32(10), "durable": Boolean(true)})
	require.NoError(t, err)

	// Trailing bytes after the table belong to the next argument.
	r := NewBytesReader(append(data, 0xAA, 0xBB))
	table, n, err := UnpackFieldTable(r)
	require.NoError(t, err)
	assert.Equal(t, len(data), n)
	assert.Equal(t, 2, r.Remaining())
	assert.Equal(t, Table{"x-max-length": Int32(10), "durable": Boolean(true)}, table)
}

func TestTableOverrun(t *testing.T) {
	// Declared length 5, but the single entry takes 7 bytes.
	data := []byte{0, 0, 0, 5, 1, 'a', 'I', 0, 0, 0, 1}

	_, _, err := UnpackFieldTable(NewBytesReader(data))
	var protoErr *ProtocolError
	require.True(t, errors.As(err, &protoErr), "got %v", err)
	assert.Contains(t, protoErr.Reason, "overrun")
}

func TestArrayOverrun(t *testing.T) {
	data := []byte{0, 0, 0, 3, 'I', 0, 0, 0, 1}

	_, _, err := UnpackArray(NewBytesReader(data))
	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr), "got %v", err)
}

func TestUnknownFieldTag(t *testing.T) {
	data := []byte{0, 0, 0, 4, 1, 'a', 'Z', 0}

	_, _, err := UnpackFieldTable(NewBytesReader(data))
	var protoErr *ProtocolError
	assert.True(t, errors.As(err, &protoErr), "got %v", err)
}

func TestTableKeyTooLong(t *testing.T) {
	_, err := PackFieldTable(Table{string(make([]byte, 256)): Void{}})
	var encErr *EncodingError
	assert.True(t, errors.As(err, &encErr), "got %v", err)

	_, err = NewTable(map[string]interface{}{string(make([]byte, 256)): 1})
	assert.True(t, errors.As(err, &encErr), "got %v", err)
}

func TestNewTableInference(t *testing.T) {
	table, err := NewTable(map[string]interface{}{
		"string":  "hello",
		"int":     42,
		"big":     int64(1) << 40,
		"bool":    true,
		"float":   3.5,
		"nil":     nil,
		"nested":  map[string]interface{}{"inner": "value"},
		"array":   []interface{}{1, "two"},
		"decimal": decimal.RequireFromString("1.50"),
	})
	require.NoError(t, err)

	want := Table{
		"string":  LongString("hello"),
		"int":     Int32(42),
		"big":     Int64(1 << 40),
		"bool":    Boolean(true),
		"float":   Double(3.5),
		"nil":     Void{},
		"nested":  Table{"inner": LongString("value")},
		"array":   Array{Int32(1), LongString("two")},
		"decimal": Decimal{Scale: 1, Value: 15},
	}
	if diff := cmp.Diff(want, table); diff != "" {
		t.Errorf("inferred table mismatch (-want +got):\n%s", diff)
	}

	native := table.Native()
	assert.Equal(t, "hello", native["string"])
	assert.Equal(t, int32(42), native["int"])
	assert.Equal(t, map[string]interface{}{"inner": "value"}, native["nested"])
	assert.Equal(t, []interface{}{int32(1), "two"}, native["array"])
	assert.Nil(t, native["nil"])
	assert.Equal(t, "1.5", native["decimal"].(decimal.Decimal).String())
}

func TestTableAccessors(t *testing.T) {
	table := Table{
		"product":    LongString("RabbitMQ"),
		"platform":   ShortString("Erlang"),
		"publisher":  Boolean(true),
		"not-string": Int32(1),
	}

	s, ok := table.GetString("product")
	assert.True(t, ok)
	assert.Equal(t, "RabbitMQ", s)

	s, ok = table.GetString("platform")
	assert.True(t, ok)
	assert.Equal(t, "Erlang", s)

	_, ok = table.GetString("not-string")
	assert.False(t, ok)

	b, ok := table.GetBool("publisher")
	assert.True(t, ok)
	assert.True(t, b)
}

func TestDecimalExactValue(t *testing.T) {
	tests := []struct {
		in    string
		want  Decimal
		valid bool
	}{
		{"123.45", Decimal{Scale: 2, Value: 12345}, true},
		{"-0.001", Decimal{Scale: 3, Value: -1}, true},
		{"1.50", Decimal{Scale: 1, Value: 15}, true},
		{"1000", Decimal{Scale: 0, Value: 1000}, true},
		{"0", Decimal{}, true},
		{"12345678901", Decimal{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := DecimalFrom(decimal.RequireFromString(tt.in))
			if !tt.valid {
				var encErr *EncodingError
				assert.True(t, errors.As(err, &encErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d)
			assert.True(t, d.Exact().Equal(decimal.RequireFromString(tt.in)))
		})
	}

	assert.Equal(t, "123.45", Decimal{Scale: 2, Value: 12345}.String())
}

func BenchmarkTableEncoding(b *testing.B) {
	table := Table{
		"string":    LongString("value"),
		"int":       Int32(42),
		"bool":      Boolean(true),
		"float":     Double(3.14),
		"nested":    Table{"inner": LongString("value")},
		"array":     Array{Int32(1), LongString("two")},
		"timestamp": Timestamp(time.Now()),
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = PackFieldTable(table)
	}
}

func BenchmarkTableDecoding(b *testing.B) {
	data, _ := PackFieldTable(Table{
		"string": LongString("value"),
		"int":    Int32(42),
		"bool":   Boolean(true),
		"float":  Double(3.14),
		"nested": Table{"inner": LongString("value")},
		"array":  Array{Int32(1), LongString("two")},
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = UnpackFieldTable(NewBytesReader(data))
	}
}
