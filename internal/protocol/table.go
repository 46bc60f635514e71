package protocol

import (
	"bytes"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// PackFieldTable encodes a table: a 32-bit total length followed by
// {short-string key}{tag}{value} per entry. Keys are written in sorted order
// so equal tables encode to equal bytes.
func PackFieldTable(t Table) ([]byte, error) {
	body := new(bytes.Buffer)
	w := NewWriter(body)

	keys := make([]string, 0, len(t))
	for k := range t {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := w.WriteShortStr(k); err != nil {
			return nil, err
		}
		if err := EncodeField(w, t[k]); err != nil {
			return nil, err
		}
	}

	return withLength("table", body.Bytes())
}

// UnpackFieldTable reads a table and returns it together with the number of
// bytes consumed, length prefix included. Entries are read until their
// cumulative size reaches the declared length; overrunning it is a
// ProtocolError.
func UnpackFieldTable(r *Reader) (Table, int, error) {
	declared, err := r.ReadLong()
	if err != nil {
		return nil, 0, err
	}

	table := make(Table)
	consumed := 0
	for consumed < int(declared) {
		key, err := r.ReadShortStr()
		if err != nil {
			return nil, 0, err
		}
		tag, err := r.ReadOctet()
		if err != nil {
			return nil, 0, err
		}
		value, n, err := UnpackValue(FieldType(tag), r)
		if err != nil {
			return nil, 0, err
		}
		consumed += 1 + len(key) + 1 + n
		table[key] = value
	}

	if consumed != int(declared) {
		return nil, 0, NewProtocolError("field table overrun: declared %d bytes, entries used %d", declared, consumed)
	}

	return table, 4 + consumed, nil
}

// PackArray encodes an array: a 32-bit total length followed by {tag}{value}
// per element.
func PackArray(a Array) ([]byte, error) {
	body := new(bytes.Buffer)
	w := NewWriter(body)

	for _, f := range a {
		if err := EncodeField(w, f); err != nil {
			return nil, err
		}
	}

	return withLength("array", body.Bytes())
}

// UnpackArray reads an array with the same length accounting as tables
func UnpackArray(r *Reader) (Array, int, error) {
	declared, err := r.ReadLong()
	if err != nil {
		return nil, 0, err
	}

	values := Array{}
	consumed := 0
	for consumed < int(declared) {
		tag, err := r.ReadOctet()
		if err != nil {
			return nil, 0, err
		}
		value, n, err := UnpackValue(FieldType(tag), r)
		if err != nil {
			return nil, 0, err
		}
		consumed += 1 + n
		values = append(values, value)
	}

	if consumed != int(declared) {
		return nil, 0, NewProtocolError("field array overrun: declared %d bytes, elements used %d", declared, consumed)
	}

	return values, 4 + consumed, nil
}

func withLength(op string, body []byte) ([]byte, error) {
	if uint64(len(body)) > math.MaxUint32 {
		return nil, encodingErrorf(op, "encoded size %d exceeds 2^32-1", len(body))
	}
	out := make([]byte, 4+len(body))
	out[0] = byte(len(body) >> 24)
	out[1] = byte(len(body) >> 16)
	out[2] = byte(len(body) >> 8)
	out[3] = byte(len(body))
	copy(out[4:], body)
	return out, nil
}

// EncodeField writes the tag of f followed by its value
func EncodeField(w *Writer, f Field) error {
	if f == nil {
		f = Void{}
	}
	// Encode into a scratch buffer first so a failing value leaves w untouched.
	value, err := encodeValue(f)
	if err != nil {
		return err
	}
	if err := w.WriteOctet(byte(f.FieldType())); err != nil {
		return err
	}
	_, err = w.Write(value)
	return err
}

// PackValue converts v to the field type t and returns its encoded value
// (without the tag).
func PackValue(t FieldType, v interface{}) ([]byte, error) {
	f, err := Convert(t, v)
	if err != nil {
		return nil, err
	}
	return encodeValue(f)
}

func encodeValue(f Field) ([]byte, error) {
	buf := new(bytes.Buffer)
	w := NewWriter(buf)

	var err error
	switch v := f.(type) {
	case Boolean:
		var b uint8
		if v {
			b = 1
		}
		err = w.WriteOctet(b)
	case Int8:
		err = w.WriteOctet(uint8(v))
	case Uint8:
		err = w.WriteOctet(uint8(v))
	case Int16:
		err = w.WriteShort(uint16(v))
	case Uint16:
		err = w.WriteShort(uint16(v))
	case Int32:
		err = w.WriteLong(uint32(v))
	case Uint32:
		err = w.WriteLong(uint32(v))
	case Int64:
		err = w.WriteLongLong(uint64(v))
	case Float:
		err = w.WriteLong(math.Float32bits(float32(v)))
	case Double:
		err = w.WriteLongLong(math.Float64bits(float64(v)))
	case Decimal:
		if err = w.WriteOctet(v.Scale); err == nil {
			err = w.WriteLong(uint32(v.Value))
		}
	case ShortString:
		err = w.WriteShortStr(string(v))
	case LongString:
		err = w.WriteLongStr(v)
	case Array:
		var data []byte
		if data, err = PackArray(v); err == nil {
			_, err = w.Write(data)
		}
	case Timestamp:
		err = w.WriteTimestamp(time.Time(v))
	case Table:
		err = w.WriteTable(v)
	case Void:
	default:
		return nil, encodingErrorf("field", "unsupported field value %T", f)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeField reads a tag and the value that follows it
func DecodeField(r *Reader) (Field, int, error) {
	tag, err := r.ReadOctet()
	if err != nil {
		return nil, 0, err
	}
	f, n, err := UnpackValue(FieldType(tag), r)
	if err != nil {
		return nil, 0, err
	}
	return f, n + 1, nil
}

// UnpackValue reads a value of type t and reports the bytes it consumed.
// Signed integers are read as unsigned wire values and mapped onto their
// two's-complement negative when at or above 2^(bits-1).
func UnpackValue(t FieldType, r *Reader) (Field, int, error) {
	switch t {
	case FieldBoolean:
		b, err := r.ReadOctet()
		return Boolean(b != 0), 1, err

	case FieldInt8:
		b, err := r.ReadOctet()
		return Int8(signed8(b)), 1, err

	case FieldUint8:
		b, err := r.ReadOctet()
		return Uint8(b), 1, err

	case FieldInt16:
		v, err := r.ReadShort()
		return Int16(signed16(v)), 2, err

	case FieldUint16:
		v, err := r.ReadShort()
		return Uint16(v), 2, err

	case FieldInt32:
		v, err := r.ReadLong()
		return Int32(signed32(v)), 4, err

	case FieldUint32:
		v, err := r.ReadLong()
		return Uint32(v), 4, err

	case FieldInt64:
		v, err := r.ReadLongLong()
		return Int64(int64(v)), 8, err

	case FieldFloat:
		v, err := r.ReadLong()
		return Float(math.Float32frombits(v)), 4, err

	case FieldDouble:
		v, err := r.ReadLongLong()
		return Double(math.Float64frombits(v)), 8, err

	case FieldDecimal:
		scale, err := r.ReadOctet()
		if err != nil {
			return nil, 0, err
		}
		v, err := r.ReadLong()
		return Decimal{Scale: scale, Value: signed32(v)}, 5, err

	case FieldShortString:
		s, err := r.ReadShortStr()
		return ShortString(s), 1 + len(s), err

	case FieldLongString:
		s, err := r.ReadLongStr()
		return LongString(s), 4 + len(s), err

	case FieldArray:
		a, n, err := UnpackArray(r)
		return a, n, err

	case FieldTimestamp:
		ts, err := r.ReadTimestamp()
		return Timestamp(ts), 8, err

	case FieldTable:
		tbl, n, err := UnpackFieldTable(r)
		return tbl, n, err

	case FieldVoid:
		return Void{}, 0, nil

	default:
		return nil, 0, NewProtocolError("unsupported field type %q", byte(t))
	}
}

func signed8(u uint8) int8 {
	if u >= 1<<7 {
		return int8(int16(u) - 1<<8)
	}
	return int8(u)
}

func signed16(u uint16) int16 {
	if u >= 1<<15 {
		return int16(int32(u) - 1<<16)
	}
	return int16(u)
}

func signed32(u uint32) int32 {
	if u >= 1<<31 {
		return int32(int64(u) - 1<<32)
	}
	return int32(u)
}

// Convert turns a native Go value into the field of type t, checking that it
// is representable.
func Convert(t FieldType, v interface{}) (Field, error) {
	if f, ok := v.(Field); ok && f.FieldType() == t {
		return f, nil
	}

	switch t {
	case FieldBoolean:
		if b, ok := v.(bool); ok {
			return Boolean(b), nil
		}
	case FieldInt8:
		if n, ok := integerOf(v); ok {
			if n < math.MinInt8 || n > math.MaxInt8 {
				return nil, rangeError(t, n)
			}
			return Int8(n), nil
		}
	case FieldUint8:
		if n, ok := integerOf(v); ok {
			if err := CheckOctet(n); err != nil {
				return nil, rangeError(t, n)
			}
			return Uint8(n), nil
		}
	case FieldInt16:
		if n, ok := integerOf(v); ok {
			if n < math.MinInt16 || n > math.MaxInt16 {
				return nil, rangeError(t, n)
			}
			return Int16(n), nil
		}
	case FieldUint16:
		if n, ok := integerOf(v); ok {
			if err := CheckShort(n); err != nil {
				return nil, rangeError(t, n)
			}
			return Uint16(n), nil
		}
	case FieldInt32:
		if n, ok := integerOf(v); ok {
			if n < math.MinInt32 || n > math.MaxInt32 {
				return nil, rangeError(t, n)
			}
			return Int32(n), nil
		}
	case FieldUint32:
		if n, ok := integerOf(v); ok {
			if err := CheckLong(n); err != nil {
				return nil, rangeError(t, n)
			}
			return Uint32(n), nil
		}
	case FieldInt64:
		if n, ok := integerOf(v); ok {
			return Int64(n), nil
		}
	case FieldFloat:
		switch f := v.(type) {
		case float32:
			return Float(f), nil
		case float64:
			if math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
				return nil, encodingErrorf(t.String(), "value %g out of float32 range", f)
			}
			return Float(f), nil
		}
	case FieldDouble:
		switch f := v.(type) {
		case float32:
			return Double(f), nil
		case float64:
			return Double(f), nil
		}
	case FieldDecimal:
		switch d := v.(type) {
		case Decimal:
			return d, nil
		case decimal.Decimal:
			return DecimalFrom(d)
		}
	case FieldShortString:
		if s, ok := stringOf(v); ok {
			if len(s) > math.MaxUint8 {
				return nil, encodingErrorf(t.String(), "length %d exceeds 255", len(s))
			}
			return ShortString(s), nil
		}
	case FieldLongString:
		if s, ok := stringOf(v); ok {
			return LongString(s), nil
		}
	case FieldArray:
		switch a := v.(type) {
		case []Field:
			return Array(a), nil
		case []interface{}:
			return NewArray(a)
		}
	case FieldTimestamp:
		if ts, ok := v.(time.Time); ok {
			return Timestamp(ts), nil
		}
	case FieldTable:
		if m, ok := v.(map[string]interface{}); ok {
			return NewTable(m)
		}
	case FieldVoid:
		if v == nil {
			return Void{}, nil
		}
	default:
		return nil, encodingErrorf("field", "unsupported field type %q", byte(t))
	}

	return nil, encodingErrorf(t.String(), "cannot encode %T", v)
}

func rangeError(t FieldType, n int64) error {
	return encodingErrorf(t.String(), "value %d out of range", n)
}

func integerOf(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

func stringOf(v interface{}) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case []byte:
		return string(s), true
	case ShortString:
		return string(s), true
	case LongString:
		return string(s), true
	default:
		return "", false
	}
}

// FieldOf infers a field type for a native Go value. Strings become long
// strings, int becomes Int32 when it fits and Int64 otherwise.
func FieldOf(v interface{}) (Field, error) {
	switch x := v.(type) {
	case nil:
		return Void{}, nil
	case Field:
		return x, nil
	case bool:
		return Boolean(x), nil
	case int8:
		return Int8(x), nil
	case uint8:
		return Uint8(x), nil
	case int16:
		return Int16(x), nil
	case uint16:
		return Uint16(x), nil
	case int32:
		return Int32(x), nil
	case uint32:
		return Uint32(x), nil
	case int64:
		return Int64(x), nil
	case int:
		if x >= math.MinInt32 && x <= math.MaxInt32 {
			return Int32(x), nil
		}
		return Int64(x), nil
	case uint:
		return Convert(FieldUint32, x)
	case float32:
		return Float(x), nil
	case float64:
		return Double(x), nil
	case string:
		return LongString(x), nil
	case []byte:
		return LongString(x), nil
	case time.Time:
		return Timestamp(x), nil
	case decimal.Decimal:
		return DecimalFrom(x)
	case map[string]interface{}:
		return NewTable(x)
	case []interface{}:
		return NewArray(x)
	case []Field:
		return Array(x), nil
	default:
		return nil, encodingErrorf("field", "unsupported field value %T", v)
	}
}

// NewTable builds a Table from native values using FieldOf
func NewTable(m map[string]interface{}) (Table, error) {
	t := make(Table, len(m))
	for k, v := range m {
		if len(k) > math.MaxUint8 {
			return nil, encodingErrorf("table", "key length %d exceeds 255", len(k))
		}
		f, err := FieldOf(v)
		if err != nil {
			return nil, err
		}
		t[k] = f
	}
	return t, nil
}

// NewArray builds an Array from native values using FieldOf
func NewArray(values []interface{}) (Array, error) {
	a := make(Array, 0, len(values))
	for _, v := range values {
		f, err := FieldOf(v)
		if err != nil {
			return nil, err
		}
		a = append(a, f)
	}
	return a, nil
}

// Native converts the table back into plain Go values. Strings of both kinds
// become string, nested tables map[string]interface{}, arrays []interface{}
// and decimals decimal.Decimal.
func (t Table) Native() map[string]interface{} {
	out := make(map[string]interface{}, len(t))
	for k, f := range t {
		out[k] = nativeOf(f)
	}
	return out
}

// Native converts the array back into plain Go values
func (a Array) Native() []interface{} {
	out := make([]interface{}, len(a))
	for i, f := range a {
		out[i] = nativeOf(f)
	}
	return out
}

func nativeOf(f Field) interface{} {
	switch v := f.(type) {
	case Boolean:
		return bool(v)
	case Int8:
		return int8(v)
	case Uint8:
		return uint8(v)
	case Int16:
		return int16(v)
	case Uint16:
		return uint16(v)
	case Int32:
		return int32(v)
	case Uint32:
		return uint32(v)
	case Int64:
		return int64(v)
	case Float:
		return float32(v)
	case Double:
		return float64(v)
	case Decimal:
		return v.Exact()
	case ShortString:
		return string(v)
	case LongString:
		return string(v)
	case Array:
		return v.Native()
	case Timestamp:
		return time.Time(v)
	case Table:
		return v.Native()
	default:
		return nil
	}
}

// GetString returns the value of a string-typed entry, if present
func (t Table) GetString(key string) (string, bool) {
	switch v := t[key].(type) {
	case ShortString:
		return string(v), true
	case LongString:
		return string(v), true
	default:
		return "", false
	}
}

// GetBool returns the value of a boolean entry, if present
func (t Table) GetBool(key string) (bool, bool) {
	v, ok := t[key].(Boolean)
	return bool(v), ok
}
