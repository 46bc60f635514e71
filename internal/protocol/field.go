package protocol

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// FieldType is the one-octet tag that precedes every field value on the wire
type FieldType byte

// Field value tags
const (
	FieldBoolean     FieldType = 't'
	FieldInt8        FieldType = 'b'
	FieldUint8       FieldType = 'B'
	FieldInt16       FieldType = 'U'
	FieldUint16      FieldType = 'u'
	FieldInt32       FieldType = 'I'
	FieldUint32      FieldType = 'i'
	FieldInt64       FieldType = 'l'
	FieldFloat       FieldType = 'f'
	FieldDouble      FieldType = 'd'
	FieldDecimal     FieldType = 'D'
	FieldShortString FieldType = 's'
	FieldLongString  FieldType = 'S'
	FieldArray       FieldType = 'A'
	FieldTimestamp   FieldType = 'T'
	FieldTable       FieldType = 'F'
	FieldVoid        FieldType = 'V'
)

func (t FieldType) String() string {
	switch t {
	case FieldBoolean:
		return "boolean"
	case FieldInt8:
		return "int8"
	case FieldUint8:
		return "uint8"
	case FieldInt16:
		return "int16"
	case FieldUint16:
		return "uint16"
	case FieldInt32:
		return "int32"
	case FieldUint32:
		return "uint32"
	case FieldInt64:
		return "int64"
	case FieldFloat:
		return "float"
	case FieldDouble:
		return "double"
	case FieldDecimal:
		return "decimal"
	case FieldShortString:
		return "shortstr"
	case FieldLongString:
		return "longstr"
	case FieldArray:
		return "array"
	case FieldTimestamp:
		return "timestamp"
	case FieldTable:
		return "table"
	case FieldVoid:
		return "void"
	default:
		return fmt.Sprintf("unknown(%q)", byte(t))
	}
}

// Field is a typed field-table value. The set of implementations is closed:
// one Go type per wire tag.
type Field interface {
	FieldType() FieldType
	field()
}

type (
	Boolean     bool
	Int8        int8
	Uint8       uint8
	Int16       int16
	Uint16      uint16
	Int32       int32
	Uint32      uint32
	Int64       int64
	Float       float32
	Double      float64
	ShortString string
	LongString  []byte
	Array       []Field
	Timestamp   time.Time
	Table       map[string]Field
	Void        struct{}
)

// Decimal matches the AMQP decimal type: Value / 10^Scale.
// Scale == 2, Value == 12345 is 123.45
type Decimal struct {
	Scale uint8
	Value int32
}

func (Boolean) FieldType() FieldType     { return FieldBoolean }
func (Int8) FieldType() FieldType        { return FieldInt8 }
func (Uint8) FieldType() FieldType       { return FieldUint8 }
func (Int16) FieldType() FieldType       { return FieldInt16 }
func (Uint16) FieldType() FieldType      { return FieldUint16 }
func (Int32) FieldType() FieldType       { return FieldInt32 }
func (Uint32) FieldType() FieldType      { return FieldUint32 }
func (Int64) FieldType() FieldType       { return FieldInt64 }
func (Float) FieldType() FieldType       { return FieldFloat }
func (Double) FieldType() FieldType      { return FieldDouble }
func (Decimal) FieldType() FieldType     { return FieldDecimal }
func (ShortString) FieldType() FieldType { return FieldShortString }
func (LongString) FieldType() FieldType  { return FieldLongString }
func (Array) FieldType() FieldType       { return FieldArray }
func (Timestamp) FieldType() FieldType   { return FieldTimestamp }
func (Table) FieldType() FieldType       { return FieldTable }
func (Void) FieldType() FieldType        { return FieldVoid }

func (Boolean) field()     {}
func (Int8) field()        {}
func (Uint8) field()       {}
func (Int16) field()       {}
func (Uint16) field()      {}
func (Int32) field()       {}
func (Uint32) field()      {}
func (Int64) field()       {}
func (Float) field()       {}
func (Double) field()      {}
func (Decimal) field()     {}
func (ShortString) field() {}
func (LongString) field()  {}
func (Array) field()       {}
func (Timestamp) field()   {}
func (Table) field()       {}
func (Void) field()        {}

// Time returns the timestamp as a time.Time
func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

// Exact returns the logical value of d without going through floating point
func (d Decimal) Exact() decimal.Decimal {
	return decimal.New(int64(d.Value), -int32(d.Scale))
}

func (d Decimal) String() string {
	return d.Exact().String()
}

// DecimalFrom converts an exact decimal into the wire representation. It
// fails when the mantissa does not fit 32 bits or the scale does not fit an
// octet.
func DecimalFrom(d decimal.Decimal) (Decimal, error) {
	coef := d.Coefficient()
	exp := d.Exponent()

	if exp > 0 {
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	// Strip trailing zeros to keep the mantissa small.
	ten := big.NewInt(10)
	for exp < 0 && coef.Sign() != 0 {
		q, m := new(big.Int).QuoRem(coef, ten, new(big.Int))
		if m.Sign() != 0 {
			break
		}
		coef = q
		exp++
	}

	if -exp > math.MaxUint8 {
		return Decimal{}, encodingErrorf("decimal", "scale %d exceeds 255", -exp)
	}
	if !coef.IsInt64() || coef.Int64() < math.MinInt32 || coef.Int64() > math.MaxInt32 {
		return Decimal{}, encodingErrorf("decimal", "mantissa %s does not fit 32 bits", coef)
	}

	return Decimal{Scale: uint8(-exp), Value: int32(coef.Int64())}, nil
}
