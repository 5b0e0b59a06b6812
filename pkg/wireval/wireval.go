// Package wireval encodes Go values into the Postgres wire formats (text and
// binary) used inside DataRow messages. Each logical type knows how to
// render itself both ways; callers pick the representation by calling
// EncodeText or EncodeBinary, never by branching on a type switch.
package wireval

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Value is a wire-encodable column value. Implementations are small value
// wrappers around Go primitives; there is no fallback "any" encoder, so
// adding a logical type means adding a Value implementation for it.
type Value interface {
	// EncodeText returns the value rendered in Postgres' human-readable text
	// format, as sent when a column's format code is Text.
	EncodeText() []byte
	// EncodeBinary returns the value rendered in Postgres' binary wire
	// format, as sent when a column's format code is Binary.
	EncodeBinary() []byte
}

// Int1 is an 8-bit signed integer value (OID 18, "char" — Postgres' single-
// byte internal integer type, distinct from the multi-byte bpchar/varchar
// string types).
type Int1 int8

func (v Int1) EncodeText() []byte   { return strconv.AppendInt(nil, int64(v), 10) }
func (v Int1) EncodeBinary() []byte { return []byte{byte(v)} }

// Int2 is a 16-bit signed integer value (OID 21, int2).
type Int2 int16

func (v Int2) EncodeText() []byte   { return strconv.AppendInt(nil, int64(v), 10) }
func (v Int2) EncodeBinary() []byte { return beInt(int64(v), 2) }

// Int4 is a 32-bit signed integer value (OID 23, int4).
type Int4 int32

func (v Int4) EncodeText() []byte   { return strconv.AppendInt(nil, int64(v), 10) }
func (v Int4) EncodeBinary() []byte { return beInt(int64(v), 4) }

// Int8 is a 64-bit signed integer value (OID 20, int8).
type Int8 int64

func (v Int8) EncodeText() []byte   { return strconv.AppendInt(nil, int64(v), 10) }
func (v Int8) EncodeBinary() []byte { return beInt(int64(v), 8) }

// Float4 is a 32-bit floating point value (OID 700, float4).
type Float4 float32

func (v Float4) EncodeText() []byte {
	return strconv.AppendFloat(nil, float64(v), 'g', -1, 32)
}

func (v Float4) EncodeBinary() []byte {
	var buf [4]byte
	bits := math.Float32bits(float32(v))
	buf[0], buf[1], buf[2], buf[3] = byte(bits>>24), byte(bits>>16), byte(bits>>8), byte(bits)
	return buf[:]
}

// Float8 is a 64-bit floating point value (OID 701, float8).
type Float8 float64

func (v Float8) EncodeText() []byte {
	return strconv.AppendFloat(nil, float64(v), 'g', -1, 64)
}

func (v Float8) EncodeBinary() []byte {
	var buf [8]byte
	putBEUint64(buf[:], math.Float64bits(float64(v)))
	return buf[:]
}

// Text is a string value, encoded identically in both formats (OID 25, text).
type Text string

func (v Text) EncodeText() []byte   { return []byte(v) }
func (v Text) EncodeBinary() []byte { return []byte(v) }

// Bool is a boolean value (OID 16, bool).
type Bool bool

func (v Bool) EncodeText() []byte {
	if v {
		return []byte("t")
	}
	return []byte("f")
}

func (v Bool) EncodeBinary() []byte {
	if v {
		return []byte{1}
	}
	return []byte{0}
}

// Bytes is a raw byte-string value, passed through unmodified regardless of
// format code (OID 17, bytea, in its binary sense; used as-is for text too).
type Bytes []byte

func (v Bytes) EncodeText() []byte   { return v }
func (v Bytes) EncodeBinary() []byte { return v }

// pgDateEpoch is the Postgres date epoch, 2000-01-01.
var pgDateEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Date is a calendar date value with no time-of-day component (OID 1082,
// date).
type Date time.Time

func (v Date) EncodeText() []byte {
	return []byte(time.Time(v).Format("2006-01-02"))
}

func (v Date) EncodeBinary() []byte {
	days := int64(time.Time(v).Sub(pgDateEpoch).Hours() / 24)
	return beInt(days, 4)
}

// Time is a time-of-day value with no date component (OID 1083, time).
type Time time.Duration

func (v Time) EncodeText() []byte {
	d := time.Duration(v)
	base := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(d)
	return []byte(base.Format("15:04:05.999999"))
}

func (v Time) EncodeBinary() []byte {
	micros := int64(time.Duration(v) / time.Microsecond)
	return beInt(micros, 8)
}

// Timestamp is an absolute date and time value, without time zone (OID 1114,
// timestamp).
type Timestamp time.Time

func (v Timestamp) EncodeText() []byte {
	return []byte(time.Time(v).UTC().Format("2006-01-02 15:04:05.999999"))
}

func (v Timestamp) EncodeBinary() []byte {
	micros := time.Time(v).UTC().Sub(pgDateEpoch).Microseconds()
	return beInt(micros, 8)
}

// Numeric is an arbitrary-precision decimal value (OID 1700, numeric). The
// binary wire form (ndigits/weight/sign/dscale header followed by base-10000
// digit groups) is delegated to pgtype's own NUMERIC codec rather than
// reimplemented, since getting the NBASE math wrong silently corrupts data.
type Numeric decimal.Decimal

func (v Numeric) EncodeText() []byte {
	return []byte(decimal.Decimal(v).String())
}

func (v Numeric) EncodeBinary() []byte {
	d := decimal.Decimal(v)
	num := pgtype.Numeric{
		Int:   new(big.Int).Set(d.Coefficient()),
		Exp:   d.Exponent(),
		Valid: true,
	}

	m := pgtype.NewMap()
	plan := m.PlanEncode(pgtype.NumericOID, pgtype.BinaryFormatCode, num)
	if plan == nil {
		// Should not happen: pgtype always has a binary plan for its own
		// Numeric type. Surface loudly rather than silently emit garbage.
		panic(fmt.Sprintf("wireval: no binary encode plan for numeric %s", d))
	}

	buf, err := plan.Encode(num, nil)
	if err != nil {
		panic(fmt.Sprintf("wireval: failed to encode numeric %s: %v", d, err))
	}

	return buf
}

func beInt(v int64, width int) []byte {
	buf := make([]byte, width)
	u := uint64(v)
	for i := width - 1; i >= 0; i-- {
		buf[i] = byte(u)
		u >>= 8
	}
	return buf
}

func putBEUint64(buf []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
}
