package wireval

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntEncodings(t *testing.T) {
	assert.Equal(t, "42", string(Int4(42).EncodeText()))
	assert.Equal(t, int32(42), int32(binary.BigEndian.Uint32(Int4(42).EncodeBinary())))

	assert.Equal(t, "-7", string(Int2(-7).EncodeText()))
	assert.Equal(t, int16(-7), int16(binary.BigEndian.Uint16(Int2(-7).EncodeBinary())))

	assert.Equal(t, "9999999999", string(Int8(9999999999).EncodeText()))
	assert.Equal(t, int64(9999999999), int64(binary.BigEndian.Uint64(Int8(9999999999).EncodeBinary())))
}

func TestInt1Encoding(t *testing.T) {
	assert.Equal(t, "-12", string(Int1(-12).EncodeText()))
	assert.Equal(t, []byte{0xf4}, Int1(-12).EncodeBinary())
}

func TestFloatEncodings(t *testing.T) {
	bits := binary.BigEndian.Uint32(Float4(1.5).EncodeBinary())
	assert.Equal(t, math.Float32bits(1.5), bits)

	bits64 := binary.BigEndian.Uint64(Float8(2.25).EncodeBinary())
	assert.Equal(t, math.Float64bits(2.25), bits64)
}

func TestBoolEncoding(t *testing.T) {
	assert.Equal(t, []byte("t"), Bool(true).EncodeText())
	assert.Equal(t, []byte("f"), Bool(false).EncodeText())
	assert.Equal(t, []byte{1}, Bool(true).EncodeBinary())
	assert.Equal(t, []byte{0}, Bool(false).EncodeBinary())
}

func TestDateEncoding(t *testing.T) {
	d := Date(time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, "2000-01-02", string(d.EncodeText()))

	days := int32(binary.BigEndian.Uint32(d.EncodeBinary()))
	assert.Equal(t, int32(1), days)
}

func TestTimestampEncoding(t *testing.T) {
	ts := Timestamp(time.Date(2000, 1, 1, 0, 0, 1, 0, time.UTC))
	micros := int64(binary.BigEndian.Uint64(ts.EncodeBinary()))
	assert.Equal(t, int64(time.Second/time.Microsecond), micros)
}

func TestNumericEncoding(t *testing.T) {
	d := decimal.RequireFromString("123.45")
	n := Numeric(d)

	assert.Equal(t, "123.45", string(n.EncodeText()))
	require.NotPanics(t, func() {
		n.EncodeBinary()
	})
}

func TestTextAndBytesPassthrough(t *testing.T) {
	assert.Equal(t, []byte("hello"), Text("hello").EncodeText())
	assert.Equal(t, []byte("hello"), Text("hello").EncodeBinary())

	raw := []byte{1, 2, 3}
	assert.Equal(t, raw, Bytes(raw).EncodeText())
	assert.Equal(t, raw, Bytes(raw).EncodeBinary())
}
