package convergence

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reservoirdb/convergence/pkg/wireval"
)

func TestDataRowBatchSingleRow(t *testing.T) {
	batch := NewDataRowBatch(TextFormat)
	batch.SetNumCols(2)

	row := batch.CreateRow()
	row.WriteString("alice")
	row.WriteInt4(42)
	row.Finish()

	assert.Equal(t, 1, batch.NumRows())
	assert.Equal(t, 2, batch.NumCols())

	data := batch.Bytes()
	require.Equal(t, byte('D'), data[0])

	length := binary.BigEndian.Uint32(data[1:5])
	assert.Equal(t, uint32(len(data)-1), length)

	numCols := binary.BigEndian.Uint16(data[5:7])
	assert.Equal(t, uint16(2), numCols)

	col1Len := binary.BigEndian.Uint32(data[7:11])
	assert.Equal(t, uint32(len("alice")), col1Len)
	assert.Equal(t, "alice", string(data[11:11+col1Len]))

	rest := data[11+col1Len:]
	col2Len := binary.BigEndian.Uint32(rest[:4])
	assert.Equal(t, uint32(len("42")), col2Len)
	assert.Equal(t, "42", string(rest[4:4+col2Len]))
}

func TestDataRowBatchNull(t *testing.T) {
	batch := NewDataRowBatch(TextFormat)
	batch.SetNumCols(1)

	row := batch.CreateRow()
	row.WriteNull()
	row.Finish()

	data := batch.Bytes()
	length := binary.BigEndian.Uint32(data[7:11])
	assert.Equal(t, uint32(0xFFFFFFFF), length, "NULL column length must be -1")
}

func TestDataRowBatchMultipleRows(t *testing.T) {
	batch := NewDataRowBatch(BinaryFormat)
	batch.SetNumCols(1)

	for _, v := range []int32{1, 2, 3} {
		row := batch.CreateRow()
		row.WriteInt4(v)
		row.Finish()
	}

	assert.Equal(t, 3, batch.NumRows())

	data := batch.Bytes()
	messages := 0
	for len(data) > 0 {
		require.Equal(t, byte('D'), data[0])
		msgLen := binary.BigEndian.Uint32(data[1:5])
		data = data[1+msgLen:]
		messages++
	}
	assert.Equal(t, 3, messages)
}

func TestDataRowWriterTooManyColumnsPanics(t *testing.T) {
	batch := NewDataRowBatch(TextFormat)
	batch.SetNumCols(1)

	row := batch.CreateRow()
	row.WriteInt4(1)

	assert.Panics(t, func() {
		row.WriteInt4(2)
	})
}

func TestDataRowWriterFinishWithTooFewColumnsPanics(t *testing.T) {
	batch := NewDataRowBatch(TextFormat)
	batch.SetNumCols(2)

	row := batch.CreateRow()
	row.WriteInt4(1)

	assert.Panics(t, func() {
		row.Finish()
	})
}

func TestDataRowBatchBinaryFormat(t *testing.T) {
	batch := NewDataRowBatch(BinaryFormat)
	batch.SetNumCols(1)

	row := batch.CreateRow()
	row.Write(wireval.Int4(7))
	row.Finish()

	data := batch.Bytes()
	colLen := binary.BigEndian.Uint32(data[7:11])
	require.Equal(t, uint32(4), colLen)
	assert.Equal(t, int32(7), int32(binary.BigEndian.Uint32(data[11:15])))
}
