package convergence

import (
	"encoding/binary"
	"time"

	"github.com/reservoirdb/convergence/pkg/wireval"
)

// DataRowBatch accumulates the DataRow messages produced while executing or
// fetching a portal. Rows are appended with CreateRow, which hands back a
// DataRowWriter responsible for encoding exactly one row's columns.
//
// This mirrors the original connection.rs's DataRowBatch/DataRowWriter pair
// byte for byte; the one structural difference is that Go has no Drop, so
// finishing a row is an explicit DataRowWriter.Finish call instead of an
// implicit destructor running at scope exit.
type DataRowBatch struct {
	format  FormatCode
	numCols int
	numRows int
	data    []byte
	row     []byte
}

// NewDataRowBatch creates an empty batch that will encode every row using
// format. Used by the simple query protocol, where the column count is not
// known in advance: the engine's Fetch sets it with SetNumCols before
// creating any row.
func NewDataRowBatch(format FormatCode) *DataRowBatch {
	return &DataRowBatch{format: format}
}

// NewDataRowBatchFromFields creates a batch pre-sized to the column count of
// fields, as known from a prior Bind/Describe exchange, that encodes every row
// using format (the fields' own Format values are not consulted). Used by the
// extended query protocol.
func NewDataRowBatchFromFields(fields []FieldDescription, format FormatCode) *DataRowBatch {
	return &DataRowBatch{format: format, numCols: len(fields)}
}

// CreateRow begins a new row and returns a writer responsible for encoding
// its columns. The returned writer must have exactly NumCols columns written
// to it, in order, followed by a call to Finish.
func (b *DataRowBatch) CreateRow() *DataRowWriter {
	b.numRows++
	return newDataRowWriter(b)
}

// SetNumCols overrides the batch's expected column count. Only safe to call
// before the first row has been created.
func (b *DataRowBatch) SetNumCols(n int) {
	b.numCols = n
}

// NumCols returns the number of columns each row in this batch is expected
// to have.
func (b *DataRowBatch) NumCols() int {
	return b.numCols
}

// NumRows returns the number of rows written to this batch so far.
func (b *DataRowBatch) NumRows() int {
	return b.numRows
}

// Bytes returns the encoded DataRow messages accumulated so far.
func (b *DataRowBatch) Bytes() []byte {
	return b.data
}

// DataRowWriter encodes the columns of a single row into its parent batch.
// A DataRowWriter is only valid for the lifetime of the row it was created
// for; it must not be retained past the call to Finish.
type DataRowWriter struct {
	currentCol int
	parent     *DataRowBatch
}

func newDataRowWriter(parent *DataRowBatch) *DataRowWriter {
	parent.row = binary.BigEndian.AppendUint16(parent.row, uint16(parent.numCols))
	return &DataRowWriter{parent: parent}
}

// Write encodes val using the row's format code and appends it as the next
// column.
func (w *DataRowWriter) Write(val wireval.Value) {
	if w.parent.format == BinaryFormat {
		w.writeValue(val.EncodeBinary())
	} else {
		w.writeValue(val.EncodeText())
	}
}

func (w *DataRowWriter) writeValue(data []byte) {
	if w.currentCol >= w.parent.numCols {
		panic("convergence: tried to write more columns than specified in the row description")
	}

	w.currentCol++
	w.parent.row = binary.BigEndian.AppendUint32(w.parent.row, uint32(len(data)))
	w.parent.row = append(w.parent.row, data...)
}

// WriteNull writes a SQL NULL for the next column.
func (w *DataRowWriter) WriteNull() {
	if w.currentCol >= w.parent.numCols {
		panic("convergence: tried to write more columns than specified in the row description")
	}

	w.currentCol++
	w.parent.row = binary.BigEndian.AppendUint32(w.parent.row, uint32(int32(-1)))
}

// WriteBytes writes a raw byte-string value for the next column, bypassing
// the format-code dispatch (the caller is asserting the bytes are already in
// the right wire form).
func (w *DataRowWriter) WriteBytes(data []byte) {
	w.writeValue(data)
}

// WriteString writes a text value for the next column.
func (w *DataRowWriter) WriteString(val string) { w.Write(wireval.Text(val)) }

// WriteBool writes a boolean value for the next column.
func (w *DataRowWriter) WriteBool(val bool) { w.Write(wireval.Bool(val)) }

// WriteInt1 writes an 8-bit integer ("char") value for the next column.
func (w *DataRowWriter) WriteInt1(val int8) { w.Write(wireval.Int1(val)) }

// WriteInt2 writes a 16-bit integer value for the next column.
func (w *DataRowWriter) WriteInt2(val int16) { w.Write(wireval.Int2(val)) }

// WriteInt4 writes a 32-bit integer value for the next column.
func (w *DataRowWriter) WriteInt4(val int32) { w.Write(wireval.Int4(val)) }

// WriteInt8 writes a 64-bit integer value for the next column.
func (w *DataRowWriter) WriteInt8(val int64) { w.Write(wireval.Int8(val)) }

// WriteFloat4 writes a 32-bit floating point value for the next column.
func (w *DataRowWriter) WriteFloat4(val float32) { w.Write(wireval.Float4(val)) }

// WriteFloat8 writes a 64-bit floating point value for the next column.
func (w *DataRowWriter) WriteFloat8(val float64) { w.Write(wireval.Float8(val)) }

// WriteDate writes a calendar date value for the next column.
func (w *DataRowWriter) WriteDate(val time.Time) { w.Write(wireval.Date(val)) }

// WriteTime writes a time-of-day value for the next column.
func (w *DataRowWriter) WriteTime(val time.Duration) { w.Write(wireval.Time(val)) }

// WriteTimestamp writes an absolute timestamp value for the next column.
func (w *DataRowWriter) WriteTimestamp(val time.Time) { w.Write(wireval.Timestamp(val)) }

// Finish completes the row, appending its encoded DataRow message to the
// parent batch. Finish panics if fewer or more than NumCols columns were
// written, matching the assert_eq! inside the original Rust Drop impl — a
// column-count mismatch is a programming error in the Engine, not a
// recoverable wire-protocol condition.
func (w *DataRowWriter) Finish() {
	if w.currentCol != w.parent.numCols {
		panic("convergence: finished a row writer with an invalid number of columns")
	}

	w.parent.data = append(w.parent.data, 'D')
	w.parent.data = binary.BigEndian.AppendUint32(w.parent.data, uint32(len(w.parent.row)+4))
	w.parent.data = append(w.parent.data, w.parent.row...)
	w.parent.row = w.parent.row[:0]
}
