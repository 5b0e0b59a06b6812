// Package testengine provides a minimal convergence.Engine backed by a
// single in-memory Arrow record batch. It ignores the SQL text entirely and
// always returns its one fixed table: it exists to exercise the wire
// protocol state machine without pulling in a real SQL planner, which is
// explicitly out of scope for convergence itself.
package testengine

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/lib/pq/oid"

	"github.com/reservoirdb/convergence"
)

// Engine is a fixed "people" table: name (text), member (bool), age (int4).
type Engine struct {
	record arrow.Record
	fields []convergence.FieldDescription
}

// New constructs an Engine over a small built-in dataset.
func New() *Engine {
	pool := memory.NewGoAllocator()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String},
		{Name: "member", Type: arrow.FixedWidthTypes.Boolean},
		{Name: "age", Type: arrow.PrimitiveTypes.Int32},
	}, nil)

	builder := array.NewRecordBuilder(pool, schema)
	defer builder.Release()

	builder.Field(0).(*array.StringBuilder).AppendValues([]string{"John", "Marry"}, nil)
	builder.Field(1).(*array.BooleanBuilder).AppendValues([]bool{true, false}, nil)
	builder.Field(2).(*array.Int32Builder).AppendValues([]int32{29, 21}, nil)

	return &Engine{
		record: builder.NewRecord(),
		fields: []convergence.FieldDescription{
			{Name: "name", Oid: oid.T_text, Width: 256, Format: convergence.TextFormat},
			{Name: "member", Oid: oid.T_bool, Width: 1, Format: convergence.TextFormat},
			{Name: "age", Oid: oid.T_int4, Width: 4, Format: convergence.TextFormat},
		},
	}
}

// Prepare always describes the fixed table regardless of stmt, since this
// engine has no planner to consult.
func (e *Engine) Prepare(ctx context.Context, stmt *convergence.Statement) (convergence.Description, error) {
	return convergence.Description{Fields: e.fields}, nil
}

// CreateAndBindPortal ignores rawParams; the fixed table takes no parameters.
func (e *Engine) CreateAndBindPortal(ctx context.Context, stmt *convergence.Statement, paramOIDs []oid.Oid, rawParams [][]byte) (convergence.Portal, error) {
	return &portal{engine: e}, nil
}

// CreatePortal binds the fixed table for the simple query protocol.
func (e *Engine) CreatePortal(ctx context.Context, stmt *convergence.Statement) (convergence.Portal, error) {
	return &portal{engine: e}, nil
}

type portal struct {
	engine *Engine
}

func (p *portal) Execute(ctx context.Context, batch *convergence.DataRowBatch) error {
	return writeRecord(p.engine.record, batch)
}

func (p *portal) Fetch(ctx context.Context, batch *convergence.DataRowBatch) ([]convergence.FieldDescription, error) {
	batch.SetNumCols(len(p.engine.fields))

	if err := writeRecord(p.engine.record, batch); err != nil {
		return nil, err
	}

	return p.engine.fields, nil
}

func writeRecord(record arrow.Record, batch *convergence.DataRowBatch) error {
	names := record.Column(0).(*array.String)
	members := record.Column(1).(*array.Boolean)
	ages := record.Column(2).(*array.Int32)

	for i := 0; i < int(record.NumRows()); i++ {
		row := batch.CreateRow()
		row.WriteString(names.Value(i))
		row.WriteBool(members.Value(i))
		row.WriteInt4(ages.Value(i))
		row.Finish()
	}

	return nil
}
