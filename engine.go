package convergence

import (
	"context"

	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"
)

// Statement represents a single parsed SQL statement. The empty statement (a
// query string containing no commands) is represented inside the Session by a
// nil *Statement and is never handed to an Engine.
type Statement struct {
	// SQL holds the original, unparsed statement text.
	SQL string
	// AST holds the libpg_query parse tree for SQL. It is never nil for a
	// Statement an Engine is asked to prepare or run.
	AST *pg_query.RawStmt
}

// FieldDescription describes a single column of a result set, as reported to
// the client inside a RowDescription message.
type FieldDescription struct {
	Table  oid.Oid
	Name   string
	Oid    oid.Oid
	Width  int16
	Format FormatCode
}

// Description describes the shape of a prepared statement: the types of its
// bind parameters and the fields of the rows it produces.
type Description struct {
	// ParameterOIDs are the object IDs of the statement's bind parameters, in
	// positional order.
	ParameterOIDs []oid.Oid
	// Fields describes the columns of the result set. A nil or empty Fields
	// means the statement returns no rows (e.g. an INSERT).
	Fields []FieldDescription
}

// Engine is the external collaborator that gives a wire Session something to
// talk to. It owns SQL planning and execution; the Session only drives the
// protocol around it. Implementations are invoked sequentially: the Session
// never calls into an Engine concurrently for the same connection.
type Engine interface {
	// Prepare plans stmt for later binding and returns the shape of its
	// parameters and result columns. Called once per Parse message that
	// contains a non-empty statement.
	Prepare(ctx context.Context, stmt *Statement) (Description, error)

	// CreateAndBindPortal binds rawParams (encoded per paramOIDs) against a
	// previously prepared stmt and returns a Portal ready for Execute.
	// Called once per Bind message that targets a non-empty statement.
	CreateAndBindPortal(ctx context.Context, stmt *Statement, paramOIDs []oid.Oid, rawParams [][]byte) (Portal, error)

	// CreatePortal plans and binds stmt in one step, for the simple query
	// protocol (where there is no separate Parse/Bind). Called once per Query
	// message that contains a non-empty statement.
	CreatePortal(ctx context.Context, stmt *Statement) (Portal, error)
}

// Portal is a bound, executable instance of a statement. A Portal is driven
// either through Execute (extended query protocol) or Fetch (simple query
// protocol), never both. A portal created by CreatePortal is fetched once; a
// portal created by CreateAndBindPortal has Execute called again for every
// Execute message that names it.
type Portal interface {
	// Execute runs the portal to completion, writing every result row into
	// batch. Used by the extended query protocol, where the row shape is
	// already known from the prior Describe/Bind exchange.
	Execute(ctx context.Context, batch *DataRowBatch) error

	// Fetch runs the portal to completion, writing every result row into
	// batch, and returns the field descriptions of the rows produced. Used by
	// the simple query protocol, where the client has not already described
	// the result shape.
	Fetch(ctx context.Context, batch *DataRowBatch) ([]FieldDescription, error)
}
