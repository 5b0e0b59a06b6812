package convergence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/lib/pq/oid"
	pg_query "github.com/pganalyze/pg_query_go/v6"

	"github.com/reservoirdb/convergence/codes"
	psqlerr "github.com/reservoirdb/convergence/errors"
	"github.com/reservoirdb/convergence/pkg/buffer"
	"github.com/reservoirdb/convergence/pkg/types"
)

// errTerminate is returned by step when the client sends a Terminate
// message. It always ends the connection, without writing a response.
var errTerminate = errors.New("convergence: client terminated the connection")

// preparedStatement is the state associated with a name bound by a Parse
// message. A nil stmt represents the empty statement (a query string
// containing no commands), which is never handed to an Engine.
type preparedStatement struct {
	stmt        *Statement
	description Description
}

// boundPortal is the state associated with a name bound by a Bind message.
// A nil portal represents a portal bound from the empty statement.
type boundPortal struct {
	portal Portal
	fields []FieldDescription
	format FormatCode
}

// Session represents a single client connection: its negotiated parameters,
// its prepared statements and portals, and the Engine instance backing it.
// Message handling within a Session is strictly sequential; the state
// machine never calls into its Engine concurrently.
type Session struct {
	logger  *slog.Logger
	factory EngineFactory
	engine  Engine
	version string
	metrics *Metrics

	statements map[string]*preparedStatement
	portals    map[string]*boundPortal
}

// run drives the connection from the startup handshake through the Idle
// command loop until the client terminates the connection, sends a message
// that is fatal to the protocol, or the underlying transport fails.
func (s *Session) run(ctx context.Context, conn net.Conn, reader *buffer.Reader, writer *buffer.Writer) error {
	ctx, err := s.startup(ctx, conn, reader, writer)
	if err != nil {
		return err
	}
	if ctx == nil {
		// A CancelRequest was handled; nothing more to do on this connection.
		return nil
	}

	for {
		err := s.step(ctx, reader, writer)
		if err == nil {
			continue
		}

		if errors.Is(err, errTerminate) {
			return nil
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if code := psqlerr.GetCode(err); code != codes.Uncategorized {
			s.metrics.errorSent(string(code))

			if werr := writeErrorResponse(writer, err); werr != nil {
				return werr
			}

			if isFatal(err) {
				return err
			}

			if werr := readyForQuery(writer, types.ServerIdle); werr != nil {
				return werr
			}

			continue
		}

		// An error with no recognizable Postgres error code is a transport or
		// programming failure, not a reportable SQL condition: tell the
		// client the connection is dying and give up.
		s.metrics.errorSent(string(codes.ConnectionException))
		fatal := psqlerr.WithSeverity(psqlerr.WithCode(err, codes.ConnectionException), psqlerr.LevelFatal)
		_ = writeErrorResponse(writer, fatal)
		return err
	}
}

// startup performs the Startup-state handshake: version/SSL negotiation,
// client parameter exchange, engine construction, and the authentication
// and ParameterStatus exchange that precedes the first ReadyForQuery.
// Returns a nil context (with a nil error) when the connection turned out to
// be a CancelRequest, which carries no further work.
func (s *Session) startup(ctx context.Context, conn net.Conn, reader *buffer.Reader, writer *buffer.Writer) (context.Context, error) {
	version, err := readVersion(reader)
	if err != nil {
		return nil, err
	}

	for version == types.VersionSSLRequest {
		if _, err := conn.Write(sslUnsupported); err != nil {
			return nil, err
		}

		version, err = readVersion(reader)
		if err != nil {
			return nil, err
		}
	}

	if version == types.VersionCancel {
		if _, _, err := readCancelRequest(reader); err != nil {
			return nil, err
		}

		s.logger.Debug("received cancel request; no cancellation handler configured")
		return nil, nil
	}

	if version != types.Version30 {
		return nil, newProtocolViolation(fmt.Sprintf("unsupported startup version %d", version))
	}

	clientParams, err := readClientParameters(reader)
	if err != nil {
		return nil, err
	}
	ctx = setClientParameters(ctx, clientParams)

	engine, err := s.factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("convergence: failed to construct engine: %w", err)
	}
	s.engine = engine

	if err := writeAuthenticationOk(writer); err != nil {
		return nil, err
	}

	serverParams := make(Parameters)
	for _, status := range startupParameterStatuses(s.version) {
		if err := writeParameterStatus(writer, status.key, status.value); err != nil {
			return nil, err
		}
		serverParams[status.key] = status.value
	}
	ctx = setServerParameters(ctx, serverParams)

	if err := readyForQuery(writer, types.ServerIdle); err != nil {
		return nil, err
	}

	return ctx, nil
}

// step reads and dispatches exactly one client message. It returns
// errTerminate on a graceful Terminate, a Postgres-coded error (via the
// errors package) for any reportable SQL condition, or a raw error for a
// transport failure.
func (s *Session) step(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	t, length, err := reader.ReadTypedMsg()
	if err != nil {
		return err
	}

	s.logger.Debug("<- incoming command", slog.String("type", t.String()), slog.Int("length", length))
	s.metrics.command(t)

	switch t {
	case types.ClientParse:
		return s.handleParse(ctx, reader, writer)
	case types.ClientBind:
		return s.handleBind(ctx, reader, writer)
	case types.ClientDescribe:
		return s.handleDescribe(reader, writer)
	case types.ClientSync:
		return readyForQuery(writer, types.ServerIdle)
	case types.ClientExecute:
		return s.handleExecute(ctx, reader, writer)
	case types.ClientSimpleQuery:
		return s.handleQuery(ctx, reader, writer)
	case types.ClientClose:
		return s.handleClose(reader, writer)
	case types.ClientFlush:
		// No internal buffering spans messages, so there is nothing to flush.
		return nil
	case types.ClientCopyData, types.ClientCopyDone, types.ClientCopyFail:
		return nil
	case types.ClientTerminate:
		return errTerminate
	default:
		return newIdleProtocolViolation(fmt.Sprintf("unexpected message type %q in this connection state", string(rune(t))))
	}
}

// parseQuery parses a SQL string using the Postgres dialect. It returns a
// nil Statement for an empty (whitespace/comment-only) query, matching the
// "zero statements" case of the original implementation's parser.
func parseQuery(sql string) (*Statement, error) {
	tree, err := pg_query.Parse(sql)
	if err != nil {
		return nil, newSyntaxError(err.Error())
	}

	switch len(tree.Stmts) {
	case 0:
		return nil, nil
	case 1:
		return &Statement{SQL: sql, AST: tree.Stmts[0]}, nil
	default:
		return nil, newSyntaxError("expected zero or one statements")
	}
}

func (s *Session) handleParse(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	name, err := reader.GetString()
	if err != nil {
		return err
	}

	query, err := reader.GetString()
	if err != nil {
		return err
	}

	numParamTypes, err := reader.GetUint16()
	if err != nil {
		return err
	}

	// The client may pre-specify parameter type OIDs here; the engine's own
	// Prepare result is authoritative, so these are only consumed to keep
	// the message framing correct.
	for i := uint16(0); i < numParamTypes; i++ {
		if _, err := reader.GetUint32(); err != nil {
			return err
		}
	}

	stmt, err := parseQuery(query)
	if err != nil {
		return err
	}

	prepared := &preparedStatement{stmt: stmt}
	if stmt != nil {
		description, err := s.engine.Prepare(ctx, stmt)
		if err != nil {
			return err
		}
		prepared.description = description
	}

	s.statements[name] = prepared

	writer.Start(types.ServerParseComplete)
	return writer.End()
}

func (s *Session) handleBind(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	portalName, err := reader.GetString()
	if err != nil {
		return err
	}

	stmtName, err := reader.GetString()
	if err != nil {
		return err
	}

	// Parameter format codes: read and discard. Per-parameter formats are
	// not distinguished downstream; the engine interprets raw parameter
	// bytes using only the parameter OIDs from the statement description.
	numParamFormats, err := reader.GetUint16()
	if err != nil {
		return err
	}
	for i := uint16(0); i < numParamFormats; i++ {
		if _, err := reader.GetUint16(); err != nil {
			return err
		}
	}

	numParamValues, err := reader.GetUint16()
	if err != nil {
		return err
	}

	rawParams := make([][]byte, numParamValues)
	for i := uint16(0); i < numParamValues; i++ {
		n, err := reader.GetInt32()
		if err != nil {
			return err
		}

		value, err := reader.GetBytes(int(n))
		if err != nil {
			return err
		}
		rawParams[i] = value
	}

	resultFormat, err := readResultFormat(reader)
	if err != nil {
		return err
	}

	prepared, ok := s.statements[stmtName]
	if !ok {
		return errInvalidStatementName(stmtName)
	}

	bound := &boundPortal{format: resultFormat}
	if prepared.stmt != nil {
		if len(rawParams) != len(prepared.description.ParameterOIDs) {
			return newSyntaxError(fmt.Sprintf("wrong number of parameters for prepared statement %q", stmtName))
		}

		portal, err := s.engine.CreateAndBindPortal(ctx, prepared.stmt, prepared.description.ParameterOIDs, rawParams)
		if err != nil {
			return err
		}

		bound.portal = portal
		bound.fields = prepared.description.Fields
	}

	s.portals[portalName] = bound

	writer.Start(types.ServerBindComplete)
	return writer.End()
}

// readResultFormat reads the Bind message's result-format-codes section and
// collapses it to the single format code that applies uniformly to every
// result column. Per-column result formats are not supported.
func readResultFormat(reader *buffer.Reader) (FormatCode, error) {
	length, err := reader.GetUint16()
	if err != nil {
		return TextFormat, err
	}

	if length == 0 {
		return TextFormat, nil
	}

	first, err := reader.GetUint16()
	if err != nil {
		return TextFormat, err
	}

	for i := uint16(1); i < length; i++ {
		next, err := reader.GetUint16()
		if err != nil {
			return TextFormat, err
		}

		if next != first {
			return TextFormat, psqlerr.WithSeverity(
				psqlerr.WithCode(errString("per-column format codes are not supported"), codes.FeatureNotSupported),
				psqlerr.LevelError,
			)
		}
	}

	return FormatCode(first), nil
}

func (s *Session) handleDescribe(reader *buffer.Reader, writer *buffer.Writer) error {
	kind, err := reader.GetPrepareType()
	if err != nil {
		return err
	}

	name, err := reader.GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(kind) {
	case types.DescribeStatement:
		prepared, ok := s.statements[name]
		if !ok {
			return errInvalidStatementName(name)
		}

		if err := writeParameterDescription(writer, prepared.description.ParameterOIDs); err != nil {
			return err
		}

		return writeRowDescription(writer, prepared.description.Fields, TextFormat)
	case types.DescribePortal:
		bound, ok := s.portals[name]
		if !ok {
			return errInvalidCursorName(name)
		}

		if bound.portal == nil {
			writer.Start(types.ServerNoData)
			return writer.End()
		}

		return writeRowDescription(writer, bound.fields, bound.format)
	default:
		return newIdleProtocolViolation(fmt.Sprintf("unknown describe target %q", string(kind)))
	}
}

func (s *Session) handleExecute(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	name, err := reader.GetString()
	if err != nil {
		return err
	}

	// The maximum row count is accepted on the wire and discarded: the
	// Engine/Portal capability surface executes a portal to completion in a
	// single call, with no incremental-fetch hook to cap against.
	if _, err := reader.GetUint32(); err != nil {
		return err
	}

	bound, ok := s.portals[name]
	if !ok {
		return errInvalidCursorName(name)
	}

	if bound.portal == nil {
		writer.Start(types.ServerEmptyQuery)
		return writer.End()
	}

	batch := NewDataRowBatchFromFields(bound.fields, bound.format)
	if err := bound.portal.Execute(ctx, batch); err != nil {
		return err
	}

	if _, err := writer.Write(batch.Bytes()); err != nil {
		return err
	}

	return writeCommandComplete(writer, fmt.Sprintf("SELECT %d", batch.NumRows()))
}

func (s *Session) handleQuery(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) error {
	query, err := reader.GetString()
	if err != nil {
		return err
	}

	s.logger.Debug("incoming simple query", slog.String("query", query))

	stmt, err := parseQuery(query)
	if err != nil {
		return err
	}

	if stmt == nil {
		writer.Start(types.ServerEmptyQuery)
		if err := writer.End(); err != nil {
			return err
		}
		return readyForQuery(writer, types.ServerIdle)
	}

	portal, err := s.engine.CreatePortal(ctx, stmt)
	if err != nil {
		return err
	}

	batch := NewDataRowBatch(TextFormat)
	fields, err := portal.Fetch(ctx, batch)
	if err != nil {
		return err
	}

	if err := writeRowDescription(writer, fields, TextFormat); err != nil {
		return err
	}

	if _, err := writer.Write(batch.Bytes()); err != nil {
		return err
	}

	if err := writeCommandComplete(writer, fmt.Sprintf("SELECT %d", batch.NumRows())); err != nil {
		return err
	}

	return readyForQuery(writer, types.ServerIdle)
}

func (s *Session) handleClose(reader *buffer.Reader, writer *buffer.Writer) error {
	kind, err := reader.GetPrepareType()
	if err != nil {
		return err
	}

	name, err := reader.GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(kind) {
	case types.DescribeStatement:
		delete(s.statements, name)
	case types.DescribePortal:
		delete(s.portals, name)
	}

	writer.Start(types.ServerCloseComplete)
	return writer.End()
}

func errInvalidStatementName(name string) error {
	err := psqlerr.WithHint(
		fmt.Errorf("missing statement %q", name),
		"send a Parse message naming this statement before Bind or Describe references it",
	)
	return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.InvalidSQLStatementName), psqlerr.LevelError)
}

func errInvalidCursorName(name string) error {
	err := psqlerr.WithDetail(
		fmt.Errorf("missing portal %q", name),
		"portals must be bound with Bind before Describe or Execute can reference them by name",
	)
	return psqlerr.WithSeverity(psqlerr.WithCode(err, codes.InvalidCursorName), psqlerr.LevelError)
}

// writeParameterDescription writes a ParameterDescription message listing
// the object IDs of a prepared statement's bind parameters.
func writeParameterDescription(writer *buffer.Writer, oids []oid.Oid) error {
	writer.Start(types.ServerParameterDescription)
	writer.AddInt16(int16(len(oids)))

	for _, o := range oids {
		writer.AddInt32(int32(o))
	}

	return writer.End()
}

// writeRowDescription writes a RowDescription message describing fields,
// reporting every column using the given uniform format code.
func writeRowDescription(writer *buffer.Writer, fields []FieldDescription, format FormatCode) error {
	writer.Start(types.ServerRowDescription)
	writer.AddInt16(int16(len(fields)))

	for _, field := range fields {
		writer.AddString(field.Name)
		writer.AddNullTerminate()
		writer.AddInt32(int32(field.Table))
		writer.AddInt16(0) // column attribute number; not tracked
		writer.AddInt32(int32(field.Oid))
		writer.AddInt16(field.Width)
		writer.AddInt32(-1) // type modifier; unused
		writer.AddInt16(int16(format))
	}

	return writer.End()
}

// writeCommandComplete writes a CommandComplete message carrying tag (e.g.
// "SELECT 3").
func writeCommandComplete(writer *buffer.Writer, tag string) error {
	writer.Start(types.ServerCommandComplete)
	writer.AddString(tag)
	writer.AddNullTerminate()
	return writer.End()
}
