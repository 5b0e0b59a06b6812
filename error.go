package convergence

import (
	"strconv"

	"github.com/reservoirdb/convergence/codes"
	psqlerr "github.com/reservoirdb/convergence/errors"
	"github.com/reservoirdb/convergence/pkg/buffer"
	"github.com/reservoirdb/convergence/pkg/types"
)

// writeErrorResponse writes err as a Postgres ErrorResponse message.
// https://www.postgresql.org/docs/current/static/protocol-error-fields.html
func writeErrorResponse(writer *buffer.Writer, err error) error {
	desc := psqlerr.Flatten(err)

	writer.Start(types.ServerErrorResponse)

	writer.AddByte(byte(buffer.ServerErrFieldSeverity))
	writer.AddString(string(desc.Severity))
	writer.AddNullTerminate()
	writer.AddByte(byte(buffer.ServerErrFieldSQLState))
	writer.AddString(string(desc.Code))
	writer.AddNullTerminate()
	writer.AddByte(byte(buffer.ServerErrFieldMsgPrimary))
	writer.AddString(desc.Message)
	writer.AddNullTerminate()

	if desc.Hint != "" {
		writer.AddByte(byte(buffer.ServerErrFieldHint))
		writer.AddString(desc.Hint)
		writer.AddNullTerminate()
	}

	if desc.Detail != "" {
		writer.AddByte(byte(buffer.ServerErrFieldDetail))
		writer.AddString(desc.Detail)
		writer.AddNullTerminate()
	}

	if desc.Source != nil {
		writer.AddByte(byte(buffer.ServerErrFieldSrcFile))
		writer.AddString(desc.Source.File)
		writer.AddNullTerminate()

		writer.AddByte(byte(buffer.ServerErrFieldSrcLine))
		writer.AddString(strconv.Itoa(int(desc.Source.Line)))
		writer.AddNullTerminate()

		writer.AddByte(byte(buffer.ServerErrFieldSrcFunction))
		writer.AddString(desc.Source.Function)
		writer.AddNullTerminate()
	}

	writer.AddNullTerminate()
	return writer.End()
}

// isFatal reports whether err carries FATAL or PANIC severity, in which case
// the connection must be terminated instead of returning to Idle.
func isFatal(err error) bool {
	switch psqlerr.DefaultSeverity(psqlerr.GetSeverity(err)) {
	case psqlerr.LevelFatal, psqlerr.LevelPanic:
		return true
	default:
		return false
	}
}

// newSyntaxError wraps a SQL parse failure as a Postgres syntax error.
func newSyntaxError(msg string) error {
	return psqlerr.WithSeverity(psqlerr.WithCode(errString(msg), codes.Syntax), psqlerr.LevelError)
}

// newProtocolViolation wraps a malformed-startup condition as a fatal
// protocol violation: the connection cannot be recovered without a valid
// startup message, so this is only used during Startup negotiation.
func newProtocolViolation(msg string) error {
	return psqlerr.WithSeverity(psqlerr.WithCode(errString(msg), codes.ProtocolViolation), psqlerr.LevelFatal)
}

// newIdleProtocolViolation wraps a well-formed-but-unexpected message
// received while Idle (e.g. a decoded message type with no dispatch arm) as a
// non-fatal protocol violation: the connection reports the error and returns
// to Idle, matching connection.rs's Idle-state default arm
// (`ErrorResponse::error`, not `::fatal`).
func newIdleProtocolViolation(msg string) error {
	return psqlerr.WithSeverity(psqlerr.WithCode(errString(msg), codes.ProtocolViolation), psqlerr.LevelError)
}

type errString string

func (e errString) Error() string { return string(e) }
