package convergence

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxConnectionID ctxKey = iota
	ctxClientMetadata
	ctxServerMetadata
)

// Parameters represents a collection of parameter status keys and their
// values, as exchanged during the startup phase (client to server) and
// reported back afterwards (server to client).
type Parameters map[ParameterStatus]string

// ParameterStatus represents a metadata key that can be carried inside a
// server/client parameter exchange.
type ParameterStatus string

// Known parameter keys. The first six form the hard-wired set for which a
// ParameterStatus message is generated during the startup handshake (see
// startupParameterStatuses); application_name, database and user name
// client-supplied startup parameters and are not reported back.
// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-ASYNC
const (
	ParamServerVersion     ParameterStatus = "server_version"
	ParamServerEncoding    ParameterStatus = "server_encoding"
	ParamClientEncoding    ParameterStatus = "client_encoding"
	ParamDateStyle         ParameterStatus = "DateStyle"
	ParamTimeZone          ParameterStatus = "TimeZone"
	ParamIntegerDatetimes  ParameterStatus = "integer_datetimes"
	ParamApplicationName   ParameterStatus = "application_name"
	ParamDatabase          ParameterStatus = "database"
	ParamUsername          ParameterStatus = "user"
)

func setConnectionID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxConnectionID, id)
}

// ConnectionID returns the connection id minted for the session the given
// context belongs to. The server tags the connection's log lines with it; it
// is not used by any metric and is never sent on the wire.
func ConnectionID(ctx context.Context) uuid.UUID {
	val := ctx.Value(ctxConnectionID)
	if val == nil {
		return uuid.Nil
	}

	return val.(uuid.UUID)
}

func setClientParameters(ctx context.Context, params Parameters) context.Context {
	if params == nil {
		return ctx
	}

	return context.WithValue(ctx, ctxClientMetadata, params)
}

// ClientParameters returns the connection parameters sent by the client
// during startup, if any were set inside the given context.
func ClientParameters(ctx context.Context) Parameters {
	val := ctx.Value(ctxClientMetadata)
	if val == nil {
		return nil
	}

	return val.(Parameters)
}

func setServerParameters(ctx context.Context, params Parameters) context.Context {
	if params == nil {
		return ctx
	}

	return context.WithValue(ctx, ctxServerMetadata, params)
}

// ServerParameters returns the parameters the server reported back to the
// client during startup, if any were set inside the given context.
func ServerParameters(ctx context.Context) Parameters {
	val := ctx.Value(ctxServerMetadata)
	if val == nil {
		return nil
	}

	return val.(Parameters)
}
