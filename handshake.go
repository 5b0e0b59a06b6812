package convergence

import (
	"fmt"

	"github.com/reservoirdb/convergence/pkg/buffer"
	"github.com/reservoirdb/convergence/pkg/types"
)

// readVersion reads a length-prefixed startup message and returns the
// version/request code carried in its first four bytes. The remainder of
// the message body is left buffered inside reader for the caller to consume
// (client parameters for a real startup, or process/secret for a cancel
// request).
func readVersion(reader *buffer.Reader) (types.Version, error) {
	if _, err := reader.ReadUntypedMsg(); err != nil {
		return 0, err
	}

	version, err := reader.GetUint32()
	if err != nil {
		return 0, err
	}

	return types.Version(version), nil
}

// readCancelRequest reads the process ID and secret key that follow the
// version code inside a CancelRequest message.
func readCancelRequest(reader *buffer.Reader) (processID, secretKey int32, err error) {
	processID, err = reader.GetInt32()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read process id from cancel request: %w", err)
	}

	secretKey, err = reader.GetInt32()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read secret key from cancel request: %w", err)
	}

	return processID, secretKey, nil
}

// readyForQuery writes a ReadyForQuery message carrying status, marking the
// end of a command cycle.
func readyForQuery(writer *buffer.Writer, status types.ServerStatus) error {
	writer.Start(types.ServerReady)
	writer.AddByte(byte(status))
	return writer.End()
}

// readClientParameters reads the key/value connection parameters sent by the
// client as part of the startup message body. An empty key marks the end of
// the list.
func readClientParameters(reader *buffer.Reader) (Parameters, error) {
	params := make(Parameters)

	for {
		key, err := reader.GetString()
		if err != nil {
			return nil, err
		}

		if len(key) == 0 {
			break
		}

		value, err := reader.GetString()
		if err != nil {
			return nil, err
		}

		params[ParameterStatus(key)] = value
	}

	return params, nil
}

// startupParameterStatuses is the hard-wired list of ParameterStatus
// messages sent immediately after AuthenticationOk, in this exact order.
// https://www.postgresql.org/docs/current/protocol-flow.html#PROTOCOL-ASYNC
func startupParameterStatuses(version string) []struct {
	key   ParameterStatus
	value string
} {
	if version == "" {
		version = "13"
	}

	return []struct {
		key   ParameterStatus
		value string
	}{
		{ParamServerVersion, version},
		{ParamServerEncoding, "UTF8"},
		{ParamClientEncoding, "UTF8"},
		{ParamDateStyle, "ISO"},
		{ParamTimeZone, "UTC"},
		{ParamIntegerDatetimes, "on"},
	}
}

// writeParameterStatus writes a single ParameterStatus message.
func writeParameterStatus(writer *buffer.Writer, key ParameterStatus, value string) error {
	writer.Start(types.ServerParameterStatus)
	writer.AddString(string(key))
	writer.AddNullTerminate()
	writer.AddString(value)
	writer.AddNullTerminate()
	return writer.End()
}

// writeAuthenticationOk writes the AuthenticationOk message. Authentication
// schemes beyond trust-style AuthenticationOk are out of scope.
func writeAuthenticationOk(writer *buffer.Writer) error {
	writer.Start(types.ServerAuth)
	writer.AddInt32(0)
	return writer.End()
}
