// Package mock provides small helpers for constructing wire protocol
// messages in tests, wrapping pkg/buffer's reader/writer with testing.T
// plumbing.
package mock

import (
	"bytes"
	"io"
	"testing"

	"github.com/neilotoole/slogt"

	"github.com/reservoirdb/convergence/pkg/buffer"
	"github.com/reservoirdb/convergence/pkg/types"
)

// NewWriter constructs a buffer.Writer for the given io.Writer, logging
// through slogt so test output is captured by t.
func NewWriter(t *testing.T, writer io.Writer) *buffer.Writer {
	return buffer.NewWriter(slogt.New(t), writer)
}

// NewReader constructs a buffer.Reader for the given io.Reader, logging
// through slogt so test output is captured by t.
func NewReader(t *testing.T, reader io.Reader) *buffer.Reader {
	return buffer.NewReader(slogt.New(t), reader, buffer.DefaultBufferSize)
}

// NewParseReader builds a ready-to-read buffer.Reader containing a single
// Parse message with no parameter type hints.
func NewParseReader(t *testing.T, name, query string) *buffer.Reader {
	t.Helper()

	inputBuf := &bytes.Buffer{}
	writer := NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientParse))
	writer.AddString(name)
	writer.AddNullTerminate()
	writer.AddString(query)
	writer.AddNullTerminate()
	writer.AddInt16(0)
	if err := writer.End(); err != nil {
		t.Fatalf("failed to write parse message: %v", err)
	}

	reader := NewReader(t, inputBuf)
	if _, _, err := reader.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read parse message: %v", err)
	}

	return reader
}

// NewBindReader builds a ready-to-read buffer.Reader containing a single
// Bind message with no parameters and a uniform result format.
func NewBindReader(t *testing.T, portal, statement string, resultFormat int16) *buffer.Reader {
	t.Helper()

	inputBuf := &bytes.Buffer{}
	writer := NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientBind))
	writer.AddString(portal)
	writer.AddNullTerminate()
	writer.AddString(statement)
	writer.AddNullTerminate()
	writer.AddInt16(0) // parameter format codes
	writer.AddInt16(0) // parameter values
	writer.AddInt16(1) // result format codes
	writer.AddInt16(resultFormat)
	if err := writer.End(); err != nil {
		t.Fatalf("failed to write bind message: %v", err)
	}

	reader := NewReader(t, inputBuf)
	if _, _, err := reader.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read bind message: %v", err)
	}

	return reader
}

// NewDescribeReader builds a ready-to-read buffer.Reader containing a single
// Describe message.
func NewDescribeReader(t *testing.T, describeType types.DescribeMessage, name string) *buffer.Reader {
	t.Helper()

	inputBuf := &bytes.Buffer{}
	writer := NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientDescribe))
	writer.AddByte(byte(describeType))
	writer.AddString(name)
	writer.AddNullTerminate()
	if err := writer.End(); err != nil {
		t.Fatalf("failed to write describe message: %v", err)
	}

	reader := NewReader(t, inputBuf)
	if _, _, err := reader.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read describe message: %v", err)
	}

	return reader
}

// NewExecuteReader builds a ready-to-read buffer.Reader containing a single
// Execute message.
func NewExecuteReader(t *testing.T, portal string, maxRows int32) *buffer.Reader {
	t.Helper()

	inputBuf := &bytes.Buffer{}
	writer := NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientExecute))
	writer.AddString(portal)
	writer.AddNullTerminate()
	writer.AddInt32(maxRows)
	if err := writer.End(); err != nil {
		t.Fatalf("failed to write execute message: %v", err)
	}

	reader := NewReader(t, inputBuf)
	if _, _, err := reader.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read execute message: %v", err)
	}

	return reader
}
