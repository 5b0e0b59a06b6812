package convergence

import (
	"bytes"
	"context"
	"testing"

	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	psqlerr "github.com/reservoirdb/convergence/errors"
	"github.com/reservoirdb/convergence/pkg/mock"
	"github.com/reservoirdb/convergence/pkg/types"
)

// fakeEngine is a minimal Engine used to exercise the Session state machine
// without a real SQL planner.
type fakeEngine struct {
	fields []FieldDescription
}

func (e *fakeEngine) Prepare(ctx context.Context, stmt *Statement) (Description, error) {
	return Description{Fields: e.fields}, nil
}

func (e *fakeEngine) CreateAndBindPortal(ctx context.Context, stmt *Statement, paramOIDs []oid.Oid, rawParams [][]byte) (Portal, error) {
	return &fakePortal{fields: e.fields}, nil
}

func (e *fakeEngine) CreatePortal(ctx context.Context, stmt *Statement) (Portal, error) {
	return &fakePortal{fields: e.fields}, nil
}

type fakePortal struct {
	fields []FieldDescription
}

func (p *fakePortal) Execute(ctx context.Context, batch *DataRowBatch) error {
	row := batch.CreateRow()
	row.WriteInt4(1)
	row.Finish()
	return nil
}

func (p *fakePortal) Fetch(ctx context.Context, batch *DataRowBatch) ([]FieldDescription, error) {
	batch.SetNumCols(len(p.fields))
	row := batch.CreateRow()
	row.WriteInt4(1)
	row.Finish()
	return p.fields, nil
}

func newTestSession(t *testing.T) *Session {
	return &Session{
		logger: slogt.New(t),
		engine: &fakeEngine{fields: []FieldDescription{{Name: "col1", Oid: oid.T_int4, Format: TextFormat}}},
		statements: make(map[string]*preparedStatement),
		portals:    make(map[string]*boundPortal),
	}
}

func TestHandleParseSuccess(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	reader := mock.NewParseReader(t, "stmt1", "SELECT 1")

	outBuf := &bytes.Buffer{}
	writer := mock.NewWriter(t, outBuf)

	require.NoError(t, session.handleParse(ctx, reader, writer))

	prepared, ok := session.statements["stmt1"]
	require.True(t, ok)
	require.NotNil(t, prepared.stmt)
	assert.Equal(t, "SELECT 1", prepared.stmt.SQL)

	respReader := mock.NewReader(t, outBuf)
	msgType, _, err := respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerParseComplete), msgType)
}

func TestHandleParseEmptyStatement(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	reader := mock.NewParseReader(t, "empty", "   ")

	outBuf := &bytes.Buffer{}
	writer := mock.NewWriter(t, outBuf)

	require.NoError(t, session.handleParse(ctx, reader, writer))

	prepared, ok := session.statements["empty"]
	require.True(t, ok)
	assert.Nil(t, prepared.stmt)
}

func TestHandleParseSyntaxError(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	reader := mock.NewParseReader(t, "bad", "SELECT FROM FROM")

	err := session.handleParse(ctx, reader, mock.NewWriter(t, &bytes.Buffer{}))
	require.Error(t, err)
	assert.Equal(t, "42601", string(psqlerr.GetCode(err)))
}

func TestHandleBindMissingStatement(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	reader := mock.NewBindReader(t, "portal1", "missing", 0)

	err := session.handleBind(ctx, reader, mock.NewWriter(t, &bytes.Buffer{}))
	require.Error(t, err)
	assert.Equal(t, "26000", string(psqlerr.GetCode(err)))
}

func TestHandleBindAndDescribeAndExecute(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	parseReader := mock.NewParseReader(t, "stmt1", "SELECT 1")
	require.NoError(t, session.handleParse(ctx, parseReader, mock.NewWriter(t, &bytes.Buffer{})))

	bindReader := mock.NewBindReader(t, "portal1", "stmt1", 0)
	require.NoError(t, session.handleBind(ctx, bindReader, mock.NewWriter(t, &bytes.Buffer{})))

	require.Contains(t, session.portals, "portal1")
	assert.NotNil(t, session.portals["portal1"].portal)

	descReader := mock.NewDescribeReader(t, types.DescribePortal, "portal1")
	descOut := &bytes.Buffer{}
	require.NoError(t, session.handleDescribe(descReader, mock.NewWriter(t, descOut)))

	respReader := mock.NewReader(t, descOut)
	msgType, _, err := respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerRowDescription), msgType)

	execReader := mock.NewExecuteReader(t, "portal1", 0)
	execOut := &bytes.Buffer{}
	require.NoError(t, session.handleExecute(ctx, execReader, mock.NewWriter(t, execOut)))

	respReader = mock.NewReader(t, execOut)
	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerDataRow), msgType)

	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerCommandComplete), msgType)
}

func TestHandleExecuteMissingPortal(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	reader := mock.NewExecuteReader(t, "missing", 0)
	err := session.handleExecute(ctx, reader, mock.NewWriter(t, &bytes.Buffer{}))
	require.Error(t, err)
	assert.Equal(t, "34000", string(psqlerr.GetCode(err)))
}

func TestHandleQueryEmptyStatement(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	inputBuf := &bytes.Buffer{}
	writer := mock.NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	writer.AddString("  ")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	reader := mock.NewReader(t, inputBuf)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	require.NoError(t, session.handleQuery(ctx, reader, mock.NewWriter(t, outBuf)))

	respReader := mock.NewReader(t, outBuf)
	msgType, _, err := respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerEmptyQuery), msgType)

	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerReady), msgType)
}

func TestHandleQuerySelect(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	inputBuf := &bytes.Buffer{}
	writer := mock.NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	writer.AddString("SELECT 1")
	writer.AddNullTerminate()
	require.NoError(t, writer.End())

	reader := mock.NewReader(t, inputBuf)
	_, _, err := reader.ReadTypedMsg()
	require.NoError(t, err)

	outBuf := &bytes.Buffer{}
	require.NoError(t, session.handleQuery(ctx, reader, mock.NewWriter(t, outBuf)))

	respReader := mock.NewReader(t, outBuf)
	msgType, _, err := respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerRowDescription), msgType)

	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerDataRow), msgType)

	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerCommandComplete), msgType)

	msgType, _, err = respReader.ReadTypedMsg()
	require.NoError(t, err)
	assert.Equal(t, types.ClientMessage(types.ServerReady), msgType)
}

func TestStepTerminate(t *testing.T) {
	session := newTestSession(t)
	ctx := context.Background()

	inputBuf := &bytes.Buffer{}
	writer := mock.NewWriter(t, inputBuf)
	writer.Start(types.ServerMessage(types.ClientTerminate))
	require.NoError(t, writer.End())

	reader := mock.NewReader(t, inputBuf)

	err := session.step(ctx, reader, mock.NewWriter(t, &bytes.Buffer{}))
	assert.ErrorIs(t, err, errTerminate)
}
