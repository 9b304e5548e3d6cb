package handoff

import (
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/messages"
	"github.com/airenas/vox/internal/pkg/test"
	"github.com/airenas/vox/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	sndMock *mocks.Sender
	flMock  *mocks.Filer
)

func initTest(t *testing.T) {
	sndMock = &mocks.Sender{}
	flMock = &mocks.Filer{}
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	res, err := NewGateway(sndMock, flMock, Config{RetryCount: 3, Timeout: time.Second,
		InitialWait: time.Millisecond})
	require.Nil(t, err)
	return res
}

func newTestSnapshot() *api.Snapshot {
	return &api.Snapshot{SessionID: "id1", DeviceID: "dev-1", OrganizationID: "org-1",
		OperatorID: "op-1", Source: api.SourceDevice,
		Transcript: []api.Segment{{Seq: 1, Text: "olia"}}}
}

func TestNewGateway_Fail(t *testing.T) {
	initTest(t)
	_, err := NewGateway(nil, flMock, Config{RetryCount: 3})
	assert.NotNil(t, err)
	_, err = NewGateway(sndMock, nil, Config{RetryCount: 3})
	assert.NotNil(t, err)
	_, err = NewGateway(sndMock, flMock, Config{})
	assert.NotNil(t, err)
}

func TestEnqueue(t *testing.T) {
	initTest(t)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.NoteGen).Return(nil)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.Inform).Return(nil)
	g := newTestGateway(t)

	err := g.Enqueue(test.Ctx(t), newTestSnapshot())

	require.Nil(t, err)
	sndMock.AssertNumberOfCalls(t, "SendMessage", 2)
	msg := sndMock.Calls[0].Arguments.Get(1).(*messages.NoteGenMessage)
	assert.Equal(t, "id1", msg.ID)
	inf := sndMock.Calls[1].Arguments.Get(1).(*amessages.InformMessage)
	assert.Equal(t, amessages.InformTypeFinished, inf.Type)
	flMock.AssertNumberOfCalls(t, "SaveFile", 0)
}

func TestEnqueue_Retries(t *testing.T) {
	initTest(t)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.NoteGen).
		Return(fmt.Errorf("queue down")).Once()
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.NoteGen).Return(nil)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.Inform).Return(nil)
	g := newTestGateway(t)

	err := g.Enqueue(test.Ctx(t), newTestSnapshot())

	require.Nil(t, err)
	sndMock.AssertNumberOfCalls(t, "SendMessage", 3)
}

func TestEnqueue_ExhaustedPreserves(t *testing.T) {
	initTest(t)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.NoteGen).
		Return(fmt.Errorf("queue down"))
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.Inform).Return(nil)
	flMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	g := newTestGateway(t)

	err := g.Enqueue(test.Ctx(t), newTestSnapshot())

	require.NotNil(t, err)
	sndMock.AssertNumberOfCalls(t, "SendMessage", 4)
	inf := sndMock.Calls[3].Arguments.Get(1).(*amessages.InformMessage)
	assert.Equal(t, amessages.InformTypeFailed, inf.Type)
	flMock.AssertNumberOfCalls(t, "SaveFile", 1)
	assert.Equal(t, "id1/snapshot.json", sndFileName())
	var sn api.Snapshot
	require.Nil(t, json.Unmarshal(sndFileData(t), &sn))
	assert.Equal(t, "id1", sn.SessionID)
	assert.Equal(t, 1, len(sn.Transcript))
}

func TestEnqueue_PreserveFails(t *testing.T) {
	initTest(t)
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.NoteGen).
		Return(fmt.Errorf("queue down"))
	sndMock.On("SendMessage", mock.Anything, mock.Anything, messages.Inform).Return(nil)
	flMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(fmt.Errorf("no minio"))
	g := newTestGateway(t)

	err := g.Enqueue(test.Ctx(t), newTestSnapshot())

	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "can't enqueue")
}

func TestSnapshotFile(t *testing.T) {
	assert.Equal(t, "id1/snapshot.json", SnapshotFile("id1"))
}

func sndFileName() string {
	return flMock.Calls[0].Arguments.Get(1).(string)
}

func sndFileData(t *testing.T) []byte {
	t.Helper()
	r := flMock.Calls[0].Arguments.Get(2).(io.Reader)
	res, err := io.ReadAll(r)
	require.Nil(t, err)
	return res
}
