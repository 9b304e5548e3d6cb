package ingress

import (
	"context"
	"fmt"
	"testing"

	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/broadcast"
	"github.com/airenas/vox/internal/pkg/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	wsViewers *Viewers
	wsHub     *broadcast.Hub
)

func initWSTest(t *testing.T) {
	wsHub = broadcast.NewHub(10)
	wsViewers = NewViewers(wsHub)
}

func createTestConn(t *testing.T, id string, closeChan <-chan struct{}) *mockWSConn {
	t.Helper()
	connWSMock := &mockWSConn{written: make(chan api.ViewerEvent, 100)}
	connWSMock.On("WriteJSON", mock.Anything).Return(nil)
	connWSMock.On("ReadMessage").Return(1, []byte(id), nil).Once()
	connWSMock.On("ReadMessage").Return(1, []byte(""), fmt.Errorf("err")).Run(func(args mock.Arguments) {
		<-closeChan
	})
	connWSMock.On("Close").Return(nil)
	return connWSMock
}

func Test_HandleConnection_Unknown(t *testing.T) {
	initWSTest(t)
	closeCtx, cf := context.WithCancel(test.Ctx(t))
	defer cf()
	conn := createTestConn(t, "olia", closeCtx.Done())

	err := wsViewers.HandleConnection(conn)

	require.Nil(t, err)
	ev := <-conn.written
	assert.Equal(t, api.EventTypeDisconnected, ev.Type)
	assert.Equal(t, "unknown session", ev.Reason)
}

func Test_HandleConnection_ReceivesEvents(t *testing.T) {
	initWSTest(t)
	wsHub.Open("1")
	closeCtx, cf := context.WithCancel(test.Ctx(t))
	defer cf()
	conn := createTestConn(t, "1", closeCtx.Done())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Nil(t, wsViewers.HandleConnection(conn))
	}()

	test.WaitFor(t, func() bool { return wsHub.Subscribers("1") == 1 })
	wsHub.Publish("1", api.ViewerEvent{Type: api.EventTypeSegment, SessionID: "1",
		Segment: &api.Segment{Seq: 1, Text: "olia"}})

	ev := <-conn.written
	assert.Equal(t, api.EventTypeSegment, ev.Type)
	require.NotNil(t, ev.Segment)
	assert.Equal(t, "olia", ev.Segment.Text)

	wsHub.CloseSession("1")
	<-done
}

func Test_HandleConnection_ClientLeaves(t *testing.T) {
	initWSTest(t)
	wsHub.Open("1")
	closeCtx, cf := context.WithCancel(test.Ctx(t))
	conn := createTestConn(t, "1", closeCtx.Done())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.Nil(t, wsViewers.HandleConnection(conn))
	}()

	cf()
	<-done
}

type mockWSConn struct {
	mock.Mock
	written chan api.ViewerEvent
}

func (m *mockWSConn) ReadMessage() (int, []byte, error) {
	args := m.Called()
	return args.Int(0), args.Get(1).([]byte), args.Error(2)
}

func (m *mockWSConn) Close() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockWSConn) WriteJSON(v interface{}) error {
	args := m.Called(v)
	if ev, ok := v.(api.ViewerEvent); ok {
		m.written <- ev
	}
	return args.Error(0)
}
