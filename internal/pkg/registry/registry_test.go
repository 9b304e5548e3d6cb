package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/devices"
	"github.com/airenas/vox/internal/pkg/session"
	"github.com/airenas/vox/internal/pkg/status"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/airenas/vox/internal/pkg/test"
	"github.com/airenas/vox/internal/pkg/test/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	dbMock *mocks.DB
	hoMock *mocks.Handoff
	auMock *mocks.Audit
	rsMock *resolverMock
	bcSink *tBroadcaster
	tData  *Data
)

func initTest(t *testing.T) {
	dbMock = &mocks.DB{}
	hoMock = &mocks.Handoff{}
	auMock = &mocks.Audit{}
	rsMock = &resolverMock{}
	bcSink = &tBroadcaster{}
	dbMock.On("InsertSession", mock.Anything, mock.Anything).Return(nil)
	dbMock.On("UpdateSession", mock.Anything, mock.Anything).Return(nil)
	dbMock.On("InsertSegments", mock.Anything, mock.Anything).Return(nil)
	auMock.On("Record", mock.Anything, mock.Anything, mock.Anything)
	hoMock.On("Enqueue", mock.Anything, mock.Anything).Return(nil)
	rsMock.On("Resolve", mock.Anything, "dev-1").Return(
		&devices.Resolution{OrganizationID: "org-1", OperatorID: "op-1"}, nil)
	rsMock.On("MarkStatus", mock.Anything, mock.Anything, mock.Anything)
	cfg := session.DefaultConfig()
	cfg.ReconnectInitialWait = time.Millisecond
	tData = &Data{Resolver: rsMock, Broadcaster: bcSink,
		Session: &session.Data{Provider: &tProvider{}, Handoff: hoMock, Audit: auMock,
			Events: &tEvents{}, DB: dbMock, Cfg: cfg}}
}

func TestStart(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)
	ctx := test.Ctx(t)

	id, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	require.NotEmpty(t, id)

	mgr, err := r.Find(id)
	require.Nil(t, err)
	assert.Equal(t, "dev-1", mgr.DeviceID())
	assert.Equal(t, api.SourceDevice, mgr.Info().Source)
	test.WaitFor(t, func() bool { return bcSink.opened(id) })
}

func TestStart_DeviceBusy(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)
	ctx := test.Ctx(t)

	id, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	mgr, err := r.Find(id)
	require.Nil(t, err)
	test.WaitFor(t, func() bool { return mgr.Status() == status.Active })

	_, err = r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	assert.ErrorIs(t, err, api.ErrDeviceBusy)
}

func TestStart_PausedResumes(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)
	ctx := test.Ctx(t)

	id, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	mgr, err := r.Find(id)
	require.Nil(t, err)
	test.WaitFor(t, func() bool { return mgr.Status() == status.Active })
	require.Nil(t, mgr.Pause(ctx))

	id2, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	assert.Equal(t, id, id2)
	assert.Equal(t, status.Active, mgr.Status())
}

func TestStart_WrongOrg(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)

	_, err = r.Start(test.Ctx(t), &StartRequest{DeviceID: "dev-1", OrganizationID: "org-other"})
	assert.ErrorIs(t, err, api.ErrUnauthorized)
}

func TestStart_UnknownDevice(t *testing.T) {
	initTest(t)
	rsMock.On("Resolve", mock.Anything, "dev-x").Return(nil, api.ErrDeviceUnknown)
	r, err := NewRegistry(tData)
	require.Nil(t, err)

	_, err = r.Start(test.Ctx(t), &StartRequest{DeviceID: "dev-x"})
	assert.ErrorIs(t, err, api.ErrDeviceUnknown)
}

func TestStart_Manual(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)

	id, err := r.Start(test.Ctx(t), &StartRequest{OrganizationID: "org-1", OperatorID: "op-1"})
	require.Nil(t, err)
	mgr, err := r.Find(id)
	require.Nil(t, err)
	assert.Equal(t, api.SourceManual, mgr.Info().Source)
	assert.Empty(t, mgr.DeviceID())
}

func TestFind_Unknown(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)

	_, err = r.Find("olia")
	assert.ErrorIs(t, err, api.ErrUnknownSession)
}

func TestRetire(t *testing.T) {
	initTest(t)
	r, err := NewRegistry(tData)
	require.Nil(t, err)
	ctx := test.Ctx(t)

	id, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	mgr, err := r.Find(id)
	require.Nil(t, err)
	test.WaitFor(t, func() bool { return mgr.Status() == status.Active })

	require.Nil(t, mgr.Stop(ctx))
	<-mgr.Done()
	test.WaitFor(t, func() bool {
		_, fErr := r.Find(id)
		return fErr != nil
	})
	test.WaitFor(t, func() bool { return bcSink.closed(id) })

	// device is free again
	_, err = r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	assert.Nil(t, err)
}

func TestStart_SeveralDevices(t *testing.T) {
	initTest(t)
	rsMock.On("Resolve", mock.Anything, "dev-2").Return(
		&devices.Resolution{OrganizationID: "org-2", OperatorID: "op-2"}, nil)
	r, err := NewRegistry(tData)
	require.Nil(t, err)
	ctx := test.Ctx(t)

	id1, err := r.Start(ctx, &StartRequest{DeviceID: "dev-1"})
	require.Nil(t, err)
	id2, err := r.Start(ctx, &StartRequest{DeviceID: "dev-2"})
	require.Nil(t, err)
	assert.NotEqual(t, id1, id2)

	m1, _ := r.Find(id1)
	m2, _ := r.Find(id2)
	test.WaitFor(t, func() bool { return m1.Status() == status.Active && m2.Status() == status.Active })

	require.Nil(t, m1.Stop(ctx))
	<-m1.Done()
	assert.Equal(t, status.Active, m2.Status())
}

type resolverMock struct{ mock.Mock }

func (m *resolverMock) Resolve(ctx context.Context, deviceID string) (*devices.Resolution, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*devices.Resolution), args.Error(1)
}

func (m *resolverMock) MarkStatus(ctx context.Context, deviceID, status string) {
	m.Called(ctx, deviceID, status)
}

type tBroadcaster struct {
	lock    sync.Mutex
	open    map[string]bool
	retired map[string]bool
}

func (b *tBroadcaster) Open(sessionID string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.open == nil {
		b.open = map[string]bool{}
	}
	b.open[sessionID] = true
}

func (b *tBroadcaster) CloseSession(sessionID string) {
	b.lock.Lock()
	defer b.lock.Unlock()
	if b.retired == nil {
		b.retired = map[string]bool{}
	}
	b.retired[sessionID] = true
}

func (b *tBroadcaster) opened(id string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.open[id]
}

func (b *tBroadcaster) closed(id string) bool {
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.retired[id]
}

type tEvents struct{}

func (e *tEvents) Publish(sessionID string, ev api.ViewerEvent) {}

type tProvider struct{}

func (p *tProvider) Get() (sapi.Opener, string, error) {
	return &tOpener{}, "stt-test", nil
}

type tOpener struct{}

func (o *tOpener) Open(ctx context.Context, source string) (sapi.Handle, error) {
	res := &tHandle{segs: make(chan sapi.SegmentData), done: make(chan struct{})}
	go func() {
		<-ctx.Done()
		res.Close()
	}()
	return res, nil
}

type tHandle struct {
	segs chan sapi.SegmentData
	done chan struct{}
	once sync.Once
}

func (h *tHandle) Segments() <-chan sapi.SegmentData { return h.segs }

func (h *tHandle) Done() <-chan struct{} { return h.done }

func (h *tHandle) Err() error { return nil }

func (h *tHandle) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}
