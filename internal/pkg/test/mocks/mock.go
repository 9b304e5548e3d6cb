package mocks

import (
	"context"
	"io"
	"time"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/persistence"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/stretchr/testify/mock"
)

// DB is postgres DB mock
type DB struct{ mock.Mock }

func (m *DB) LoadDevice(ctx context.Context, id string) (*persistence.Device, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Device](args.Get(0)), args.Error(1)
}

func (m *DB) UpdateDeviceStatus(ctx context.Context, id, status string) error {
	args := m.Called(ctx, id, status)
	return args.Error(0)
}

func (m *DB) InsertSession(ctx context.Context, item *persistence.Session) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) UpdateSession(ctx context.Context, item *persistence.Session) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) LoadSession(ctx context.Context, id string) (*persistence.Session, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Session](args.Get(0)), args.Error(1)
}

func (m *DB) InsertSegments(ctx context.Context, items []*persistence.Segment) error {
	args := m.Called(ctx, items)
	return args.Error(0)
}

func (m *DB) LoadSegments(ctx context.Context, sessionID string) ([]*persistence.Segment, error) {
	args := m.Called(ctx, sessionID)
	return to[[]*persistence.Segment](args.Get(0)), args.Error(1)
}

func (m *DB) InsertAudit(ctx context.Context, item *persistence.Audit) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *DB) LoadOperator(ctx context.Context, id string) (*persistence.Operator, error) {
	args := m.Called(ctx, id)
	return to[*persistence.Operator](args.Get(0)), args.Error(1)
}

func (m *DB) LockInform(ctx context.Context, id, tp string) error {
	args := m.Called(ctx, id, tp)
	return args.Error(0)
}

func (m *DB) UnlockInform(ctx context.Context, id, tp string, value *int) error {
	args := m.Called(ctx, id, tp, value)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error {
	args := m.Called(ctx, name, r, fileSize)
	return args.Error(0)
}

// LoadFile func mock
func (m *Filer) LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, fileName)
	return to[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

// Opener is stream opener mock
type Opener struct{ mock.Mock }

func (m *Opener) Open(ctx context.Context, source string) (sapi.Handle, error) {
	args := m.Called(ctx, source)
	return to[sapi.Handle](args.Get(0)), args.Error(1)
}

// Handoff is queue handoff gateway mock
type Handoff struct{ mock.Mock }

func (m *Handoff) Enqueue(ctx context.Context, sn *api.Snapshot) error {
	args := m.Called(ctx, sn)
	return args.Error(0)
}

// Audit is audit hook mock
type Audit struct{ mock.Mock }

func (m *Audit) Record(sessionID, transition string, at time.Time) {
	m.Called(sessionID, transition, at)
}

func to[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
