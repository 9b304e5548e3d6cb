package session

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/persistence"
	"github.com/airenas/vox/internal/pkg/status"
	sapi "github.com/airenas/vox/internal/pkg/stream/api"
	"github.com/airenas/vox/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
)

// StreamProvider returns an opener for a live transcription channel
type StreamProvider interface {
	Get() (sapi.Opener, string, error)
}

// Handoff enqueues the final session snapshot for note generation
type Handoff interface {
	Enqueue(ctx context.Context, sn *api.Snapshot) error
}

// Audit records state transitions, must not block
type Audit interface {
	Record(sessionID, transition string, at time.Time)
}

// Events receives session events for viewer fan-out
type Events interface {
	Publish(sessionID string, ev api.ViewerEvent)
}

// DB persists session checkpoints
type DB interface {
	InsertSession(ctx context.Context, item *persistence.Session) error
	UpdateSession(ctx context.Context, item *persistence.Session) error
	InsertSegments(ctx context.Context, items []*persistence.Segment) error
}

// Config keeps session tunables
type Config struct {
	// ReorderWindow - how many out-of-order segments are buffered before a gap is recorded
	ReorderWindow int
	// SegmentBuffer - checkpoint channel size
	SegmentBuffer int
	// ReconnectCount - stream reconnect attempts after a drop
	ReconnectCount uint64
	// ReconnectInitialWait - first reconnect backoff interval
	ReconnectInitialWait time.Duration
}

// DefaultConfig returns session tunables defaults
func DefaultConfig() Config {
	return Config{ReorderWindow: 16, SegmentBuffer: 256, ReconnectCount: 3, ReconnectInitialWait: time.Second}
}

// Data keeps dependencies required for session work
type Data struct {
	Provider StreamProvider
	Handoff  Handoff
	Audit    Audit
	Events   Events
	DB       DB
	Cfg      Config
}

// StartParams describes a validated start event
type StartParams struct {
	DeviceID       string // empty for non-device sources
	OrganizationID string
	OperatorID     string
	Source         string
}

// Manager owns the lifecycle of one recording session.
// All mutation of transcript and status is serialized by the manager's
// lock - different sessions proceed fully in parallel.
type Manager struct {
	data *Data

	id        string
	deviceID  string
	orgID     string
	opID      string
	source    string
	startedAt time.Time

	lock        sync.Mutex
	st          status.Status
	segments    []api.Segment
	pending     map[int]api.Segment
	nextSeq     int
	gaps        []int
	lastSegMs   int64
	endedAt     time.Time
	errStr      string
	errCode     string
	handle      sapi.Handle
	ckCh        chan *persistence.Segment
	ckDone      chan struct{}
	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
	cancelRunCf context.CancelFunc
}

// New creates a session manager in the starting state
func New(data *Data, prm *StartParams) (*Manager, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	if prm.OrganizationID == "" {
		return nil, fmt.Errorf("no organization")
	}
	if prm.OperatorID == "" {
		return nil, fmt.Errorf("no operator")
	}
	if prm.Source == "" {
		return nil, fmt.Errorf("no source")
	}
	res := &Manager{data: data, id: uuid.New().String(), deviceID: prm.DeviceID,
		orgID: prm.OrganizationID, opID: prm.OperatorID, source: prm.Source,
		startedAt: time.Now(), st: status.Starting, nextSeq: 1,
		pending: map[int]api.Segment{},
		ckCh:    make(chan *persistence.Segment, data.Cfg.SegmentBuffer),
		ckDone:  make(chan struct{}), stopCh: make(chan struct{}), done: make(chan struct{})}
	return res, nil
}

func validate(data *Data) error {
	if data.Provider == nil {
		return fmt.Errorf("no stream provider")
	}
	if data.Handoff == nil {
		return fmt.Errorf("no handoff")
	}
	if data.Audit == nil {
		return fmt.Errorf("no audit")
	}
	if data.Events == nil {
		return fmt.Errorf("no events")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.Cfg.ReorderWindow < 1 || data.Cfg.SegmentBuffer < 1 {
		return fmt.Errorf("wrong session config")
	}
	return nil
}

// ID returns session id
func (m *Manager) ID() string {
	return m.id
}

// DeviceID returns owning device id, empty for non-device sessions
func (m *Manager) DeviceID() string {
	return m.deviceID
}

// Done is closed when the session reaches a terminal state
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Status returns current session status
func (m *Manager) Status() status.Status {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.st
}

// Info returns the status view of the session
func (m *Manager) Info() *api.SessionInfo {
	m.lock.Lock()
	defer m.lock.Unlock()
	res := &api.SessionInfo{ID: m.id, Status: m.st.String(), DeviceID: m.deviceID,
		Source: m.source, SegmentCount: len(m.segments), LastSegmentMs: m.lastSegMs,
		Recoverable: len(m.gaps) > 0, StartedAt: m.startedAt.UnixMilli(),
		Error: m.errStr, ErrorCode: m.errCode}
	if !m.endedAt.IsZero() {
		res.EndedAt = m.endedAt.UnixMilli()
	}
	return res
}

// Run drives the session until a terminal state. It opens the stream
// channel, consumes segments, survives bounded reconnects and finally
// invokes the handoff gateway. Blocking calls never run under the lock.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.done)
	runCtx, cf := context.WithCancel(ctx)
	defer cf()
	m.lock.Lock()
	m.cancelRunCf = cf
	m.lock.Unlock()

	go m.checkpointLoop(ctx)

	if err := m.data.DB.InsertSession(ctx, m.persistenceData()); err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.id).Msg("can't save session")
	}

	select {
	case <-m.stopCh:
		m.finalize(ctx, nil)
		return
	default:
	}

	h, err := m.openStream(runCtx)
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.id).Msg("can't open stream")
		m.finalize(ctx, err)
		return
	}
	m.setHandle(h)
	m.transition(ctx, status.Active)

	segCh := h.Segments()
	for {
		select {
		case <-runCtx.Done():
			m.finalize(ctx, nil)
			return
		case <-m.stopCh:
			m.finalize(ctx, nil)
			return
		case sd, ok := <-segCh:
			if !ok {
				segCh = nil // wait for Done to learn the reason
				continue
			}
			if err := m.AppendSegment(api.Segment{Seq: sd.Seq, Text: sd.Text, StartMs: sd.StartMs,
				EndMs: sd.EndMs, Confidence: sd.Confidence}); err != nil {
				goapp.Log.Debug().Err(err).Str("ID", m.id).Int("seq", sd.Seq).Msg("segment skipped")
			}
		case <-h.Done():
			if dErr := h.Err(); dErr != nil {
				goapp.Log.Warn().Err(dErr).Str("ID", m.id).Msg("stream dropped")
				h, err = m.reconnect(runCtx)
				if err != nil {
					m.finalize(ctx, err)
					return
				}
				m.setHandle(h)
				segCh = h.Segments()
				continue
			}
			m.finalize(ctx, nil)
			return
		}
	}
}

func (m *Manager) openStream(ctx context.Context) (sapi.Handle, error) {
	op, srv, err := m.data.Provider.Get()
	if err != nil {
		return nil, fmt.Errorf("can't get stream service: %w", err)
	}
	goapp.Log.Info().Str("ID", m.id).Str("service", srv).Msg("opening stream")
	source := m.deviceID
	if source == "" {
		source = m.id
	}
	return op.Open(ctx, source)
}

// reconnect makes bounded cancellable attempts to reopen the channel
func (m *Manager) reconnect(ctx context.Context) (sapi.Handle, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.data.Cfg.ReconnectInitialWait
	return backoff.RetryNotifyWithData(func() (sapi.Handle, error) {
		select {
		case <-m.stopCh:
			return nil, backoff.Permanent(fmt.Errorf("stopped"))
		default:
		}
		return m.openStream(ctx)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, m.data.Cfg.ReconnectCount), ctx),
		func(err error, d time.Duration) {
			goapp.Log.Warn().Err(err).Str("ID", m.id).Dur("after", d).Msg("reconnect failed, retry")
		})
}

func (m *Manager) setHandle(h sapi.Handle) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handle = h
}

// AppendSegment stores the segment enforcing monotonic sequence order.
// Out-of-order delivery is buffered up to the reordering window, beyond
// it a gap is recorded rather than blocking the stream.
func (m *Manager) AppendSegment(seg api.Segment) error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.st != status.Active {
		return api.ErrNotActive
	}
	if seg.Seq < m.nextSeq {
		goapp.Log.Debug().Str("ID", m.id).Int("seq", seg.Seq).Msg("duplicate segment")
		return nil
	}
	if _, found := m.pending[seg.Seq]; found {
		return nil
	}
	m.pending[seg.Seq] = seg
	m.drainPendingNoSync()
	if len(m.pending) > m.data.Cfg.ReorderWindow {
		m.recordGapNoSync()
		m.drainPendingNoSync()
	}
	return nil
}

func (m *Manager) drainPendingNoSync() {
	for {
		seg, found := m.pending[m.nextSeq]
		if !found {
			return
		}
		delete(m.pending, m.nextSeq)
		m.commitNoSync(seg)
	}
}

// recordGapNoSync flags missing seq numbers up to the earliest buffered
// segment and moves on - data after the gap keeps flowing
func (m *Manager) recordGapNoSync() {
	minSeq := 0
	for s := range m.pending {
		if minSeq == 0 || s < minSeq {
			minSeq = s
		}
	}
	for s := m.nextSeq; s < minSeq; s++ {
		m.gaps = append(m.gaps, s)
	}
	goapp.Log.Warn().Str("ID", m.id).Ints("gaps", m.gaps).Msg("segment gap recorded")
	m.nextSeq = minSeq
	m.publishNoSync(api.ViewerEvent{Type: api.EventTypeStatus, SessionID: m.id,
		Status: m.st.String(), Recoverable: true})
}

func (m *Manager) commitNoSync(seg api.Segment) {
	m.segments = append(m.segments, seg)
	m.nextSeq = seg.Seq + 1
	m.lastSegMs = seg.EndMs
	m.publishNoSync(api.ViewerEvent{Type: api.EventTypeSegment, SessionID: m.id, Segment: &seg})
	select {
	case m.ckCh <- &persistence.Segment{SessionID: m.id, Seq: int32(seg.Seq), Text: seg.Text,
		StartMs: seg.StartMs, EndMs: seg.EndMs,
		Confidence: toSQLFloat(seg.Confidence), Created: time.Now()}:
	default:
		goapp.Log.Warn().Str("ID", m.id).Int("seq", seg.Seq).Msg("checkpoint buffer full, segment not checkpointed")
	}
}

func (m *Manager) publishNoSync(ev api.ViewerEvent) {
	m.data.Events.Publish(m.id, ev)
}

// Pause suspends an active session
func (m *Manager) Pause(ctx context.Context) error {
	m.lock.Lock()
	if m.st != status.Active {
		m.lock.Unlock()
		return api.ErrInvalidTransition
	}
	m.lock.Unlock()
	m.transition(ctx, status.Paused)
	return nil
}

// Resume reactivates a paused session, segment numbering continues
func (m *Manager) Resume(ctx context.Context) error {
	m.lock.Lock()
	if m.st != status.Paused {
		m.lock.Unlock()
		return api.ErrInvalidTransition
	}
	m.lock.Unlock()
	m.transition(ctx, status.Active)
	return nil
}

// Stop requests finalization. Idempotent - stop on an already
// finalizing or completed session is a no-op success. Honored also
// while a reconnection backoff is in progress.
func (m *Manager) Stop(ctx context.Context) error {
	m.stopOnce.Do(func() {
		goapp.Log.Info().Str("ID", m.id).Msg("stop requested")
		close(m.stopCh)
		m.lock.Lock()
		cf := m.cancelRunCf
		m.lock.Unlock()
		if cf != nil {
			cf()
		}
	})
	return nil
}

// finalize drains buffers, closes the stream and performs the handoff
func (m *Manager) finalize(ctx context.Context, cause error) {
	m.transition(ctx, status.Finalizing)

	m.lock.Lock()
	if m.handle != nil {
		_ = m.handle.Close()
	}
	// commit whatever is still buffered, in order, gaps recorded
	for len(m.pending) > 0 {
		m.recordGapNoSync()
		m.drainPendingNoSync()
	}
	m.endedAt = time.Now()
	if cause != nil {
		m.errStr = cause.Error()
		m.errCode = "STREAM_FAILED"
	}
	sn := m.snapshotNoSync()
	m.lock.Unlock()

	close(m.ckCh)
	select {
	case <-m.ckDone:
	case <-time.After(time.Second * 5):
		goapp.Log.Warn().Str("ID", m.id).Msg("checkpoint drain timeout")
	}

	if cause != nil {
		m.transition(ctx, status.Failed)
		return
	}
	if err := m.data.Handoff.Enqueue(ctx, sn); err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.id).Msg("handoff failed")
		m.lock.Lock()
		m.errStr = err.Error()
		m.errCode = "HANDOFF_FAILED"
		m.lock.Unlock()
		m.transition(ctx, status.Failed)
		return
	}
	m.transition(ctx, status.Completed)
}

func (m *Manager) snapshotNoSync() *api.Snapshot {
	segments := make([]api.Segment, len(m.segments))
	copy(segments, m.segments)
	gaps := make([]int, len(m.gaps))
	copy(gaps, m.gaps)
	return &api.Snapshot{SessionID: m.id, DeviceID: m.deviceID, OrganizationID: m.orgID,
		OperatorID: m.opID, Source: m.source, Transcript: segments, GapSeqs: gaps,
		StartedAt: m.startedAt, EndedAt: m.endedAt}
}

// Snapshot returns an immutable copy of the session data
func (m *Manager) Snapshot() *api.Snapshot {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.snapshotNoSync()
}

func (m *Manager) transition(ctx context.Context, to status.Status) {
	m.lock.Lock()
	if m.st == to || status.Terminal(m.st) {
		m.lock.Unlock()
		return
	}
	old := m.st
	m.st = to
	pd := m.persistenceData()
	m.publishNoSync(api.ViewerEvent{Type: api.EventTypeStatus, SessionID: m.id,
		Status: to.String(), Recoverable: len(m.gaps) > 0})
	m.lock.Unlock()

	goapp.Log.Info().Str("ID", m.id).Str("from", old.String()).Str("to", to.String()).Msg("transition")
	m.data.Audit.Record(m.id, fmt.Sprintf("%s->%s", old.String(), to.String()), time.Now())
	if err := m.data.DB.UpdateSession(ctx, pd); err != nil {
		goapp.Log.Error().Err(err).Str("ID", m.id).Msg("can't save session status")
	}
}

func (m *Manager) persistenceData() *persistence.Session {
	res := &persistence.Session{ID: m.id, DeviceID: utils.ToSQLStr(m.deviceID),
		OrganizationID: m.orgID, OperatorID: m.opID, Source: m.source, Status: m.st.String(),
		Error: utils.ToSQLStr(m.errStr), ErrorCode: utils.ToSQLStr(m.errCode),
		SegmentCount: int32(len(m.segments)), Started: m.startedAt, Ended: utils.ToSQLTime(m.endedAt)}
	for _, g := range m.gaps {
		res.GapSeqs = append(res.GapSeqs, int32(g))
	}
	return res
}

// checkpointLoop persists appended segments off the delivery path
func (m *Manager) checkpointLoop(ctx context.Context) {
	defer close(m.ckDone)
	for {
		first, ok := <-m.ckCh
		if !ok {
			return
		}
		batch := []*persistence.Segment{first}
	gather:
		for len(batch) < 50 {
			select {
			case s, ok := <-m.ckCh:
				if !ok {
					break gather
				}
				batch = append(batch, s)
			default:
				break gather
			}
		}
		if err := m.data.DB.InsertSegments(ctx, batch); err != nil {
			goapp.Log.Error().Err(err).Str("ID", m.id).Msg("can't checkpoint segments")
		}
	}
}

func toSQLFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: v != 0}
}
