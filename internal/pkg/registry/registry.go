package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/devices"
	"github.com/airenas/vox/internal/pkg/session"
	"github.com/airenas/vox/internal/pkg/status"
)

// DeviceResolver maps device id to ownership context and tracks
// device connectivity status
type DeviceResolver interface {
	Resolve(ctx context.Context, deviceID string) (*devices.Resolution, error)
	MarkStatus(ctx context.Context, deviceID, status string)
}

// Broadcaster opens/retires session event channels
type Broadcaster interface {
	Open(sessionID string)
	CloseSession(sessionID string)
}

// Data keeps dependencies for the session registry
type Data struct {
	Resolver    DeviceResolver
	Broadcaster Broadcaster
	Session     *session.Data
}

// StartRequest describes a start event from the ingress
type StartRequest struct {
	DeviceID       string
	OrganizationID string // required for non-device sessions, checked against device org otherwise
	OperatorID     string // overrides device default operator
	Source         string
}

// Registry keeps live session managers keyed by session id with a
// secondary index by device id. Safe for concurrent use from device
// events, stream callbacks and viewer subscriptions.
type Registry struct {
	data *Data

	lock     sync.RWMutex
	sessions map[string]*session.Manager
	byDevice map[string]string
}

// NewRegistry creates session registry
func NewRegistry(data *Data) (*Registry, error) {
	if data.Resolver == nil {
		return nil, fmt.Errorf("no device resolver")
	}
	if data.Broadcaster == nil {
		return nil, fmt.Errorf("no broadcaster")
	}
	if data.Session == nil {
		return nil, fmt.Errorf("no session data")
	}
	return &Registry{data: data, sessions: map[string]*session.Manager{},
		byDevice: map[string]string{}}, nil
}

// Start validates the event and launches a new session manager.
// A start for a device with an active session returns ErrDeviceBusy,
// for a paused one it resumes the existing session.
func (r *Registry) Start(ctx context.Context, req *StartRequest) (string, error) {
	prm := session.StartParams{DeviceID: req.DeviceID, OrganizationID: req.OrganizationID,
		OperatorID: req.OperatorID, Source: req.Source}
	if prm.Source == "" {
		prm.Source = api.SourceManual
	}
	if req.DeviceID != "" {
		res, err := r.data.Resolver.Resolve(ctx, req.DeviceID)
		if err != nil {
			return "", err
		}
		if req.OrganizationID != "" && req.OrganizationID != res.OrganizationID {
			return "", api.ErrUnauthorized
		}
		prm.OrganizationID = res.OrganizationID
		if prm.OperatorID == "" {
			prm.OperatorID = res.OperatorID
		}
		if prm.Source == api.SourceManual {
			prm.Source = api.SourceDevice
		}

		if existing, found := r.FindActiveForDevice(req.DeviceID); found {
			if existing.Status() == status.Paused {
				// a device button press while paused resumes
				goapp.Log.Info().Str("ID", existing.ID()).Str("device", req.DeviceID).Msg("start on paused session - resume")
				if err := existing.Resume(ctx); err != nil {
					return "", err
				}
				return existing.ID(), nil
			}
			return "", api.ErrDeviceBusy
		}
	}

	mgr, err := session.New(r.data.Session, &prm)
	if err != nil {
		return "", err
	}

	r.lock.Lock()
	if req.DeviceID != "" {
		if _, found := r.byDevice[req.DeviceID]; found {
			r.lock.Unlock()
			return "", api.ErrDeviceBusy
		}
		r.byDevice[req.DeviceID] = mgr.ID()
	}
	r.sessions[mgr.ID()] = mgr
	r.lock.Unlock()

	r.data.Broadcaster.Open(mgr.ID())
	if req.DeviceID != "" {
		r.data.Resolver.MarkStatus(ctx, req.DeviceID, devices.StatusStreaming)
	}
	// the session must outlive the start request
	go mgr.Run(context.Background())
	go r.watchRetire(mgr)
	goapp.Log.Info().Str("ID", mgr.ID()).Str("device", req.DeviceID).Str("source", prm.Source).Msg("session registered")
	return mgr.ID(), nil
}

// watchRetire retires the session once it reaches a terminal state.
// The registry never evicts a non-terminal session.
func (r *Registry) watchRetire(mgr *session.Manager) {
	<-mgr.Done()
	r.lock.Lock()
	delete(r.sessions, mgr.ID())
	if mgr.DeviceID() != "" && r.byDevice[mgr.DeviceID()] == mgr.ID() {
		delete(r.byDevice, mgr.DeviceID())
	}
	r.lock.Unlock()
	r.data.Broadcaster.CloseSession(mgr.ID())
	if mgr.DeviceID() != "" {
		r.data.Resolver.MarkStatus(context.Background(), mgr.DeviceID(), devices.StatusIdle)
	}
	goapp.Log.Info().Str("ID", mgr.ID()).Msg("session retired")
}

// Find returns a live session manager by id
func (r *Registry) Find(id string) (*session.Manager, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	mgr, found := r.sessions[id]
	if !found {
		return nil, api.ErrUnknownSession
	}
	return mgr, nil
}

// FindActiveForDevice returns the live session owning the device
func (r *Registry) FindActiveForDevice(deviceID string) (*session.Manager, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	id, found := r.byDevice[deviceID]
	if !found {
		return nil, false
	}
	mgr, found := r.sessions[id]
	return mgr, found
}
