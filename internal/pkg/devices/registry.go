package devices

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/persistence"
)

// Device connectivity statuses
const (
	StatusIdle      = "idle"
	StatusConnected = "connected"
	StatusStreaming = "streaming"
)

// DB loads device info
type DB interface {
	LoadDevice(ctx context.Context, id string) (*persistence.Device, error)
	UpdateDeviceStatus(ctx context.Context, id, status string) error
}

// Resolution is the ownership context of a device
type Resolution struct {
	OrganizationID string
	OperatorID     string
}

type cacheItem struct {
	res     Resolution
	expires time.Time
}

// Registry resolves device ownership and tracks connectivity status.
// Ownership lookups are cached, status writes go straight to the DB.
type Registry struct {
	db       DB
	cacheTTL time.Duration

	lock  sync.RWMutex
	cache map[string]cacheItem
}

// NewRegistry creates device registry with lookup cache
func NewRegistry(db DB, cacheTTL time.Duration) (*Registry, error) {
	if db == nil {
		return nil, fmt.Errorf("no DB")
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}
	return &Registry{db: db, cacheTTL: cacheTTL, cache: map[string]cacheItem{}}, nil
}

// Resolve maps device id to its owning organization and default operator
func (r *Registry) Resolve(ctx context.Context, deviceID string) (*Resolution, error) {
	if deviceID == "" {
		return nil, api.ErrDeviceUnknown
	}
	r.lock.RLock()
	ci, found := r.cache[deviceID]
	r.lock.RUnlock()
	if found && time.Now().Before(ci.expires) {
		return &ci.res, nil
	}
	d, err := r.db.LoadDevice(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("can't load device: %w", err)
	}
	if d == nil || !d.Active {
		return nil, api.ErrDeviceUnknown
	}
	res := Resolution{OrganizationID: d.OrganizationID, OperatorID: d.OperatorID}
	r.lock.Lock()
	r.cache[deviceID] = cacheItem{res: res, expires: time.Now().Add(r.cacheTTL)}
	r.lock.Unlock()
	return &res, nil
}

// MarkStatus updates device connectivity status, best effort
func (r *Registry) MarkStatus(ctx context.Context, deviceID, status string) {
	if deviceID == "" {
		return
	}
	if err := r.db.UpdateDeviceStatus(ctx, deviceID, status); err != nil {
		goapp.Log.Warn().Err(err).Str("device", deviceID).Msg("can't update device status")
	}
}
