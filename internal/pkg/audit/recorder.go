package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/persistence"
)

// DB persists audit records
type DB interface {
	InsertAudit(ctx context.Context, item *persistence.Audit) error
}

// Recorder writes session transition records off the caller path.
// Record never blocks session progress - on overflow records are
// dropped with a warning.
type Recorder struct {
	db   DB
	ch   chan *persistence.Audit
	done chan struct{}
}

// NewRecorder creates recorder and starts its write loop
func NewRecorder(ctx context.Context, db DB, buffer int) (*Recorder, error) {
	if db == nil {
		return nil, fmt.Errorf("no DB")
	}
	if buffer < 1 {
		buffer = 256
	}
	res := &Recorder{db: db, ch: make(chan *persistence.Audit, buffer), done: make(chan struct{})}
	go res.writeLoop(ctx)
	return res, nil
}

// Record registers a state transition, fire-and-forget
func (r *Recorder) Record(sessionID, transition string, at time.Time) {
	select {
	case r.ch <- &persistence.Audit{SessionID: sessionID, Transition: transition, At: at}:
	default:
		goapp.Log.Warn().Str("ID", sessionID).Str("transition", transition).Msg("audit buffer full, record dropped")
	}
}

// Done is closed when the write loop exits
func (r *Recorder) Done() <-chan struct{} {
	return r.done
}

func (r *Recorder) writeLoop(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			goapp.Log.Info().Msg("exit audit loop")
			return
		case item := <-r.ch:
			if err := r.db.InsertAudit(ctx, item); err != nil {
				goapp.Log.Error().Err(err).Str("ID", item.SessionID).Msg("can't save audit record")
			}
		}
	}
}
