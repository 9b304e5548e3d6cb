package handoff

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/airenas/vox/internal/pkg/api"
	"github.com/airenas/vox/internal/pkg/messages"
	"github.com/cenkalti/backoff/v4"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Filer saves preserved snapshots
type Filer interface {
	SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error
}

// Config keeps handoff tunables
type Config struct {
	// RetryCount - total enqueue attempts before giving up
	RetryCount uint64
	// Timeout bounds one enqueue attempt
	Timeout time.Duration
	// InitialWait - first retry backoff interval
	InitialWait time.Duration
}

// DefaultConfig returns handoff tunables defaults
func DefaultConfig() Config {
	return Config{RetryCount: 3, Timeout: time.Second * 10, InitialWait: time.Second}
}

// Gateway packages final session snapshots and enqueues note-generation
// jobs. Delivery is at-least-once - the downstream consumer is
// idempotent per session id. On exhausted retries the snapshot is
// preserved for manual replay.
type Gateway struct {
	sender MsgSender
	filer  Filer
	cfg    Config
}

// NewGateway creates handoff gateway
func NewGateway(sender MsgSender, filer Filer, cfg Config) (*Gateway, error) {
	if sender == nil {
		return nil, fmt.Errorf("no msg sender")
	}
	if filer == nil {
		return nil, fmt.Errorf("no filer")
	}
	if cfg.RetryCount < 1 {
		return nil, fmt.Errorf("wrong retry count")
	}
	return &Gateway{sender: sender, filer: filer, cfg: cfg}, nil
}

// Enqueue sends the note-generation job with bounded retries.
// An attempt exceeding the timeout counts as failed for retry
// accounting, not as a fatal error.
func (g *Gateway) Enqueue(ctx context.Context, sn *api.Snapshot) error {
	msg := messages.NewNoteGenMessage(sn)
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = g.cfg.InitialWait
	err := backoff.RetryNotify(func() error {
		ctxInt, cf := context.WithTimeout(ctx, g.cfg.Timeout)
		defer cf()
		return g.sender.SendMessage(ctxInt, msg, messages.NoteGen)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, g.cfg.RetryCount-1), ctx),
		func(err error, d time.Duration) {
			goapp.Log.Warn().Err(err).Str("ID", sn.SessionID).Dur("after", d).Msg("enqueue failed, retry")
		})
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", sn.SessionID).Msg("enqueue retries exhausted")
		if pErr := g.preserve(ctx, sn); pErr != nil {
			goapp.Log.Error().Err(pErr).Str("ID", sn.SessionID).Msg("can't preserve snapshot")
		}
		g.inform(ctx, sn.SessionID, amessages.InformTypeFailed)
		return fmt.Errorf("can't enqueue note job: %w", err)
	}
	goapp.Log.Info().Str("ID", sn.SessionID).Msg("note job enqueued")
	g.inform(ctx, sn.SessionID, amessages.InformTypeFinished)
	return nil
}

// inform notifies the operator mail queue, best effort
func (g *Gateway) inform(ctx context.Context, id, tp string) {
	err := g.sender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: amessages.QueueMessage{ID: id},
		Type:         tp, At: time.Now()}, messages.Inform)
	if err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Msg("can't send inform msg")
	}
}

// preserve stores the snapshot for manual replay
func (g *Gateway) preserve(ctx context.Context, sn *api.Snapshot) error {
	data, err := json.Marshal(sn)
	if err != nil {
		return fmt.Errorf("can't marshal snapshot: %w", err)
	}
	name := SnapshotFile(sn.SessionID)
	if err := g.filer.SaveFile(ctx, name, bytes.NewReader(data), int64(len(data))); err != nil {
		return fmt.Errorf("can't save snapshot: %w", err)
	}
	goapp.Log.Info().Str("ID", sn.SessionID).Str("file", name).Msg("snapshot preserved")
	return nil
}

// SnapshotFile returns preserved snapshot object name for the session
func SnapshotFile(sessionID string) string {
	return fmt.Sprintf("%s/snapshot.json", sessionID)
}
