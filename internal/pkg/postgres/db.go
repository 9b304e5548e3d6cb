package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/airenas/vox/internal/pkg/persistence"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

// LoadDevice loads device from DB, returns nil if not found
func (db *DB) LoadDevice(ctx context.Context, id string) (*persistence.Device, error) {
	var res persistence.Device
	err := db.pool.QueryRow(ctx, `SELECT id, organization_id, operator_id, status, active, updated FROM devices
		WHERE id = $1`, id).Scan(&res.ID, &res.OrganizationID, &res.OperatorID, &res.Status, &res.Active, &res.Updated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load device: %w", err)
	}
	return &res, nil
}

// UpdateDeviceStatus updates device connectivity status
func (db *DB) UpdateDeviceStatus(ctx context.Context, id, status string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE devices SET status = $2, updated = $3 WHERE id = $1`,
		id, status, time.Now())
	if err != nil {
		return fmt.Errorf("can't update device: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update device, no records found")
	}
	return nil
}

// InsertSession inserts session into DB
func (db *DB) InsertSession(ctx context.Context, item *persistence.Session) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO sessions(id, device_id, organization_id, operator_id, source, status, started)
	VALUES($1, $2, $3, $4, $5, $6, $7)`, item.ID, item.DeviceID, item.OrganizationID,
		item.OperatorID, item.Source, item.Status, item.Started)
	if err != nil {
		return fmt.Errorf("can't insert session: %w", err)
	}
	defer rows.Close()
	return nil
}

// UpdateSession updates session status fields
func (db *DB) UpdateSession(ctx context.Context, item *persistence.Session) error {
	rows, err := db.pool.Exec(ctx, `UPDATE sessions SET
	status = $2,
	error = $3,
	error_code = $4,
	segment_count = $5,
	gap_seqs = $6,
	ended = $7
	WHERE id = $1`, item.ID, item.Status, item.Error, item.ErrorCode,
		item.SegmentCount, item.GapSeqs, item.Ended)
	if err != nil {
		return fmt.Errorf("can't update session: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update session, no records found")
	}
	return nil
}

// LoadSession loads session from DB, returns nil if not found
func (db *DB) LoadSession(ctx context.Context, id string) (*persistence.Session, error) {
	var res persistence.Session
	err := db.pool.QueryRow(ctx, `SELECT id, device_id, organization_id, operator_id, source, status,
	error, error_code, segment_count, gap_seqs, started, ended FROM sessions
		WHERE id = $1`, id).Scan(&res.ID, &res.DeviceID, &res.OrganizationID, &res.OperatorID,
		&res.Source, &res.Status, &res.Error, &res.ErrorCode, &res.SegmentCount, &res.GapSeqs,
		&res.Started, &res.Ended)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load session: %w", err)
	}
	return &res, nil
}

// InsertSegments appends a batch of transcript segments
func (db *DB) InsertSegments(ctx context.Context, items []*persistence.Segment) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, s := range items {
		batch.Queue(`INSERT INTO segments(session_id, seq, text, start_ms, end_ms, confidence, created)
		VALUES($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (session_id, seq) DO NOTHING`,
			s.SessionID, s.Seq, s.Text, s.StartMs, s.EndMs, s.Confidence, s.Created)
	}
	br := db.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range items {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("can't insert segment: %w", err)
		}
	}
	return nil
}

// LoadSegments loads session segments ordered by seq
func (db *DB) LoadSegments(ctx context.Context, sessionID string) ([]*persistence.Segment, error) {
	rows, err := db.pool.Query(ctx, `SELECT session_id, seq, text, start_ms, end_ms, confidence, created FROM segments
		WHERE session_id = $1 ORDER BY seq`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("can't load segments: %w", err)
	}
	defer rows.Close()
	var res []*persistence.Segment
	for rows.Next() {
		var s persistence.Segment
		if err := rows.Scan(&s.SessionID, &s.Seq, &s.Text, &s.StartMs, &s.EndMs, &s.Confidence, &s.Created); err != nil {
			return nil, fmt.Errorf("can't scan segment: %w", err)
		}
		res = append(res, &s)
	}
	return res, rows.Err()
}

// InsertAudit appends transition record
func (db *DB) InsertAudit(ctx context.Context, item *persistence.Audit) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO audit(session_id, transition, at)
	VALUES($1, $2, $3)`, item.SessionID, item.Transition, item.At)
	if err != nil {
		return fmt.Errorf("can't insert audit: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadOperator loads operator from DB, returns nil if not found
func (db *DB) LoadOperator(ctx context.Context, id string) (*persistence.Operator, error) {
	var res persistence.Operator
	err := db.pool.QueryRow(ctx, `SELECT id, organization_id, name, email, active FROM operators
		WHERE id = $1`, id).Scan(&res.ID, &res.OrganizationID, &res.Name, &res.Email, &res.Active)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load operator: %w", err)
	}
	return &res, nil
}

// LockInform claims the inform event.
// Makes sure the same email is not sent twice
func (db *DB) LockInform(ctx context.Context, id, tp string) error {
	rows, err := db.pool.Exec(ctx, `INSERT INTO inform_lock(session_id, type, status, created)
	VALUES($1, $2, 1, $3) ON CONFLICT (session_id, type) DO NOTHING`, id, tp, time.Now())
	if err != nil {
		return fmt.Errorf("can't lock inform: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("inform already processed")
	}
	return nil
}

// UnlockInform releases the inform event claim, value 0 drops the
// claim so a retry can send again, 2 marks the email as sent
func (db *DB) UnlockInform(ctx context.Context, id, tp string, value *int) error {
	if value == nil || *value == 0 {
		_, err := db.pool.Exec(ctx, `DELETE FROM inform_lock WHERE session_id = $1 AND type = $2 AND status = 1`, id, tp)
		if err != nil {
			return fmt.Errorf("can't unlock inform: %w", err)
		}
		return nil
	}
	_, err := db.pool.Exec(ctx, `UPDATE inform_lock SET status = $3 WHERE session_id = $1 AND type = $2`, id, tp, *value)
	if err != nil {
		return fmt.Errorf("can't unlock inform: %w", err)
	}
	return nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
