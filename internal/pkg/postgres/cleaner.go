package postgres

import (
	"context"
	"fmt"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cleaner removes old session data from DB
type Cleaner struct {
	pool *pgxpool.Pool
}

// NewCleaner creates cleaner instance
func NewCleaner(pool *pgxpool.Pool) (*Cleaner, error) {
	return &Cleaner{pool: pool}, nil
}

// Clean removes session record with its segments and audit trail
func (cl *Cleaner) Clean(ctx context.Context, ID string) error {
	goapp.Log.Info().Str("ID", ID).Msg("delete session data")
	for _, sql := range []string{
		`DELETE FROM segments WHERE session_id = $1`,
		`DELETE FROM audit WHERE session_id = $1`,
		`DELETE FROM inform_lock WHERE session_id = $1`,
		`DELETE FROM sessions WHERE id = $1`,
	} {
		if _, err := cl.pool.Exec(ctx, sql, ID); err != nil {
			return fmt.Errorf("can't delete: %w", err)
		}
	}
	return nil
}

