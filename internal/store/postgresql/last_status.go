package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

func (p *PostgreSQL) GetLastStatus(ctx context.Context, key string) (int64, error) {
	q := `SELECT val FROM last_status WHERE key = $1`

	var val int64
	err := p.db.QueryRowContext(ctx, q, key).Scan(&val)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, store.ErrNotFound
		}
		return 0, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return val, nil
}

// UpdateLastStatus persists a polling checkpoint. Callers write it only
// after the records it covers are durable, so a crash replays at most one
// batch.
func (p *PostgreSQL) UpdateLastStatus(ctx context.Context, key string, value int64) error {
	q := `
		INSERT INTO last_status (key, val, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			 val = EXCLUDED.val
			,updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, q, key, value, p.now().UTC())
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}
