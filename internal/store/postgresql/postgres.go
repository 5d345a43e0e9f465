// Package postgresql implements store.AtomStore on PostgreSQL via
// database/sql and lib/pq. One file per record family, raw SQL, and
// ON CONFLICT upserts on natural keys so block replays stay idempotent.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"

	"github.com/pressone/atom/internal/store"
)

const postgresDriverName = "postgres"

type PostgreSQL struct {
	db  *sql.DB
	now func() time.Time
}

func WithNow(nowFunc func() time.Time) func(*PostgreSQL) {
	return func(p *PostgreSQL) {
		p.now = nowFunc
	}
}

func New(dbInfo string, idleConns int, maxOpenConns int, opts ...func(*PostgreSQL)) (*PostgreSQL, error) {
	db, err := sql.Open(postgresDriverName, dbInfo)
	if err != nil {
		return nil, errors.Join(store.ErrFailedToOpenDB, err)
	}

	db.SetMaxIdleConns(idleConns)
	db.SetMaxOpenConns(maxOpenConns)

	p := &PostgreSQL{
		db:  db,
		now: time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *PostgreSQL) Ping(ctx context.Context) error {
	rows, err := p.db.QueryContext(ctx, "SELECT 1;")
	if err != nil {
		return err
	}

	return rows.Close()
}

func (p *PostgreSQL) Close() error {
	return p.db.Close()
}
