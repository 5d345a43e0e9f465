package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

// SaveUser upserts the permission of a user within a topic. The latest
// transaction wins; the row keeps only the current status.
func (p *PostgreSQL) SaveUser(ctx context.Context, user *store.User) error {
	q := `
		INSERT INTO users (topic, user_address, status, tx_id, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (topic, user_address) DO UPDATE SET
			 status = EXCLUDED.status
			,tx_id = EXCLUDED.tx_id
			,updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, q,
		user.Topic,
		user.UserAddress,
		user.Status,
		user.TxID,
		p.now().UTC(),
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

func (p *PostgreSQL) GetUser(ctx context.Context, topic, userAddress string) (*store.User, error) {
	q := `
		SELECT topic, user_address, status, tx_id, updated_at
		FROM users
		WHERE topic = $1 AND user_address = $2
	`
	user := &store.User{}
	err := p.db.QueryRowContext(ctx, q, topic, userAddress).Scan(
		&user.Topic,
		&user.UserAddress,
		&user.Status,
		&user.TxID,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return user, nil
}

func (p *PostgreSQL) GetUsers(ctx context.Context, topic string, offset, limit int) ([]*store.User, error) {
	q := `
		SELECT topic, user_address, status, tx_id, updated_at
		FROM users
		WHERE topic = $1
		ORDER BY updated_at DESC, user_address ASC
		OFFSET $2 LIMIT $3
	`
	rows, err := p.db.QueryContext(ctx, q, topic, offset, limit)
	if err != nil {
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}
	defer rows.Close()

	var users []*store.User
	for rows.Next() {
		user := &store.User{}
		err = rows.Scan(
			&user.Topic,
			&user.UserAddress,
			&user.Status,
			&user.TxID,
			&user.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Join(store.ErrUnableToGetRecord, err)
		}
		users = append(users, user)
	}

	return users, rows.Err()
}
