package postgresql

import (
	"context"
	"errors"

	"github.com/pressone/atom/internal/store"
)

// SaveNotify records that a publish needs a webhook delivery. Replays keep
// the existing delivery state; only the block context is refreshed.
func (p *PostgreSQL) SaveNotify(ctx context.Context, notify *store.Notify) error {
	q := `
		INSERT INTO notifies (data_id, trx_id, block_num, topic, success, retries, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, 0, $5, $5)
		ON CONFLICT (data_id) DO UPDATE SET
			 trx_id = EXCLUDED.trx_id
			,block_num = EXCLUDED.block_num
			,topic = EXCLUDED.topic
			,updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, q,
		notify.DataID,
		notify.TrxID,
		notify.BlockNum,
		notify.Topic,
		p.now().UTC(),
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

// GetPendingNotifies returns undelivered notifications whose posts are
// fetched, verified and live, oldest block first. A notify for a post still
// in flight stays invisible until the content pipeline settles it.
func (p *PostgreSQL) GetPendingNotifies(ctx context.Context, limit int) ([]*store.Notify, error) {
	q := `
		SELECT n.data_id, n.trx_id, n.block_num, n.topic, n.success, n.retries, n.created_at, n.updated_at
		FROM notifies n
		JOIN posts p ON p.publish_tx_id = n.trx_id
		WHERE n.success = FALSE
			AND p.fetched = TRUE AND p.verified = TRUE AND p.deleted = FALSE
		ORDER BY n.block_num ASC
		LIMIT $1
	`
	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}
	defer rows.Close()

	var notifies []*store.Notify
	for rows.Next() {
		notify := &store.Notify{}
		err = rows.Scan(
			&notify.DataID,
			&notify.TrxID,
			&notify.BlockNum,
			&notify.Topic,
			&notify.Success,
			&notify.Retries,
			&notify.CreatedAt,
			&notify.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Join(store.ErrUnableToGetRecord, err)
		}
		notifies = append(notifies, notify)
	}

	return notifies, rows.Err()
}

// UpdateNotifyStatus records one delivery attempt. Retries count attempts,
// successful or not, so the counter moves on every call.
func (p *PostgreSQL) UpdateNotifyStatus(ctx context.Context, dataID string, success bool) error {
	q := `UPDATE notifies SET success = $2, retries = retries + 1, updated_at = $3 WHERE data_id = $1`
	res, err := p.db.ExecContext(ctx, q, dataID, success, p.now().UTC())
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}

	return nil
}
