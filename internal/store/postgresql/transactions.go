package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

// SaveTransaction upserts one raw chain transaction. Replaying a block range
// refreshes the stored copy but never resets the processed flag.
func (p *PostgreSQL) SaveTransaction(ctx context.Context, tx *store.Transaction) error {
	q := `
		INSERT INTO transactions (id, block_num, data_type, data, trx_id, signature, hash, user_address, processed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $9)
		ON CONFLICT (id) DO UPDATE SET
			 block_num = EXCLUDED.block_num
			,data_type = EXCLUDED.data_type
			,data = EXCLUDED.data
			,trx_id = EXCLUDED.trx_id
			,signature = EXCLUDED.signature
			,hash = EXCLUDED.hash
			,user_address = EXCLUDED.user_address
			,updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, q,
		tx.ID,
		tx.BlockNum,
		tx.DataType,
		tx.Data,
		tx.TrxID,
		tx.Signature,
		tx.Hash,
		tx.UserAddress,
		p.now().UTC(),
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

func (p *PostgreSQL) GetTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	q := `
		SELECT id, block_num, data_type, data, trx_id, signature, hash, user_address, processed, created_at, updated_at
		FROM transactions
		WHERE id = $1
	`
	tx := &store.Transaction{}
	err := p.db.QueryRowContext(ctx, q, id).Scan(
		&tx.ID,
		&tx.BlockNum,
		&tx.DataType,
		&tx.Data,
		&tx.TrxID,
		&tx.Signature,
		&tx.Hash,
		&tx.UserAddress,
		&tx.Processed,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return tx, nil
}

// GetUnprocessedTransactions returns pending transactions in chain order so
// permission changes apply before the posts that depend on them.
func (p *PostgreSQL) GetUnprocessedTransactions(ctx context.Context, limit int) ([]*store.Transaction, error) {
	q := `
		SELECT id, block_num, data_type, data, trx_id, signature, hash, user_address, processed, created_at, updated_at
		FROM transactions
		WHERE processed = FALSE
		ORDER BY block_num ASC, created_at ASC
		LIMIT $1
	`
	rows, err := p.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}
	defer rows.Close()

	var txs []*store.Transaction
	for rows.Next() {
		tx := &store.Transaction{}
		err = rows.Scan(
			&tx.ID,
			&tx.BlockNum,
			&tx.DataType,
			&tx.Data,
			&tx.TrxID,
			&tx.Signature,
			&tx.Hash,
			&tx.UserAddress,
			&tx.Processed,
			&tx.CreatedAt,
			&tx.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Join(store.ErrUnableToGetRecord, err)
		}
		txs = append(txs, tx)
	}

	return txs, rows.Err()
}

func (p *PostgreSQL) MarkTransactionProcessed(ctx context.Context, id string) error {
	q := `UPDATE transactions SET processed = TRUE, updated_at = $2 WHERE id = $1`
	res, err := p.db.ExecContext(ctx, q, id, p.now().UTC())
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
