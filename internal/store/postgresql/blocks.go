package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

func (p *PostgreSQL) SaveBlock(ctx context.Context, block *store.Block) error {
	q := `
		INSERT INTO blocks (block_num, block_id, block_type, timestamp)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (block_num) DO UPDATE SET
			 block_id = EXCLUDED.block_id
			,block_type = EXCLUDED.block_type
			,timestamp = EXCLUDED.timestamp
	`
	_, err := p.db.ExecContext(ctx, q,
		block.BlockNum,
		block.BlockID,
		block.BlockType,
		block.Timestamp,
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

func (p *PostgreSQL) GetBlock(ctx context.Context, blockNum int64) (*store.Block, error) {
	q := `SELECT block_num, block_id, block_type, timestamp FROM blocks WHERE block_num = $1`

	block := &store.Block{}
	err := p.db.QueryRowContext(ctx, q, blockNum).Scan(
		&block.BlockNum,
		&block.BlockID,
		&block.BlockType,
		&block.Timestamp,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return block, nil
}
