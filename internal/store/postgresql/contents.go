package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

// SaveContent stores a verified content body. First writer wins: the body is
// content-addressed by its hash, so a second fetch of the same hash carries
// identical bytes and is dropped.
func (p *PostgreSQL) SaveContent(ctx context.Context, content *store.Content) error {
	q := `
		INSERT INTO contents (file_hash, url, content, deleted, created_at)
		VALUES ($1, $2, $3, FALSE, $4)
		ON CONFLICT (file_hash) DO NOTHING
	`
	_, err := p.db.ExecContext(ctx, q,
		content.FileHash,
		content.URL,
		content.Content,
		p.now().UTC(),
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

func (p *PostgreSQL) GetContent(ctx context.Context, fileHash string) (*store.Content, error) {
	q := `
		SELECT file_hash, url, content, deleted, created_at
		FROM contents
		WHERE file_hash = $1
	`
	content := &store.Content{}
	err := p.db.QueryRowContext(ctx, q, fileHash).Scan(
		&content.FileHash,
		&content.URL,
		&content.Content,
		&content.Deleted,
		&content.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return content, nil
}

func (p *PostgreSQL) DeleteContent(ctx context.Context, fileHash string) error {
	q := `UPDATE contents SET deleted = TRUE WHERE file_hash = $1`
	res, err := p.db.ExecContext(ctx, q, fileHash)
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
