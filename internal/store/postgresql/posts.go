package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/pressone/atom/internal/store"
)

const postColumns = `publish_tx_id, user_address, updated_tx_id, file_hash, hash_alg, topic, url, encryption, fetched, verified, deleted, updated_at`

// SavePost upserts the announcement of one post. Fetch state and soft-delete
// markers are owned by the content pipeline and survive a replayed upsert.
func (p *PostgreSQL) SavePost(ctx context.Context, post *store.Post) error {
	q := `
		INSERT INTO posts (publish_tx_id, user_address, updated_tx_id, file_hash, hash_alg, topic, url, encryption, fetched, verified, deleted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, FALSE, FALSE, $9)
		ON CONFLICT (publish_tx_id) DO UPDATE SET
			 user_address = EXCLUDED.user_address
			,updated_tx_id = EXCLUDED.updated_tx_id
			,file_hash = EXCLUDED.file_hash
			,hash_alg = EXCLUDED.hash_alg
			,topic = EXCLUDED.topic
			,url = EXCLUDED.url
			,encryption = EXCLUDED.encryption
			,updated_at = EXCLUDED.updated_at
	`
	_, err := p.db.ExecContext(ctx, q,
		post.PublishTxID,
		post.UserAddress,
		post.UpdatedTxID,
		post.FileHash,
		post.HashAlg,
		post.Topic,
		post.URL,
		post.Encryption,
		p.now().UTC(),
	)
	if err != nil {
		return errors.Join(store.ErrUnableToSaveRecord, err)
	}

	return nil
}

func (p *PostgreSQL) scanPost(row interface{ Scan(...any) error }) (*store.Post, error) {
	post := &store.Post{}
	err := row.Scan(
		&post.PublishTxID,
		&post.UserAddress,
		&post.UpdatedTxID,
		&post.FileHash,
		&post.HashAlg,
		&post.Topic,
		&post.URL,
		&post.Encryption,
		&post.Fetched,
		&post.Verified,
		&post.Deleted,
		&post.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (p *PostgreSQL) GetPost(ctx context.Context, publishTxID string) (*store.Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts WHERE publish_tx_id = $1`

	post, err := p.scanPost(p.db.QueryRowContext(ctx, q, publishTxID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return post, nil
}

func (p *PostgreSQL) GetPostByFileHash(ctx context.Context, fileHash string) (*store.Post, error) {
	q := `SELECT ` + postColumns + ` FROM posts WHERE file_hash = $1 ORDER BY updated_at DESC LIMIT 1`

	post, err := p.scanPost(p.db.QueryRowContext(ctx, q, fileHash))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}

	return post, nil
}

// GetUnfetchedPosts returns live posts whose content has not been pulled yet.
func (p *PostgreSQL) GetUnfetchedPosts(ctx context.Context, limit int) ([]*store.Post, error) {
	q := `
		SELECT ` + postColumns + `
		FROM posts
		WHERE fetched = FALSE AND deleted = FALSE
		ORDER BY updated_at ASC
		LIMIT $1
	`
	return p.queryPosts(ctx, q, limit)
}

// GetAllowedPosts returns fetched, verified, live posts of currently allowed
// authors, newest first. This is the feed's read path.
func (p *PostgreSQL) GetAllowedPosts(ctx context.Context, topic string, offset, limit int) ([]*store.Post, error) {
	q := `
		SELECT ` + prefixedPostColumns("p") + `
		FROM posts p
		JOIN users u ON u.topic = p.topic AND u.user_address = p.user_address
		WHERE p.topic = $1
			AND p.fetched = TRUE AND p.verified = TRUE AND p.deleted = FALSE
			AND u.status = 'allow'
		ORDER BY p.updated_at DESC
		OFFSET $2 LIMIT $3
	`
	return p.queryPosts(ctx, q, topic, offset, limit)
}

func prefixedPostColumns(alias string) string {
	return alias + `.publish_tx_id, ` + alias + `.user_address, ` + alias + `.updated_tx_id, ` +
		alias + `.file_hash, ` + alias + `.hash_alg, ` + alias + `.topic, ` + alias + `.url, ` +
		alias + `.encryption, ` + alias + `.fetched, ` + alias + `.verified, ` + alias + `.deleted, ` +
		alias + `.updated_at`
}

func (p *PostgreSQL) queryPosts(ctx context.Context, q string, args ...any) ([]*store.Post, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Join(store.ErrUnableToGetRecord, err)
	}
	defer rows.Close()

	var posts []*store.Post
	for rows.Next() {
		post, err := p.scanPost(rows)
		if err != nil {
			return nil, errors.Join(store.ErrUnableToGetRecord, err)
		}
		posts = append(posts, post)
	}

	return posts, rows.Err()
}

func (p *PostgreSQL) SetPostFetchStatus(ctx context.Context, publishTxID string, fetched, verified bool) error {
	q := `UPDATE posts SET fetched = $2, verified = $3, updated_at = $4 WHERE publish_tx_id = $1`
	res, err := p.db.ExecContext(ctx, q, publishTxID, fetched, verified, p.now().UTC())
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

// DeletePost soft-deletes a post; the row stays for audit and supersession
// chains.
func (p *PostgreSQL) DeletePost(ctx context.Context, publishTxID string) error {
	q := `UPDATE posts SET deleted = TRUE, updated_at = $2 WHERE publish_tx_id = $1`
	res, err := p.db.ExecContext(ctx, q, publishTxID, p.now().UTC())
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
