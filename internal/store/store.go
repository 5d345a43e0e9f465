package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound           = errors.New("record not found")
	ErrFailedToOpenDB     = errors.New("failed to open postgres DB")
	ErrUnableToPrepareTx  = errors.New("unable to prepare transaction")
	ErrUnableToSaveRecord = errors.New("unable to save record")
	ErrUnableToGetRecord  = errors.New("unable to get record")
)

// AtomStore is the single persistence boundary of the indexer. Every write
// is an idempotent upsert on the record's natural key so that replaying a
// block range is always safe, and deletes are soft.
type AtomStore interface {
	// transactions
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetUnprocessedTransactions(ctx context.Context, limit int) ([]*Transaction, error)
	MarkTransactionProcessed(ctx context.Context, id string) error

	// users
	SaveUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, topic, userAddress string) (*User, error)
	GetUsers(ctx context.Context, topic string, offset, limit int) ([]*User, error)

	// posts
	SavePost(ctx context.Context, post *Post) error
	GetPost(ctx context.Context, publishTxID string) (*Post, error)
	GetPostByFileHash(ctx context.Context, fileHash string) (*Post, error)
	GetUnfetchedPosts(ctx context.Context, limit int) ([]*Post, error)
	GetAllowedPosts(ctx context.Context, topic string, offset, limit int) ([]*Post, error)
	SetPostFetchStatus(ctx context.Context, publishTxID string, fetched, verified bool) error
	DeletePost(ctx context.Context, publishTxID string) error

	// contents
	SaveContent(ctx context.Context, content *Content) error
	GetContent(ctx context.Context, fileHash string) (*Content, error)
	DeleteContent(ctx context.Context, fileHash string) error

	// notifies
	SaveNotify(ctx context.Context, notify *Notify) error
	GetPendingNotifies(ctx context.Context, limit int) ([]*Notify, error)
	UpdateNotifyStatus(ctx context.Context, dataID string, success bool) error

	// checkpoints
	GetLastStatus(ctx context.Context, key string) (int64, error)
	UpdateLastStatus(ctx context.Context, key string, value int64) error

	// blocks
	SaveBlock(ctx context.Context, block *Block) error
	GetBlock(ctx context.Context, blockNum int64) (*Block, error)

	Ping(ctx context.Context) error
	Close() error
}
