// Package storetest provides an in-memory store.AtomStore for worker tests.
// Semantics mirror the postgresql implementation: upserts on natural keys,
// soft deletes, and delivery state that survives replays.
package storetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pressone/atom/internal/store"
)

type Store struct {
	mu sync.Mutex

	Transactions map[string]*store.Transaction
	Users        map[string]*store.User // keyed topic + "/" + address
	Posts        map[string]*store.Post
	Contents     map[string]*store.Content
	Notifies     map[string]*store.Notify
	LastStatus   map[string]int64
	Blocks       map[int64]*store.Block

	now func() time.Time
}

func New() *Store {
	return &Store{
		Transactions: map[string]*store.Transaction{},
		Users:        map[string]*store.User{},
		Posts:        map[string]*store.Post{},
		Contents:     map[string]*store.Content{},
		Notifies:     map[string]*store.Notify{},
		LastStatus:   map[string]int64{},
		Blocks:       map[int64]*store.Block{},
		now:          time.Now,
	}
}

func (s *Store) SaveTransaction(_ context.Context, tx *store.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *tx
	clone.UpdatedAt = s.now()
	if existing, ok := s.Transactions[tx.ID]; ok {
		clone.Processed = existing.Processed
		clone.CreatedAt = existing.CreatedAt
	} else {
		clone.Processed = false
		clone.CreatedAt = clone.UpdatedAt
	}
	s.Transactions[tx.ID] = &clone

	return nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.Transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *tx
	return &clone, nil
}

func (s *Store) GetUnprocessedTransactions(_ context.Context, limit int) ([]*store.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var txs []*store.Transaction
	for _, tx := range s.Transactions {
		if !tx.Processed {
			clone := *tx
			txs = append(txs, &clone)
		}
	}
	sort.Slice(txs, func(i, j int) bool {
		if txs[i].BlockNum != txs[j].BlockNum {
			return txs[i].BlockNum < txs[j].BlockNum
		}
		return txs[i].CreatedAt.Before(txs[j].CreatedAt)
	})
	if len(txs) > limit {
		txs = txs[:limit]
	}

	return txs, nil
}

func (s *Store) MarkTransactionProcessed(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.Transactions[id]
	if !ok {
		return store.ErrNotFound
	}
	tx.Processed = true
	tx.UpdatedAt = s.now()

	return nil
}

func userKey(topic, userAddress string) string {
	return topic + "/" + userAddress
}

func (s *Store) SaveUser(_ context.Context, user *store.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *user
	clone.UpdatedAt = s.now()
	s.Users[userKey(user.Topic, user.UserAddress)] = &clone

	return nil
}

func (s *Store) GetUser(_ context.Context, topic, userAddress string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.Users[userKey(topic, userAddress)]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *user
	return &clone, nil
}

func (s *Store) GetUsers(_ context.Context, topic string, offset, limit int) ([]*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []*store.User
	for _, user := range s.Users {
		if user.Topic == topic {
			clone := *user
			users = append(users, &clone)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserAddress < users[j].UserAddress })

	if offset > len(users) {
		offset = len(users)
	}
	users = users[offset:]
	if len(users) > limit {
		users = users[:limit]
	}

	return users, nil
}

func (s *Store) SavePost(_ context.Context, post *store.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *post
	clone.UpdatedAt = s.now()
	if existing, ok := s.Posts[post.PublishTxID]; ok {
		clone.Fetched = existing.Fetched
		clone.Verified = existing.Verified
		clone.Deleted = existing.Deleted
	} else {
		clone.Fetched = false
		clone.Verified = false
		clone.Deleted = false
	}
	s.Posts[post.PublishTxID] = &clone

	return nil
}

func (s *Store) GetPost(_ context.Context, publishTxID string) (*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.Posts[publishTxID]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *post
	return &clone, nil
}

func (s *Store) GetPostByFileHash(_ context.Context, fileHash string) (*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var latest *store.Post
	for _, post := range s.Posts {
		if post.FileHash != fileHash {
			continue
		}
		if latest == nil || post.UpdatedAt.After(latest.UpdatedAt) {
			latest = post
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	clone := *latest
	return &clone, nil
}

func (s *Store) GetUnfetchedPosts(_ context.Context, limit int) ([]*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var posts []*store.Post
	for _, post := range s.Posts {
		if !post.Fetched && !post.Deleted {
			clone := *post
			posts = append(posts, &clone)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].UpdatedAt.Before(posts[j].UpdatedAt) })
	if len(posts) > limit {
		posts = posts[:limit]
	}

	return posts, nil
}

func (s *Store) GetAllowedPosts(_ context.Context, topic string, offset, limit int) ([]*store.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var posts []*store.Post
	for _, post := range s.Posts {
		if post.Topic != topic || !post.Fetched || !post.Verified || post.Deleted {
			continue
		}
		user, ok := s.Users[userKey(topic, post.UserAddress)]
		if !ok || user.Status != store.UserStatusAllow {
			continue
		}
		clone := *post
		posts = append(posts, &clone)
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].UpdatedAt.After(posts[j].UpdatedAt) })

	if offset > len(posts) {
		offset = len(posts)
	}
	posts = posts[offset:]
	if len(posts) > limit {
		posts = posts[:limit]
	}

	return posts, nil
}

func (s *Store) SetPostFetchStatus(_ context.Context, publishTxID string, fetched, verified bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.Posts[publishTxID]
	if !ok {
		return store.ErrNotFound
	}
	post.Fetched = fetched
	post.Verified = verified
	post.UpdatedAt = s.now()

	return nil
}

func (s *Store) DeletePost(_ context.Context, publishTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	post, ok := s.Posts[publishTxID]
	if !ok {
		return store.ErrNotFound
	}
	post.Deleted = true
	post.UpdatedAt = s.now()

	return nil
}

func (s *Store) SaveContent(_ context.Context, content *store.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.Contents[content.FileHash]; ok {
		return nil
	}
	clone := *content
	clone.CreatedAt = s.now()
	s.Contents[content.FileHash] = &clone

	return nil
}

func (s *Store) GetContent(_ context.Context, fileHash string) (*store.Content, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.Contents[fileHash]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *content
	return &clone, nil
}

func (s *Store) DeleteContent(_ context.Context, fileHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, ok := s.Contents[fileHash]
	if !ok {
		return store.ErrNotFound
	}
	content.Deleted = true

	return nil
}

func (s *Store) SaveNotify(_ context.Context, notify *store.Notify) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *notify
	clone.UpdatedAt = s.now()
	if existing, ok := s.Notifies[notify.DataID]; ok {
		clone.Success = existing.Success
		clone.Retries = existing.Retries
		clone.CreatedAt = existing.CreatedAt
	} else {
		clone.Success = false
		clone.Retries = 0
		clone.CreatedAt = clone.UpdatedAt
	}
	s.Notifies[notify.DataID] = &clone

	return nil
}

func (s *Store) GetPendingNotifies(_ context.Context, limit int) ([]*store.Notify, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var notifies []*store.Notify
	for _, notify := range s.Notifies {
		if notify.Success {
			continue
		}
		post, ok := s.Posts[notify.TrxID]
		if !ok || !post.Fetched || !post.Verified || post.Deleted {
			continue
		}
		clone := *notify
		notifies = append(notifies, &clone)
	}
	sort.Slice(notifies, func(i, j int) bool { return notifies[i].BlockNum < notifies[j].BlockNum })
	if len(notifies) > limit {
		notifies = notifies[:limit]
	}

	return notifies, nil
}

func (s *Store) UpdateNotifyStatus(_ context.Context, dataID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	notify, ok := s.Notifies[dataID]
	if !ok {
		return store.ErrNotFound
	}
	notify.Success = success
	notify.Retries++
	notify.UpdatedAt = s.now()

	return nil
}

func (s *Store) GetLastStatus(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	val, ok := s.LastStatus[key]
	if !ok {
		return 0, store.ErrNotFound
	}

	return val, nil
}

func (s *Store) UpdateLastStatus(_ context.Context, key string, value int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastStatus[key] = value

	return nil
}

func (s *Store) SaveBlock(_ context.Context, block *store.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *block
	s.Blocks[block.BlockNum] = &clone

	return nil
}

func (s *Store) GetBlock(_ context.Context, blockNum int64) (*store.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	block, ok := s.Blocks[blockNum]
	if !ok {
		return nil, store.ErrNotFound
	}
	clone := *block
	return &clone, nil
}

func (s *Store) Ping(_ context.Context) error { return nil }

func (s *Store) Close() error { return nil }
