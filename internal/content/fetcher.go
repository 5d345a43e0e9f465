// Package content pulls announced post bodies from their storage URLs,
// decrypts them when the topic calls for it, and verifies them against the
// hash committed on chain. Only verified bodies become content rows.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pressone/atom/internal/store"
	"github.com/pressone/atom/internal/verifier"
)

var (
	ErrDownload    = errors.New("failed to download content")
	ErrNoTopicKey  = errors.New("no encryption key configured for topic")
	ErrBadEnvelope = errors.New("invalid encrypted envelope")
)

// TopicSecrets carries the decryption material of one topic.
type TopicSecrets struct {
	Key      []byte
	IVPrefix string
}

// Fetcher downloads unfetched posts and settles their verification state.
// Download failures are transient and retried on later rounds; decryption
// and hash failures are terminal and flag the post for review.
type Fetcher struct {
	store      store.AtomStore
	secrets    map[string]TopicSecrets
	batch      int
	httpClient *http.Client
	logger     *slog.Logger

	workersWg sync.WaitGroup
	ctx       context.Context
	cancelAll func()
}

func WithHTTPClient(client *http.Client) func(*Fetcher) {
	return func(f *Fetcher) {
		f.httpClient = client
	}
}

func NewFetcher(s store.AtomStore, secrets map[string]TopicSecrets, batch int, logger *slog.Logger, opts ...func(*Fetcher)) *Fetcher {
	ctx, cancel := context.WithCancel(context.Background())

	f := &Fetcher{
		store:      s,
		secrets:    secrets,
		batch:      batch,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger.With(slog.String("module", "fetcher")),

		ctx:       ctx,
		cancelAll: cancel,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

func (f *Fetcher) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	f.workersWg.Add(1)
	go func() {
		defer f.workersWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.drain(f.ctx)
			case <-f.ctx.Done():
				return
			}
		}
	}()
}

func (f *Fetcher) GracefulStop() {
	f.logger.Info("Shutting down")

	f.cancelAll()
	f.workersWg.Wait()

	f.logger.Info("Shutdown complete")
}

func (f *Fetcher) drain(ctx context.Context) {
	for {
		settled, err := f.fetchOnce(ctx)
		if err != nil {
			f.logger.Error("fetch round failed", slog.String("err", err.Error()))
			return
		}
		if settled == 0 {
			return
		}
	}
}

// fetchOnce works through one batch of unfetched posts. Posts whose state
// did not change stay in the queue; the round reports only settled ones so
// the drain loop terminates when no progress is possible.
func (f *Fetcher) fetchOnce(ctx context.Context) (int, error) {
	posts, err := f.store.GetUnfetchedPosts(ctx, f.batch)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, post := range posts {
		done, err := f.fetchPost(ctx, post)
		if err != nil {
			f.logger.Warn("post left pending",
				slog.String("publish_tx_id", post.PublishTxID),
				slog.String("err", err.Error()))
			continue
		}
		if done {
			settled++
		}
	}

	return settled, nil
}

func (f *Fetcher) fetchPost(ctx context.Context, post *store.Post) (bool, error) {
	logger := f.logger.With(
		slog.String("publish_tx_id", post.PublishTxID),
		slog.String("file_hash", post.FileHash))

	body, err := f.download(ctx, post.URL)
	if err != nil {
		return false, err
	}

	plaintext := body
	if post.Encryption != "" {
		plaintext, err = f.decrypt(post, body)
		if err != nil {
			if errors.Is(err, ErrNoTopicKey) {
				// config gap, retry once the key is provisioned
				return false, err
			}

			logger.Warn("content does not decrypt, flagged for review", slog.String("err", err.Error()))
			return true, f.store.SetPostFetchStatus(ctx, post.PublishTxID, true, false)
		}
	}

	digest, err := verifier.Hash([]byte(plaintext), post.HashAlg)
	if err != nil {
		logger.Warn("unknown hash algorithm, flagged for review", slog.String("err", err.Error()))
		return true, f.store.SetPostFetchStatus(ctx, post.PublishTxID, true, false)
	}

	if digest != strings.ToLower(post.FileHash) {
		logger.Warn("content hash mismatch, flagged for review", slog.String("actual", digest))
		return true, f.store.SetPostFetchStatus(ctx, post.PublishTxID, true, false)
	}

	err = f.store.SaveContent(ctx, &store.Content{
		FileHash: post.FileHash,
		URL:      post.URL,
		Content:  plaintext,
	})
	if err != nil {
		return false, err
	}

	if err = f.store.SetPostFetchStatus(ctx, post.PublishTxID, true, true); err != nil {
		return false, err
	}

	if post.UpdatedTxID != "" {
		f.supersede(ctx, post, logger)
	}

	return true, nil
}

func (f *Fetcher) download(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", errors.Join(ErrDownload, err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", errors.Join(ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.Join(ErrDownload, fmt.Errorf("status %d from %s", resp.StatusCode, url))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", errors.Join(ErrDownload, err)
	}

	return string(body), nil
}

// decrypt opens the {session, content} envelope with the topic's key and
// the IV derived from the session.
func (f *Fetcher) decrypt(post *store.Post, body string) (string, error) {
	secrets, ok := f.secrets[post.Topic]
	if !ok {
		return "", errors.Join(ErrNoTopicKey, fmt.Errorf("topic: %s", post.Topic))
	}

	var envelope struct {
		Session string `json:"session"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err != nil {
		return "", errors.Join(ErrBadEnvelope, err)
	}
	if envelope.Session == "" || envelope.Content == "" {
		return "", errors.Join(ErrBadEnvelope, errors.New("missing session or content"))
	}

	iv := verifier.DeriveIV(secrets.IVPrefix, envelope.Session)

	return verifier.DecryptAES256CBC(envelope.Content, secrets.Key, iv)
}

// supersede retires the post this one replaces. Only the original author
// may replace a post; anything else is ignored and logged.
func (f *Fetcher) supersede(ctx context.Context, post *store.Post, logger *slog.Logger) {
	old, err := f.store.GetPost(ctx, post.UpdatedTxID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			logger.Info("superseded post unknown", slog.String("updated_tx_id", post.UpdatedTxID))
			return
		}
		logger.Error("unable to load superseded post", slog.String("err", err.Error()))
		return
	}

	if old.UserAddress != post.UserAddress {
		logger.Warn("update author mismatch, refusing supersession",
			slog.String("updated_tx_id", post.UpdatedTxID),
			slog.String("old_user_address", old.UserAddress))
		return
	}

	if err = f.store.DeletePost(ctx, old.PublishTxID); err != nil {
		logger.Error("unable to retire superseded post", slog.String("err", err.Error()))
		return
	}
	if err = f.store.DeleteContent(ctx, old.FileHash); err != nil && !errors.Is(err, store.ErrNotFound) {
		logger.Error("unable to retire superseded content", slog.String("err", err.Error()))
	}
}
