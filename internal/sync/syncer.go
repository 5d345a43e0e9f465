// Package sync moves protocol transactions from the chain into the store
// and prepares them for the content and notification pipelines. Workers are
// independent loops that only meet in the database, so each one can be run,
// restarted or scaled on its own.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pressone/atom/internal/chain"
	"github.com/pressone/atom/internal/pip2001"
	"github.com/pressone/atom/internal/store"
)

// CheckpointKey names the per-topic polling cursor in last_status.
func CheckpointKey(topic string) string {
	return strings.ToLower(topic) + "_block_num"
}

// TransactionSource is the slice of the chain client the syncer needs.
type TransactionSource interface {
	FetchTransactions(ctx context.Context, topic string, blockNum int64, count int) ([]chain.Transaction, error)
	GetStartBlock(ctx context.Context, topic string) (int64, error)
}

// Syncer polls one topic and persists every protocol transaction it sees.
// The checkpoint is written only after the batch is durable, so a crash
// replays at most one batch and the upserts make the replay harmless.
type Syncer struct {
	store  store.AtomStore
	source TransactionSource
	topic  string
	batch  int
	logger *slog.Logger

	workersWg sync.WaitGroup
	ctx       context.Context
	cancelAll func()
}

func NewSyncer(s store.AtomStore, source TransactionSource, topic string, batch int, logger *slog.Logger) *Syncer {
	ctx, cancel := context.WithCancel(context.Background())

	return &Syncer{
		store:  s,
		source: source,
		topic:  topic,
		batch:  batch,
		logger: logger.With(slog.String("module", "syncer"), slog.String("topic", topic)),

		ctx:       ctx,
		cancelAll: cancel,
	}
}

// Start polls on the given interval. Each tick drains until the chain has
// nothing new for the topic.
func (s *Syncer) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	s.workersWg.Add(1)
	go func() {
		defer s.workersWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.drain(s.ctx)
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Syncer) GracefulStop() {
	s.logger.Info("Shutting down")

	s.cancelAll()
	s.workersWg.Wait()

	s.logger.Info("Shutdown complete")
}

func (s *Syncer) drain(ctx context.Context) {
	for {
		synced, err := s.syncOnce(ctx)
		if err != nil {
			s.logger.Error("sync round failed", slog.String("err", err.Error()))
			return
		}
		if synced == 0 {
			return
		}
	}
}

// syncOnce fetches one batch from the current checkpoint and persists it.
// The chain returns transactions at or after the cursor, so a caught-up
// topic keeps serving the checkpoint block back; only transactions not yet
// stored count as progress, which is what drain uses to stop.
func (s *Syncer) syncOnce(ctx context.Context) (int, error) {
	blockNum, err := s.store.GetLastStatus(ctx, CheckpointKey(s.topic))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return 0, err
		}

		// fresh topic, seed the cursor from the earliest transaction
		blockNum, err = s.source.GetStartBlock(ctx, s.topic)
		if err != nil {
			if errors.Is(err, chain.ErrNoStartPoint) {
				s.logger.Info("topic has no transactions yet")
				return 0, nil
			}
			return 0, err
		}
	}

	txs, err := s.source.FetchTransactions(ctx, s.topic, blockNum, s.batch)
	if err != nil {
		return 0, err
	}
	if len(txs) == 0 {
		return 0, nil
	}

	fresh := 0
	maxBlock := blockNum
	for i := range txs {
		tx := &txs[i]

		_, err = s.store.GetTransaction(ctx, tx.Data.ID)
		switch {
		case err == nil:
			// stored on an earlier round, refresh only
		case errors.Is(err, store.ErrNotFound):
			fresh++
		default:
			return 0, err
		}

		err = s.store.SaveTransaction(ctx, &store.Transaction{
			ID:          tx.Data.ID,
			BlockNum:    tx.BlockNum,
			DataType:    tx.DataType,
			Data:        tx.Raw,
			TrxID:       tx.TrxID,
			Signature:   tx.Data.Signature,
			Hash:        tx.Data.Hash,
			UserAddress: tx.UserAddress,
		})
		if err != nil {
			return 0, err
		}

		if err = enqueueNotify(ctx, s.store, s.logger, &tx.Data, tx.TrxID, tx.BlockNum, s.topic); err != nil {
			return 0, err
		}

		if tx.BlockNum > maxBlock {
			maxBlock = tx.BlockNum
		}
	}

	// persisted first, checkpoint second
	if err = s.store.UpdateLastStatus(ctx, CheckpointKey(s.topic), maxBlock); err != nil {
		return 0, err
	}

	if fresh > 0 {
		s.logger.Info("synced batch",
			slog.Int("count", fresh),
			slog.Int64("block_num", maxBlock))
	}

	return fresh, nil
}

// enqueueNotify records a pending webhook for publish messages. Management
// and unsupported payloads produce no notification.
func enqueueNotify(ctx context.Context, s store.AtomStore, logger *slog.Logger, action *pip2001.ActionData, trxID string, blockNum int64, fallbackTopic string) error {
	msg, err := pip2001.Decode(action)
	if err != nil {
		logger.Warn("undecodable payload, no notification enqueued",
			slog.String("data_id", action.ID),
			slog.String("err", err.Error()))
		return nil
	}

	publish, ok := msg.(pip2001.Publish)
	if !ok {
		return nil
	}

	topic := publish.Topic
	if topic == "" {
		topic = fallbackTopic
	}

	return s.SaveNotify(ctx, &store.Notify{
		DataID:   action.ID,
		TrxID:    trxID,
		BlockNum: blockNum,
		Topic:    topic,
	})
}
