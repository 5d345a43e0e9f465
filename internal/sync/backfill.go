package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pressone/atom/internal/chain"
	"github.com/pressone/atom/internal/pip2001"
	"github.com/pressone/atom/internal/store"
)

// BackfillCheckpointKey names the bulk catch-up cursor in last_status. The
// cursor is global: backfill walks every block, not a single topic.
const BackfillCheckpointKey = "tx_num"

// BlockSource is the slice of the chain client the backfiller needs.
type BlockSource interface {
	Next(ctx context.Context) ([]*chain.Block, error)
	Cursor() int64
}

// Backfill walks the chain block by block and persists blocks plus any
// protocol transactions found inside. It exists for bootstrap and repair;
// the per-topic syncer covers steady state.
type Backfill struct {
	store  store.AtomStore
	source BlockSource
	logger *slog.Logger

	workersWg sync.WaitGroup
	ctx       context.Context
	cancelAll func()
}

func NewBackfill(s store.AtomStore, source BlockSource, logger *slog.Logger) *Backfill {
	ctx, cancel := context.WithCancel(context.Background())

	return &Backfill{
		store:  s,
		source: source,
		logger: logger.With(slog.String("module", "backfill")),

		ctx:       ctx,
		cancelAll: cancel,
	}
}

func (b *Backfill) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	b.workersWg.Add(1)
	go func() {
		defer b.workersWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.drain(b.ctx)
			case <-b.ctx.Done():
				return
			}
		}
	}()
}

func (b *Backfill) GracefulStop() {
	b.logger.Info("Shutting down")

	b.cancelAll()
	b.workersWg.Wait()

	b.logger.Info("Shutdown complete")
}

func (b *Backfill) drain(ctx context.Context) {
	for {
		saved, err := b.backfillOnce(ctx)
		if err != nil {
			b.logger.Error("backfill round failed", slog.String("err", err.Error()))
			return
		}
		if saved == 0 {
			return
		}
	}
}

func (b *Backfill) backfillOnce(ctx context.Context) (int, error) {
	blocks, err := b.source.Next(ctx)
	if err != nil {
		return 0, err
	}
	if len(blocks) == 0 {
		return 0, nil
	}

	for _, block := range blocks {
		saved, err := b.saveTransactions(ctx, block)
		if err != nil {
			return 0, err
		}

		blockType := store.BlockTypeEmpty
		if saved > 0 {
			blockType = store.BlockTypeData
		}

		err = b.store.SaveBlock(ctx, &store.Block{
			BlockID:   block.BlockID,
			BlockNum:  block.BlockNum,
			BlockType: blockType,
			Timestamp: block.Timestamp,
		})
		if err != nil {
			return 0, err
		}
	}

	last := blocks[len(blocks)-1].BlockNum
	if err = b.store.UpdateLastStatus(ctx, BackfillCheckpointKey, last); err != nil {
		return 0, err
	}

	b.logger.Info("backfilled blocks",
		slog.Int("count", len(blocks)),
		slog.Int64("block_num", last))

	return len(blocks), nil
}

// saveTransactions persists the protocol actions of one block and returns
// how many it found. Publish actions leave a pending notification behind,
// the same as the steady-state syncer.
func (b *Backfill) saveTransactions(ctx context.Context, block *chain.Block) (int, error) {
	saved := 0
	for _, trx := range block.Trxs {
		for i := range trx.Actions {
			action := &trx.Actions[i]
			if action.Type != pip2001.DataType || action.ID == "" {
				continue
			}

			raw, err := json.Marshal(action)
			if err != nil {
				return 0, err
			}

			err = b.store.SaveTransaction(ctx, &store.Transaction{
				ID:          action.ID,
				BlockNum:    block.BlockNum,
				DataType:    action.Type,
				Data:        string(raw),
				TrxID:       trx.TrxID,
				Signature:   action.Signature,
				Hash:        action.Hash,
				UserAddress: action.UserAddress,
			})
			if err != nil {
				return 0, err
			}

			if err = enqueueNotify(ctx, b.store, b.logger, action, trx.TrxID, block.BlockNum, ""); err != nil {
				return 0, err
			}

			saved++
		}
	}

	return saved, nil
}
