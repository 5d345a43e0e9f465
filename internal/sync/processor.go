package sync

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pressone/atom/internal/pip2001"
	"github.com/pressone/atom/internal/store"
	"github.com/pressone/atom/internal/verifier"
)

// Processor turns stored raw transactions into posts and permission rows.
// A transaction is processed exactly once; signature failures are terminal
// and simply leave no post behind.
type Processor struct {
	store  store.AtomStore
	batch  int
	logger *slog.Logger

	workersWg sync.WaitGroup
	ctx       context.Context
	cancelAll func()
}

func NewProcessor(s store.AtomStore, batch int, logger *slog.Logger) *Processor {
	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		store:  s,
		batch:  batch,
		logger: logger.With(slog.String("module", "processor")),

		ctx:       ctx,
		cancelAll: cancel,
	}
}

func (p *Processor) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	p.workersWg.Add(1)
	go func() {
		defer p.workersWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.drain(p.ctx)
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Processor) GracefulStop() {
	p.logger.Info("Shutting down")

	p.cancelAll()
	p.workersWg.Wait()

	p.logger.Info("Shutdown complete")
}

func (p *Processor) drain(ctx context.Context) {
	for {
		processed, err := p.processOnce(ctx)
		if err != nil {
			p.logger.Error("processing round failed", slog.String("err", err.Error()))
			return
		}
		if processed == 0 {
			return
		}
	}
}

// processOnce handles one batch of unprocessed transactions in chain order,
// so permission changes land before the posts that depend on them.
func (p *Processor) processOnce(ctx context.Context) (int, error) {
	txs, err := p.store.GetUnprocessedTransactions(ctx, p.batch)
	if err != nil {
		return 0, err
	}

	for _, tx := range txs {
		if err = p.process(ctx, tx); err != nil {
			return 0, err
		}
	}

	return len(txs), nil
}

func (p *Processor) process(ctx context.Context, tx *store.Transaction) error {
	logger := p.logger.With(slog.String("data_id", tx.ID), slog.Int64("block_num", tx.BlockNum))

	var action pip2001.ActionData
	if err := json.Unmarshal([]byte(tx.Data), &action); err != nil {
		logger.Warn("stored payload is not an action", slog.String("err", err.Error()))
		return p.store.MarkTransactionProcessed(ctx, tx.ID)
	}

	userAddress := action.UserAddress
	if userAddress == "" {
		userAddress = tx.UserAddress
	}

	if !verifier.VerifySignature(action.Data, action.Hash, action.Signature, userAddress) {
		logger.Warn("signature verification failed", slog.String("user_address", userAddress))
		return p.store.MarkTransactionProcessed(ctx, tx.ID)
	}

	msg, err := pip2001.Decode(&action)
	if err != nil {
		logger.Warn("payload does not decode", slog.String("err", err.Error()))
		return p.store.MarkTransactionProcessed(ctx, tx.ID)
	}

	switch m := msg.(type) {
	case pip2001.Publish:
		err = p.store.SavePost(ctx, &store.Post{
			PublishTxID: tx.TrxID,
			UserAddress: userAddress,
			UpdatedTxID: m.UpdatedTxID,
			FileHash:    m.FileHash,
			HashAlg:     m.HashAlg,
			Topic:       m.Topic,
			URL:         m.URI,
			Encryption:  action.Encryption(),
		})
		if err != nil {
			return err
		}

	case pip2001.PublishManagement:
		for _, user := range m.Users {
			err = p.store.SaveUser(ctx, &store.User{
				Topic:       m.Topic,
				UserAddress: user,
				Status:      m.Action,
				TxID:        tx.TrxID,
			})
			if err != nil {
				return err
			}
		}

	case pip2001.Unsupported:
		logger.Info("unsupported payload kind")
	}

	return p.store.MarkTransactionProcessed(ctx, tx.ID)
}
