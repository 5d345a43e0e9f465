// Package notifier delivers webhook callbacks for published posts once
// their content is fetched and verified. Delivery state lives in the store;
// the worker itself is stateless and safe to restart at any point.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/pressone/atom/internal/store"
)

// Payload is the webhook body. Field names are part of the contract with
// downstream consumers.
type Payload struct {
	Block PayloadBlock `json:"block"`
}

type PayloadBlock struct {
	ID                 string `json:"id"`
	BlockNum           int64  `json:"blockNum"`
	BlockTransactionID string `json:"blockTransactionId"`
}

// Notifier posts one callback per pending notification each round. Failed
// deliveries stay pending and are retried on the next tick, so the poll
// interval doubles as the retry backoff.
type Notifier struct {
	store      store.AtomStore
	webhooks   map[string]string // topic to webhook URL
	batch      int
	httpClient *http.Client
	logger     *slog.Logger

	workersWg sync.WaitGroup
	ctx       context.Context
	cancelAll func()
}

func WithHTTPClient(client *http.Client) func(*Notifier) {
	return func(n *Notifier) {
		n.httpClient = client
	}
}

func New(s store.AtomStore, webhooks map[string]string, batch int, logger *slog.Logger, opts ...func(*Notifier)) *Notifier {
	ctx, cancel := context.WithCancel(context.Background())

	n := &Notifier{
		store:      s,
		webhooks:   webhooks,
		batch:      batch,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With(slog.String("module", "notifier")),

		ctx:       ctx,
		cancelAll: cancel,
	}

	for _, opt := range opts {
		opt(n)
	}

	return n
}

func (n *Notifier) Start(interval time.Duration) {
	ticker := time.NewTicker(interval)

	n.workersWg.Add(1)
	go func() {
		defer n.workersWg.Done()
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				n.notifyOnce(n.ctx)
			case <-n.ctx.Done():
				return
			}
		}
	}()
}

func (n *Notifier) GracefulStop() {
	n.logger.Info("Shutting down")

	n.cancelAll()
	n.workersWg.Wait()

	n.logger.Info("Shutdown complete")
}

func (n *Notifier) notifyOnce(ctx context.Context) {
	pending, err := n.store.GetPendingNotifies(ctx, n.batch)
	if err != nil {
		n.logger.Error("unable to load pending notifications", slog.String("err", err.Error()))
		return
	}

	for _, notify := range pending {
		logger := n.logger.With(
			slog.String("data_id", notify.DataID),
			slog.String("topic", notify.Topic))

		url, ok := n.webhooks[notify.Topic]
		if !ok || url == "" {
			// config gap: no attempt is made, the retry counter stays put
			logger.Error("no webhook configured for topic")
			continue
		}

		delivered := n.deliver(ctx, url, notify)
		if err = n.store.UpdateNotifyStatus(ctx, notify.DataID, delivered); err != nil {
			logger.Error("unable to record delivery attempt", slog.String("err", err.Error()))
			continue
		}

		if delivered {
			logger.Info("webhook delivered", slog.Int("attempt", notify.Retries+1))
		} else {
			logger.Warn("webhook delivery failed", slog.Int("attempt", notify.Retries+1))
		}
	}
}

// deliver posts the payload; only HTTP 200 counts as delivered.
func (n *Notifier) deliver(ctx context.Context, url string, notify *store.Notify) bool {
	payload := Payload{
		Block: PayloadBlock{
			ID:                 notify.DataID,
			BlockNum:           notify.BlockNum,
			BlockTransactionID: notify.TrxID,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		n.logger.Error("unable to encode payload", slog.String("err", err.Error()))
		return false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("unable to build request", slog.String("err", err.Error()))
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.logger.Warn("webhook unreachable", slog.String("err", err.Error()))
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
