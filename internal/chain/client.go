// Package chain reads PIP:2001 transactions and blocks from the chain's
// HTTP API. Every call picks one of the configured mirror base URLs at
// random, spreading load and riding out single-mirror outages; errors are
// recoverable and retrying is left to the caller's polling loop.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pressone/atom/internal/pip2001"
)

var (
	ErrNoMirrors       = errors.New("no chain mirrors configured")
	ErrRequestFailed   = errors.New("chain request failed")
	ErrInvalidResponse = errors.New("invalid chain response")
	ErrNoStartPoint    = errors.New("no start point found for topic")
	ErrBlockNotFound   = errors.New("block not generated yet")
)

// Transaction is one protocol-bearing chain transaction, flattened from the
// chain API's batch response. Raw keeps the action payload verbatim so
// signature checks can be replayed from storage.
type Transaction struct {
	BlockNum    int64
	TrxID       string
	DataType    string
	UserAddress string
	Data        pip2001.ActionData
	Raw         string
}

// Block is one chain block with the protocol actions of its transactions.
type Block struct {
	BlockNum  int64
	BlockID   string
	Timestamp string
	Trxs      []BlockTrx
}

type BlockTrx struct {
	TrxID   string
	Actions []pip2001.ActionData
}

// Info is the chain head summary returned by the bare base URL.
type Info struct {
	HeadBlockNum             int64 `json:"head_block_num"`
	LastIrreversibleBlockNum int64 `json:"last_irreversible_block_num"`
}

type Client struct {
	mirrors    []string
	httpClient *http.Client
	logger     *slog.Logger
}

type Option func(*Client)

func WithConnectTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Transport = &http.Transport{
			DialContext: (&net.Dialer{Timeout: d}).DialContext,
		}
	}
}

func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

func New(mirrors []string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if len(mirrors) == 0 {
		return nil, ErrNoMirrors
	}

	c := &Client{
		mirrors:    mirrors,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With(slog.String("module", "chain")),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// baseURL picks one mirror uniformly at random.
func (c *Client) baseURL() string {
	return c.mirrors[rand.Intn(len(c.mirrors))]
}

func (c *Client) get(ctx context.Context, suffix string) ([]byte, error) {
	url := c.baseURL() + suffix

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(ErrRequestFailed, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Join(ErrRequestFailed, fmt.Errorf("status %d from %s", resp.StatusCode, url))
	}

	return body, nil
}

// FetchTransactions returns up to count PIP:2001 transactions for topic at
// or after blockNum. Entries that fail to decode are logged and skipped; an
// empty result means the topic is caught up.
func (c *Client) FetchTransactions(ctx context.Context, topic string, blockNum int64, count int) ([]Transaction, error) {
	suffix := fmt.Sprintf("/transactions?topic=%s&blocknum=%d&type=%s&count=%d",
		topic, blockNum, pip2001.DataType, count)

	body, err := c.get(ctx, suffix)
	if err != nil {
		return nil, err
	}

	var batch struct {
		Data []txEntry `json:"data"`
	}
	if err := json.Unmarshal(body, &batch); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	var transactions []Transaction
	for _, entry := range batch.Data {
		txs, err := entry.flatten()
		if err != nil {
			c.logger.Error("skipping undecodable batch entry",
				slog.String("topic", topic),
				slog.String("err", err.Error()))
			continue
		}
		transactions = append(transactions, txs...)
	}

	return transactions, nil
}

// GetStartBlock asks the chain for the earliest transaction of the topic to
// seed a polling cursor when no checkpoint exists yet.
func (c *Client) GetStartBlock(ctx context.Context, topic string) (int64, error) {
	suffix := fmt.Sprintf("/transactions?topic=%s&type=%s&count=1", topic, pip2001.DataType)

	body, err := c.get(ctx, suffix)
	if err != nil {
		return 0, err
	}

	var res struct {
		Data []struct {
			BlockNum string `json:"block_num"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, errors.Join(ErrInvalidResponse, err)
	}

	if len(res.Data) == 0 {
		return 0, errors.Join(ErrNoStartPoint, fmt.Errorf("topic: %s", topic))
	}

	blockNum, err := strconv.ParseInt(res.Data[0].BlockNum, 10, 64)
	if err != nil || blockNum <= 0 {
		return 0, errors.Join(ErrNoStartPoint, fmt.Errorf("topic: %s block_num: %q", topic, res.Data[0].BlockNum))
	}

	return blockNum, nil
}

// GetInfo fetches the chain head summary from the bare base URL.
func (c *Client) GetInfo(ctx context.Context) (*Info, error) {
	body, err := c.get(ctx, "")
	if err != nil {
		return nil, err
	}

	var res struct {
		Success bool    `json:"success"`
		Errors  *string `json:"errors"`
		Data    *Info   `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	if !res.Success || res.Data == nil {
		return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("body: %s", body))
	}
	if res.Data.HeadBlockNum == 0 || res.Data.LastIrreversibleBlockNum == 0 {
		return nil, errors.Join(ErrInvalidResponse,
			fmt.Errorf("head_block_num = %d last_irreversible_block_num = %d",
				res.Data.HeadBlockNum, res.Data.LastIrreversibleBlockNum))
	}

	return res.Data, nil
}

// GetBlock fetches a single block by number; ErrBlockNotFound signals a
// block beyond the chain tip.
func (c *Client) GetBlock(ctx context.Context, blockNum int64) (*Block, error) {
	body, err := c.get(ctx, fmt.Sprintf("/blocks/%d", blockNum))
	if err != nil {
		return nil, err
	}

	var res struct {
		Success *bool `json:"success"`
		Data    *struct {
			BlockNum     int64        `json:"block_num"`
			ID           string       `json:"id"`
			Timestamp    string       `json:"timestamp"`
			Transactions []trxWrapper `json:"transactions"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Join(ErrInvalidResponse, err)
	}

	if res.Success != nil && !*res.Success {
		return nil, errors.Join(ErrBlockNotFound, fmt.Errorf("block_num: %d", blockNum))
	}
	if res.Data == nil || res.Data.ID == "" {
		return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("block_num: %d", blockNum))
	}
	if res.Data.BlockNum != blockNum {
		return nil, errors.Join(ErrInvalidResponse,
			fmt.Errorf("block_num mismatch: requested %d got %d", blockNum, res.Data.BlockNum))
	}

	block := &Block{
		BlockNum:  res.Data.BlockNum,
		BlockID:   res.Data.ID,
		Timestamp: res.Data.Timestamp,
	}
	for _, wrapper := range res.Data.Transactions {
		trx, ok := wrapper.decode(c.logger, blockNum)
		if ok {
			block.Trxs = append(block.Trxs, trx)
		}
	}

	return block, nil
}

// txEntry is one entry of the flattened /transactions batch response. The
// chain API denormalizes a few action fields to the top level and nests the
// full block alongside.
type txEntry struct {
	BlockNum    string `json:"block_num"`
	TrxID       string `json:"transactions_trx_id"`
	DataType    string `json:"transactions_trx_transaction_actions_data_type"`
	UserAddress string `json:"transactions_trx_transaction_actions_data_user_address"`
	Block       struct {
		Transactions []trxWrapper `json:"transactions"`
	} `json:"block"`
}

type trxWrapper struct {
	Trx struct {
		ID          string `json:"id"`
		Transaction struct {
			Actions []struct {
				Data json.RawMessage `json:"data"`
			} `json:"actions"`
		} `json:"transaction"`
	} `json:"trx"`
}

func (e *txEntry) flatten() ([]Transaction, error) {
	if e.TrxID == "" {
		return nil, errors.Join(ErrInvalidResponse, errors.New("missing transactions_trx_id"))
	}
	if e.DataType == "" {
		return nil, errors.Join(ErrInvalidResponse, errors.New("missing action data type"))
	}
	if e.UserAddress == "" {
		return nil, errors.Join(ErrInvalidResponse, errors.New("missing action user address"))
	}

	blockNum, err := strconv.ParseInt(e.BlockNum, 10, 64)
	if err != nil {
		return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("block_num: %q", e.BlockNum))
	}

	var transactions []Transaction
	for _, wrapper := range e.Block.Transactions {
		for _, action := range wrapper.Trx.Transaction.Actions {
			var data pip2001.ActionData
			if err := json.Unmarshal(action.Data, &data); err != nil {
				return nil, errors.Join(ErrInvalidResponse, fmt.Errorf("action data: %w", err))
			}

			transactions = append(transactions, Transaction{
				BlockNum:    blockNum,
				TrxID:       e.TrxID,
				DataType:    e.DataType,
				UserAddress: e.UserAddress,
				Data:        data,
				Raw:         string(action.Data),
			})
		}
	}

	return transactions, nil
}

func (w *trxWrapper) decode(logger *slog.Logger, blockNum int64) (BlockTrx, bool) {
	if w.Trx.ID == "" {
		logger.Error("block transaction without trx id", slog.Int64("block_num", blockNum))
		return BlockTrx{}, false
	}

	trx := BlockTrx{TrxID: w.Trx.ID}
	for _, action := range w.Trx.Transaction.Actions {
		var data pip2001.ActionData
		if err := json.Unmarshal(action.Data, &data); err != nil {
			logger.Info("unsupported action data",
				slog.Int64("block_num", blockNum),
				slog.String("err", err.Error()))
			continue
		}
		trx.Actions = append(trx.Actions, data)
	}

	return trx, true
}
