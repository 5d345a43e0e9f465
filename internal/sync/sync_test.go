package sync

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/pressone/atom/internal/chain"
	"github.com/pressone/atom/internal/pip2001"
	"github.com/pressone/atom/internal/store"
	"github.com/pressone/atom/internal/store/storetest"
	"github.com/pressone/atom/internal/verifier"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// signedAction builds an action whose signature verifies against its data.
func signedAction(t *testing.T, id, meta, data string) pip2001.ActionData {
	t.Helper()

	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	canonical, err := verifier.Canonicalize(data)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte(canonical))
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)

	return pip2001.ActionData{
		ID:          id,
		UserAddress: hex.EncodeToString(crypto.PubkeyToAddress(key.PublicKey).Bytes()),
		Type:        pip2001.DataType,
		Meta:        meta,
		Data:        data,
		Hash:        hex.EncodeToString(digest),
		Signature:   hex.EncodeToString(sig),
	}
}

func chainTransaction(blockNum int64, trxID string, action pip2001.ActionData) chain.Transaction {
	raw, _ := json.Marshal(action)
	return chain.Transaction{
		BlockNum:    blockNum,
		TrxID:       trxID,
		DataType:    pip2001.DataType,
		UserAddress: action.UserAddress,
		Data:        action,
		Raw:         string(raw),
	}
}

type fakeSource struct {
	startBlock    int64
	startBlockErr error
	batches       [][]chain.Transaction
	fetchedFrom   []int64
}

func (f *fakeSource) FetchTransactions(_ context.Context, _ string, blockNum int64, _ int) ([]chain.Transaction, error) {
	f.fetchedFrom = append(f.fetchedFrom, blockNum)
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	f.batches = f.batches[1:]
	return batch, nil
}

func (f *fakeSource) GetStartBlock(_ context.Context, _ string) (int64, error) {
	if f.startBlockErr != nil {
		return 0, f.startBlockErr
	}
	return f.startBlock, nil
}

const (
	testTopic   = "b6b17424"
	publishMeta = `{"uris":["https://storage.example.com/p/1.md"]}`
)

func publishData(fileHash string) string {
	return fmt.Sprintf(`{"file_hash":%q,"topic":%q}`, fileHash, testTopic)
}

func TestSyncerFreshTopic(t *testing.T) {
	s := storetest.New()
	source := &fakeSource{
		startBlock: 100,
		batches: [][]chain.Transaction{
			{
				chainTransaction(100, "trx-100", signedAction(t, "data-100", publishMeta, publishData("75c2"))),
				chainTransaction(105, "trx-105", signedAction(t, "data-105", publishMeta, publishData("9f31"))),
			},
		},
	}

	syncer := NewSyncer(s, source, testTopic, 20, testLogger())
	syncer.drain(context.Background())

	// cursor seeded from the earliest transaction, advanced to the last block seen
	require.Equal(t, []int64{100, 105}, source.fetchedFrom)

	checkpoint, err := s.GetLastStatus(context.Background(), CheckpointKey(testTopic))
	require.NoError(t, err)
	require.Equal(t, int64(105), checkpoint)

	require.Len(t, s.Transactions, 2)
	require.Equal(t, int64(100), s.Transactions["data-100"].BlockNum)
	require.False(t, s.Transactions["data-100"].Processed)

	// each publish leaves one undelivered notification behind
	require.Len(t, s.Notifies, 2)
	for _, dataID := range []string{"data-100", "data-105"} {
		notify := s.Notifies[dataID]
		require.NotNil(t, notify)
		require.False(t, notify.Success)
		require.Equal(t, 0, notify.Retries)
		require.Equal(t, testTopic, notify.Topic)
	}
}

// inclusiveSource serves every transaction at or after the cursor, the way
// the chain API does, so a caught-up topic keeps seeing its last transaction.
type inclusiveSource struct {
	txs         []chain.Transaction
	fetchedFrom []int64
}

func (f *inclusiveSource) FetchTransactions(_ context.Context, _ string, blockNum int64, _ int) ([]chain.Transaction, error) {
	if len(f.fetchedFrom) >= 25 {
		return nil, errors.New("fetch storm")
	}
	f.fetchedFrom = append(f.fetchedFrom, blockNum)

	var batch []chain.Transaction
	for _, tx := range f.txs {
		if tx.BlockNum >= blockNum {
			batch = append(batch, tx)
		}
	}
	return batch, nil
}

func (f *inclusiveSource) GetStartBlock(_ context.Context, _ string) (int64, error) {
	return f.txs[0].BlockNum, nil
}

func TestSyncerCaughtUpTopicStopsDraining(t *testing.T) {
	s := storetest.New()
	source := &inclusiveSource{
		txs: []chain.Transaction{
			chainTransaction(100, "trx-100", signedAction(t, "data-100", publishMeta, publishData("75c2"))),
			chainTransaction(105, "trx-105", signedAction(t, "data-105", publishMeta, publishData("9f31"))),
		},
	}

	syncer := NewSyncer(s, source, testTopic, 20, testLogger())
	syncer.drain(context.Background())

	// the checkpoint block is re-served once, recognized as seen, and the
	// drain stops instead of hammering the chain
	require.Equal(t, []int64{100, 105}, source.fetchedFrom)

	// next tick fetches once and stops again
	syncer.drain(context.Background())
	require.Equal(t, []int64{100, 105, 105}, source.fetchedFrom)

	checkpoint, err := s.GetLastStatus(context.Background(), CheckpointKey(testTopic))
	require.NoError(t, err)
	require.Equal(t, int64(105), checkpoint)

	require.Len(t, s.Transactions, 2)
	require.Len(t, s.Notifies, 2)
}

func TestSyncerResumesFromCheckpoint(t *testing.T) {
	s := storetest.New()
	require.NoError(t, s.UpdateLastStatus(context.Background(), CheckpointKey(testTopic), 105))

	source := &fakeSource{startBlock: 100}
	syncer := NewSyncer(s, source, testTopic, 20, testLogger())
	syncer.drain(context.Background())

	require.Equal(t, []int64{105}, source.fetchedFrom)
}

func TestSyncerIdempotentReplay(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-100", publishMeta, publishData("75c2"))

	for i := 0; i < 2; i++ {
		source := &fakeSource{
			startBlock: 100,
			batches:    [][]chain.Transaction{{chainTransaction(100, "trx-100", action)}},
		}
		syncer := NewSyncer(s, source, testTopic, 20, testLogger())
		syncer.drain(context.Background())
	}

	require.Len(t, s.Transactions, 1)
	require.Len(t, s.Notifies, 1)

	checkpoint, err := s.GetLastStatus(context.Background(), CheckpointKey(testTopic))
	require.NoError(t, err)
	require.Equal(t, int64(100), checkpoint)
}

func TestSyncerManagementEnqueuesNothing(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-200", `{}`, fmt.Sprintf(`{"allow":"758ea260","topic":%q}`, testTopic))

	source := &fakeSource{
		startBlock: 100,
		batches:    [][]chain.Transaction{{chainTransaction(100, "trx-200", action)}},
	}
	syncer := NewSyncer(s, source, testTopic, 20, testLogger())
	syncer.drain(context.Background())

	require.Len(t, s.Transactions, 1)
	require.Empty(t, s.Notifies)
}

func TestSyncerTopicWithoutTransactions(t *testing.T) {
	s := storetest.New()
	source := &fakeSource{startBlockErr: chain.ErrNoStartPoint}

	syncer := NewSyncer(s, source, testTopic, 20, testLogger())
	syncer.drain(context.Background())

	require.Empty(t, source.fetchedFrom)
	require.Empty(t, s.Transactions)

	_, err := s.GetLastStatus(context.Background(), CheckpointKey(testTopic))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func saveChainTransaction(t *testing.T, s *storetest.Store, tx chain.Transaction) {
	t.Helper()

	require.NoError(t, s.SaveTransaction(context.Background(), &store.Transaction{
		ID:          tx.Data.ID,
		BlockNum:    tx.BlockNum,
		DataType:    tx.DataType,
		Data:        tx.Raw,
		TrxID:       tx.TrxID,
		Signature:   tx.Data.Signature,
		Hash:        tx.Data.Hash,
		UserAddress: tx.UserAddress,
	}))
}

func TestProcessorPublish(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-100", `{"uris":["https://storage.example.com/p/1.md"],"encryption":"aes-256-cbc"}`, publishData("75c2"))
	saveChainTransaction(t, s, chainTransaction(100, "trx-100", action))

	processor := NewProcessor(s, 20, testLogger())
	processor.drain(context.Background())

	require.True(t, s.Transactions["data-100"].Processed)

	post, err := s.GetPost(context.Background(), "trx-100")
	require.NoError(t, err)
	require.Equal(t, action.UserAddress, post.UserAddress)
	require.Equal(t, "75c2", post.FileHash)
	require.Equal(t, "keccak256", post.HashAlg)
	require.Equal(t, testTopic, post.Topic)
	require.Equal(t, "https://storage.example.com/p/1.md", post.URL)
	require.Equal(t, "aes-256-cbc", post.Encryption)
	require.False(t, post.Fetched)
}

func TestProcessorRejectsBadSignature(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-100", publishMeta, publishData("75c2"))
	// signature from a different key recovers the wrong address
	action.Signature = signedAction(t, "other", publishMeta, publishData("75c2")).Signature
	saveChainTransaction(t, s, chainTransaction(100, "trx-100", action))

	processor := NewProcessor(s, 20, testLogger())
	processor.drain(context.Background())

	// terminal: processed without a post, never retried
	require.True(t, s.Transactions["data-100"].Processed)
	_, err := s.GetPost(context.Background(), "trx-100")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestProcessorManagement(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-200", `{}`, fmt.Sprintf(`{"allow":"758ea260,9a2f5cd8","topic":%q}`, testTopic))
	saveChainTransaction(t, s, chainTransaction(100, "trx-200", action))

	deny := signedAction(t, "data-201", `{}`, fmt.Sprintf(`{"deny":"9a2f5cd8","topic":%q}`, testTopic))
	saveChainTransaction(t, s, chainTransaction(105, "trx-201", deny))

	processor := NewProcessor(s, 20, testLogger())
	processor.drain(context.Background())

	user, err := s.GetUser(context.Background(), testTopic, "758ea260")
	require.NoError(t, err)
	require.Equal(t, store.UserStatusAllow, user.Status)
	require.Equal(t, "trx-200", user.TxID)

	// later deny in block order wins
	user, err = s.GetUser(context.Background(), testTopic, "9a2f5cd8")
	require.NoError(t, err)
	require.Equal(t, store.UserStatusDeny, user.Status)
	require.Equal(t, "trx-201", user.TxID)
}

type fakeBlockSource struct {
	rounds [][]*chain.Block
	cursor int64
}

func (f *fakeBlockSource) Next(_ context.Context) ([]*chain.Block, error) {
	if len(f.rounds) == 0 {
		return nil, nil
	}
	round := f.rounds[0]
	f.rounds = f.rounds[1:]
	if len(round) > 0 {
		f.cursor = round[len(round)-1].BlockNum + 1
	}
	return round, nil
}

func (f *fakeBlockSource) Cursor() int64 { return f.cursor }

func TestBackfill(t *testing.T) {
	s := storetest.New()
	action := signedAction(t, "data-742", publishMeta, publishData("75c2"))

	source := &fakeBlockSource{
		rounds: [][]*chain.Block{
			{
				{BlockNum: 742, BlockID: "id-742", Timestamp: "2020-04-27T09:37:12.500"},
				{
					BlockNum:  743,
					BlockID:   "id-743",
					Timestamp: "2020-04-27T09:37:13.000",
					Trxs: []chain.BlockTrx{
						{TrxID: "trx-742", Actions: []pip2001.ActionData{action}},
					},
				},
			},
		},
	}

	backfill := NewBackfill(s, source, testLogger())
	backfill.drain(context.Background())

	require.Len(t, s.Blocks, 2)
	require.Equal(t, "id-743", s.Blocks[743].BlockID)
	require.Equal(t, store.BlockTypeEmpty, s.Blocks[742].BlockType)
	require.Equal(t, store.BlockTypeData, s.Blocks[743].BlockType)

	tx, err := s.GetTransaction(context.Background(), "data-742")
	require.NoError(t, err)
	require.Equal(t, int64(743), tx.BlockNum)
	require.Equal(t, "trx-742", tx.TrxID)

	// publishes found during the walk leave a pending notification behind,
	// the same as steady-state sync
	notify := s.Notifies["data-742"]
	require.NotNil(t, notify)
	require.False(t, notify.Success)
	require.Equal(t, 0, notify.Retries)
	require.Equal(t, "trx-742", notify.TrxID)
	require.Equal(t, testTopic, notify.Topic)

	cursor, err := s.GetLastStatus(context.Background(), BackfillCheckpointKey)
	require.NoError(t, err)
	require.Equal(t, int64(743), cursor)
}
