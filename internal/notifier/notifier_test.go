package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pressone/atom/internal/store"
	"github.com/pressone/atom/internal/store/storetest"
)

const testTopic = "b6b17424"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// seedReadyNotify stores a verified post and its pending notification.
func seedReadyNotify(t *testing.T, s *storetest.Store, dataID, trxID string, blockNum int64) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, s.SavePost(ctx, &store.Post{
		PublishTxID: trxID,
		UserAddress: "758ea260",
		FileHash:    "75c2",
		Topic:       testTopic,
		URL:         "https://storage.example.com/p/1.md",
	}))
	require.NoError(t, s.SetPostFetchStatus(ctx, trxID, true, true))
	require.NoError(t, s.SaveNotify(ctx, &store.Notify{
		DataID:   dataID,
		TrxID:    trxID,
		BlockNum: blockNum,
		Topic:    testTopic,
	}))
}

func TestNotifierDelivers(t *testing.T) {
	var hits atomic.Int64
	var gotPayload Payload
	var gotContentType string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
	}))
	defer srv.Close()

	s := storetest.New()
	seedReadyNotify(t, s, "data-100", "trx-100", 100)

	notifier := New(s, map[string]string{testTopic: srv.URL}, 10, testLogger())
	notifier.notifyOnce(context.Background())

	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, "application/json", gotContentType)
	require.Equal(t, "data-100", gotPayload.Block.ID)
	require.Equal(t, int64(100), gotPayload.Block.BlockNum)
	require.Equal(t, "trx-100", gotPayload.Block.BlockTransactionID)

	notify := s.Notifies["data-100"]
	require.True(t, notify.Success)
	require.Equal(t, 1, notify.Retries)

	// delivered notifications are not retried
	notifier.notifyOnce(context.Background())
	require.Equal(t, int64(1), hits.Load())
	require.Equal(t, 1, s.Notifies["data-100"].Retries)
}

func TestNotifierRetryAccounting(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	s := storetest.New()
	seedReadyNotify(t, s, "data-100", "trx-100", 100)

	notifier := New(s, map[string]string{testTopic: srv.URL}, 10, testLogger())

	// every attempt counts, successful or not
	for i := 0; i < 3; i++ {
		notifier.notifyOnce(context.Background())
	}
	notify := s.Notifies["data-100"]
	require.False(t, notify.Success)
	require.Equal(t, 3, notify.Retries)

	fail.Store(false)
	notifier.notifyOnce(context.Background())

	notify = s.Notifies["data-100"]
	require.True(t, notify.Success)
	require.Equal(t, 4, notify.Retries)
}

func TestNotifierMissingWebhook(t *testing.T) {
	s := storetest.New()
	seedReadyNotify(t, s, "data-100", "trx-100", 100)

	notifier := New(s, map[string]string{}, 10, testLogger())
	notifier.notifyOnce(context.Background())

	// a config gap is not a delivery attempt
	notify := s.Notifies["data-100"]
	require.False(t, notify.Success)
	require.Equal(t, 0, notify.Retries)
}

func TestNotifierSkipsUnreadyPosts(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	s := storetest.New()
	ctx := context.Background()
	require.NoError(t, s.SavePost(ctx, &store.Post{
		PublishTxID: "trx-100",
		UserAddress: "758ea260",
		FileHash:    "75c2",
		Topic:       testTopic,
		URL:         "https://storage.example.com/p/1.md",
	}))
	require.NoError(t, s.SaveNotify(ctx, &store.Notify{
		DataID: "data-100", TrxID: "trx-100", BlockNum: 100, Topic: testTopic,
	}))

	notifier := New(s, map[string]string{testTopic: srv.URL}, 10, testLogger())
	notifier.notifyOnce(ctx)

	// the post is not fetched yet, nothing goes out
	require.Equal(t, int64(0), hits.Load())
	require.Equal(t, 0, s.Notifies["data-100"].Retries)
}
