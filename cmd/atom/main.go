package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/pressone/atom/config"
	"github.com/pressone/atom/internal/api"
	"github.com/pressone/atom/internal/chain"
	"github.com/pressone/atom/internal/content"
	"github.com/pressone/atom/internal/feed"
	"github.com/pressone/atom/internal/logger"
	"github.com/pressone/atom/internal/notifier"
	"github.com/pressone/atom/internal/store/postgresql"
	syncworker "github.com/pressone/atom/internal/sync"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("failed to run atom: %v", err)
	}

	os.Exit(0)
}

func run() error {
	configDir, startSync, startProcessor, startFetcher, startNotifier, startAPI, startBackfill, migrateOnly := parseFlags()

	atomConfig, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}

	appLogger, err := logger.NewLogger(atomConfig.LogLevel, atomConfig.LogFormat)
	if err != nil {
		return fmt.Errorf("failed to create logger: %v", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get host name: %v", err)
	}
	appLogger = appLogger.With(slog.String("host", hostname))

	atomStore, err := openStore(atomConfig)
	if err != nil {
		return fmt.Errorf("failed to open store: %v", err)
	}

	if migrateOnly {
		appLogger.Info("Running migrations")
		if err = atomStore.Migrate(); err != nil {
			return fmt.Errorf("failed to run migrations: %v", err)
		}
		appLogger.Info("Migrations complete")
		return atomStore.Close()
	}

	mirrors, err := atomConfig.Mirrors()
	if err != nil {
		return fmt.Errorf("failed to resolve chain mirrors: %v", err)
	}

	chainClient, err := chain.New(mirrors, appLogger,
		chain.WithConnectTimeout(atomConfig.Chain.ConnectTimeout),
		chain.WithRequestTimeout(atomConfig.Chain.RequestTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to create chain client: %v", err)
	}

	if !isAnyFlagPassed("sync", "processor", "fetcher", "notifier", "api", "backfill") {
		appLogger.Info("No service selected, starting all")
		startSync = true
		startProcessor = true
		startFetcher = true
		startNotifier = true
		startAPI = true
	}

	shutdownFns := make([]func(), 0)
	shutdownCh := make(chan string, 1)

	if startSync {
		appLogger.Info("Starting syncers", slog.Any("topics", atomConfig.TopicNames()))
		for _, topic := range atomConfig.TopicNames() {
			syncer := syncworker.NewSyncer(atomStore, chainClient, topic, atomConfig.Sync.BatchSize, appLogger)
			syncer.Start(atomConfig.Sync.PollInterval)
			shutdownFns = append(shutdownFns, syncer.GracefulStop)
		}
	}

	if startProcessor {
		appLogger.Info("Starting processor")
		processor := syncworker.NewProcessor(atomStore, atomConfig.Sync.BatchSize, appLogger)
		processor.Start(atomConfig.Sync.ProcessInterval)
		shutdownFns = append(shutdownFns, processor.GracefulStop)
	}

	if startFetcher {
		appLogger.Info("Starting content fetcher")
		secrets, err := topicSecrets(atomConfig)
		if err != nil {
			return fmt.Errorf("failed to load topic keys: %v", err)
		}

		fetcher := content.NewFetcher(atomStore, secrets, atomConfig.Fetcher.BatchSize, appLogger,
			content.WithHTTPClient(&http.Client{Timeout: atomConfig.Fetcher.Timeout}))
		fetcher.Start(atomConfig.Fetcher.Interval)
		shutdownFns = append(shutdownFns, fetcher.GracefulStop)
	}

	if startNotifier {
		appLogger.Info("Starting notifier")
		webhooks := make(map[string]string, len(atomConfig.Topics))
		for _, topic := range atomConfig.Topics {
			webhooks[topic.Topic] = topic.Webhook
		}

		notify := notifier.New(atomStore, webhooks, atomConfig.Sync.BatchSize, appLogger,
			notifier.WithHTTPClient(&http.Client{Timeout: atomConfig.Notifier.Timeout}))
		notify.Start(atomConfig.Notifier.Interval)
		shutdownFns = append(shutdownFns, notify.GracefulStop)
	}

	if startBackfill {
		appLogger.Info("Starting backfill")
		backfill, err := newBackfill(atomStore, chainClient, atomConfig, appLogger)
		if err != nil {
			return fmt.Errorf("failed to start backfill: %v", err)
		}
		backfill.Start(atomConfig.Sync.PollInterval)
		shutdownFns = append(shutdownFns, backfill.GracefulStop)
	}

	if startAPI {
		appLogger.Info("Starting API", slog.String("address", atomConfig.Api.Address))
		server := api.NewServer(atomStore, feed.NewGenerator(atomStore, appLogger), appLogger)
		go func() {
			if err := server.Start(atomConfig.Api.Address); err != nil {
				appLogger.Error("api server failed", slog.String("err", err.Error()))
				shutdownCh <- "api server failed"
			}
		}()
		shutdownFns = append(shutdownFns, server.GracefulStop)
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)

	select {
	case reason := <-shutdownCh:
		appLogger.Info("Received shutdown signal", slog.String("reason", reason))
	case sig := <-signalChan:
		appLogger.Info("Received shutdown signal", slog.String("reason", sig.String()))
	}

	appCleanup(appLogger, shutdownFns)

	if err = atomStore.Close(); err != nil {
		appLogger.Error("failed to close store", slog.String("err", err.Error()))
	}

	return nil
}

// openStore connects to postgres, waiting for the database to come up.
func openStore(atomConfig *config.AtomConfig) (*postgresql.PostgreSQL, error) {
	atomStore, err := postgresql.New(atomConfig.Db.DSN(), atomConfig.Db.MaxIdleConns, atomConfig.Db.MaxOpenConns)
	if err != nil {
		return nil, err
	}

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 15)
	err = backoff.Retry(func() error {
		return atomStore.Ping(context.Background())
	}, policy)
	if err != nil {
		return nil, err
	}

	return atomStore, nil
}

func topicSecrets(atomConfig *config.AtomConfig) (map[string]content.TopicSecrets, error) {
	secrets := make(map[string]content.TopicSecrets)
	for _, topic := range atomConfig.Topics {
		if topic.EncryptionKey == "" {
			continue
		}

		key, err := topic.EncryptionKeyBytes()
		if err != nil {
			return nil, fmt.Errorf("topic %s: %w", topic.Topic, err)
		}
		secrets[topic.Topic] = content.TopicSecrets{Key: key, IVPrefix: topic.IvPrefix}
	}

	return secrets, nil
}

// newBackfill resumes the block walk from the stored cursor, or seeds it
// from the earliest transaction of the first topic.
func newBackfill(atomStore *postgresql.PostgreSQL, chainClient *chain.Client, atomConfig *config.AtomConfig, appLogger *slog.Logger) (*syncworker.Backfill, error) {
	ctx := context.Background()

	startBlock, err := atomStore.GetLastStatus(ctx, syncworker.BackfillCheckpointKey)
	if err == nil {
		startBlock++
	} else {
		startBlock, err = chainClient.GetStartBlock(ctx, atomConfig.TopicNames()[0])
		if err != nil {
			return nil, err
		}
	}

	fetcher := chain.NewRangeFetcher(chainClient, startBlock, atomConfig.Sync.BackfillWorkers, appLogger)

	return syncworker.NewBackfill(atomStore, fetcher, appLogger), nil
}

func parseFlags() (configDir string, startSync, startProcessor, startFetcher, startNotifier, startAPI, startBackfill, migrateOnly bool) {
	syncFlag := flag.Bool("sync", false, "start topic syncers")
	processorFlag := flag.Bool("processor", false, "start transaction processor")
	fetcherFlag := flag.Bool("fetcher", false, "start content fetcher")
	notifierFlag := flag.Bool("notifier", false, "start webhook notifier")
	apiFlag := flag.Bool("api", false, "start read api server")
	backfillFlag := flag.Bool("backfill", false, "start block backfill")
	migrateFlag := flag.Bool("migrate", false, "run database migrations and exit")
	configDirFlag := flag.String("config", "", "path to configuration file")
	help := flag.Bool("help", false, "Show help")

	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}

	return *configDirFlag, *syncFlag, *processorFlag, *fetcherFlag, *notifierFlag, *apiFlag, *backfillFlag, *migrateFlag
}

func isAnyFlagPassed(flags ...string) bool {
	for _, name := range flags {
		found := false
		flag.Visit(func(f *flag.Flag) {
			if f.Name == name {
				found = true
			}
		})
		if found {
			return true
		}
	}
	return false
}

func appCleanup(logger *slog.Logger, shutdownFns []func()) {
	logger.Info("cleaning up")
	for _, fn := range shutdownFns {
		fn()
	}
}
