package config

import "time"

func getDefaultAtomConfig() *AtomConfig {
	return &AtomConfig{
		LogLevel:  "INFO",
		LogFormat: "text",
		Chain: &ChainConfig{
			ConnectTimeout: 10 * time.Second,
			RequestTimeout: 60 * time.Second,
		},
		Db: &DbConfig{
			Host:         "localhost",
			Port:         5432,
			Name:         "atom",
			User:         "atom",
			Password:     "atom",
			SslMode:      "disable",
			MaxIdleConns: 10,
			MaxOpenConns: 80,
		},
		Sync: &SyncConfig{
			PollInterval:    5 * time.Second,
			BatchSize:       20,
			ProcessInterval: time.Second,
			BackfillWorkers: 4,
		},
		Fetcher: &FetcherConfig{
			Interval:  5 * time.Second,
			Timeout:   60 * time.Second,
			BatchSize: 1000,
		},
		Notifier: &NotifierConfig{
			Interval: 5 * time.Second,
			Timeout:  10 * time.Second,
		},
		Api: &ApiConfig{
			Address: "localhost:8080",
		},
	}
}
