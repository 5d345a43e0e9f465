package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNoTopics          = errors.New("no topics configured")
	ErrNoChainURL        = errors.New("chain base url not set")
	ErrInvalidEncryption = errors.New("invalid encryption key")
)

type AtomConfig struct {
	LogLevel  string          `json:"logLevel" mapstructure:"logLevel"`
	LogFormat string          `json:"logFormat" mapstructure:"logFormat"`
	Chain     *ChainConfig    `json:"chain" mapstructure:"chain"`
	Db        *DbConfig       `json:"db" mapstructure:"db"`
	Sync      *SyncConfig     `json:"sync" mapstructure:"sync"`
	Fetcher   *FetcherConfig  `json:"fetcher" mapstructure:"fetcher"`
	Notifier  *NotifierConfig `json:"notifier" mapstructure:"notifier"`
	Api       *ApiConfig      `json:"api" mapstructure:"api"`
	Topics    []*TopicConfig  `json:"topics" mapstructure:"topics"`
}

type ChainConfig struct {
	// BaseURL supports mirror shard expansion, e.g.
	// https://prs-bp[1-4].press.one/api/chain expands to 4 mirrors.
	BaseURL        string        `json:"baseUrl" mapstructure:"baseUrl"`
	ConnectTimeout time.Duration `json:"connectTimeout" mapstructure:"connectTimeout"`
	RequestTimeout time.Duration `json:"requestTimeout" mapstructure:"requestTimeout"`
}

type DbConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	Name         string `json:"name" mapstructure:"name"`
	User         string `json:"user" mapstructure:"user"`
	Password     string `json:"password" mapstructure:"password"`
	SslMode      string `json:"sslMode" mapstructure:"sslMode"`
	MaxIdleConns int    `json:"maxIdleConns" mapstructure:"maxIdleConns"`
	MaxOpenConns int    `json:"maxOpenConns" mapstructure:"maxOpenConns"`
}

func (d *DbConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SslMode)
}

type SyncConfig struct {
	PollInterval    time.Duration `json:"pollInterval" mapstructure:"pollInterval"`
	BatchSize       int           `json:"batchSize" mapstructure:"batchSize"`
	ProcessInterval time.Duration `json:"processInterval" mapstructure:"processInterval"`
	BackfillWorkers int           `json:"backfillWorkers" mapstructure:"backfillWorkers"`
}

type FetcherConfig struct {
	Interval  time.Duration `json:"interval" mapstructure:"interval"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
	BatchSize int           `json:"batchSize" mapstructure:"batchSize"`
}

type NotifierConfig struct {
	Interval time.Duration `json:"interval" mapstructure:"interval"`
	Timeout  time.Duration `json:"timeout" mapstructure:"timeout"`
}

type ApiConfig struct {
	Address string `json:"address" mapstructure:"address"`
}

type TopicConfig struct {
	Topic         string `json:"topic" mapstructure:"topic"`
	Webhook       string `json:"webhook" mapstructure:"webhook"`
	EncryptionKey string `json:"encryptionKey" mapstructure:"encryptionKey"`
	IvPrefix      string `json:"ivPrefix" mapstructure:"ivPrefix"`
}

// EncryptionKeyBytes decodes the hex encoded AES-256 key for the topic.
func (t *TopicConfig) EncryptionKeyBytes() ([]byte, error) {
	key, err := hex.DecodeString(t.EncryptionKey)
	if err != nil {
		return nil, errors.Join(ErrInvalidEncryption, err)
	}
	if len(key) != 32 {
		return nil, errors.Join(ErrInvalidEncryption, fmt.Errorf("key length: %d", len(key)))
	}
	return key, nil
}

func (a *AtomConfig) Topic(topic string) (*TopicConfig, bool) {
	for _, t := range a.Topics {
		if t.Topic == topic {
			return t, true
		}
	}
	return nil, false
}

func (a *AtomConfig) TopicNames() []string {
	names := make([]string, 0, len(a.Topics))
	for _, t := range a.Topics {
		names = append(names, t.Topic)
	}
	return names
}

// Mirrors expands the configured chain base URL into the mirror pool.
func (a *AtomConfig) Mirrors() ([]string, error) {
	if a.Chain == nil || a.Chain.BaseURL == "" {
		return nil, ErrNoChainURL
	}
	return ExpandShardURL(a.Chain.BaseURL), nil
}

func (a *AtomConfig) Validate() error {
	if len(a.Topics) == 0 {
		return ErrNoTopics
	}
	if _, err := a.Mirrors(); err != nil {
		return err
	}
	for _, t := range a.Topics {
		if t.EncryptionKey == "" {
			continue
		}
		if _, err := t.EncryptionKeyBytes(); err != nil {
			return fmt.Errorf("topic %s: %w", t.Topic, err)
		}
	}
	return nil
}
