// Package config loads guildlink's process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/illmade-knight/guildlink/pkg/aggregator"
	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/microservice"
	"github.com/illmade-knight/guildlink/pkg/notify"
	"github.com/illmade-knight/guildlink/pkg/snapshotstore"
	"github.com/illmade-knight/guildlink/pkg/upstream"
)

// Backend names accepted by CACHE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendGCS       = "gcs"
)

// Config is the full service configuration.
type Config struct {
	microservice.BaseConfig

	SourceGuild string `env:"SOURCE_GUILD,required"`
	TargetGuild string `env:"TARGET_GUILD,required"`

	Upstream   UpstreamConfig   `envPrefix:"UPSTREAM_"`
	Aggregator AggregatorConfig `envPrefix:"AGGREGATOR_"`
	Cache      CacheConfig      `envPrefix:"CACHE_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Firestore  FirestoreConfig  `envPrefix:"FIRESTORE_"`
	GCS        GCSConfig        `envPrefix:"GCS_"`
	PubSub     PubSubConfig     `envPrefix:"PUBSUB_"`
	BigQuery   BigQueryConfig   `envPrefix:"BIGQUERY_"`
}

// UpstreamConfig configures the provider client and its account id memo.
type UpstreamConfig struct {
	BaseURL           string        `env:"BASE_URL" envDefault:"https://open.api.nexon.com"`
	APIKey            string        `env:"API_KEY,required"`
	World             string        `env:"WORLD" envDefault:"베라"`
	RequestTimeout    time.Duration `env:"TIMEOUT" envDefault:"10s"`
	RequestsPerSecond float64       `env:"RPS" envDefault:"20"`
	Burst             int           `env:"BURST" envDefault:"20"`
	AccountMemoSize   int           `env:"ACCOUNT_MEMO_SIZE" envDefault:"4096"`
}

// AggregatorConfig bounds the resolution worker pool.
type AggregatorConfig struct {
	Workers int `env:"WORKERS" envDefault:"10"`
}

// CacheConfig selects the snapshot backend and sets freshness and timeouts.
type CacheConfig struct {
	Backend          string        `env:"BACKEND" envDefault:"file"`
	TTL              time.Duration `env:"TTL" envDefault:"1h"`
	PersistTimeout   time.Duration `env:"PERSIST_TIMEOUT" envDefault:"10s"`
	RecomputeTimeout time.Duration `env:"RECOMPUTE_TIMEOUT" envDefault:"5m"`
	FilePath         string        `env:"FILE" envDefault:"data/linked_characters.json"`
}

// RedisConfig is used when CACHE_BACKEND is redis.
type RedisConfig struct {
	Addr     string        `env:"ADDR" envDefault:"localhost:6379"`
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	Key      string        `env:"KEY" envDefault:"guildlink:snapshot"`
	KeyTTL   time.Duration `env:"KEY_TTL"`
}

// FirestoreConfig is used when CACHE_BACKEND is firestore.
type FirestoreConfig struct {
	Collection string `env:"COLLECTION" envDefault:"guildlink"`
	DocumentID string `env:"DOCUMENT" envDefault:"current"`
}

// GCSConfig is used when CACHE_BACKEND is gcs.
type GCSConfig struct {
	Bucket string `env:"BUCKET"`
	Object string `env:"OBJECT" envDefault:"guildlink/snapshot.json"`
}

// PubSubConfig enables refresh events when TopicID is set.
type PubSubConfig struct {
	TopicID string `env:"TOPIC"`
}

// BigQueryConfig enables association history when DatasetID is set.
type BigQueryConfig struct {
	DatasetID string `env:"DATASET"`
	TableID   string `env:"TABLE" envDefault:"linked_characters"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.Cache.Backend = strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var errs []error
	if c.Aggregator.Workers < 1 {
		errs = append(errs, errors.New("AGGREGATOR_WORKERS must be at least 1"))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.Cache.RecomputeTimeout <= 0 {
		errs = append(errs, errors.New("CACHE_RECOMPUTE_TIMEOUT must be positive"))
	}
	if c.Upstream.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("UPSTREAM_RPS cannot be negative"))
	}

	switch c.Cache.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	case BackendFirestore:
		if c.ProjectID == "" {
			errs = append(errs, errors.New("GCP_PROJECT_ID is required for the firestore backend"))
		}
	case BackendGCS:
		if c.GCS.Bucket == "" {
			errs = append(errs, errors.New("GCS_BUCKET is required for the gcs backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown CACHE_BACKEND %q", c.Cache.Backend))
	}

	if (c.PubSub.TopicID != "" || c.BigQuery.DatasetID != "") && c.ProjectID == "" {
		errs = append(errs, errors.New("GCP_PROJECT_ID is required for pubsub or bigquery notifications"))
	}
	return errors.Join(errs...)
}

// UpstreamClient maps the upstream settings onto the client's config.
func (c *Config) UpstreamClient() upstream.Config {
	return upstream.Config{
		BaseURL:           c.Upstream.BaseURL,
		APIKey:            c.Upstream.APIKey,
		World:             c.Upstream.World,
		RequestTimeout:    c.Upstream.RequestTimeout,
		RequestsPerSecond: c.Upstream.RequestsPerSecond,
		Burst:             c.Upstream.Burst,
	}
}

// AggregatorConfig maps the worker bound onto the aggregator config.
func (c *Config) AggregatorConfig() aggregator.Config {
	return aggregator.Config{NumWorkers: c.Aggregator.Workers}
}

// StoreConfig maps the cache settings onto the snapshot store config.
func (c *Config) StoreConfig() snapshotstore.Config {
	return snapshotstore.Config{
		TTL:              c.Cache.TTL,
		PersistTimeout:   c.Cache.PersistTimeout,
		RecomputeTimeout: c.Cache.RecomputeTimeout,
	}
}

// FileBackend returns the file backend config.
func (c *Config) FileBackend() *cache.FileConfig {
	return &cache.FileConfig{Path: c.Cache.FilePath}
}

// RedisBackend returns the redis backend config.
func (c *Config) RedisBackend() *cache.RedisConfig {
	return &cache.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		Key:      c.Redis.Key,
		KeyTTL:   c.Redis.KeyTTL,
	}
}

// FirestoreBackend returns the firestore backend config, scoped to GCP_PROJECT_ID.
func (c *Config) FirestoreBackend() *cache.FirestoreConfig {
	return &cache.FirestoreConfig{
		ProjectID:      c.ProjectID,
		CollectionName: c.Firestore.Collection,
		DocumentID:     c.Firestore.DocumentID,
	}
}

// GCSBackend returns the gcs backend config.
func (c *Config) GCSBackend() cache.GCSConfig {
	return cache.GCSConfig{BucketName: c.GCS.Bucket, ObjectName: c.GCS.Object}
}

// HistoryDataset returns the BigQuery dataset and table for association history.
func (c *Config) HistoryDataset() *notify.BigQueryDatasetConfig {
	return &notify.BigQueryDatasetConfig{DatasetID: c.BigQuery.DatasetID, TableID: c.BigQuery.TableID}
}
