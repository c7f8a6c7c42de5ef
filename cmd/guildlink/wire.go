package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/guildlink/pkg/aggregator"
	"github.com/illmade-knight/guildlink/pkg/cache"
	"github.com/illmade-knight/guildlink/pkg/config"
	"github.com/illmade-knight/guildlink/pkg/notify"
	"github.com/illmade-knight/guildlink/pkg/resolver"
	"github.com/illmade-knight/guildlink/pkg/snapshotstore"
	"github.com/illmade-knight/guildlink/pkg/upstream"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// app holds every long-lived component built from the configuration.
type app struct {
	cfg      *config.Config
	provider *upstream.Provider
	agg      *aggregator.Aggregator
	store    *snapshotstore.Store
	closers  []func(context.Context) error
	logger   zerolog.Logger
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

func clientOptions(cfg *config.Config) []option.ClientOption {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	return opts
}

// buildApp wires upstream, resolver, aggregator, backend, notifiers and store.
// On error everything built so far is closed.
func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	client, err := upstream.NewClient(cfg.UpstreamClient(), &http.Client{}, logger)
	if err != nil {
		return nil, fmt.Errorf("upstream client: %w", err)
	}
	a.provider, err = upstream.NewProvider(client, cfg.Upstream.AccountMemoSize, logger)
	if err != nil {
		return nil, fmt.Errorf("upstream provider: %w", err)
	}

	a.agg, err = aggregator.New(cfg.AggregatorConfig(), a.provider, resolver.New(a.provider, logger), logger)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	notifiers, err := a.buildNotifiers(ctx)
	if err != nil {
		return nil, err
	}

	backend, err := a.buildBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("cache backend %q: %w", cfg.Cache.Backend, err)
	}

	a.store, err = snapshotstore.New(cfg.StoreConfig(), a.agg.For(cfg.SourceGuild, cfg.TargetGuild), backend, logger)
	if err != nil {
		_ = backend.Close()
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	a.store.WithForgetters(a.provider)
	if len(notifiers) > 0 {
		a.store.WithNotifier(notifiers)
	}
	a.closers = append(a.closers, func(context.Context) error { return a.store.Close() })
	return a, nil
}

func (a *app) buildBackend(ctx context.Context) (cache.SnapshotBackend, error) {
	cfg := a.cfg
	switch cfg.Cache.Backend {
	case config.BackendMemory:
		return cache.NewInMemorySnapshotBackend(), nil
	case config.BackendFile:
		return cache.NewFileSnapshotBackend(cfg.FileBackend(), a.logger)
	case config.BackendRedis:
		return cache.NewRedisSnapshotBackend(ctx, cfg.RedisBackend(), a.logger)
	case config.BackendFirestore:
		client, err := firestore.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("firestore.NewClient: %w", err)
		}
		backend, err := cache.NewFirestoreSnapshotBackend(cfg.FirestoreBackend(), client, a.logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return backend, nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("storage.NewClient: %w", err)
		}
		backend, err := cache.NewGCSSnapshotBackend(cache.NewGCSClientAdapter(client), cfg.GCSBackend(), a.logger)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Cache.Backend)
	}
}

// buildNotifiers returns the refresh notifiers enabled by configuration.
func (a *app) buildNotifiers(ctx context.Context) (notify.Multi, error) {
	cfg := a.cfg
	var notifiers notify.Multi

	if cfg.PubSub.TopicID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, clientOptions(cfg)...)
		if err != nil {
			return nil, fmt.Errorf("pubsub.NewClient: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return psClient.Close() })

		publisher, err := notify.NewGoogleSimplePublisher(ctx, psClient, cfg.PubSub.TopicID, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, publisher.Stop)
		notifiers = append(notifiers, notify.NewPubSubNotifier(publisher))
	}

	if cfg.BigQuery.DatasetID != "" {
		bqClient, err := notify.NewProductionBigQueryClient(ctx, cfg.ProjectID, cfg.CredentialsFile, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return bqClient.Close() })

		inserter, err := notify.NewBigQueryInserter(ctx, bqClient, cfg.HistoryDataset(), a.logger)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewBigQueryHistory(inserter))
	}
	return notifiers, nil
}

// Close releases components in reverse construction order.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
