package service

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-readcache/pkg/archive"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/config"
	"github.com/illmade-knight/go-readcache/pkg/events"
	"github.com/illmade-knight/go-readcache/pkg/github"
	"github.com/illmade-knight/go-readcache/pkg/history"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// BuildDependencies creates the GitHub client and every integration enabled in
// cfg. On error, whatever was already created is closed.
func BuildDependencies(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (deps Dependencies, err error) {
	defer func() {
		if err != nil {
			for _, closeFn := range deps.Closers {
				_ = closeFn(context.Background())
			}
			deps = Dependencies{}
		}
	}()

	gh, err := github.NewClient(cfg.GitHub, logger)
	if err != nil {
		return deps, fmt.Errorf("creating github client: %w", err)
	}
	deps.GitHub = gh
	deps.Upstream = gh

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	if cfg.Redis.Addr != "" {
		if err := addRedis(ctx, cfg, &deps, logger); err != nil {
			return deps, err
		}
	}
	if cfg.Firestore.CollectionName != "" {
		if err := addFirestore(ctx, cfg, clientOpts, &deps, logger); err != nil {
			return deps, err
		}
	}
	if cfg.Pubsub.TopicID != "" {
		if err := addPubsub(ctx, cfg, clientOpts, &deps, logger); err != nil {
			return deps, err
		}
	}
	if cfg.Archive.BucketName != "" {
		if err := addArchive(ctx, cfg, clientOpts, &deps, logger); err != nil {
			return deps, err
		}
	}
	if cfg.BigQuery.TableID != "" {
		if err := addHistory(ctx, cfg, &deps, logger); err != nil {
			return deps, err
		}
	}
	return deps, nil
}

func addRedis(ctx context.Context, cfg *config.Config, deps *Dependencies, logger zerolog.Logger) error {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	deps.Closers = append(deps.Closers, func(context.Context) error { return rdb.Close() })

	deps.ProxiedSinks = append(deps.ProxiedSinks, cache.NewRedisSinkWithClient[json.RawMessage](rdb, &cfg.Redis, logger))
	deps.RepositorySinks = append(deps.RepositorySinks, cache.NewRedisSinkWithClient[types.RepositorySnapshot](rdb, &cfg.Redis, logger))
	logger.Info().Str("redis_address", cfg.Redis.Addr).Msg("Redis mirroring enabled.")
	return nil
}

func addFirestore(ctx context.Context, cfg *config.Config, opts []option.ClientOption, deps *Dependencies, logger zerolog.Logger) error {
	client, err := firestore.NewClient(ctx, cfg.Firestore.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("creating firestore client: %w", err)
	}
	deps.Closers = append(deps.Closers, func(context.Context) error { return client.Close() })

	proxied, err := cache.NewFirestoreSink[json.RawMessage](&cfg.Firestore, client, logger)
	if err != nil {
		return err
	}
	repos, err := cache.NewFirestoreSink[types.RepositorySnapshot](&cfg.Firestore, client, logger)
	if err != nil {
		return err
	}
	deps.ProxiedSinks = append(deps.ProxiedSinks, proxied)
	deps.RepositorySinks = append(deps.RepositorySinks, repos)
	return nil
}

func addPubsub(ctx context.Context, cfg *config.Config, opts []option.ClientOption, deps *Dependencies, logger zerolog.Logger) error {
	client, err := pubsub.NewClient(ctx, cfg.Pubsub.ProjectID, opts...)
	if err != nil {
		return fmt.Errorf("creating pubsub client: %w", err)
	}
	deps.Closers = append(deps.Closers, func(context.Context) error { return client.Close() })

	observer, err := events.NewPubsubObserver(ctx, client, cfg.Pubsub.TopicID, logger)
	if err != nil {
		return err
	}
	deps.Observers = append(deps.Observers, observer)
	// Pending publishes must flush before any client closes.
	deps.Closers = append([]func(context.Context) error{observer.Stop}, deps.Closers...)
	return nil
}

func addArchive(ctx context.Context, cfg *config.Config, opts []option.ClientOption, deps *Dependencies, logger zerolog.Logger) error {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return fmt.Errorf("creating storage client: %w", err)
	}
	deps.Closers = append(deps.Closers, func(context.Context) error { return client.Close() })

	gcs := archive.NewGCSClientAdapter(client)
	proxied, err := archive.NewRawArchiveSink(gcs, cfg.Archive, logger)
	if err != nil {
		return err
	}
	repos, err := archive.NewRepositoryArchiveSink(gcs, cfg.Archive, logger)
	if err != nil {
		return err
	}
	deps.ProxiedSinks = append(deps.ProxiedSinks, proxied)
	deps.RepositorySinks = append(deps.RepositorySinks, repos)
	return nil
}

func addHistory(ctx context.Context, cfg *config.Config, deps *Dependencies, logger zerolog.Logger) error {
	client, err := history.NewBigQueryClient(ctx, cfg.BigQuery.ProjectID, cfg.BigQuery.CredentialsFile, logger)
	if err != nil {
		return err
	}
	deps.Closers = append(deps.Closers, func(context.Context) error { return client.Close() })

	inserter, err := history.NewBigQueryInserter[history.RepositoryStatsRow](ctx, client, &cfg.BigQuery, logger)
	if err != nil {
		return err
	}
	sink, err := history.NewRepositoryHistorySink(inserter, cfg.BigQuery.TopN, logger)
	if err != nil {
		return err
	}
	deps.RepositorySinks = append(deps.RepositorySinks, sink)
	return nil
}
