// Package service assembles the read cache: scheduler, caches, sinks,
// observers and the HTTP API.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/illmade-knight/go-readcache/pkg/api"
	"github.com/illmade-knight/go-readcache/pkg/cache"
	"github.com/illmade-knight/go-readcache/pkg/collector"
	"github.com/illmade-knight/go-readcache/pkg/config"
	"github.com/illmade-knight/go-readcache/pkg/microservice"
	"github.com/illmade-knight/go-readcache/pkg/registry"
	"github.com/illmade-knight/go-readcache/pkg/scheduler"
	"github.com/illmade-knight/go-readcache/pkg/types"
	"github.com/rs/zerolog"
)

// Dependencies are the external collaborators of the service. Everything but
// GitHub is optional.
type Dependencies struct {
	GitHub collector.GitHubAPI
	// Upstream, when set, serves GET requests for paths that are not cached.
	Upstream        api.Upstream
	ProxiedSinks    []cache.SnapshotSink[json.RawMessage]
	RepositorySinks []cache.SnapshotSink[types.RepositorySnapshot]
	Observers       []cache.Observer
	// Closers run on shutdown after the caches have stopped, in order.
	Closers []func(ctx context.Context) error
}

// ReadCacheService serves cached GitHub metrics over HTTP.
type ReadCacheService struct {
	*microservice.BaseServer
	registry  *registry.Registry
	scheduler *scheduler.Scheduler
	deps      Dependencies
	logger    zerolog.Logger
}

var _ microservice.Service = (*ReadCacheService)(nil)

// NewReadCacheService wires the service. Nothing is fetched until Start.
func NewReadCacheService(cfg *config.Config, deps Dependencies, logger zerolog.Logger) (*ReadCacheService, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if deps.GitHub == nil {
		return nil, errors.New("github api cannot be nil")
	}
	logger = logger.With().Str("service", cfg.ServiceName).Logger()

	sched, err := scheduler.New(scheduler.Config{Workers: cfg.Cache.Workers}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating scheduler: %w", err)
	}
	svc, err := assemble(cfg, deps, sched, logger)
	if err != nil {
		_ = sched.Shutdown(context.Background())
		return nil, err
	}
	return svc, nil
}

func assemble(cfg *config.Config, deps Dependencies, sched *scheduler.Scheduler, logger zerolog.Logger) (*ReadCacheService, error) {
	strategy, err := cache.NewCachingStrategy(cfg.Cache.RefreshPeriod, sched)
	if err != nil {
		return nil, err
	}
	reg, err := registry.New(strategy, logger)
	if err != nil {
		return nil, err
	}

	set, err := collector.NewGitHubCollectors(deps.GitHub, cfg.Organization, collector.WithTimeout(cfg.Cache.CollectTimeout))
	if err != nil {
		return nil, fmt.Errorf("creating collectors: %w", err)
	}

	common := []cache.Option{cache.WithSinkTimeout(cfg.Cache.SinkTimeout)}
	for _, o := range deps.Observers {
		common = append(common, cache.WithObserver(o))
	}

	for _, c := range set.Proxied {
		opts := append([]cache.Option(nil), common...)
		for _, s := range deps.ProxiedSinks {
			opts = append(opts, cache.WithSink(s))
		}
		if err := reg.RegisterProxied(c, opts...); err != nil {
			return nil, err
		}
	}
	repoOpts := append([]cache.Option(nil), common...)
	for _, s := range deps.RepositorySinks {
		repoOpts = append(repoOpts, cache.WithSink(s))
	}
	if err := reg.RegisterRepositories(set.Repositories, repoOpts...); err != nil {
		return nil, err
	}

	handler, err := api.NewHandler(reg, cfg.Organization, deps.Upstream, logger)
	if err != nil {
		return nil, err
	}
	server := microservice.NewBaseServer(logger, cfg.HTTPPort)
	server.Router().Mount("/", handler.Routes())
	server.AddReadinessCheck(func() error {
		for _, t := range reg.Types() {
			if _, err := reg.Lookup(t); err != nil {
				return err
			}
		}
		return nil
	})

	return &ReadCacheService{
		BaseServer: server,
		registry:   reg,
		scheduler:  sched,
		deps:       deps,
		logger:     logger,
	}, nil
}

// Registry returns the cache registry.
func (s *ReadCacheService) Registry() *registry.Registry {
	return s.registry
}

// Start fetches every metric once and then starts serving. A failed first
// fetch is returned and nothing is served.
func (s *ReadCacheService) Start(ctx context.Context) error {
	s.logger.Info().Msg("Initializing caches...")
	if err := s.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing caches: %w", err)
	}
	return s.BaseServer.Start()
}

// Shutdown stops serving, stops refreshing, then releases sinks and clients.
// Every step runs even if an earlier one fails.
func (s *ReadCacheService) Shutdown(ctx context.Context) error {
	var errs *multierror.Error
	if err := s.BaseServer.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.registry.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := s.scheduler.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("scheduler shutdown: %w", err))
	}
	for _, sink := range s.deps.ProxiedSinks {
		if err := sink.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, sink := range s.deps.RepositorySinks {
		if err := sink.Close(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	for _, closeFn := range s.deps.Closers {
		if err := closeFn(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	s.logger.Info().Msg("Service stopped.")
	return errs.ErrorOrNil()
}
