// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/anisync/anisync/internal/api"
	"github.com/anisync/anisync/internal/api/handlers"
	"github.com/anisync/anisync/internal/buildinfo"
	"github.com/anisync/anisync/internal/config"
	"github.com/anisync/anisync/internal/database"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/logger"
	"github.com/anisync/anisync/internal/metrics"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/internal/services/anilist"
	"github.com/anisync/anisync/internal/services/cascade"
	"github.com/anisync/anisync/internal/services/indexer"
	"github.com/anisync/anisync/internal/services/matcher"
	"github.com/anisync/anisync/internal/services/provider"
	"github.com/anisync/anisync/internal/services/records"
	"github.com/anisync/anisync/internal/services/tmdb"
)

const shutdownTimeout = 15 * time.Second

// providerAliases are the route names the streaming provider also answers to.
var providerAliases = []string{"zoro", "hianime"}

func RunServeCommand(configDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background services",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.New(*configDir)
			if err != nil {
				return err
			}
			cfg.Config.Version = buildinfo.Version

			closer, err := logger.Setup(cfg.Config)
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}

			log.Info().Str("version", buildinfo.Version).Str("configDir", cfg.ConfigDir()).Msg("Starting anisync")

			cfg.Watch(func(next *domain.Config) {
				zerolog.SetGlobalLevel(logger.ParseLevel(next.LogLevel))
				log.Info().Str("logLevel", next.LogLevel).Msg("Log level updated")
			})

			lock, err := acquireInstanceLock(cfg.Config.DataDir)
			if err != nil {
				return err
			}
			defer func() {
				if err := lock.Unlock(); err != nil {
					log.Warn().Err(err).Msg("Failed to release instance lock")
				}
			}()

			db, err := database.New(cfg.GetDatabasePath())
			if err != nil {
				return err
			}
			defer db.Close()

			app, err := newApplication(cfg, db)
			if err != nil {
				return err
			}
			defer app.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return app.run(ctx)
		},
	}
}

// acquireInstanceLock takes the per data dir lock so two serve processes
// never share one database.
func acquireInstanceLock(dataDir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	lock := flock.New(filepath.Join(dataDir, "anisync.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire instance lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("another anisync instance is already using %s", dataDir)
	}
	return lock, nil
}

// application holds the wired services for one serve process.
type application struct {
	cfg           *config.AppConfig
	gateways      []*provider.ConsumetClient
	records       *records.Set
	indexer       *indexer.Service
	apiServer     *api.Server
	metrics       *metrics.Manager
	metricsServer *metrics.MetricsServer
}

func newApplication(cfg *config.AppConfig, db *database.DB) (*application, error) {
	c := cfg.Config
	timeout := c.ProviderTimeoutDuration()
	retries := uint(max(c.ProviderRetries, 0))

	app := &application{cfg: cfg, records: records.NewSet()}

	canonicalSvc := anilist.NewService(models.NewCanonicalStore(db), anilist.NewClient(anilist.ClientConfig{
		URL:     c.AnilistURL,
		Timeout: timeout,
		Retries: retries,
	}))

	engine := matcher.New(matcher.Config{Threshold: c.MatchThreshold, Bonus: matcher.DefaultBonus})

	if c.MetricsEnabled {
		app.metrics = metrics.NewManager(&storeStats{
			set:       app.records,
			store:     models.NewProviderRecordStore(db),
			canonical: models.NewCanonicalStore(db),
		})
		app.metricsServer = metrics.NewMetricsServer(app.metrics, c.MetricsHost, c.MetricsPort, c.MetricsBasicAuthUsers)
	}

	var (
		cascadeObserver cascade.Observer
		recordsObserver records.Observer
		indexerObserver indexer.Observer
	)
	if app.metrics != nil {
		cascadeObserver = app.metrics.Resolution
		recordsObserver = app.metrics.Resolution
		indexerObserver = app.metrics.Indexer
	}

	coordinator := cascade.NewCoordinator(cascadeObserver)

	var secondary handlers.SecondaryGetter
	if c.TMDBAPIKey != "" {
		secondarySvc := tmdb.NewService(models.NewSecondaryStore(db), tmdb.NewClient(tmdb.ClientConfig{
			URL:     c.TMDBURL,
			APIKey:  c.TMDBAPIKey,
			Timeout: timeout,
			Retries: retries,
		}), canonicalSvc, engine)
		coordinator.Register(tmdb.NewRefresher(secondarySvc))
		secondary = secondarySvc
	} else {
		log.Info().Msg("tmdb: no api key configured, secondary metadata disabled")
	}
	coordinator.Register(anilist.NewPusher(canonicalSvc))

	registry := provider.NewRegistry()
	gw := provider.NewConsumetClient(provider.ConsumetConfig{
		BaseURL: c.ProviderURL,
		Timeout: timeout,
		Retries: retries,
	})
	app.gateways = append(app.gateways, gw)
	registry.Register(gw, providerAliases...)

	providerStore := models.NewProviderRecordStore(db)
	for _, name := range registry.Names() {
		gateway, err := registry.Get(name)
		if err != nil {
			return nil, err
		}
		svc, err := records.NewService(records.Config{
			Gateway:   gateway,
			Store:     providerStore,
			Canonical: canonicalSvc,
			Engine:    engine,
			Cascade:   coordinator,
			Observer:  recordsObserver,
		})
		if err != nil {
			return nil, err
		}
		var aliases []string
		if name == gw.Name() {
			aliases = providerAliases
		}
		app.records.Add(svc, aliases...)
	}

	var ids indexer.IDSource = indexer.IDSourceFunc(canonicalSvc.NextCatalogIDs)
	if c.IndexerSource == domain.IndexerSourceCached {
		ids = canonicalSvc
	}

	app.indexer = indexer.NewService(indexer.Config{
		IDs:          ids,
		Resolver:     app.records,
		Observer:     indexerObserver,
		DefaultDelay: c.IndexerDelayDuration(),
		DefaultBatch: c.IndexerBatchSize,
	})

	app.apiServer = api.NewServer(&api.Dependencies{
		Config:          c,
		Records:         app.records,
		Canonical:       canonicalSvc,
		Secondary:       secondary,
		Indexer:         app.indexer,
		DefaultProvider: gw.Name(),
		ReadyChecks: []handlers.ReadyCheck{
			func(ctx context.Context) error {
				return db.Conn().PingContext(ctx)
			},
		},
	})

	return app, nil
}

// run serves until ctx is cancelled or a listener fails, then shuts down.
func (a *application) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(a.apiServer.ListenAndServe)
	if a.metricsServer != nil {
		g.Go(a.metricsServer.ListenAndServe)
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.indexer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if err := a.apiServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		if a.metricsServer != nil {
			if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("anisync stopped with error")
		return err
	}
	log.Info().Msg("anisync stopped")
	return nil
}

func (a *application) close() {
	for _, gw := range a.gateways {
		gw.Close()
	}
}

// storeStats feeds the store gauges.
type storeStats struct {
	set       *records.Set
	store     *models.ProviderRecordStore
	canonical *models.CanonicalStore
}

func (s *storeStats) Providers() []string {
	return s.set.Providers()
}

func (s *storeStats) RecordCounts(ctx context.Context, provider string) (int, int, error) {
	return s.store.Count(ctx, provider)
}

func (s *storeStats) CanonicalCount(ctx context.Context) (int, error) {
	return s.canonical.Count(ctx)
}
