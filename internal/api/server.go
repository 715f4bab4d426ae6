// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/api/handlers"
	"github.com/anisync/anisync/internal/api/middleware"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/services/records"
	"github.com/anisync/anisync/pkg/httphelpers"
)

type Dependencies struct {
	Config          *domain.Config
	Records         *records.Set
	Canonical       handlers.CanonicalGetter
	Secondary       handlers.SecondaryGetter
	Indexer         handlers.Indexer
	DefaultProvider string
	ReadyChecks     []handlers.ReadyCheck
}

type Server struct {
	deps *Dependencies

	mu     sync.Mutex
	server *http.Server
}

func NewServer(deps *Dependencies) *Server {
	return &Server{deps: deps}
}

// Handler builds the router. Routes live under the configured base URL.
func (s *Server) Handler() (chi.Router, error) {
	if s.deps == nil || s.deps.Config == nil {
		return nil, errors.New("api: config is required")
	}
	if s.deps.Records == nil || s.deps.Canonical == nil || s.deps.Indexer == nil {
		return nil, errors.New("api: records, canonical source and indexer are required")
	}

	cfg := s.deps.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(s.cors().Handler)
	}
	r.Use(middleware.SelectiveCompress(1024, 5, true, true))

	health := handlers.NewHealthHandler(s.deps.ReadyChecks...)
	anime := handlers.NewAnimeHandler(s.deps.Records, s.deps.Canonical, s.deps.Secondary, s.deps.DefaultProvider)
	index := handlers.NewIndexHandler(s.deps.Indexer, cfg.IndexerDelay, cfg.IndexerBatchSize)

	routes := func(r chi.Router) {
		r.Get("/healthz", health.HandleHealth)
		r.Route("/health", health.Routes)
		r.Route("/api/anime", func(r chi.Router) {
			anime.Routes(r)
			r.Route("/index", index.Routes)
		})
	}

	base := httphelpers.NormalizeBasePath(cfg.BaseURL)
	if base == "" || base == "/" {
		routes(r)
	} else {
		r.Route(base, routes)
	}

	return r, nil
}

func (s *Server) cors() *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins:   s.deps.Config.CORSOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (s *Server) ListenAndServe() error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.deps.Config.Host, strconv.Itoa(s.deps.Config.Port))
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	log.Info().Str("addr", addr).Msg("Starting API server")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}
