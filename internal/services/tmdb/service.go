// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package tmdb keeps ratings and trailers from TMDB next to canonical entries.
package tmdb

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/internal/services/matcher"
)

type API interface {
	SearchTV(ctx context.Context, query string, year int) ([]SearchResult, error)
	Details(ctx context.Context, id int) (*Details, error)
}

type CanonicalSource interface {
	GetByID(ctx context.Context, id int) (*models.CanonicalEntry, error)
}

type Service struct {
	store     *models.SecondaryStore
	api       API
	canonical CanonicalSource
	engine    *matcher.Engine

	group singleflight.Group
}

func NewService(store *models.SecondaryStore, api API, canonical CanonicalSource, engine *matcher.Engine) *Service {
	return &Service{store: store, api: api, canonical: canonical, engine: engine}
}

// GetByCanonicalID returns the stored record, resolving it against TMDB on a
// miss. Concurrent misses for one canonical id share a single resolution.
func (s *Service) GetByCanonicalID(ctx context.Context, canonicalID int) (*models.SecondaryRecord, error) {
	rec, err := s.store.GetByCanonicalID(ctx, canonicalID)
	if err == nil || !errors.Is(err, models.ErrSecondaryNotFound) {
		return rec, err
	}

	ch := s.group.DoChan(strconv.Itoa(canonicalID), func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		if rec, err := s.store.GetByCanonicalID(flightCtx, canonicalID); err == nil {
			return rec, nil
		}
		return s.resolve(flightCtx, canonicalID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.SecondaryRecord), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) resolve(ctx context.Context, canonicalID int) (*models.SecondaryRecord, error) {
	entry, err := s.canonical.GetByID(ctx, canonicalID)
	if err != nil {
		return nil, err
	}

	query := entry.Titles.English
	if query == "" {
		query = entry.Titles.Romaji
	}
	results, err := s.api.SearchTV(ctx, query, 0)
	if err != nil {
		return nil, err
	}

	candidates := make([]matcher.Candidate, len(results))
	for i, r := range results {
		candidates[i] = matcher.Candidate{ID: strconv.Itoa(r.ID), Title: r.Name, Year: r.Year()}
	}
	best, ok := s.engine.Resolve(matcher.Criteria{
		Titles: matcher.TitleSet{Primary: entry.Titles.Romaji, Alternate: entry.Titles.English, Native: entry.Titles.Native},
		Year:   entry.SeasonYear,
	}, candidates)
	if !ok {
		return nil, fmt.Errorf("tmdb match for %d: %w", canonicalID, domain.ErrResolutionFailed)
	}

	tmdbID, _ := strconv.Atoi(best.ID)
	details, err := s.api.Details(ctx, tmdbID)
	if err != nil {
		return nil, err
	}

	rec, err := s.store.Create(ctx, &models.SecondaryRecord{
		ID:          details.ID,
		CanonicalID: canonicalID,
		Title:       details.Name,
		Rating:      details.VoteAverage,
		TrailerURL:  details.TrailerURL(),
	})
	if errors.Is(err, models.ErrSecondaryExists) {
		log.Debug().Int("canonicalId", canonicalID).Msg("tmdb: lost insert race, reading stored record")
		return s.store.GetByCanonicalID(ctx, canonicalID)
	}
	return rec, err
}

// Refresh re-fetches an existing record. A canonical id without a record is left alone.
func (s *Service) Refresh(ctx context.Context, canonicalID int) (*models.SecondaryRecord, error) {
	rec, err := s.store.GetByCanonicalID(ctx, canonicalID)
	if err != nil {
		return nil, err
	}

	details, err := s.api.Details(ctx, rec.ID)
	if err != nil {
		return nil, err
	}

	return s.store.Update(ctx, &models.SecondaryRecord{
		CanonicalID: canonicalID,
		Title:       details.Name,
		Rating:      details.VoteAverage,
		TrailerURL:  details.TrailerURL(),
	})
}

// Refresher is the cascade listener for secondary metadata.
type Refresher struct {
	svc *Service
}

func NewRefresher(svc *Service) *Refresher {
	return &Refresher{svc: svc}
}

func (r *Refresher) Name() string {
	return "tmdb"
}

func (r *Refresher) Cascade(ctx context.Context, canonicalID int) error {
	_, err := r.svc.Refresh(ctx, canonicalID)
	if errors.Is(err, models.ErrSecondaryNotFound) {
		log.Trace().Int("canonicalId", canonicalID).Msg("tmdb: no record to refresh")
		return nil
	}
	return err
}
