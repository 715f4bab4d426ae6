// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package records serves provider records from the local store, resolving and
// persisting them on a miss.
package records

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/internal/services/matcher"
	"github.com/anisync/anisync/internal/services/provider"
)

// Resolution outcomes reported to the Observer.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeError   = "error"
)

// CanonicalSource returns canonical entries by id.
type CanonicalSource interface {
	GetByID(ctx context.Context, id int) (*models.CanonicalEntry, error)
}

// Cascader is told about every provider update before it is stored.
type Cascader interface {
	OnUpdate(ctx context.Context, old, fresh *models.ProviderRecord)
}

// Observer receives cache and resolution events.
type Observer interface {
	CacheLookup(provider string, hit bool)
	Resolution(provider, outcome string)
}

type Config struct {
	Gateway   provider.Gateway
	Store     *models.ProviderRecordStore
	Canonical CanonicalSource
	Engine    *matcher.Engine
	Cascade   Cascader
	Observer  Observer
}

// Service is the record store for a single provider.
type Service struct {
	provider  string
	gateway   provider.Gateway
	store     *models.ProviderRecordStore
	canonical CanonicalSource
	engine    *matcher.Engine
	cascade   Cascader
	observer  Observer

	group singleflight.Group
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Gateway == nil || cfg.Store == nil || cfg.Canonical == nil {
		return nil, errors.New("records: gateway, store and canonical source are required")
	}
	if cfg.Engine == nil {
		cfg.Engine = matcher.New(matcher.DefaultConfig())
	}

	return &Service{
		provider:  cfg.Gateway.Name(),
		gateway:   cfg.Gateway,
		store:     cfg.Store,
		canonical: cfg.Canonical,
		engine:    cfg.Engine,
		cascade:   cfg.Cascade,
		observer:  cfg.Observer,
	}, nil
}

func (s *Service) Provider() string {
	return s.provider
}

// GetByProviderID returns the stored record for id, fetching it from the
// provider on a miss. Records created this way stay unresolved.
func (s *Service) GetByProviderID(ctx context.Context, id string) (*models.ProviderRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("empty provider id: %w", domain.ErrNotFound)
	}

	rec, err := s.store.GetByID(ctx, s.provider, id)
	if err == nil {
		s.lookup(true)
		return rec, nil
	}
	if !errors.Is(err, models.ErrProviderRecordNotFound) {
		return nil, err
	}
	s.lookup(false)

	return s.share(ctx, "id:"+id, func(ctx context.Context) (*models.ProviderRecord, error) {
		if rec, err := s.store.GetByID(ctx, s.provider, id); err == nil {
			return rec, nil
		}

		detail, err := s.gateway.FetchDetail(ctx, id)
		if err != nil {
			return nil, err
		}
		return s.Persist(ctx, recordFromDetail(s.provider, detail, 0))
	})
}

// GetByCanonicalID returns the record mapped to canonicalID. On a miss the
// canonical entry is matched against the provider's search results; when
// nothing clears the threshold ErrResolutionFailed is returned and nothing
// is stored.
func (s *Service) GetByCanonicalID(ctx context.Context, canonicalID int) (*models.ProviderRecord, error) {
	if canonicalID <= 0 {
		return nil, fmt.Errorf("canonical id %d: %w", canonicalID, domain.ErrNotFound)
	}

	rec, err := s.store.GetByCanonicalID(ctx, s.provider, canonicalID)
	if err == nil {
		s.lookup(true)
		return rec, nil
	}
	if !errors.Is(err, models.ErrProviderRecordNotFound) {
		return nil, err
	}
	s.lookup(false)

	return s.share(ctx, "canonical:"+strconv.Itoa(canonicalID), func(ctx context.Context) (*models.ProviderRecord, error) {
		if rec, err := s.store.GetByCanonicalID(ctx, s.provider, canonicalID); err == nil {
			return rec, nil
		}
		return s.resolve(ctx, canonicalID)
	})
}

// share runs fn once per key for all concurrent callers. fn gets a context
// that ignores the first caller's cancellation; each caller still returns
// early when its own ctx is done.
func (s *Service) share(ctx context.Context, key string, fn func(context.Context) (*models.ProviderRecord, error)) (*models.ProviderRecord, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return fn(flightCtx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.ProviderRecord), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Service) resolve(ctx context.Context, canonicalID int) (*models.ProviderRecord, error) {
	entry, err := s.canonical.GetByID(ctx, canonicalID)
	if err != nil {
		s.outcome(OutcomeError)
		return nil, err
	}

	query := entry.Titles.Romaji
	if query == "" {
		query = entry.Titles.English
	}
	if query == "" {
		s.outcome(OutcomeNoMatch)
		return nil, fmt.Errorf("canonical entry %d has no searchable title: %w", canonicalID, domain.ErrResolutionFailed)
	}

	results, err := s.gateway.Search(ctx, query)
	if err != nil {
		s.outcome(OutcomeError)
		return nil, err
	}

	candidates := make([]matcher.Candidate, len(results))
	for i, r := range results {
		candidates[i] = matcher.Candidate{ID: r.ID, Title: r.Title, Year: r.Year, Episodes: r.Episodes}
	}

	criteria := matcher.Criteria{
		Titles: matcher.TitleSet{
			Primary:   entry.Titles.Romaji,
			Alternate: entry.Titles.English,
			Native:    entry.Titles.Native,
		},
		Year:     entry.SeasonYear,
		Episodes: entry.Episodes,
	}

	match, ok := s.engine.Resolve(criteria, candidates)
	if !ok {
		s.outcome(OutcomeNoMatch)
		log.Debug().Str("provider", s.provider).Int("canonicalId", canonicalID).Str("query", query).
			Int("candidates", len(candidates)).Msg("records: no candidate cleared the threshold")
		return nil, fmt.Errorf("%s has no match for canonical id %d: %w", s.provider, canonicalID, domain.ErrResolutionFailed)
	}

	detail, err := s.gateway.FetchDetail(ctx, match.ID)
	if err != nil {
		s.outcome(OutcomeError)
		return nil, err
	}

	rec, err := s.Persist(ctx, recordFromDetail(s.provider, detail, canonicalID))
	if err != nil {
		s.outcome(OutcomeError)
		return nil, err
	}

	s.outcome(OutcomeMatched)
	log.Info().Str("provider", s.provider).Int("canonicalId", canonicalID).Str("id", rec.ID).
		Str("title", rec.Title).Msg("records: resolved")
	return rec, nil
}

// Persist stores rec and returns the stored row. An existing unresolved row
// gets its canonical id backfilled once; a row mapped to another canonical id
// is never overwritten. Losing an insert race returns the winner's row.
func (s *Service) Persist(ctx context.Context, rec *models.ProviderRecord) (*models.ProviderRecord, error) {
	if rec == nil {
		return nil, errors.New("records: nil record")
	}
	rec.Provider = s.provider

	stored, err := s.persist(ctx, rec)
	if !errors.Is(err, models.ErrProviderRecordExists) {
		return stored, err
	}

	log.Debug().Str("provider", s.provider).Str("id", rec.ID).Int("canonicalId", rec.CanonicalID).
		Msg("records: lost insert race, reading stored record")

	existing, err := s.store.GetByID(ctx, s.provider, rec.ID)
	if err == nil {
		stored, err = s.reconcile(ctx, existing, rec.CanonicalID)
		if !errors.Is(err, models.ErrProviderRecordExists) {
			return stored, err
		}
	} else if !errors.Is(err, models.ErrProviderRecordNotFound) {
		return nil, err
	}

	if rec.CanonicalID > 0 {
		return s.store.GetByCanonicalID(ctx, s.provider, rec.CanonicalID)
	}
	return nil, models.ErrProviderRecordNotFound
}

func (s *Service) persist(ctx context.Context, rec *models.ProviderRecord) (*models.ProviderRecord, error) {
	existing, err := s.store.GetByID(ctx, s.provider, rec.ID)
	if err == nil {
		return s.reconcile(ctx, existing, rec.CanonicalID)
	}
	if !errors.Is(err, models.ErrProviderRecordNotFound) {
		return nil, err
	}
	return s.store.Create(ctx, rec)
}

func (s *Service) reconcile(ctx context.Context, existing *models.ProviderRecord, canonicalID int) (*models.ProviderRecord, error) {
	switch {
	case canonicalID <= 0 || existing.CanonicalID == canonicalID:
		return existing, nil
	case existing.CanonicalID == 0:
		return s.store.BackfillCanonicalID(ctx, s.provider, existing.ID, canonicalID)
	default:
		return nil, fmt.Errorf("%w: %s/%s has %d, wanted %d",
			models.ErrCanonicalConflict, s.provider, existing.ID, existing.CanonicalID, canonicalID)
	}
}

// Update re-fetches a stored record, runs the cascade against the old and
// fresh versions and stores the fresh content. The canonical id is kept.
func (s *Service) Update(ctx context.Context, id string) (*models.ProviderRecord, error) {
	return s.share(ctx, "update:"+id, func(ctx context.Context) (*models.ProviderRecord, error) {
		old, err := s.store.GetByID(ctx, s.provider, id)
		if err != nil {
			return nil, err
		}

		detail, err := s.gateway.FetchDetail(ctx, id)
		if err != nil {
			return nil, err
		}

		fresh := recordFromDetail(s.provider, detail, old.CanonicalID)
		fresh.ID = old.ID

		if s.cascade != nil {
			s.cascade.OnUpdate(ctx, old, fresh)
		}

		return s.store.ReplaceContent(ctx, fresh)
	})
}

// Sources returns the stream sources for a provider episode id.
func (s *Service) Sources(ctx context.Context, episodeID string, dub bool) (*provider.SourceSet, error) {
	if strings.TrimSpace(episodeID) == "" {
		return nil, fmt.Errorf("empty episode id: %w", domain.ErrNotFound)
	}
	return s.gateway.FetchSources(ctx, episodeID, dub)
}

// Episode returns episode number of the record mapped to canonicalID,
// resolving the record first if needed.
func (s *Service) Episode(ctx context.Context, canonicalID, number int) (*models.Episode, error) {
	rec, err := s.GetByCanonicalID(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	return s.store.GetEpisode(ctx, s.provider, rec.ID, number)
}

// EpisodeSources returns the stream sources for episode number of the record
// mapped to canonicalID.
func (s *Service) EpisodeSources(ctx context.Context, canonicalID, number int, dub bool) (*provider.SourceSet, error) {
	ep, err := s.Episode(ctx, canonicalID, number)
	if err != nil {
		return nil, err
	}
	return s.Sources(ctx, ep.EpisodeID, dub)
}

func (s *Service) lookup(hit bool) {
	if s.observer != nil {
		s.observer.CacheLookup(s.provider, hit)
	}
}

func (s *Service) outcome(outcome string) {
	if s.observer != nil {
		s.observer.Resolution(s.provider, outcome)
	}
}

func recordFromDetail(providerName string, detail *provider.Detail, canonicalID int) *models.ProviderRecord {
	return &models.ProviderRecord{
		Provider:    providerName,
		ID:          detail.ID,
		CanonicalID: canonicalID,
		Title:       detail.Title,
		Episodes:    detail.Episodes,
	}
}
