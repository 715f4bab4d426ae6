// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package anilist owns the canonical metadata cache.
package anilist

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
)

// Fetcher retrieves canonical entries upstream.
type Fetcher interface {
	FetchMedia(ctx context.Context, id int) (*models.CanonicalEntry, error)
	FetchPage(ctx context.Context, after, perPage int) (*Page, error)
}

type Service struct {
	store   *models.CanonicalStore
	fetcher Fetcher
	group   singleflight.Group
}

func NewService(store *models.CanonicalStore, fetcher Fetcher) *Service {
	return &Service{store: store, fetcher: fetcher}
}

// GetByID returns the cached entry, fetching and caching it on a miss.
func (s *Service) GetByID(ctx context.Context, id int) (*models.CanonicalEntry, error) {
	if id <= 0 {
		return nil, fmt.Errorf("canonical id %d: %w", id, domain.ErrNotFound)
	}

	entry, err := s.store.Get(ctx, id)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, models.ErrCanonicalNotFound) {
		return nil, err
	}

	ch := s.group.DoChan(strconv.Itoa(id), func() (any, error) {
		flightCtx := context.WithoutCancel(ctx)
		if cached, err := s.store.Get(flightCtx, id); err == nil {
			return cached, nil
		}
		fresh, err := s.fetcher.FetchMedia(flightCtx, id)
		if err != nil {
			return nil, err
		}
		return s.store.Upsert(flightCtx, fresh)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.CanonicalEntry), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Refresh re-fetches id upstream and pushes the result into the cache.
func (s *Service) Refresh(ctx context.Context, id int) (*models.CanonicalEntry, error) {
	fresh, err := s.fetcher.FetchMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.PushUpdate(ctx, fresh)
}

// PushUpdate persists a refreshed entry, including its airing counters.
func (s *Service) PushUpdate(ctx context.Context, entry *models.CanonicalEntry) (*models.CanonicalEntry, error) {
	updated, err := s.store.Upsert(ctx, entry)
	if err != nil {
		return nil, err
	}

	log.Debug().Int("id", updated.ID).Int("episodes", updated.Episodes).
		Int("lastAired", updated.LastAiredEpisode).Msg("anilist: entry updated")
	return updated, nil
}

// NextIDs lists cached canonical ids after the cursor, ascending.
func (s *Service) NextIDs(ctx context.Context, after, limit int) ([]int, error) {
	return s.store.NextIDs(ctx, after, limit)
}

// NextCatalogIDs lists up to limit AniList anime ids after the cursor,
// ascending, caching every entry it reads. Fewer than limit ids means the
// end of the catalog.
func (s *Service) NextCatalogIDs(ctx context.Context, after, limit int) ([]int, error) {
	var ids []int
	for len(ids) < limit {
		page, err := s.fetcher.FetchPage(ctx, after, limit-len(ids))
		if err != nil {
			return nil, err
		}

		for _, entry := range page.Entries {
			if _, err := s.store.Upsert(ctx, entry); err != nil {
				return nil, err
			}
			ids = append(ids, entry.ID)
			after = entry.ID
		}

		if !page.HasNext || len(page.Entries) == 0 {
			break
		}
	}

	log.Debug().Int("cursor", after).Int("ids", len(ids)).Msg("anilist: catalog page cached")
	return ids, nil
}

// Pusher refreshes the canonical entry when a provider's episode list changes.
type Pusher struct {
	svc *Service
}

func NewPusher(svc *Service) *Pusher {
	return &Pusher{svc: svc}
}

func (p *Pusher) Name() string {
	return "anilist"
}

func (p *Pusher) Cascade(ctx context.Context, canonicalID int) error {
	if canonicalID <= 0 {
		return nil
	}
	_, err := p.svc.Refresh(ctx, canonicalID)
	return err
}
