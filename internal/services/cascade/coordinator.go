// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package cascade propagates provider episode changes to the canonical and
// secondary metadata. Propagation is one-way and best effort.
package cascade

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
)

// Listener reacts to a material change of a provider record mapped to
// canonicalID. Listeners must not call back into the record store.
type Listener interface {
	Name() string
	Cascade(ctx context.Context, canonicalID int) error
}

// Observer is notified of each cascade outcome; metrics hook in here.
type Observer interface {
	CascadeTriggered(provider string)
	ListenerFailed(listener string)
}

type Coordinator struct {
	mu        sync.RWMutex
	listeners []Listener
	observer  Observer
}

func NewCoordinator(observer Observer) *Coordinator {
	return &Coordinator{observer: observer}
}

// Register appends a listener. Listeners run in registration order.
func (c *Coordinator) Register(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, l)
}

// MaterialChange reports whether the episode number sets differ. Titles and
// episode ids changing on their own do not count.
func MaterialChange(old, fresh *models.ProviderRecord) bool {
	if old == nil || fresh == nil {
		return false
	}

	oldHash := old.EpisodesHash
	if oldHash == 0 {
		oldHash = models.EpisodeSetHash(old.Episodes)
	}
	return oldHash != models.EpisodeSetHash(fresh.Episodes)
}

// OnUpdate runs every listener when old and fresh differ materially. Listener
// failures are wrapped in ErrCascadeFailure and logged; they never reach the caller.
func (c *Coordinator) OnUpdate(ctx context.Context, old, fresh *models.ProviderRecord) {
	if !MaterialChange(old, fresh) {
		return
	}

	canonicalID := old.CanonicalID
	if canonicalID <= 0 {
		log.Debug().Str("provider", old.Provider).Str("id", old.ID).
			Msg("cascade: record has no canonical id, nothing to propagate")
		return
	}

	c.mu.RLock()
	listeners := append([]Listener(nil), c.listeners...)
	c.mu.RUnlock()

	if c.observer != nil {
		c.observer.CascadeTriggered(old.Provider)
	}

	log.Debug().Str("provider", old.Provider).Str("id", old.ID).Int("canonicalId", canonicalID).
		Int("oldEpisodes", len(old.Episodes)).Int("newEpisodes", len(fresh.Episodes)).
		Msg("cascade: episode set changed")

	for _, l := range listeners {
		if err := c.run(ctx, l, canonicalID); err != nil {
			if c.observer != nil {
				c.observer.ListenerFailed(l.Name())
			}
			log.Warn().Err(err).Str("listener", l.Name()).Int("canonicalId", canonicalID).
				Msg("cascade: listener failed")
		}
	}
}

func (c *Coordinator) run(ctx context.Context, l Listener, canonicalID int) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s panicked: %v", domain.ErrCascadeFailure, l.Name(), r)
		}
	}()

	if err := l.Cascade(ctx, canonicalID); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrCascadeFailure, l.Name(), err)
	}
	return nil
}
