// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package provider talks to streaming-source providers. Responses are
// already decoded into the shapes below by the time they leave this package.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
)

// SearchResult is one hit from a provider title search.
type SearchResult struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Year     int    `json:"year,omitempty"`
	Episodes int    `json:"episodes,omitempty"`
}

// Detail is the full provider view of a show.
type Detail struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	Episodes []models.Episode `json:"episodes"`
}

type Source struct {
	URL     string `json:"url"`
	Quality string `json:"quality,omitempty"`
	IsM3U8  bool   `json:"isM3U8"`
}

type Subtitle struct {
	URL  string `json:"url"`
	Lang string `json:"lang"`
}

// Segment marks an intro or outro in seconds.
type Segment struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// SourceSet is what a player needs to stream one episode.
type SourceSet struct {
	Headers   map[string]string `json:"headers,omitempty"`
	Sources   []Source          `json:"sources"`
	Subtitles []Subtitle        `json:"subtitles,omitempty"`
	Intro     *Segment          `json:"intro,omitempty"`
	Outro     *Segment          `json:"outro,omitempty"`
}

// Gateway is the contract every streaming provider implements. Transport
// failures are reported as domain.ErrUpstreamUnavailable; unknown ids as
// domain.ErrNotFound.
type Gateway interface {
	Name() string
	Search(ctx context.Context, query string) ([]SearchResult, error)
	FetchDetail(ctx context.Context, id string) (*Detail, error)
	FetchSources(ctx context.Context, episodeID string, dub bool) (*SourceSet, error)
}

// Registry resolves provider names, case-insensitively, to gateways.
type Registry struct {
	mu       sync.RWMutex
	gateways map[string]Gateway
}

func NewRegistry() *Registry {
	return &Registry{gateways: make(map[string]Gateway)}
}

// Register adds gw under its name and any aliases.
func (r *Registry) Register(gw Gateway, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.gateways[strings.ToUpper(gw.Name())] = gw
	for _, alias := range aliases {
		r.gateways[strings.ToUpper(alias)] = gw
	}
}

// Get returns the gateway registered under name.
func (r *Registry) Get(name string) (Gateway, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	gw, ok := r.gateways[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("provider %q: %w", name, domain.ErrNotFound)
	}
	return gw, nil
}

// Names returns the canonical names of registered gateways, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, gw := range r.gateways {
		seen[gw.Name()] = struct{}{}
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
