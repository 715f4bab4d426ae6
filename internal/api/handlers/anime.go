// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/internal/services/records"
)

// CanonicalGetter returns canonical entries, fetching them on a miss.
type CanonicalGetter interface {
	GetByID(ctx context.Context, id int) (*models.CanonicalEntry, error)
}

// SecondaryGetter returns the secondary metadata record for a canonical id.
type SecondaryGetter interface {
	GetByCanonicalID(ctx context.Context, canonicalID int) (*models.SecondaryRecord, error)
}

type AnimeHandler struct {
	records         *records.Set
	canonical       CanonicalGetter
	secondary       SecondaryGetter
	defaultProvider string
}

func NewAnimeHandler(set *records.Set, canonical CanonicalGetter, secondary SecondaryGetter, defaultProvider string) *AnimeHandler {
	return &AnimeHandler{
		records:         set,
		canonical:       canonical,
		secondary:       secondary,
		defaultProvider: defaultProvider,
	}
}

func (h *AnimeHandler) Routes(r chi.Router) {
	r.Get("/info/{id}", h.GetCanonical)
	r.Get("/info/{id}/providers", h.GetProviders)
	r.Get("/info/{id}/providers/{number}", h.GetProvidersEpisode)
	r.Get("/info/{id}/episodes", h.GetEpisodes)
	r.Get("/info/{id}/episodes/{number}", h.GetEpisode)
	r.Get("/info/{id}/secondary", h.GetSecondary)
	r.Get("/info/{id}/provider/{provider}", h.GetByCanonicalID)
	r.Get("/provider/{provider}/{providerId}", h.GetByProviderID)
	r.Put("/provider/{provider}/{providerId}", h.UpdateProviderRecord)
	r.Get("/watch/{id}/episodes/{number}", h.WatchEpisode)
	r.Get("/sources/{provider}/{episodeId}", h.GetSources)
}

func (h *AnimeHandler) service(w http.ResponseWriter, name string) (*records.Service, bool) {
	svc, err := h.records.For(name)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Unknown provider: "+name)
		return nil, false
	}
	return svc, true
}

// GetCanonical returns the cached canonical entry.
func (h *AnimeHandler) GetCanonical(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}

	entry, err := h.canonical.GetByID(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "get anime")
		return
	}
	RespondJSON(w, http.StatusOK, entry)
}

// ProviderMapping is one provider's record for a canonical id, or why there is none.
type ProviderMapping struct {
	Provider string                 `json:"provider"`
	Record   *models.ProviderRecord `json:"record,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// GetProviders resolves the canonical id against every provider.
func (h *AnimeHandler) GetProviders(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}

	names := h.records.Providers()
	mappings := make([]ProviderMapping, 0, len(names))
	for _, name := range names {
		svc, err := h.records.For(name)
		if err != nil {
			continue
		}
		m := ProviderMapping{Provider: name}
		if rec, err := svc.GetByCanonicalID(r.Context(), id); err != nil {
			m.Error = err.Error()
		} else {
			m.Record = rec
		}
		mappings = append(mappings, m)
	}
	RespondJSON(w, http.StatusOK, mappings)
}

// GetEpisodes returns the episode list of the default provider's record.
func (h *AnimeHandler) GetEpisodes(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	svc, ok := h.service(w, h.providerQuery(r))
	if !ok {
		return
	}

	rec, err := svc.GetByCanonicalID(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "get episodes")
		return
	}
	RespondJSON(w, http.StatusOK, rec.Episodes)
}

// GetEpisode returns one episode of the default provider's record.
func (h *AnimeHandler) GetEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	number, ok := ParsePositiveIntParam(w, r, "number", "episode number")
	if !ok {
		return
	}
	svc, ok := h.service(w, h.providerQuery(r))
	if !ok {
		return
	}

	ep, err := svc.Episode(r.Context(), id, number)
	if err != nil {
		RespondServiceError(w, err, "get episode")
		return
	}
	RespondJSON(w, http.StatusOK, ep)
}

// ProviderEpisode is one provider's view of an episode number, or why there is none.
type ProviderEpisode struct {
	Provider string          `json:"provider"`
	Episode  *models.Episode `json:"episode,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// GetProvidersEpisode returns episode number from every provider's record.
func (h *AnimeHandler) GetProvidersEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	number, ok := ParsePositiveIntParam(w, r, "number", "episode number")
	if !ok {
		return
	}

	names := h.records.Providers()
	out := make([]ProviderEpisode, 0, len(names))
	for _, name := range names {
		svc, err := h.records.For(name)
		if err != nil {
			continue
		}
		pe := ProviderEpisode{Provider: name}
		if ep, err := svc.Episode(r.Context(), id, number); err != nil {
			pe.Error = err.Error()
		} else {
			pe.Episode = ep
		}
		out = append(out, pe)
	}
	RespondJSON(w, http.StatusOK, out)
}

func (h *AnimeHandler) GetSecondary(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	if h.secondary == nil {
		RespondError(w, http.StatusNotFound, "Secondary metadata is not configured")
		return
	}

	rec, err := h.secondary.GetByCanonicalID(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "get secondary metadata")
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

func (h *AnimeHandler) GetByCanonicalID(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	name, ok := ParseStringParam(w, r, "provider", "provider")
	if !ok {
		return
	}
	svc, ok := h.service(w, name)
	if !ok {
		return
	}

	rec, err := svc.GetByCanonicalID(r.Context(), id)
	if err != nil {
		RespondServiceError(w, err, "resolve provider record")
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

func (h *AnimeHandler) GetByProviderID(w http.ResponseWriter, r *http.Request) {
	svc, providerID, ok := h.providerRecordParams(w, r)
	if !ok {
		return
	}

	rec, err := svc.GetByProviderID(r.Context(), providerID)
	if err != nil {
		RespondServiceError(w, err, "get provider record")
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// UpdateProviderRecord re-fetches a stored record and cascades episode changes.
func (h *AnimeHandler) UpdateProviderRecord(w http.ResponseWriter, r *http.Request) {
	svc, providerID, ok := h.providerRecordParams(w, r)
	if !ok {
		return
	}

	rec, err := svc.Update(r.Context(), providerID)
	if err != nil {
		RespondServiceError(w, err, "update provider record")
		return
	}
	RespondJSON(w, http.StatusOK, rec)
}

// WatchEpisode returns the sources for an episode number of a canonical id.
// The provider comes from ?provider and defaults to the configured one.
func (h *AnimeHandler) WatchEpisode(w http.ResponseWriter, r *http.Request) {
	id, ok := ParsePositiveIntParam(w, r, "id", "anime ID")
	if !ok {
		return
	}
	number, ok := ParsePositiveIntParam(w, r, "number", "episode number")
	if !ok {
		return
	}

	svc, err := h.records.For(h.providerQuery(r))
	if err != nil {
		svc, err = h.records.For(h.defaultProvider)
	}
	if err != nil {
		RespondServiceError(w, err, "get sources")
		return
	}

	set, err := svc.EpisodeSources(r.Context(), id, number, QueryBool(r, "dub", false))
	if err != nil {
		RespondServiceError(w, err, "get sources")
		return
	}
	RespondJSON(w, http.StatusOK, set)
}

// GetSources returns sources for a provider episode id. The "?ep=" suffix of
// ids like "show-123?ep=456" may be passed as a query parameter.
func (h *AnimeHandler) GetSources(w http.ResponseWriter, r *http.Request) {
	name, ok := ParseStringParam(w, r, "provider", "provider")
	if !ok {
		return
	}
	episodeID, ok := ParseStringParam(w, r, "episodeId", "episode ID")
	if !ok {
		return
	}
	if ep := r.URL.Query().Get("ep"); ep != "" && !strings.Contains(episodeID, "?ep=") {
		episodeID += "?ep=" + ep
	}

	svc, ok := h.service(w, name)
	if !ok {
		return
	}

	set, err := svc.Sources(r.Context(), episodeID, QueryBool(r, "dub", false))
	if err != nil {
		RespondServiceError(w, err, "get sources")
		return
	}
	RespondJSON(w, http.StatusOK, set)
}

func (h *AnimeHandler) providerRecordParams(w http.ResponseWriter, r *http.Request) (*records.Service, string, bool) {
	name, ok := ParseStringParam(w, r, "provider", "provider")
	if !ok {
		return nil, "", false
	}
	providerID, ok := ParseStringParam(w, r, "providerId", "provider ID")
	if !ok {
		return nil, "", false
	}
	svc, ok := h.service(w, name)
	if !ok {
		return nil, "", false
	}
	return svc, providerID, true
}

func (h *AnimeHandler) providerQuery(r *http.Request) string {
	if p := strings.TrimSpace(r.URL.Query().Get("provider")); p != "" {
		return p
	}
	return h.defaultProvider
}
