// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/domain"
)

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is returned by operations that only report an outcome.
type StatusResponse struct {
	Status string `json:"status"`
}

// RespondJSON sends a JSON response
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// RespondError sends an error response
func RespondError(w http.ResponseWriter, status int, message string) {
	RespondJSON(w, status, ErrorResponse{
		Error: message,
	})
}

// RespondServiceError maps a service error onto a status code. Resolution
// failures get a message distinct from plain not-found.
func RespondServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, domain.ErrResolutionFailed):
		RespondError(w, http.StatusNotFound, "No provider match found")
	case errors.Is(err, domain.ErrNotFound):
		RespondError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, domain.ErrAlreadyRunning):
		RespondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		log.Warn().Err(err).Str("action", action).Msg("Upstream unavailable")
		RespondError(w, http.StatusBadGateway, "Upstream provider unavailable")
	case errors.Is(err, context.Canceled):
		RespondError(w, 499, "Request canceled")
	default:
		log.Error().Err(err).Str("action", action).Msg("Request failed")
		RespondError(w, http.StatusInternalServerError, "Failed to "+action)
	}
}

// ParseIntParam extracts and validates a generic integer URL parameter.
// Returns the value and true on success, or 0 and false if invalid (error already sent).
func ParseIntParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int, bool) {
	str, ok := ParseStringParam(w, r, paramName, displayName)
	if !ok {
		return 0, false
	}
	value, err := strconv.Atoi(str)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParsePositiveIntParam is ParseIntParam restricted to values > 0.
func ParsePositiveIntParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (int, bool) {
	value, ok := ParseIntParam(w, r, paramName, displayName)
	if !ok {
		return 0, false
	}
	if value <= 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+displayName)
		return 0, false
	}
	return value, true
}

// ParseStringParam extracts a URL parameter, trimmed and path-unescaped.
// Returns false if it is missing (error already sent).
func ParseStringParam(w http.ResponseWriter, r *http.Request, paramName, displayName string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if unescaped, err := url.PathUnescape(value); err == nil {
		value = unescaped
	}
	value = strings.TrimSpace(value)
	if value == "" {
		RespondError(w, http.StatusBadRequest, displayName+" is required")
		return "", false
	}
	return value, true
}

// QueryBool reads a boolean query parameter; missing or malformed values yield def.
func QueryBool(r *http.Request, name string, def bool) bool {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return parsed
}

// QueryInt reads an integer query parameter. Missing yields def; malformed
// or negative values yield false (error already sent).
func QueryInt(w http.ResponseWriter, r *http.Request, name string, def int) (int, bool) {
	v := strings.TrimSpace(r.URL.Query().Get(name))
	if v == "" {
		return def, true
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		RespondError(w, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return parsed, true
}
