// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/anisync/anisync/internal/services/indexer"
)

// Indexer controls the background sweep.
type Indexer interface {
	Start(delay time.Duration, batchSize int) error
	Stop() bool
	Status() indexer.Status
}

type IndexHandler struct {
	indexer      Indexer
	defaultDelay int
	defaultRange int
}

// NewIndexHandler uses defaultDelay (seconds) and defaultRange when the
// request does not set ?delay or ?range.
func NewIndexHandler(idx Indexer, defaultDelay, defaultRange int) *IndexHandler {
	return &IndexHandler{indexer: idx, defaultDelay: defaultDelay, defaultRange: defaultRange}
}

func (h *IndexHandler) Routes(r chi.Router) {
	r.Put("/", h.Start)
	r.Put("/stop", h.Stop)
	r.Get("/status", h.Status)
}

// Start launches a sweep. ?delay is seconds between batches, ?range the batch size.
func (h *IndexHandler) Start(w http.ResponseWriter, r *http.Request) {
	delay, ok := QueryInt(w, r, "delay", h.defaultDelay)
	if !ok {
		return
	}
	batch, ok := QueryInt(w, r, "range", h.defaultRange)
	if !ok {
		return
	}
	if batch == 0 {
		RespondError(w, http.StatusBadRequest, "Invalid range")
		return
	}

	if err := h.indexer.Start(time.Duration(delay)*time.Second, batch); err != nil {
		RespondServiceError(w, err, "start indexing")
		return
	}
	RespondJSON(w, http.StatusAccepted, StatusResponse{Status: "Indexing started"})
}

func (h *IndexHandler) Stop(w http.ResponseWriter, r *http.Request) {
	if !h.indexer.Stop() {
		RespondJSON(w, http.StatusOK, StatusResponse{Status: "Indexer not running"})
		return
	}
	RespondJSON(w, http.StatusOK, StatusResponse{Status: "Indexing stopped"})
}

func (h *IndexHandler) Status(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, h.indexer.Status())
}
