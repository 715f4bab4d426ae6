// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anisync/anisync/internal/domain"
)

func TestRespondJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		data       any
		wantStatus int
		wantBody   string
	}{
		{
			name:       "success with data",
			status:     http.StatusOK,
			data:       map[string]string{"message": "hello"},
			wantStatus: http.StatusOK,
			wantBody:   `{"message":"hello"}`,
		},
		{
			name:       "nil data",
			status:     http.StatusNoContent,
			data:       nil,
			wantStatus: http.StatusNoContent,
			wantBody:   "",
		},
		{
			name:       "error status with data",
			status:     http.StatusBadRequest,
			data:       ErrorResponse{Error: "bad request"},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"bad request"}`,
		},
		{
			name:       "slice data",
			status:     http.StatusOK,
			data:       []int{1, 2, 3},
			wantStatus: http.StatusOK,
			wantBody:   `[1,2,3]`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			RespondJSON(w, tt.status, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, w.Body.String())
			}
		})
	}
}

func TestRespondError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		message    string
		wantStatus int
	}{
		{
			name:       "bad request",
			status:     http.StatusBadRequest,
			message:    "invalid input",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "internal server error",
			status:     http.StatusInternalServerError,
			message:    "something went wrong",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "not found",
			status:     http.StatusNotFound,
			message:    "resource not found",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			RespondError(w, tt.status, tt.message)

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			err := json.NewDecoder(w.Body).Decode(&resp)
			require.NoError(t, err)
			assert.Equal(t, tt.message, resp.Error)
		})
	}
}

func TestParseIntParam(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		paramValue  string
		paramName   string
		displayName string
		wantValue   int
		wantOK      bool
	}{
		{
			name:        "valid int",
			paramValue:  "42",
			paramName:   "id",
			displayName: "item ID",
			wantValue:   42,
			wantOK:      true,
		},
		{
			name:        "invalid int",
			paramValue:  "abc",
			paramName:   "id",
			displayName: "item ID",
			wantValue:   0,
			wantOK:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := chi.NewRouter()
			var gotValue int
			var gotOK bool

			r.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
				gotValue, gotOK = ParseIntParam(w, r, tt.paramName, tt.displayName)
			})

			req := httptest.NewRequest("GET", "/items/"+tt.paramValue, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantValue, gotValue)
			assert.Equal(t, tt.wantOK, gotOK)
		})
	}
}

func TestRespondJSON_UnmarshalableData(t *testing.T) {
	t.Parallel()

	// Create data that cannot be marshaled to JSON
	type badStruct struct {
		Func func() `json:"func"` // functions can't be marshaled
	}

	w := httptest.NewRecorder()

	// This should not panic, even though it can't marshal
	assert.NotPanics(t, func() {
		RespondJSON(w, http.StatusOK, badStruct{Func: func() {}})
	})
}

func TestRespondServiceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"not found", fmt.Errorf("record: %w", domain.ErrNotFound), http.StatusNotFound, "Not found"},
		{"no match", fmt.Errorf("no match: %w", domain.ErrResolutionFailed), http.StatusNotFound, "No provider match found"},
		{"upstream", fmt.Errorf("zoro: %w", domain.ErrUpstreamUnavailable), http.StatusBadGateway, "Upstream provider unavailable"},
		{"already running", domain.ErrAlreadyRunning, http.StatusConflict, domain.ErrAlreadyRunning.Error()},
		{"canceled", context.Canceled, 499, "Request canceled"},
		{"other", fmt.Errorf("disk full"), http.StatusInternalServerError, "Failed to get anime"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			RespondServiceError(w, tt.err, "get anime")

			assert.Equal(t, tt.wantStatus, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}

func TestParsePositiveIntParam(t *testing.T) {
	t.Parallel()

	for _, value := range []string{"0", "-3"} {
		r := chi.NewRouter()
		var gotOK bool
		r.Get("/info/{id}", func(w http.ResponseWriter, r *http.Request) {
			_, gotOK = ParsePositiveIntParam(w, r, "id", "anime ID")
		})

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/info/"+value, nil))

		assert.False(t, gotOK, value)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	}
}

func TestParseStringParam_Unescapes(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	var got string
	r.Get("/sources/{episodeId}", func(w http.ResponseWriter, r *http.Request) {
		got, _ = ParseStringParam(w, r, "episodeId", "episode ID")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sources/frieren-18542%3Fep%3D107257", nil))

	assert.Equal(t, "frieren-18542?ep=107257", got)
}

func TestQueryHelpers(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/?dub=true&delay=5&range=abc&neg=-1&bad=maybe", nil)

	assert.True(t, QueryBool(req, "dub", false))
	assert.True(t, QueryBool(req, "bad", true))
	assert.False(t, QueryBool(req, "missing", false))

	w := httptest.NewRecorder()
	delay, ok := QueryInt(w, req, "delay", 10)
	assert.True(t, ok)
	assert.Equal(t, 5, delay)

	def, ok := QueryInt(w, req, "missing", 25)
	assert.True(t, ok)
	assert.Equal(t, 25, def)

	_, ok = QueryInt(httptest.NewRecorder(), req, "range", 25)
	assert.False(t, ok)
	_, ok = QueryInt(httptest.NewRecorder(), req, "neg", 25)
	assert.False(t, ok)
}
