// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCORS(t *testing.T) {
	const frontend = "https://example.com"

	tests := []struct {
		name        string
		origins     []string
		method      string
		path        string
		origin      string
		reqMethod   string
		reqHeaders  string
		wantStatus  int
		wantOrigin  string
		wantHeaders string
	}{
		{
			name: "preflight for provider lookup", origins: []string{frontend},
			method: http.MethodOptions, path: "/api/anime/provider/zoro/frieren-18542",
			origin: frontend, reqMethod: http.MethodGet,
			wantStatus: http.StatusNoContent, wantOrigin: frontend,
		},
		{
			name: "preflight for index start echoes requested header", origins: []string{frontend},
			method: http.MethodOptions, path: "/api/anime/index",
			origin: frontend, reqMethod: http.MethodPut, reqHeaders: "x-requested-with",
			wantStatus: http.StatusNoContent, wantOrigin: frontend, wantHeaders: "x-requested-with",
		},
		{
			name: "unknown origin gets no allow header", origins: []string{frontend},
			method: http.MethodGet, path: "/healthz", origin: "https://evil.example",
			wantStatus: http.StatusOK,
		},
		{
			name: "no configured origins disables cors", origins: nil,
			method: http.MethodGet, path: "/healthz", origin: frontend,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDependencies(t)
			deps.Config.CORSOrigins = tt.origins

			router, err := NewServer(deps).Handler()
			require.NoError(t, err)

			req := httptest.NewRequest(tt.method, tt.path, nil)
			req.Header.Set("Origin", tt.origin)
			if tt.reqMethod != "" {
				req.Header.Set("Access-Control-Request-Method", tt.reqMethod)
			}
			if tt.reqHeaders != "" {
				req.Header.Set("Access-Control-Request-Headers", tt.reqHeaders)
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantOrigin, rec.Header().Get("Access-Control-Allow-Origin"))
			if tt.wantOrigin != "" {
				assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
			}
			if tt.wantHeaders != "" {
				assert.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Allow-Headers")), tt.wantHeaders)
			}
		})
	}
}
