// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonHandler(body string, status int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
}

func TestNegotiateAlgorithm(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		header string
		zstd   bool
		br     bool
		want   CompressionAlgorithm
	}{
		{"empty", "", true, true, AlgorithmNone},
		{"gzip only", "gzip", true, true, AlgorithmGzip},
		{"zstd preferred", "gzip, br, zstd", true, true, AlgorithmZstd},
		{"zstd disabled", "gzip, br, zstd", false, true, AlgorithmBrotli},
		{"brotli disabled", "gzip, br", false, false, AlgorithmGzip},
		{"zero quality ignored", "gzip;q=0, deflate", true, true, AlgorithmDeflate},
		{"wildcard", "*", true, false, AlgorithmZstd},
		{"identity", "identity", true, true, AlgorithmNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, negotiateAlgorithm(tt.header, tt.zstd, tt.br))
		})
	}
}

func TestParseAcceptEncoding(t *testing.T) {
	t.Parallel()

	got := parseAcceptEncoding("gzip;q=0.8, br ; q=0.25, zstd")
	assert.InDelta(t, 0.8, got["gzip"], 1e-9)
	assert.InDelta(t, 0.25, got["br"], 1e-9)
	assert.InDelta(t, 1.0, got["zstd"], 1e-9)
}

func TestSelectiveCompress_LargeJSON(t *testing.T) {
	t.Parallel()

	body := `{"episodes":"` + strings.Repeat("a", 4096) + `"}`

	tests := []struct {
		encoding string
		decode   func(io.Reader) (io.Reader, error)
	}{
		{"gzip", func(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }},
		{"br", func(r io.Reader) (io.Reader, error) { return brotli.NewReader(r), nil }},
		{"zstd", func(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }},
	}

	for _, tt := range tests {
		t.Run(tt.encoding, func(t *testing.T) {
			t.Parallel()

			handler := SelectiveCompress(1024, 5, true, true)(jsonHandler(body, http.StatusOK))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set("Accept-Encoding", tt.encoding)
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			require.Equal(t, tt.encoding, rec.Header().Get("Content-Encoding"))
			assert.Equal(t, "Accept-Encoding", rec.Header().Get("Vary"))

			reader, err := tt.decode(rec.Body)
			require.NoError(t, err)
			decoded, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, body, string(decoded))
		})
	}
}

func TestSelectiveCompress_SmallResponseUntouched(t *testing.T) {
	t.Parallel()

	handler := SelectiveCompress(1024, 5, true, true)(jsonHandler(`{"error":"not found"}`, http.StatusNotFound))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, `{"error":"not found"}`, rec.Body.String())
}

func TestSelectiveCompress_NonTextUntouched(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 4096)
	handler := SelectiveCompress(16, 5, true, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, body)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, body, rec.Body.String())
}

func TestSelectiveCompress_NoContent(t *testing.T) {
	t.Parallel()

	handler := SelectiveCompress(0, 5, true, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	req := httptest.NewRequest(http.MethodPut, "/", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}
