// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anisync/anisync/internal/domain"
)

func newTestClient(t *testing.T, handler http.Handler) *ConsumetClient {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewConsumetClient(ConsumetConfig{
		BaseURL:    srv.URL,
		Retries:    3,
		RetryDelay: time.Millisecond,
	})
	t.Cleanup(c.Close)
	return c
}

func TestConsumetSearch(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/anime/zoro/Cowboy Bebop", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("page"))
		_, _ = w.Write([]byte(`{"currentPage":1,"results":[
			{"id":"cowboy-bebop-27","title":"Cowboy Bebop","sub":26,"releaseDate":"1998"},
			{"id":"","title":"broken"},
			{"id":"cowboy-bebop-movie-28","title":"Cowboy Bebop: The Movie","episodes":1}
		]}`))
	}))

	results, err := c.Search(context.Background(), "Cowboy Bebop")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, SearchResult{ID: "cowboy-bebop-27", Title: "Cowboy Bebop", Year: 1998, Episodes: 26}, results[0])
	assert.Equal(t, 1, results[1].Episodes)

	// normalized query hits the cache
	_, err = c.Search(context.Background(), "cowboy-bebop")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConsumetFetchDetail(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/anime/zoro/info", r.URL.Path)
		if r.URL.Query().Get("id") != "frieren-18542" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"id":"frieren-18542","title":" Frieren ","episodes":[
			{"id":"frieren-18542?ep=107257","number":1,"title":"The Journey's End"},
			{"id":"frieren-18542?ep=107258","number":2,"title":"It Didn't Have to Be Magic...","isFiller":false},
			{"id":"","number":3}
		]}`))
	}))

	detail, err := c.FetchDetail(context.Background(), "frieren-18542")
	require.NoError(t, err)
	assert.Equal(t, "Frieren", detail.Title)
	require.Len(t, detail.Episodes, 2)
	assert.Equal(t, "frieren-18542?ep=107258", detail.Episodes[1].EpisodeID)

	_, err = c.FetchDetail(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumetRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"id":"x","title":"X","episodes":[]}`))
	}))

	detail, err := c.FetchDetail(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "X", detail.Title)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConsumetUpstreamUnavailable(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := c.Search(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestConsumetDoesNotRetryClientErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.FetchDetail(context.Background(), "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), calls.Load())
}

func TestConsumetFetchSources(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/anime/zoro/watch/frieren-18542?ep=107257", r.URL.Path)
		assert.Equal(t, "vidcloud", r.URL.Query().Get("server"))
		if r.URL.Query().Get("category") == "dub" {
			_, _ = w.Write([]byte(`{"sources":[]}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"headers":{"Referer":"https://megacloud.tv/"},
			"sources":[{"url":"https://cdn.example/master.m3u8","isM3U8":true,"quality":"auto"}],
			"tracks":[{"file":"https://cdn.example/en.vtt","label":"English","kind":"captions"},{"file":"thumbs.vtt","kind":"thumbnails"}],
			"intro":{"start":31,"end":115}
		}`))
	}))

	set, err := c.FetchSources(context.Background(), "frieren-18542?ep=107257", false)
	require.NoError(t, err)
	require.Len(t, set.Sources, 1)
	assert.True(t, set.Sources[0].IsM3U8)
	assert.Equal(t, []Subtitle{{URL: "https://cdn.example/en.vtt", Lang: "English"}}, set.Subtitles)
	assert.Equal(t, &Segment{Start: 31, End: 115}, set.Intro)
	assert.Equal(t, "https://megacloud.tv/", set.Headers["Referer"])

	_, err = c.FetchSources(context.Background(), "frieren-18542?ep=107257", true)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConsumetContextCancelled(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchDetail(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	c := NewConsumetClient(ConsumetConfig{BaseURL: "http://localhost"})
	t.Cleanup(c.Close)
	r.Register(c, "zoro", "hianime")

	for _, name := range []string{"ANIWATCH", "aniwatch", "Zoro", "hianime"} {
		gw, err := r.Get(name)
		require.NoError(t, err, name)
		assert.Same(t, c, gw)
	}

	_, err := r.Get("gogoanime")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, []string{"ANIWATCH"}, r.Names())
}
