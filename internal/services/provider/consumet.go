// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/anisync/anisync/internal/buildinfo"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/pkg/httphelpers"
	"github.com/anisync/anisync/pkg/stringutils"
)

const (
	NameAniwatch = "ANIWATCH"

	defaultServer      = "vidcloud"
	defaultSearchTTL   = 5 * time.Minute
	defaultTimeout     = 15 * time.Second
	defaultRetries     = 3
	defaultRetryDelay  = 500 * time.Millisecond
	maxErrorBodyLength = 512
)

// ConsumetConfig holds the options for constructing a ConsumetClient.
type ConsumetConfig struct {
	Name       string // provider name, default ANIWATCH
	BaseURL    string
	Path       string // provider path segment, default "zoro"
	Server     string // preferred streaming server, default vidcloud
	Timeout    time.Duration
	Retries    uint
	RetryDelay time.Duration
	SearchTTL  time.Duration
	HTTPClient *http.Client
}

// ConsumetClient implements Gateway against a Consumet-compatible REST API.
type ConsumetClient struct {
	name       string
	baseURL    string
	path       string
	server     string
	retries    uint
	retryDelay time.Duration
	httpClient *http.Client
	searches   *ttlcache.Cache[string, []SearchResult]
}

func NewConsumetClient(cfg ConsumetConfig) *ConsumetClient {
	if cfg.Name == "" {
		cfg.Name = NameAniwatch
	}
	if cfg.Path == "" {
		cfg.Path = "zoro"
	}
	if cfg.Server == "" {
		cfg.Server = defaultServer
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Retries == 0 {
		cfg.Retries = defaultRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = defaultRetryDelay
	}
	if cfg.SearchTTL <= 0 {
		cfg.SearchTTL = defaultSearchTTL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	return &ConsumetClient{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		path:       strings.Trim(cfg.Path, "/"),
		server:     cfg.Server,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
		httpClient: client,
		searches:   ttlcache.New(ttlcache.Options[string, []SearchResult]{}.SetDefaultTTL(cfg.SearchTTL)),
	}
}

func (c *ConsumetClient) Name() string {
	return c.name
}

type consumetSearchResponse struct {
	CurrentPage int `json:"currentPage"`
	Results     []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		ReleaseDate string `json:"releaseDate"`
		Sub         int    `json:"sub"`
		Dub         int    `json:"dub"`
		Episodes    int    `json:"episodes"`
	} `json:"results"`
}

// Search returns provider hits for query. Results are cached per normalized
// query for a few minutes so a sweep does not repeat identical searches.
func (c *ConsumetClient) Search(ctx context.Context, query string) ([]SearchResult, error) {
	key := stringutils.NormalizeForMatching(query)
	if key == "" {
		return nil, nil
	}
	if cached, ok := c.searches.Get(key); ok {
		return cached, nil
	}

	var resp consumetSearchResponse
	if err := c.getJSON(ctx, c.endpoint(url.PathEscape(query), url.Values{"page": {"1"}}), &resp); err != nil {
		return nil, errors.Wrapf(err, "%s search %q", c.name, query)
	}

	results := make([]SearchResult, 0, len(resp.Results))
	for _, r := range resp.Results {
		if strings.TrimSpace(r.ID) == "" {
			continue
		}
		episodes := r.Sub
		if episodes == 0 {
			episodes = r.Episodes
		}
		year, _ := strconv.Atoi(strings.TrimSpace(r.ReleaseDate))
		results = append(results, SearchResult{
			ID:       r.ID,
			Title:    strings.TrimSpace(r.Title),
			Year:     year,
			Episodes: episodes,
		})
	}

	c.searches.Set(key, results, ttlcache.DefaultTTL)
	return results, nil
}

type consumetInfoResponse struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	TotalEpisodes int    `json:"totalEpisodes"`
	Episodes      []struct {
		ID       string `json:"id"`
		Number   int    `json:"number"`
		Title    string `json:"title"`
		IsFiller bool   `json:"isFiller"`
	} `json:"episodes"`
}

func (c *ConsumetClient) FetchDetail(ctx context.Context, id string) (*Detail, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("empty %s id: %w", c.name, domain.ErrNotFound)
	}

	var resp consumetInfoResponse
	if err := c.getJSON(ctx, c.endpoint("info", url.Values{"id": {id}}), &resp); err != nil {
		return nil, errors.Wrapf(err, "%s info %q", c.name, id)
	}
	if resp.ID == "" {
		resp.ID = id
	}

	detail := &Detail{
		ID:       resp.ID,
		Title:    strings.TrimSpace(resp.Title),
		Episodes: make([]models.Episode, 0, len(resp.Episodes)),
	}
	for _, ep := range resp.Episodes {
		epID := strings.TrimSpace(ep.ID)
		if epID == "" || ep.Number <= 0 {
			continue
		}
		detail.Episodes = append(detail.Episodes, models.Episode{
			Number:    ep.Number,
			EpisodeID: epID,
			Title:     strings.TrimSpace(ep.Title),
			IsFiller:  ep.IsFiller,
		})
	}

	return detail, nil
}

type consumetSourcesResponse struct {
	Headers map[string]string `json:"headers"`
	Sources []Source          `json:"sources"`
	// Consumet calls the subtitle list "subtitles"; some forks use "tracks".
	Subtitles []Subtitle `json:"subtitles"`
	Tracks    []struct {
		File  string `json:"file"`
		Label string `json:"label"`
		Kind  string `json:"kind"`
	} `json:"tracks"`
	Intro *Segment `json:"intro"`
	Outro *Segment `json:"outro"`
}

// FetchSources returns stream sources for an episode from the preferred
// server, in the sub or dub category.
func (c *ConsumetClient) FetchSources(ctx context.Context, episodeID string, dub bool) (*SourceSet, error) {
	if strings.TrimSpace(episodeID) == "" {
		return nil, fmt.Errorf("empty episode id: %w", domain.ErrNotFound)
	}

	category := "sub"
	if dub {
		category = "dub"
	}

	var resp consumetSourcesResponse
	endpoint := c.endpoint("watch/"+url.PathEscape(episodeID), url.Values{
		"server":   {c.server},
		"category": {category},
	})
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, errors.Wrapf(err, "%s sources %q (%s)", c.name, episodeID, category)
	}

	set := &SourceSet{
		Headers:   resp.Headers,
		Sources:   resp.Sources,
		Subtitles: resp.Subtitles,
		Intro:     resp.Intro,
		Outro:     resp.Outro,
	}
	for _, tr := range resp.Tracks {
		if tr.Kind != "" && tr.Kind != "captions" && tr.Kind != "subtitles" {
			continue
		}
		set.Subtitles = append(set.Subtitles, Subtitle{URL: tr.File, Lang: tr.Label})
	}
	if len(set.Sources) == 0 {
		return nil, fmt.Errorf("no %s sources for %q: %w", category, episodeID, domain.ErrNotFound)
	}

	return set, nil
}

func (c *ConsumetClient) endpoint(path string, query url.Values) string {
	u := fmt.Sprintf("%s/anime/%s/%s", c.baseURL, c.path, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// statusError is a non-2xx response.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.code, e.body)
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests
	}
	// decode errors will not fix themselves
	var syntaxErr *json.SyntaxError
	return !errors.As(err, &syntaxErr)
}

// getJSON fetches endpoint into dst, retrying transient failures.
// 404 maps to ErrNotFound, anything else that keeps failing to ErrUpstreamUnavailable.
func (c *ConsumetClient) getJSON(ctx context.Context, endpoint string, dst any) error {
	err := retry.Do(
		func() error {
			return c.doGet(ctx, endpoint, dst)
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Err(err).Str("provider", c.name).Uint("attempt", n+1).Msg("provider: retrying request")
		}),
	)
	if err == nil {
		return nil
	}

	var se *statusError
	if errors.As(err, &se) && se.code == http.StatusNotFound {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err)
}

func (c *ConsumetClient) doGet(ctx context.Context, endpoint string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &statusError{code: resp.StatusCode, body: httphelpers.ReadErrorBody(resp, maxErrorBodyLength)}
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Close releases the search cache.
func (c *ConsumetClient) Close() {
	c.searches.Close()
}
