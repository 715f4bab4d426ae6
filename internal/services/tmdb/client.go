// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/anisync/anisync/internal/buildinfo"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/pkg/httphelpers"
)

const DefaultURL = "https://api.themoviedb.org/3"

type SearchResult struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	FirstAirDate string  `json:"first_air_date"`
	VoteAverage  float64 `json:"vote_average"`
}

// Year returns the first-air year, or 0 when unknown.
func (r SearchResult) Year() int {
	if len(r.FirstAirDate) < 4 {
		return 0
	}
	y, _ := strconv.Atoi(r.FirstAirDate[:4])
	return y
}

type Details struct {
	ID          int     `json:"id"`
	Name        string  `json:"name"`
	VoteAverage float64 `json:"vote_average"`
	Videos      struct {
		Results []struct {
			Key  string `json:"key"`
			Site string `json:"site"`
			Type string `json:"type"`
		} `json:"results"`
	} `json:"videos"`
}

// TrailerURL returns the first YouTube trailer, if any.
func (d *Details) TrailerURL() string {
	for _, v := range d.Videos.Results {
		if strings.EqualFold(v.Site, "YouTube") && strings.EqualFold(v.Type, "Trailer") && v.Key != "" {
			return "https://www.youtube.com/watch?v=" + v.Key
		}
	}
	return ""
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	retries    uint
	retryDelay time.Duration
}

type ClientConfig struct {
	URL        string
	APIKey     string
	Timeout    time.Duration
	Retries    uint
	RetryDelay time.Duration
	HTTPClient *http.Client
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Retries == 0 {
		cfg.Retries = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: hc,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
	}
}

// Enabled reports whether an API key is configured.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

func (c *Client) SearchTV(ctx context.Context, query string, year int) ([]SearchResult, error) {
	params := url.Values{"query": {query}}
	if year > 0 {
		params.Set("first_air_date_year", strconv.Itoa(year))
	}

	var resp struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.get(ctx, "/search/tv", params, &resp); err != nil {
		return nil, errors.Wrapf(err, "tmdb search %q", query)
	}
	return resp.Results, nil
}

func (c *Client) Details(ctx context.Context, id int) (*Details, error) {
	var d Details
	if err := c.get(ctx, "/tv/"+strconv.Itoa(id), url.Values{"append_to_response": {"videos"}}, &d); err != nil {
		return nil, errors.Wrapf(err, "tmdb details %d", id)
	}
	return &d, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("tmdb status %d", e.code) }

func (c *Client) get(ctx context.Context, path string, params url.Values, dst any) error {
	params.Set("api_key", c.apiKey)
	endpoint := c.baseURL + path + "?" + params.Encode()

	err := retry.Do(
		func() error {
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

			if resp.StatusCode != http.StatusOK {
				return &statusError{code: resp.StatusCode}
			}
			if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
				return retry.Unrecoverable(err)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(c.retries),
		retry.Delay(c.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var se *statusError
			if errors.As(err, &se) {
				return se.code >= 500 || se.code == http.StatusTooManyRequests
			}
			return true
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
