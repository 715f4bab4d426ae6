// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package anilist

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"

	"github.com/anisync/anisync/internal/buildinfo"
	"github.com/anisync/anisync/internal/domain"
	"github.com/anisync/anisync/internal/models"
	"github.com/anisync/anisync/pkg/httphelpers"
)

const DefaultURL = "https://graphql.anilist.co"

const mediaFields = `
    id
    title { romaji english native }
    seasonYear
    episodes
    status
    nextAiringEpisode { episode }`

const mediaQuery = `query ($id: Int) {
  Media(id: $id, type: ANIME) {` + mediaFields + `
  }
}`

// pageQuery lists anime with ids above $after in ascending id order.
const pageQuery = `query ($after: Int, $perPage: Int) {
  Page(page: 1, perPage: $perPage) {
    pageInfo { hasNextPage }
    media(type: ANIME, id_greater: $after, sort: ID) {` + mediaFields + `
    }
  }
}`

// MaxPerPage is the largest page AniList serves.
const MaxPerPage = 50

// Client is a minimal AniList GraphQL client.
type Client struct {
	url        string
	httpClient *http.Client
	retries    uint
	retryDelay time.Duration
}

type ClientConfig struct {
	URL        string
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
		url:        strings.TrimRight(cfg.URL, "/"),
		httpClient: hc,
		retries:    cfg.Retries,
		retryDelay: cfg.RetryDelay,
	}
}

type graphQLError struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type envelope[T any] struct {
	Data   T              `json:"data"`
	Errors []graphQLError `json:"errors"`
}

type media struct {
	ID    int `json:"id"`
	Title struct {
		Romaji  string `json:"romaji"`
		English string `json:"english"`
		Native  string `json:"native"`
	} `json:"title"`
	SeasonYear        int    `json:"seasonYear"`
	Episodes          int    `json:"episodes"`
	Status            string `json:"status"`
	NextAiringEpisode *struct {
		Episode int `json:"episode"`
	} `json:"nextAiringEpisode"`
}

func (m *media) entry() *models.CanonicalEntry {
	entry := &models.CanonicalEntry{
		ID: m.ID,
		Titles: models.TitleSet{
			Romaji:  m.Title.Romaji,
			English: m.Title.English,
			Native:  m.Title.Native,
		},
		SeasonYear: m.SeasonYear,
		Episodes:   m.Episodes,
		Status:     m.Status,
	}
	if m.NextAiringEpisode != nil {
		entry.NextAiringEpisode = m.NextAiringEpisode.Episode
		entry.LastAiredEpisode = max(m.NextAiringEpisode.Episode-1, 0)
	} else {
		entry.LastAiredEpisode = m.Episodes
	}
	return entry
}

type mediaData struct {
	Media *media `json:"Media"`
}

type pageData struct {
	Page struct {
		PageInfo struct {
			HasNextPage bool `json:"hasNextPage"`
		} `json:"pageInfo"`
		Media []*media `json:"media"`
	} `json:"Page"`
}

// Page is one slice of the AniList anime catalog.
type Page struct {
	Entries []*models.CanonicalEntry
	HasNext bool
}

type statusError struct {
	code int
	msg  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("anilist status %d: %s", e.code, e.msg)
}

// FetchMedia returns the canonical entry for id.
func (c *Client) FetchMedia(ctx context.Context, id int) (*models.CanonicalEntry, error) {
	resp, err := query[mediaData](ctx, c, mediaQuery, map[string]any{"id": id})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) && se.code == http.StatusNotFound {
			return nil, fmt.Errorf("anilist media %d: %w", id, domain.ErrNotFound)
		}
		return nil, c.wrap(ctx, err, "anilist media %d", id)
	}

	if resp.Media == nil {
		return nil, fmt.Errorf("anilist media %d: %w", id, domain.ErrNotFound)
	}
	return resp.Media.entry(), nil
}

// FetchPage returns up to perPage anime with ids greater than after,
// ascending. perPage is clamped to MaxPerPage.
func (c *Client) FetchPage(ctx context.Context, after, perPage int) (*Page, error) {
	perPage = min(max(perPage, 1), MaxPerPage)

	resp, err := query[pageData](ctx, c, pageQuery, map[string]any{"after": after, "perPage": perPage})
	if err != nil {
		return nil, c.wrap(ctx, err, "anilist page after %d", after)
	}

	page := &Page{
		Entries: make([]*models.CanonicalEntry, 0, len(resp.Page.Media)),
		HasNext: resp.Page.PageInfo.HasNextPage,
	}
	for _, m := range resp.Page.Media {
		if m != nil && m.ID > after {
			page.Entries = append(page.Entries, m.entry())
		}
	}
	return page, nil
}

func (c *Client) wrap(ctx context.Context, err error, format string, args ...any) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return errors.Wrapf(fmt.Errorf("%w: %v", domain.ErrUpstreamUnavailable, err), format, args...)
}

// query posts a GraphQL request, retrying 5xx and 429 responses.
func query[T any](ctx context.Context, c *Client, q string, variables map[string]any) (*T, error) {
	payload, err := json.Marshal(map[string]any{"query": q, "variables": variables})
	if err != nil {
		return nil, err
	}

	var resp envelope[T]
	err = retry.Do(
		func() error {
			resp = envelope[T]{}
			return c.post(ctx, payload, &resp, func() []graphQLError { return resp.Errors })
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
	if err != nil {
		return nil, err
	}
	return &resp.Data, nil
}

func (c *Client) post(ctx context.Context, payload []byte, dst any, graphQLErrors func() []graphQLError) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return retry.Unrecoverable(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer httphelpers.DrainAndClose(resp)

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return &statusError{code: resp.StatusCode, msg: httphelpers.ReadErrorBody(resp, 512)}
	}

	// GraphQL reports missing media as 404 with an errors array.
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		if resp.StatusCode != http.StatusOK {
			return &statusError{code: resp.StatusCode, msg: "undecodable body"}
		}
		return retry.Unrecoverable(fmt.Errorf("decode anilist response: %w", err))
	}
	if errs := graphQLErrors(); len(errs) > 0 {
		code := errs[0].Status
		if code == 0 {
			code = resp.StatusCode
		}
		return &statusError{code: code, msg: errs[0].Message}
	}
	return nil
}
