// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/anisync/anisync/internal/dbinterface"
	"github.com/anisync/anisync/internal/domain"
)

// ErrCanonicalNotFound is returned when no canonical entry has the id.
var ErrCanonicalNotFound = fmt.Errorf("canonical entry %w", domain.ErrNotFound)

// TitleSet holds the title variants reported by the canonical provider.
type TitleSet struct {
	Romaji  string `json:"romaji,omitempty"`
	English string `json:"english,omitempty"`
	Native  string `json:"native,omitempty"`
}

// CanonicalEntry is the cached copy of a canonical (AniList) entry.
type CanonicalEntry struct {
	ID                int       `json:"id"`
	Titles            TitleSet  `json:"title"`
	SeasonYear        int       `json:"seasonYear,omitempty"`
	Episodes          int       `json:"episodes,omitempty"`
	Status            string    `json:"status,omitempty"`
	NextAiringEpisode int       `json:"nextAiringEpisode,omitempty"`
	LastAiredEpisode  int       `json:"lastAiredEpisode,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

type CanonicalStore struct {
	db dbinterface.Querier
}

func NewCanonicalStore(db dbinterface.Querier) *CanonicalStore {
	return &CanonicalStore{db: db}
}

const canonicalColumns = `id, title_romaji, title_english, title_native, season_year, episodes, status,
	next_airing_episode, last_aired_episode, created_at, updated_at`

// Get returns the cached entry or ErrCanonicalNotFound.
func (s *CanonicalStore) Get(ctx context.Context, id int) (*CanonicalEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+canonicalColumns+` FROM canonical_entries WHERE id = ?`, id)

	entry, err := scanCanonical(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCanonicalNotFound
	}
	return entry, err
}

// Upsert inserts the entry or refreshes its attributes. The id never changes.
func (s *CanonicalStore) Upsert(ctx context.Context, entry *CanonicalEntry) (*CanonicalEntry, error) {
	if entry == nil || entry.ID <= 0 {
		return nil, errors.New("canonical entry requires a positive id")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO canonical_entries
			(id, title_romaji, title_english, title_native, season_year, episodes, status,
			 next_airing_episode, last_aired_episode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title_romaji = excluded.title_romaji,
			title_english = excluded.title_english,
			title_native = excluded.title_native,
			season_year = excluded.season_year,
			episodes = excluded.episodes,
			status = excluded.status,
			next_airing_episode = excluded.next_airing_episode,
			last_aired_episode = excluded.last_aired_episode,
			updated_at = CURRENT_TIMESTAMP
	`, entry.ID, entry.Titles.Romaji, entry.Titles.English, entry.Titles.Native, entry.SeasonYear,
		entry.Episodes, entry.Status, entry.NextAiringEpisode, entry.LastAiredEpisode)
	if err != nil {
		return nil, fmt.Errorf("upsert canonical entry %d: %w", entry.ID, err)
	}

	return s.Get(ctx, entry.ID)
}

// NextIDs returns up to limit cached ids greater than after, ascending.
func (s *CanonicalStore) NextIDs(ctx context.Context, after, limit int) ([]int, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM canonical_entries
		WHERE id > ?
		ORDER BY id ASC
		LIMIT ?
	`, after, limit)
	if err != nil {
		return nil, fmt.Errorf("list canonical ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int, 0, limit)
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan canonical id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical ids: %w", err)
	}

	return ids, nil
}

// Count returns the number of cached canonical entries.
func (s *CanonicalStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM canonical_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count canonical entries: %w", err)
	}
	return n, nil
}

func scanCanonical(scanner sqlScanner) (*CanonicalEntry, error) {
	var e CanonicalEntry
	if err := scanner.Scan(
		&e.ID,
		&e.Titles.Romaji,
		&e.Titles.English,
		&e.Titles.Native,
		&e.SeasonYear,
		&e.Episodes,
		&e.Status,
		&e.NextAiringEpisode,
		&e.LastAiredEpisode,
		&e.CreatedAt,
		&e.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &e, nil
}
