// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/anisync/anisync/internal/dbinterface"
	"github.com/anisync/anisync/internal/domain"
)

var (
	ErrProviderRecordNotFound = fmt.Errorf("provider record %w", domain.ErrNotFound)

	// ErrProviderRecordExists means an insert lost a race: either the provider id
	// or the (provider, canonical id) pair is already stored.
	ErrProviderRecordExists = errors.New("provider record already exists")

	// ErrCanonicalConflict means the record is already mapped to a different canonical id.
	ErrCanonicalConflict = fmt.Errorf("provider record mapped to another canonical id: %w", domain.ErrResolutionFailed)
)

// Episode is one episode of a provider record.
type Episode struct {
	Number    int    `json:"number"`
	EpisodeID string `json:"id"`
	Title     string `json:"title,omitempty"`
	IsFiller  bool   `json:"isFiller"`
}

// ProviderRecord is a streaming provider's view of a show. CanonicalID is 0
// until resolution sets it.
type ProviderRecord struct {
	Provider     string    `json:"provider"`
	ID           string    `json:"id"`
	CanonicalID  int       `json:"canonicalId"`
	Title        string    `json:"title"`
	Episodes     []Episode `json:"episodes"`
	EpisodesHash uint64    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// EpisodeNumbers returns the sorted episode numbers.
func (r *ProviderRecord) EpisodeNumbers() []int {
	numbers := make([]int, len(r.Episodes))
	for i, ep := range r.Episodes {
		numbers[i] = ep.Number
	}
	slices.Sort(numbers)
	return numbers
}

// EpisodeSetHash digests the set of episode numbers. Order and duplicates do not matter.
func EpisodeSetHash(episodes []Episode) uint64 {
	numbers := make([]int, len(episodes))
	for i, ep := range episodes {
		numbers[i] = ep.Number
	}
	slices.Sort(numbers)
	numbers = slices.Compact(numbers)

	d := xxhash.New()
	var buf [8]byte
	for _, n := range numbers {
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		_, _ = d.Write(buf[:])
	}
	return d.Sum64()
}

type ProviderRecordStore struct {
	db dbinterface.TxBeginner
}

func NewProviderRecordStore(db dbinterface.TxBeginner) *ProviderRecordStore {
	return &ProviderRecordStore{db: db}
}

const providerRecordColumns = `provider, id, canonical_id, title, episodes_hash, created_at, updated_at`

// GetByID returns the record and its episodes.
func (s *ProviderRecordStore) GetByID(ctx context.Context, provider, id string) (*ProviderRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+providerRecordColumns+`
		FROM provider_records
		WHERE provider = ? AND id = ?
	`, provider, id)

	return s.loadRecord(ctx, row)
}

// GetByCanonicalID returns the provider's record mapped to canonicalID.
func (s *ProviderRecordStore) GetByCanonicalID(ctx context.Context, provider string, canonicalID int) (*ProviderRecord, error) {
	if canonicalID <= 0 {
		return nil, ErrProviderRecordNotFound
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT `+providerRecordColumns+`
		FROM provider_records
		WHERE provider = ? AND canonical_id = ?
	`, provider, canonicalID)

	return s.loadRecord(ctx, row)
}

func (s *ProviderRecordStore) loadRecord(ctx context.Context, row *sql.Row) (*ProviderRecord, error) {
	rec, err := scanProviderRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrProviderRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan provider record: %w", err)
	}

	episodes, err := s.listEpisodes(ctx, rec.Provider, rec.ID)
	if err != nil {
		return nil, err
	}
	rec.Episodes = episodes

	return rec, nil
}

func scanProviderRecord(scanner sqlScanner) (*ProviderRecord, error) {
	var rec ProviderRecord
	var hash int64
	if err := scanner.Scan(
		&rec.Provider,
		&rec.ID,
		&rec.CanonicalID,
		&rec.Title,
		&hash,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.EpisodesHash = uint64(hash)
	return &rec, nil
}

func (s *ProviderRecordStore) listEpisodes(ctx context.Context, provider, recordID string) ([]Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, episode_id, title, is_filler
		FROM provider_episodes
		WHERE provider = ? AND record_id = ?
		ORDER BY number ASC
	`, provider, recordID)
	if err != nil {
		return nil, fmt.Errorf("list episodes: %w", err)
	}
	defer rows.Close()

	episodes := []Episode{}
	for rows.Next() {
		var ep Episode
		if err := rows.Scan(&ep.Number, &ep.EpisodeID, &ep.Title, &ep.IsFiller); err != nil {
			return nil, fmt.Errorf("scan episode: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate episodes: %w", err)
	}

	return episodes, nil
}

// GetEpisode returns a single episode by number.
func (s *ProviderRecordStore) GetEpisode(ctx context.Context, provider, recordID string, number int) (*Episode, error) {
	var ep Episode
	err := s.db.QueryRowContext(ctx, `
		SELECT number, episode_id, title, is_filler
		FROM provider_episodes
		WHERE provider = ? AND record_id = ? AND number = ?
	`, provider, recordID, number).Scan(&ep.Number, &ep.EpisodeID, &ep.Title, &ep.IsFiller)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("episode %d of %s/%s: %w", number, provider, recordID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get episode: %w", err)
	}
	return &ep, nil
}

// Create appends the audit entry and inserts the record with its episodes in
// one transaction, then reads the stored row back. A record with a canonical
// id gets one audit entry; an unresolved record gets none.
func (s *ProviderRecordStore) Create(ctx context.Context, rec *ProviderRecord) (*ProviderRecord, error) {
	if rec == nil || rec.Provider == "" || rec.ID == "" {
		return nil, errors.New("provider record requires provider and id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if rec.CanonicalID > 0 {
		if err := appendAudit(ctx, tx, rec.ID, rec.CanonicalID, AuditType(rec.Provider)); err != nil {
			return nil, err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO provider_records (provider, id, canonical_id, title, episodes_hash)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Provider, rec.ID, rec.CanonicalID, rec.Title, int64(EpisodeSetHash(rec.Episodes))); err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrProviderRecordExists, rec.Provider, rec.ID)
		}
		return nil, fmt.Errorf("insert provider record: %w", err)
	}

	if err := insertEpisodes(ctx, tx, rec.Provider, rec.ID, rec.Episodes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit provider record: %w", err)
	}

	return s.GetByID(ctx, rec.Provider, rec.ID)
}

// BackfillCanonicalID sets the canonical id of an unresolved record once and
// appends its audit entry. Setting the id it already has is a no-op; a
// different id yields ErrCanonicalConflict.
func (s *ProviderRecordStore) BackfillCanonicalID(ctx context.Context, provider, id string, canonicalID int) (*ProviderRecord, error) {
	if canonicalID <= 0 {
		return nil, errors.New("backfill requires a positive canonical id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE provider_records
		SET canonical_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE provider = ? AND id = ? AND canonical_id = 0
	`, canonicalID, provider, id)
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: canonical id %d already mapped for %s", ErrProviderRecordExists, canonicalID, provider)
		}
		return nil, fmt.Errorf("backfill canonical id: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("backfill rows affected: %w", err)
	}

	if affected == 0 {
		_ = tx.Rollback()

		existing, err := s.GetByID(ctx, provider, id)
		if err != nil {
			return nil, err
		}
		if existing.CanonicalID != canonicalID {
			return nil, fmt.Errorf("%w: %s/%s has %d, wanted %d", ErrCanonicalConflict, provider, id, existing.CanonicalID, canonicalID)
		}
		return existing, nil
	}

	if err := appendAudit(ctx, tx, id, canonicalID, AuditType(provider)); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit backfill: %w", err)
	}

	return s.GetByID(ctx, provider, id)
}

// ReplaceContent overwrites title and episodes. The canonical id is untouched.
func (s *ProviderRecordStore) ReplaceContent(ctx context.Context, rec *ProviderRecord) (*ProviderRecord, error) {
	if rec == nil {
		return nil, errors.New("provider record is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE provider_records
		SET title = ?, episodes_hash = ?, updated_at = CURRENT_TIMESTAMP
		WHERE provider = ? AND id = ?
	`, rec.Title, int64(EpisodeSetHash(rec.Episodes)), rec.Provider, rec.ID)
	if err != nil {
		return nil, fmt.Errorf("update provider record: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return nil, fmt.Errorf("update rows affected: %w", err)
	} else if affected == 0 {
		return nil, ErrProviderRecordNotFound
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM provider_episodes WHERE provider = ? AND record_id = ?
	`, rec.Provider, rec.ID); err != nil {
		return nil, fmt.Errorf("clear episodes: %w", err)
	}

	if err := insertEpisodes(ctx, tx, rec.Provider, rec.ID, rec.Episodes); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit provider record update: %w", err)
	}

	return s.GetByID(ctx, rec.Provider, rec.ID)
}

// Count returns the number of records for provider, split by resolution state.
func (s *ProviderRecordStore) Count(ctx context.Context, provider string) (resolved, unresolved int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN canonical_id > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN canonical_id = 0 THEN 1 ELSE 0 END), 0)
		FROM provider_records
		WHERE provider = ?
	`, provider).Scan(&resolved, &unresolved)
	if err != nil {
		return 0, 0, fmt.Errorf("count provider records: %w", err)
	}
	return resolved, unresolved, nil
}

const episodeInsertBatch = 100

func insertEpisodes(ctx context.Context, q dbinterface.Querier, provider, recordID string, episodes []Episode) error {
	// Duplicate numbers from upstream keep the first occurrence.
	seen := make(map[int]struct{}, len(episodes))
	unique := make([]Episode, 0, len(episodes))
	for _, ep := range episodes {
		if _, ok := seen[ep.Number]; ok {
			continue
		}
		seen[ep.Number] = struct{}{}
		unique = append(unique, ep)
	}

	for start := 0; start < len(unique); start += episodeInsertBatch {
		batch := unique[start:min(start+episodeInsertBatch, len(unique))]

		query := dbinterface.BuildQueryWithPlaceholders(
			"INSERT INTO provider_episodes (provider, record_id, number, episode_id, title, is_filler) VALUES %s",
			6, len(batch))

		args := make([]any, 0, len(batch)*6)
		for _, ep := range batch {
			args = append(args, provider, recordID, ep.Number, ep.EpisodeID, ep.Title, boolToInt(ep.IsFiller))
		}

		if _, err := q.ExecContext(ctx, query, args...); err != nil {
			if isForeignKeyConstraintError(err) {
				return fmt.Errorf("insert episodes for missing record %s/%s: %w", provider, recordID, err)
			}
			return fmt.Errorf("insert episodes: %w", err)
		}
	}

	return nil
}
