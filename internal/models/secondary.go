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

var (
	ErrSecondaryNotFound = fmt.Errorf("secondary metadata %w", domain.ErrNotFound)

	// ErrSecondaryExists means an insert lost a race for the canonical id.
	ErrSecondaryExists = errors.New("secondary metadata already exists")
)

// SecondaryRecord holds ratings and trailer data from the secondary
// metadata aggregator (TMDB), keyed by canonical id. ID is the TMDB id and
// may be shared by several canonical entries.
type SecondaryRecord struct {
	ID          int       `json:"id"`
	CanonicalID int       `json:"canonicalId"`
	Title       string    `json:"title"`
	Rating      float64   `json:"rating"`
	TrailerURL  string    `json:"trailerUrl,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

type SecondaryStore struct {
	db dbinterface.TxBeginner
}

func NewSecondaryStore(db dbinterface.TxBeginner) *SecondaryStore {
	return &SecondaryStore{db: db}
}

func (s *SecondaryStore) GetByCanonicalID(ctx context.Context, canonicalID int) (*SecondaryRecord, error) {
	var r SecondaryRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT tmdb_id, canonical_id, title, rating, trailer_url, created_at, updated_at
		FROM secondary_metadata
		WHERE canonical_id = ?
	`, canonicalID).Scan(&r.ID, &r.CanonicalID, &r.Title, &r.Rating, &r.TrailerURL, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecondaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secondary metadata: %w", err)
	}
	return &r, nil
}

// Create stores a new record together with its TMDB audit entry.
func (s *SecondaryStore) Create(ctx context.Context, r *SecondaryRecord) (*SecondaryRecord, error) {
	if r == nil || r.ID <= 0 || r.CanonicalID <= 0 {
		return nil, errors.New("secondary record requires id and canonical id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendAudit(ctx, tx, fmt.Sprint(r.ID), r.CanonicalID, AuditTypeTMDB); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO secondary_metadata (canonical_id, tmdb_id, title, rating, trailer_url)
		VALUES (?, ?, ?, ?, ?)
	`, r.CanonicalID, r.ID, r.Title, r.Rating, r.TrailerURL); err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: canonical id %d", ErrSecondaryExists, r.CanonicalID)
		}
		return nil, fmt.Errorf("insert secondary metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit secondary metadata: %w", err)
	}

	return s.GetByCanonicalID(ctx, r.CanonicalID)
}

// Update refreshes the mutable fields of an existing record and appends a
// TMDB audit entry in the same transaction.
func (s *SecondaryStore) Update(ctx context.Context, r *SecondaryRecord) (*SecondaryRecord, error) {
	if r == nil || r.CanonicalID <= 0 {
		return nil, ErrSecondaryNotFound
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tmdbID int
	err = tx.QueryRowContext(ctx, `SELECT tmdb_id FROM secondary_metadata WHERE canonical_id = ?`, r.CanonicalID).Scan(&tmdbID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSecondaryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secondary metadata: %w", err)
	}

	if err := appendAudit(ctx, tx, fmt.Sprint(tmdbID), r.CanonicalID, AuditTypeTMDB); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE secondary_metadata
		SET title = ?, rating = ?, trailer_url = ?, updated_at = CURRENT_TIMESTAMP
		WHERE canonical_id = ?
	`, r.Title, r.Rating, r.TrailerURL, r.CanonicalID); err != nil {
		return nil, fmt.Errorf("update secondary metadata: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit secondary metadata: %w", err)
	}

	return s.GetByCanonicalID(ctx, r.CanonicalID)
}
