// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"fmt"
	"time"

	"github.com/anisync/anisync/internal/dbinterface"
)

// AuditType names the subsystem that produced a mapping.
type AuditType string

const (
	AuditTypeAniwatch AuditType = "ANIWATCH"
	AuditTypeTMDB     AuditType = "TMDB"
)

// AuditEntry records that EntityID was mapped to the canonical ExternalID.
// Rows are never updated or deleted.
type AuditEntry struct {
	ID         int64     `json:"id"`
	EntityID   string    `json:"entityId"`
	ExternalID int       `json:"externalId"`
	Type       AuditType `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
}

type AuditStore struct {
	db dbinterface.Querier
}

func NewAuditStore(db dbinterface.Querier) *AuditStore {
	return &AuditStore{db: db}
}

// Append inserts one entry outside any caller transaction.
func (s *AuditStore) Append(ctx context.Context, entityID string, externalID int, typ AuditType) error {
	return appendAudit(ctx, s.db, entityID, externalID, typ)
}

func appendAudit(ctx context.Context, q dbinterface.Querier, entityID string, externalID int, typ AuditType) error {
	if _, err := q.ExecContext(ctx, `
		INSERT INTO audit_log (entity_id, external_id, type) VALUES (?, ?, ?)
	`, entityID, externalID, string(typ)); err != nil {
		return fmt.Errorf("append audit entry %s/%s: %w", typ, entityID, err)
	}
	return nil
}

// ListByExternalID returns every entry of typ for a canonical id, oldest first.
func (s *AuditStore) ListByExternalID(ctx context.Context, typ AuditType, externalID int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entity_id, external_id, type, created_at
		FROM audit_log
		WHERE type = ? AND external_id = ?
		ORDER BY id ASC
	`, string(typ), externalID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var typStr string
		if err := rows.Scan(&e.ID, &e.EntityID, &e.ExternalID, &typStr, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Type = AuditType(typStr)
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}

	return entries, nil
}

// Count returns the number of entries of typ.
func (s *AuditStore) Count(ctx context.Context, typ AuditType) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE type = ?`, string(typ)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}
