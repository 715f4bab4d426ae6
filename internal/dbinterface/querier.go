// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dbinterface provides database interfaces to avoid import cycles.
// This package has no dependencies and can be imported by both database
// implementations and models/stores.
package dbinterface

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Querier is the centralized interface for database operations.
// It is implemented by *sql.DB, *sql.Tx, *database.DB and *database.Tx.
// Stores accept a Querier so they can run inside or outside a transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// TxQuerier is a Querier bound to an open transaction.
type TxQuerier interface {
	Querier
	Commit() error
	Rollback() error
}

// TxBeginner is an interface for types that can begin transactions.
// It is implemented by *database.DB.
type TxBeginner interface {
	Querier
	BeginTx(ctx context.Context, opts *sql.TxOptions) (TxQuerier, error)
}

// BuildQueryWithPlaceholders expands the single %s in template into numRows
// groups of placeholdersPerRow "?" markers, e.g. "(?, ?), (?, ?)".
func BuildQueryWithPlaceholders(template string, placeholdersPerRow, numRows int) string {
	if placeholdersPerRow <= 0 || numRows <= 0 {
		return fmt.Sprintf(template, "")
	}

	var row strings.Builder
	row.WriteByte('(')
	for i := range placeholdersPerRow {
		if i > 0 {
			row.WriteString(", ")
		}
		row.WriteByte('?')
	}
	row.WriteByte(')')

	var sb strings.Builder
	sb.Grow((row.Len() + 2) * numRows)
	for i := range numRows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(row.String())
	}

	return fmt.Sprintf(template, sb.String())
}
