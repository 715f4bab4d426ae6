// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"errors"

	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// sqlScanner is satisfied by *sql.Row and *sql.Rows.
type sqlScanner interface {
	Scan(dest ...any) error
}

// sqliteCode returns the extended result code carried by err, if any.
func sqliteCode(err error) (int, bool) {
	var sqlErr *sqlite.Error
	if err == nil || !errors.As(err, &sqlErr) {
		return 0, false
	}
	return sqlErr.Code(), true
}

// isUniqueConstraintError reports a duplicate (provider, id) key or a second
// record claiming the same canonical id.
func isUniqueConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && (code == sqlitelib.SQLITE_CONSTRAINT_UNIQUE || code == sqlitelib.SQLITE_CONSTRAINT_PRIMARYKEY)
}

// isForeignKeyConstraintError reports an episode row whose parent record is gone.
func isForeignKeyConstraintError(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlitelib.SQLITE_CONSTRAINT_FOREIGNKEY
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
