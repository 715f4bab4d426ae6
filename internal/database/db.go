// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package database provides the SQLite layer backing the record store.
//
// Single statement writes go through ExecContext and are executed in order
// by one writer goroutine. Multi statement writes use BeginTx: a write
// transaction runs on a dedicated connection and holds txMu until it ends,
// so the record store can treat "audit entry + record + episodes" as one
// unit without another transaction interleaving on that connection.
//
// Reads use the pool with a TTL cache of prepared statements. WAL mode lets
// them proceed while a write transaction is open.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"
	"modernc.org/sqlite"

	"github.com/anisync/anisync/internal/dbinterface"
)

const (
	busyTimeout  = 5 * time.Second
	setupTimeout = 5 * time.Second
	stmtTTL      = 5 * time.Minute
	writeBacklog = 256
)

var errStopping = errors.New("database: stopping")

type DB struct {
	conn      *sql.DB
	writeConn *sql.Conn
	stmts     *ttlcache.Cache[string, *sql.Stmt]

	writes   chan writeReq
	writerWG sync.WaitGroup

	txMu sync.Mutex

	stop      chan struct{}
	stopping  atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var hookOnce sync.Once

// connectionPragmas run on every new pooled connection and once on open.
func connectionPragmas() []string {
	return []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
	}
}

func applyConnectionPragmas(ctx context.Context, exec func(ctx context.Context, stmt string) error) error {
	for _, pragma := range connectionPragmas() {
		if err := exec(ctx, pragma); err != nil {
			return fmt.Errorf("apply connection pragma %q: %w", pragma, err)
		}
	}
	return nil
}

func registerConnectionHook() {
	hookOnce.Do(func() {
		sqlite.RegisterConnectionHook(func(conn sqlite.ExecQuerierContext, _ string) error {
			ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
			defer cancel()

			return applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
				_, err := conn.ExecContext(ctx, stmt, nil)
				return err
			})
		})
	})
}

// New opens the database at databasePath, applies pending migrations and
// starts the writer.
func New(databasePath string) (*DB, error) {
	log.Info().Msgf("Initializing database at: %s", databasePath)

	if err := os.MkdirAll(filepath.Dir(databasePath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	registerConnectionHook()

	conn, err := sql.Open("sqlite", databasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}

	// One connection while migrating so no pooled connection caches the old schema.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	db := &DB{
		conn:   conn,
		writes: make(chan writeReq, writeBacklog),
		stop:   make(chan struct{}),
		stmts: ttlcache.New(ttlcache.Options[string, *sql.Stmt]{}.
			SetDefaultTTL(stmtTTL).
			SetDeallocationFunc(func(_ string, s *sql.Stmt, _ ttlcache.DeallocationReason) {
				if s != nil {
					_ = s.Close()
				}
			})),
	}

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	err = applyConnectionPragmas(ctx, func(ctx context.Context, stmt string) error {
		_, err := conn.ExecContext(ctx, stmt)
		return err
	})
	if err == nil {
		err = db.migrate(ctx)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	conn.SetMaxOpenConns(0)
	conn.SetMaxIdleConns(2)

	writeConn, err := conn.Conn(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to acquire write connection: %w", err)
	}
	db.writeConn = writeConn

	db.writerWG.Add(1)
	go db.writer()

	log.Info().Msgf("Database initialized successfully at: %s", databasePath)

	return db, nil
}

// stmt returns a cached prepared statement for query. Two concurrent misses
// may both prepare; the overwritten one is closed on eviction.
func (db *DB) stmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if s, ok := db.stmts.Get(query); ok && s != nil {
		return s, nil
	}

	s, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	db.stmts.Set(query, s, ttlcache.DefaultTTL)
	return s, nil
}

// isWriteQuery reports whether the leading keyword of query mutates data.
func isWriteQuery(query string) bool {
	q := strings.ToUpper(strings.TrimLeftFunc(query, unicode.IsSpace))
	for _, kw := range []string{"INSERT", "UPDATE", "UPSERT", "REPLACE", "DELETE"} {
		if strings.HasPrefix(q, kw) {
			return true
		}
	}
	return false
}

// ExecContext queues writes for the writer goroutine and runs anything else
// directly. Use QueryRowContext for statements with RETURNING.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if !isWriteQuery(query) {
		if s, err := db.stmt(ctx, query); err == nil {
			return s.ExecContext(ctx, args...)
		}
		return db.conn.ExecContext(ctx, query, args...)
	}
	return db.enqueueWrite(ctx, query, args)
}

func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s, err := db.stmt(ctx, query); err == nil {
		return s.QueryContext(ctx, args...)
	}
	return db.conn.QueryContext(ctx, query, args...)
}

func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if s, err := db.stmt(ctx, query); err == nil {
		return s.QueryRowContext(ctx, args...)
	}
	return db.conn.QueryRowContext(ctx, query, args...)
}

// BeginTx starts a transaction. Read-only transactions come from the pool and
// run concurrently; write transactions take the dedicated connection and
// hold txMu until Commit or Rollback.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (dbinterface.TxQuerier, error) {
	if opts != nil && opts.ReadOnly {
		tx, err := db.conn.BeginTx(ctx, opts)
		if err != nil {
			return nil, err
		}
		return &Tx{tx: tx, db: db}, nil
	}

	if db.stopping.Load() {
		return nil, errStopping
	}

	db.txMu.Lock()

	tx, err := db.writeConn.BeginTx(ctx, opts)
	if err != nil && strings.Contains(err.Error(), "cannot start a transaction within a transaction") {
		recordBeginTxRecovery()
		log.Warn().Err(err).Msg("database: write connection left inside BEGIN, rolling back and retrying")
		if _, rbErr := db.writeConn.ExecContext(ctx, "ROLLBACK"); rbErr != nil {
			log.Error().Err(rbErr).Msg("database: recovery rollback failed")
		}
		tx, err = db.writeConn.BeginTx(ctx, opts)
	}
	if err != nil {
		db.txMu.Unlock()
		return nil, err
	}

	return &Tx{tx: tx, db: db, release: db.txMu.Unlock}, nil
}

// Close drains queued writes and closes every connection. Safe to call twice.
func (db *DB) Close() error {
	db.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
		defer cancel()
		if _, err := db.conn.ExecContext(ctx, "PRAGMA optimize"); err != nil {
			log.Warn().Err(err).Msg("database: PRAGMA optimize failed during close")
		}

		db.stopping.Store(true)
		close(db.stop)
		db.writerWG.Wait()

		db.stmts.Close()

		if db.writeConn != nil {
			if err := db.writeConn.Close(); err != nil {
				log.Warn().Err(err).Msg("database: failed to close write connection")
			}
		}
		db.closeErr = db.conn.Close()
	})

	return db.closeErr
}

// Conn exposes the read pool for health checks and tooling.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Tx caches prepared statements for Exec and releases the write lock once.
type Tx struct {
	tx      *sql.Tx
	db      *DB
	release func()
	done    atomic.Bool
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s, err := t.db.stmt(ctx, query)
	if err != nil {
		return t.tx.ExecContext(ctx, query, args...)
	}

	txStmt := t.tx.StmtContext(ctx, s)
	defer txStmt.Close()
	return txStmt.ExecContext(ctx, args...)
}

// QueryContext does not use the statement cache: the rows outlive the call,
// so a tx-bound statement could not be closed here.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, query, args...)
}

func (t *Tx) Commit() error {
	defer t.finish()
	return t.tx.Commit()
}

// Rollback after Commit only returns sql.ErrTxDone.
func (t *Tx) Rollback() error {
	defer t.finish()
	return t.tx.Rollback()
}

func (t *Tx) finish() {
	if t.done.CompareAndSwap(false, true) && t.release != nil {
		t.release()
	}
}
