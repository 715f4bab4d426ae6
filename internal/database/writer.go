// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"context"
	"database/sql"
)

type writeReq struct {
	ctx    context.Context
	query  string
	args   []any
	result chan writeResult
}

type writeResult struct {
	res sql.Result
	err error
}

func (db *DB) enqueueWrite(ctx context.Context, query string, args []any) (sql.Result, error) {
	if db.stopping.Load() {
		return nil, errStopping
	}

	req := writeReq{ctx: ctx, query: query, args: args, result: make(chan writeResult, 1)}
	select {
	case db.writes <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-db.stop:
		return nil, errStopping
	}

	out := <-req.result
	return out.res, out.err
}

// writer executes queued writes one at a time. After stop it drains what is
// already queued and returns.
func (db *DB) writer() {
	defer db.writerWG.Done()

	for {
		select {
		case req := <-db.writes:
			db.execWrite(req)
		case <-db.stop:
			for {
				select {
				case req := <-db.writes:
					db.execWrite(req)
				default:
					return
				}
			}
		}
	}
}

func (db *DB) execWrite(req writeReq) {
	var out writeResult
	if s, err := db.stmt(req.ctx, req.query); err == nil {
		out.res, out.err = s.ExecContext(req.ctx, req.args...)
	} else {
		out.res, out.err = db.conn.ExecContext(req.ctx, req.query, req.args...)
	}
	recordQueuedWrite(out.err)

	req.result <- out
}
