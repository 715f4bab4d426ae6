// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import "errors"

var (
	// ErrNotFound means the entity does not exist locally or upstream.
	ErrNotFound = errors.New("not found")

	// ErrResolutionFailed means no provider candidate met the match threshold,
	// or the identity is already mapped to a different canonical id.
	ErrResolutionFailed = errors.New("resolution failed")

	// ErrUpstreamUnavailable wraps transport failures talking to a provider.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrCascadeFailure marks a failed downstream refresh. It is logged, never returned to callers of Update.
	ErrCascadeFailure = errors.New("cascade failure")

	// ErrAlreadyRunning is returned when a sweep is started while one is in progress.
	ErrAlreadyRunning = errors.New("indexer already running")
)
