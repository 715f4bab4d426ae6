// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package httphelpers holds small helpers shared by the outbound clients and the HTTP server.
package httphelpers

import (
	"io"
	"net/http"
	"strings"
)

// DrainAndClose consumes the remaining response body and closes it to allow connection reuse.
func DrainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// ReadErrorBody returns at most limit bytes of the body, trimmed, for error messages.
func ReadErrorBody(resp *http.Response, limit int64) string {
	if resp == nil || resp.Body == nil {
		return ""
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, limit))
	return strings.TrimSpace(string(body))
}

// NormalizeBasePath turns a configured baseUrl into "" or "/segment[/segment]".
func NormalizeBasePath(basePath string) string {
	p := strings.Trim(strings.TrimSpace(basePath), "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
