// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"encoding/json"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStringListsEachField(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Version: dev\nCommit: \nBuild date: \n", String())
}

func TestJSONMatchesVariables(t *testing.T) {
	t.Parallel()

	data, err := JSON()
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, map[string]string{
		"version": Version,
		"commit":  Commit,
		"date":    Date,
	}, got)
}

func TestUserAgentIdentifiesPlatform(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "anisync/dev ("+runtime.GOOS+" "+runtime.GOARCH+")", UserAgent)
}
