// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package testdb hands out migrated SQLite databases for tests. Migrations
// run once per key into a template file; each test gets a copy.
package testdb

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"

	"github.com/anisync/anisync/internal/database"
)

var (
	templatesMu sync.Mutex
	templates   = make(map[string]func() (string, error))

	unsafeKeyChars = regexp.MustCompile(`[^A-Za-z0-9]+`)
)

// Open returns a migrated database for the test, closed on cleanup.
func Open(t *testing.T, key string) *database.DB {
	t.Helper()

	db, err := database.New(PathFromTemplate(t, key, "test.db"))
	if err != nil {
		t.Fatalf("testdb: open %q: %v", key, err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("testdb: close %q: %v", key, err)
		}
	})

	return db
}

// PathFromTemplate copies the template for key into the test's temp dir and
// returns the copy's path.
func PathFromTemplate(t *testing.T, key, filename string) string {
	t.Helper()

	src, err := template(key)()
	if err != nil {
		t.Fatalf("testdb: template %q: %v", key, err)
	}

	dst := filepath.Join(t.TempDir(), filename)
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("testdb: clone %q: %v", key, err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		err := copyFile(src+suffix, dst+suffix)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			t.Fatalf("testdb: clone %q%s: %v", key, suffix, err)
		}
	}

	return dst
}

func template(key string) func() (string, error) {
	templatesMu.Lock()
	defer templatesMu.Unlock()

	build, ok := templates[key]
	if !ok {
		build = sync.OnceValues(func() (string, error) { return buildTemplate(key) })
		templates[key] = build
	}
	return build
}

func buildTemplate(key string) (string, error) {
	name := unsafeKeyChars.ReplaceAllString(key, "-")
	if name == "" || name == "-" {
		name = "testdb"
	}

	dir, err := os.MkdirTemp("", "anisync-"+name+"-template-")
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, "template.db")
	db, err := database.New(path)
	if err != nil {
		return "", err
	}
	if err := db.Close(); err != nil {
		return "", err
	}

	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
