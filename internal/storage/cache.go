/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	applog "brickcad/internal/log"
	"brickcad/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	CacheFileName = "library.sqlite"

	// schemaVersion tracks the cache schema. Bump it together with a migration step.
	schemaVersion = 2
)

var (
	// ErrCacheIndexStale reports that the stored archive index does not match the archive on disk.
	ErrCacheIndexStale = errors.New("cache index stale")
	ErrNoCacheDir      = errors.New("cache directory is required")
)

// Cache is an open library cache database.
type Cache struct {
	db   *sql.DB
	path string
	l    *slog.Logger
}

// CachePath returns the database file inside cacheDir.
func CachePath(cacheDir string) string {
	return filepath.Join(cacheDir, CacheFileName)
}

// OpenCache creates or opens the cache database in cacheDir, enables WAL and brings the schema up to date.
func OpenCache(cacheDir string) (*Cache, error) {
	l := applog.WithComponent("storage").With(slog.String("dir", cacheDir))
	if strings.TrimSpace(cacheDir) == "" {
		return nil, ErrNoCacheDir
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	path := CachePath(cacheDir)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Workers share one connection; the driver serializes access.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	for _, step := range []func(context.Context, *sql.DB) error{ensureMetaAndVersion, ensureCacheSchema, runMigrations} {
		if err := step(ctx, db); err != nil {
			_ = db.Close()
			l.Error("cache schema setup failed", slog.Any("err", err))
			return nil, err
		}
	}
	l.Debug("cache ready", slog.String("path", path))
	return &Cache{db: db, path: path, l: l}, nil
}

// Path is the database file backing c.
func (c *Cache) Path() string { return c.path }

func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func ensureMetaAndVersion(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// Fresh databases start at schema 1 and migrate forward like any other.
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, 1, ?, ?, ?)`, version.String(), now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, version.String(), now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

func ensureCacheSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS archives (
			path       TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL,
			entries    INTEGER NOT NULL DEFAULT 0,
			scanned_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS archive_entries (
			archive     TEXT    NOT NULL,
			name        TEXT    NOT NULL,
			zip_name    TEXT    NOT NULL,
			kind        TEXT    NOT NULL,
			offset      INTEGER NOT NULL,
			csize       INTEGER NOT NULL,
			usize       INTEGER NOT NULL,
			method      INTEGER NOT NULL,
			description TEXT,
			PRIMARY KEY(archive, kind, name),
			FOREIGN KEY(archive) REFERENCES archives(path) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS meshes (
			name       TEXT NOT NULL,
			source     TEXT NOT NULL,
			blob       BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY(name, source)
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure cache schema: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON;"); err != nil {
		return fmt.Errorf("enable foreign_keys: %w", err)
	}
	return nil
}

// runMigrations applies incremental schema migrations up to schemaVersion.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var cur int
	if err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for cur < schemaVersion {
		next := cur + 1
		var stmts []string
		switch next {
		case 2:
			// Mesh size and access time for LRU trimming.
			stmts = []string{
				`ALTER TABLE meshes ADD COLUMN size INTEGER NOT NULL DEFAULT 0`,
				`ALTER TABLE meshes ADD COLUMN last_access TEXT`,
				`UPDATE meshes SET size = length(blob)`,
				`CREATE INDEX IF NOT EXISTS idx_meshes_access ON meshes(last_access)`,
			}
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", next, err)
		}
		for _, q := range stmts {
			if _, err := tx.ExecContext(ctx, q); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("migration %d stmt failed: %w", next, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `UPDATE version SET schema=?, updated_at=? WHERE id=1`, next, time.Now().UTC().Format(time.RFC3339)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %d update version: %w", next, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("migration %d commit: %w", next, err)
		}
		cur = next
	}
	return nil
}

// SchemaVersion reports the schema recorded in the version table.
func (c *Cache) SchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := c.db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// DetectAndRebuild opens the cache in cacheDir, and when the file cannot be opened or fails
// PRAGMA quick_check, backs it up under <cache>/backups, deletes it and creates an empty one.
// It reports whether a rebuild happened. The caller owns the returned Cache.
func DetectAndRebuild(ctx context.Context, cacheDir string) (*Cache, bool, error) {
	l := applog.WithOperation(applog.WithComponent("storage"), "detect_rebuild")
	path := CachePath(cacheDir)
	c, err := OpenCache(cacheDir)
	if err == nil {
		var chk string
		qerr := c.db.QueryRowContext(ctx, `PRAGMA quick_check;`).Scan(&chk)
		if qerr == nil && strings.EqualFold(strings.TrimSpace(chk), "ok") {
			if _, perr := c.db.ExecContext(ctx, `SELECT 1 FROM archive_entries LIMIT 1;`); perr == nil {
				return c, false, nil
			}
		}
		_ = c.Close()
	} else if errors.Is(err, ErrNoCacheDir) {
		return nil, false, err
	}
	l.Warn("library cache unusable; rebuilding", slog.String("path", path), slog.Any("err", err))
	backupCacheFile(path)
	for _, suffix := range []string{"", "-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	c, err = OpenCache(cacheDir)
	if err != nil {
		return nil, false, fmt.Errorf("recreate cache: %w", err)
	}
	return c, true, nil
}

// backupCacheFile copies the cache file into a timestamped backup next to it.
func backupCacheFile(path string) {
	bdir := filepath.Join(filepath.Dir(path), "backups")
	_ = os.MkdirAll(bdir, 0o755)
	stamp := time.Now().Format("20060102-150405")
	if data, err := os.ReadFile(path); err == nil {
		_ = os.WriteFile(filepath.Join(bdir, fmt.Sprintf("%s.%s.bak", filepath.Base(path), stamp)), data, 0o644)
	}
}
