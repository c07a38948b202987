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
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Entry kinds stored in archive_entries.kind.
const (
	KindPart      = "part"
	KindPrimitive = "primitive"
	KindTexture   = "texture"
)

// ArchiveEntry locates one file inside a zip archive without reopening its central directory.
// Offset points at the first byte of the entry's compressed data.
type ArchiveEntry struct {
	Name           string
	ZipName        string
	Kind           string
	Offset         int64
	CompressedSize int64
	Size           int64
	Method         uint16
	Description    string
}

// language=SQL
const (
	selectArchiveChecksumSQL = `SELECT checksum FROM archives WHERE path = ?`
	selectArchiveEntriesSQL  = `SELECT name, zip_name, kind, offset, csize, usize, method, COALESCE(description,'')
		FROM archive_entries WHERE archive = ? ORDER BY kind, name`
	deleteArchiveSQL      = `DELETE FROM archives WHERE path = ?`
	deleteArchiveEntrySQL = `DELETE FROM archive_entries WHERE archive = ?`
	insertArchiveSQL      = `INSERT INTO archives(path, checksum, entries, scanned_at) VALUES(?, ?, ?, ?)`
	insertArchiveEntrySQL = `INSERT OR REPLACE INTO archive_entries(archive, name, zip_name, kind, offset, csize, usize, method, description)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`
)

// FileChecksum returns the hex SHA-256 of the file at path.
func FileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadArchiveIndex returns the stored index for archive when it was recorded with checksum.
// A missing or mismatching record yields ErrCacheIndexStale.
func (c *Cache) LoadArchiveIndex(ctx context.Context, archive, checksum string) ([]ArchiveEntry, error) {
	var stored string
	err := c.db.QueryRowContext(ctx, selectArchiveChecksumSQL, archive).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheIndexStale
	}
	if err != nil {
		return nil, fmt.Errorf("read archive checksum: %w", err)
	}
	if stored != checksum {
		return nil, ErrCacheIndexStale
	}
	rows, err := c.db.QueryContext(ctx, selectArchiveEntriesSQL, archive)
	if err != nil {
		return nil, fmt.Errorf("query archive entries: %w", err)
	}
	defer rows.Close()
	var out []ArchiveEntry
	for rows.Next() {
		var e ArchiveEntry
		if err := rows.Scan(&e.Name, &e.ZipName, &e.Kind, &e.Offset, &e.CompressedSize, &e.Size, &e.Method, &e.Description); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ReplaceArchiveIndex atomically swaps the stored index of archive for entries.
func (c *Cache) ReplaceArchiveIndex(ctx context.Context, archive, checksum string, entries []ArchiveEntry) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteArchiveEntrySQL, archive); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, deleteArchiveSQL, archive); err != nil {
		return fmt.Errorf("clear archive: %w", err)
	}
	if _, err := tx.ExecContext(ctx, insertArchiveSQL, archive, checksum, len(entries), time.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("insert archive: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertArchiveEntrySQL)
	if err != nil {
		return fmt.Errorf("prepare entry insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, archive, e.Name, e.ZipName, e.Kind, e.Offset, e.CompressedSize, e.Size, e.Method, e.Description); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.Name, err)
		}
	}
	return tx.Commit()
}
