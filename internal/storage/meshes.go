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
	"time"
)

// language=SQL
const (
	selectMeshSQL = `SELECT blob FROM meshes WHERE name = ? AND source = ?`
	touchMeshSQL  = `UPDATE meshes SET last_access = ? WHERE name = ? AND source = ?`
	upsertMeshSQL = `INSERT INTO meshes(name, source, blob, size, updated_at, last_access) VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, source) DO UPDATE SET blob=excluded.blob, size=excluded.size,
		updated_at=excluded.updated_at, last_access=excluded.last_access`
	deleteMeshesForNameSQL = `DELETE FROM meshes WHERE name = ? AND source <> ?`
	totalMeshBytesSQL      = `SELECT COALESCE(SUM(size),0) FROM meshes`
	oldestMeshSQL          = `SELECT name, source, size FROM meshes ORDER BY COALESCE(last_access, updated_at) ASC LIMIT 1`
	deleteMeshSQL          = `DELETE FROM meshes WHERE name = ? AND source = ?`
)

// accessLayout sorts lexically in time order.
const accessLayout = "2006-01-02T15:04:05.000000000Z"

// GetMesh returns the cached decoded mesh blob for name produced from source.
// source fingerprints the bytes the mesh was decoded from.
func (c *Cache) GetMesh(ctx context.Context, name, source string) ([]byte, bool, error) {
	var blob []byte
	err := c.db.QueryRowContext(ctx, selectMeshSQL, name, source).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read mesh %s: %w", name, err)
	}
	_, _ = c.db.ExecContext(ctx, touchMeshSQL, time.Now().UTC().Format(accessLayout), name, source)
	return blob, true, nil
}

// PutMesh stores blob for name and drops blobs of the same name decoded from other sources.
func (c *Cache) PutMesh(ctx context.Context, name, source string, blob []byte) error {
	now := time.Now().UTC().Format(accessLayout)
	if _, err := c.db.ExecContext(ctx, upsertMeshSQL, name, source, blob, len(blob), now, now); err != nil {
		return fmt.Errorf("store mesh %s: %w", name, err)
	}
	if _, err := c.db.ExecContext(ctx, deleteMeshesForNameSQL, name, source); err != nil {
		return fmt.Errorf("drop old mesh %s: %w", name, err)
	}
	return nil
}

// TrimMeshes deletes least recently used meshes until the cached total is at most maxBytes.
// It returns the number of deleted blobs.
func (c *Cache) TrimMeshes(ctx context.Context, maxBytes int64) (int, error) {
	var total int64
	if err := c.db.QueryRowContext(ctx, totalMeshBytesSQL).Scan(&total); err != nil {
		return 0, fmt.Errorf("sum mesh sizes: %w", err)
	}
	n := 0
	for total > maxBytes {
		var name, source string
		var size int64
		if err := c.db.QueryRowContext(ctx, oldestMeshSQL).Scan(&name, &source, &size); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				break
			}
			return n, fmt.Errorf("find oldest mesh: %w", err)
		}
		if _, err := c.db.ExecContext(ctx, deleteMeshSQL, name, source); err != nil {
			return n, fmt.Errorf("delete mesh: %w", err)
		}
		total -= size
		n++
	}
	return n, nil
}
