/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package library

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"brickcad/internal/storage"
)

func (l *Library) worker() {
	defer l.wg.Done()
	for {
		l.mu.Lock()
		for len(l.queue) == 0 && !l.closed {
			l.cond.Wait()
		}
		if l.closed {
			l.mu.Unlock()
			return
		}
		info := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.inflight[info] = struct{}{}
		l.mu.Unlock()

		l.decode(info)

		l.mu.Lock()
		delete(l.inflight, info)
		info.state.Store(int32(Loaded))
		if info.done != nil {
			close(info.done)
			info.done = nil
		}
		l.cond.Broadcast()
		l.mu.Unlock()
	}
}

// decode fills info's geometry. Failures leave an empty, missing placeholder.
func (l *Library) decode(info *PieceInfo) {
	if info.IsModel() {
		return
	}
	log := l.log.With(slog.String("piece", info.name))
	src, ok := l.sourceFor(info)
	if !ok {
		log.Warn("placeholder substituted", slog.Any("err", ErrUnresolvedPart))
		info.setGeometry(nil, true)
		return
	}
	m, err := l.loadMesh(info.name, src)
	if err != nil {
		log.Error("piece not decoded", slog.Any("err", err))
		info.setGeometry(nil, true)
		return
	}
	info.setGeometry(m, false)
	if len(m.Textures) > 0 {
		l.queueTextures(m.Textures)
	}
}

func (l *Library) sourceFor(info *PieceInfo) (source, bool) {
	if info.projectPath != "" {
		st, err := os.Stat(info.projectPath)
		if err != nil {
			return source{}, false
		}
		return source{
			kind:        storage.KindPart,
			path:        info.projectPath,
			fingerprint: fmt.Sprintf("file:%s:%d:%d", info.projectPath, st.Size(), st.ModTime().UnixNano()),
		}, true
	}
	return l.lookup(storage.KindPart, info.name)
}

// loadMesh returns the internal-basis mesh for src, preferring the decode cache.
func (l *Library) loadMesh(name string, src source) (*Mesh, error) {
	ctx := context.Background()
	if l.cache != nil && src.fingerprint != "" {
		blob, ok, err := l.cache.GetMesh(ctx, name, src.fingerprint)
		switch {
		case err != nil:
			l.log.Warn("mesh cache read failed", slog.String("piece", name), slog.Any("err", err))
		case ok:
			if m, err := decodeMeshBlob(blob); err == nil {
				return m, nil
			}
			l.log.Warn("cached mesh discarded", slog.String("piece", name))
		}
	}
	data, err := l.readSource(src)
	if err != nil {
		return nil, err
	}
	m, err := parseGeometry(data, l.fetchSubfile, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveEntryCorrupt, err)
	}
	m.toInternal()
	if l.cache != nil && src.fingerprint != "" {
		if blob, err := encodeMesh(m); err == nil {
			if err := l.cache.PutMesh(ctx, name, src.fingerprint, blob); err != nil {
				l.log.Warn("mesh cache write failed", slog.String("piece", name), slog.Any("err", err))
			}
		}
	}
	return m, nil
}

// fetchSubfile returns a referenced primitive or sub-part in the file basis. Results are
// memoized until the next Sweep or Load.
func (l *Library) fetchSubfile(name string, depth int) (*Mesh, error) {
	key := NormalizeName(name)
	l.primMu.Lock()
	m, ok := l.primCache[key]
	l.primMu.Unlock()
	if ok {
		return m, nil
	}
	src, found := l.lookup(storage.KindPrimitive, key)
	if !found {
		src, found = l.lookup(storage.KindPart, key)
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := l.readSource(src)
	if err != nil {
		return nil, err
	}
	m, err = parseGeometry(data, l.fetchSubfile, depth)
	if err != nil {
		return nil, err
	}
	l.primMu.Lock()
	l.primCache[key] = m
	l.primMu.Unlock()
	return m, nil
}
