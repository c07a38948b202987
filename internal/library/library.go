/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package library is the piece content store: it resolves part names to shared PieceInfo
// records and decodes their geometry on a bounded worker pool. Part files come from a project
// folder, official and unofficial zip archives, and an optional parts directory, in that order.
// Archive indexes and decoded meshes are cached on disk through the storage package.
package library

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "brickcad/internal/log"
	"brickcad/internal/storage"
)

var (
	ErrNotFound            = errors.New("piece not found")
	ErrUnresolvedPart      = errors.New("unresolved part")
	ErrArchiveEntryCorrupt = errors.New("archive entry corrupt")
	ErrCanceled            = errors.New("library load canceled")
)

// Options configures where parts are searched and how many decode workers run.
type Options struct {
	OfficialArchive   string
	UnofficialArchive string
	PartsDir          string
	ProjectFolder     string
	// CacheDir holds the archive index and mesh cache. Empty disables caching.
	CacheDir string
	// Workers defaults to the number of CPUs.
	Workers int
	// MeshCacheMaxBytes caps the decoded mesh cache; least recently used meshes go first
	// on Load and Close. Zero keeps every mesh.
	MeshCacheMaxBytes int64
}

// PartEntry describes one top-level library part.
type PartEntry struct {
	Name        string
	Description string
}

// Stats is a snapshot of the store for diagnostics.
type Stats struct {
	Records  int
	Loaded   int
	Missing  int
	Queued   int
	InFlight int
	Parts    int
}

// Library is safe for concurrent use. Only its workers and its own methods touch the
// name→record map.
type Library struct {
	opts  Options
	log   *slog.Logger
	cache *storage.Cache

	// mu guards pieces, queue, inflight, closed and every PieceInfo.done.
	mu       sync.Mutex
	cond     *sync.Cond
	pieces   map[string]*PieceInfo
	queue    []*PieceInfo
	inflight map[*PieceInfo]struct{}
	closed   bool
	wg       sync.WaitGroup

	srcMu   sync.RWMutex
	sources map[string]map[string]source

	primMu    sync.Mutex
	primCache map[string]*Mesh

	cancel atomic.Bool

	texMu    sync.Mutex
	texQueue []Texture
	texSeen  map[string]bool
}

// New creates a library and starts its workers. Sources are empty until Load.
func New(opts Options) (*Library, error) {
	l := &Library{
		opts:      opts,
		log:       applog.WithComponent("library"),
		pieces:    make(map[string]*PieceInfo),
		inflight:  make(map[*PieceInfo]struct{}),
		sources:   newSourceTables(),
		primCache: make(map[string]*Mesh),
		texSeen:   make(map[string]bool),
	}
	l.cond = sync.NewCond(&l.mu)
	if opts.CacheDir != "" {
		c, rebuilt, err := storage.DetectAndRebuild(context.Background(), opts.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("open library cache: %w", err)
		}
		if rebuilt {
			l.log.Warn("library cache was rebuilt", slog.String("path", c.Path()))
		}
		l.cache = c
	}
	n := opts.Workers
	if n <= 0 {
		n = runtime.NumCPU()
	}
	for i := 0; i < n; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l, nil
}

func newSourceTables() map[string]map[string]source {
	return map[string]map[string]source{
		storage.KindPart:      {},
		storage.KindPrimitive: {},
		storage.KindTexture:   {},
	}
}

// Close stops the workers. Pending loads are abandoned and their waiters released.
func (l *Library) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for _, info := range l.queue {
		info.state.Store(int32(NotLoaded))
		close(info.done)
		info.done = nil
	}
	l.queue = nil
	l.cond.Broadcast()
	l.mu.Unlock()
	l.wg.Wait()
	l.trimCache()
	return l.cache.Close()
}

func (l *Library) trimCache() {
	if l.cache == nil || l.opts.MeshCacheMaxBytes <= 0 {
		return
	}
	n, err := l.cache.TrimMeshes(context.Background(), l.opts.MeshCacheMaxBytes)
	if err != nil {
		l.log.Warn("mesh cache trim failed", slog.Any("err", err))
		return
	}
	if n > 0 {
		l.log.Debug("mesh cache trimmed", slog.Int("meshes", n), slog.Int64("max_bytes", l.opts.MeshCacheMaxBytes))
	}
}

// Load (re)builds the source tables from the configured archives and parts directory.
// Archive indexes are reused from the cache when the archive checksum is unchanged.
// CancelLoad or ctx cancellation aborts the scan with ErrCanceled and keeps the previous tables.
func (l *Library) Load(ctx context.Context) error {
	if ctx.Err() != nil {
		return ErrCanceled
	}
	l.cancel.Store(false)
	stop := context.AfterFunc(ctx, l.CancelLoad)
	defer stop()

	log := applog.WithOperation(l.log, "load")
	start := time.Now()
	tables := newSourceTables()
	add := func(s source) {
		t := tables[s.kind]
		if _, dup := t[s.entry.Name]; !dup {
			t[s.entry.Name] = s
		}
	}
	for _, archive := range []string{l.opts.OfficialArchive, l.opts.UnofficialArchive} {
		if archive == "" {
			continue
		}
		entries, sum, err := l.archiveIndex(ctx, archive)
		if errors.Is(err, ErrCanceled) {
			return err
		}
		if err != nil {
			log.Error("archive skipped", slog.String("archive", archive), slog.Any("err", err))
			continue
		}
		for _, e := range entries {
			add(source{kind: e.Kind, archive: archive, entry: e, description: e.Description, fingerprint: sum + ":" + e.ZipName})
		}
	}
	if l.opts.PartsDir != "" {
		srcs, err := scanDir(l.opts.PartsDir, &l.cancel)
		if errors.Is(err, ErrCanceled) {
			return err
		}
		if err != nil {
			log.Error("parts directory skipped", slog.String("dir", l.opts.PartsDir), slog.Any("err", err))
		}
		for _, s := range srcs {
			add(s)
		}
	}
	if l.cancel.Load() {
		return ErrCanceled
	}

	l.srcMu.Lock()
	l.sources = tables
	l.srcMu.Unlock()
	l.primMu.Lock()
	clear(l.primCache)
	l.primMu.Unlock()

	// Placeholders created before the tables existed get another chance.
	l.mu.Lock()
	retried := 0
	for _, info := range l.pieces {
		if info.Missing() && info.State() == Loaded && !info.IsModel() {
			info.state.Store(int32(NotLoaded))
			info.missing.Store(false)
			l.enqueueLocked(info, false)
			retried++
		}
	}
	l.mu.Unlock()

	l.trimCache()

	log.Info("library loaded",
		slog.Int("parts", len(tables[storage.KindPart])),
		slog.Int("primitives", len(tables[storage.KindPrimitive])),
		slog.Int("textures", len(tables[storage.KindTexture])),
		slog.Int("retried", retried),
		slog.Duration("took", time.Since(start)))
	return nil
}

// CancelLoad asks a running Load to stop at its next poll. Decodes already started finish.
func (l *Library) CancelLoad() { l.cancel.Store(true) }

func (l *Library) archiveIndex(ctx context.Context, archive string) ([]storage.ArchiveEntry, string, error) {
	sum, err := storage.FileChecksum(archive)
	if err != nil {
		return nil, "", err
	}
	if l.cache != nil {
		entries, err := l.cache.LoadArchiveIndex(ctx, archive, sum)
		if err == nil {
			l.log.Debug("archive index reused", slog.String("archive", archive), slog.Int("entries", len(entries)))
			return entries, sum, nil
		}
		if errors.Is(err, storage.ErrCacheIndexStale) {
			l.log.Info("archive index stale; rescanning", slog.String("archive", archive))
		} else {
			l.log.Warn("archive index unreadable; rescanning", slog.String("archive", archive), slog.Any("err", err))
		}
	}
	entries, err := scanArchive(archive, &l.cancel)
	if err != nil {
		return nil, "", err
	}
	if l.cache != nil {
		if err := l.cache.ReplaceArchiveIndex(ctx, archive, sum, entries); err != nil {
			l.log.Warn("archive index not stored", slog.String("archive", archive), slog.Any("err", err))
		}
	}
	return entries, sum, nil
}

func (l *Library) lookup(kind, name string) (source, bool) {
	l.srcMu.RLock()
	defer l.srcMu.RUnlock()
	s, ok := l.sources[kind][name]
	return s, ok
}

func (l *Library) readSource(s source) ([]byte, error) {
	if s.archive != "" {
		return readEntry(s.archive, s.entry)
	}
	return os.ReadFile(s.path)
}

// Resolve returns a handle to the record for name (case-insensitive). A known record is
// returned as is. An unknown name gets a new record when a library file backs it, or, with
// allowPlaceholder, an empty placeholder whose search runs in the background. Otherwise
// ErrNotFound is returned. searchProjectFolder prefers a file of that name in the project folder
// when the record is created. Records are keyed by the normalized name only.
func (l *Library) Resolve(name string, allowPlaceholder, searchProjectFolder bool) (*Handle, error) {
	key := NormalizeName(name)
	if key == "" {
		return nil, ErrNotFound
	}
	l.mu.Lock()
	if info, ok := l.pieces[key]; ok {
		l.mu.Unlock()
		return &Handle{info: info}, nil
	}
	l.mu.Unlock()

	projectPath := ""
	if searchProjectFolder && l.opts.ProjectFolder != "" {
		projectPath = findFileFold(l.opts.ProjectFolder, key)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.pieces[key]; ok {
		return &Handle{info: info}, nil
	}
	info := &PieceInfo{name: key, projectPath: projectPath}
	if projectPath == "" {
		src, found := l.lookup(storage.KindPart, key)
		if !found && !allowPlaceholder {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		info.description = src.description
		if !found {
			l.enqueueLocked(info, false)
		}
	}
	l.pieces[key] = info
	return &Handle{info: info}, nil
}

// findFileFold returns the file under root whose slash-separated relative path matches rel
// ignoring case, or "".
func findFileFold(root, rel string) string {
	dir := root
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if part == "" || part == "." || part == ".." {
			return ""
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return ""
		}
		match := ""
		for _, e := range entries {
			if !strings.EqualFold(e.Name(), part) || e.IsDir() != (i < len(parts)-1) {
				continue
			}
			// an exact match wins over a case variant
			if match == "" || e.Name() == part {
				match = e.Name()
			}
		}
		if match == "" {
			return ""
		}
		dir = filepath.Join(dir, match)
	}
	return dir
}

// LoadGeometry takes a load reference on h's record and queues its decode if needed.
// With wait the call blocks until the geometry is available. priority queues ahead of
// pending work but never preempts a running decode.
func (l *Library) LoadGeometry(h *Handle, wait, priority bool) {
	if h == nil || h.released.Load() {
		return
	}
	h.loads.Add(1)
	h.info.loadRefs.Add(1)
	l.mu.Lock()
	done := l.enqueueLocked(h.info, priority)
	l.mu.Unlock()
	if wait && done != nil {
		<-done
	}
}

// ReleaseGeometry returns one load reference taken through h. Nothing is freed until Sweep.
func (l *Library) ReleaseGeometry(h *Handle) {
	if h == nil {
		return
	}
	for {
		n := h.loads.Load()
		if n <= 0 {
			return
		}
		if h.loads.CompareAndSwap(n, n-1) {
			h.info.loadRefs.Add(-1)
			return
		}
	}
}

// enqueueLocked schedules a decode of info unless it is loaded, loading or model backed,
// and returns the channel closed when the load completes.
func (l *Library) enqueueLocked(info *PieceInfo, priority bool) chan struct{} {
	if info.IsModel() || l.closed {
		return nil
	}
	switch info.State() {
	case Loaded:
		return nil
	case Loading:
		if priority {
			for i, q := range l.queue {
				if q == info {
					copy(l.queue[1:i+1], l.queue[:i])
					l.queue[0] = info
					break
				}
			}
		}
		return info.done
	}
	info.state.Store(int32(Loading))
	info.done = make(chan struct{})
	if priority {
		l.queue = append([]*PieceInfo{info}, l.queue...)
	} else {
		l.queue = append(l.queue, info)
	}
	l.cond.Broadcast()
	return info.done
}

// WaitForAllLoads blocks until the queue is empty and no decode is running.
func (l *Library) WaitForAllLoads() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for (len(l.queue) > 0 || len(l.inflight) > 0) && !l.closed {
		l.cond.Wait()
	}
}

// Sweep frees the geometry of every record without load references. Records stay mapped so a
// later Resolve is a hit that only needs a new decode. Model-backed records are never swept.
// It returns the number of records freed.
func (l *Library) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, info := range l.pieces {
		if info.loadRefs.Load() > 0 || info.IsModel() || info.State() != Loaded {
			continue
		}
		info.geom.Store(nil)
		info.missing.Store(false)
		info.state.Store(int32(NotLoaded))
		n++
	}
	l.primMu.Lock()
	clear(l.primCache)
	l.primMu.Unlock()
	if n > 0 {
		l.log.Debug("swept unused geometry", slog.Int("records", n))
	}
	return n
}

// IsPrimitiveName reports whether name is a primitive of the loaded library.
func (l *Library) IsPrimitiveName(name string) bool {
	_, ok := l.lookup(storage.KindPrimitive, NormalizeName(name))
	return ok
}

// RegisterModel makes m placeable under name. An existing record of that name is reused so
// handles already held by documents see the model.
func (l *Library) RegisterModel(name string, m Submodel) *PieceInfo {
	key := NormalizeName(name)
	l.mu.Lock()
	defer l.mu.Unlock()
	info, ok := l.pieces[key]
	if !ok {
		info = &PieceInfo{name: key, description: m.Name()}
		l.pieces[key] = info
	}
	info.model.Store(&modelRef{m: m})
	info.geom.Store(nil)
	info.missing.Store(false)
	info.state.Store(int32(Loaded))
	return info
}

// UnregisterModel detaches the model from name. The record stays for library lookups.
func (l *Library) UnregisterModel(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.pieces[NormalizeName(name)]; ok && info.IsModel() {
		info.model.Store(nil)
		info.state.Store(int32(NotLoaded))
	}
}

// Parts lists the top-level parts of the loaded library sorted by name.
func (l *Library) Parts() []PartEntry {
	l.srcMu.RLock()
	out := make([]PartEntry, 0, len(l.sources[storage.KindPart]))
	for name, s := range l.sources[storage.KindPart] {
		if strings.Contains(name, "/") {
			continue
		}
		out = append(out, PartEntry{Name: name, Description: s.description})
	}
	l.srcMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Description returns the title of a part, falling back to the name.
func (l *Library) Description(name string) string {
	key := NormalizeName(name)
	if s, ok := l.lookup(storage.KindPart, key); ok && s.description != "" {
		return s.description
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if info, ok := l.pieces[key]; ok {
		return info.Description()
	}
	return key
}

func (l *Library) Stats() Stats {
	l.mu.Lock()
	st := Stats{Records: len(l.pieces), Queued: len(l.queue), InFlight: len(l.inflight)}
	for _, info := range l.pieces {
		if info.State() == Loaded {
			st.Loaded++
		}
		if info.Missing() {
			st.Missing++
		}
	}
	l.mu.Unlock()
	l.srcMu.RLock()
	st.Parts = len(l.sources[storage.KindPart])
	l.srcMu.RUnlock()
	return st
}
