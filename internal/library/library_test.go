/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package library

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"brickcad/internal/storage"

	"github.com/goki/mat32"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseParts = map[string]string{
	"ldraw/parts/3001.dat":      "0 Brick  2 x  4\r\n1 16 0 0 0 1 0 0 0 1 0 0 0 1 box.dat\r\n2 24 0 0 0 40 0 0\r\n",
	"ldraw/parts/3003.dat":      "0 Brick  2 x  2\n1 4 0 0 0 1 0 0 0 1 0 0 0 1 box.dat\n",
	"ldraw/parts/s/3001s01.dat": "0 ~Brick  2 x  4 without studs\n3 16 0 0 0 1 0 0 0 1 0\n",
	"ldraw/p/box.dat":           "0 Box\n4 16 -1 -1 0 1 -1 0 1 1 0 -1 1 0\n",
}

func writeArchive(t *testing.T, path string, files map[string]string, extra map[string][]byte) {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	for name, body := range extra {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(body)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func newLoaded(t *testing.T, opts Options) *Library {
	t.Helper()
	if opts.Workers == 0 {
		opts.Workers = 2
	}
	l, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	require.NoError(t, l.Load(context.Background()))
	return l
}

func archiveLibrary(t *testing.T) (*Library, string) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	return newLoaded(t, Options{OfficialArchive: archive}), archive
}

func TestResolveIsCaseInsensitiveAndStable(t *testing.T) {
	l, _ := archiveLibrary(t)
	a, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	b, err := l.Resolve("3001.DAT", false, false)
	require.NoError(t, err)
	assert.Same(t, a.Info(), b.Info())
	assert.Equal(t, "3001.DAT", a.Name())
	assert.Equal(t, "Brick  2 x  4", a.Info().Description())
	assert.Equal(t, NotLoaded, a.Info().State())
}

func TestResolveUnknownWithoutPlaceholder(t *testing.T) {
	l, _ := archiveLibrary(t)
	_, err := l.Resolve("9999.dat", false, false)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPlaceholderIsMissingUntilLibraryLoads(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	l, err := New(Options{OfficialArchive: archive, Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	h, err := l.Resolve("3001.dat", true, false)
	require.NoError(t, err)
	l.WaitForAllLoads()
	assert.True(t, h.Info().Missing())
	assert.True(t, h.Info().BoundingBox().IsEmpty())

	require.NoError(t, l.Load(context.Background()))
	l.WaitForAllLoads()
	assert.False(t, h.Info().Missing())
	assert.False(t, h.Info().Mesh().Empty())
}

func TestLoadGeometryDecodesIntoInternalBasis(t *testing.T) {
	l, _ := archiveLibrary(t)
	h, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, false)

	info := h.Info()
	require.Equal(t, Loaded, info.State())
	m := info.Mesh()
	require.Len(t, m.Triangles, 2)
	require.Len(t, m.Lines, 1)
	assert.Equal(t, ColorMain, m.Triangles[0].Color)
	assert.Equal(t, ColorEdge, m.Lines[0].Color)

	bb := info.BoundingBox()
	assert.Equal(t, float32(-1), bb.Min.X)
	assert.Equal(t, float32(40), bb.Max.X)
	// File Y (down) maps to internal -Z; file Z maps to internal -Y.
	assert.Equal(t, float32(-1), bb.Min.Z)
	assert.Equal(t, float32(1), bb.Max.Z)
	assert.Equal(t, float32(0), bb.Max.Y)
}

func TestSubfileColorIsInherited(t *testing.T) {
	l, _ := archiveLibrary(t)
	h, err := l.Resolve("3003.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, true)
	for _, tri := range h.Info().Mesh().Triangles {
		assert.Equal(t, 4, tri.Color)
	}
}

func TestSweepFreesOnlyUnreferencedGeometry(t *testing.T) {
	l, _ := archiveLibrary(t)
	h, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, false)

	l.Sweep()
	assert.Equal(t, Loaded, h.Info().State(), "referenced geometry must survive a sweep")

	l.ReleaseGeometry(h)
	assert.Equal(t, 0, h.Info().LoadRefs())
	assert.GreaterOrEqual(t, l.Sweep(), 1)
	assert.Equal(t, NotLoaded, h.Info().State())
	assert.Nil(t, h.Info().Mesh())

	again, err := l.Resolve("3001.DAT", false, false)
	require.NoError(t, err)
	assert.Same(t, h.Info(), again.Info(), "mapping is kept after sweep")
	l.LoadGeometry(again, true, false)
	assert.Equal(t, Loaded, again.Info().State())
}

func TestHandleReleaseIsIdempotent(t *testing.T) {
	l, _ := archiveLibrary(t)
	h, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, false, false)
	l.LoadGeometry(h, true, false)
	assert.Equal(t, 2, h.Info().LoadRefs())
	h.Release()
	h.Release()
	l.ReleaseGeometry(h)
	assert.Equal(t, 0, h.Info().LoadRefs())
}

func TestArchiveIndexReusedUntilChecksumChanges(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	l := newLoaded(t, Options{OfficialArchive: archive, CacheDir: filepath.Join(dir, "cache")})

	// Plant a fake index under the current checksum: a reload must use it without rescanning.
	sum, err := storage.FileChecksum(archive)
	require.NoError(t, err)
	fake := []storage.ArchiveEntry{{Name: "FAKE.DAT", ZipName: "ldraw/parts/fake.dat", Kind: storage.KindPart, Description: "Planted"}}
	require.NoError(t, l.cache.ReplaceArchiveIndex(context.Background(), archive, sum, fake))
	require.NoError(t, l.Load(context.Background()))
	parts := l.Parts()
	require.Len(t, parts, 1)
	assert.Equal(t, "FAKE.DAT", parts[0].Name)

	// Replacing the archive changes the checksum and forces a rescan.
	updated := map[string]string{"ldraw/parts/3002.dat": "0 Brick  2 x  3\n"}
	for k, v := range baseParts {
		updated[k] = v
	}
	writeArchive(t, archive, updated, nil)
	require.NoError(t, l.Load(context.Background()))
	names := map[string]bool{}
	for _, p := range l.Parts() {
		names[p.Name] = true
	}
	assert.False(t, names["FAKE.DAT"])
	assert.True(t, names["3002.DAT"])
	assert.False(t, names["S/3001S01.DAT"], "sub-parts are not listed")
}

func TestMeshCacheServesSecondDecode(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	l := newLoaded(t, Options{OfficialArchive: archive, CacheDir: filepath.Join(dir, "cache")})

	h, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, false)
	want := len(h.Info().Mesh().Triangles)
	h.Release()
	l.Sweep()

	src, ok := l.lookup(storage.KindPart, "3001.DAT")
	require.True(t, ok)
	_, cached, err := l.cache.GetMesh(context.Background(), "3001.DAT", src.fingerprint)
	require.NoError(t, err)
	assert.True(t, cached)

	h2, _ := l.Resolve("3001.dat", false, false)
	l.LoadGeometry(h2, true, false)
	assert.Len(t, h2.Info().Mesh().Triangles, want)
}

func TestMeshCacheIsTrimmedOnClose(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	cacheDir := filepath.Join(dir, "cache")
	l := newLoaded(t, Options{OfficialArchive: archive, CacheDir: cacheDir, MeshCacheMaxBytes: 1})

	h, err := l.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, false)
	src, ok := l.lookup(storage.KindPart, "3001.DAT")
	require.True(t, ok)
	_, cached, err := l.cache.GetMesh(context.Background(), "3001.DAT", src.fingerprint)
	require.NoError(t, err)
	require.True(t, cached)
	require.NoError(t, l.Close())

	c, err := storage.OpenCache(cacheDir)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	_, cached, err = c.GetMesh(context.Background(), "3001.DAT", src.fingerprint)
	require.NoError(t, err)
	assert.False(t, cached)
}

func TestCorruptEntryDoesNotAbortOtherLoads(t *testing.T) {
	l, archive := archiveLibrary(t)
	l.srcMu.Lock()
	l.sources[storage.KindPart]["BAD.DAT"] = source{
		kind:    storage.KindPart,
		archive: archive,
		entry:   storage.ArchiveEntry{Name: "BAD.DAT", ZipName: "bad.dat", Offset: 0, CompressedSize: 8, Size: 64, Method: zip.Deflate},
	}
	l.srcMu.Unlock()

	bad, err := l.Resolve("bad.dat", false, false)
	require.NoError(t, err)
	good, err := l.Resolve("3003.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(bad, false, false)
	l.LoadGeometry(good, false, false)
	l.WaitForAllLoads()

	assert.True(t, bad.Info().Missing())
	assert.True(t, bad.Info().BoundingBox().IsEmpty())
	assert.False(t, good.Info().Missing())
	assert.False(t, good.Info().Mesh().Empty())
}

func TestReadEntryRejectsTruncatedData(t *testing.T) {
	_, archive := archiveLibrary(t)
	_, err := readEntry(archive, storage.ArchiveEntry{ZipName: "x", Offset: 0, CompressedSize: 4, Size: 32, Method: zip.Store})
	assert.True(t, errors.Is(err, ErrArchiveEntryCorrupt))
}

func TestCancelledScans(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)

	var flag atomic.Bool
	flag.Store(true)
	_, err := scanArchive(archive, &flag)
	assert.True(t, errors.Is(err, ErrCanceled))
	_, err = scanDir(dir, &flag)
	assert.True(t, errors.Is(err, ErrCanceled))

	l, err := New(Options{OfficialArchive: archive, Workers: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, errors.Is(l.Load(ctx), ErrCanceled))
	assert.Empty(t, l.Parts(), "a cancelled load keeps the previous tables")
}

func TestPriorityGoesToFrontOfQueue(t *testing.T) {
	l := &Library{pieces: map[string]*PieceInfo{}, inflight: map[*PieceInfo]struct{}{}}
	l.cond = sync.NewCond(&l.mu)
	a, b, c := &PieceInfo{name: "A"}, &PieceInfo{name: "B"}, &PieceInfo{name: "C"}
	l.mu.Lock()
	l.enqueueLocked(a, false)
	l.enqueueLocked(b, false)
	l.enqueueLocked(c, false)
	l.enqueueLocked(c, true)
	d := &PieceInfo{name: "D"}
	l.enqueueLocked(d, true)
	l.mu.Unlock()
	var order []string
	for _, p := range l.queue {
		order = append(order, p.name)
	}
	assert.Equal(t, []string{"D", "C", "A", "B"}, order)
	assert.Equal(t, Loading, c.State())
}

func TestDirectoryAndProjectFolder(t *testing.T) {
	dir := t.TempDir()
	lib := filepath.Join(dir, "ldraw")
	require.NoError(t, os.MkdirAll(filepath.Join(lib, "parts"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(lib, "p"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "parts", "3001.dat"), []byte("0 Brick  2 x  4\n3 16 0 0 0 1 0 0 0 1 0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(lib, "p", "stud.dat"), []byte("0 Stud\n"), 0o644))
	project := filepath.Join(dir, "project")
	require.NoError(t, os.MkdirAll(project, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "3001.dat"), []byte("0 Custom\n3 16 0 0 0 9 0 0 0 9 0\n4 16 0 0 0 1 0 0 1 1 0 0 1 0\n"), 0o644))

	l := newLoaded(t, Options{PartsDir: lib, ProjectFolder: project})
	assert.True(t, l.IsPrimitiveName("STUD.dat"))
	assert.False(t, l.IsPrimitiveName("3001.dat"))

	projH, err := l.Resolve("3001.dat", false, true)
	require.NoError(t, err)
	libH, err := l.Resolve("3001.DAT", false, false)
	require.NoError(t, err)
	assert.Same(t, projH.Info(), libH.Info())
	l.LoadGeometry(projH, true, false)
	assert.Len(t, projH.Info().Mesh().Triangles, 3)

	plain := newLoaded(t, Options{PartsDir: lib, ProjectFolder: project})
	h, err := plain.Resolve("3001.dat", false, false)
	require.NoError(t, err)
	plain.LoadGeometry(h, true, false)
	assert.Len(t, h.Info().Mesh().Triangles, 1)
}

func TestProjectFolderLookupIgnoresCase(t *testing.T) {
	project := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(project, "Sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(project, "custom.dat"), []byte("0 Custom\n3 16 0 0 0 1 0 0 0 1 0\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(project, "Sub", "Inner.dat"), []byte("0 Inner\n3 16 0 0 0 1 0 0 0 1 0\n"), 0o644))
	l := newLoaded(t, Options{ProjectFolder: project})

	a, err := l.Resolve("custom.dat", true, true)
	require.NoError(t, err)
	b, err := l.Resolve("CUSTOM.DAT", true, true)
	require.NoError(t, err)
	c, err := l.Resolve("custom.dat", true, false)
	require.NoError(t, err)
	for _, h := range []*Handle{a, b, c} {
		l.LoadGeometry(h, true, false)
	}
	assert.Same(t, a.Info(), b.Info())
	assert.Same(t, a.Info(), c.Info())
	assert.False(t, a.Info().Missing())
	assert.Len(t, a.Info().Mesh().Triangles, 1)

	inner, err := l.Resolve("sub\\INNER.DAT", false, true)
	require.NoError(t, err)
	l.LoadGeometry(inner, true, false)
	assert.False(t, inner.Info().Missing())
	assert.Equal(t, filepath.Join(project, "Sub", "Inner.dat"), findFileFold(project, "SUB/INNER.DAT"))
	assert.Empty(t, findFileFold(project, "../custom.dat"))
}

func TestTexturesAreQueuedAsPowerOfTwo(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 3, 5))
	for x := 0; x < 3; x++ {
		for y := 0; y < 5; y++ {
			img.Set(x, y, color.NRGBA{R: 200, A: 255})
		}
	}
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, img))

	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	files := map[string]string{
		"ldraw/parts/logo.dat": "0 Tile with logo\n0 !TEXMAP START PLANAR -1 0 0 1 0 0 0 0 1 logo.png\n3 16 0 0 0 1 0 0 0 0 1\n",
	}
	writeArchive(t, archive, files, map[string][]byte{"ldraw/parts/textures/logo.png": pngBuf.Bytes()})
	l := newLoaded(t, Options{OfficialArchive: archive})

	h, err := l.Resolve("logo.dat", false, false)
	require.NoError(t, err)
	l.LoadGeometry(h, true, false)
	assert.Equal(t, []string{"LOGO.PNG"}, h.Info().Mesh().Textures)

	tex := l.DrainTextureUploads()
	require.Len(t, tex, 1)
	assert.Equal(t, image.Rect(0, 0, 4, 8), tex[0].Image.Bounds())
	assert.Empty(t, l.DrainTextureUploads())
}

func TestMissingTextureIsRetriedAfterReload(t *testing.T) {
	var pngBuf bytes.Buffer
	require.NoError(t, png.Encode(&pngBuf, image.NewNRGBA(image.Rect(0, 0, 2, 2))))
	dir := t.TempDir()
	archive := filepath.Join(dir, "complete.zip")
	writeArchive(t, archive, baseParts, nil)
	l := newLoaded(t, Options{OfficialArchive: archive})

	l.queueTextures([]string{"LOGO.PNG"})
	assert.Empty(t, l.DrainTextureUploads())

	writeArchive(t, archive, baseParts, map[string][]byte{"ldraw/parts/textures/logo.png": pngBuf.Bytes()})
	require.NoError(t, l.Load(context.Background()))
	l.queueTextures([]string{"LOGO.PNG"})
	tex := l.DrainTextureUploads()
	require.Len(t, tex, 1)
	assert.Equal(t, "LOGO.PNG", tex[0].Name)

	l.queueTextures([]string{"LOGO.PNG"})
	assert.Empty(t, l.DrainTextureUploads())
}

type fakeModel struct{ box mat32.Box3 }

func (fakeModel) Name() string              { return "sub.ldr" }
func (f fakeModel) BoundingBox() mat32.Box3 { return f.box }

func TestRegisteredModelsSurviveSweep(t *testing.T) {
	l, _ := archiveLibrary(t)
	box := mat32.Box3{Min: mat32.Vec3{X: -5}, Max: mat32.Vec3{X: 5, Y: 1, Z: 1}}
	l.RegisterModel("sub.ldr", fakeModel{box: box})

	h, err := l.Resolve("SUB.LDR", false, false)
	require.NoError(t, err)
	assert.True(t, h.Info().IsModel())
	assert.Equal(t, box, h.Info().BoundingBox())
	l.LoadGeometry(h, true, false)
	l.ReleaseGeometry(h)
	l.Sweep()
	assert.True(t, h.Info().IsModel())

	l.UnregisterModel("sub.ldr")
	assert.False(t, h.Info().IsModel())
}

func TestConcurrentResolveAndLoad(t *testing.T) {
	l, _ := archiveLibrary(t)
	var wg sync.WaitGroup
	infos := make([]*PieceInfo, 16)
	for i := range infos {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := l.Resolve("3001.dat", false, false)
			if err != nil {
				return
			}
			l.LoadGeometry(h, true, i%2 == 0)
			infos[i] = h.Info()
			h.Release()
		}(i)
	}
	wg.Wait()
	for _, info := range infos {
		require.NotNil(t, info)
		assert.Same(t, infos[0], info)
		assert.Equal(t, Loaded, info.State())
	}
	assert.Equal(t, 0, infos[0].LoadRefs())
}

func TestWatchReportsArchiveChange(t *testing.T) {
	l, archive := archiveLibrary(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan string, 8)
	require.NoError(t, l.Watch(ctx, func(p string) {
		select {
		case changed <- p:
		default:
		}
	}))

	writeArchive(t, archive, baseParts, nil)
	select {
	case p := <-changed:
		assert.Equal(t, filepath.Clean(archive), filepath.Clean(p))
	case <-time.After(3 * time.Second):
		t.Fatalf("no change reported")
	}
}
