/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package library

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"brickcad/internal/storage"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

// cancelPollEvery is how many archive or directory entries are scanned between cancellation checks.
const cancelPollEvery = 64

// source locates the bytes of one library file.
type source struct {
	kind        string
	archive     string
	entry       storage.ArchiveEntry
	path        string
	description string
	fingerprint string
}

// classify maps a path inside a library (archive or directory, '/' separated) to an entry kind
// and lookup name. ok is false for files the library does not use.
func classify(rel string) (kind, name string, ok bool) {
	p := strings.ToLower(rel)
	p = strings.TrimPrefix(p, "ldraw/")
	cut := len(rel) - len(p)
	switch {
	case strings.HasPrefix(p, "parts/textures/"), strings.HasPrefix(p, "textures/"):
		if !strings.HasSuffix(p, ".png") && !strings.HasSuffix(p, ".bmp") {
			return "", "", false
		}
		return storage.KindTexture, NormalizeName(filepath.Base(rel[cut:])), true
	case strings.HasPrefix(p, "parts/"):
		kind, name = storage.KindPart, rel[cut+len("parts/"):]
	case strings.HasPrefix(p, "p/"):
		kind, name = storage.KindPrimitive, rel[cut+len("p/"):]
	default:
		return "", "", false
	}
	if !strings.HasSuffix(p, ".dat") && !strings.HasSuffix(p, ".ldr") {
		return "", "", false
	}
	return kind, NormalizeName(name), true
}

// scanArchive lists every usable entry of the zip at path with its data offset.
// cancel is polled every cancelPollEvery entries.
func scanArchive(path string, cancel *atomic.Bool) ([]storage.ArchiveEntry, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	defer r.Close()

	var out []storage.ArchiveEntry
	for i, f := range r.File {
		if i%cancelPollEvery == 0 && cancel.Load() {
			return nil, ErrCanceled
		}
		if f.FileInfo().IsDir() {
			continue
		}
		kind, name, ok := classify(f.Name)
		if !ok {
			continue
		}
		off, err := f.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("entry %s: %w", f.Name, err)
		}
		e := storage.ArchiveEntry{
			Name:           name,
			ZipName:        f.Name,
			Kind:           kind,
			Offset:         off,
			CompressedSize: int64(f.CompressedSize64),
			Size:           int64(f.UncompressedSize64),
			Method:         f.Method,
		}
		if kind == storage.KindPart {
			if rc, err := f.Open(); err == nil {
				e.Description = readDescription(rc)
				_ = rc.Close()
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// readEntry decodes one archive entry using its stored offset, without reading the central directory.
func readEntry(archive string, e storage.ArchiveEntry) ([]byte, error) {
	f, err := os.Open(archive)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sec := io.NewSectionReader(f, e.Offset, e.CompressedSize)
	var rd io.Reader
	switch e.Method {
	case zip.Store:
		rd = sec
	case zip.Deflate:
		fr := flate.NewReader(sec)
		defer fr.Close()
		rd = fr
	default:
		return nil, fmt.Errorf("%w: %s: unsupported method %d", ErrArchiveEntryCorrupt, e.ZipName, e.Method)
	}
	buf := make([]byte, e.Size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrArchiveEntryCorrupt, e.ZipName, err)
	}
	return buf, nil
}

// scanDir lists the parts, primitives and textures below a library directory laid out like an archive.
func scanDir(root string, cancel *atomic.Bool) ([]source, error) {
	var out []source
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if n%cancelPollEvery == 0 && cancel.Load() {
			return ErrCanceled
		}
		n++
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		kind, name, ok := classify(filepath.ToSlash(rel))
		if !ok {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s := source{
			kind:        kind,
			path:        path,
			fingerprint: fmt.Sprintf("file:%s:%d:%d", path, info.Size(), info.ModTime().UnixNano()),
		}
		s.entry.Name = name
		if kind == storage.KindPart {
			if fh, err := os.Open(path); err == nil {
				s.description = readDescription(fh)
				_ = fh.Close()
			}
		}
		out = append(out, s)
		return nil
	})
	if errors.Is(err, ErrCanceled) {
		return nil, ErrCanceled
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	return out, nil
}

// readDescription returns the text of the first comment line of a part file.
func readDescription(r io.Reader) string {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "0 "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return ""
}
