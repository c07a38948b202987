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
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"brickcad/internal/storage"

	"golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// maxTextureSize caps the edge length of uploaded textures.
const maxTextureSize = 1024

// Texture is a decoded image ready for upload by the rendering collaborator.
// Image dimensions are powers of two.
type Texture struct {
	Name  string
	Image *image.RGBA
}

// DrainTextureUploads returns and clears the textures decoded since the last call.
// Only the rendering context calls it; workers never upload.
func (l *Library) DrainTextureUploads() []Texture {
	l.texMu.Lock()
	defer l.texMu.Unlock()
	out := l.texQueue
	l.texQueue = nil
	return out
}

// queueTextures decodes every not yet queued texture in names and appends it to the upload
// queue. A texture that cannot be found or decoded is tried again on the next request.
func (l *Library) queueTextures(names []string) {
	for _, name := range names {
		l.texMu.Lock()
		seen := l.texSeen[name]
		l.texSeen[name] = true
		l.texMu.Unlock()
		if seen {
			continue
		}
		img, err := l.readTexture(name)
		l.texMu.Lock()
		if err != nil {
			delete(l.texSeen, name)
		} else {
			l.texQueue = append(l.texQueue, Texture{Name: name, Image: img})
		}
		l.texMu.Unlock()
		if err != nil {
			l.log.Warn("texture not queued", slog.String("texture", name), slog.Any("err", err))
		}
	}
}

func (l *Library) readTexture(name string) (*image.RGBA, error) {
	src, ok := l.lookup(storage.KindTexture, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	data, err := l.readSource(src)
	if err != nil {
		return nil, err
	}
	return decodeTexture(name, data)
}

func decodeTexture(name string, data []byte) (*image.RGBA, error) {
	var (
		img image.Image
		err error
	)
	if strings.HasSuffix(strings.ToLower(name), ".bmp") {
		img, err = bmp.Decode(bytes.NewReader(data))
	} else {
		img, err = png.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return toPowerOfTwo(img), nil
}

// toPowerOfTwo resamples img so both edges are powers of two no larger than maxTextureSize.
func toPowerOfTwo(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := nextPow2(b.Dx()), nextPow2(b.Dy())
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func nextPow2(n int) int {
	p := 1
	for p < n && p < maxTextureSize {
		p <<= 1
	}
	return p
}
