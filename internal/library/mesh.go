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
	"bytes"
	"encoding/gob"
	"fmt"
	"strconv"
	"strings"

	"github.com/goki/mat32"
)

// Color codes with inheritance semantics in part files.
const (
	ColorMain = 16
	ColorEdge = 24
)

// maxInlineDepth bounds sub-file recursion; deeper references are ignored.
const maxInlineDepth = 32

// Triangle is a filled face. Quads are split into two triangles.
type Triangle struct {
	Color int
	P     [3]mat32.Vec3
}

// Segment is an edge line; Conditional marks optional (type 5) lines.
type Segment struct {
	Color       int
	P           [2]mat32.Vec3
	Conditional bool
}

// Mesh is renderer-agnostic piece geometry in the internal basis.
type Mesh struct {
	Triangles []Triangle
	Lines     []Segment
	Textures  []string
}

// Empty reports whether the mesh has no drawable primitives.
func (m *Mesh) Empty() bool {
	return m == nil || (len(m.Triangles) == 0 && len(m.Lines) == 0)
}

// Bounds is the box enclosing every vertex, or an empty box.
func (m *Mesh) Bounds() mat32.Box3 {
	bb := mat32.NewEmptyBox3()
	if m == nil {
		return bb
	}
	for _, t := range m.Triangles {
		for _, p := range t.P {
			bb.ExpandByPoint(p)
		}
	}
	for _, s := range m.Lines {
		for _, p := range s.P {
			bb.ExpandByPoint(p)
		}
	}
	return bb
}

func encodeMesh(m *Mesh) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeMeshBlob(b []byte) (*Mesh, error) {
	var m Mesh
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FileToInternal converts a point from the file basis (-Y up) to the internal basis (+Z up).
// The conversion is its own inverse.
func FileToInternal(p mat32.Vec3) mat32.Vec3 {
	return mat32.Vec3{X: p.X, Y: -p.Z, Z: -p.Y}
}

// subfileFetcher returns the decoded mesh of a referenced file in its own file basis.
type subfileFetcher func(name string, depth int) (*Mesh, error)

// parseGeometry decodes part file text into a mesh in the file basis. Texture references
// from !TEXMAP meta lines are collected; unknown sub-files are skipped.
func parseGeometry(data []byte, fetch subfileFetcher, depth int) (*Mesh, error) {
	m := &Mesh{}
	seenTex := map[string]bool{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) == 0 {
			continue
		}
		switch f[0] {
		case "0":
			if len(f) > 3 && f[1] == "!TEXMAP" {
				for _, tok := range f[3:] {
					lt := strings.ToLower(tok)
					if strings.HasSuffix(lt, ".png") || strings.HasSuffix(lt, ".bmp") {
						key := NormalizeName(tok)
						if !seenTex[key] {
							seenTex[key] = true
							m.Textures = append(m.Textures, key)
						}
						break
					}
				}
			}
		case "1":
			if len(f) < 15 || depth >= maxInlineDepth {
				continue
			}
			color, err := strconv.Atoi(f[1])
			if err != nil {
				continue
			}
			nums, ok := parseFloats(f[2:14])
			if !ok {
				continue
			}
			name := strings.Join(f[14:], " ")
			child, err := fetch(name, depth+1)
			if err != nil || child == nil {
				continue
			}
			var xf mat32.Mat4
			xf.Set(
				nums[3], nums[4], nums[5], nums[0],
				nums[6], nums[7], nums[8], nums[1],
				nums[9], nums[10], nums[11], nums[2],
				0, 0, 0, 1,
			)
			inline(m, child, &xf, color)
		case "2", "3", "4", "5":
			kind := int(f[0][0] - '0')
			npts := []int{0, 0, 2, 3, 4, 4}[kind]
			if len(f) < 2+npts*3 {
				continue
			}
			color, err := strconv.Atoi(f[1])
			if err != nil {
				continue
			}
			nums, ok := parseFloats(f[2 : 2+npts*3])
			if !ok {
				continue
			}
			pts := make([]mat32.Vec3, npts)
			for i := range pts {
				pts[i] = mat32.Vec3{X: nums[i*3], Y: nums[i*3+1], Z: nums[i*3+2]}
			}
			switch kind {
			case 2:
				m.Lines = append(m.Lines, Segment{Color: color, P: [2]mat32.Vec3{pts[0], pts[1]}})
			case 5:
				m.Lines = append(m.Lines, Segment{Color: color, P: [2]mat32.Vec3{pts[0], pts[1]}, Conditional: true})
			case 3:
				m.Triangles = append(m.Triangles, Triangle{Color: color, P: [3]mat32.Vec3{pts[0], pts[1], pts[2]}})
			case 4:
				m.Triangles = append(m.Triangles,
					Triangle{Color: color, P: [3]mat32.Vec3{pts[0], pts[1], pts[2]}},
					Triangle{Color: color, P: [3]mat32.Vec3{pts[2], pts[3], pts[0]}})
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan geometry: %w", err)
	}
	return m, nil
}

// inline appends child transformed by xf, a file-basis placement. Child color 16 takes the reference's color;
// edge color 24 is kept for the renderer to resolve.
func inline(dst, child *Mesh, xf *mat32.Mat4, color int) {
	pick := func(c int) int {
		if c == ColorMain {
			return color
		}
		return c
	}
	for _, t := range child.Triangles {
		dst.Triangles = append(dst.Triangles, Triangle{
			Color: pick(t.Color),
			P:     [3]mat32.Vec3{t.P[0].MulMat4(xf), t.P[1].MulMat4(xf), t.P[2].MulMat4(xf)},
		})
	}
	for _, s := range child.Lines {
		dst.Lines = append(dst.Lines, Segment{
			Color:       pick(s.Color),
			P:           [2]mat32.Vec3{s.P[0].MulMat4(xf), s.P[1].MulMat4(xf)},
			Conditional: s.Conditional,
		})
	}
	for _, tex := range child.Textures {
		found := false
		for _, have := range dst.Textures {
			if have == tex {
				found = true
				break
			}
		}
		if !found {
			dst.Textures = append(dst.Textures, tex)
		}
	}
}

// toInternal converts a file-basis mesh to the internal basis in place.
func (m *Mesh) toInternal() {
	for i := range m.Triangles {
		for j := range m.Triangles[i].P {
			m.Triangles[i].P[j] = FileToInternal(m.Triangles[i].P[j])
		}
	}
	for i := range m.Lines {
		for j := range m.Lines[i].P {
			m.Lines[i].P[j] = FileToInternal(m.Lines[i].P[j])
		}
	}
}

func parseFloats(fields []string) ([]float32, bool) {
	out := make([]float32, len(fields))
	for i, s := range fields {
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return nil, false
		}
		out[i] = float32(v)
	}
	return out, true
}

// NormalizeName maps a part reference to its lookup key: trimmed, upper case, forward slashes.
func NormalizeName(name string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
}
