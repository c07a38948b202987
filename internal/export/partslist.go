/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export writes bills of materials for documents as CSV or PDF.
package export

import (
	"cmp"
	"slices"

	"brickcad/internal/library"
	"brickcad/internal/model"
)

// maxModelDepth bounds sub-model expansion.
const maxModelDepth = 64

// Entry is one line of a parts list: how many of a part are used in one color.
type Entry struct {
	PartID      string
	Description string
	Color       int
	Count       int
}

type entryKey struct {
	part  string
	color int
}

// PartsList counts the pieces of m per part and color. Placed sub-models are expanded into their
// pieces; pieces in the main color take the color of the placement.
func PartsList(m *model.Model) []Entry {
	counts := make(map[entryKey]*Entry)
	var walk func(m *model.Model, color, depth int)
	walk = func(m *model.Model, color, depth int) {
		if depth > maxModelDepth {
			return
		}
		for _, p := range m.Pieces() {
			c := p.Color()
			if c == library.ColorMain && depth > 0 {
				c = color
			}
			info := p.Info()
			if sub, ok := info.Model().(*model.Model); ok {
				walk(sub, c, depth+1)
				continue
			}
			k := entryKey{part: info.Name(), color: c}
			e, ok := counts[k]
			if !ok {
				e = &Entry{PartID: info.Name(), Description: info.Description(), Color: c}
				counts[k] = e
			}
			e.Count++
		}
	}
	walk(m, library.ColorMain, 0)

	out := make([]Entry, 0, len(counts))
	for _, e := range counts {
		out = append(out, *e)
	}
	slices.SortFunc(out, func(a, b Entry) int {
		if c := cmp.Compare(a.PartID, b.PartID); c != 0 {
			return c
		}
		return cmp.Compare(a.Color, b.Color)
	})
	return out
}

// Total returns the number of pieces in entries.
func Total(entries []Entry) int {
	n := 0
	for _, e := range entries {
		n += e.Count
	}
	return n
}
