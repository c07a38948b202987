/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package library

import (
	"sync/atomic"

	"github.com/goki/mat32"
)

// LoadState is the geometry lifecycle of a PieceInfo.
type LoadState int32

const (
	NotLoaded LoadState = iota
	Loading
	Loaded
)

func (s LoadState) String() string {
	switch s {
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	default:
		return "not-loaded"
	}
}

// Submodel is a document registered as a piece so other documents can place it.
type Submodel interface {
	Name() string
	BoundingBox() mat32.Box3
}

type modelRef struct{ m Submodel }

type geometry struct {
	mesh *Mesh
	box  mat32.Box3
}

// PieceInfo is the shared record for one part name. It is owned by the Library;
// documents reach it through a Handle.
type PieceInfo struct {
	name        string
	description string
	projectPath string

	state    atomic.Int32
	loadRefs atomic.Int32
	missing  atomic.Bool
	geom     atomic.Pointer[geometry]
	model    atomic.Pointer[modelRef]

	// done is closed when the current load finishes. Guarded by Library.mu.
	done chan struct{}
}

// Name is the normalized part id, e.g. "3001.DAT".
func (p *PieceInfo) Name() string { return p.name }

// Description is the title line of the part file, or the name for placeholders and models.
func (p *PieceInfo) Description() string {
	if p.description == "" {
		return p.name
	}
	return p.description
}

func (p *PieceInfo) State() LoadState { return LoadState(p.state.Load()) }

// Missing reports a terminal placeholder: no library file backs this name or it could not be decoded.
func (p *PieceInfo) Missing() bool { return p.missing.Load() }

func (p *PieceInfo) LoadRefs() int { return int(p.loadRefs.Load()) }

// Mesh returns the decoded geometry, or nil when not loaded.
func (p *PieceInfo) Mesh() *Mesh {
	if g := p.geom.Load(); g != nil {
		return g.mesh
	}
	return nil
}

// Model returns the registered sub-model, or nil for library parts.
func (p *PieceInfo) Model() Submodel {
	if r := p.model.Load(); r != nil {
		return r.m
	}
	return nil
}

func (p *PieceInfo) IsModel() bool { return p.model.Load() != nil }

// BoundingBox is the box of the geometry in the internal basis. Placeholders and
// pieces whose geometry is not loaded report an empty box.
func (p *PieceInfo) BoundingBox() mat32.Box3 {
	if m := p.Model(); m != nil {
		return m.BoundingBox()
	}
	if g := p.geom.Load(); g != nil {
		return g.box
	}
	return mat32.NewEmptyBox3()
}

func (p *PieceInfo) setGeometry(m *Mesh, missing bool) {
	if m == nil {
		m = &Mesh{}
	}
	p.geom.Store(&geometry{mesh: m, box: m.Bounds()})
	p.missing.Store(missing)
}

// Handle is a document's reference to a PieceInfo. Every LoadGeometry taken through a
// handle is returned by ReleaseGeometry or, all at once, by Release.
type Handle struct {
	info     *PieceInfo
	loads    atomic.Int32
	released atomic.Bool
}

func (h *Handle) Info() *PieceInfo { return h.info }

func (h *Handle) Name() string { return h.info.name }

// Release returns every outstanding load reference held by h. Calling it again is a no-op.
func (h *Handle) Release() {
	if h == nil || h.released.Swap(true) {
		return
	}
	if n := h.loads.Swap(0); n != 0 {
		h.info.loadRefs.Add(-n)
	}
}
