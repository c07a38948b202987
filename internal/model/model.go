/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package model holds the editable document: placed pieces, cameras, lights and groups with their
// step timeline, the selection, and the full-snapshot undo history. Documents are read from and
// written to the line-oriented brick instruction format.
//
// A Model is not safe for concurrent use. All calls must come from one editor goroutine; only the
// piece source it is bound to does work in the background.
package model

import (
	"errors"
	"fmt"
	"log/slog"

	"brickcad/internal/library"
	applog "brickcad/internal/log"
	"brickcad/internal/undo"

	"github.com/goki/mat32"
)

var (
	ErrMalformedLine     = errors.New("malformed line")
	ErrGroupCycle        = errors.New("group parent chain does not terminate")
	ErrCheckpointCorrupt = errors.New("checkpoint does not reload")
	ErrRecursiveModel    = errors.New("model would include itself")
	ErrNothingSelected   = errors.New("nothing selected")
	ErrInvalidStep       = errors.New("invalid step")
	ErrUnknownModel      = errors.New("unknown model")
	ErrDuplicateModel    = errors.New("model name already used")
	ErrPrimitivePart     = errors.New("primitives cannot be placed")
)

// PieceSource resolves part ids to shared records. *library.Library implements it.
type PieceSource interface {
	Resolve(name string, allowPlaceholder, searchProjectFolder bool) (*library.Handle, error)
	LoadGeometry(h *library.Handle, wait, priority bool)
	ReleaseGeometry(h *library.Handle)
	WaitForAllLoads()
	IsPrimitiveName(name string) bool
	Sweep() int
	RegisterModel(name string, m library.Submodel) *library.PieceInfo
	UnregisterModel(name string)
}

// Observer receives change notifications. Calls happen on the editor goroutine.
type Observer interface {
	OnTimelineChanged(step Step)
	OnSelectionChanged()
	OnModifiedStateChanged(modified bool)
	// OnHistoryChanged reports the labels of the next undo and redo actions.
	OnHistoryChanged(undo, redo string)
}

// NopObserver ignores every notification.
type NopObserver struct{}

func (NopObserver) OnTimelineChanged(Step)       {}
func (NopObserver) OnSelectionChanged()          {}
func (NopObserver) OnModifiedStateChanged(bool)  {}
func (NopObserver) OnHistoryChanged(_, _ string) {}

// Properties is the free text of the document header. Comments holds one line per comment.
type Properties struct {
	Name        string
	Author      string
	Description string
	Comments    string
}

type Options struct {
	UndoMaxDepth  int
	UndoMaxBytes  int
	SelectionMode SelectionMode
	Observer      Observer
}

type Model struct {
	props Properties
	lib   PieceSource

	pieces  []*Piece
	cameras []*Camera
	lights  []*Light
	groups  []*Group

	// fileLines holds the lines kept verbatim; pieces refer to positions in it.
	fileLines []string

	currentStep   Step
	selectionMode SelectionMode

	history  *undo.Manager
	savedID  uint64
	modified bool
	observer Observer

	// viewCameras binds view names to camera names.
	viewCameras map[string]string

	log *slog.Logger
}

// New returns an empty document bound to lib. The empty state is recorded as the first
// checkpoint and counts as saved.
func New(lib PieceSource, opts Options) *Model {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	m := &Model{
		lib:           lib,
		currentStep:   1,
		selectionMode: opts.SelectionMode,
		history:       undo.NewManager(undo.Config{MaxDepth: opts.UndoMaxDepth, MaxBytes: opts.UndoMaxBytes}),
		observer:      obs,
		viewCameras:   make(map[string]string),
		log:           applog.WithComponent("model"),
	}
	m.savedID = m.history.Push("", m.Serialize()).ID
	return m
}

func (m *Model) Name() string { return m.props.Name }

func (m *Model) Properties() Properties { return m.props }

func (m *Model) Pieces() []*Piece { return append([]*Piece(nil), m.pieces...) }

func (m *Model) Cameras() []*Camera { return append([]*Camera(nil), m.cameras...) }

func (m *Model) Lights() []*Light { return append([]*Light(nil), m.lights...) }

// FileLines returns the lines kept verbatim from the last parse.
func (m *Model) FileLines() []string { return append([]string(nil), m.fileLines...) }

// Objects lists pieces, then cameras, then lights.
func (m *Model) Objects() []Object {
	out := make([]Object, 0, len(m.pieces)+len(m.cameras)+len(m.lights))
	for _, p := range m.pieces {
		out = append(out, p)
	}
	for _, c := range m.cameras {
		out = append(out, c)
	}
	for _, l := range m.lights {
		out = append(out, l)
	}
	return out
}

// BoundingBox is the union of the boxes of all pieces at all steps. Pieces whose geometry is still
// loading contribute nothing.
func (m *Model) BoundingBox() mat32.Box3 {
	box := mat32.NewEmptyBox3()
	seen := map[*Model]bool{m: true}
	for _, p := range m.pieces {
		if sub := p.submodel(); sub != nil && seen[sub] {
			continue
		}
		box = box.Union(p.BoundingBox())
	}
	return box
}

// IncludesModel reports whether other is placed in m, directly or through sub-models.
func (m *Model) IncludesModel(other *Model) bool {
	if other == nil {
		return false
	}
	seen := make(map[*Model]bool)
	var walk func(*Model) bool
	walk = func(cur *Model) bool {
		if seen[cur] {
			return false
		}
		seen[cur] = true
		for _, p := range cur.pieces {
			sub := p.submodel()
			if sub == nil {
				continue
			}
			if sub == other || walk(sub) {
				return true
			}
		}
		return false
	}
	return walk(m)
}

// resolvePart resolves partID for placement in m. A part backed by m itself or by a model that
// includes m is rejected with ErrRecursiveModel.
func (m *Model) resolvePart(partID string) (*library.Handle, error) {
	h, err := m.lib.Resolve(partID, true, true)
	if err != nil {
		return nil, err
	}
	if sub, ok := h.Info().Model().(*Model); ok && (sub == m || sub.IncludesModel(m)) {
		h.Release()
		return nil, fmt.Errorf("%w: %s in %q", ErrRecursiveModel, partID, m.props.Name)
	}
	return h, nil
}

// clearContents drops every object and the kept lines and returns geometry references to the
// piece source.
func (m *Model) clearContents() {
	for _, p := range m.pieces {
		m.releasePiece(p)
	}
	m.pieces = nil
	m.cameras = nil
	m.lights = nil
	m.groups = nil
	m.fileLines = nil
}

func (m *Model) releasePiece(p *Piece) {
	if p.handle == nil {
		return
	}
	m.lib.ReleaseGeometry(p.handle)
	p.handle.Release()
}

// Close releases every geometry reference held by the document.
func (m *Model) Close() {
	m.clearContents()
}
