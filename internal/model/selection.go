/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"fmt"
	"strings"
)

// SelectionMode decides which other pieces follow when one piece is selected or deselected.
type SelectionMode int

const (
	// SelectSingle selects the piece and every piece sharing its top group.
	SelectSingle SelectionMode = iota
	SelectSamePieceType
	SelectSameColor
	SelectSamePieceAndColor
)

func (s SelectionMode) String() string {
	switch s {
	case SelectSamePieceType:
		return "piece"
	case SelectSameColor:
		return "color"
	case SelectSamePieceAndColor:
		return "piece-color"
	default:
		return "single"
	}
}

// ParseSelectionMode accepts the names returned by String.
func ParseSelectionMode(s string) (SelectionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "single":
		return SelectSingle, nil
	case "piece":
		return SelectSamePieceType, nil
	case "color":
		return SelectSameColor, nil
	case "piece-color":
		return SelectSamePieceAndColor, nil
	}
	return SelectSingle, fmt.Errorf("unknown selection mode %q", s)
}

func (m *Model) SelectionMode() SelectionMode { return m.selectionMode }

func (m *Model) SetSelectionMode(mode SelectionMode) { m.selectionMode = mode }

// matches reports whether q follows p under the current selection mode.
func (m *Model) matches(p, q *Piece) bool {
	switch m.selectionMode {
	case SelectSamePieceType:
		return q.Info() == p.Info()
	case SelectSameColor:
		return q.color == p.color
	case SelectSamePieceAndColor:
		return q.Info() == p.Info() && q.color == p.color
	default:
		if p.group == nil {
			return false
		}
		pt, _ := TopGroup(p)
		qt, _ := TopGroup(q)
		return pt != nil && pt == qt
	}
}

// propagate applies selected to the visible pieces that follow p.
func (m *Model) propagate(p *Piece, selected bool) {
	for _, q := range m.pieces {
		if q == p || !q.IsVisible(m.currentStep) || !m.matches(p, q) {
			continue
		}
		q.setSelected(selected)
	}
}

// SetObjectSelected selects or deselects o and the pieces that follow it.
func (m *Model) SetObjectSelected(o Object, selected bool) {
	o.base().setSelected(selected)
	if p, ok := o.(*Piece); ok {
		m.propagate(p, selected)
	}
	m.observer.OnSelectionChanged()
}

// SetObjectFocused moves the focus to o and selects it. Any previous focus is cleared.
func (m *Model) SetObjectFocused(o Object) {
	for _, other := range m.Objects() {
		other.base().focused = false
	}
	if o != nil {
		o.base().setFocused(true)
		if p, ok := o.(*Piece); ok {
			m.propagate(p, true)
		}
	}
	m.observer.OnSelectionChanged()
}

func (m *Model) clearSelection() {
	for _, o := range m.Objects() {
		o.base().setSelected(false)
	}
}

func (m *Model) ClearSelection() {
	m.clearSelection()
	m.observer.OnSelectionChanged()
}

// ClearSelectionAndSetFocus replaces the selection with o, which gets the focus.
func (m *Model) ClearSelectionAndSetFocus(o Object) {
	m.clearSelection()
	m.SetObjectFocused(o)
}

// SelectAllPieces selects every piece visible at the current step.
func (m *Model) SelectAllPieces() {
	for _, p := range m.pieces {
		if p.IsVisible(m.currentStep) {
			p.setSelected(true)
		}
	}
	m.observer.OnSelectionChanged()
}

// SelectGroup selects every visible piece in g or one of its subgroups.
func (m *Model) SelectGroup(g *Group) {
	for _, p := range m.pieces {
		if p.IsVisible(m.currentStep) && inGroup(p, g) {
			p.setSelected(true)
		}
	}
	m.observer.OnSelectionChanged()
}

func (m *Model) SelectedObjects() []Object {
	var out []Object
	for _, o := range m.Objects() {
		if o.IsSelected() {
			out = append(out, o)
		}
	}
	return out
}

func (m *Model) SelectedPieces() []*Piece {
	var out []*Piece
	for _, p := range m.pieces {
		if p.selected {
			out = append(out, p)
		}
	}
	return out
}

// FocusedObject returns the focused object, or nil.
func (m *Model) FocusedObject() Object {
	for _, o := range m.Objects() {
		if o.IsFocused() {
			return o
		}
	}
	return nil
}
