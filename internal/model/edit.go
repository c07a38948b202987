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
	"slices"
	"strconv"
	"strings"

	"brickcad/internal/library"

	"github.com/goki/mat32"
)

// InsertPiece places partID at step without recording a checkpoint, so callers can batch edits.
// Pieces stay ordered by show step; the new piece goes after the pieces of its step.
func (m *Model) InsertPiece(partID string, color int, transform mat32.Mat4, step Step) (*Piece, error) {
	if m.lib.IsPrimitiveName(partID) {
		return nil, fmt.Errorf("%w: %s", ErrPrimitivePart, partID)
	}
	h, err := m.resolvePart(partID)
	if err != nil {
		return nil, err
	}
	p := &Piece{
		objectBase: newObjectBase(step),
		partID:     partID,
		handle:     h,
		color:      color,
		transform:  transform,
	}
	m.insertPiece(p)
	m.lib.LoadGeometry(h, false, false)
	return p, nil
}

// insertPiece adds p at the position its show step requires and assigns its file line so the
// kept lines before the following piece are still written before it.
func (m *Model) insertPiece(p *Piece) {
	i := len(m.pieces)
	for j, q := range m.pieces {
		if q.stepShow > p.stepShow {
			i = j
			break
		}
	}
	if i < len(m.pieces) {
		p.fileLine = m.pieces[i].fileLine
	} else {
		p.fileLine = len(m.fileLines)
	}
	m.pieces = slices.Insert(m.pieces, i, p)
}

// takePiece removes p from the document and returns it with its geometry reference intact.
func (m *Model) takePiece(p *Piece) *Piece {
	if i := slices.Index(m.pieces, p); i >= 0 {
		m.pieces = slices.Delete(m.pieces, i, i+1)
	}
	return p
}

func (m *Model) removePiece(p *Piece) {
	m.releasePiece(m.takePiece(p))
}

// AddPiece places partID at the current step, makes it the focused selection and records a
// checkpoint.
func (m *Model) AddPiece(partID string, color int, transform mat32.Mat4) (*Piece, error) {
	p, err := m.InsertPiece(partID, color, transform, m.currentStep)
	if err != nil {
		return nil, err
	}
	m.ClearSelectionAndSetFocus(p)
	m.SaveCheckpoint("Adding Piece")
	return p, nil
}

// RemoveSelectedObjects deletes every selected piece, camera and light.
func (m *Model) RemoveSelectedObjects() error {
	sel := m.SelectedObjects()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	for _, p := range m.SelectedPieces() {
		m.removePiece(p)
	}
	m.cameras = slices.DeleteFunc(m.cameras, func(c *Camera) bool { return c.selected })
	m.lights = slices.DeleteFunc(m.lights, func(l *Light) bool { return l.selected })
	for view, name := range m.viewCameras {
		if m.CameraByName(name) == nil {
			delete(m.viewCameras, view)
		}
	}
	m.RemoveEmptyGroups()
	m.observer.OnSelectionChanged()
	m.SaveCheckpoint("Deleting")
	return nil
}

// DuplicateSelectedPieces copies the selected pieces moved by offset. Groups of the copies are
// new groups with unique names. The copies become the selection.
func (m *Model) DuplicateSelectedPieces(offset mat32.Vec3) ([]*Piece, error) {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return nil, ErrNothingSelected
	}
	// Resolve every part before the document changes.
	handles := make([]*library.Handle, len(sel))
	for i, src := range sel {
		h, err := m.resolvePart(src.partID)
		if err != nil {
			for _, done := range handles[:i] {
				done.Release()
			}
			return nil, err
		}
		handles[i] = h
	}

	copies := make(map[*Group]*Group)
	var dupGroup func(g *Group) *Group
	dupGroup = func(g *Group) *Group {
		if g == nil {
			return nil
		}
		if c, ok := copies[g]; ok {
			return c
		}
		copies[g] = nil
		parent := dupGroup(g.parent)
		c := m.addGroup(m.uniqueGroupName(g.name), parent)
		copies[g] = c
		return c
	}

	out := make([]*Piece, 0, len(sel))
	move := Translation(offset)
	for i, src := range sel {
		p := &Piece{
			objectBase: newObjectBase(src.stepShow),
			partID:     src.partID,
			handle:     handles[i],
			color:      src.color,
			transform:  *move.Mul(&src.transform),
			controls:   src.ControlPoints(),
		}
		p.stepHide = src.stepHide
		p.group = dupGroup(src.group)
		m.insertPiece(p)
		m.lib.LoadGeometry(p.handle, false, false)
		out = append(out, p)
	}
	m.clearSelection()
	for _, p := range out {
		p.setSelected(true)
	}
	out[len(out)-1].setFocused(true)
	m.observer.OnSelectionChanged()
	m.SaveCheckpoint("Duplicating Pieces")
	return out, nil
}

// MoveSelectedObjects moves every selected object by delta.
func (m *Model) MoveSelectedObjects(delta mat32.Vec3) error {
	sel := m.SelectedObjects()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	move := Translation(delta)
	for _, o := range sel {
		switch v := o.(type) {
		case *Piece:
			v.transform = *move.Mul(&v.transform)
		case *Camera:
			v.Eye = v.Eye.Add(delta)
			v.Target = v.Target.Add(delta)
		case *Light:
			v.Pos = v.Pos.Add(delta)
		}
	}
	m.SaveCheckpoint("Moving")
	return nil
}

// RotateSelectedPieces rotates the selected pieces by deg (degrees about X, Y and Z) around the
// center of their combined bounding box.
func (m *Model) RotateSelectedPieces(deg mat32.Vec3) error {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	box := mat32.NewEmptyBox3()
	for _, p := range sel {
		b := p.BoundingBox()
		if b.IsEmpty() {
			pos := p.Position()
			b = mat32.Box3{Min: pos, Max: pos}
		}
		box = box.Union(b)
	}
	c := box.Center()
	rot, toOrigin, back := RotationXYZ(deg), Translation(c.Negate()), Translation(c)
	rot = *back.Mul(rot.Mul(&toOrigin))
	for _, p := range sel {
		p.transform = *rot.Mul(&p.transform)
	}
	m.SaveCheckpoint("Rotating")
	return nil
}

func (m *Model) SetSelectedPiecesColor(color int) error {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	for _, p := range sel {
		p.color = color
	}
	m.SaveCheckpoint("Painting")
	return nil
}

// GroupSelection puts the selected pieces into a new top-level group. Pieces already grouped
// bring their whole top group along. An empty name picks "Group #n".
func (m *Model) GroupSelection(name string) (*Group, error) {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return nil, ErrNothingSelected
	}
	tops := make([]*Group, len(sel))
	for i, p := range sel {
		top, err := TopGroup(p)
		if err != nil {
			return nil, err
		}
		tops[i] = top
	}
	g := m.addGroup(m.uniqueGroupName(name), nil)
	for i, p := range sel {
		if tops[i] == nil {
			p.group = g
		} else {
			tops[i].parent = g
		}
	}
	m.SaveCheckpoint("Grouping")
	return g, nil
}

// UngroupSelection dissolves the top groups of the selected pieces. Their members move up one
// level.
func (m *Model) UngroupSelection() error {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	tops := make(map[*Group]bool)
	for _, p := range sel {
		top, err := TopGroup(p)
		if err != nil {
			return err
		}
		if top != nil {
			tops[top] = true
		}
	}
	if len(tops) == 0 {
		return nil
	}
	for _, p := range m.pieces {
		if tops[p.group] {
			p.group = nil
		}
	}
	for _, g := range m.groups {
		if tops[g.parent] {
			g.parent = nil
		}
	}
	m.groups = slices.DeleteFunc(m.groups, func(g *Group) bool { return tops[g] })
	m.RemoveEmptyGroups()
	m.SaveCheckpoint("Ungrouping")
	return nil
}

// SetSelectedPiecesStepShow moves the selected pieces to appear at step. A hide step that would
// fall at or before step is cleared.
func (m *Model) SetSelectedPiecesStepShow(step Step) error {
	if step < 1 || step == StepMax {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	for _, p := range sel {
		m.takePiece(p)
		p.stepShow = step
		if p.stepHide <= step {
			p.stepHide = StepMax
		}
		m.insertPiece(p)
	}
	m.CalculateStep(m.currentStep)
	m.observer.OnSelectionChanged()
	m.SaveCheckpoint("Showing Pieces")
	return nil
}

// SetSelectedPiecesStepHide makes the selected pieces disappear at step. StepMax clears the
// hide step.
func (m *Model) SetSelectedPiecesStepHide(step Step) error {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	for _, p := range sel {
		if step <= p.stepShow {
			return fmt.Errorf("%w: hide step %d not after show step %d", ErrInvalidStep, step, p.stepShow)
		}
	}
	for _, p := range sel {
		p.stepHide = step
	}
	m.CalculateStep(m.currentStep)
	m.observer.OnSelectionChanged()
	m.SaveCheckpoint("Hiding Pieces")
	return nil
}

// HideSelectedPieces hides the selected pieces at every step and deselects them.
func (m *Model) HideSelectedPieces() error {
	sel := m.SelectedPieces()
	if len(sel) == 0 {
		return ErrNothingSelected
	}
	for _, p := range sel {
		p.hidden = true
		p.setSelected(false)
	}
	m.observer.OnSelectionChanged()
	m.SaveCheckpoint("Hide")
	return nil
}

// UnhideAllPieces clears the hidden flag of every piece. Nothing is recorded when no piece was
// hidden.
func (m *Model) UnhideAllPieces() {
	changed := false
	for _, p := range m.pieces {
		if p.hidden {
			p.hidden = false
			changed = true
		}
	}
	if changed {
		m.SaveCheckpoint("Unhide")
	}
}

// InsertStep opens an empty step at step: objects shown from step on move one step later.
func (m *Model) InsertStep(step Step) error {
	if step < 1 || step == StepMax {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	for _, o := range m.Objects() {
		b := o.base()
		if b.stepShow >= step && b.stepShow < StepMax-1 {
			b.stepShow++
		}
		if b.stepHide != StepMax && b.stepHide >= step && b.stepHide < StepMax-1 {
			b.stepHide++
		}
	}
	m.CalculateStep(m.currentStep)
	m.observer.OnTimelineChanged(m.currentStep)
	m.SaveCheckpoint("Inserting Step")
	return nil
}

// RemoveStep deletes step: objects shown after it move one step earlier. Pieces whose hide step
// falls onto their show step are deleted; cameras and lights lose their hide step instead.
func (m *Model) RemoveStep(step Step) error {
	if step < 1 || step == StepMax {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	for _, o := range m.Objects() {
		b := o.base()
		if b.stepShow > step {
			b.stepShow--
		}
		if b.stepHide != StepMax && b.stepHide > step {
			b.stepHide--
		}
	}
	for _, p := range m.Pieces() {
		if p.stepHide <= p.stepShow {
			m.removePiece(p)
		}
	}
	for _, c := range m.cameras {
		if c.stepHide <= c.stepShow {
			c.stepHide = StepMax
		}
	}
	for _, l := range m.lights {
		if l.stepHide <= l.stepShow {
			l.stepHide = StepMax
		}
	}
	m.RemoveEmptyGroups()
	if last := m.LastStep(); m.currentStep > last {
		m.currentStep = last
	}
	m.CalculateStep(m.currentStep)
	m.observer.OnTimelineChanged(m.currentStep)
	m.SaveCheckpoint("Removing Step")
	return nil
}

// AddCamera adds a camera shown from the current step. An empty name picks "Camera n".
func (m *Model) AddCamera(name string, eye, target mat32.Vec3) *Camera {
	if name == "" {
		for n := 1; ; n++ {
			name = "Camera " + strconv.Itoa(n)
			if m.CameraByName(name) == nil {
				break
			}
		}
	}
	c := newCamera(name, eye, target, m.currentStep)
	m.cameras = append(m.cameras, c)
	m.SaveCheckpoint("New Camera")
	return c
}

// AddLight adds a white light shown from the current step. An empty name picks "Light n".
func (m *Model) AddLight(name string, typ LightType, pos mat32.Vec3) *Light {
	if name == "" {
		name = "Light " + strconv.Itoa(len(m.lights)+1)
	}
	l := &Light{
		objectBase: newObjectBase(m.currentStep),
		Name:       name,
		Type:       typ,
		Pos:        pos,
		Color:      mat32.Vec3{X: 1, Y: 1, Z: 1},
	}
	m.lights = append(m.lights, l)
	m.SaveCheckpoint("New Light")
	return l
}

// SetProperties replaces the header text. Nothing is recorded when it is unchanged.
func (m *Model) SetProperties(p Properties) {
	p.Name = oneLine(p.Name)
	p.Author = oneLine(p.Author)
	p.Description = oneLine(p.Description)
	lines := strings.Split(strings.ReplaceAll(p.Comments, "\r", ""), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	p.Comments = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	if p == m.props {
		return
	}
	m.props = p
	m.SaveCheckpoint("Changing Properties")
}

// oneLine folds line breaks into spaces; header values occupy a single line in the file.
func oneLine(s string) string {
	return strings.TrimSpace(strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s))
}
