/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"brickcad/internal/library"

	"github.com/goki/mat32"
)

// ControlPoint shapes a flexible (synthesized) piece: a local frame plus a scale.
type ControlPoint struct {
	Transform mat32.Mat4
	Scale     float32
}

// Piece is one placed part. The model owns it; the PieceInfo behind it is borrowed from the
// library through a handle released when the piece is removed.
type Piece struct {
	objectBase

	partID    string
	handle    *library.Handle
	color     int
	transform mat32.Mat4
	group     *Group
	fileLine  int
	controls  []ControlPoint
}

func (p *Piece) Kind() ObjectKind { return KindPiece }

// PartID is the part reference as written in the file.
func (p *Piece) PartID() string { return p.partID }

func (p *Piece) Info() *library.PieceInfo { return p.handle.Info() }

func (p *Piece) Color() int { return p.color }

func (p *Piece) Transform() mat32.Mat4 { return p.transform }

func (p *Piece) Position() mat32.Vec3 { return p.transform.Pos() }

func (p *Piece) Group() *Group { return p.group }

// FileLine is the number of passthrough lines written before this piece.
func (p *Piece) FileLine() int { return p.fileLine }

func (p *Piece) ControlPoints() []ControlPoint {
	return append([]ControlPoint(nil), p.controls...)
}

// SetControlPoints replaces the synth control points. It does not record a checkpoint.
func (p *Piece) SetControlPoints(cps []ControlPoint) {
	p.controls = append([]ControlPoint(nil), cps...)
}

// BoundingBox is the piece geometry box in model space. It is empty while geometry is not loaded.
func (p *Piece) BoundingBox() mat32.Box3 {
	return TransformBox(p.transform, p.Info().BoundingBox())
}

// submodel returns the model placed by this piece, if any.
func (p *Piece) submodel() *Model {
	if p.handle == nil {
		return nil
	}
	sub, _ := p.Info().Model().(*Model)
	return sub
}
