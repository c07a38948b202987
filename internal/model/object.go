/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"math"

	"github.com/goki/mat32"
)

// Step indexes the instruction timeline. Steps start at 1.
type Step uint32

// StepMax is the hide step of an object that is never hidden.
const StepMax Step = math.MaxUint32

// ObjectKind tags the variant behind an Object.
type ObjectKind int

const (
	KindPiece ObjectKind = iota
	KindCamera
	KindLight
)

func (k ObjectKind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindLight:
		return "light"
	default:
		return "piece"
	}
}

// Object is the capability set shared by pieces, cameras and lights.
// Use Kind or a type switch to reach the concrete variant.
type Object interface {
	Kind() ObjectKind
	IsSelected() bool
	IsFocused() bool
	StepShow() Step
	StepHide() Step
	IsHidden() bool
	IsVisible(step Step) bool
	Position() mat32.Vec3

	base() *objectBase
}

// objectBase carries the selection and timeline state of every object.
type objectBase struct {
	selected bool
	focused  bool
	stepShow Step
	stepHide Step
	hidden   bool
}

func newObjectBase(show Step) objectBase {
	if show < 1 {
		show = 1
	}
	return objectBase{stepShow: show, stepHide: StepMax}
}

func (o *objectBase) base() *objectBase { return o }

func (o *objectBase) IsSelected() bool { return o.selected }
func (o *objectBase) IsFocused() bool  { return o.focused }
func (o *objectBase) StepShow() Step   { return o.stepShow }
func (o *objectBase) StepHide() Step   { return o.stepHide }
func (o *objectBase) IsHidden() bool   { return o.hidden }

// IsVisible reports whether the object is shown at step: not hidden, at or after its
// show step and before its hide step.
func (o *objectBase) IsVisible(step Step) bool {
	return !o.hidden && o.stepShow <= step && step < o.stepHide
}

func (o *objectBase) setSelected(v bool) {
	o.selected = v
	if !v {
		o.focused = false
	}
}

func (o *objectBase) setFocused(v bool) {
	o.focused = v
	if v {
		o.selected = true
	}
}
