/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package model

import (
	"github.com/goki/mat32"
)

// Camera is a named viewpoint stored in the document.
type Camera struct {
	objectBase

	Name   string
	Eye    mat32.Vec3
	Target mat32.Vec3
	Up     mat32.Vec3
	FOV    float32
	ZNear  float32
	ZFar   float32
	Ortho  bool
}

func (c *Camera) Kind() ObjectKind { return KindCamera }

func (c *Camera) Position() mat32.Vec3 { return c.Eye }

func newCamera(name string, eye, target mat32.Vec3, step Step) *Camera {
	return &Camera{
		objectBase: newObjectBase(step),
		Name:       name,
		Eye:        eye,
		Target:     target,
		Up:         mat32.Vec3{Z: 1},
		FOV:        30,
		ZNear:      25,
		ZFar:       50000,
	}
}

// LightType enumerates the light sources a document can carry.
type LightType string

const (
	LightPoint LightType = "POINT"
	LightSpot  LightType = "SPOT"
	LightSun   LightType = "SUN"
	LightArea  LightType = "AREA"
)

func parseLightType(s string) (LightType, bool) {
	switch t := LightType(s); t {
	case LightPoint, LightSpot, LightSun, LightArea:
		return t, true
	}
	return "", false
}

// Light is a light source stored in the document.
type Light struct {
	objectBase

	Name  string
	Type  LightType
	Pos   mat32.Vec3
	Color mat32.Vec3
}

func (l *Light) Kind() ObjectKind { return KindLight }

func (l *Light) Position() mat32.Vec3 { return l.Pos }
