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

// Transforms are mat32.Mat4 in column-major order: element (row r, col c) is m[c*4+r].

// Identity returns the identity transform.
func Identity() mat32.Mat4 {
	var m mat32.Mat4
	m.SetIdentity()
	return m
}

// Translation returns a transform moving by v.
func Translation(v mat32.Vec3) mat32.Mat4 {
	var m mat32.Mat4
	m.SetTranslation(v.X, v.Y, v.Z)
	return m
}

// RotationXYZ rotates by the given angles in degrees about X, then Y, then Z.
func RotationXYZ(deg mat32.Vec3) mat32.Mat4 {
	var rx, ry, rz mat32.Mat4
	rx.SetRotationX(mat32.DegToRad(deg.X))
	ry.SetRotationY(mat32.DegToRad(deg.Y))
	rz.SetRotationZ(mat32.DegToRad(deg.Z))
	return *rz.Mul(ry.Mul(&rx))
}

// TransformBox returns the axis-aligned box enclosing b transformed by m. Empty stays empty.
func TransformBox(m mat32.Mat4, b mat32.Box3) mat32.Box3 {
	if b.IsEmpty() {
		return mat32.NewEmptyBox3()
	}
	return b.MulMat4(&m)
}

// The file basis maps to the internal one by (x, y, z) -> (x, -z, -y). As a matrix this is a
// signed permutation, so converting by index swaps and negations is exact and self-inverse.
var (
	basisPerm = [3]int{0, 2, 1}
	basisSign = [3]float32{1, -1, -1}
)

func convertVec(v [3]float32) [3]float32 {
	var out [3]float32
	for i := 0; i < 3; i++ {
		out[i] = basisSign[i] * v[basisPerm[i]]
	}
	return out
}

// convertRot maps a row-major 3x3 rotation between bases: out = B·R·B.
func convertRot(r [9]float32) [9]float32 {
	var out [9]float32
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out[i*3+j] = basisSign[i] * basisSign[j] * r[basisPerm[i]*3+basisPerm[j]]
		}
	}
	return out
}

// placementToInternal converts the 12 numbers of a placement line (x y z a b c d e f g h i)
// into an internal transform.
func placementToInternal(v [12]float32) mat32.Mat4 {
	t := convertVec([3]float32{v[0], v[1], v[2]})
	var r [9]float32
	copy(r[:], v[3:12])
	r = convertRot(r)
	m := Identity()
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[col*4+row] = r[row*3+col]
		}
	}
	m[12], m[13], m[14] = t[0], t[1], t[2]
	return m
}

// internalToPlacement is the inverse of placementToInternal.
func internalToPlacement(m mat32.Mat4) [12]float32 {
	var r [9]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			r[row*3+col] = m[col*4+row]
		}
	}
	r = convertRot(r)
	t := convertVec([3]float32{m[12], m[13], m[14]})
	var v [12]float32
	copy(v[0:3], t[:])
	copy(v[3:12], r[:])
	return v
}

func vecToInternal(x, y, z float32) mat32.Vec3 {
	c := convertVec([3]float32{x, y, z})
	return mat32.Vec3{X: c[0], Y: c[1], Z: c[2]}
}

func vecToFile(v mat32.Vec3) [3]float32 {
	return convertVec([3]float32{v.X, v.Y, v.Z})
}
