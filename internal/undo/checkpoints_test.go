/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package undo

import (
	"strings"
	"testing"
)

func TestUndoRedoRestoresFront(t *testing.T) {
	m := NewManager(Config{})
	m.Push("", []byte("empty"))
	m.Push("add A", []byte("A"))
	m.Push("add B", []byte("AB"))

	if got := m.UndoDescription(); got != "add B" {
		t.Fatalf("undo description = %q", got)
	}
	c, ok := m.Undo()
	if !ok || string(c.Text) != "A" {
		t.Fatalf("undo expected A, got ok=%v text=%q", ok, c.Text)
	}
	c, ok = m.Undo()
	if !ok || string(c.Text) != "empty" {
		t.Fatalf("undo expected empty, got ok=%v text=%q", ok, c.Text)
	}
	if _, ok := m.Undo(); ok {
		t.Fatalf("undo with a single checkpoint must fail")
	}
	if got := m.RedoDescription(); got != "add A" {
		t.Fatalf("redo description = %q", got)
	}
	c, _ = m.Redo()
	c2, _ := m.Redo()
	if string(c.Text) != "A" || string(c2.Text) != "AB" {
		t.Fatalf("redo order wrong: %q then %q", c.Text, c2.Text)
	}
	if m.CanRedo() {
		t.Fatalf("redo stack should be empty")
	}
}

func TestPushClearsRedo(t *testing.T) {
	m := NewManager(Config{})
	m.Push("", []byte("0"))
	m.Push("a", []byte("1"))
	m.Undo()
	if !m.CanRedo() {
		t.Fatalf("expected redo after undo")
	}
	m.Push("b", []byte("2"))
	if m.CanRedo() {
		t.Fatalf("push must clear redo")
	}
	if _, ok := m.Redo(); ok {
		t.Fatalf("redo must be a no-op")
	}
	tb, u, r := m.Stats()
	if tb != 2 || u != 2 || r != 0 {
		t.Fatalf("stats = %d %d %d", tb, u, r)
	}
}

func TestCapsNeverDropFront(t *testing.T) {
	m := NewManager(Config{MaxDepth: 3})
	for i := 0; i < 10; i++ {
		m.Push("step", []byte(strings.Repeat("x", i+1)))
	}
	_, depth, _ := m.Stats()
	if depth != 3 {
		t.Fatalf("depth cap: got %d", depth)
	}
	front, _ := m.Front()
	if len(front.Text) != 10 {
		t.Fatalf("front pruned: %q", front.Text)
	}

	m = NewManager(Config{MaxBytes: 4})
	m.Push("a", []byte("aaa"))
	m.Push("b", []byte("bbbbbbbb"))
	tb, depth, _ := m.Stats()
	if depth != 1 || tb != 8 {
		t.Fatalf("byte cap: depth=%d bytes=%d", depth, tb)
	}
}

func TestCheckpointIDsAreUnique(t *testing.T) {
	m := NewManager(Config{})
	a := m.Push("", []byte("x"))
	b := m.Push("", []byte("x"))
	if a.ID == b.ID {
		t.Fatalf("ids must differ")
	}
	m.Reset()
	if _, ok := m.Front(); ok {
		t.Fatalf("reset should empty the stack")
	}
}
