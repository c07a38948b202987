/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package undo keeps the document history as two stacks of full-document checkpoints.
// The most recent undo checkpoint always represents the current document state.
package undo

import (
	"sync"
	"time"
)

// Checkpoint is one complete serialized document plus the label of the action that produced it.
// ID is unique per Manager and identifies the checkpoint for saved-state tracking.
type Checkpoint struct {
	ID          uint64
	Description string
	Text        []byte
	TS          time.Time
}

// Config controls depth and memory caps.
type Config struct {
	// MaxDepth limits the number of undo checkpoints (0 means unlimited).
	MaxDepth int
	// MaxBytes is a soft cap on the text held by both stacks; oldest undo entries are pruned first.
	MaxBytes int
}

// Manager holds the undo and redo stacks. The last element of each slice is its front.
// It is safe for concurrent use.
type Manager struct {
	cfg    Config
	mu     sync.Mutex
	undo   []Checkpoint
	redo   []Checkpoint
	bytes  int
	nextID uint64
}

func NewManager(cfg Config) *Manager {
	if cfg.MaxBytes < 0 {
		cfg.MaxBytes = 0
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	return &Manager{cfg: cfg}
}

// Push records a new current state and clears the redo stack.
func (m *Manager) Push(description string, text []byte) Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	c := Checkpoint{ID: m.nextID, Description: description, Text: text, TS: time.Now()}
	m.undo = append(m.undo, c)
	m.bytes += len(text)
	for _, r := range m.redo {
		m.bytes -= len(r.Text)
	}
	m.redo = nil
	m.enforceCapsLocked()
	return c
}

// Undo moves the current checkpoint to the redo stack and returns the one now exposed.
// It reports false when fewer than two checkpoints exist.
func (m *Manager) Undo() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.undo)
	if n < 2 {
		return Checkpoint{}, false
	}
	top := m.undo[n-1]
	m.undo = m.undo[:n-1]
	m.redo = append(m.redo, top)
	return m.undo[n-2], true
}

// Redo moves the front of the redo stack back onto the undo stack and returns it.
func (m *Manager) Redo() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.redo)
	if n == 0 {
		return Checkpoint{}, false
	}
	c := m.redo[n-1]
	m.redo = m.redo[:n-1]
	m.undo = append(m.undo, c)
	m.enforceCapsLocked()
	return c, true
}

// Front returns the checkpoint representing the current state.
func (m *Manager) Front() (Checkpoint, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return Checkpoint{}, false
	}
	return m.undo[len(m.undo)-1], true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) >= 2
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// UndoDescription is the label of the action an Undo would revert, or "".
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) < 2 {
		return ""
	}
	return m.undo[len(m.undo)-1].Description
}

// RedoDescription is the label of the action a Redo would reapply, or "".
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return ""
	}
	return m.redo[len(m.redo)-1].Description
}

// Reset drops both stacks.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo, m.redo, m.bytes = nil, nil, 0
}

// Stats returns current sizes for diagnostics.
func (m *Manager) Stats() (totalBytes, undoDepth, redoDepth int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bytes, len(m.undo), len(m.redo)
}

// enforceCapsLocked prunes the oldest undo checkpoints. The front is never pruned.
func (m *Manager) enforceCapsLocked() {
	drop := 0
	if m.cfg.MaxDepth > 0 && len(m.undo) > m.cfg.MaxDepth {
		drop = len(m.undo) - m.cfg.MaxDepth
	}
	for i := 0; i < drop; i++ {
		m.bytes -= len(m.undo[i].Text)
	}
	for m.cfg.MaxBytes > 0 && m.bytes > m.cfg.MaxBytes && drop < len(m.undo)-1 {
		m.bytes -= len(m.undo[drop].Text)
		drop++
	}
	if drop > 0 {
		m.undo = append([]Checkpoint(nil), m.undo[drop:]...)
	}
}
