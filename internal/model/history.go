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
	"log/slog"

	"brickcad/internal/undo"
)

// SaveCheckpoint records the whole document as the new current state and clears the redo stack.
// An empty description records the state without announcing an undoable action.
func (m *Model) SaveCheckpoint(description string) {
	m.history.Push(description, m.Serialize())
	if description != "" {
		m.observer.OnHistoryChanged(m.history.UndoDescription(), m.history.RedoDescription())
	}
	m.notifyModified()
}

// Undo restores the state before the latest action. It reports false when there is nothing to undo.
func (m *Model) Undo() bool {
	cp, ok := m.history.Undo()
	if !ok {
		return false
	}
	m.log.Debug("undo", slog.Uint64("checkpoint", cp.ID))
	m.restore(cp)
	return true
}

// Redo reapplies the latest undone action. It reports false when the redo stack is empty.
func (m *Model) Redo() bool {
	cp, ok := m.history.Redo()
	if !ok {
		return false
	}
	m.log.Debug("redo", slog.Uint64("checkpoint", cp.ID))
	m.restore(cp)
	return true
}

// restore reloads the document from cp while keeping the current step and the view bindings.
// A checkpoint that does not reload completely is a broken invariant and panics.
func (m *Model) restore(cp undo.Checkpoint) {
	step := m.currentStep
	views := m.viewCameras

	if n := m.parse(cp.Text); n != len(cp.Text) {
		m.log.Error("checkpoint reload failed", slog.Uint64("checkpoint", cp.ID),
			slog.Int("consumed", n), slog.Int("size", len(cp.Text)))
		panic(fmt.Errorf("%w: checkpoint %d consumed %d of %d bytes", ErrCheckpointCorrupt, cp.ID, n, len(cp.Text)))
	}
	m.lib.WaitForAllLoads()
	m.lib.Sweep()

	m.viewCameras = make(map[string]string, len(views))
	for view, cam := range views {
		if m.CameraByName(cam) != nil {
			m.viewCameras[view] = cam
		}
	}
	m.currentStep = step
	m.CalculateStep(step)
	m.observer.OnHistoryChanged(m.history.UndoDescription(), m.history.RedoDescription())
	m.observer.OnTimelineChanged(m.currentStep)
	m.observer.OnSelectionChanged()
	m.notifyModified()
}

func (m *Model) CanUndo() bool { return m.history.CanUndo() }

func (m *Model) CanRedo() bool { return m.history.CanRedo() }

func (m *Model) UndoDescription() string { return m.history.UndoDescription() }

func (m *Model) RedoDescription() string { return m.history.RedoDescription() }

// IsModified reports whether the current state differs from the last saved checkpoint.
func (m *Model) IsModified() bool {
	front, ok := m.history.Front()
	return !ok || front.ID != m.savedID
}

// MarkSaved records the current checkpoint as the saved state.
func (m *Model) MarkSaved() {
	if front, ok := m.history.Front(); ok {
		m.savedID = front.ID
	}
	m.notifyModified()
}

func (m *Model) notifyModified() {
	if mod := m.IsModified(); mod != m.modified {
		m.modified = mod
		m.observer.OnModifiedStateChanged(mod)
	}
}

// BindViewCamera shows the named camera in view. An empty camera name removes the binding.
func (m *Model) BindViewCamera(view, camera string) {
	if camera == "" {
		delete(m.viewCameras, view)
		return
	}
	m.viewCameras[view] = camera
}

// ViewCamera returns the camera bound to view, or nil.
func (m *Model) ViewCamera(view string) *Camera {
	name, ok := m.viewCameras[view]
	if !ok {
		return nil
	}
	return m.CameraByName(name)
}

// CameraByName returns the first camera with the given name, or nil.
func (m *Model) CameraByName(name string) *Camera {
	for _, c := range m.cameras {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// Load replaces the document with the first document in data and returns the number of bytes
// consumed. History restarts with the loaded state as the saved checkpoint and the timeline is
// positioned at the last step.
func (m *Model) Load(data []byte) int {
	n := m.parse(data)
	m.lib.WaitForAllLoads()
	m.viewCameras = make(map[string]string)
	m.history.Reset()
	m.savedID = m.history.Push("", m.Serialize()).ID
	m.notifyModified()
	m.currentStep = m.LastStep()
	m.CalculateStep(m.currentStep)
	m.observer.OnHistoryChanged("", "")
	m.observer.OnTimelineChanged(m.currentStep)
	m.log.Info("document loaded", slog.String("name", m.props.Name),
		slog.Int("pieces", len(m.pieces)), slog.Int("bytes", n))
	return n
}

// HistoryStats returns the size of the text held by the history and the depth of both stacks.
func (m *Model) HistoryStats() (bytes, undoDepth, redoDepth int) {
	return m.history.Stats()
}
